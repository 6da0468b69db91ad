// Package api is the admin HTTP surface: source/destination/rule CRUD plus
// the read-only event and delivery queries operators use to trace a webhook
// through the relay.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cvieirasp/webhookhub/internal/store"
)

// Store is the slice of the persistence layer the admin surface depends on,
// narrowed to an interface so handlers can be exercised against a fake in
// tests.
type Store interface {
	CreateSource(ctx context.Context, name string) (*store.Source, error)
	CreateDestination(ctx context.Context, name, targetURL string, rules []store.DestinationRule) (*store.Destination, error)
	AddDestinationRule(ctx context.Context, destinationID, sourceName, eventType string) error
	ListDeliveries(ctx context.Context, eventID string, limit int) ([]store.Delivery, error)
	GetEvent(ctx context.Context, eventID string) (*store.Event, error)
}

// Server exposes the admin HTTP surface backed directly by the store.
type Server struct {
	Store Store
}

// New builds an admin Server.
func New(st Store) *Server {
	return &Server{Store: st}
}

// Guard wraps handler with authMW when non-nil; with no admin auth key
// configured (local/dev), the surface is served unauthenticated.
func Guard(authMW func(http.Handler) http.Handler, handler http.Handler) http.Handler {
	if authMW == nil {
		return handler
	}
	return authMW(handler)
}

// Handler routes the admin surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/sources", s.handleSources)
	mux.HandleFunc("/admin/destinations", s.handleDestinations)
	mux.HandleFunc("/admin/destinations/", s.handleDestinationRules)
	mux.HandleFunc("/admin/deliveries", s.handleDeliveries)
	mux.HandleFunc("/admin/events/", s.handleEvent)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type createSourceRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || len(req.Name) > 100 {
		writeErr(w, http.StatusBadRequest, "name must be non-empty and at most 100 chars")
		return
	}
	src, err := s.Store.CreateSource(r.Context(), req.Name)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	// The HMAC secret is exposed exactly once, here, at creation.
	writeJSON(w, http.StatusCreated, src)
}

type ruleInput struct {
	SourceName string `json:"sourceName"`
	EventType  string `json:"eventType"`
}

type createDestinationRequest struct {
	Name      string      `json:"name"`
	TargetURL string      `json:"targetUrl"`
	Rules     []ruleInput `json:"rules"`
}

func (s *Server) handleDestinations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req createDestinationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || len(req.Name) > 100 {
		writeErr(w, http.StatusBadRequest, "name must be non-empty and at most 100 chars")
		return
	}
	if !strings.HasPrefix(req.TargetURL, "http://") && !strings.HasPrefix(req.TargetURL, "https://") {
		writeErr(w, http.StatusBadRequest, "targetUrl must be http or https")
		return
	}
	if len(req.Rules) == 0 {
		writeErr(w, http.StatusBadRequest, "at least one rule is required")
		return
	}
	rules := make([]store.DestinationRule, 0, len(req.Rules))
	for _, ru := range req.Rules {
		rules = append(rules, store.DestinationRule{SourceName: ru.SourceName, EventType: ru.EventType})
	}
	dst, err := s.Store.CreateDestination(r.Context(), req.Name, req.TargetURL, rules)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, dst)
}

// handleDestinationRules handles POST /admin/destinations/{id}/rules.
func (s *Server) handleDestinationRules(w http.ResponseWriter, r *http.Request) {
	const suffix = "/rules"
	path := strings.TrimPrefix(r.URL.Path, "/admin/destinations/")
	if !strings.HasSuffix(path, suffix) || r.Method != http.MethodPost {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}
	destinationID := strings.TrimSuffix(path, suffix)
	if destinationID == "" {
		writeErr(w, http.StatusBadRequest, "missing destination id")
		return
	}
	var req ruleInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.Store.AddDestinationRule(r.Context(), destinationID, req.SourceName, req.EventType); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// handleEvent serves GET /admin/events/{id}.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	eventID := strings.TrimPrefix(r.URL.Path, "/admin/events/")
	if eventID == "" || strings.Contains(eventID, "/") {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}
	ev, err := s.Store.GetEvent(r.Context(), eventID)
	if err != nil {
		if err == store.ErrNotFound {
			writeErr(w, http.StatusNotFound, "no such event")
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleDeliveries is the read-only delivery listing/query surface.
func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	eventID := r.URL.Query().Get("eventId")
	deliveries, err := s.Store.ListDeliveries(r.Context(), eventID, 100)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, deliveries)
}
