package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cvieirasp/webhookhub/internal/logging"
	"github.com/cvieirasp/webhookhub/internal/metrics"
	"github.com/cvieirasp/webhookhub/internal/tracing"
)

// errorBody is the structured JSON error response sent with every non-2xx
// ingest response.
type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
}

// Handler returns the net/http handler for
// POST /ingest/{sourceName}?type={eventType}.
func Handler(svc *Service, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		sourceName := strings.TrimPrefix(r.URL.Path, "/ingest/")
		sourceName = strings.Trim(sourceName, "/")
		if sourceName == "" {
			writeError(w, http.StatusNotFound, "missing sourceName")
			return
		}

		eventType := r.URL.Query().Get("type")

		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "could not read body")
			return
		}
		defer r.Body.Close()

		ctx, span := tracing.StartSpan(r.Context(), "ingest",
			attribute.String("source.name", sourceName),
			attribute.String("event.type", eventType),
		)
		defer span.End()

		outcome, err := svc.Ingest(ctx, Input{
			SourceName:        sourceName,
			EventType:         eventType,
			RawBody:           body,
			ProvidedSignature: r.Header.Get("X-Signature"),
			CorrelationID:     correlationID,
			IdempotencyHeader: r.Header.Get("X-Idempotency-Key"),
		})
		if err != nil {
			tracing.SetSpanError(ctx, err)
			var ierr *Error
			if errors.As(err, &ierr) {
				status := http.StatusInternalServerError
				switch ierr.Kind {
				case KindBadRequest:
					status = http.StatusBadRequest
				case KindUnauthorized:
					status = http.StatusUnauthorized
				case KindNotFound:
					status = http.StatusNotFound
				case KindInternal:
					status = http.StatusInternalServerError
				}
				if status == http.StatusInternalServerError {
					logger.WithContext(ctx).WithField("source_name", sourceName).WithError(err).Error("ingest failed")
				}
				writeError(w, status, ierr.Message)
				return
			}
			logger.WithContext(ctx).WithError(err).Error("ingest failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if outcome.Duplicate {
			logger.WithContext(ctx).WithField("source_name", sourceName).
				WithField("event_id", outcome.EventID).Info("DUPLICATE")
			metrics.RecordEventDuplicate(sourceName)
			w.WriteHeader(http.StatusAccepted)
			return
		}

		logger.WithContext(ctx).WithField("source_name", sourceName).
			WithField("event_id", outcome.EventID).
			WithField("delivery_count", outcome.DeliveryCount).Info("ingested")
		metrics.RecordEventPublished(sourceName)
		w.WriteHeader(http.StatusAccepted)
	}
}
