// Package health exposes the readiness probe for the ingest and worker
// processes: both are only useful when their database pool and broker
// connection are alive, so the probe checks both.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is the slice of *pgxpool.Pool the probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerConn is the slice of *amqp091.Connection the probe needs.
type BrokerConn interface {
	IsClosed() bool
}

// Status is the JSON body of a probe response.
type Status struct {
	OK       bool   `json:"ok"`
	Database string `json:"database"`
	Broker   string `json:"broker"`
}

const (
	stateUp      = "up"
	stateDown    = "down"
	stateSkipped = "skipped"
)

// Handler returns the /healthz handler. Either dependency may be nil (a
// process that doesn't hold it), in which case it is reported as skipped and
// does not affect readiness. A down dependency yields 503.
func Handler(db Pinger, mq BrokerConn) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Database: stateSkipped, Broker: stateSkipped}

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			err := db.Ping(ctx)
			cancel()
			if err != nil {
				st.OK = false
				st.Database = stateDown
			} else {
				st.Database = stateUp
			}
		}

		if mq != nil {
			if mq.IsClosed() {
				st.OK = false
				st.Broker = stateDown
			} else {
				st.Broker = stateUp
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
