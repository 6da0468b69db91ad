// Command fake-receiver is a destination test fixture: it accepts a POST
// body, optionally verifies it against the same X-Signature convention the
// ingest side uses, and can be told to fail the first N requests or force a specific
// status code — useful for exercising the worker's retry/backoff/DLQ paths
// end to end without a real destination.
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/cvieirasp/webhookhub/internal/config"
	"github.com/cvieirasp/webhookhub/internal/verify"
)

var reqCount atomic.Int64

func main() {
	cfg := config.FromEnv().FakeReceiver
	secret := os.Getenv("SOURCE_HMAC_SECRET")

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", handleHook(cfg, secret))

	server := &http.Server{
		Addr:         cfg.Port,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	log.Printf("fake-receiver listening on %s", cfg.Port)
	log.Fatal(server.ListenAndServe())
}

func handleHook(cfg config.FakeReceiver, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := reqCount.Add(1)
		body, _ := io.ReadAll(r.Body)
		defer r.Body.Close()

		if secret != "" {
			if !verify.Verify(secret, body, r.Header.Get("X-Signature")) {
				log.Printf("fake-receiver rejected: bad signature")
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
		}

		if cfg.ResponseDelayMS > 0 {
			time.Sleep(time.Duration(cfg.ResponseDelayMS) * time.Millisecond)
		}

		if n <= int64(cfg.FailFirstN) {
			log.Printf("FAILING (%d/%d) body=%s", n, cfg.FailFirstN, truncate(string(body), 160))
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}

		if cfg.StatusOverride > 0 {
			log.Printf("OVERRIDE status=%d body=%s", cfg.StatusOverride, truncate(string(body), 160))
			w.WriteHeader(cfg.StatusOverride)
			return
		}

		log.Printf("fake-receiver OK body=%s", truncate(string(body), 160))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`ok`))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
