package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"presshook/internal/config"
)

// receiver mimics the downstream cache-revalidation endpoint for local
// stack testing. FAIL_FIRST_N simulates a flaky target so retry behavior
// can be exercised end to end.
type receiver struct {
	secret       string
	secretHeader string
	failFirstN   int

	mu       sync.Mutex
	reqCount int
}

type revalidateRequest struct {
	Slug   string `json:"slug"`
	Action string `json:"action"`
}

type revalidateResponse struct {
	Revalidated bool   `json:"revalidated"`
	Slug        string `json:"slug"`
	Action      string `json:"action,omitempty"`
}

func (rc *receiver) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	if rc.secret != "" && r.Header.Get(rc.secretHeader) != rc.secret {
		log.Printf("fake-receiver rejected: bad %s header", rc.secretHeader)
		http.Error(w, "invalid revalidation secret", http.StatusUnauthorized)
		return
	}

	var req revalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Slug == "" {
		http.Error(w, "missing slug", http.StatusBadRequest)
		return
	}

	rc.mu.Lock()
	rc.reqCount++
	n := rc.reqCount
	rc.mu.Unlock()

	// Simulate flakiness: first N requests -> 500
	if n <= rc.failFirstN {
		log.Printf("FAILING (%d/%d) slug=%s action=%s", n, rc.failFirstN, req.Slug, req.Action)
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.Printf("fake-receiver OK slug=%s action=%s", req.Slug, req.Action)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(revalidateResponse{Revalidated: true, Slug: req.Slug, Action: req.Action})
}

func main() {
	cfg := config.FromEnv()

	rc := &receiver{
		secret:       cfg.FakeReceiver.Secret,
		secretHeader: cfg.Revalidate.SecretHeader,
		failFirstN:   cfg.FakeReceiver.FailFirstN,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("POST /revalidate", rc.handleRevalidate)

	srv := &http.Server{
		Addr:         cfg.FakeReceiver.Port,
		Handler:      mux,
		ReadTimeout:  cfg.FakeReceiver.ReadTimeout,
		WriteTimeout: cfg.FakeReceiver.WriteTimeout,
		IdleTimeout:  cfg.FakeReceiver.IdleTimeout,
	}
	log.Printf("fake-receiver listening on %s", srv.Addr)
	log.Fatal(srv.ListenAndServe())
}
