package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"sync/atomic"
	"time"
)

// A local service for exercising the http health probe and self-healing policies.
// POST /fail and /recover flip what /healthz reports; /degrade makes it answer 429.
func main() {
	addr := flag.String("addr", ":8081", "listen address")
	flag.Parse()

	var state atomic.Int32 // 0 healthy, 1 degraded, 2 failing
	var restarts atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		switch state.Load() {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	mux.HandleFunc("/fail", transition(&state, 2))
	mux.HandleFunc("/degrade", transition(&state, 1))
	mux.HandleFunc("/recover", transition(&state, 0))
	mux.HandleFunc("/restart", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		restarts.Add(1)
		state.Store(0)
		writeJSON(w, map[string]any{"restarts": restarts.Load()})
	})
	mux.HandleFunc("/state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"state": state.Load(), "restarts": restarts.Load()})
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("mock target listening on %s", *addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("mock target failed: %v", err)
	}
}

func transition(state *atomic.Int32, next int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		state.Store(next)
		writeJSON(w, map[string]any{"state": next})
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}
