// Package health provides the HTTP surface of a running assistant.
//
// The package exposes four endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//   - /metrics: Prometheus scrape endpoint.
//   - /turns: the most recent conversation turns as JSON.
//
// Probe responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/internal/conversation"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "workers",
	// "temp_dir"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// TurnSource lists recent turns, oldest first.
type TurnSource interface {
	History() []conversation.TurnRecord
}

// result is the JSON response body for probe endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithChecker adds readiness checks.
func WithChecker(c ...Checker) Option {
	return func(h *Handler) { h.checkers = append(h.checkers, c...) }
}

// WithTurns serves the history of src on /turns.
func WithTurns(src TurnSource) Option {
	return func(h *Handler) { h.turns = src }
}

// WithGatherer sets the Prometheus gatherer served on /metrics.
// Default: [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) { h.gatherer = g }
}

// Handler serves the health, metrics and turn endpoints. It is safe for
// concurrent use; its configuration is fixed at construction time.
type Handler struct {
	checkers []Checker
	turns    TurnSource
	gatherer prometheus.Gatherer
}

// New creates a [Handler].
func New(opts ...Option) *Handler {
	h := &Handler{gatherer: prometheus.DefaultGatherer}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Checkers run concurrently, each with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
		eg     errgroup.Group
	)
	for _, c := range h.checkers {
		eg.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = eg.Wait()

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Turns returns the recent turn records as a JSON array, newest last. The
// optional "limit" query parameter keeps only the newest n records.
func (h *Handler) Turns(w http.ResponseWriter, r *http.Request) {
	if h.turns == nil {
		writeJSON(w, http.StatusOK, []conversation.TurnRecord{})
		return
	}
	records := h.turns.History()

	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		if n < len(records) {
			records = records[len(records)-n:]
		}
	}
	if records == nil {
		records = []conversation.TurnRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Register adds every route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /turns", h.Turns)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}

// ---- common checkers ----

// WorkersChecker fails unless every worker reported by running is active.
func WorkersChecker(running func() (running, total int)) Checker {
	return Checker{
		Name: "workers",
		Check: func(context.Context) error {
			n, total := running()
			if total == 0 {
				return errors.New("no workers registered")
			}
			if n < total {
				return fmt.Errorf("%d of %d workers running", n, total)
			}
			return nil
		},
	}
}

// DirWritableChecker fails unless a file can be created in dir.
func DirWritableChecker(name, dir string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			f, err := os.CreateTemp(dir, ".readyz-*")
			if err != nil {
				return err
			}
			f.Close()
			return os.Remove(f.Name())
		},
	}
}

// ProviderChecker fails when available reports that every backend of a
// provider kind has an open circuit breaker.
func ProviderChecker(kind string, available func() bool) Checker {
	return Checker{
		Name: "provider_" + kind,
		Check: func(context.Context) error {
			if !available() {
				return errors.New("all backends unavailable")
			}
			return nil
		},
	}
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
