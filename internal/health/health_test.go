package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/murmur/internal/conversation"
)

type fakeTurns struct {
	records []conversation.TurnRecord
}

func (f *fakeTurns) History() []conversation.TurnRecord { return f.records }

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return v
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if body := decode[result](t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	pass := func(context.Context) error { return nil }
	fail := func(msg string) func(context.Context) error {
		return func(context.Context) error { return errors.New(msg) }
	}

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "workers", Check: pass},
				{Name: "temp_dir", Check: pass},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"workers": "ok", "temp_dir": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "workers", Check: fail("1 of 3 workers running")},
				{Name: "temp_dir", Check: pass},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"workers": "fail: 1 of 3 workers running", "temp_dir": "ok"},
		},
		{
			name: "all fail",
			checkers: []Checker{
				{Name: "workers", Check: fail("no workers registered")},
				{Name: "provider_llm", Check: fail("all backends unavailable")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{
				"workers":      "fail: no workers registered",
				"provider_llm": "fail: all backends unavailable",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := New(WithChecker(tc.checkers...))

			req := httptest.NewRequest("GET", "/readyz", nil)
			rec := httptest.NewRecorder()
			h.Readyz(rec, req)

			if rec.Code != tc.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tc.wantCode)
			}
			body := decode[result](t, rec)
			if body.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(WithChecker(
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestTurns(t *testing.T) {
	t.Parallel()

	src := &fakeTurns{records: []conversation.TurnRecord{
		{Conversation: "c", Turn: 1, Question: "first", Outcome: conversation.OutcomeOK},
		{Conversation: "c", Turn: 2, Question: "second", Outcome: conversation.OutcomeDegraded},
		{Conversation: "c", Turn: 3, Question: "third", Outcome: conversation.OutcomeFailed},
	}}

	tests := []struct {
		query     string
		wantCode  int
		wantTurns []int
	}{
		{query: "", wantCode: http.StatusOK, wantTurns: []int{1, 2, 3}},
		{query: "?limit=2", wantCode: http.StatusOK, wantTurns: []int{2, 3}},
		{query: "?limit=10", wantCode: http.StatusOK, wantTurns: []int{1, 2, 3}},
		{query: "?limit=0", wantCode: http.StatusOK, wantTurns: []int{}},
		{query: "?limit=-1", wantCode: http.StatusBadRequest},
		{query: "?limit=abc", wantCode: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			t.Parallel()
			h := New(WithTurns(src))

			req := httptest.NewRequest("GET", "/turns"+tc.query, nil)
			rec := httptest.NewRecorder()
			h.Turns(rec, req)

			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantCode)
			}
			if tc.wantCode != http.StatusOK {
				return
			}
			got := decode[[]conversation.TurnRecord](t, rec)
			if len(got) != len(tc.wantTurns) {
				t.Fatalf("got %d records, want %d", len(got), len(tc.wantTurns))
			}
			for i, want := range tc.wantTurns {
				if got[i].Turn != want {
					t.Errorf("record %d turn = %d, want %d", i, got[i].Turn, want)
				}
			}
		})
	}
}

func TestTurns_NoSource(t *testing.T) {
	t.Parallel()
	h := New()

	rec := httptest.NewRecorder()
	h.Turns(rec, httptest.NewRequest("GET", "/turns", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "murmur_test_total",
		Help: "test counter",
	}))

	h := New(
		WithChecker(Checker{Name: "test", Check: func(context.Context) error { return nil }}),
		WithTurns(&fakeTurns{}),
		WithGatherer(reg),
	)

	mux := http.NewServeMux()
	h.Register(mux)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/healthz", http.StatusOK, `"status":"ok"`},
		{"/readyz", http.StatusOK, `"test":"ok"`},
		{"/turns", http.StatusOK, "[]"},
		{"/metrics", http.StatusOK, "murmur_test_total"},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest("GET", tc.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tc.wantBody) {
				t.Errorf("body missing %q: %s", tc.wantBody, rec.Body.String())
			}
		})
	}
}

func TestWorkersChecker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		running, total int
		wantErr        bool
	}{
		{"all running", 3, 3, false},
		{"some stopped", 2, 3, true},
		{"none registered", 0, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := WorkersChecker(func() (int, int) { return tc.running, tc.total })
			if err := c.Check(context.Background()); (err != nil) != tc.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestDirWritableChecker(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := DirWritableChecker("temp_dir", dir)
	if c.Name != "temp_dir" {
		t.Errorf("Name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("Check() on writable dir: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("probe file left behind: %v", entries)
	}

	missing := DirWritableChecker("temp_dir", filepath.Join(dir, "missing"))
	if err := missing.Check(context.Background()); err == nil {
		t.Error("Check() on missing dir: expected error")
	}
}

func TestProviderChecker(t *testing.T) {
	t.Parallel()

	up := ProviderChecker("tts", func() bool { return true })
	if up.Name != "provider_tts" {
		t.Errorf("Name = %q, want provider_tts", up.Name)
	}
	if err := up.Check(context.Background()); err != nil {
		t.Errorf("available provider: %v", err)
	}
	down := ProviderChecker("tts", func() bool { return false })
	if err := down.Check(context.Background()); err == nil {
		t.Error("unavailable provider: expected error")
	}
}
