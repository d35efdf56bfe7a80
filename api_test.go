package main

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testServer(t *testing.T, cfg Config, pipeline *Pipeline, store *Store) *server {
	t.Helper()
	if pipeline == nil {
		pipeline = testPipeline(store, nil, nil)
	}
	return newServer(cfg, pipeline, store)
}

func TestHealthz(t *testing.T) {
	srv := testServer(t, defaultConfig(), nil, nil)
	w := httptest.NewRecorder()
	srv.router().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestRootServiceCard(t *testing.T) {
	srv := testServer(t, defaultConfig(), nil, nil)
	w := httptest.NewRecorder()
	srv.router().ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Name     string          `json:"name"`
		Version  string          `json:"version"`
		Features map[string]bool `json:"features"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Name != "subfind" || body.Version != version {
		t.Errorf("card = %+v", body)
	}
	if body.Features["history_enabled"] {
		t.Error("history must report disabled without a store")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := defaultConfig()
	cfg.RateLimitRequests = 2
	srv := testServer(t, cfg, nil, nil)
	router := srv.router()

	get := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/api/recent", nil)
		r.RemoteAddr = "192.0.2.1:1000"
		router.ServeHTTP(w, r)
		return w
	}

	first := get()
	if first.Code != http.StatusOK {
		t.Fatalf("first request = %d", first.Code)
	}
	if first.Header().Get("X-RateLimit-Remaining") != "1" {
		t.Errorf("remaining header = %q", first.Header().Get("X-RateLimit-Remaining"))
	}
	if first.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("reset header missing")
	}

	if second := get(); second.Code != http.StatusOK {
		t.Fatalf("second request = %d", second.Code)
	}

	third := get()
	if third.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", third.Code)
	}
	if third.Header().Get("Retry-After") == "" {
		t.Error("429 must carry Retry-After")
	}
}

func TestRateLimitExemptsHealthz(t *testing.T) {
	cfg := defaultConfig()
	cfg.RateLimitRequests = 1
	srv := testServer(t, cfg, nil, nil)
	router := srv.router()

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/healthz", nil)
		r.RemoteAddr = "192.0.2.1:1000"
		router.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("healthz request %d = %d", i+1, w.Code)
		}
	}
}

func TestSearchRejectsInvalidDomain(t *testing.T) {
	srv := testServer(t, defaultConfig(), nil, nil)
	for _, domain := range []string{"", "localhost", "bad domain"} {
		w := httptest.NewRecorder()
		srv.router().ServeHTTP(w, httptest.NewRequest("GET", "/api/search?domain="+strings.ReplaceAll(domain, " ", "%20"), nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("domain %q = %d, want 400", domain, w.Code)
		}
	}
}

func TestSearchStreamsEvents(t *testing.T) {
	pipeline := testPipeline(nil,
		[]string{"a.example.com"},
		[]resolvedRecord{{name: "a.example.com", ips: []string{"1.2.3.4"}}})
	srv := testServer(t, defaultConfig(), pipeline, nil)

	w := httptest.NewRecorder()
	srv.router().ServeHTTP(w, httptest.NewRequest("GET", "/api/search?domain=example.com", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}

	var events []Event
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		events = append(events, event)
	}
	if got := stages(events); !strings.HasPrefix(strings.Join(got, ","), "started,crt_sh_found,resolving") {
		t.Errorf("stages = %v", got)
	}
	if last := events[len(events)-1]; last.Stage != "done" {
		t.Errorf("terminal stage = %q", last.Stage)
	}
	if names := entryNames(events); len(names) != 1 || names[0] != "a.example.com" {
		t.Errorf("streamed entries = %v", names)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	store, err := openStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	seedSnapshot(t, store, "example.com", []Entry{{Name: "a.example.com"}})

	srv := testServer(t, defaultConfig(), nil, store)
	w := httptest.NewRecorder()
	srv.router().ServeHTTP(w, httptest.NewRequest("GET", "/api/history?domain=example.com", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Domain  string       `json:"domain"`
		Total   int          `json:"total"`
		Results []Entry      `json:"results"`
		Runs    []runSummary `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Domain != "example.com" || body.Total != 1 || len(body.Results) != 1 || len(body.Runs) != 1 {
		t.Errorf("history = %+v", body)
	}
}

func TestRecentEndpointValidatesLimit(t *testing.T) {
	srv := testServer(t, defaultConfig(), nil, nil)
	router := srv.router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/recent?limit=0", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("limit=0 = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/recent?limit=nope", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("limit=nope = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/recent", nil))
	if w.Code != http.StatusOK {
		t.Errorf("default limit = %d", w.Code)
	}
}

func TestCeilSeconds(t *testing.T) {
	if got := ceilSeconds(1500 * time.Millisecond); got != 2 {
		t.Errorf("ceilSeconds(1.5s) = %d", got)
	}
	if got := ceilSeconds(0); got != 0 {
		t.Errorf("ceilSeconds(0) = %d", got)
	}
	if got := ceilSeconds(time.Minute); got != 60 {
		t.Errorf("ceilSeconds(1m) = %d", got)
	}
}
