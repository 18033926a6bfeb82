package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lightspeed/internal/config"
	"lightspeed/internal/db"
	"lightspeed/internal/engine"
	"lightspeed/internal/migrate"
	lightspeedsdk "lightspeed/sdk/go"
)

type testServer struct {
	URL    string
	Engine *engine.Engine
	close  func()
}

func (s *testServer) Close() { s.close() }

func (s *testServer) client(t *testing.T) *lightspeedsdk.Client {
	t.Helper()
	c := lightspeedsdk.New(s.URL)
	if _, err := c.DevLogin(context.Background(), "pilot"); err != nil {
		t.Fatalf("dev login: %v", err)
	}
	return c
}

func newTestServer(t *testing.T, mutate func(*Config)) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	if _, err := e.NewGame(context.Background(), "test"); err != nil {
		t.Fatalf("new game: %v", err)
	}
	cfg := Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: "test-secret"},
		DevLogin: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	handler, err := New(cfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		close: func() {
			handler.Close()
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func apiStatus(t *testing.T, err error) (int, string) {
	t.Helper()
	var apiErr *lightspeedsdk.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	return apiErr.StatusCode, apiErr.Code
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	res, body := doJSON(t, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, http.MethodGet, srv.URL+"/v0/state", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, http.MethodGet, srv.URL+"/v0/state", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, body)
	}
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Code != "invalid_credentials" {
		t.Fatalf("unexpected envelope %s", body)
	}

	c := srv.client(t)
	view, err := c.State(context.Background())
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if view.SaveID != srv.Engine.SaveID() || view.State.Rocket.Material != "1000000" {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestOutOfRangeCountIsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := srv.client(t)

	for _, count := range []string{"1e2000000000", "1e-2000000000", "0e2000000000"} {
		if _, err := c.Build(ctx, "combustion", count); err == nil {
			t.Fatalf("expected %s to be rejected", count)
		} else if status, _ := apiStatus(t, err); status != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", count, status)
		}
	}
	out, err := c.Build(ctx, "combustion", "1")
	if err != nil || !out.OK {
		t.Fatalf("engine should still accept intents: %v %+v", err, out)
	}
	view, err := c.State(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if got := view.State.Rocket.Engines["combustion"].Count; got != "11" {
		t.Fatalf("combustion count = %s", got)
	}
}

func TestEconomyAndResearchOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	ctx := context.Background()
	c := srv.client(t)

	out, err := c.Build(ctx, "combustion", "5")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !out.OK || out.Committed != "5" {
		t.Fatalf("build outcome %+v", out)
	}
	view, err := c.SetThrottle(ctx, "combustion", 100)
	if err != nil {
		t.Fatalf("throttle: %v", err)
	}
	if view.State.Rocket.Engines["combustion"].Throttle != 100 || view.State.Rocket.Engines["combustion"].Count != "15" {
		t.Fatalf("engine after intents: %+v", view.State.Rocket.Engines["combustion"])
	}

	if _, err := c.Expand(ctx, "1"); err == nil {
		t.Fatalf("expected collector to be locked")
	} else if status, code := apiStatus(t, err); status != http.StatusForbidden || code != "locked" {
		t.Fatalf("expected 403 locked, got %d %s", status, code)
	}
	if _, err := c.Build(ctx, "combustion", "-1"); err == nil {
		t.Fatalf("expected negative count to be rejected")
	} else if status, _ := apiStatus(t, err); status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if _, err := c.Build(ctx, "warp", "1"); err == nil {
		t.Fatalf("expected unknown engine kind to be rejected")
	} else if status, _ := apiStatus(t, err); status < 400 || status >= 500 {
		t.Fatalf("expected client error, got %d", status)
	}

	if _, err := srv.Engine.Advance(ctx, 2*time.Second); err != nil {
		t.Fatalf("advance: %v", err)
	}
	res, err := c.Research(ctx)
	if err != nil {
		t.Fatalf("research: %v", err)
	}
	if len(res.Items) != 4 {
		t.Fatalf("expected 4 seeded tasks, got %d", len(res.Items))
	}
	res, err = c.ActivateResearch(ctx, "fuelCapture")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if res.Items[0].ID != "fuelCapture" || res.Items[0].Status != "active" {
		t.Fatalf("expected active task first, got %+v", res.Items[0])
	}
	if _, err := c.ActivateResearch(ctx, "nope"); err == nil {
		t.Fatalf("expected unknown task error")
	} else if status, code := apiStatus(t, err); status != http.StatusConflict || code != "invalid_transition" {
		t.Fatalf("expected 409 invalid_transition, got %d %s", status, code)
	}

	saved, err := c.Save(ctx)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Name != "test" {
		t.Fatalf("save info %+v", saved)
	}

	page, err := c.EventsPage(ctx, 2, "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full page with cursor, got %+v", page)
	}
	evts, err := c.Events(ctx, 100)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	seen := map[string]bool{}
	for _, e := range evts {
		seen[e.Type] = true
	}
	for _, want := range []string{"engine.built", "engine.throttle_set", "flight.departed", "research.activated"} {
		if !seen[want] {
			t.Fatalf("missing %s event in %v", want, seen)
		}
	}
}

func TestIntentRateLimit(t *testing.T) {
	srv, cleanup := newTestServer(t, func(cfg *Config) {
		cfg.RateLimit = 0.001
		cfg.RateBurst = 1
	})
	defer cleanup()
	ctx := context.Background()
	c := srv.client(t)
	if _, err := c.Build(ctx, "combustion", "1"); err != nil {
		t.Fatalf("first build: %v", err)
	}
	_, err := c.Build(ctx, "combustion", "1")
	if err == nil {
		t.Fatalf("expected rate limit")
	}
	if status, code := apiStatus(t, err); status != http.StatusTooManyRequests || code != "rate_limited" {
		t.Fatalf("expected 429 rate_limited, got %d %s", status, code)
	}
	if _, err := c.State(ctx); err != nil {
		t.Fatalf("reads are not limited: %v", err)
	}
}

func TestWebsocketStreamsViews(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	c := srv.client(t)

	conn, _, err := websocket.DefaultDialer.Dial(c.StreamURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	read := func() lightspeedsdk.View {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg struct {
			Type    string             `json:"type"`
			Payload lightspeedsdk.View `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != "view" {
			t.Fatalf("unexpected message type %s", msg.Type)
		}
		return msg.Payload
	}
	if v := read(); v.State.Rocket.Engines["combustion"].Throttle != 0 {
		t.Fatalf("initial view throttle = %d", v.State.Rocket.Engines["combustion"].Throttle)
	}
	if _, err := c.SetThrottle(context.Background(), "combustion", 60); err != nil {
		t.Fatalf("throttle: %v", err)
	}
	if v := read(); v.State.Rocket.Engines["combustion"].Throttle != 60 {
		t.Fatalf("pushed view throttle = %d", v.State.Rocket.Engines["combustion"].Throttle)
	}

	res, _ := doJSON(t, http.MethodGet, srv.URL+"/v0/ws", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("ws without token should be rejected, got %d", res.StatusCode)
	}
}
