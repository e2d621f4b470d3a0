package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goodtune/timekeeper/internal/accounting"
	"github.com/goodtune/timekeeper/internal/admin/api"
	"github.com/goodtune/timekeeper/internal/clock"
	"github.com/goodtune/timekeeper/internal/monitor"
	"github.com/goodtune/timekeeper/internal/status"
	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/goodtune/timekeeper/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type fakeMonitors map[string]monitor.IdleStatus

func (f fakeMonitors) IdleStatus(_ context.Context, accountID, sessionID string) monitor.IdleStatus {
	return f[accountID+"/"+sessionID]
}

type testServer struct {
	handler http.Handler
	engine  *accounting.Engine
	store   storage.Store
	clock   *clock.TestClock
}

func newTestServer(t *testing.T, monitors api.IdleStatusProvider) *testServer {
	t.Helper()
	store, err := sqlite.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clk := clock.NewTestClock(t0)
	engine := accounting.NewEngine(store, clk, zerolog.Nop())
	agg := status.NewAggregator(store, engine, clk, zerolog.Nop(), status.Options{})

	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"}, Dependencies{
		Engine:     engine,
		Accounts:   store.Accounts(),
		Aggregator: agg,
		Monitors:   monitors,
	}, zerolog.Nop())

	if err := store.Accounts().Upsert(context.Background(), storage.Account{ID: "acct-1", Username: "alice", Active: true}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return &testServer{handler: srv.Handler(), engine: engine, store: store, clock: clk}
}

func (s *testServer) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s %s: decode body %q: %v", method, path, rec.Body.String(), err)
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec, body := s.do(t, "GET", "/health")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health response: %d %v", rec.Code, body)
	}
}

func TestActiveSessions(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	if _, err := s.engine.StartSession(ctx, "acct-1", t0, "dev"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	s.clock.Advance(90 * time.Minute)

	rec, body := s.do(t, "GET", "/api/sessions/active")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["count"].(float64) != 1 {
		t.Fatalf("expected 1 session, got %v", body["count"])
	}
	session := body["sessions"].([]interface{})[0].(map[string]interface{})
	if session["username"] != "alice" || session["work_minutes"].(float64) != 90 {
		t.Fatalf("unexpected session: %v", session)
	}
}

func TestListSessionsRange(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, "GET", "/api/sessions?from=2024-03-05&to=2024-03-01")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%v)", rec.Code, body)
	}

	if _, err := s.engine.StartSession(context.Background(), "acct-1", t0, "dev"); err != nil {
		t.Fatalf("start session: %v", err)
	}

	rec, body = s.do(t, "GET", "/api/sessions?from=2024-03-04&to=2024-03-04")
	if rec.Code != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("unexpected response: %d %v", rec.Code, body)
	}

	_, body = s.do(t, "GET", "/api/sessions?from=2024-03-01&to=2024-03-03")
	if body["count"].(float64) != 0 {
		t.Fatalf("expected no sessions outside the range, got %v", body["count"])
	}
}

func TestGetAndCloseSession(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	rec, _ := s.do(t, "GET", "/api/sessions/missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec, _ = s.do(t, "POST", "/api/sessions/missing/close")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 closing a missing session, got %d", rec.Code)
	}

	id, err := s.engine.StartSession(ctx, "acct-1", t0, "dev")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	s.clock.Advance(2 * time.Hour)

	rec, body := s.do(t, "GET", "/api/sessions/"+id)
	if rec.Code != http.StatusOK || body["total_minutes"].(float64) != 120 {
		t.Fatalf("unexpected summary: %d %v", rec.Code, body)
	}

	rec, body = s.do(t, "POST", "/api/sessions/"+id+"/close")
	if rec.Code != http.StatusOK || body["work_minutes"].(float64) != 120 {
		t.Fatalf("unexpected close response: %d %v", rec.Code, body)
	}

	session, err := s.store.Sessions().Get(ctx, id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.Open() || session.TotalWorkMinutes != 120 {
		t.Fatalf("expected closed session with 120 minutes, got %+v", session)
	}

	rec, _ = s.do(t, "POST", "/api/sessions/"+id+"/close")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 closing twice, got %d", rec.Code)
	}
}

func TestMonitorStatus(t *testing.T) {
	s := newTestServer(t, nil)
	rec, _ := s.do(t, "GET", "/api/monitors/acct-1/session-1")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without detectors, got %d", rec.Code)
	}

	s = newTestServer(t, fakeMonitors{
		"acct-1/session-1": {IsIdle: true, TotalIdleMinutes: 12, CurrentIdleSeconds: 400},
	})
	rec, body := s.do(t, "GET", "/api/monitors/acct-1/session-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["is_idle"] != true || body["total_idle_minutes"].(float64) != 12 {
		t.Fatalf("unexpected status: %v", body)
	}
}

func TestListAccountsHidesPasswordHash(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, "GET", "/api/accounts")
	if rec.Code != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("unexpected response: %d %v", rec.Code, body)
	}
	account := body["accounts"].([]interface{})[0].(map[string]interface{})
	if account["username"] != "alice" {
		t.Fatalf("unexpected account: %v", account)
	}
	if _, ok := account["password_hash"]; ok {
		t.Fatalf("password hash exposed: %v", account)
	}
}

func TestAccountUpdateRefreshesUsername(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	if _, err := s.engine.StartSession(ctx, "acct-1", t0, "dev"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	_, body := s.do(t, "GET", "/api/sessions/active")
	if name := body["sessions"].([]interface{})[0].(map[string]interface{})["username"]; name != "alice" {
		t.Fatalf("expected alice, got %v", name)
	}

	if err := s.store.Accounts().Upsert(ctx, storage.Account{ID: "acct-1", Username: "alicia", Active: true}); err != nil {
		t.Fatalf("rename account: %v", err)
	}
	rec, body := s.do(t, "POST", "/api/accounts/acct-1/disable")
	if rec.Code != http.StatusOK || body["active"] != false {
		t.Fatalf("unexpected disable response: %d %v", rec.Code, body)
	}

	_, body = s.do(t, "GET", "/api/sessions/active")
	if name := body["sessions"].([]interface{})[0].(map[string]interface{})["username"]; name != "alicia" {
		t.Fatalf("expected cached username dropped, got %v", name)
	}

	account, err := s.store.Accounts().Get(ctx, "acct-1")
	if err != nil || account.Active {
		t.Fatalf("expected disabled account, got %+v, %v", account, err)
	}

	rec, _ = s.do(t, "POST", "/api/accounts/missing/enable")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteAccount(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	id, err := s.engine.StartSession(ctx, "acct-1", t0, "dev")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := s.engine.AppendEvent(ctx, storage.Event{SessionID: id, Type: storage.EventSleep, Time: t0}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	s.do(t, "GET", "/api/sessions/active")

	rec, body := s.do(t, "DELETE", "/api/accounts/acct-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected delete response: %d %v", rec.Code, body)
	}

	_, body = s.do(t, "GET", "/api/sessions/active")
	if body["count"].(float64) != 0 {
		t.Fatalf("expected no active sessions after delete, got %v", body)
	}
	events, err := s.store.Events().Query(ctx, id)
	if err != nil || len(events) != 0 {
		t.Fatalf("expected session events purged, got %v, %v", events, err)
	}

	rec, _ = s.do(t, "DELETE", "/api/accounts/acct-1")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting twice, got %d", rec.Code)
	}
}
