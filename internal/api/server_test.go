package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/orchestrator"
	"github.com/nerrad567/gray-logic-access/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type fakeSyncer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSyncer) Sync(context.Context) error {
	f.calls.Add(1)
	return f.err
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "text"}, "test", "door-1")
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Host:      "127.0.0.1",
		Port:      0,
		JWTSecret: testSecret,
		Timeouts: config.APITimeoutConfig{
			Read:  5 * time.Second,
			Write: 5 * time.Second,
			Idle:  5 * time.Second,
		},
		WebSocket: config.WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   time.Second,
			PongTimeout:    time.Second,
		},
	}
}

func testStatus() ControllerStatus {
	return ControllerStatus{
		Door:          "locked",
		Cycle:         "wait_credential",
		Network:       true,
		Session:       false,
		TableEntries:  12,
		EventsQueued:  3,
		EventsDropped: 1,
	}
}

// testServer builds a Server around deps and serves its router.
func testServer(t *testing.T, deps Deps) (*Server, *httptest.Server) {
	t.Helper()

	deps.Config = testAPIConfig()
	deps.Logger = testLogger()
	deps.Version = "test"
	deps.DeviceID = "door-1"
	if deps.Status == nil {
		deps.Status = testStatus
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)
	return srv, ts
}

func signToken(t *testing.T, secret, subject, role string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func request(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

// ─── Construction ───────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	base := Deps{Config: testAPIConfig(), Logger: testLogger(), Status: testStatus}

	tests := []struct {
		name   string
		mutate func(d *Deps)
	}{
		{"no logger", func(d *Deps) { d.Logger = nil }},
		{"no status", func(d *Deps) { d.Status = nil }},
		{"no secret", func(d *Deps) { d.Config.JWTSecret = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.mutate(&d)
			if _, err := New(d); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}

	if _, err := New(base); err != nil {
		t.Errorf("New() error = %v", err)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv, err := New(Deps{Config: testAPIConfig(), Logger: testLogger(), Status: testStatus})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}
	if srv.Addr() != "" {
		t.Errorf("Addr() before Start = %q, want empty", srv.Addr())
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	resp := request(t, http.MethodGet, "http://"+srv.Addr()+"/api/v1/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// ─── Health and auth ────────────────────────────────────────────────

func TestHealth_NoAuth(t *testing.T) {
	_, ts := testServer(t, Deps{})

	resp := request(t, http.MethodGet, ts.URL+"/api/v1/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestAuthMiddleware(t *testing.T) {
	_, ts := testServer(t, Deps{})

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"no token", "", "", http.StatusUnauthorized},
		{"viewer", "Bearer " + signToken(t, testSecret, "tech", RoleViewer, time.Minute), "", http.StatusOK},
		{"lower case scheme", "bearer " + signToken(t, testSecret, "tech", RoleViewer, time.Minute), "", http.StatusOK},
		{"query token", "", signToken(t, testSecret, "tech", RoleAdmin, time.Minute), http.StatusOK},
		{"wrong secret", "Bearer " + signToken(t, "another-secret-that-is-long-enough!!", "tech", RoleAdmin, time.Minute), "", http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, "tech", RoleAdmin, -time.Minute), "", http.StatusUnauthorized},
		{"unknown role", "Bearer " + signToken(t, testSecret, "tech", "guest", time.Minute), "", http.StatusUnauthorized},
		{"no subject", "Bearer " + signToken(t, testSecret, "", RoleAdmin, time.Minute), "", http.StatusUnauthorized},
		{"basic scheme", "Basic dXNlcjpwYXNz", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := ts.URL + "/api/v1/status"
			if tt.query != "" {
				url += "?access_token=" + tt.query
			}
			req, _ := http.NewRequest(http.MethodGet, url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") == "" {
				t.Error("WWW-Authenticate header missing on 401")
			}
		})
	}
}

func TestParseToken_RejectsUnsignedAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "tech",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Role: RoleAdmin,
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken(signed, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_RequiresExpiry(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "tech"},
		Role:             RoleAdmin,
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken(signed, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

// ─── Status ─────────────────────────────────────────────────────────

func TestStatus(t *testing.T) {
	_, ts := testServer(t, Deps{})

	resp := request(t, http.MethodGet, ts.URL+"/api/v1/status", signToken(t, testSecret, "tech", RoleViewer, time.Minute))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body StatusResponse
	decode(t, resp, &body)
	if body.Device != "door-1" || body.Version != "test" {
		t.Errorf("device/version = %q/%q", body.Device, body.Version)
	}
	if body.Controller != testStatus() {
		t.Errorf("Controller = %+v, want %+v", body.Controller, testStatus())
	}
	if body.Runtime.Goroutines == 0 {
		t.Error("Runtime.Goroutines = 0")
	}
}

// ─── Access log ─────────────────────────────────────────────────────

func testJournal(t *testing.T) *audit.SQLiteRepository {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "doorlock.db"),
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("database.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	return audit.NewSQLiteRepository(db.DB)
}

func TestAccessLog(t *testing.T) {
	journal := testJournal(t)
	base := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	for i, o := range []orchestrator.Outcome{orchestrator.Granted, orchestrator.Denied, orchestrator.Denied, orchestrator.Timeout} {
		if err := journal.RecordAttempt(context.Background(), orchestrator.Attempt{
			Outcome:    o,
			Credential: "physical",
			Time:       base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("RecordAttempt() error: %v", err)
		}
	}

	_, ts := testServer(t, Deps{Journal: journal})
	token := signToken(t, testSecret, "tech", RoleViewer, time.Minute)

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantTotal int
		wantLen   int
	}{
		{"all", "", http.StatusOK, 4, 4},
		{"denied", "?outcome=denied", http.StatusOK, 2, 2},
		{"paged", "?limit=1&offset=1", http.StatusOK, 4, 1},
		{"since", "?since=2026-10-17T09:02:00Z", http.StatusOK, 2, 2},
		{"bad outcome", "?outcome=maybe", http.StatusBadRequest, 0, 0},
		{"bad since", "?since=yesterday", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := request(t, http.MethodGet, ts.URL+"/api/v1/access-log"+tt.query, token)
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var result audit.ListResult
			decode(t, resp, &result)
			if result.Total != tt.wantTotal || len(result.Entries) != tt.wantLen {
				t.Errorf("total/len = %d/%d, want %d/%d", result.Total, len(result.Entries), tt.wantTotal, tt.wantLen)
			}
		})
	}
}

func TestAccessLog_NotConfigured(t *testing.T) {
	_, ts := testServer(t, Deps{})

	resp := request(t, http.MethodGet, ts.URL+"/api/v1/access-log", signToken(t, testSecret, "tech", RoleViewer, time.Minute))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

// ─── Sync ───────────────────────────────────────────────────────────

func TestSync(t *testing.T) {
	admin := signToken(t, testSecret, "tech", RoleAdmin, time.Minute)
	viewer := signToken(t, testSecret, "tech", RoleViewer, time.Minute)

	t.Run("admin", func(t *testing.T) {
		syncer := &fakeSyncer{}
		_, ts := testServer(t, Deps{Syncer: syncer})

		resp := request(t, http.MethodPost, ts.URL+"/api/v1/sync", admin)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
		if got := syncer.calls.Load(); got != 1 {
			t.Errorf("Sync calls = %d, want 1", got)
		}
	})

	t.Run("viewer forbidden", func(t *testing.T) {
		syncer := &fakeSyncer{}
		_, ts := testServer(t, Deps{Syncer: syncer})

		resp := request(t, http.MethodPost, ts.URL+"/api/v1/sync", viewer)
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("status = %d, want 403", resp.StatusCode)
		}
		if got := syncer.calls.Load(); got != 0 {
			t.Errorf("Sync calls = %d, want 0", got)
		}
	})

	t.Run("failure", func(t *testing.T) {
		_, ts := testServer(t, Deps{Syncer: &fakeSyncer{err: errors.New("connection refused")}})

		resp := request(t, http.MethodPost, ts.URL+"/api/v1/sync", admin)
		if resp.StatusCode != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", resp.StatusCode)
		}
	})

	t.Run("not configured", func(t *testing.T) {
		_, ts := testServer(t, Deps{})

		resp := request(t, http.MethodPost, ts.URL+"/api/v1/sync", admin)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", resp.StatusCode)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		_, ts := testServer(t, Deps{Syncer: &fakeSyncer{}})

		resp := request(t, http.MethodGet, ts.URL+"/api/v1/sync", admin)
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", resp.StatusCode)
		}
	})
}

// ─── WebSocket ──────────────────────────────────────────────────────

func dialWS(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Dial() error = %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return f
}

func TestWebSocket_AttemptFeed(t *testing.T) {
	srv, ts := testServer(t, Deps{})
	conn := dialWS(t, ts, signToken(t, testSecret, "panel", RoleViewer, time.Minute))
	waitForClients(t, srv.Hub(), 1)

	var rec orchestrator.Recorder = srv.Hub()
	if err := rec.RecordAttempt(context.Background(), orchestrator.Attempt{
		Outcome:    orchestrator.Granted,
		Credential: "app",
		Digest:     "a758390c",
		Duration:   1500 * time.Millisecond,
		Time:       time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}

	f := readFrame(t, conn)
	if f.Type != FrameAttempt {
		t.Fatalf("frame = %+v, want %s", f, FrameAttempt)
	}
	data, _ := json.Marshal(f.Data)
	var ev AttemptEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	want := AttemptEvent{Outcome: "granted", Credential: "app", DurationMS: 1500, Time: "2026-10-17T09:00:00Z"}
	if ev != want {
		t.Errorf("event = %+v, want %+v", ev, want)
	}
	if strings.Contains(string(data), "a758390c") {
		t.Error("digest leaked into live feed")
	}
}

func TestWebSocket_ClientFrames(t *testing.T) {
	srv, ts := testServer(t, Deps{})
	conn := dialWS(t, ts, signToken(t, testSecret, "panel", RoleViewer, time.Minute))
	waitForClients(t, srv.Hub(), 1)

	tests := []struct {
		name     string
		send     any
		wantType string
		wantID   string
	}{
		{"ping", Frame{Type: FramePing, ID: "1"}, FramePong, "1"},
		{"unsupported type", Frame{Type: "subscribe", ID: "2"}, FrameError, "2"},
		{"not json", "shout", FrameError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if raw, ok := tt.send.(string); ok {
				err = conn.WriteMessage(websocket.TextMessage, []byte(raw))
			} else {
				err = conn.WriteJSON(tt.send)
			}
			if err != nil {
				t.Fatal(err)
			}
			if f := readFrame(t, conn); f.Type != tt.wantType || f.ID != tt.wantID {
				t.Errorf("reply = %+v, want %s %q", f, tt.wantType, tt.wantID)
			}
		})
	}
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	srv, ts := testServer(t, Deps{})
	dialWS(t, ts, signToken(t, testSecret, "panel", RoleViewer, time.Minute))
	waitForClients(t, srv.Hub(), 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < feedBuffer*4; i++ {
			srv.Hub().RecordAttempt(context.Background(), orchestrator.Attempt{Outcome: orchestrator.Denied}) //nolint:errcheck // never fails
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RecordAttempt blocked on a client that never reads")
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	_, ts := testServer(t, Deps{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial() without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestHub_RunClosesClients(t *testing.T) {
	srv, ts := testServer(t, Deps{})
	conn := dialWS(t, ts, signToken(t, testSecret, "panel", RoleViewer, time.Minute))
	waitForClients(t, srv.Hub(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Hub().Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if n := srv.Hub().ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d after Run, want 0", n)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still open after hub shutdown")
	}
}
