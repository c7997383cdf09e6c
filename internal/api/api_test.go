package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bunger-shield/internal/chat"
	"bunger-shield/internal/config"
	"bunger-shield/internal/game"
	"bunger-shield/internal/shield"
)

// ============================================================================
// Test setup
// ============================================================================

type testEnv struct {
	ts     *httptest.Server
	game   *game.Server
	plugin *shield.Plugin
	chat   *chat.Handler
}

func newTestGame(t *testing.T) (*game.Server, *shield.Plugin, *chat.Handler) {
	t.Helper()
	cfg := config.DefaultServer()
	cfg.TickRate = 100
	perms := game.NewPermissionManager(game.PermissionFile{
		Default: []string{"shield.use", "shield.strength", "shield.radius"},
	})
	gs := game.NewServer(game.Options{Server: cfg, Permissions: perms})
	plugin := shield.New(config.DefaultShield(), nil)
	require.NoError(t, gs.EnablePlugin(plugin))
	gs.Start()

	handler := chat.NewHandler(gs, nil, nil)
	t.Cleanup(func() {
		handler.Close()
		gs.Stop()
	})
	return gs, plugin, handler
}

func newTestEnv(t *testing.T, adminToken string) *testEnv {
	t.Helper()
	gs, plugin, handler := newTestGame(t)

	limiter := NewIPRateLimiter(RateLimitConfig{
		RequestsPerSecond: 1000, // High limit for tests
		Burst:             1000,
		CleanupInterval:   time.Hour,
	})
	router := NewRouter(RouterConfig{
		Game:           gs,
		Shield:         plugin,
		Chat:           handler,
		RateLimiter:    limiter,
		AdminToken:     adminToken,
		DisableLogging: true, // Quiet logs in tests
	})
	ts := httptest.NewServer(router)
	t.Cleanup(func() {
		ts.Close()
		limiter.Stop()
	})
	return &testEnv{ts: ts, game: gs, plugin: plugin, chat: handler}
}

func (e *testEnv) post(t *testing.T, path, body, token string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func (e *testEnv) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	var out map[string]any
	if len(bytes.TrimSpace(data)) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return out
}

// ============================================================================
// API Endpoint Tests
// ============================================================================

func TestAPIGetState(t *testing.T) {
	env := newTestEnv(t, "")

	status, _ := env.post(t, "/api/player/join", `{"name":"Steve"}`, "")
	require.Equal(t, http.StatusOK, status)

	require.Eventually(t, func() bool {
		_, body := env.get(t, "/api/state")
		return body["playerCount"] == float64(1)
	}, 2*time.Second, 20*time.Millisecond)

	_, body := env.get(t, "/api/state")
	entities, ok := body["entities"].([]any)
	require.True(t, ok, "Response should contain entities array")
	require.Len(t, entities, 1)
	assert.Equal(t, "Steve", entities[0].(map[string]any)["name"])
}

func TestAPIPlayerJoin(t *testing.T) {
	env := newTestEnv(t, "")

	status, body := env.post(t, "/api/player/join", `{"name":"Steve"}`, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Steve", body["name"])
	assert.Equal(t, "player", body["kind"])
	assert.Equal(t, game.PlayerID("Steve").String(), body["id"])

	// Joining twice returns the same player
	status, again := env.post(t, "/api/player/join", `{"name":"steve"}`, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, body["id"], again["id"])
}

func TestAPIPlayerJoinValidation(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "empty name", body: `{"name": ""}`, wantStatus: http.StatusBadRequest},
		{name: "blank name", body: `{"name": "   "}`, wantStatus: http.StatusBadRequest},
		{name: "missing name", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "invalid json", body: `{invalid}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.post(t, "/api/player/join", tt.body, "")
			assert.Equal(t, tt.wantStatus, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAPIPlayerQuit(t *testing.T) {
	env := newTestEnv(t, "")

	status, _ := env.post(t, "/api/player/quit", `{"name":"Nobody"}`, "")
	assert.Equal(t, http.StatusNotFound, status)

	env.post(t, "/api/player/join", `{"name":"Steve"}`, "")
	status, body := env.post(t, "/api/player/quit", `{"name":"Steve"}`, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	err := env.game.Call(context.Background(), func() error {
		_, ok := env.game.PlayerByName("Steve")
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestAPIPlayerMove(t *testing.T) {
	env := newTestEnv(t, "")
	env.post(t, "/api/player/join", `{"name":"Steve"}`, "")

	status, body := env.post(t, "/api/player/move", `{"name":"Steve","x":10,"y":70,"z":-4.5}`, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"x": 10.0, "y": 70.0, "z": -4.5}, body["position"])

	status, _ = env.post(t, "/api/player/move", `{"name":"Alex","x":1,"y":2,"z":3}`, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIEntitySpawn(t *testing.T) {
	env := newTestEnv(t, "")

	status, body := env.post(t, "/api/entity/spawn", `{"kind":"mob","name":"zombie","x":1,"y":64,"z":2}`, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "zombie", body["name"])
	assert.Equal(t, "mob", body["kind"])
	assert.NotEmpty(t, body["id"])

	for _, kind := range []string{"player", "dragon", ""} {
		status, _ := env.post(t, "/api/entity/spawn", `{"kind":"`+kind+`","name":"x"}`, "")
		assert.Equal(t, http.StatusBadRequest, status, kind)
	}
}

func TestAPICommandAsConsole(t *testing.T) {
	env := newTestEnv(t, "")
	env.post(t, "/api/player/join", `{"name":"Steve"}`, "")

	status, body := env.post(t, "/api/command", `{"command":"/list"}`, "")
	require.Equal(t, http.StatusOK, status)
	replies := body["replies"].([]any)
	require.Len(t, replies, 1)
	assert.Equal(t, "There are 1 players online: Steve", replies[0].(map[string]any)["text"])

	// The console may shield other players
	status, body = env.post(t, "/api/command", `{"command":"shield Steve"}`, "")
	require.Equal(t, http.StatusOK, status)
	replies = body["replies"].([]any)
	require.Len(t, replies, 1)
	assert.Equal(t, "Enabled shield for Steve.", replies[0].(map[string]any)["text"])
}

func TestAPICommandAsPlayer(t *testing.T) {
	env := newTestEnv(t, "")
	env.post(t, "/api/player/join", `{"name":"Steve"}`, "")

	status, body := env.post(t, "/api/command", `{"sender":"Steve","command":"/shield"}`, "")
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["replies"], "player replies go to the player's chat")

	status, body = env.get(t, "/api/shield")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["taskRunning"])
	members := body["members"].([]any)
	require.Len(t, members, 1)
	member := members[0].(map[string]any)
	assert.Equal(t, "Steve", member["name"])
	assert.Equal(t, 1.0, member["strength"])
	assert.Equal(t, 3.0, member["radius"])
}

func TestAPICommandErrors(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "missing command", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "blank command", body: `{"command":"  "}`, wantStatus: http.StatusBadRequest},
		{name: "offline sender", body: `{"sender":"Ghost","command":"list"}`, wantStatus: http.StatusNotFound},
		{name: "invalid json", body: `[`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := env.post(t, "/api/command", tt.body, "")
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestAPIGetShieldEmpty(t *testing.T) {
	env := newTestEnv(t, "")

	status, body := env.get(t, "/api/shield")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["taskRunning"])
	assert.Equal(t, []any{}, body["members"])
}

func TestAPIComplete(t *testing.T) {
	env := newTestEnv(t, "")
	env.post(t, "/api/player/join", `{"name":"Steve"}`, "")

	status, body := env.post(t, "/api/complete", `{"command":"/sh"}`, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"shield"}, body["completions"])

	status, body = env.post(t, "/api/complete", `{"sender":"Steve","command":"/shield st"}`, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"strength"}, body["completions"])

	status, body = env.post(t, "/api/complete", `{"command":"/nothing "}`, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{}, body["completions"])
}

func TestAPIAdminToken(t *testing.T) {
	env := newTestEnv(t, "s3cret")

	status, _ := env.post(t, "/api/player/join", `{"name":"Steve"}`, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.post(t, "/api/player/join", `{"name":"Steve"}`, "wrong")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.post(t, "/api/player/join", `{"name":"Steve"}`, "s3cret")
	assert.Equal(t, http.StatusOK, status)

	// Reads stay open
	status, _ = env.get(t, "/api/state")
	assert.Equal(t, http.StatusOK, status)
}

// ============================================================================
// Rate limiting
// ============================================================================

func TestAPIRateLimiting(t *testing.T) {
	gs, plugin, handler := newTestGame(t)
	limiter := NewIPRateLimiter(RateLimitConfig{
		RequestsPerSecond: 0.001,
		Burst:             2,
		CleanupInterval:   time.Hour,
	})
	defer limiter.Stop()

	ts := httptest.NewServer(NewRouter(RouterConfig{
		Game: gs, Shield: plugin, Chat: handler,
		RateLimiter:    limiter,
		DisableLogging: true,
	}))
	defer ts.Close()

	var codes []int
	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/api/state")
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, map[string]uint64{"allowed": 2, "rejected": 1}, limiter.GetStats())
}

func TestIPRateLimiterCleanup(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, CleanupInterval: time.Minute})
	defer rl.Stop()

	rl.Allow("10.0.0.1")
	rl.cleanup(time.Now())
	_, ok := rl.limiters.Load("10.0.0.1")
	assert.True(t, ok)

	rl.cleanup(time.Now().Add(3 * time.Minute))
	_, ok = rl.limiters.Load("10.0.0.1")
	assert.False(t, ok)
}

func TestWebSocketRateLimiter(t *testing.T) {
	wrl := NewWebSocketRateLimiter(2)

	assert.True(t, wrl.Allow("1.2.3.4"))
	assert.True(t, wrl.Allow("1.2.3.4"))
	assert.False(t, wrl.Allow("1.2.3.4"))
	assert.True(t, wrl.Allow("5.6.7.8"))

	wrl.Release("1.2.3.4")
	assert.Equal(t, 1, wrl.GetConnectionCount("1.2.3.4"))
	assert.True(t, wrl.Allow("1.2.3.4"))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "forwarded", headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, remote: "10.0.0.1:1", want: "203.0.113.5"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": " 198.51.100.7 "}, remote: "10.0.0.1:1", want: "198.51.100.7"},
		{name: "no port", remote: "192.0.2.9", want: "192.0.2.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}

func TestIsAllowedOrigin(t *testing.T) {
	extra := []string{"https://admin.example.com"}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", false},
		{"http://localhost", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:8080", true},
		{"https://admin.example.com", true},
		{"https://evil.example.com", false},
		{"http://localhost.evil.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAllowedOrigin(tt.origin, extra))
		})
	}
}

// ============================================================================
// WebSocket feed
// ============================================================================

func TestWebSocketSnapshotFeed(t *testing.T) {
	gs, plugin, handler := newTestGame(t)
	cfg := config.DefaultAPI()
	cfg.BroadcastInterval = 20 * time.Millisecond

	s := NewServer(cfg, gs, plugin, handler, nil)
	defer s.Stop()
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		s.runFeed(ctx)
	}()
	defer func() {
		cancel()
		<-feedDone
	}()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	// Foreign origins are refused
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://localhost"}})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Event string             `json:"event"`
		Data  game.WorldSnapshot `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "world:snapshot", msg.Event)
	assert.NotZero(t, msg.Data.Sequence)
	assert.Equal(t, 1, s.wsHub.ClientCount())
}

func TestServerConfiguredOrigins(t *testing.T) {
	gs, plugin, handler := newTestGame(t)
	cfg := config.DefaultAPI()
	cfg.CORSOrigins = []string{"https://admin.example.com"}

	s := NewServer(cfg, gs, plugin, handler, nil)
	defer s.Stop()
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		s.runFeed(ctx)
	}()
	defer func() {
		cancel()
		<-feedDone
	}()

	// CORS preflight
	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/state", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://admin.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://admin.example.com"}})
	require.NoError(t, err)
	conn.Close()

	_, _, err = websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://other.example.com"}})
	assert.Error(t, err)
}

// ============================================================================
// Debug server
// ============================================================================

func TestDebugHandler(t *testing.T) {
	RecordTick(3*time.Millisecond, 2, 5)

	ts := httptest.NewServer(DebugHandler(ObservabilityConfig{Enabled: true}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "game_tick_duration_seconds")
	assert.Contains(t, string(body), "game_player_count 2")
}

func TestDebugHandlerBasicAuth(t *testing.T) {
	ts := httptest.NewServer(DebugHandler(ObservabilityConfig{BasicAuthUser: "ops", BasicAuthPass: "pw"}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.SetBasicAuth("ops", "pw")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("127.0.0.1:6060"))
	assert.True(t, isLoopback("localhost:6060"))
	assert.True(t, isLoopback("[::1]:6060"))
	assert.False(t, isLoopback("0.0.0.0:6060"))
	assert.False(t, isLoopback(":6060"))
}
