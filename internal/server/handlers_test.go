package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"buzzboard/internal/board"
	"buzzboard/internal/config"
	"buzzboard/internal/db"
	"buzzboard/internal/events"
	"buzzboard/internal/rooms"
	"buzzboard/internal/wshub"
)

func defaultBoard() board.Board {
	return board.Board{
		{Title: "Science", Questions: []board.Question{{Prompt: "H2O", Answer: "Water", Value: 100}}},
		{Title: "History", Questions: []board.Question{{Prompt: "1066", Answer: "Hastings", Value: 200}}},
	}
}

func newTestServer(t *testing.T, tweak func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimit = 1000
	cfg.RateLimitBurst = 1000
	if tweak != nil {
		tweak(&cfg)
	}

	reg := rooms.NewRegistry(rooms.RegistryConfig{DefaultBoard: defaultBoard()})
	t.Cleanup(reg.Close)

	srv := &Server{
		Rooms: reg,
		Hub:   wshub.NewHub(),
		Cfg:   cfg,
	}
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func createRoom(t *testing.T, baseURL, body string) createRoomResponse {
	t.Helper()
	resp, err := http.Post(baseURL+"/api/v1/rooms/create", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out createRoomResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateRoom(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	out := createRoom(t, ts.URL, "")
	require.Len(t, out.RoomCode, 6)
	require.NotEmpty(t, out.HostToken)

	room := srv.Rooms.Get(out.RoomCode)
	require.NotNil(t, room)
	require.True(t, room.IsHostToken(out.HostToken))
	require.Equal(t, 1, srv.Rooms.Len())
}

func TestCreateRoom_Bodies(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"empty", "", http.StatusCreated},
		{"empty object", "{}", http.StatusCreated},
		{"categories field", `{"categories":[{"title":"Art","questions":[{"prompt":"Mona Lisa","answer":"da Vinci","value":300}]}]}`, http.StatusCreated},
		{"bare list", `[{"title":"Art","questions":[{"question":"Starry Night","answer":"van Gogh","value":100}]}]`, http.StatusCreated},
		{"game file", `{"game":{"single":[{"category":"Art","clues":[{"value":100,"clue":"Guernica","solution":"Picasso"}]}]}}`, http.StatusCreated},
		{"not json", "nope", http.StatusBadRequest},
		{"empty title", `[{"title":"","questions":[{"prompt":"x","answer":"y","value":1}]}]`, http.StatusBadRequest},
		{"unknown shape", `{"rounds":[]}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := newTestServer(t, nil)
			resp, err := http.Post(ts.URL+"/api/v1/rooms/create", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestCreateRoom_CustomBoardIsUsed(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	out := createRoom(t, ts.URL, `{"categories":[{"title":"Art","questions":[{"prompt":"Mona Lisa","answer":"da Vinci","value":300}]}]}`)

	room := srv.Rooms.Get(out.RoomCode)
	require.NotNil(t, room)
	require.NoError(t, room.StartGame())
	snap, ok := room.Snapshot()
	require.True(t, ok)
	require.Len(t, snap.Categories, 1)
	require.Equal(t, "Art", snap.Categories[0].Title)
}

func TestCreateRoom_TooLarge(t *testing.T) {
	_, ts := newTestServer(t, nil)
	body := bytes.Repeat([]byte(" "), maxCreateBody+1)
	resp, err := http.Post(ts.URL+"/api/v1/rooms/create", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestCreateRoom_RateLimited(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) {
		c.RateLimit = 0.001
		c.RateLimitBurst = 2
	})

	var codes []int
	for n := 0; n < 3; n++ {
		resp, err := http.Post(ts.URL+"/api/v1/rooms/create", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	require.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, codes)
}

func TestWebSocket_AdmissionStatuses(t *testing.T) {
	_, ts := newTestServer(t, nil)
	out := createRoom(t, ts.URL, "")

	unknown := "QQQQQQ"
	if out.RoomCode == unknown {
		unknown = "WWWWWW"
	}

	tests := []struct {
		name       string
		code       string
		query      url.Values
		wantStatus int
	}{
		{"unknown room", unknown, url.Values{"token": {out.HostToken}}, http.StatusNotFound},
		{"wrong token", out.RoomCode, url.Values{"token": {"nope"}}, http.StatusUnauthorized},
		{"wrong player token", out.RoomCode, url.Values{"token": {"nope"}, "playerID": {"1"}}, http.StatusUnauthorized},
		{"missing params", out.RoomCode, url.Values{}, http.StatusBadRequest},
		{"blank name", out.RoomCode, url.Values{"playerName": {"  "}}, http.StatusBadRequest},
		{"bad code", "AB1", url.Values{"token": {out.HostToken}}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/api/v1/rooms/" + tt.code + "/ws?" + tt.query.Encode())
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func dialRoom(t *testing.T, ts *httptest.Server, code string, q url.Values) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/rooms/" + code + "/ws?" + q.Encode()
	conn, _, err := websocket.Dial(ctx, u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readKind(t *testing.T, conn *websocket.Conn, kind string) json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err, "waiting for %s", kind)
		var env map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &env))
		if payload, ok := env[kind]; ok {
			return payload
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))
}

func TestWebSocket_FullGame(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	out := createRoom(t, ts.URL, "")

	host := dialRoom(t, ts, out.RoomCode, url.Values{"token": {out.HostToken}})
	readKind(t, host, "PlayerList")

	alice := dialRoom(t, ts, strings.ToLower(out.RoomCode), url.Values{"playerName": {"Alice"}})
	readKind(t, alice, "NewPlayer")
	bob := dialRoom(t, ts, out.RoomCode, url.Values{"playerName": {"Bob"}})
	readKind(t, bob, "NewPlayer")

	require.Eventually(t, func() bool { return srv.Hub.Len() == 3 }, time.Second, 10*time.Millisecond)

	send(t, host, `{"StartGame":{}}`)
	readKind(t, alice, "GameStarted")
	readKind(t, bob, "GameStarted")

	// First question: Alice answers wrong, Bob gets it.
	send(t, host, `{"HostChoice":{"categoryIndex":0,"questionIndex":0}}`)
	send(t, host, `{"HostReady":{}}`)
	readKind(t, alice, "BuzzEnabled")
	send(t, alice, `{"Buzz":{}}`)
	readKind(t, host, "Buzzed")
	readKind(t, bob, "BuzzDisabled")

	send(t, host, `{"HostChecked":{"correct":false}}`)
	readKind(t, bob, "BuzzEnabled")
	send(t, bob, `{"Buzz":{}}`)

	var buzzed struct {
		PID  int    `json:"pid"`
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(readKind(t, host, "Buzzed"), &buzzed))
	require.Equal(t, "Bob", buzzed.Name)

	var res struct {
		PID      int  `json:"pid"`
		Correct  bool `json:"correct"`
		NewScore int  `json:"newScore"`
	}
	require.NoError(t, json.Unmarshal(readKind(t, alice, "AnswerResult"), &res))
	require.False(t, res.Correct)
	require.Equal(t, 0, res.NewScore)

	send(t, host, `{"HostChecked":{"correct":true}}`)
	require.NoError(t, json.Unmarshal(readKind(t, alice, "AnswerResult"), &res))
	require.Equal(t, buzzed.PID, res.PID)
	require.True(t, res.Correct)
	require.Equal(t, 100, res.NewScore)

	// Last question: nobody buzzes, host ends the game.
	send(t, host, `{"HostChoice":{"categoryIndex":1,"questionIndex":0}}`)
	send(t, host, `{"EndGame":{}}`)
	readKind(t, alice, "GameEnded")
	readKind(t, bob, "GameEnded")

	room := srv.Rooms.Get(out.RoomCode)
	require.Equal(t, rooms.StateEnded, room.State())
}

func TestQR(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) { c.PublicURL = "https://quiz.example.com" })
	out := createRoom(t, ts.URL, "")

	resp, err := http.Get(ts.URL + "/api/v1/rooms/" + out.RoomCode + "/qr")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	resp, err = http.Get(ts.URL + "/api/v1/rooms/ZZZZZZ/qr")
	require.NoError(t, err)
	resp.Body.Close()
	if out.RoomCode != "ZZZZZZ" {
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
}

func TestJoinURL(t *testing.T) {
	s := &Server{}
	r := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/ABCDEF/qr", nil)
	r.Host = "quiz.local:8080"
	require.Equal(t, "http://quiz.local:8080/join/ABCDEF", s.joinURL(r, "ABCDEF"))

	r.Header.Set("X-Forwarded-Proto", "https")
	require.Equal(t, "https://quiz.local:8080/join/ABCDEF", s.joinURL(r, "ABCDEF"))

	s.Cfg.PublicURL = "https://quiz.example.com"
	require.Equal(t, "https://quiz.example.com/join/ABCDEF", s.joinURL(r, "ABCDEF"))
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, nil)
	createRoom(t, ts.URL, "")

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	require.Empty(t, body.Error)
	require.Equal(t, 1, body.Rooms)
	require.Equal(t, 0, body.Connections)
}

func TestStatsRoutes_WithoutDatabase(t *testing.T) {
	_, ts := newTestServer(t, nil)
	for _, path := range []string{
		"/api/v1/rooms/ABCDEF/history",
		"/api/v1/games/1",
		"/api/v1/players/Alice/stats",
		"/api/v1/leaderboard?category=wins",
	} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + path)
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		})
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	require.Equal(t, "10.0.0.1", clientIP(r, false))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "10.0.0.1", clientIP(r, false), "header is ignored unless the proxy is trusted")
	require.Equal(t, "203.0.113.7", clientIP(r, true))

	r.Header.Set("X-Forwarded-For", "not-an-ip")
	require.Equal(t, "10.0.0.1", clientIP(r, true))
}

func TestCreateRoom_SpoofedForwardedForStillLimited(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) {
		c.RateLimit = 0.001
		c.RateLimitBurst = 1
	})

	var codes []int
	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/rooms/create", nil)
		require.NoError(t, err)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	require.Equal(t, []int{http.StatusCreated, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestRateLimiter_PrunesIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1, false)
	start := time.Now()
	rl.getLimiter("192.0.2.1", start)
	rl.getLimiter("192.0.2.2", start)
	require.Equal(t, 2, rl.Len())

	// Only the second client comes back; the first is pruned once it has been idle long enough.
	later := start.Add(limiterIdleTTL + limiterPruneInterval)
	rl.getLimiter("192.0.2.2", later.Add(-time.Second))
	rl.getLimiter("192.0.2.3", later)
	require.Equal(t, 2, rl.Len())

	rl.mu.Lock()
	_, stale := rl.visitors["192.0.2.1"]
	rl.mu.Unlock()
	require.False(t, stale)
}

func TestHealth_DatabaseDown(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database tests")
	}
	srv, ts := newTestServer(t, nil)
	database, err := db.Connect(dsn)
	require.NoError(t, err)
	require.NoError(t, database.Close())
	srv.DB = database

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body), "error body must be valid JSON")
	require.Equal(t, "db_error", body.Status)
	require.NotEmpty(t, body.Error)
}

func TestLogMigration(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	logMigration(nil, errors.New("syntax error"))
	require.Contains(t, buf.String(), "Migration failed")
	require.NotContains(t, buf.String(), "connected")

	buf.Reset()
	logMigration([]string{"001_init.sql"}, nil)
	require.Contains(t, buf.String(), "1 migrations applied")

	buf.Reset()
	logMigration(nil, nil)
	require.Contains(t, buf.String(), "schema up to date")
}

func TestResultWriter_DrainsOnShutdown(t *testing.T) {
	results := make(chan events.GameResult, 4)
	results <- events.GameResult{RoomCode: "ABCDEF", Standings: []events.Standing{{PID: 1, Name: "Alice", Score: 300, Rank: 1}}}
	results <- events.GameResult{RoomCode: "GHJKMN"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		resultWriter(ctx, nil, results)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("resultWriter did not return after cancellation")
	}
	require.Empty(t, results)
}
