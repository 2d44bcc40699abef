package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/skip2/go-qrcode"

	"buzzboard/internal/analytics"
	"buzzboard/internal/board"
	"buzzboard/internal/config"
	"buzzboard/internal/db"
	"buzzboard/internal/rooms"
	"buzzboard/internal/session"
	"buzzboard/internal/wshub"
)

const (
	maxCreateBody       = 1 << 20
	historyLimit        = 10
	leaderboardLimit    = 10
	maxLeaderboardLimit = 100
)

type Server struct {
	Rooms *rooms.Registry
	Hub   *wshub.Hub
	DB    *db.DB
	// Stats is nil when running without a database.
	Stats *analytics.Queries
	Cfg   config.Config
}

// Routes builds the HTTP surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	limiter := NewRateLimiter(s.Cfg.RateLimit, s.Cfg.RateLimitBurst, s.Cfg.TrustProxy)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1/rooms", func(r chi.Router) {
		r.With(limiter.Middleware, RequestSizeLimiter(maxCreateBody)).Post("/create", s.handleCreateRoom)
		r.Get("/{code}/ws", s.handleWebSocket)
		r.Get("/{code}/qr", s.handleQR)
		r.Get("/{code}/history", s.handleHistory)
	})
	r.Get("/api/v1/games/{id}", s.handleGameRecap)
	r.Get("/api/v1/players/{name}/stats", s.handlePlayerStats)
	r.Get("/api/v1/leaderboard", s.handleLeaderboard)
	return r
}

type createRoomResponse struct {
	RoomCode  string `json:"room_code"`
	HostToken string `json:"host_token"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	categories, err := parseCreateBody(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid board: %v", err), http.StatusBadRequest)
		return
	}

	room, err := s.Rooms.Create(categories)
	if err != nil {
		log.Printf("[Server] Creating room: %v\n", err)
		http.Error(w, "Failed to create room", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, createRoomResponse{
		RoomCode:  room.Code,
		HostToken: room.HostToken,
	})
}

// parseCreateBody accepts an empty body or {} (default board), {"categories": [...]},
// a bare category list, or a game file. A nil board means "use the default".
func parseCreateBody(body []byte) (board.Board, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '[' {
		return board.ParseJSON(body)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	if raw, ok := fields["categories"]; ok {
		return board.ParseJSON(raw)
	}
	return board.ParseJSON(body)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	adm, err := session.Admit(s.Rooms, chi.URLParam(r, "code"), r.URL.Query(), s.Cfg.MaxNameLength)
	if err != nil {
		http.Error(w, err.Error(), session.Status(err))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.Cfg.Origins,
	})
	if err != nil {
		log.Printf("[Server] Websocket upgrade failed: %v\n", err)
		return
	}

	err = session.Serve(r.Context(), conn, adm, session.Options{
		SendBuffer: s.Cfg.SendBuffer,
		Verbose:    s.Cfg.Verbose,
		Hub:        s.Hub,
	})
	if err != nil {
		log.Printf("[Server] Room %s %s session: %v\n", adm.Room.Code, adm.Role, err)
	}
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	room := s.Rooms.Get(chi.URLParam(r, "code"))
	if room == nil {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	png, err := qrcode.Encode(s.joinURL(r, room.Code), qrcode.Medium, 320)
	if err != nil {
		http.Error(w, "Failed to generate QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func (s *Server) joinURL(r *http.Request, code string) string {
	base := s.Cfg.PublicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return fmt.Sprintf("%s/join/%s", base, code)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		http.Error(w, "Game history requires a database", http.StatusServiceUnavailable)
		return
	}
	code := chi.URLParam(r, "code")
	if !rooms.ValidCode(code) {
		http.Error(w, "Invalid room code", http.StatusBadRequest)
		return
	}

	recaps, err := s.Stats.RecentRecaps(rooms.NormalizeCode(code), historyLimit)
	if err != nil {
		log.Printf("[DB] RecentRecaps error: %v\n", err)
		http.Error(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recaps)
}

func (s *Server) handleGameRecap(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		http.Error(w, "Game history requires a database", http.StatusServiceUnavailable)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid game id", http.StatusBadRequest)
		return
	}

	recap, err := s.Stats.GetGameRecap(id)
	if err != nil {
		if analytics.IsNotFound(err) {
			http.Error(w, "Game not found", http.StatusNotFound)
			return
		}
		log.Printf("[DB] GetGameRecap error: %v\n", err)
		http.Error(w, "Failed to load game", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recap)
}

func (s *Server) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		http.Error(w, "Player stats require a database", http.StatusServiceUnavailable)
		return
	}

	stats, err := s.Stats.GetPlayerLifetimeStats(chi.URLParam(r, "name"))
	if err != nil {
		if analytics.IsNotFound(err) {
			http.Error(w, "Player not found", http.StatusNotFound)
			return
		}
		log.Printf("[DB] GetPlayerLifetimeStats error: %v\n", err)
		http.Error(w, "Failed to load player", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		http.Error(w, "Leaderboards require a database", http.StatusServiceUnavailable)
		return
	}

	category := r.URL.Query().Get("category")
	if category == "" {
		category = "score"
	}
	if !analytics.LeaderboardCategory(category) {
		http.Error(w, "Unknown leaderboard category", http.StatusBadRequest)
		return
	}
	limit := leaderboardLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLeaderboardLimit {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.Stats.GetLeaderboard(category, limit)
	if err != nil {
		log.Printf("[DB] GetLeaderboard error: %v\n", err)
		http.Error(w, "Failed to load leaderboard", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type healthResponse struct {
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Rooms:       s.Rooms.Len(),
		Connections: s.Hub.Len(),
	}
	if s.DB != nil {
		if err := s.DB.Ping(); err != nil {
			resp.Status = "db_error"
			resp.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Encoding response: %v\n", err)
	}
}
