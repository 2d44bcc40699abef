package session

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"buzzboard/internal/rooms"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrInvalidCredentials = errors.New("invalid player credentials")
	ErrMissingParams      = errors.New("missing required parameters")
	ErrInvalidName        = errors.New("invalid player name")
	ErrInvalidPath        = errors.New("invalid websocket path")
)

type Role int

const (
	RoleHost Role = iota
	RolePlayer
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "player"
}

// Admission is a validated connection request. Exactly one path applies: host,
// reconnecting player (PID and Token set) or new player (Name set).
type Admission struct {
	Room  *rooms.Room
	Role  Role
	PID   int
	Token string
	Name  string
}

// Reconnect reports whether the admission binds to an existing player row.
func (a Admission) Reconnect() bool {
	return a.Role == RolePlayer && a.Name == ""
}

// Admit resolves a connection request before the websocket upgrade. Nothing is
// allocated here; a new player row is created only once the socket is bound.
func Admit(reg *rooms.Registry, code string, q url.Values, maxNameLength int) (Admission, error) {
	if !rooms.ValidCode(code) {
		return Admission{}, ErrInvalidPath
	}
	room := reg.Get(code)
	if room == nil {
		return Admission{}, ErrRoomNotFound
	}

	token := q.Get("token")
	playerID := q.Get("playerID")
	playerName := q.Get("playerName")

	switch {
	case token != "" && room.IsHostToken(token):
		return Admission{Room: room, Role: RoleHost}, nil

	case token != "" && playerID != "":
		pid, err := strconv.Atoi(playerID)
		if err != nil || pid < 1 {
			return Admission{}, ErrInvalidCredentials
		}
		if err := room.CheckPlayer(pid, token); err != nil {
			return Admission{}, ErrInvalidCredentials
		}
		return Admission{Room: room, Role: RolePlayer, PID: pid, Token: token}, nil

	case token != "" && playerName == "":
		return Admission{}, ErrInvalidCredentials

	case playerName != "":
		name, err := cleanName(playerName, maxNameLength)
		if err != nil {
			return Admission{}, err
		}
		return Admission{Room: room, Role: RolePlayer, Name: name}, nil
	}
	return Admission{}, ErrMissingParams
}

func cleanName(name string, maxLength int) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || !utf8.ValidString(name) {
		return "", ErrInvalidName
	}
	if maxLength > 0 && utf8.RuneCountInString(name) > maxLength {
		return "", ErrInvalidName
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", ErrInvalidName
		}
	}
	return name, nil
}

// Status maps an admission error to the HTTP status refusing the upgrade.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMissingParams), errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidPath):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
