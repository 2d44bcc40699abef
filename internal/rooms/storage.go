package rooms

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"buzzboard/internal/board"
	"buzzboard/internal/events"
)

var ErrCodeSpaceExhausted = errors.New("failed to generate unique room code after 10 attempts")

type RegistryConfig struct {
	// DefaultBoard seeds rooms created without categories.
	DefaultBoard board.Board
	// RoomTTL removes rooms idle this long. Zero disables sweeping.
	RoomTTL       time.Duration
	PlayerTimeout time.Duration
	Bus           *events.Bus
}

// Registry is the process-wide directory of live rooms keyed by code.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	cfg   RegistryConfig

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRegistry(cfg RegistryConfig) *Registry {
	s := &Registry{
		rooms: make(map[string]*Room),
		cfg:   cfg,
		stop:  make(chan struct{}),
	}
	if cfg.RoomTTL > 0 {
		go s.sweepStale(sweepInterval(cfg.RoomTTL))
	}
	return s
}

// Create stores a new room. A nil board falls back to the configured default.
func (s *Registry) Create(categories board.Board) (*Room, error) {
	if categories == nil {
		categories = s.cfg.DefaultBoard
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Try up to 10 times to generate a unique code
	for attempt := 0; attempt < 10; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return nil, fmt.Errorf("generating room code: %w", err)
		}
		if _, exists := s.rooms[code]; exists {
			continue
		}

		room := NewRoom(code, GenerateToken(), categories, RoomConfig{
			Bus:           s.cfg.Bus,
			PlayerTimeout: s.cfg.PlayerTimeout,
		})
		s.rooms[code] = room
		log.Printf("[Rooms] Created room %s\n", code)
		return room, nil
	}
	return nil, ErrCodeSpaceExhausted
}

// Get is case-insensitive and returns nil for unknown codes.
func (s *Registry) Get(code string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[NormalizeCode(code)]
}

// Delete closes every connection of the room and forgets it. Idempotent.
func (s *Registry) Delete(code string) {
	s.mu.Lock()
	room, ok := s.rooms[NormalizeCode(code)]
	delete(s.rooms, NormalizeCode(code))
	s.mu.Unlock()

	if ok {
		room.Cleanup()
		log.Printf("[Rooms] Deleted room %s\n", room.Code)
	}
}

func (s *Registry) List() []*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		list = append(list, r)
	}
	return list
}

func (s *Registry) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func (s *Registry) GeneratePlayerToken() string {
	return GenerateToken()
}

// Close stops the sweeper and deletes every room.
func (s *Registry) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	for _, r := range s.List() {
		s.Delete(r.Code)
	}
}

// Sweep deletes rooms idle longer than the configured TTL and returns their codes.
func (s *Registry) Sweep(now time.Time) []string {
	if s.cfg.RoomTTL <= 0 {
		return nil
	}
	var stale []string
	for _, r := range s.List() {
		if r.Idle(now) > s.cfg.RoomTTL {
			stale = append(stale, r.Code)
		}
	}
	for _, code := range stale {
		s.Delete(code)
	}
	return stale
}

func (s *Registry) sweepStale(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			if removed := s.Sweep(now); len(removed) > 0 {
				log.Printf("[Rooms] Swept %d idle rooms\n", len(removed))
			}
		}
	}
}

func sweepInterval(ttl time.Duration) time.Duration {
	return min(max(ttl/4, time.Second), 5*time.Minute)
}
