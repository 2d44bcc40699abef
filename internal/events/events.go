package events

import (
	"sort"
	"time"
)

// Standing is one player's final position in a finished game.
type Standing struct {
	PID   int
	Name  string
	Score int
	Rank  int

	Correct   int
	Incorrect int
	// AvgLatency is the mean heartbeat latency in ms, 0 when never measured.
	AvgLatency int
}

// GameResult is published once per finished game.
type GameResult struct {
	RoomCode  string
	StartedAt time.Time
	EndedAt   time.Time
	Standings []Standing
}

type Bus struct {
	Results chan GameResult
}

func NewBus() *Bus {
	return &Bus{
		Results: make(chan GameResult, 32),
	}
}

// Publish never blocks. It reports false when the bus is nil or full.
func (b *Bus) Publish(r GameResult) bool {
	if b == nil {
		return false
	}
	select {
	case b.Results <- r:
		return true
	default:
		return false
	}
}

// Rank orders standings by score descending and assigns competition ranks, so tied
// scores share a rank. Ties keep their input order.
func Rank(standings []Standing) []Standing {
	out := make([]Standing, len(standings))
	copy(out, standings)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	for i := range out {
		if i > 0 && out[i].Score == out[i-1].Score {
			out[i].Rank = out[i-1].Rank
		} else {
			out[i].Rank = i + 1
		}
	}
	return out
}
