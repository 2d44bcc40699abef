package analytics

import "time"

// Players have no accounts, so lifetime stats are keyed by display name.

type PlayerGameStats struct {
	PID        int     `json:"pid"`
	Name       string  `json:"name"`
	Score      int     `json:"score"`
	Rank       int     `json:"rank"`
	Correct    int     `json:"correct"`
	Incorrect  int     `json:"incorrect"`
	AvgLatency int     `json:"avgLatency"` // ms, 0 when never measured
	Badges     []Badge `json:"badges"`
}

func (s PlayerGameStats) Answered() int {
	return s.Correct + s.Incorrect
}

// Accuracy is the percentage of judged answers that were correct.
func (s PlayerGameStats) Accuracy() float64 {
	if s.Answered() == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Answered()) * 100
}

type PlayerLifetimeStats struct {
	Name        string  `json:"name"`
	GamesPlayed int     `json:"gamesPlayed"`
	TotalScore  int     `json:"totalScore"`
	BestGame    int     `json:"bestGame"`
	WinCount    int     `json:"winCount"`
	WinStreak   int     `json:"winStreak"`
	Badges      []Badge `json:"badges"`
}

type LeaderboardEntry struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
	Rank  int    `json:"rank"`
}

type GameRecap struct {
	GameID    int64             `json:"id"`
	RoomCode  string            `json:"roomCode"`
	StartedAt time.Time         `json:"startedAt"`
	EndedAt   time.Time         `json:"endedAt"`
	Players   []PlayerGameStats `json:"players"`
}
