package analytics

import (
	"database/sql"
	"errors"
	"fmt"

	"buzzboard/internal/db"
)

var (
	ErrUnknownCategory = errors.New("unknown leaderboard category")
	ErrPlayerNotFound  = errors.New("no games recorded for player")
)

type Queries struct {
	DB *db.DB
}

func NewQueries(database *db.DB) *Queries {
	return &Queries{DB: database}
}

func (q *Queries) GetGameRecap(gameID int64) (*GameRecap, error) {
	g, err := q.DB.GetGame(gameID)
	if err != nil {
		return nil, err
	}
	players, err := q.DB.GetGamePlayers(gameID)
	if err != nil {
		return nil, err
	}

	recap := &GameRecap{
		GameID:    g.ID,
		RoomCode:  g.RoomCode,
		StartedAt: g.StartedAt,
		EndedAt:   g.EndedAt,
		Players:   make([]PlayerGameStats, 0, len(players)),
	}
	for _, p := range players {
		stats := PlayerGameStats{
			PID:        p.PID,
			Name:       p.Name,
			Score:      p.FinalScore,
			Rank:       p.Rank,
			Correct:    p.Correct,
			Incorrect:  p.Incorrect,
			AvgLatency: p.AvgLatency,
		}
		stats.Badges = EvaluateGameBadges(stats)
		recap.Players = append(recap.Players, stats)
	}
	return recap, nil
}

// RecentRecaps returns the latest games played under a room code, newest first.
func (q *Queries) RecentRecaps(roomCode string, limit int) ([]GameRecap, error) {
	games, err := q.DB.RecentGames(roomCode, limit)
	if err != nil {
		return nil, err
	}
	out := make([]GameRecap, 0, len(games))
	for _, g := range games {
		recap, err := q.GetGameRecap(g.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *recap)
	}
	return out, nil
}

func (q *Queries) GetPlayerLifetimeStats(name string) (*PlayerLifetimeStats, error) {
	stats := &PlayerLifetimeStats{Name: name}

	err := q.DB.QueryRow(`
		SELECT
			COUNT(*) as games_played,
			COALESCE(SUM(final_score), 0) as total_score,
			COALESCE(MAX(final_score), 0) as best_game,
			COUNT(*) FILTER (WHERE rank = 1) as win_count
		FROM game_players
		WHERE name = $1
	`, name).Scan(&stats.GamesPlayed, &stats.TotalScore, &stats.BestGame, &stats.WinCount)
	if err != nil {
		return nil, fmt.Errorf("getting lifetime stats: %w", err)
	}
	if stats.GamesPlayed == 0 {
		return nil, ErrPlayerNotFound
	}

	// Win streak counts the most recent consecutive wins
	rows, err := q.DB.Query(`
		SELECT gp.rank
		FROM game_players gp
		JOIN games g ON g.id = gp.game_id
		WHERE gp.name = $1
		ORDER BY g.ended_at DESC, g.id DESC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("getting win streak: %w", err)
	}
	defer rows.Close()

	streak := 0
	for rows.Next() {
		var rank int
		if err := rows.Scan(&rank); err != nil {
			return nil, err
		}
		if rank != 1 {
			break
		}
		streak++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats.WinStreak = streak

	stats.Badges = EvaluateLifetimeBadges(*stats)
	return stats, nil
}

var leaderboardQueries = map[string]string{
	"score": `
		SELECT name, COALESCE(SUM(final_score), 0) as value
		FROM game_players
		GROUP BY name
		ORDER BY value DESC, name
		LIMIT $1`,
	"wins": `
		SELECT name, COUNT(*) FILTER (WHERE rank = 1) as value
		FROM game_players
		GROUP BY name
		ORDER BY value DESC, name
		LIMIT $1`,
	"correct": `
		SELECT name, COALESCE(SUM(correct_answers), 0) as value
		FROM game_players
		GROUP BY name
		ORDER BY value DESC, name
		LIMIT $1`,
	"best": `
		SELECT name, COALESCE(MAX(final_score), 0) as value
		FROM game_players
		GROUP BY name
		ORDER BY value DESC, name
		LIMIT $1`,
}

// LeaderboardCategory reports whether category is a known leaderboard.
func LeaderboardCategory(category string) bool {
	_, ok := leaderboardQueries[category]
	return ok
}

func (q *Queries) GetLeaderboard(category string, limit int) ([]LeaderboardEntry, error) {
	query, ok := leaderboardQueries[category]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	rows, err := q.DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("getting leaderboard: %w", err)
	}
	defer rows.Close()

	entries := []LeaderboardEntry{}
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Name, &e.Value); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rankEntries(entries)
	return entries, nil
}

// rankEntries assigns competition ranks to entries already sorted by value.
func rankEntries(entries []LeaderboardEntry) {
	for i := range entries {
		if i > 0 && entries[i].Value == entries[i-1].Value {
			entries[i].Rank = entries[i-1].Rank
		} else {
			entries[i].Rank = i + 1
		}
	}
}

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrPlayerNotFound)
}
