package db

import (
	"fmt"
	"time"

	"buzzboard/internal/events"
)

type GameRecord struct {
	ID        int64
	RoomCode  string
	StartedAt time.Time
	EndedAt   time.Time
	CreatedAt time.Time
}

type GamePlayerRecord struct {
	GameID     int64
	PID        int
	Name       string
	FinalScore int
	Rank       int
	Correct    int
	Incorrect  int
	AvgLatency int
}

// RecordGame stores a finished game and its standings in one transaction.
func (d *DB) RecordGame(r events.GameResult) (int64, error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow(`
		INSERT INTO games (room_code, started_at, ended_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, r.RoomCode, r.StartedAt, r.EndedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating game: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO game_players (game_id, pid, name, final_score, rank, correct_answers, incorrect_answers, avg_latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (game_id, pid) DO UPDATE SET final_score = $4, rank = $5
	`)
	if err != nil {
		return 0, fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range r.Standings {
		if _, err := stmt.Exec(id, s.PID, s.Name, s.Score, s.Rank, s.Correct, s.Incorrect, s.AvgLatency); err != nil {
			return 0, fmt.Errorf("adding game player: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing game: %w", err)
	}
	return id, nil
}

func (d *DB) GetGame(id int64) (*GameRecord, error) {
	var g GameRecord
	err := d.conn.QueryRow(`
		SELECT id, room_code, started_at, ended_at, created_at FROM games WHERE id = $1
	`, id).Scan(&g.ID, &g.RoomCode, &g.StartedAt, &g.EndedAt, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting game: %w", err)
	}
	return &g, nil
}

// GetGamePlayers returns a game's standings ordered by rank.
func (d *DB) GetGamePlayers(gameID int64) ([]GamePlayerRecord, error) {
	rows, err := d.conn.Query(`
		SELECT game_id, pid, name, final_score, rank, correct_answers, incorrect_answers, avg_latency_ms
		FROM game_players WHERE game_id = $1
		ORDER BY rank, pid
	`, gameID)
	if err != nil {
		return nil, fmt.Errorf("getting game players: %w", err)
	}
	defer rows.Close()

	var out []GamePlayerRecord
	for rows.Next() {
		var p GamePlayerRecord
		if err := rows.Scan(&p.GameID, &p.PID, &p.Name, &p.FinalScore, &p.Rank, &p.Correct, &p.Incorrect, &p.AvgLatency); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecentGames lists the latest games played under a room code, newest first.
func (d *DB) RecentGames(roomCode string, limit int) ([]GameRecord, error) {
	rows, err := d.conn.Query(`
		SELECT id, room_code, started_at, ended_at, created_at
		FROM games WHERE room_code = $1
		ORDER BY ended_at DESC, id DESC
		LIMIT $2
	`, roomCode, limit)
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}
	defer rows.Close()

	var out []GameRecord
	for rows.Next() {
		var g GameRecord
		if err := rows.Scan(&g.ID, &g.RoomCode, &g.StartedAt, &g.EndedAt, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
