package db

import (
	"os"
	"testing"
	"time"

	"buzzboard/internal/events"
)

func getTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database tests")
	}
	database, err := Connect(dsn)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if _, err := database.Migrate(); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	t.Cleanup(func() {
		// Clean up test data
		database.conn.Exec("DELETE FROM game_players")
		database.conn.Exec("DELETE FROM games")
		database.Close()
	})
	return database
}

func TestConnect(t *testing.T) {
	database := getTestDB(t)
	if err := database.Ping(); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}

func TestMigrate(t *testing.T) {
	database := getTestDB(t)

	applied, err := database.Migrate()
	if err != nil {
		t.Fatalf("second Migrate() error: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("second Migrate() applied %v, want nothing", applied)
	}

	tables := []string{"games", "game_players", "schema_migrations"}
	for _, table := range tables {
		var exists bool
		err := database.conn.QueryRow(`
			SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)
		`, table).Scan(&exists)
		if err != nil {
			t.Errorf("checking table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestRecordGame(t *testing.T) {
	database := getTestDB(t)

	started := time.Now().Add(-10 * time.Minute).UTC().Truncate(time.Second)
	ended := started.Add(10 * time.Minute)
	id, err := database.RecordGame(events.GameResult{
		RoomCode:  "ABCDEF",
		StartedAt: started,
		EndedAt:   ended,
		Standings: events.Rank([]events.Standing{
			{PID: 1, Name: "Alice", Score: 200, Correct: 1, Incorrect: 2},
			{PID: 2, Name: "Bob", Score: 500, Correct: 3, AvgLatency: 42},
		}),
	})
	if err != nil {
		t.Fatalf("RecordGame() error: %v", err)
	}

	g, err := database.GetGame(id)
	if err != nil {
		t.Fatalf("GetGame() error: %v", err)
	}
	if g.RoomCode != "ABCDEF" {
		t.Errorf("RoomCode = %q, want %q", g.RoomCode, "ABCDEF")
	}
	if !g.StartedAt.Equal(started) || !g.EndedAt.Equal(ended) {
		t.Errorf("times = %v..%v, want %v..%v", g.StartedAt, g.EndedAt, started, ended)
	}

	players, err := database.GetGamePlayers(id)
	if err != nil {
		t.Fatalf("GetGamePlayers() error: %v", err)
	}
	if len(players) != 2 {
		t.Fatalf("players = %d, want 2", len(players))
	}
	if players[0].Name != "Bob" || players[0].Rank != 1 || players[0].FinalScore != 500 {
		t.Errorf("first = %+v, want Bob rank 1 score 500", players[0])
	}
	if players[0].Correct != 3 || players[0].AvgLatency != 42 {
		t.Errorf("first stats = %+v, want 3 correct at 42ms", players[0])
	}
	if players[1].Incorrect != 2 {
		t.Errorf("second incorrect = %d, want 2", players[1].Incorrect)
	}
	if players[1].Name != "Alice" || players[1].Rank != 2 {
		t.Errorf("second = %+v, want Alice rank 2", players[1])
	}
}

func TestRecordGame_NoPlayers(t *testing.T) {
	database := getTestDB(t)

	now := time.Now()
	id, err := database.RecordGame(events.GameResult{RoomCode: "EMPTYX", StartedAt: now, EndedAt: now})
	if err != nil {
		t.Fatalf("RecordGame() error: %v", err)
	}
	players, err := database.GetGamePlayers(id)
	if err != nil {
		t.Fatalf("GetGamePlayers() error: %v", err)
	}
	if len(players) != 0 {
		t.Errorf("players = %d, want 0", len(players))
	}
}

func TestGetGame_NotFound(t *testing.T) {
	database := getTestDB(t)

	if _, err := database.GetGame(-1); err == nil {
		t.Error("GetGame() should return error for nonexistent game")
	}
}

func TestRecentGames(t *testing.T) {
	database := getTestDB(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		end := base.Add(time.Duration(i) * time.Minute)
		if _, err := database.RecordGame(events.GameResult{RoomCode: "QRSTUV", StartedAt: base, EndedAt: end}); err != nil {
			t.Fatal(err)
		}
	}
	database.RecordGame(events.GameResult{RoomCode: "OTHERS", StartedAt: base, EndedAt: base})

	games, err := database.RecentGames("QRSTUV", 2)
	if err != nil {
		t.Fatalf("RecentGames() error: %v", err)
	}
	if len(games) != 2 {
		t.Fatalf("games = %d, want 2", len(games))
	}
	if !games[0].EndedAt.After(games[1].EndedAt) {
		t.Error("games should be newest first")
	}
}
