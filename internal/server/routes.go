package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"buzzboard/internal/analytics"
	"buzzboard/internal/board"
	"buzzboard/internal/config"
	"buzzboard/internal/db"
	"buzzboard/internal/events"
	"buzzboard/internal/rooms"
	"buzzboard/internal/wshub"
)

const shutdownTimeout = 10 * time.Second

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg config.Config) error {
	var defaultBoard board.Board
	if cfg.Board != "" {
		b, err := board.Load(cfg.Board)
		if err != nil {
			return fmt.Errorf("loading board: %w", err)
		}
		defaultBoard = b
		log.Printf("[Server] Default board %s: %d categories, %d questions\n", cfg.Board, len(b), b.Remaining())
	}

	bus := events.NewBus()

	srv := &Server{
		Hub: wshub.NewHub(),
		Cfg: cfg,
	}

	// Optional database connection
	if cfg.DatabaseURL != "" {
		database, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Printf("[DB] Failed to connect: %v (running without database)\n", err)
		} else {
			srv.DB = database
			srv.Stats = analytics.NewQueries(database)
			defer database.Close()
			logMigration(database.Migrate())
		}
	} else {
		log.Println("[DB] database-url not set, running without database")
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		resultWriter(ctx, srv.DB, bus.Results)
	}()

	srv.Rooms = rooms.NewRegistry(rooms.RegistryConfig{
		DefaultBoard:  defaultBoard,
		RoomTTL:       cfg.RoomTTL,
		PlayerTimeout: cfg.PlayerTimeout,
		Bus:           bus,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on http://%s\n", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Println("Shutting down server...")
	case err := <-errCh:
		runErr = fmt.Errorf("serving http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v\n", err)
	}

	// Hijacked websockets are not tracked by http.Server.
	srv.Hub.CloseAll("server shutting down")
	srv.Rooms.Close()
	<-writerDone

	log.Println("Server exited")
	return runErr
}

func logMigration(applied []string, err error) {
	switch {
	case err != nil:
		log.Printf("[DB] Migration failed: %v (applied %d before the failure)\n", err, len(applied))
	case len(applied) == 0:
		log.Println("[DB] Database connected, schema up to date")
	default:
		log.Printf("[DB] Database connected and %d migrations applied\n", len(applied))
	}
}

// resultWriter persists finished games until ctx is done, then drains what is
// already queued. Without a database results are only logged.
func resultWriter(ctx context.Context, database *db.DB, results <-chan events.GameResult) {
	for {
		select {
		case r := <-results:
			recordResult(database, r)
		case <-ctx.Done():
			for {
				select {
				case r := <-results:
					recordResult(database, r)
				default:
					return
				}
			}
		}
	}
}

func recordResult(database *db.DB, r events.GameResult) {
	winner := "nobody"
	if len(r.Standings) > 0 {
		winner = fmt.Sprintf("%s (%d)", r.Standings[0].Name, r.Standings[0].Score)
	}
	log.Printf("[Results] Room %s finished with %d players, winner %s\n", r.RoomCode, len(r.Standings), winner)
	for _, st := range r.Standings {
		for _, b := range analytics.FromStanding(st).Badges {
			log.Printf("[Results] Room %s: %s earned %s\n", r.RoomCode, st.Name, b.Name)
		}
	}

	if database == nil {
		return
	}
	id, err := database.RecordGame(r)
	if err != nil {
		log.Printf("[DB] RecordGame error: %v\n", err)
		return
	}
	log.Printf("[DB] Recorded game %d for room %s\n", id, r.RoomCode)
}
