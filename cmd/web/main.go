package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"buzzboard/internal/config"
	"buzzboard/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.NewCommand(server.Run).ExecuteContext(ctx); err != nil {
		log.Fatal(err.Error())
	}
}
