// cmd/discord/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "rollcall/internal/command"

	"rollcall/internal/api"
	"rollcall/internal/attendance"
	"rollcall/internal/backend"
	"rollcall/internal/config"
	"rollcall/internal/discord"
	"rollcall/internal/storage"
	v "rollcall/internal/version"
)

func main() {
	log.Printf("[INFO] Starting %v bot...", v.AppName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.New()

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	tracker := attendance.NewTracker(store, cfg.ConflictRetries)
	client := backend.NewClient(cfg.BackendURL, cfg.BackendToken)

	// The bot doubles as the manager's presence source, so it is built
	// first and given the manager afterwards.
	bot := discord.NewBot(cfg, store, tracker, nil)
	manager := attendance.NewManager(store, tracker, bot, client, attendance.ManagerConfig{
		Workers:       cfg.FinalizeWorkers,
		RecordTimeout: cfg.StoreTimeout,
	})
	bot.SetManager(manager)

	server := api.NewServer(cfg.APIAddr, manager, store)

	errCh := make(chan error, 2)
	go func() {
		if err := bot.Run(ctx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := server.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Printf("[INFO] Received signal %s, shutting down...\n", s)
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Println("[ERR] Runtime error:", err)
		}
		cancel()
	case <-ctx.Done():
	}

	log.Println("[INFO] Discord bot exited cleanly")
}
