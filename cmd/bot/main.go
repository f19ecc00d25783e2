package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rhyme-circle/internal/bot"
	"rhyme-circle/internal/config"
	"rhyme-circle/internal/db"
	"rhyme-circle/internal/game"
	"rhyme-circle/internal/metrics"
	"rhyme-circle/internal/telegram"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()
	if cfg.BotToken == "" {
		log.Fatal("BOT_TOKEN is not set")
	}

	conn, err := db.Open()
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer func() {
		if err := db.Close(conn); err != nil {
			log.Printf("database close failed: %v", err)
		}
	}()
	sqlDB, err := conn.DB()
	if err != nil {
		log.Fatalf("database pool unavailable: %v", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetimeSeconds) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.DBConnMaxIdleTimeSeconds) * time.Second)

	if err := db.Migrate(conn); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	client := telegram.NewClient(cfg.BotToken)
	notifier := bot.NewNotifier(client, collector)
	engine := game.New(conn, cfg, notifier)
	dispatcher := bot.NewDispatcher(engine, client, collector, cfg)

	opsServer := startOpsServer(cfg.MetricsAddr, collector)
	log.Printf("rhyme-circle bot polling metrics_addr=%s", cfg.MetricsAddr)
	poll(ctx, client, dispatcher, cfg.PollTimeoutSeconds)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("ops server shutdown failed: %v", err)
	}
	log.Println("rhyme-circle bot stopped")
}

func startOpsServer(addr string, collector *metrics.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", collector.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ops server failed: %v", err)
		}
	}()
	return server
}

func poll(ctx context.Context, client *telegram.Client, dispatcher *bot.Dispatcher, timeoutSeconds int) {
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := client.GetUpdates(ctx, offset, timeoutSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("get updates failed: %v", err)
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			message := update.Message
			if message == nil || message.From == nil || message.Text == "" {
				continue
			}
			inbound := bot.Update{
				UserID:    message.From.ID,
				Username:  message.From.Username,
				FirstName: message.From.FirstName,
				Text:      message.Text,
			}
			// Each command is an independent unit of work.
			go dispatcher.Handle(ctx, inbound)
		}
	}
}
