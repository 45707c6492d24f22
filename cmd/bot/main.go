package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ai-relay/internal/analytics"
	"ai-relay/internal/auth"
	"ai-relay/internal/config"
	"ai-relay/internal/history"
	"ai-relay/internal/llm"
	"ai-relay/internal/logger"
	"ai-relay/internal/personality"
	"ai-relay/internal/ratelimit"
	"ai-relay/internal/relay"
	"ai-relay/internal/scheduler"
	"ai-relay/internal/server"
	"ai-relay/internal/store"
	"ai-relay/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		stdlog.Printf("warning: .env file not found: %v", err)
	}

	cfg := config.New()
	log := logger.New(cfg.LogLevel)

	fileStore, err := store.NewFileStore(cfg.StateDirPath)
	if err != nil {
		log.WithError(err).Fatal("failed to init state store")
	}
	usage, err := store.NewUsageLog(cfg.UsageLogPath)
	if err != nil {
		log.WithError(err).Fatal("failed to init usage log")
	}

	var allowRepo auth.Repository
	if cfg.AllowlistPath != "" {
		repo, err := auth.NewFileRepository(cfg.AllowlistPath)
		if err != nil {
			log.WithError(err).Warn("failed to init allowlist repo")
		} else {
			allowRepo = repo
		}
	}
	authSvc, err := auth.New(allowRepo, cfg.AllowedUsers)
	if err != nil {
		log.WithError(err).Fatal("failed to init auth")
	}

	llmClient, err := llm.NewFactory(cfg).CreateClient(cfg.LLMProvider)
	if err != nil {
		log.WithError(err).Fatal("failed to create llm client")
	}

	tgClient, err := telegram.New(cfg.TelegramBotToken)
	if err != nil {
		log.WithError(err).Fatal("failed to create telegram client")
	}

	coord := relay.NewCoordinator(
		tgClient,
		llmClient,
		authSvc,
		ratelimit.New(fileStore, cfg.RateLimitBurst),
		personality.New(fileStore),
		history.NewManager(),
		usage,
		log,
		relay.Options{
			SystemPrompt:     readSystemPrompt(cfg.SystemPromptPath),
			AdminUser:        cfg.AdminUserID,
			AnimatorDeadline: time.Duration(cfg.AnimatorDeadlineSeconds) * time.Second,
		},
	)

	sched := scheduler.New(log)
	sched.SetReportFunction(func(ctx context.Context) error {
		events, err := usage.Load()
		if err != nil {
			return err
		}
		day := time.Now().UTC()
		stats := analytics.Aggregate(analytics.ForDay(events, day))
		if cfg.AdminUserID != 0 {
			_, err = tgClient.SendMessage(cfg.AdminUserID, stats.Summary(day.Format("2006-01-02")))
			return err
		}
		log.Info(stats.Summary(day.Format("2006-01-02")))
		return nil
	})
	if err := sched.Start(); err != nil {
		log.WithError(err).Warn("scheduler failed to start")
	}
	defer sched.Stop()

	srv := server.New(cfg.ListenAddr, coord, tgClient, usage, cfg.PublicDomain, log)

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("shutdown failed")
		}
	}()

	if err := srv.Start(); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func readSystemPrompt(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
