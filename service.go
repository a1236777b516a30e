package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ewintr.nl/shortwatch/baseline"
	"ewintr.nl/shortwatch/config"
	"ewintr.nl/shortwatch/fetch"
	"ewintr.nl/shortwatch/handler"
	"ewintr.nl/shortwatch/metrics"
	"ewintr.nl/shortwatch/notify"
	"ewintr.nl/shortwatch/process"
	"ewintr.nl/shortwatch/quota"
	"ewintr.nl/shortwatch/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/exp/slog"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("unable to open store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeStore()

	cache := storage.NewBaselineCache(cfg.RedisURL, logger)
	defer cache.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	creds, err := quota.LoadCredentials(ctx, store, cfg.APIKeys, time.Now())
	if err != nil {
		logger.Error("unable to load api credentials", slog.String("error", err.Error()))
		os.Exit(1)
	}
	pool, err := quota.NewPool(creds, quota.NewTracker(cfg.DailyLimit, nil), quota.PoolConfig{
		WarningThreshold:   cfg.WarningThreshold,
		EmergencyThreshold: cfg.EmergencyThreshold,
		MaxErrors:          cfg.MaxErrors,
	}, logger)
	if err != nil {
		logger.Error("unable to create credential pool", slog.String("error", err.Error()))
		os.Exit(1)
	}
	m.SetQuota(pool.Status())

	yt := fetch.NewYoutube(fetch.NewExecutor(pool, m, logger))
	engine := baseline.NewEngine(store, store, store, cache, baseline.Config{
		Lookback:   cfg.BaselineLookback,
		ShortsOnly: true,
	}, logger)

	policy, err := process.NewPolicy(process.PolicyConfig{
		Name:              cfg.Policy,
		AbsoluteThreshold: cfg.AbsoluteThreshold,
		Percentile:        cfg.Percentile,
		AverageMultiple:   cfg.AverageMultiple,
	})
	if err != nil {
		logger.Error("invalid notification policy", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("notification policy", slog.String("policy", policy.Name()), slog.Duration("mindwell", cfg.MinDwell))

	enrichers := process.NewEnrichers(logger)
	if cfg.OpenAIKey != "" {
		enrichers = process.NewEnrichers(logger, process.NewOpenAISummarizer(openai.NewClient(cfg.OpenAIKey)))
	}

	var notifier process.Notifier = notify.NewLog(logger)
	if cfg.DiscordToken != "" {
		session, err := notify.NewDiscordSession(cfg.DiscordToken)
		if err != nil {
			logger.Error("unable to create discord session", slog.String("error", err.Error()))
			os.Exit(1)
		}
		notifier = notify.NewDiscord(session, cfg.DiscordChannelID, logger)
	}

	evaluator := process.NewEvaluator(store, engine, policy, enrichers, notifier, process.EvaluatorConfig{
		Window:       cfg.Window,
		MinDwell:     cfg.MinDwell,
		RecentVideos: cfg.RecentVideos,
	}, m, logger)

	monitor := fetch.NewMonitor(store, pool, yt, engine, evaluator, fetch.MonitorConfig{
		PlaylistDepth:   cfg.PlaylistDepth,
		Window:          cfg.Window,
		ShortMaxSeconds: cfg.ShortMaxSeconds,
		ChannelPause:    cfg.ChannelPause,
	}, m, logger)

	cronLogger := cronLog{logger: logger}
	cycle := cron.NewChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)).Then(cron.FuncJob(func() {
		if _, err := monitor.RunCycle(ctx); err != nil {
			logger.Error("monitoring cycle failed", slog.String("error", err.Error()))
		}
	}))
	scheduler := cron.New(cron.WithLogger(cronLogger))
	scheduler.Schedule(cron.Every(cfg.Interval), cycle)
	scheduler.Start()
	go cycle.Run()
	logger.Info("monitor started", slog.Duration("interval", cfg.Interval))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: handler.NewServer(pool, monitor, store, engine, engine, store, m.Handler(), logger),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", slog.String("error", err.Error()))
			stop()
		}
	}()
	logger.Info("http server started", slog.Int("port", cfg.APIPort))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("monitoring cycle did not finish in time")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", slog.String("error", err.Error()))
	}
	if err := pool.Flush(shutdownCtx, store); err != nil {
		logger.Error("failed to persist quota usage", slog.String("error", err.Error()))
	}

	logger.Info("service stopped")
}

func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, func(), error) {
	if cfg.DatabaseDriver == "memory" {
		logger.Warn("using in-memory store, nothing will be persisted")
		return storage.NewMemory(), func() {}, nil
	}

	postgres, err := storage.NewPostgres(storage.PostgresInfo{
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		Database: cfg.PostgresDB,
	})
	if err != nil {
		return nil, nil, err
	}

	return postgres, func() { postgres.Close() }, nil
}

// cronLog routes the scheduler's own messages to slog.
type cronLog struct {
	logger *slog.Logger
}

func (c cronLog) Info(msg string, keysAndValues ...any) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c cronLog) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error(msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
