package main

import (
	"context"
	"os"
	"time"

	"github.com/jmhodges/clock"
	"go.uber.org/zap"

	"remindly/action"
	"remindly/config"
	"remindly/engine"
	"remindly/notify"
	"remindly/sessions"
	"remindly/store"
	"remindly/syncbridge"
	"remindly/web"
)

// getLogger creates a logger in global namespace
func getLogger() (*zap.SugaredLogger, func() error) {
	logger, _ := zap.NewDevelopment(zap.Fields(zap.String("ns", "remindly")))

	log := logger.Sugar()
	return log, logger.Sync
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, func(), error) {
	if cfg.Driver == "memory" {
		return store.NewMemory(), func() {}, nil
	}

	pg, err := store.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func main() {
	logger, syncLogs := getLogger()
	defer syncLogs()

	cfg, err := config.Load(os.Getenv("REMINDLY_CONFIG"))
	if err != nil {
		logger.Fatalw("couldn't read configuration", "err", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalw("invalid configuration", "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Fatalw("failed to initialize store", "err", err)
	}
	defer closeStore()

	presenter, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
	if err != nil {
		logger.Fatalw("failed to initialize Telegram presenter", "err", err)
	}

	clk := clock.New()
	hub := sessions.NewHub(logger)
	eng := engine.New(st, presenter, clk, logger)
	actions := action.NewHandler(st, presenter, hub, clk, logger)

	var bridge *syncbridge.Bridge
	if cfg.Sync.BaseURL != "" {
		remote := syncbridge.NewRemote(cfg.Sync.BaseURL, cfg.Sync.APIKey, time.Duration(cfg.Sync.TimeoutSec)*time.Second)
		bridge = syncbridge.New(st, remote, logger)
		if err := bridge.Start(cfg.Sync.Schedule); err != nil {
			logger.Fatalw("failed to start sync bridge", "err", err)
		}
		defer bridge.Stop()
	}

	if err := eng.Start(cfg.Scan.Schedule); err != nil {
		logger.Fatalw("failed to start reminder engine", "err", err)
	}
	defer eng.Stop()

	go presenter.Listen(ctx, func(ctx context.Context, act string, meta notify.Metadata) {
		if err := actions.Handle(ctx, act, meta); err != nil {
			logger.Errorw("notification action failed", "action", act, "err", err)
		}
	})

	srv := web.New(cfg.APIKey, st, eng, actions, bridge, hub, clk, logger)
	if err := srv.Listen(cfg.Listen); err != nil {
		logger.Fatalw("server stopped", "err", err)
	}
}
