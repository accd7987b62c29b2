package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blixtwallet/blixtd/internal/config"
	"github.com/blixtwallet/blixtd/internal/core/application"
	"github.com/blixtwallet/blixtd/internal/infrastructure/bus"
	"github.com/blixtwallet/blixtd/internal/infrastructure/db"
	"github.com/blixtwallet/blixtd/internal/infrastructure/lnd"
	"github.com/blixtwallet/blixtd/internal/infrastructure/notifier"
	scheduler "github.com/blixtwallet/blixtd/internal/infrastructure/scheduler/gocron"
	"github.com/blixtwallet/blixtd/utils"
	log "github.com/sirupsen/logrus"
)

// nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const startupRetryInterval = 5 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	log.Infof("starting blixtd %s (%s, %s)...", version, commit, date)

	dbSvc, err := db.NewService(db.ServiceConfig{
		DbType:   cfg.DbType,
		DbConfig: []any{cfg.Datadir, nil},
	})
	if err != nil {
		log.WithError(err).Fatal("failed to open db")
	}

	busSvc := bus.NewService()
	lnSvc := lnd.NewService(busSvc)
	schedulerSvc := scheduler.NewScheduler()
	notifierSvc := notifier.NewService()

	appSvc := application.NewService(dbSvc, lnSvc, busSvc, schedulerSvc, notifierSvc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconcileInterval := time.Duration(cfg.ReconcileInterval) * time.Second

	// the node may still be starting up, keep trying until it answers
	log.Info("starting service...")
	if err := utils.Retry(ctx, startupRetryInterval, func(ctx context.Context) (bool, error) {
		if err := appSvc.Start(ctx, cfg.LndUrl, reconcileInterval); err != nil {
			log.WithError(err).Warn("failed to start service, retrying...")
			return false, nil
		}
		return true, nil
	}); err != nil {
		log.WithError(err).Fatal("failed to start service")
	}

	log.RegisterExitHandler(func() {
		appSvc.Stop()
		busSvc.Close()
		dbSvc.Close()
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down service...")
	log.Exit(0)
}
