package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netwatchd/internal/api"
	"github.com/dmdmdm-nz/netwatchd/internal/netmon"
	"github.com/dmdmdm-nz/netwatchd/internal/runtime"
	"github.com/dmdmdm-nz/netwatchd/pkg/cli"
)

func main() {
	// Parse command line flags
	cfg := cli.ParseFlags()

	// Configure logging
	setLogLevel(cfg.LogLevel)
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FullTimestamp:   true,
	})

	log.Infof("Config: Host=%s", cfg.Host)
	log.Infof("Config: Port=%d", cfg.Port)
	log.Infof("Config: QuietPeriod=%s", cfg.QuietPeriod)
	log.Infof("Config: LogLevel=%s", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watcher, err := netmon.NewWatcher(netmon.Config{QuietPeriod: cfg.QuietPeriod})
	if err != nil {
		log.WithError(err).Error("Failed to start network change watcher")
		os.Exit(1)
	}

	apiSvc := api.NewService(cfg.Host, cfg.Port)

	// Wire subscribers BEFORE anything can fire.
	apiSvc.AttachWatcher(watcher)
	watcher.Notify(func() {
		log.Info("Network configuration changed")
	})

	super := runtime.NewSupervisor()
	super.Add("netmon", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}, watcher.Close)
	super.Add("api", apiSvc.Start, apiSvc.Close)

	if err := super.Start(ctx); err != nil {
		log.WithError(err).Error("Supervisor start failed")
		os.Exit(1)
	}
	if err := super.Wait(ctx); err != nil {
		log.WithError(err).Error("Supervisor wait failed")
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}
