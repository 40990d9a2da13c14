package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dbehnke/hbp-server/pkg/config"
	"github.com/dbehnke/hbp-server/pkg/counters"
	"github.com/dbehnke/hbp-server/pkg/events"
	"github.com/dbehnke/hbp-server/pkg/logger"
	"github.com/dbehnke/hbp-server/pkg/network"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const emitterFlushDeadline = 2 * time.Second

func main() {
	configFile := flag.String("config", "config.json", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("hbp-server %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	bootLog := logger.New(logger.Config{Level: "info"})

	cfg, err := config.Load(*configFile)
	if err != nil {
		bootLog.Error("Failed to load configuration", logger.Error(err))
		os.Exit(1)
	}

	if *validate {
		bootLog.Info("Configuration is valid")
		os.Exit(0)
	}

	log := logger.New(logger.Config{
		Level: cfg.Global.LogLevel,
		File:  cfg.Global.LogFile,
	})

	log.Info("Starting hbp-server",
		logger.String("version", version),
		logger.String("build_time", buildTime),
		logger.String("config_file", *configFile))

	daily, err := counters.Load(cfg.Global.CountersFile)
	if err != nil {
		log.Warn("Failed to load daily counters, starting fresh", logger.Error(err))
		daily = counters.New()
	}

	emitter := events.New(cfg.EmitterOptions(), log.WithComponent("events"))
	if err := emitter.Start(); err != nil {
		log.Error("Failed to start event emitter", logger.Error(err))
		os.Exit(1)
	}

	srv, err := network.NewServer(cfg, log, emitter, daily)
	if err != nil {
		log.Error("Failed to build server", logger.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.Info("Shutting down", logger.String("signal", sig.String()))
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Server error", logger.Error(err))
			if errors.Is(err, network.ErrBind) {
				exitCode = 2
			} else {
				exitCode = 1
			}
		}
	}

	emitter.Stop(emitterFlushDeadline)

	if err := daily.Save(cfg.Global.CountersFile); err != nil {
		log.Warn("Failed to persist daily counters", logger.Error(err))
	}

	log.Info("Shutdown complete")
	os.Exit(exitCode)
}
