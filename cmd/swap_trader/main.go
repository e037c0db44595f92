package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"swap_trader/internal/app"
	"swap_trader/internal/config"
	"swap_trader/pkg/logging"
	"swap_trader/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "configs/swap_trader.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	tel, err := telemetry.Setup("swap_trader")
	if err != nil {
		logger.Fatal("Telemetry setup failed", "error", err.Error())
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err.Error())
		}
	}()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("Startup failed", "error", err.Error())
	}

	if err := a.Run(); err != nil {
		logger.Fatal("Exited with error", "error", err.Error())
	}
}
