package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nged-substations/internal/app"
	"github.com/nged-substations/internal/config"
	"github.com/nged-substations/internal/logging"
	"github.com/nged-substations/internal/web"
)

func main() {
	configFile := flag.String("config", "", "config file (default ./reconciler.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	logging.SetDefault(logger)

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise")
	}

	logger.Info().
		Str("addr", cfg.Server.Addr()).
		Str("store", cfg.Store.Backend).
		Bool("export", cfg.Features.ExportEnabled).
		Bool("manual_override", cfg.Features.ManualOverrideEnabled).
		Msg("curator web interface")

	if err := web.NewServer(a).Start(); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
