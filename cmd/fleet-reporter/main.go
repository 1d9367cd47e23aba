package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/CityHopper/fleetsync/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	opts := reporterHTTPOpts{
		httpAddr:    cfg.Fleet.ReporterHTTPAddr,
		swaggerPath: os.Getenv("swaggerPath"),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := RunFleetReporter(ctx, cfg, opts, defaultReporterFactories()); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
