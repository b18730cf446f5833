package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grimm.is/touchpad/internal/brand"
	"grimm.is/touchpad/internal/config"
	"grimm.is/touchpad/internal/logging"
	"grimm.is/touchpad/internal/pipeline"
)

const shutdownGrace = 5 * time.Second

func main() {
	flags := flag.NewFlagSet(brand.LowerName, flag.ExitOnError)
	configFile := flags.String("config", brand.DefaultConfigPath(), "Configuration file")
	flags.StringVar(configFile, "c", brand.DefaultConfigPath(), "Configuration file (short)")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", brand.Name, err)
		os.Exit(1)
	}

	logging.SetDefault(logging.New(logging.Config{Level: parseLevel(cfg.LogLevel), Output: os.Stderr}))
	logging.SetPrefix(brand.Name)

	p, err := pipeline.New(cfg)
	if err != nil {
		logging.Error("failed to assemble pipeline", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil {
		logging.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logging.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := p.Close(shutdownCtx); err != nil {
		logging.Error("shutdown did not complete cleanly", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
