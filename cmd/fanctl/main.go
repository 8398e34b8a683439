package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fanctl/internal/config"
	"fanctl/internal/logger"
	"fanctl/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "/etc/fanctl/config.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logs := web.NewLogBuffer(1000)
	lg, closeLog, err := logger.New(cfg.Log, logs)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lg.Info("fanctl starting", "config", configPath)
	a, err := newApp(ctx, cfg, lg, logs)
	if err != nil {
		lg.Error("fanctl init failed", "error", err)
		_ = closeLog()
		os.Exit(1)
	}
	if err := a.run(ctx); err != nil {
		lg.Error("fanctl stopped", "error", err)
		_ = closeLog()
		os.Exit(1)
	}
	lg.Info("fanctl stopped")
	_ = closeLog()
}
