package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"auction-stream/internal/config"
	"auction-stream/internal/server"
	"auction-stream/utils"

	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	pflag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		utils.Fatal("failed to load config", map[string]any{"error": err.Error()})
	}
	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		utils.Warn("unknown log level, keeping info", map[string]any{"level": cfg.LogLevel})
	}
	utils.SetBaseFields(map[string]any{"instance": cfg.Instance.ID})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		utils.Fatal("failed to initialise server", map[string]any{"error": err.Error()})
	}

	if cfg.SeedDemo() {
		if err := app.SeedDemoAuctions(ctx); err != nil {
			utils.Fatal("failed to seed demo auctions", map[string]any{"error": err.Error()})
		}
	}

	if err := app.Run(ctx); err != nil {
		utils.Fatal("server stopped with error", map[string]any{"error": err.Error()})
	}
}
