package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/app"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	flag.Parse()

	cfg, errLoad := config.Load(*configPath)
	if errLoad != nil {
		log.Fatalf("load config: %v", errLoad)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrateOnly {
		if errMigrate := app.Migrate(ctx, cfg); errMigrate != nil {
			log.Fatalf("migrate: %v", errMigrate)
		}
		return
	}

	if errRun := app.Run(ctx, cfg); errRun != nil {
		log.Fatalf("server: %v", errRun)
	}
}
