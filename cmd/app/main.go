package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/venuebooking/api"
	"github.com/Domenick1991/venuebooking/config"
	"github.com/Domenick1991/venuebooking/internal/bootstrap"
	"github.com/Domenick1991/venuebooking/internal/logging"
	"github.com/sirupsen/logrus"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := bootstrap.NewCore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("wire services")
	}
	defer core.Close(logger)

	handlers := api.Handlers{
		Bookings:   api.NewBookingHandler(core.Bookings, core.Reconciler),
		Catalog:    api.NewCatalogHandler(core.Catalog),
		Moderation: api.NewModerationHandler(core.Workflow),
	}
	if err := bootstrap.Run(ctx, cfg, handlers, logger, core.RunBackground); err != nil {
		logger.WithError(err).Error("server stopped")
	}
}
