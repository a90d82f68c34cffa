package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/venuebooking/config"
	"github.com/Domenick1991/venuebooking/internal/bootstrap"
	"github.com/Domenick1991/venuebooking/internal/email"
	"github.com/Domenick1991/venuebooking/internal/kafka"
	"github.com/Domenick1991/venuebooking/internal/logging"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
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

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return core.RunBackground(ctx) })

	if len(cfg.Kafka.Brokers) > 0 {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic)
		defer consumer.Close()
		sender := email.NewSender(logger)

		g.Go(func() error {
			err := consumer.Consume(ctx, func(ctx context.Context, msg kafkaGo.Message) error {
				var event kafka.NotificationEvent
				if err := json.Unmarshal(msg.Value, &event); err != nil {
					logger.WithContext(ctx).WithError(err).Warn("skip undecodable notification")
					return nil
				}
				return sender.Send(ctx, event)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(cfg.Worker.SweepIntervalSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				report, err := core.Reconciler.Sweep(ctx, cfg.Booking.StalePendingAfter(), cfg.Booking.PaymentWindow())
				entry := logger.WithContext(ctx).WithFields(logrus.Fields{
					"checked": report.Checked,
					"settled": report.Settled,
					"expired": report.Expired,
					"failed":  report.Failed,
				})
				if err != nil {
					entry.WithError(err).Error("payment sweep")
					continue
				}
				if report.Checked > 0 {
					entry.Info("payment sweep")
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("worker stopped")
	}
}
