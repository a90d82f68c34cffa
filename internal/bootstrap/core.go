package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Domenick1991/venuebooking/config"
	"github.com/Domenick1991/venuebooking/internal/cache"
	"github.com/Domenick1991/venuebooking/internal/inventory"
	"github.com/Domenick1991/venuebooking/internal/kafka"
	"github.com/Domenick1991/venuebooking/internal/lock"
	"github.com/Domenick1991/venuebooking/internal/metrics"
	"github.com/Domenick1991/venuebooking/internal/notify"
	"github.com/Domenick1991/venuebooking/internal/payment"
	"github.com/Domenick1991/venuebooking/internal/repository"
	"github.com/Domenick1991/venuebooking/internal/service/booking"
	"github.com/Domenick1991/venuebooking/internal/service/catalog"
	"github.com/Domenick1991/venuebooking/internal/service/moderation"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Core is the service graph shared by the API server and the worker.
type Core struct {
	Bookings   *booking.BookingService
	Reconciler *payment.Reconciler
	Workflow   *moderation.Workflow
	Catalog    *catalog.CatalogService
	Locks      *lock.Registry

	closers    []func() error
	background []func(ctx context.Context) error
}

// NewCore connects the configured backends and wires the services on top.
func NewCore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Core, error) {
	c := &Core{}

	repos, guard, err := c.repositories(ctx, cfg, logger)
	if err != nil {
		c.Close(logger)
		return nil, err
	}

	var ledgerOpts []inventory.LedgerOption
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisCache(cfg.Redis, cfg.Booking.CacheTTL())
		c.closers = append(c.closers, redisCache.Close)
		ledgerOpts = append(ledgerOpts, inventory.WithCache(redisCache))
	}

	var notifier notify.Notifier = notify.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, logger)
		c.closers = append(c.closers, producer.Close)
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := producer.CheckConnection(checkCtx); err != nil {
			logger.WithError(err).Warn("kafka unreachable, notifications will be retried per message")
		}
		cancel()
		kafkaNotifier := notify.NewKafkaNotifier(producer, cfg.Kafka.NotificationsTopic, logger)
		c.background = append(c.background, kafkaNotifier.Run)
		notifier = kafkaNotifier
	}

	lockOpts := []lock.Option{lock.WithWaitObserver(metrics.ObserveLockWait)}
	if guard != nil {
		lockOpts = append(lockOpts, lock.WithGuard(guard))
	}
	locks := lock.NewRegistry(lockOpts...)
	c.Locks = locks
	ledger := inventory.NewLedger(locks, repos.Occurrences, logger, ledgerOpts...)
	gateway := payment.NewTelrGateway(cfg.Telr, &http.Client{
		Timeout: time.Duration(cfg.Telr.TimeoutSecond) * time.Second,
	}, logger)

	c.Bookings = booking.NewBookingService(repos.Bookings, ledger, gateway, notifier, logger,
		booking.WithCurrency(cfg.Booking.Currency))
	c.Reconciler = payment.NewReconciler(gateway, c.Bookings, logger,
		payment.WithPolling(cfg.Booking.PollInterval(), cfg.Booking.PollAttempts))
	c.Workflow = moderation.NewWorkflow(repos, locks, ledger, c.Bookings, notifier, logger)
	c.Catalog = catalog.NewCatalogService(repos, ledger, logger)
	return c, nil
}

// repositories opens the configured store. A shared store also returns the
// guard that extends resource locks to every process using it; the memory
// store is private to one process and needs none.
func (c *Core) repositories(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*repository.Repositories, lock.Guard, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return repository.NewMemoryRepositories(), nil, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		c.closers = append(c.closers, func() error { pool.Close(); return nil })
		if err := repository.Migrate(ctx, pool); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		locker := repository.NewAdvisoryLocker(pool, logger)
		c.closers = append(c.closers, locker.Close)
		return repository.NewPGRepositories(pool), locker, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// RunBackground runs the loops the services rely on, such as notification
// delivery, until ctx is done.
func (c *Core) RunBackground(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range c.background {
		job := job
		g.Go(func() error { return job(ctx) })
	}
	return g.Wait()
}

// Close releases backend connections in reverse order of acquisition.
func (c *Core) Close(logger *logrus.Logger) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logger.WithError(err).Warn("close backend")
		}
	}
}
