package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Domenick1991/venuebooking/api"
	"github.com/Domenick1991/venuebooking/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Run serves the HTTP API next to the given background jobs and blocks
// until ctx is canceled or one of them fails.
func Run(ctx context.Context, cfg *config.Config, handlers api.Handlers, logger *logrus.Logger, jobs ...func(ctx context.Context) error) error {
	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           api.NewRouter(cfg, handlers, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error { return job(ctx) })
	}
	g.Go(func() error {
		logger.WithField("address", cfg.HTTP.Address).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})
	return g.Wait()
}
