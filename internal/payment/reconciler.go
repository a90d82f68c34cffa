package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/Domenick1991/venuebooking/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Machine is the part of the booking state machine the reconciler drives.
type Machine interface {
	Get(ctx context.Context, bookingID string) (*domain.Booking, error)
	// Apply performs a gateway- or system-initiated transition.
	Apply(ctx context.Context, bookingID string, to domain.BookingStatus) (*domain.Booking, error)
	// Unsettled lists Pending and OnHold bookings created before cutoff.
	Unsettled(ctx context.Context, cutoff time.Time) ([]*domain.Booking, error)
}

type Reconciler struct {
	gateway  Gateway
	machine  Machine
	interval time.Duration
	attempts int
	logger   *logrus.Logger
	now      func() time.Time
}

type ReconcilerOption func(*Reconciler)

func WithPolling(interval time.Duration, attempts int) ReconcilerOption {
	return func(r *Reconciler) {
		r.interval = interval
		r.attempts = attempts
	}
}

func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

func NewReconciler(gateway Gateway, machine Machine, logger *logrus.Logger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		gateway:  gateway,
		machine:  machine,
		interval: 2 * time.Second,
		attempts: 10,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.attempts < 1 {
		r.attempts = 1
	}
	return r
}

// Settle polls the gateway until the booking reaches a terminal status, the
// attempt budget runs out or ctx ends. Only the waits between polls are
// cancellable. A gateway answer that cannot be understood leaves the
// booking untouched.
func (r *Reconciler) Settle(ctx context.Context, bookingID string) (*domain.Booking, error) {
	b, err := r.machine.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status.Settled() {
		return b, nil
	}
	if b.GatewayRef == "" {
		return b, domain.ErrMissingGatewayRef
	}
	log := r.logger.WithContext(ctx).WithFields(logrus.Fields{"booking_id": b.ID, "order_ref": b.GatewayRef})

	for attempt := 1; ; attempt++ {
		status, err := r.check(ctx, b.GatewayRef)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("payment status unavailable")
			return b, err
		}

		if status.Settled() {
			return r.machine.Apply(ctx, b.ID, status)
		}
		if status == domain.BookingStatusOnHold && b.Status != domain.BookingStatusOnHold {
			if b, err = r.machine.Apply(ctx, b.ID, status); err != nil {
				return b, err
			}
		}

		if attempt >= r.attempts {
			return b, domain.ErrPaymentStillPending
		}
		select {
		case <-ctx.Done():
			return b, ctx.Err()
		case <-time.After(r.interval):
		}
	}
}

// SweepReport summarizes one background pass.
type SweepReport struct {
	Checked int
	Settled int
	Expired int
	Failed  int
}

// Sweep checks every booking left unsettled for longer than staleAfter
// once, and expires those still open after expireAfter.
func (r *Reconciler) Sweep(ctx context.Context, staleAfter, expireAfter time.Duration) (SweepReport, error) {
	var report SweepReport
	now := r.now()

	stale, err := r.machine.Unsettled(ctx, now.Add(-staleAfter))
	if err != nil {
		return report, fmt.Errorf("list unsettled bookings: %w", err)
	}

	for _, b := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		log := r.logger.WithContext(ctx).WithField("booking_id", b.ID)

		status := domain.BookingStatusPending
		if b.GatewayRef != "" {
			status, err = r.check(ctx, b.GatewayRef)
			if err != nil {
				report.Failed++
				log.WithError(err).Warn("sweep could not check payment")
				continue
			}
		}

		switch {
		case status.Settled():
			_, err = r.machine.Apply(ctx, b.ID, status)
			if err == nil || errors.Is(err, domain.ErrTicketMaterializationFailed) {
				report.Settled++
			}
		case b.CreatedAt.Before(now.Add(-expireAfter)):
			_, err = r.machine.Apply(ctx, b.ID, domain.BookingStatusExpired)
			if err == nil {
				report.Expired++
			}
		case status == domain.BookingStatusOnHold && b.Status != domain.BookingStatusOnHold:
			_, err = r.machine.Apply(ctx, b.ID, status)
		default:
			err = nil
		}
		if err != nil {
			report.Failed++
			log.WithError(err).Error("sweep transition failed")
		}
	}
	return report, nil
}

func (r *Reconciler) check(ctx context.Context, orderRef string) (domain.BookingStatus, error) {
	st, err := r.gateway.CheckTransaction(ctx, orderRef)
	if err != nil {
		if errors.Is(err, domain.ErrTelrTransaction) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", domain.ErrTelrTransaction, err)
	}
	status, err := MapStatus(st)
	if err != nil {
		metrics.TrackGatewayPoll("unknown")
		return "", err
	}
	metrics.TrackGatewayPoll(string(status))
	return status, nil
}
