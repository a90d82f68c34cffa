package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/Domenick1991/venuebooking/internal/inventory"
	"github.com/Domenick1991/venuebooking/internal/metrics"
	"github.com/Domenick1991/venuebooking/internal/notify"
	"github.com/Domenick1991/venuebooking/internal/payment"
	"github.com/Domenick1991/venuebooking/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type BookingUseCase interface {
	CreateBooking(ctx context.Context, actor domain.Actor, input CreateBookingInput) (*domain.Booking, error)
	Get(ctx context.Context, bookingID string) (*domain.Booking, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Booking, error)
	MarkPaid(ctx context.Context, bookingID string) (*domain.Booking, error)
	MarkOnHold(ctx context.Context, bookingID string) (*domain.Booking, error)
	BackfillTickets(ctx context.Context, bookingID string) (*domain.Booking, error)
	Abort(ctx context.Context, actor domain.Actor, bookingID string) (*domain.Booking, error)
	Expire(ctx context.Context, bookingID string) (*domain.Booking, error)
	Decline(ctx context.Context, bookingID string) (*domain.Booking, error)
	Cancel(ctx context.Context, actor domain.Actor, bookingID string) (*domain.Booking, error)
	Reject(ctx context.Context, actor domain.Actor, bookingID string) (*domain.Booking, error)
	CancelForOccurrence(ctx context.Context, occurrenceID string) (int, error)
}

// Gateway initiates payments for new bookings.
type Gateway interface {
	CreateTransaction(ctx context.Context, booking *domain.Booking) (payment.Transaction, error)
}

type BookingService struct {
	bookings repository.BookingRepository
	ledger   *inventory.Ledger
	gateway  Gateway
	notifier notify.Notifier
	validate *validator.Validate
	currency string
	logger   *logrus.Logger
	now      func() time.Time
	secret   func() (string, error)
}

type CreateBookingInput struct {
	OccurrenceID string          `json:"occurrence_id" validate:"required"`
	PackageID    string          `json:"package_id" validate:"required"`
	Quantity     int             `json:"quantity" validate:"gt=0"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

type BookingServiceOption func(*BookingService)

func WithCurrency(currency string) BookingServiceOption {
	return func(s *BookingService) {
		s.currency = currency
	}
}

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) {
		s.now = now
	}
}

// WithSecretSource replaces the generator of ticket secrets.
func WithSecretSource(fn func() (string, error)) BookingServiceOption {
	return func(s *BookingService) {
		s.secret = fn
	}
}

func NewBookingService(
	bookings repository.BookingRepository,
	ledger *inventory.Ledger,
	gateway Gateway,
	notifier notify.Notifier,
	logger *logrus.Logger,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		bookings: bookings,
		ledger:   ledger,
		gateway:  gateway,
		notifier: notifier,
		validate: validator.New(),
		currency: "AED",
		logger:   logger,
		now:      time.Now,
		secret:   newSecret,
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.notifier == nil {
		service.notifier = notify.Nop{}
	}
	return service
}

func newSecret() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// CreateBooking reserves the requested quantity and persists the booking
// in the same critical section. Free bookings are paid on the spot; the
// rest get a gateway transaction and stay Pending until settled.
func (s *BookingService) CreateBooking(ctx context.Context, actor domain.Actor, input CreateBookingInput) (*domain.Booking, error) {
	if err := s.validateInput(actor, input); err != nil {
		return nil, err
	}

	occ, err := s.ledger.Occurrence(ctx, input.OccurrenceID)
	if err != nil {
		return nil, err
	}
	if err := s.checkPurchase(*occ, input); err != nil {
		return nil, err
	}

	now := s.now()
	booking := &domain.Booking{
		ID:           uuid.NewString(),
		OwnerID:      actor.ID,
		OccurrenceID: input.OccurrenceID,
		PackageID:    input.PackageID,
		Quantity:     input.Quantity,
		TotalAmount:  input.TotalAmount,
		Currency:     s.currency,
		Status:       domain.BookingStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	free := input.TotalAmount.IsZero()
	if free {
		booking.Status = domain.BookingStatusPaid
	}
	log := s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"booking_id":    booking.ID,
		"occurrence_id": booking.OccurrenceID,
		"package_id":    booking.PackageID,
		"quantity":      booking.Quantity,
	})

	_, err = s.ledger.Run(ctx, input.OccurrenceID, func(ctx context.Context, adj *inventory.Adjuster) error {
		if err := s.checkPurchase(adj.Occurrence(), input); err != nil {
			return err
		}
		if _, err := adj.Adjust(input.PackageID, -input.Quantity); err != nil {
			return err
		}
		adj.OnCommit(func(ctx context.Context) error {
			return s.bookings.Upsert(ctx, booking)
		})
		return nil
	})
	if err != nil {
		log.WithError(err).Info("booking rejected")
		return nil, err
	}
	metrics.TrackTransition(string(booking.Status))
	log.WithField("status", booking.Status).Info("booking created")

	if free {
		paid, err := s.materialize(ctx, booking.ID)
		if err != nil {
			return paid, err
		}
		s.notifier.Notify(ctx, notify.EventBookingPaid, notify.User(paid.OwnerID), bookingPayload(paid))
		return paid, nil
	}

	tx, err := s.gateway.CreateTransaction(ctx, booking)
	if err != nil {
		log.WithError(err).Error("payment handshake failed")
		failed, _, terr := s.transition(ctx, booking.ID, domain.BookingStatusFailed, bySystem, nil)
		if terr != nil {
			log.WithError(terr).Error("could not release reservation after handshake failure")
			return booking, errors.Join(err, terr)
		}
		if !errors.Is(err, domain.ErrTelrTransaction) {
			err = fmt.Errorf("%w: %v", domain.ErrTelrTransaction, err)
		}
		return failed, err
	}

	return s.annotate(ctx, booking.ID, func(b *domain.Booking) {
		b.GatewayRef = tx.OrderRef
		b.PaymentURL = tx.RedirectURL
	})
}

func (s *BookingService) validateInput(actor domain.Actor, input CreateBookingInput) error {
	if actor.ID == "" {
		return domain.ErrNotBookingOwner
	}
	if err := s.validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Field() == "Quantity" {
					return domain.ErrInvalidQuantity
				}
			}
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidBookingRequest, err)
	}
	if input.TotalAmount.IsNegative() {
		return domain.ErrTotalAmountIsNotCorrect
	}
	return nil
}

// checkPurchase runs the pre-lock checks and is repeated under the lock,
// where the remaining count is authoritative.
func (s *BookingService) checkPurchase(occ domain.Occurrence, input CreateBookingInput) error {
	if !occ.Bookable(s.now()) {
		return domain.ErrOccurrenceNotBookable
	}
	i := occ.Package(input.PackageID)
	if i < 0 {
		return domain.ErrPackageNotFound
	}
	pkg := occ.Packages[i]
	if !pkg.Quote(input.Quantity).Equal(input.TotalAmount) {
		return domain.ErrTotalAmountIsNotCorrect
	}
	switch {
	case pkg.RemainingTickets == 0:
		return domain.ErrTicketsSoldOut
	case input.Quantity > pkg.RemainingTickets:
		return domain.ExceededRemaining(pkg.RemainingTickets)
	}
	return nil
}

func (s *BookingService) Get(ctx context.Context, bookingID string) (*domain.Booking, error) {
	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *BookingService) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Booking, error) {
	return s.bookings.Find(ctx, "owner_id", ownerID)
}

// Unsettled lists Pending and OnHold bookings created before cutoff.
func (s *BookingService) Unsettled(ctx context.Context, cutoff time.Time) ([]*domain.Booking, error) {
	var out []*domain.Booking
	for _, st := range []domain.BookingStatus{domain.BookingStatusPending, domain.BookingStatusOnHold} {
		list, err := s.bookings.Find(ctx, "status", string(st))
		if err != nil {
			return nil, err
		}
		for _, b := range list {
			if b.CreatedAt.Before(cutoff) {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

// MarkPaid flips the booking to Paid and then issues its tickets. Calling
// it again only fills in tickets that are still missing. If tickets cannot
// be issued the booking stays Paid and ErrTicketMaterializationFailed is
// returned for follow-up through BackfillTickets.
func (s *BookingService) MarkPaid(ctx context.Context, bookingID string) (*domain.Booking, error) {
	b, changed, err := s.transition(ctx, bookingID, domain.BookingStatusPaid, bySystem, nil)
	if err != nil {
		return b, err
	}
	if len(b.Tickets) > 0 {
		return b, nil
	}
	b, err = s.materialize(ctx, bookingID)
	if err != nil {
		return b, err
	}
	if changed {
		s.notifier.Notify(ctx, notify.EventBookingPaid, notify.User(b.OwnerID), bookingPayload(b))
	}
	return b, nil
}

// BackfillTickets issues tickets for a Paid booking left without them.
func (s *BookingService) BackfillTickets(ctx context.Context, bookingID string) (*domain.Booking, error) {
	b, err := s.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BookingStatusPaid {
		return b, domain.ErrInvalidTransition
	}
	return s.materialize(ctx, bookingID)
}

func (s *BookingService) MarkOnHold(ctx context.Context, bookingID string) (*domain.Booking, error) {
	b, _, err := s.transition(ctx, bookingID, domain.BookingStatusOnHold, bySystem, nil)
	return b, err
}

// Abort is the purchaser walking away from the payment page.
func (s *BookingService) Abort(ctx context.Context, actor domain.Actor, bookingID string) (*domain.Booking, error) {
	b, _, err := s.transition(ctx, bookingID, domain.BookingStatusAborted, byActor, ownedBy(actor))
	return b, err
}

func (s *BookingService) Expire(ctx context.Context, bookingID string) (*domain.Booking, error) {
	b, _, err := s.transition(ctx, bookingID, domain.BookingStatusExpired, bySystem, nil)
	return b, err
}

func (s *BookingService) Decline(ctx context.Context, bookingID string) (*domain.Booking, error) {
	b, _, err := s.transition(ctx, bookingID, domain.BookingStatusDeclined, bySystem, nil)
	return b, err
}

// Cancel is only open to the owner and only before the occurrence starts.
func (s *BookingService) Cancel(ctx context.Context, actor domain.Actor, bookingID string) (*domain.Booking, error) {
	owned := ownedBy(actor)
	b, changed, err := s.transition(ctx, bookingID, domain.BookingStatusCancelled, byActor, func(b *domain.Booking, occ *domain.Occurrence) error {
		if err := owned(b, occ); err != nil {
			return err
		}
		if occ != nil && !s.now().Before(occ.StartsAt) {
			return domain.ErrCancellationClosed
		}
		return nil
	})
	if err == nil && changed {
		s.notifier.Notify(ctx, notify.EventBookingCancelled, notify.User(b.OwnerID), bookingPayload(b))
	}
	return b, err
}

// Reject takes back a Paid booking: tickets are dropped and the quantity
// returns to the package.
func (s *BookingService) Reject(ctx context.Context, actor domain.Actor, bookingID string) (*domain.Booking, error) {
	if !actor.Privileged() {
		return nil, domain.ErrNotPrivileged
	}
	b, changed, err := s.transition(ctx, bookingID, domain.BookingStatusRejected, byActor, nil)
	if err == nil && changed {
		s.notifier.Notify(ctx, notify.EventBookingRejected, notify.User(b.OwnerID), bookingPayload(b))
	}
	return b, err
}

// CancelForOccurrence cancels every live booking of an occurrence that is
// being removed. Ownership and start time are not checked.
func (s *BookingService) CancelForOccurrence(ctx context.Context, occurrenceID string) (int, error) {
	list, err := s.bookings.Find(ctx, "occurrence_id", occurrenceID)
	if err != nil {
		return 0, err
	}
	var (
		cancelled int
		errs      []error
	)
	for _, b := range list {
		if !b.Status.CanTransitionTo(domain.BookingStatusCancelled) {
			continue
		}
		updated, changed, err := s.transition(ctx, b.ID, domain.BookingStatusCancelled, bySystem, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("cancel booking %s: %w", b.ID, err))
			continue
		}
		if changed {
			cancelled++
			s.notifier.Notify(ctx, notify.EventBookingCancelled, notify.User(updated.OwnerID), bookingPayload(updated))
		}
	}
	return cancelled, errors.Join(errs...)
}

// Apply performs a transition reported by the payment gateway.
func (s *BookingService) Apply(ctx context.Context, bookingID string, to domain.BookingStatus) (*domain.Booking, error) {
	switch to {
	case domain.BookingStatusPaid:
		return s.MarkPaid(ctx, bookingID)
	case domain.BookingStatusOnHold:
		return s.MarkOnHold(ctx, bookingID)
	case domain.BookingStatusExpired, domain.BookingStatusDeclined,
		domain.BookingStatusCancelled, domain.BookingStatusAborted:
		b, _, err := s.transition(ctx, bookingID, to, bySystem, nil)
		return b, err
	}
	return nil, domain.ErrInvalidTransition
}

// origin tells who asked for a transition. Releasing an already released
// booking is a conflict when an actor asks and an integrity failure when
// the system does.
type origin int

const (
	bySystem origin = iota
	byActor
)

// guard vets a transition against the booking and its occurrence as read
// inside the critical section. occ is nil when the occurrence is gone.
type guard func(b *domain.Booking, occ *domain.Occurrence) error

func ownedBy(actor domain.Actor) guard {
	return func(b *domain.Booking, _ *domain.Occurrence) error {
		if b.OwnerID != actor.ID {
			return domain.ErrNotBookingOwner
		}
		return nil
	}
}

// transition moves a booking to status to under its occurrence lock. The
// booking is re-read inside the lock, so a release is credited at most
// once no matter how many callers race. Moving to the current status is a
// no-op reported with changed == false.
func (s *BookingService) transition(ctx context.Context, bookingID string, to domain.BookingStatus, from origin, check guard) (*domain.Booking, bool, error) {
	current, err := s.Get(ctx, bookingID)
	if err != nil {
		return nil, false, err
	}
	log := s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"booking_id":    bookingID,
		"occurrence_id": current.OccurrenceID,
		"to":            to,
	})

	var (
		result  *domain.Booking
		changed bool
	)
	apply := func(ctx context.Context, adj *inventory.Adjuster) error {
		b, err := s.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		result = b
		if b.Status == to {
			return nil
		}
		if !b.Status.CanTransitionTo(to) {
			if from == bySystem && b.Status.ReleasesInventory() && to.ReleasesInventory() {
				metrics.TrackFatal(domain.ErrBookingAlreadyFinalized.Code)
				log.WithFields(logrus.Fields{"from": b.Status, "fatal": true}).
					Error("refusing to release inventory twice")
				return domain.ErrBookingAlreadyFinalized
			}
			return domain.ErrInvalidTransition
		}

		var occ *domain.Occurrence
		if adj != nil {
			o := adj.Occurrence()
			occ = &o
		}
		if check != nil {
			if err := check(b, occ); err != nil {
				return err
			}
		}

		if to.ReleasesInventory() && adj != nil {
			if _, err := adj.Adjust(b.PackageID, b.Quantity); err != nil {
				return err
			}
		}

		next := b.Clone()
		switch to {
		case domain.BookingStatusRejected:
			next.Tickets = nil
		case domain.BookingStatusCancelled:
			for i := range next.Tickets {
				next.Tickets[i].Status = domain.TicketStatusRejected
			}
		}
		next.Status = to
		next.UpdatedAt = s.now()

		persist := func(ctx context.Context) error {
			return s.bookings.Upsert(ctx, next)
		}
		if adj == nil {
			if err := persist(ctx); err != nil {
				return err
			}
		} else {
			adj.OnCommit(persist)
		}
		result, changed = next, true
		return nil
	}

	_, err = s.ledger.Run(ctx, current.OccurrenceID, apply)
	if errors.Is(err, domain.ErrOccurrenceNotFound) {
		// The occurrence was removed; there is nothing left to credit.
		log.Warn("occurrence missing, updating booking status only")
		err = apply(context.WithoutCancel(ctx), nil)
	}
	if err != nil {
		return current, false, err
	}

	if changed {
		metrics.TrackTransition(string(to))
		log.WithField("quantity", result.Quantity).Info("booking transitioned")
	}
	return result, changed, nil
}

// materialize issues one ticket per unit of a Paid booking that has none.
func (s *BookingService) materialize(ctx context.Context, bookingID string) (*domain.Booking, error) {
	var result *domain.Booking
	current, err := s.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	_, err = s.ledger.Run(ctx, current.OccurrenceID, func(ctx context.Context, adj *inventory.Adjuster) error {
		b, err := s.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		result = b
		if b.Status != domain.BookingStatusPaid || len(b.Tickets) > 0 {
			return nil
		}
		pkg, err := adj.Package(b.PackageID)
		if err != nil {
			return err
		}

		next := b.Clone()
		next.Tickets = make([]domain.Ticket, 0, b.Quantity)
		for i := 0; i < b.Quantity; i++ {
			secret, err := s.secret()
			if err != nil {
				return err
			}
			next.Tickets = append(next.Tickets, domain.Ticket{
				ID:      uuid.NewString(),
				Secret:  secret,
				Package: pkg,
				Status:  domain.TicketStatusReady,
			})
		}
		next.UpdatedAt = s.now()
		adj.OnCommit(func(ctx context.Context) error {
			return s.bookings.Upsert(ctx, next)
		})
		result = next
		return nil
	})
	if err != nil {
		metrics.TrackFatal(domain.ErrTicketMaterializationFailed.Code)
		s.logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
			"booking_id": bookingID,
			"fatal":      true,
		}).Error("booking is paid but tickets were not issued")
		result = current
		if latest, gerr := s.Get(ctx, bookingID); gerr == nil {
			result = latest
		}
		s.notifier.Notify(ctx, notify.EventTicketsDelayed, notify.User(result.OwnerID), bookingPayload(result))
		return result, fmt.Errorf("%w: %v", domain.ErrTicketMaterializationFailed, err)
	}
	return result, nil
}

// annotate updates non-status fields under the occurrence lock.
func (s *BookingService) annotate(ctx context.Context, bookingID string, fn func(b *domain.Booking)) (*domain.Booking, error) {
	current, err := s.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	var result *domain.Booking
	_, err = s.ledger.Run(ctx, current.OccurrenceID, func(ctx context.Context, adj *inventory.Adjuster) error {
		b, err := s.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		fn(b)
		b.UpdatedAt = s.now()
		adj.OnCommit(func(ctx context.Context) error {
			return s.bookings.Upsert(ctx, b)
		})
		result = b
		return nil
	})
	if err != nil {
		return current, err
	}
	return result, nil
}

func bookingPayload(b *domain.Booking) map[string]any {
	return map[string]any{
		"booking_id":    b.ID,
		"occurrence_id": b.OccurrenceID,
		"package_id":    b.PackageID,
		"quantity":      b.Quantity,
		"status":        b.Status,
		"total_amount":  b.TotalAmount.StringFixed(2),
	}
}

var (
	_ BookingUseCase  = (*BookingService)(nil)
	_ payment.Machine = (*BookingService)(nil)
)
