package catalog

import (
	"context"
	"errors"

	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/Domenick1991/venuebooking/internal/inventory"
	"github.com/Domenick1991/venuebooking/internal/repository"
	"github.com/sirupsen/logrus"
)

type CatalogUseCase interface {
	Venue(ctx context.Context, id string) (*domain.Venue, error)
	Event(ctx context.Context, id string) (*domain.Event, error)
	Category(ctx context.Context, id string) (*domain.Category, error)
	Availability(ctx context.Context, occurrenceID string) ([]PackageAvailability, error)
}

// PackageAvailability is what customers see of a ticket package.
type PackageAvailability struct {
	PackageID        string `json:"package_id"`
	Title            string `json:"title"`
	UnitPrice        string `json:"unit_price"`
	TicketsNumber    int    `json:"tickets_number"`
	RemainingTickets int    `json:"remaining_tickets"`
}

// CatalogService serves read-only views of live venues and events.
type CatalogService struct {
	venues     repository.VenueRepository
	events     repository.EventRepository
	categories repository.CategoryRepository
	ledger     *inventory.Ledger
	logger     *logrus.Logger
}

func NewCatalogService(repos *repository.Repositories, ledger *inventory.Ledger, logger *logrus.Logger) *CatalogService {
	return &CatalogService{
		venues:     repos.Venues,
		events:     repos.Events,
		categories: repos.Categories,
		ledger:     ledger,
		logger:     logger,
	}
}

func (s *CatalogService) Venue(ctx context.Context, id string) (*domain.Venue, error) {
	v, err := s.venues.Get(ctx, id)
	return v, notFound(err)
}

// Event returns the event with its current occurrences.
func (s *CatalogService) Event(ctx context.Context, id string) (*domain.Event, error) {
	e, err := s.events.Get(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	e.Occurrences = make([]domain.Occurrence, 0, len(e.OccurrenceIDs))
	for _, occID := range e.OccurrenceIDs {
		occ, err := s.ledger.Occurrence(ctx, occID)
		if errors.Is(err, domain.ErrOccurrenceNotFound) {
			s.logger.WithContext(ctx).WithFields(logrus.Fields{
				"event_id":      id,
				"occurrence_id": occID,
			}).Warn("event lists a missing occurrence")
			continue
		}
		if err != nil {
			return nil, err
		}
		e.Occurrences = append(e.Occurrences, *occ)
	}
	return e, nil
}

func (s *CatalogService) Category(ctx context.Context, id string) (*domain.Category, error) {
	c, err := s.categories.Get(ctx, id)
	return c, notFound(err)
}

// Availability reports remaining tickets per package, preferring the
// availability cache over the store.
func (s *CatalogService) Availability(ctx context.Context, occurrenceID string) ([]PackageAvailability, error) {
	occ, err := s.ledger.Occurrence(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	out := make([]PackageAvailability, 0, len(occ.Packages))
	for _, p := range occ.Packages {
		remaining, err := s.ledger.Remaining(ctx, occurrenceID, p.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, PackageAvailability{
			PackageID:        p.ID,
			Title:            p.Title,
			UnitPrice:        p.UnitPrice.StringFixed(2),
			TicketsNumber:    p.TicketsNumber,
			RemainingTickets: remaining,
		})
	}
	return out, nil
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.ErrResourceNotFound
	}
	return err
}

var _ CatalogUseCase = (*CatalogService)(nil)
