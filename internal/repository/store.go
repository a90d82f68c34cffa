package repository

import (
	"context"
	"errors"

	"github.com/Domenick1991/venuebooking/internal/domain"
)

var ErrNotFound = errors.New("document not found")

// Document is anything addressable by a stable id.
type Document interface {
	GetID() string
}

// Store is the persistence boundary: get, upsert and delete by id, plus
// equality lookup on a top-level field for sweeps and cascades.
type Store[T any] interface {
	Get(ctx context.Context, id string) (*T, error)
	Upsert(ctx context.Context, doc *T) error
	Delete(ctx context.Context, id string) (bool, error)
	Find(ctx context.Context, field, value string) ([]*T, error)
}

type (
	BookingRepository       = Store[domain.Booking]
	OccurrenceRepository    = Store[domain.Occurrence]
	VenueRepository         = Store[domain.Venue]
	EventRepository         = Store[domain.Event]
	CategoryRepository      = Store[domain.Category]
	ChangeRequestRepository = Store[domain.ChangeRequest]
)

const (
	CollectionBookings       = "bookings"
	CollectionOccurrences    = "occurrences"
	CollectionVenues         = "venues"
	CollectionEvents         = "events"
	CollectionCategories     = "categories"
	CollectionChangeRequests = "change_requests"
)

// Repositories bundles every collection the core uses.
type Repositories struct {
	Bookings       BookingRepository
	Occurrences    OccurrenceRepository
	Venues         VenueRepository
	Events         EventRepository
	Categories     CategoryRepository
	ChangeRequests ChangeRequestRepository
}

func NewMemoryRepositories() *Repositories {
	return &Repositories{
		Bookings:       NewMemoryStore[domain.Booking](),
		Occurrences:    NewMemoryStore[domain.Occurrence](),
		Venues:         NewMemoryStore[domain.Venue](),
		Events:         NewMemoryStore[domain.Event](),
		Categories:     NewMemoryStore[domain.Category](),
		ChangeRequests: NewMemoryStore[domain.ChangeRequest](),
	}
}
