package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/Domenick1991/venuebooking/internal/inventory"
	"github.com/Domenick1991/venuebooking/internal/repository"
)

// publishable is a venue or an event.
type publishable interface {
	repository.Document
	Base() *domain.Listing
}

// catalog reads and writes live moderated resources. Events are hydrated
// with their occurrences on load and stored without them.
type catalog struct {
	venues repository.VenueRepository
	events repository.EventRepository
	ledger *inventory.Ledger
}

func (c *catalog) load(ctx context.Context, kind domain.ResourceKind, id string) (publishable, error) {
	switch kind {
	case domain.ResourceVenue:
		v, err := c.venues.Get(ctx, id)
		if err != nil {
			return nil, missing(err)
		}
		return v, nil
	case domain.ResourceEvent:
		e, err := c.events.Get(ctx, id)
		if err != nil {
			return nil, missing(err)
		}
		if err := c.hydrate(ctx, e); err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, domain.ErrInvalidChangeRequest
}

// find is load with a missing resource reported as nil.
func (c *catalog) find(ctx context.Context, kind domain.ResourceKind, id string) (publishable, error) {
	doc, err := c.load(ctx, kind, id)
	if errors.Is(err, domain.ErrResourceNotFound) {
		return nil, nil
	}
	return doc, err
}

func (c *catalog) hydrate(ctx context.Context, e *domain.Event) error {
	e.Occurrences = nil
	for _, id := range e.OccurrenceIDs {
		occ, err := c.ledger.Occurrence(ctx, id)
		if errors.Is(err, domain.ErrOccurrenceNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		e.Occurrences = append(e.Occurrences, *occ)
	}
	return nil
}

func (c *catalog) save(ctx context.Context, doc publishable) error {
	switch d := doc.(type) {
	case *domain.Venue:
		return c.venues.Upsert(ctx, d)
	case *domain.Event:
		stored := *d
		stored.Occurrences = nil
		return c.events.Upsert(ctx, &stored)
	}
	return fmt.Errorf("save: unsupported document %T", doc)
}

func (c *catalog) remove(ctx context.Context, kind domain.ResourceKind, id string) error {
	var err error
	switch kind {
	case domain.ResourceVenue:
		_, err = c.venues.Delete(ctx, id)
	case domain.ResourceEvent:
		_, err = c.events.Delete(ctx, id)
	default:
		err = domain.ErrInvalidChangeRequest
	}
	return err
}

func missing(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.ErrResourceNotFound
	}
	return err
}

func decode(kind domain.ResourceKind, raw json.RawMessage) (publishable, error) {
	var doc publishable
	switch kind {
	case domain.ResourceVenue:
		doc = &domain.Venue{}
	case domain.ResourceEvent:
		doc = &domain.Event{}
	default:
		return nil, domain.ErrInvalidChangeRequest
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty proposal", domain.ErrInvalidChangeRequest)
	}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidChangeRequest, err)
	}
	return doc, nil
}

func kindOf(doc publishable) domain.ResourceKind {
	if _, ok := doc.(*domain.Event); ok {
		return domain.ResourceEvent
	}
	return domain.ResourceVenue
}

func clone(doc publishable) (publishable, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return decode(kindOf(doc), raw)
}

// fingerprint renders the user-controlled content of a resource so two
// resources can be compared. Bookkeeping fields and counters owned by the
// ledger are left out.
func fingerprint(doc publishable) ([]byte, error) {
	if doc == nil {
		return []byte("null"), nil
	}
	c, err := clone(doc)
	if err != nil {
		return nil, err
	}
	base := c.Base()
	base.Version = 0
	base.UpdatedAt = time.Time{}
	switch d := c.(type) {
	case *domain.Event:
		d.OccurrenceIDs = nil
		for i := range d.Occurrences {
			o := &d.Occurrences[i]
			o.EventID = ""
			o.Version = 0
			o.UpdatedAt = time.Time{}
			o.StartsAt = o.StartsAt.UTC()
			for j := range o.Packages {
				o.Packages[j].RemainingTickets = 0
			}
		}
	case *domain.Venue:
		d.EventIDs = nil
	}
	return json.Marshal(c)
}

func sameContent(a, b publishable) (bool, error) {
	fa, err := fingerprint(a)
	if err != nil {
		return false, err
	}
	fb, err := fingerprint(b)
	if err != nil {
		return false, err
	}
	return string(fa) == string(fb), nil
}
