package moderation

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/Domenick1991/venuebooking/internal/notify"
	"github.com/Domenick1991/venuebooking/internal/repository"
	"github.com/sirupsen/logrus"
)

// EffectKind names a side effect that follows a merge.
type EffectKind string

const (
	EffectReindexCategories  EffectKind = "ReindexCategories"
	EffectReindexVenueEvents EffectKind = "ReindexVenueEvents"
	EffectCancelBookings     EffectKind = "CancelBookings"
	EffectRemoveOccurrences  EffectKind = "RemoveOccurrences"
	EffectDeactivateOffers   EffectKind = "DeactivateOffers"
	EffectReactivateOffers   EffectKind = "ReactivateOffers"
	EffectDeactivateLoyalty  EffectKind = "DeactivateLoyalty"
	EffectReactivateLoyalty  EffectKind = "ReactivateLoyalty"
	EffectNotifyRequestor    EffectKind = "NotifyRequestor"
)

type Effect struct {
	Kind EffectKind
	// Occurrences lists the occurrences a booking or schedule effect
	// applies to.
	Occurrences []string
}

type EffectOutcome struct {
	Kind  EffectKind `json:"kind"`
	Error string     `json:"error,omitempty"`
}

// cascade is what every effect of one merge sees.
type cascade struct {
	cr   *domain.ChangeRequest
	prev publishable
	next publishable
}

// planEffects lists the effects of a merge in execution order.
func planEffects(cr *domain.ChangeRequest, prev, next publishable) []Effect {
	var effects []Effect
	add := func(kinds ...EffectKind) {
		for _, k := range kinds {
			effects = append(effects, Effect{Kind: k})
		}
	}

	switch cr.Modification {
	case domain.ModificationAdd:
		add(EffectReindexCategories)
		if cr.ResourceKind == domain.ResourceEvent {
			add(EffectReindexVenueEvents)
		}

	case domain.ModificationUpdate:
		add(EffectReindexCategories)
		if cr.ResourceKind == domain.ResourceEvent {
			add(EffectReindexVenueEvents)
			if dropped := droppedOccurrences(prev, next); len(dropped) > 0 {
				effects = append(effects,
					Effect{Kind: EffectCancelBookings, Occurrences: dropped},
					Effect{Kind: EffectRemoveOccurrences, Occurrences: dropped})
			}
		}
		wasActive, isActive := prev.Base().Active, next.Base().Active
		switch {
		case wasActive && !isActive:
			add(EffectDeactivateOffers, EffectDeactivateLoyalty)
		case !wasActive && isActive:
			add(EffectReactivateOffers, EffectReactivateLoyalty)
		}

	case domain.ModificationDelete:
		add(EffectReindexCategories, EffectReindexVenueEvents)
		if e, ok := prev.(*domain.Event); ok && len(e.OccurrenceIDs) > 0 {
			effects = append(effects,
				Effect{Kind: EffectCancelBookings, Occurrences: e.OccurrenceIDs},
				Effect{Kind: EffectRemoveOccurrences, Occurrences: e.OccurrenceIDs})
		}
		add(EffectDeactivateOffers, EffectDeactivateLoyalty)

	case domain.ModificationUnassignOffer:
		add(EffectDeactivateOffers)
	case domain.ModificationUnassignLoyalty:
		add(EffectDeactivateLoyalty)
	}

	add(EffectNotifyRequestor)
	return effects
}

func droppedOccurrences(prev, next publishable) []string {
	before, ok := prev.(*domain.Event)
	if !ok {
		return nil
	}
	after := next.(*domain.Event)
	var dropped []string
	for _, id := range before.OccurrenceIDs {
		if !slices.Contains(after.OccurrenceIDs, id) {
			dropped = append(dropped, id)
		}
	}
	return dropped
}

// runEffects executes every effect in order. A failing effect is logged
// and reported; the rest still run.
func (w *Workflow) runEffects(ctx context.Context, c *cascade, effects []Effect) []EffectOutcome {
	outcomes := make([]EffectOutcome, 0, len(effects))
	for _, e := range effects {
		out := EffectOutcome{Kind: e.Kind}
		if err := w.runEffect(ctx, c, e); err != nil {
			out.Error = err.Error()
			w.logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
				"effect":      e.Kind,
				"request_id":  c.cr.ID,
				"resource_id": c.cr.ResourceID,
			}).Error("post-merge effect failed")
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (w *Workflow) runEffect(ctx context.Context, c *cascade, e Effect) error {
	switch e.Kind {
	case EffectReindexCategories:
		return w.reindexCategories(ctx, c)
	case EffectReindexVenueEvents:
		return w.reindexVenueEvents(ctx, c)
	case EffectCancelBookings:
		var errs []error
		for _, id := range e.Occurrences {
			if _, err := w.bookings.CancelForOccurrence(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	case EffectRemoveOccurrences:
		var errs []error
		for _, id := range e.Occurrences {
			if err := w.ledger.Remove(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	case EffectDeactivateOffers:
		return w.toggle(ctx, c, true, false)
	case EffectReactivateOffers:
		return w.toggle(ctx, c, true, true)
	case EffectDeactivateLoyalty:
		return w.toggle(ctx, c, false, false)
	case EffectReactivateLoyalty:
		return w.toggle(ctx, c, false, true)
	case EffectNotifyRequestor:
		w.notifier.Notify(ctx, notify.EventChangeMerged, notify.User(c.cr.RequestorID), map[string]any{
			"request_id":    c.cr.ID,
			"resource_kind": c.cr.ResourceKind,
			"resource_id":   c.cr.ResourceID,
			"modification":  c.cr.Modification,
		})
		return nil
	}
	return fmt.Errorf("unknown effect %q", e.Kind)
}

func listingOf(doc publishable) *domain.Listing {
	if doc == nil {
		return &domain.Listing{}
	}
	return doc.Base()
}

// reindexCategories keeps the category index in line with the categories
// the resource is filed under.
func (w *Workflow) reindexCategories(ctx context.Context, c *cascade) error {
	before, after := listingOf(c.prev).CategoryIDs, listingOf(c.next).CategoryIDs
	id, kind := c.cr.ResourceID, c.cr.ResourceKind

	var errs []error
	for _, cat := range before {
		if !slices.Contains(after, cat) {
			errs = append(errs, w.fileUnder(ctx, cat, kind, id, false))
		}
	}
	for _, cat := range after {
		if !slices.Contains(before, cat) {
			errs = append(errs, w.fileUnder(ctx, cat, kind, id, true))
		}
	}
	return errors.Join(errs...)
}

func (w *Workflow) fileUnder(ctx context.Context, categoryID string, kind domain.ResourceKind, id string, filed bool) error {
	return w.locks.Do(ctx, "category:"+categoryID, func(ctx context.Context) error {
		cat, err := w.categories.Get(ctx, categoryID)
		if errors.Is(err, repository.ErrNotFound) {
			if !filed {
				return nil
			}
			cat, err = &domain.Category{ID: categoryID}, nil
		}
		if err != nil {
			return err
		}
		list := &cat.VenueIDs
		if kind == domain.ResourceEvent {
			list = &cat.EventIDs
		}
		*list = setMember(*list, id, filed)
		return w.categories.Upsert(ctx, cat)
	})
}

// reindexVenueEvents keeps venue.EventIDs in line with event.VenueID. When
// a venue is deleted its events are detached and deactivated.
func (w *Workflow) reindexVenueEvents(ctx context.Context, c *cascade) error {
	if c.cr.ResourceKind == domain.ResourceVenue {
		if c.next != nil {
			return nil
		}
		return w.detachEvents(ctx, c.cr.ResourceID)
	}

	var before, after string
	if e, ok := c.prev.(*domain.Event); ok {
		before = e.VenueID
	}
	if e, ok := c.next.(*domain.Event); ok {
		after = e.VenueID
	}
	if before == after && c.prev != nil && c.next != nil {
		return nil
	}

	var errs []error
	if before != "" && before != after {
		errs = append(errs, w.attach(ctx, before, c.cr.ResourceID, false))
	}
	if after != "" {
		errs = append(errs, w.attach(ctx, after, c.cr.ResourceID, true))
	}
	return errors.Join(errs...)
}

func (w *Workflow) attach(ctx context.Context, venueID, eventID string, attached bool) error {
	return w.locks.Do(ctx, resourceKey(domain.ResourceVenue, venueID), func(ctx context.Context) error {
		v, err := w.catalog.venues.Get(ctx, venueID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		next := setMember(v.EventIDs, eventID, attached)
		if slices.Equal(next, v.EventIDs) {
			return nil
		}
		v.EventIDs = next
		return w.catalog.venues.Upsert(ctx, v)
	})
}

func (w *Workflow) detachEvents(ctx context.Context, venueID string) error {
	events, err := w.catalog.events.Find(ctx, "venue_id", venueID)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range events {
		err := w.locks.Do(ctx, resourceKey(domain.ResourceEvent, e.ID), func(ctx context.Context) error {
			live, err := w.catalog.events.Get(ctx, e.ID)
			if err != nil {
				return missing(err)
			}
			live.VenueID = ""
			live.Active = false
			live.Version++
			live.UpdatedAt = w.now()
			return w.catalog.events.Upsert(ctx, live)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("detach event %s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}

// toggle flips the active flag of the offers (or loyalty programs) the
// merge affected and tells customers about it.
func (w *Workflow) toggle(ctx context.Context, c *cascade, offers, active bool) error {
	ids := c.subjects(offers)
	if len(ids) == 0 {
		return nil
	}

	if c.next != nil && !c.cr.Modification.TargetsSubResource() {
		err := w.locks.Do(ctx, resourceKey(c.cr.ResourceKind, c.cr.ResourceID), func(ctx context.Context) error {
			live, err := w.catalog.find(ctx, c.cr.ResourceKind, c.cr.ResourceID)
			if err != nil || live == nil {
				return err
			}
			base := live.Base()
			changed := false
			if offers {
				for i := range base.Offers {
					if base.Offers[i].Active != active {
						base.Offers[i].Active = active
						changed = true
					}
				}
			} else {
				for i := range base.LoyaltyPrograms {
					if base.LoyaltyPrograms[i].Active != active {
						base.LoyaltyPrograms[i].Active = active
						changed = true
					}
				}
			}
			if !changed {
				return nil
			}
			stamp(live, base.Version+1, w.now())
			return w.catalog.save(ctx, live)
		})
		if err != nil {
			return err
		}
	}

	event := notify.EventOfferDeactivated
	switch {
	case offers && active:
		event = notify.EventOfferReactivated
	case !offers && active:
		event = notify.EventLoyaltyReactivate
	case !offers && !active:
		event = notify.EventLoyaltyDeactivate
	}
	w.notifier.Notify(ctx, event, notify.Role(domain.RoleCustomer), map[string]any{
		"resource_kind": c.cr.ResourceKind,
		"resource_id":   c.cr.ResourceID,
		"ids":           ids,
	})
	return nil
}

// subjects are the offer or loyalty ids an effect applies to.
func (c *cascade) subjects(offers bool) []string {
	if c.cr.Modification.TargetsSubResource() {
		return []string{c.cr.FieldID}
	}
	src := c.next
	if src == nil {
		src = c.prev
	}
	base := listingOf(src)
	var ids []string
	if offers {
		for _, o := range base.Offers {
			ids = append(ids, o.ID)
		}
	} else {
		for _, l := range base.LoyaltyPrograms {
			ids = append(ids, l.ID)
		}
	}
	return ids
}

func setMember(list []string, id string, member bool) []string {
	has := slices.Contains(list, id)
	switch {
	case member && !has:
		return append(slices.Clone(list), id)
	case !member && has:
		return slices.DeleteFunc(slices.Clone(list), func(s string) bool { return s == id })
	}
	return list
}
