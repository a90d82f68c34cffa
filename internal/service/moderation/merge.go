package moderation

import (
	"time"

	"github.com/Domenick1991/venuebooking/internal/domain"
)

// resolve computes the live resource that merging cr on top of live
// produces. live is nil when the resource does not exist; the result is nil
// for a Delete. Whole-resource changes are version-checked against the
// snapshot they were staged from; sub-resource changes only touch their own
// entry and are checked against that entry instead.
func resolve(live publishable, cr *domain.ChangeRequest, now time.Time) (publishable, error) {
	switch cr.Modification {
	case domain.ModificationAdd:
		if live != nil {
			return nil, domain.ErrResourceExists
		}
		next, err := decode(cr.ResourceKind, cr.Proposed)
		if err != nil {
			return nil, err
		}
		normalize(next, cr.ResourceID)
		stamp(next, 1, now)
		return next, nil

	case domain.ModificationDelete:
		if live == nil {
			return nil, domain.ErrResourceNotFound
		}
		if live.Base().Version != cr.BaseVersion {
			return nil, domain.ErrChangeRequestOutdated
		}
		return nil, nil

	case domain.ModificationUpdate:
		if live == nil {
			return nil, domain.ErrResourceNotFound
		}
		if live.Base().Version != cr.BaseVersion {
			return nil, domain.ErrChangeRequestOutdated
		}
		next, err := decode(cr.ResourceKind, cr.Proposed)
		if err != nil {
			return nil, err
		}
		if v, ok := next.(*domain.Venue); ok {
			v.EventIDs = live.(*domain.Venue).EventIDs
		}
		normalize(next, cr.ResourceID)
		stamp(next, live.Base().Version+1, now)
		return next, nil
	}

	if !cr.Modification.TargetsSubResource() {
		return nil, domain.ErrInvalidChangeRequest
	}
	if live == nil {
		return nil, domain.ErrResourceNotFound
	}
	proposed, err := decode(cr.ResourceKind, cr.Proposed)
	if err != nil {
		return nil, err
	}
	next, err := clone(live)
	if err != nil {
		return nil, err
	}
	if err := mergeSubResource(next.Base(), proposed.Base(), cr.Modification, cr.FieldID); err != nil {
		return nil, err
	}
	stamp(next, live.Base().Version+1, now)
	return next, nil
}

func stamp(doc publishable, version int64, now time.Time) {
	base := doc.Base()
	base.Version = version
	base.UpdatedAt = now
}

// normalize pins the id and derives the fields that follow from the
// proposal itself.
func normalize(doc publishable, id string) {
	switch d := doc.(type) {
	case *domain.Venue:
		d.ID = id
	case *domain.Event:
		d.ID = id
		d.OccurrenceIDs = make([]string, 0, len(d.Occurrences))
		for i := range d.Occurrences {
			d.Occurrences[i].EventID = id
			d.OccurrenceIDs = append(d.OccurrenceIDs, d.Occurrences[i].ID)
		}
	}
}

type entryOp int

const (
	opAssign entryOp = iota
	opUpdate
	opUnassign
)

func mergeSubResource(dst, src *domain.Listing, m domain.Modification, id string) error {
	offerID := func(o domain.Offer) string { return o.ID }
	loyaltyID := func(l domain.LoyaltyProgram) string { return l.ID }

	switch m {
	case domain.ModificationAssignOffer:
		return mergeEntry(&dst.Offers, src.Offers, offerID, id, opAssign)
	case domain.ModificationUpdateOffer:
		return mergeEntry(&dst.Offers, src.Offers, offerID, id, opUpdate)
	case domain.ModificationUnassignOffer:
		return mergeEntry(&dst.Offers, src.Offers, offerID, id, opUnassign)
	case domain.ModificationAssignLoyalty:
		return mergeEntry(&dst.LoyaltyPrograms, src.LoyaltyPrograms, loyaltyID, id, opAssign)
	case domain.ModificationUpdateLoyalty:
		return mergeEntry(&dst.LoyaltyPrograms, src.LoyaltyPrograms, loyaltyID, id, opUpdate)
	case domain.ModificationUnassignLoyalty:
		return mergeEntry(&dst.LoyaltyPrograms, src.LoyaltyPrograms, loyaltyID, id, opUnassign)
	}
	return domain.ErrInvalidChangeRequest
}

// mergeEntry applies op for the entry with the given id, taking its new
// content from src. Other entries of dst are left alone.
func mergeEntry[T any](dst *[]T, src []T, idOf func(T) string, id string, op entryOp) error {
	index := func(list []T) int {
		for i := range list {
			if idOf(list[i]) == id {
				return i
			}
		}
		return -1
	}
	at := index(*dst)

	switch op {
	case opAssign:
		if at >= 0 {
			return domain.ErrResourceExists
		}
		from := index(src)
		if from < 0 {
			return domain.ErrSubResourceNotFound
		}
		*dst = append(*dst, src[from])
	case opUpdate:
		from := index(src)
		if at < 0 || from < 0 {
			return domain.ErrSubResourceNotFound
		}
		(*dst)[at] = src[from]
	case opUnassign:
		if at < 0 {
			return domain.ErrSubResourceNotFound
		}
		*dst = append((*dst)[:at], (*dst)[at+1:]...)
	}
	return nil
}
