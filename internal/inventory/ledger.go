// Package inventory owns the total and remaining ticket counters of every
// package. Remaining counts change only through a Ledger critical section
// keyed by the owning occurrence.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/Domenick1991/venuebooking/internal/lock"
	"github.com/Domenick1991/venuebooking/internal/metrics"
	"github.com/Domenick1991/venuebooking/internal/repository"
	"github.com/sirupsen/logrus"
)

// Cache receives committed counters for display reads.
type Cache interface {
	GetRemaining(ctx context.Context, occurrenceID, packageID string) (int, bool, error)
	SetOccurrence(ctx context.Context, occ *domain.Occurrence) error
	DeleteOccurrence(ctx context.Context, occ *domain.Occurrence) error
}

type Ledger struct {
	locks       *lock.Registry
	occurrences repository.OccurrenceRepository
	cache       Cache
	logger      *logrus.Logger
	now         func() time.Time
}

type LedgerOption func(*Ledger)

func WithCache(c Cache) LedgerOption {
	return func(l *Ledger) {
		l.cache = c
	}
}

func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

func NewLedger(locks *lock.Registry, occurrences repository.OccurrenceRepository, logger *logrus.Logger, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		locks:       locks,
		occurrences: occurrences,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OccurrenceKey is the lock key serializing every counter of an occurrence.
func OccurrenceKey(occurrenceID string) string {
	return "occurrence:" + occurrenceID
}

// Change mutates a private copy of an occurrence inside the critical
// section. Returning an error discards the copy.
type Change func(ctx context.Context, adj *Adjuster) error

var errDryRun = errors.New("dry run")

// Run executes change under the occurrence lock, persists the occurrence if
// it changed and then runs the commit hooks registered by change. If a hook
// fails the previous occurrence document is restored, so counters and the
// dependent write land together or not at all.
func (l *Ledger) Run(ctx context.Context, occurrenceID string, change Change) (*domain.Occurrence, error) {
	var committed *domain.Occurrence
	err := l.locks.Do(ctx, OccurrenceKey(occurrenceID), func(ctx context.Context) error {
		// Past this point the section finishes even if the caller goes away.
		ctx = context.WithoutCancel(ctx)

		live, err := l.occurrences.Get(ctx, occurrenceID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrOccurrenceNotFound
			}
			return fmt.Errorf("load occurrence %s: %w", occurrenceID, err)
		}

		adj := l.adjuster(ctx, occurrenceID, live)
		if err := change(ctx, adj); err != nil {
			return err
		}

		if adj.dirty {
			adj.occ.Version++
			adj.occ.UpdatedAt = l.now()
			if err := l.occurrences.Upsert(ctx, adj.occ); err != nil {
				return fmt.Errorf("save occurrence %s: %w", occurrenceID, err)
			}
		}

		for _, hook := range adj.hooks {
			if err := hook(ctx); err != nil {
				if adj.dirty {
					l.restore(ctx, live)
				}
				return err
			}
		}
		committed = adj.occ
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.publish(ctx, committed)
	return committed, nil
}

// AdjustRemaining applies delta to one package and returns the new
// remaining count.
func (l *Ledger) AdjustRemaining(ctx context.Context, occurrenceID, packageID string, delta int) (int, error) {
	var remaining int
	_, err := l.Run(ctx, occurrenceID, func(ctx context.Context, adj *Adjuster) error {
		var err error
		remaining, err = adj.Adjust(packageID, delta)
		return err
	})
	return remaining, err
}

// Create stores a new occurrence with every package fully available.
func (l *Ledger) Create(ctx context.Context, occ *domain.Occurrence) (*domain.Occurrence, error) {
	var created *domain.Occurrence
	err := l.locks.Do(ctx, OccurrenceKey(occ.ID), func(ctx context.Context) error {
		ctx = context.WithoutCancel(ctx)
		if _, err := l.occurrences.Get(ctx, occ.ID); err == nil {
			return domain.ErrResourceExists
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		fresh := occ.Clone()
		for i := range fresh.Packages {
			if fresh.Packages[i].TicketsNumber < 0 {
				return domain.ErrInvalidQuantity
			}
			fresh.Packages[i].RemainingTickets = fresh.Packages[i].TicketsNumber
		}
		fresh.Version = 1
		fresh.UpdatedAt = l.now()
		if err := l.occurrences.Upsert(ctx, fresh); err != nil {
			return fmt.Errorf("save occurrence %s: %w", occ.ID, err)
		}
		created = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.publish(ctx, created)
	return created, nil
}

// ApplySchedule merges one proposed occurrence into the live one. See
// ApplySchedules.
func (l *Ledger) ApplySchedule(ctx context.Context, proposed *domain.Occurrence) (*domain.Occurrence, error) {
	occs, err := l.ApplySchedules(ctx, Schedule{Occurrences: []domain.Occurrence{*proposed}})
	if err != nil {
		return nil, err
	}
	return occs[0], nil
}

// Schedule is the full set of occurrence changes of one event edit.
type Schedule struct {
	// Occurrences are merged into the live ones: mutable fields are
	// copied, package totals are resized and the remaining counts follow.
	// Missing occurrences are created.
	Occurrences []domain.Occurrence
	// Retired occurrences stop selling.
	Retired []string
	// Check vets every stored occurrence before anything changes.
	Check func(live domain.Occurrence) error
	// Commit runs after the occurrences are saved, still holding their
	// locks. If it fails they are put back.
	Commit func(ctx context.Context) error
}

// ApplySchedules applies s as one unit: either every occurrence and the
// commit land, or none of them.
func (l *Ledger) ApplySchedules(ctx context.Context, s Schedule) ([]*domain.Occurrence, error) {
	proposed := make(map[string]*domain.Occurrence, len(s.Occurrences))
	ids := make([]string, 0, len(s.Occurrences)+len(s.Retired))
	for i := range s.Occurrences {
		id := s.Occurrences[i].ID
		if _, dup := proposed[id]; dup {
			return nil, fmt.Errorf("occurrence %s: %w", id, domain.ErrResourceExists)
		}
		proposed[id] = &s.Occurrences[i]
		ids = append(ids, id)
	}
	for _, id := range s.Retired {
		if _, ok := proposed[id]; !ok {
			ids = append(ids, id)
		}
	}

	return l.RunBatch(ctx, ids, func(ctx context.Context, adj *Adjuster) error {
		if adj.Exists() && s.Check != nil {
			if err := s.Check(adj.Occurrence()); err != nil {
				return err
			}
		}
		if p, ok := proposed[adj.occ.ID]; ok {
			return scheduleChange(p)(ctx, adj)
		}
		if adj.Exists() && adj.occ.Active {
			adj.Update(func(o *domain.Occurrence) { o.Active = false })
		}
		return nil
	}, s.Commit)
}

// RunBatch runs change for every occurrence in ids while holding all of
// their locks, taken in id order. Occurrences that are not stored get an
// empty adjuster and are created if change touches them. Nothing is saved
// unless change succeeds for all of them; a failed save, hook or commit
// puts back every occurrence saved so far. The stored occurrences are
// returned in id order.
func (l *Ledger) RunBatch(ctx context.Context, ids []string, change Change, commit func(ctx context.Context) error) ([]*domain.Occurrence, error) {
	keys := slices.Clone(ids)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	for _, id := range keys {
		h, err := l.locks.Acquire(ctx, OccurrenceKey(id))
		if err != nil {
			return nil, err
		}
		defer h.Release()
	}
	ctx = context.WithoutCancel(ctx)

	type step struct {
		adj  *Adjuster
		live *domain.Occurrence
	}
	steps := make([]step, 0, len(keys))
	for _, id := range keys {
		live, err := l.occurrences.Get(ctx, id)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			live = nil
		case err != nil:
			return nil, fmt.Errorf("load occurrence %s: %w", id, err)
		}
		adj := l.adjuster(ctx, id, live)
		if err := change(ctx, adj); err != nil {
			return nil, fmt.Errorf("occurrence %s: %w", id, err)
		}
		steps = append(steps, step{adj: adj, live: live})
	}

	var saved []step
	undo := func() {
		for _, st := range saved {
			if st.live != nil {
				l.restore(ctx, st.live)
				continue
			}
			if _, err := l.occurrences.Delete(ctx, st.adj.occ.ID); err != nil {
				metrics.TrackFatal("OccurrenceRestoreFailed")
				l.logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
					"occurrence_id": st.adj.occ.ID,
					"fatal":         true,
				}).Error("could not drop occurrence after failed commit")
			}
		}
	}

	var hooks []func(ctx context.Context) error
	for _, st := range steps {
		if !st.adj.dirty {
			continue
		}
		if st.live == nil {
			st.adj.occ.Version = 1
		} else {
			st.adj.occ.Version++
		}
		st.adj.occ.UpdatedAt = l.now()
		if err := l.occurrences.Upsert(ctx, st.adj.occ); err != nil {
			undo()
			return nil, fmt.Errorf("save occurrence %s: %w", st.adj.occ.ID, err)
		}
		saved = append(saved, st)
		hooks = append(hooks, st.adj.hooks...)
	}
	if commit != nil {
		hooks = append(hooks, commit)
	}
	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			undo()
			return nil, err
		}
	}

	out := make([]*domain.Occurrence, 0, len(steps))
	for _, st := range steps {
		if st.live == nil && !st.adj.dirty {
			continue
		}
		l.publish(ctx, st.adj.occ)
		out = append(out, st.adj.occ)
	}
	return out, nil
}

// ValidateSchedule reports whether ApplySchedule would currently succeed
// without committing anything.
func (l *Ledger) ValidateSchedule(ctx context.Context, proposed *domain.Occurrence) error {
	apply := scheduleChange(proposed)
	_, err := l.Run(ctx, proposed.ID, func(ctx context.Context, adj *Adjuster) error {
		if err := apply(ctx, adj); err != nil {
			return err
		}
		return errDryRun
	})
	switch {
	case errors.Is(err, errDryRun), errors.Is(err, domain.ErrOccurrenceNotFound):
		return nil
	}
	return err
}

// Remove deletes an occurrence document.
func (l *Ledger) Remove(ctx context.Context, occurrenceID string) error {
	var removed *domain.Occurrence
	err := l.locks.Do(ctx, OccurrenceKey(occurrenceID), func(ctx context.Context) error {
		ctx = context.WithoutCancel(ctx)
		live, err := l.occurrences.Get(ctx, occurrenceID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		if _, err := l.occurrences.Delete(ctx, occurrenceID); err != nil {
			return fmt.Errorf("delete occurrence %s: %w", occurrenceID, err)
		}
		removed = live
		return nil
	})
	if err != nil {
		return err
	}
	if removed != nil && l.cache != nil {
		if err := l.cache.DeleteOccurrence(ctx, removed); err != nil {
			l.logger.WithContext(ctx).WithError(err).Warn("drop availability cache")
		}
	}
	l.locks.Delete(OccurrenceKey(occurrenceID))
	return nil
}

// Occurrence is an unlocked read. Its counters may be stale by the time the
// caller looks at them.
func (l *Ledger) Occurrence(ctx context.Context, occurrenceID string) (*domain.Occurrence, error) {
	occ, err := l.occurrences.Get(ctx, occurrenceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrOccurrenceNotFound
		}
		return nil, err
	}
	return occ, nil
}

// Remaining is a best-effort display read: cache first, then the store.
func (l *Ledger) Remaining(ctx context.Context, occurrenceID, packageID string) (int, error) {
	if l.cache != nil {
		n, ok, err := l.cache.GetRemaining(ctx, occurrenceID, packageID)
		if err != nil {
			l.logger.WithContext(ctx).WithError(err).Warn("read availability cache")
		} else if ok {
			return n, nil
		}
	}
	occ, err := l.Occurrence(ctx, occurrenceID)
	if err != nil {
		return 0, err
	}
	i := occ.Package(packageID)
	if i < 0 {
		return 0, domain.ErrPackageNotFound
	}
	return occ.Packages[i].RemainingTickets, nil
}

func (l *Ledger) adjuster(ctx context.Context, occurrenceID string, live *domain.Occurrence) *Adjuster {
	adj := &Adjuster{
		occ:    &domain.Occurrence{ID: occurrenceID},
		logger: l.logger.WithContext(ctx).WithField("occurrence_id", occurrenceID),
	}
	if live != nil {
		adj.occ = live.Clone()
		adj.exists = true
	}
	return adj
}

func (l *Ledger) restore(ctx context.Context, live *domain.Occurrence) {
	if err := l.occurrences.Upsert(ctx, live); err != nil {
		metrics.TrackFatal("OccurrenceRestoreFailed")
		l.logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
			"occurrence_id": live.ID,
			"fatal":         true,
		}).Error("could not restore occurrence after failed commit")
	}
}

func (l *Ledger) publish(ctx context.Context, occ *domain.Occurrence) {
	if l.cache == nil || occ == nil {
		return
	}
	if err := l.cache.SetOccurrence(ctx, occ); err != nil {
		l.logger.WithContext(ctx).WithError(err).Warn("update availability cache")
	}
}

func scheduleChange(proposed *domain.Occurrence) Change {
	return func(ctx context.Context, adj *Adjuster) error {
		keep := make(map[string]bool, len(proposed.Packages))
		for _, p := range proposed.Packages {
			keep[p.ID] = true
			if _, err := adj.Package(p.ID); err != nil {
				if err := adj.AddPackage(p); err != nil {
					return err
				}
				continue
			}
			if _, err := adj.Resize(p.ID, p.TicketsNumber); err != nil {
				return err
			}
			adj.describe(p)
		}
		for _, p := range adj.Occurrence().Packages {
			if !keep[p.ID] {
				if err := adj.RemovePackage(p.ID); err != nil {
					return err
				}
			}
		}
		adj.Update(func(o *domain.Occurrence) {
			o.EventID = proposed.EventID
			o.StartsAt = proposed.StartsAt
			o.Active = proposed.Active
		})
		return nil
	}
}
