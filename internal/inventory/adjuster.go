package inventory

import (
	"context"
	"fmt"

	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/Domenick1991/venuebooking/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Adjuster is the only writer of package counters. It works on a private
// copy of the occurrence owned by the running critical section.
type Adjuster struct {
	occ    *domain.Occurrence
	exists bool
	dirty  bool
	hooks  []func(ctx context.Context) error
	logger *logrus.Entry
}

// Occurrence returns a copy of the working occurrence.
func (a *Adjuster) Occurrence() domain.Occurrence {
	return *a.occ.Clone()
}

// Exists reports whether the occurrence is stored. Only batches hand out
// adjusters for occurrences that are not.
func (a *Adjuster) Exists() bool {
	return a.exists
}

func (a *Adjuster) Package(packageID string) (domain.TicketPackage, error) {
	i := a.occ.Package(packageID)
	if i < 0 {
		return domain.TicketPackage{}, domain.ErrPackageNotFound
	}
	return a.occ.Packages[i], nil
}

// Adjust moves the remaining count of a package by delta. Decrements are
// capacity-checked; an increment past the package total means a resize or
// compensation went wrong and is refused instead of clamped.
func (a *Adjuster) Adjust(packageID string, delta int) (int, error) {
	i := a.occ.Package(packageID)
	if i < 0 {
		return 0, domain.ErrPackageNotFound
	}
	p := &a.occ.Packages[i]

	var err error
	switch {
	case delta < 0 && p.RemainingTickets == 0:
		err = domain.ErrTicketsSoldOut
	case delta < 0 && -delta > p.RemainingTickets:
		err = domain.ExceededRemaining(p.RemainingTickets)
	case delta > 0 && p.RemainingTickets+delta > p.TicketsNumber:
		metrics.TrackFatal(domain.ErrInventoryIntegrityViolation.Code)
		a.logger.WithFields(logrus.Fields{
			"package_id": packageID,
			"remaining":  p.RemainingTickets,
			"total":      p.TicketsNumber,
			"delta":      delta,
			"fatal":      true,
		}).Error("increment would exceed package total")
		err = fmt.Errorf("package %s: %w", packageID, domain.ErrInventoryIntegrityViolation)
	}
	metrics.TrackAdjustment(delta, err)
	if err != nil {
		return p.RemainingTickets, err
	}

	if delta != 0 {
		p.RemainingTickets += delta
		a.dirty = true
	}
	return p.RemainingTickets, nil
}

// Resize changes the total of a package. Remaining follows by the same
// difference; a shrink below what is already sold is rejected.
func (a *Adjuster) Resize(packageID string, newTotal int) (int, error) {
	i := a.occ.Package(packageID)
	if i < 0 {
		return 0, domain.ErrPackageNotFound
	}
	if newTotal < 0 {
		return 0, domain.ErrInvalidQuantity
	}
	p := &a.occ.Packages[i]
	if newTotal == p.TicketsNumber {
		return p.RemainingTickets, nil
	}

	remaining := p.RemainingTickets + (newTotal - p.TicketsNumber)
	if remaining < 0 {
		return p.RemainingTickets, domain.ErrPackageTicketNumberHasZeroRemaining
	}
	p.TicketsNumber = newTotal
	p.RemainingTickets = remaining
	a.dirty = true
	return remaining, nil
}

// AddPackage appends a package with all tickets available.
func (a *Adjuster) AddPackage(p domain.TicketPackage) error {
	if a.occ.Package(p.ID) >= 0 {
		return domain.ErrResourceExists
	}
	if p.TicketsNumber < 0 {
		return domain.ErrInvalidQuantity
	}
	p.RemainingTickets = p.TicketsNumber
	a.occ.Packages = append(a.occ.Packages, p)
	a.dirty = true
	return nil
}

// RemovePackage drops a package nobody holds tickets for.
func (a *Adjuster) RemovePackage(packageID string) error {
	i := a.occ.Package(packageID)
	if i < 0 {
		return domain.ErrPackageNotFound
	}
	if a.occ.Packages[i].Sold() > 0 {
		return domain.ErrPackageHasSoldTickets
	}
	a.occ.Packages = append(a.occ.Packages[:i], a.occ.Packages[i+1:]...)
	a.dirty = true
	return nil
}

// Update edits non-counter fields. Counter changes made by fn are discarded.
func (a *Adjuster) Update(fn func(o *domain.Occurrence)) {
	counters := make(map[string][2]int, len(a.occ.Packages))
	for _, p := range a.occ.Packages {
		counters[p.ID] = [2]int{p.TicketsNumber, p.RemainingTickets}
	}
	fn(a.occ)
	for i := range a.occ.Packages {
		if c, ok := counters[a.occ.Packages[i].ID]; ok {
			a.occ.Packages[i].TicketsNumber = c[0]
			a.occ.Packages[i].RemainingTickets = c[1]
		}
	}
	a.dirty = true
}

// OnCommit registers fn to run after the occurrence is saved, still inside
// the critical section. A failing hook rolls the occurrence back.
func (a *Adjuster) OnCommit(fn func(ctx context.Context) error) {
	a.hooks = append(a.hooks, fn)
}

func (a *Adjuster) describe(p domain.TicketPackage) {
	i := a.occ.Package(p.ID)
	if i < 0 {
		return
	}
	cur := &a.occ.Packages[i]
	if cur.Title != p.Title || !cur.UnitPrice.Equal(p.UnitPrice) {
		cur.Title = p.Title
		cur.UnitPrice = p.UnitPrice
		a.dirty = true
	}
}
