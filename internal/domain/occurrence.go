package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Occurrence is one scheduled instance of an event. Its packages are
// embedded so that a single document carries all counters guarded by the
// occurrence lock.
type Occurrence struct {
	ID        string          `json:"id"`
	EventID   string          `json:"event_id"`
	StartsAt  time.Time       `json:"starts_at"`
	Active    bool            `json:"active"`
	Packages  []TicketPackage `json:"packages"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (o *Occurrence) GetID() string { return o.ID }

func (o *Occurrence) Clone() *Occurrence {
	c := *o
	c.Packages = make([]TicketPackage, len(o.Packages))
	copy(c.Packages, o.Packages)
	return &c
}

// Package returns the index of the package with the given id, or -1.
func (o *Occurrence) Package(id string) int {
	for i := range o.Packages {
		if o.Packages[i].ID == id {
			return i
		}
	}
	return -1
}

// Bookable reports whether tickets may still be sold at now.
func (o *Occurrence) Bookable(now time.Time) bool {
	return o.Active && o.StartsAt.After(now)
}

type TicketPackage struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TicketsNumber    int             `json:"tickets_number"`
	RemainingTickets int             `json:"remaining_tickets"`
}

// Sold is the number of tickets currently reserved or paid.
func (p TicketPackage) Sold() int {
	return p.TicketsNumber - p.RemainingTickets
}

// Quote is the exact amount expected for quantity tickets.
func (p TicketPackage) Quote(quantity int) decimal.Decimal {
	return p.UnitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}
