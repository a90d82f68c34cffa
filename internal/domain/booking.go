package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "Pending"
	BookingStatusPaid      BookingStatus = "Paid"
	BookingStatusAborted   BookingStatus = "Aborted"
	BookingStatusExpired   BookingStatus = "Expired"
	BookingStatusCancelled BookingStatus = "Cancelled"
	BookingStatusDeclined  BookingStatus = "Declined"
	BookingStatusOnHold    BookingStatus = "OnHold"
	BookingStatusRejected  BookingStatus = "Rejected"
	// BookingStatusFailed is recorded when the gateway handshake fails at
	// creation. Inventory-wise it behaves like Declined.
	BookingStatusFailed BookingStatus = "Failed"
)

// ReleasesInventory reports whether entering s gives the reserved quantity
// back to the ledger.
func (s BookingStatus) ReleasesInventory() bool {
	switch s {
	case BookingStatusAborted, BookingStatusExpired, BookingStatusCancelled,
		BookingStatusDeclined, BookingStatusRejected, BookingStatusFailed:
		return true
	}
	return false
}

// Settled reports whether the gateway has nothing more to say about a
// booking in status s.
func (s BookingStatus) Settled() bool {
	return s != BookingStatusPending && s != BookingStatusOnHold
}

// CanTransitionTo encodes the booking lifecycle.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	switch s {
	case BookingStatusPending:
		return next != BookingStatusPending && next != BookingStatusRejected
	case BookingStatusOnHold:
		switch next {
		case BookingStatusPaid, BookingStatusAborted, BookingStatusExpired,
			BookingStatusCancelled, BookingStatusDeclined:
			return true
		}
	case BookingStatusPaid:
		return next == BookingStatusRejected || next == BookingStatusCancelled
	}
	return false
}

type Booking struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	OccurrenceID string          `json:"occurrence_id"`
	PackageID    string          `json:"package_id"`
	Quantity     int             `json:"quantity"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Currency     string          `json:"currency"`
	GatewayRef   string          `json:"gateway_ref,omitempty"`
	PaymentURL   string          `json:"payment_url,omitempty"`
	Status       BookingStatus   `json:"status"`
	Tickets      []Ticket        `json:"tickets,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (b *Booking) GetID() string { return b.ID }

// Clone returns a deep copy so callers can stage changes without touching
// a shared instance.
func (b *Booking) Clone() *Booking {
	c := *b
	if b.Tickets != nil {
		c.Tickets = make([]Ticket, len(b.Tickets))
		copy(c.Tickets, b.Tickets)
	}
	return &c
}

type TicketStatus string

const (
	TicketStatusReady    TicketStatus = "Ready"
	TicketStatusApproved TicketStatus = "Approved"
	TicketStatusRejected TicketStatus = "Rejected"
)

type Ticket struct {
	ID         string        `json:"id"`
	Secret     string        `json:"secret"`
	Package    TicketPackage `json:"package"`
	Status     TicketStatus  `json:"status"`
	RedeemedAt *time.Time    `json:"redeemed_at,omitempty"`
	RedeemedBy string        `json:"redeemed_by,omitempty"`
}
