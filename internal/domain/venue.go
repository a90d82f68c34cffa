package domain

import "time"

type Offer struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

type LoyaltyProgram struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Points int    `json:"points"`
	Active bool   `json:"active"`
}

// Listing is the part every moderated resource shares.
type Listing struct {
	CategoryIDs     []string         `json:"category_ids,omitempty"`
	Offers          []Offer          `json:"offers,omitempty"`
	LoyaltyPrograms []LoyaltyProgram `json:"loyalty_programs,omitempty"`
	Active          bool             `json:"active"`
	Version         int64            `json:"version"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func (l *Listing) Base() *Listing { return l }

// Offer returns the index of the offer with the given id, or -1.
func (l *Listing) Offer(id string) int {
	for i := range l.Offers {
		if l.Offers[i].ID == id {
			return i
		}
	}
	return -1
}

// Loyalty returns the index of the loyalty program with the given id, or -1.
func (l *Listing) Loyalty(id string) int {
	for i := range l.LoyaltyPrograms {
		if l.LoyaltyPrograms[i].ID == id {
			return i
		}
	}
	return -1
}

type Venue struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	EventIDs    []string `json:"event_ids,omitempty"`
	Listing
}

func (v *Venue) GetID() string { return v.ID }

// Event is a publishable event with its schedule. Occurrences are stored as
// their own documents; the slice is hydrated on read and carried in
// proposals.
type Event struct {
	ID            string       `json:"id"`
	VenueID       string       `json:"venue_id"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	OccurrenceIDs []string     `json:"occurrence_ids,omitempty"`
	Occurrences   []Occurrence `json:"occurrences,omitempty"`
	Listing
}

func (e *Event) GetID() string { return e.ID }

// Category indexes the venues and events filed under it.
type Category struct {
	ID       string   `json:"id"`
	VenueIDs []string `json:"venue_ids,omitempty"`
	EventIDs []string `json:"event_ids,omitempty"`
}

func (c *Category) GetID() string { return c.ID }
