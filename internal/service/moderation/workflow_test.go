package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/Domenick1991/venuebooking/internal/inventory"
	"github.com/Domenick1991/venuebooking/internal/lock"
	"github.com/Domenick1991/venuebooking/internal/notify"
	"github.com/Domenick1991/venuebooking/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBookings struct {
	mock.Mock
}

func (m *MockBookings) CancelForOccurrence(ctx context.Context, occurrenceID string) (int, error) {
	args := m.Called(ctx, occurrenceID)
	return args.Int(0), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, event string, to notify.Recipients, payload any) {
	m.Called(ctx, event, to, payload)
}

var (
	operator = domain.Actor{ID: "op-1", Role: domain.RoleOperator}
	other    = domain.Actor{ID: "op-2", Role: domain.RoleOperator}
	admin    = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	baseTime = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
)

type fixture struct {
	wf       *Workflow
	repos    *repository.Repositories
	ledger   *inventory.Ledger
	bookings *MockBookings
	notifier *MockNotifier
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newFixture seeds venue v1 hosting event e1, both filed under category
// "music". e1 has one occurrence occ1 with a 10-ticket package pkg1.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := func() time.Time { return baseTime }

	f := &fixture{
		repos:    repository.NewMemoryRepositories(),
		bookings: &MockBookings{},
		notifier: &MockNotifier{},
	}
	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()

	locks := lock.NewRegistry()
	f.ledger = inventory.NewLedger(locks, f.repos.Occurrences, quietLogger(), inventory.WithClock(clock))
	f.wf = NewWorkflow(f.repos, locks, f.ledger, f.bookings, f.notifier, quietLogger(), WithClock(clock))

	require.NoError(t, f.repos.Venues.Upsert(ctx, &domain.Venue{
		ID:       "v1",
		Name:     "Opera House",
		EventIDs: []string{"e1"},
		Listing: domain.Listing{
			CategoryIDs: []string{"music"},
			Offers: []domain.Offer{
				{ID: "of1", Title: "Early bird", Active: true},
				{ID: "of2", Title: "Students", Active: true},
			},
			LoyaltyPrograms: []domain.LoyaltyProgram{{ID: "lp1", Title: "Regulars", Points: 10, Active: true}},
			Active:          true,
			Version:         1,
		},
	}))
	require.NoError(t, f.repos.Events.Upsert(ctx, &domain.Event{
		ID:            "e1",
		VenueID:       "v1",
		Title:         "La Traviata",
		OccurrenceIDs: []string{"occ1"},
		Listing: domain.Listing{
			CategoryIDs: []string{"music"},
			Offers:      []domain.Offer{{ID: "of9", Title: "Matinee", Active: true}},
			Active:      true,
			Version:     1,
		},
	}))
	require.NoError(t, f.repos.Categories.Upsert(ctx, &domain.Category{
		ID: "music", VenueIDs: []string{"v1"}, EventIDs: []string{"e1"},
	}))
	_, err := f.ledger.Create(ctx, &domain.Occurrence{
		ID:       "occ1",
		EventID:  "e1",
		StartsAt: baseTime.Add(48 * time.Hour),
		Active:   true,
		Packages: []domain.TicketPackage{{ID: "pkg1", Title: "Stalls", UnitPrice: decimal.NewFromInt(80), TicketsNumber: 10}},
	})
	require.NoError(t, err)
	return f
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func (f *fixture) venue(t *testing.T) *domain.Venue {
	t.Helper()
	v, err := f.repos.Venues.Get(context.Background(), "v1")
	require.NoError(t, err)
	return v
}

func (f *fixture) event(t *testing.T) *domain.Event {
	t.Helper()
	doc, err := f.wf.catalog.load(context.Background(), domain.ResourceEvent, "e1")
	require.NoError(t, err)
	return doc.(*domain.Event)
}

func renamed(v *domain.Venue, name string) *domain.Venue {
	c := *v
	c.Name = name
	return &c
}

func TestSubmit_StagedThenApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	live := f.venue(t)

	res, err := f.wf.Submit(ctx, operator, SubmitInput{
		Kind:         domain.ResourceVenue,
		Modification: domain.ModificationUpdate,
		ResourceID:   "v1",
		Proposed:     raw(t, renamed(live, "Royal Opera House")),
	})
	require.NoError(t, err)
	assert.Nil(t, res.Merge)
	assert.Equal(t, "venue:v1:Update", res.Request.ID)
	assert.Equal(t, int64(1), res.Request.BaseVersion)
	assert.Equal(t, "Opera House", f.venue(t).Name)
	f.notifier.AssertCalled(t, "Notify", mock.Anything, notify.EventChangeStaged, notify.Role(domain.RoleAdmin), mock.Anything)

	_, err = f.wf.Approve(ctx, operator, res.Request.ID)
	assert.ErrorIs(t, err, domain.ErrNotPrivileged)

	merged, err := f.wf.Approve(ctx, admin, res.Request.ID)
	require.NoError(t, err)
	assert.Empty(t, merged.FailedEffects())

	after := f.venue(t)
	assert.Equal(t, "Royal Opera House", after.Name)
	assert.Equal(t, int64(2), after.Version)
	assert.Equal(t, []string{"e1"}, after.EventIDs)

	_, err = f.wf.Get(ctx, admin, res.Request.ID)
	assert.ErrorIs(t, err, domain.ErrChangeRequestNotFound)
	f.notifier.AssertCalled(t, "Notify", mock.Anything, notify.EventChangeMerged, notify.User(operator.ID), mock.Anything)
}

func TestSubmit_PrivilegedMergesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.wf.Submit(ctx, admin, SubmitInput{
		Kind:         domain.ResourceVenue,
		Modification: domain.ModificationUpdate,
		ResourceID:   "v1",
		Proposed:     raw(t, renamed(f.venue(t), "Royal Opera House")),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Merge)
	assert.Equal(t, "Royal Opera House", f.venue(t).Name)

	pending, err := f.wf.ListPending(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMerge_EquivalentForStagedAndPrivileged(t *testing.T) {
	ctx := context.Background()
	staged, direct := newFixture(t), newFixture(t)

	edit := renamed(staged.venue(t), "Royal Opera House")
	edit.CategoryIDs = []string{"music", "classical"}
	input := SubmitInput{
		Kind:         domain.ResourceVenue,
		Modification: domain.ModificationUpdate,
		ResourceID:   "v1",
		Proposed:     raw(t, edit),
	}

	res, err := staged.wf.Submit(ctx, operator, input)
	require.NoError(t, err)
	_, err = staged.wf.Approve(ctx, admin, res.Request.ID)
	require.NoError(t, err)

	_, err = direct.wf.Submit(ctx, admin, input)
	require.NoError(t, err)

	assert.Equal(t, raw(t, direct.venue(t)), raw(t, staged.venue(t)))

	for _, f := range []*fixture{staged, direct} {
		cat, err := f.repos.Categories.Get(ctx, "classical")
		require.NoError(t, err)
		assert.Equal(t, []string{"v1"}, cat.VenueIDs)
	}
}

func TestSubmit_NoChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	same := f.venue(t)
	same.Version = 7
	same.UpdatedAt = baseTime.Add(time.Hour)
	_, err := f.wf.Submit(ctx, operator, SubmitInput{
		Kind:         domain.ResourceVenue,
		Modification: domain.ModificationUpdate,
		ResourceID:   "v1",
		Proposed:     raw(t, same),
	})
	assert.ErrorIs(t, err, domain.ErrNoChangesHaveBeenMade)

	_, err = f.wf.Submit(ctx, operator, SubmitInput{
		Kind:         domain.ResourceVenue,
		Modification: domain.ModificationUpdateOffer,
		ResourceID:   "v1",
		FieldID:      "of1",
		Proposed:     raw(t, domain.Offer{ID: "of1", Title: "Early bird", Active: true}),
	})
	assert.ErrorIs(t, err, domain.ErrNoChangesHaveBeenMade)

	ev := f.event(t)
	ev.Occurrences[0].Packages[0].RemainingTickets = 3
	_, err = f.wf.Submit(ctx, operator, SubmitInput{
		Kind:         domain.ResourceEvent,
		Modification: domain.ModificationUpdate,
		ResourceID:   "e1",
		Proposed:     raw(t, ev),
	})
	assert.ErrorIs(t, err, domain.ErrNoChangesHaveBeenMade)

	pending, err := f.wf.ListPending(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSubmit_PendingConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	live := f.venue(t)

	first, err := f.wf.Submit(ctx, operator, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationUpdate, ResourceID: "v1",
		Proposed: raw(t, renamed(live, "First")),
	})
	require.NoError(t, err)

	_, err = f.wf.Submit(ctx, other, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationUpdate, ResourceID: "v1",
		Proposed: raw(t, renamed(live, "Second")),
	})
	assert.ErrorIs(t, err, domain.ErrChangeRequestAlreadyPending)

	again, err := f.wf.Submit(ctx, operator, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationUpdate, ResourceID: "v1",
		Proposed: raw(t, renamed(live, "Third")),
	})
	require.NoError(t, err)
	assert.Equal(t, first.Request.ID, again.Request.ID)

	cr, err := f.wf.Get(ctx, operator, again.Request.ID)
	require.NoError(t, err)
	var proposed domain.Venue
	require.NoError(t, json.Unmarshal(cr.Proposed, &proposed))
	assert.Equal(t, "Third", proposed.Name)

	_, err = f.wf.Get(ctx, other, again.Request.ID)
	assert.ErrorIs(t, err, domain.ErrNotRequestor)
}

func TestApprove_OutdatedAfterConcurrentMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	staged, err := f.wf.Submit(ctx, operator, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationUpdate, ResourceID: "v1",
		Proposed: raw(t, renamed(f.venue(t), "Stale rename")),
	})
	require.NoError(t, err)

	_, err = f.wf.Submit(ctx, admin, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationAssignOffer, ResourceID: "v1",
		Proposed: raw(t, domain.Offer{ID: "of3", Title: "Family", Active: true}),
	})
	require.NoError(t, err)

	_, err = f.wf.Approve(ctx, admin, staged.Request.ID)
	assert.ErrorIs(t, err, domain.ErrChangeRequestOutdated)

	live := f.venue(t)
	assert.Equal(t, "Opera House", live.Name)
	assert.Len(t, live.Offers, 3)

	_, err = f.wf.Get(ctx, operator, staged.Request.ID)
	assert.NoError(t, err)
}

func TestSubResourceMergeKeepsConcurrentEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	staged, err := f.wf.Submit(ctx, operator, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationUpdateOffer, ResourceID: "v1",
		FieldID:  "of1",
		Proposed: raw(t, domain.Offer{Title: "Early bird -20%", Active: true}),
	})
	require.NoError(t, err)
	assert.Equal(t, "venue:v1:UpdateOffer:of1", staged.Request.ID)

	_, err = f.wf.Submit(ctx, admin, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationAssignOffer, ResourceID: "v1",
		Proposed: raw(t, domain.Offer{ID: "of3", Title: "Family", Active: true}),
	})
	require.NoError(t, err)

	_, err = f.wf.Approve(ctx, admin, staged.Request.ID)
	require.NoError(t, err)

	live := f.venue(t)
	require.Len(t, live.Offers, 3)
	assert.Equal(t, "Early bird -20%", live.Offers[0].Title)
	assert.Equal(t, "Students", live.Offers[1].Title)
	assert.Equal(t, "of3", live.Offers[2].ID)
	assert.Equal(t, int64(3), live.Version)
}

func TestSubResourceErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.wf.Submit(ctx, operator, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationUnassignOffer, ResourceID: "v1",
		FieldID: "nope",
	})
	assert.ErrorIs(t, err, domain.ErrSubResourceNotFound)

	_, err = f.wf.Submit(ctx, operator, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationAssignOffer, ResourceID: "v1",
		Proposed: raw(t, domain.Offer{ID: "of1", Title: "Dup"}),
	})
	assert.ErrorIs(t, err, domain.ErrResourceExists)

	_, err = f.wf.Submit(ctx, operator, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationUpdateLoyalty, ResourceID: "v1",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidChangeRequest)
}

func TestUnassignLoyaltyNotifiesCustomers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.wf.Submit(ctx, admin, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationUnassignLoyalty, ResourceID: "v1",
		FieldID: "lp1",
	})
	require.NoError(t, err)
	assert.Empty(t, f.venue(t).LoyaltyPrograms)

	kinds := make([]EffectKind, 0, len(res.Merge.Effects))
	for _, e := range res.Merge.Effects {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []EffectKind{EffectDeactivateLoyalty, EffectNotifyRequestor}, kinds)
	f.notifier.AssertCalled(t, "Notify", mock.Anything, notify.EventLoyaltyDeactivate, notify.Role(domain.RoleCustomer), mock.Anything)
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.wf.Submit(ctx, operator, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationUpdate, ResourceID: "v1",
		Proposed: raw(t, renamed(f.venue(t), "Withdrawn")),
	})
	require.NoError(t, err)

	assert.ErrorIs(t, f.wf.Withdraw(ctx, other, res.Request.ID), domain.ErrNotRequestor)
	assert.ErrorIs(t, f.wf.Withdraw(ctx, admin, res.Request.ID), domain.ErrNotRequestor)
	require.NoError(t, f.wf.Withdraw(ctx, operator, res.Request.ID))
	assert.ErrorIs(t, f.wf.Withdraw(ctx, operator, res.Request.ID), domain.ErrChangeRequestNotFound)

	_, err = f.wf.Approve(ctx, admin, res.Request.ID)
	assert.ErrorIs(t, err, domain.ErrChangeRequestNotFound)
	assert.Equal(t, "Opera House", f.venue(t).Name)
}

func TestDeleteEventCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bookings.On("CancelForOccurrence", mock.Anything, "occ1").Return(2, nil).Once()

	staged, err := f.wf.Submit(ctx, operator, SubmitInput{
		Kind: domain.ResourceEvent, Modification: domain.ModificationDelete, ResourceID: "e1",
	})
	require.NoError(t, err)
	_, err = f.wf.Approve(ctx, admin, staged.Request.ID)
	require.NoError(t, err)

	_, err = f.repos.Events.Get(ctx, "e1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.ledger.Occurrence(ctx, "occ1")
	assert.ErrorIs(t, err, domain.ErrOccurrenceNotFound)

	cat, err := f.repos.Categories.Get(ctx, "music")
	require.NoError(t, err)
	assert.Empty(t, cat.EventIDs)
	assert.Equal(t, []string{"v1"}, cat.VenueIDs)
	assert.Empty(t, f.venue(t).EventIDs)

	f.bookings.AssertExpectations(t)
	f.notifier.AssertCalled(t, "Notify", mock.Anything, notify.EventOfferDeactivated, notify.Role(domain.RoleCustomer), mock.Anything)
}

func TestDeleteEventCascade_FailingEffectDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bookings.On("CancelForOccurrence", mock.Anything, "occ1").Return(0, errors.New("store unavailable"))

	res, err := f.wf.Submit(ctx, admin, SubmitInput{
		Kind: domain.ResourceEvent, Modification: domain.ModificationDelete, ResourceID: "e1",
	})
	require.NoError(t, err)

	failed := res.Merge.FailedEffects()
	require.Len(t, failed, 1)
	assert.Equal(t, EffectCancelBookings, failed[0].Kind)
	assert.Len(t, res.Merge.Effects, 7)
	assert.Equal(t, EffectNotifyRequestor, res.Merge.Effects[6].Kind)

	_, err = f.ledger.Occurrence(ctx, "occ1")
	assert.ErrorIs(t, err, domain.ErrOccurrenceNotFound)
}

func TestDeleteEvent_OccurrencesStopSellingBeforeCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bookings.On("CancelForOccurrence", mock.Anything, "occ1").Run(func(args mock.Arguments) {
		// A purchase arriving now must find the occurrence closed.
		occ, err := f.ledger.Occurrence(ctx, "occ1")
		require.NoError(t, err)
		assert.False(t, occ.Bookable(baseTime))
	}).Return(0, nil).Once()

	_, err := f.wf.Submit(ctx, admin, SubmitInput{
		Kind: domain.ResourceEvent, Modification: domain.ModificationDelete, ResourceID: "e1",
	})
	require.NoError(t, err)
	f.bookings.AssertExpectations(t)
}

func TestDeleteEvent_FailedWriteKeepsOccurrencesOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.wf.catalog.events = failingDeletes{EventRepository: f.repos.Events}

	_, err := f.wf.Submit(ctx, admin, SubmitInput{
		Kind: domain.ResourceEvent, Modification: domain.ModificationDelete, ResourceID: "e1",
	})
	assert.EqualError(t, err, "events table locked")

	occ, err := f.ledger.Occurrence(ctx, "occ1")
	require.NoError(t, err)
	assert.True(t, occ.Active)
	f.bookings.AssertNotCalled(t, "CancelForOccurrence", mock.Anything, mock.Anything)
}

type failingDeletes struct {
	repository.EventRepository
}

func (failingDeletes) Delete(ctx context.Context, id string) (bool, error) {
	return false, errors.New("events table locked")
}

func TestDeleteVenueDetachesEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.wf.Submit(ctx, admin, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationDelete, ResourceID: "v1",
	})
	require.NoError(t, err)

	_, err = f.repos.Venues.Get(ctx, "v1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	ev, err := f.repos.Events.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, ev.VenueID)
	assert.False(t, ev.Active)
}

func TestEventShrinkBelowSold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	proposal := f.event(t)
	proposal.Occurrences[0].Packages[0].TicketsNumber = 2
	staged, err := f.wf.Submit(ctx, operator, SubmitInput{
		Kind: domain.ResourceEvent, Modification: domain.ModificationUpdate, ResourceID: "e1",
		Proposed: raw(t, proposal),
	})
	require.NoError(t, err)

	remaining, err := f.ledger.AdjustRemaining(ctx, "occ1", "pkg1", -9)
	require.NoError(t, err)
	require.Equal(t, 1, remaining)

	_, err = f.wf.Approve(ctx, admin, staged.Request.ID)
	assert.ErrorIs(t, err, domain.ErrPackageTicketNumberHasZeroRemaining)

	occ, err := f.ledger.Occurrence(ctx, "occ1")
	require.NoError(t, err)
	assert.Equal(t, 10, occ.Packages[0].TicketsNumber)
	assert.Equal(t, 1, occ.Packages[0].RemainingTickets)

	_, err = f.wf.Submit(ctx, admin, SubmitInput{
		Kind: domain.ResourceEvent, Modification: domain.ModificationUpdate, ResourceID: "e1",
		Proposed: raw(t, proposal),
	})
	assert.ErrorIs(t, err, domain.ErrPackageTicketNumberHasZeroRemaining)

	_, err = f.wf.Get(ctx, operator, staged.Request.ID)
	assert.NoError(t, err)
}

func TestEventScheduleUpdate_NoPartialResize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.Create(ctx, &domain.Occurrence{
		ID: "occ2", EventID: "e1", StartsAt: baseTime.Add(72 * time.Hour), Active: true,
		Packages: []domain.TicketPackage{{ID: "pkg2", Title: "Balcony", UnitPrice: decimal.NewFromInt(40), TicketsNumber: 6}},
	})
	require.NoError(t, err)
	ev, err := f.repos.Events.Get(ctx, "e1")
	require.NoError(t, err)
	ev.OccurrenceIDs = []string{"occ1", "occ2"}
	require.NoError(t, f.repos.Events.Upsert(ctx, ev))

	proposal := f.event(t)
	proposal.Title = "La Traviata (extended)"
	proposal.Occurrences[0].Packages[0].TicketsNumber = 30
	proposal.Occurrences[1].Packages[0].TicketsNumber = 3
	staged, err := f.wf.Submit(ctx, operator, SubmitInput{
		Kind: domain.ResourceEvent, Modification: domain.ModificationUpdate, ResourceID: "e1",
		Proposed: raw(t, proposal),
	})
	require.NoError(t, err)

	_, err = f.ledger.AdjustRemaining(ctx, "occ2", "pkg2", -5)
	require.NoError(t, err)

	_, err = f.wf.Approve(ctx, admin, staged.Request.ID)
	assert.ErrorIs(t, err, domain.ErrPackageTicketNumberHasZeroRemaining)

	after := f.event(t)
	assert.Equal(t, "La Traviata", after.Title)
	require.Len(t, after.Occurrences, 2)
	assert.Equal(t, 10, after.Occurrences[0].Packages[0].TicketsNumber, "occ1 must not be resized alone")
	assert.Equal(t, 6, after.Occurrences[1].Packages[0].TicketsNumber)
	assert.Equal(t, 1, after.Occurrences[1].Packages[0].RemainingTickets)
}

func TestEventScheduleUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bookings.On("CancelForOccurrence", mock.Anything, "occ1").Return(0, nil).Once()
	_, err := f.ledger.AdjustRemaining(ctx, "occ1", "pkg1", -3)
	require.NoError(t, err)

	proposal := f.event(t)
	proposal.Title = "La Traviata (new cast)"
	proposal.Occurrences = []domain.Occurrence{{
		ID:       "occ2",
		StartsAt: baseTime.Add(72 * time.Hour),
		Active:   true,
		Packages: []domain.TicketPackage{{ID: "pkg2", Title: "Balcony", UnitPrice: decimal.NewFromInt(40), TicketsNumber: 20}},
	}}
	res, err := f.wf.Submit(ctx, admin, SubmitInput{
		Kind: domain.ResourceEvent, Modification: domain.ModificationUpdate, ResourceID: "e1",
		Proposed: raw(t, proposal),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Merge.FailedEffects())

	ev := f.event(t)
	assert.Equal(t, "La Traviata (new cast)", ev.Title)
	assert.Equal(t, []string{"occ2"}, ev.OccurrenceIDs)
	require.Len(t, ev.Occurrences, 1)
	assert.Equal(t, 20, ev.Occurrences[0].Packages[0].RemainingTickets)
	assert.Equal(t, "e1", ev.Occurrences[0].EventID)

	_, err = f.ledger.Occurrence(ctx, "occ1")
	assert.ErrorIs(t, err, domain.ErrOccurrenceNotFound)
	f.bookings.AssertExpectations(t)
}

func TestAddEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.wf.Submit(ctx, admin, SubmitInput{
		Kind:         domain.ResourceEvent,
		Modification: domain.ModificationAdd,
		Proposed: raw(t, domain.Event{
			VenueID: "v1",
			Title:   "Rigoletto",
			Occurrences: []domain.Occurrence{{
				StartsAt: baseTime.Add(96 * time.Hour),
				Active:   true,
				Packages: []domain.TicketPackage{{Title: "Stalls", UnitPrice: decimal.NewFromInt(90), TicketsNumber: 50}},
			}},
			Listing: domain.Listing{CategoryIDs: []string{"opera"}, Active: true},
		}),
	})
	require.NoError(t, err)

	id := res.Request.ResourceID
	require.NotEmpty(t, id)
	ev, err := f.wf.catalog.load(ctx, domain.ResourceEvent, id)
	require.NoError(t, err)
	added := ev.(*domain.Event)
	assert.Equal(t, int64(1), added.Version)
	require.Len(t, added.Occurrences, 1)
	assert.Equal(t, 50, added.Occurrences[0].Packages[0].RemainingTickets)
	assert.NotEmpty(t, added.Occurrences[0].Packages[0].ID)

	assert.ElementsMatch(t, []string{"e1", id}, f.venue(t).EventIDs)
	cat, err := f.repos.Categories.Get(ctx, "opera")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, cat.EventIDs)

	_, err = f.wf.Submit(ctx, admin, SubmitInput{
		Kind: domain.ResourceEvent, Modification: domain.ModificationAdd, ResourceID: id,
		Proposed: raw(t, domain.Event{Title: "Again"}),
	})
	assert.ErrorIs(t, err, domain.ErrResourceExists)
}

func TestAddEvent_ForeignOccurrence(t *testing.T) {
	f := newFixture(t)

	_, err := f.wf.Submit(context.Background(), admin, SubmitInput{
		Kind:         domain.ResourceEvent,
		Modification: domain.ModificationAdd,
		ResourceID:   "e2",
		Proposed: raw(t, domain.Event{
			Title:       "Hijack",
			Occurrences: []domain.Occurrence{{ID: "occ1", Active: true}},
		}),
	})
	assert.ErrorIs(t, err, domain.ErrResourceExists)

	occ, err := f.ledger.Occurrence(context.Background(), "occ1")
	require.NoError(t, err)
	assert.Equal(t, "e1", occ.EventID)
}

func TestDeactivateVenueTogglesOffers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	edit := f.venue(t)
	edit.Active = false
	res, err := f.wf.Submit(ctx, admin, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationUpdate, ResourceID: "v1",
		Proposed: raw(t, edit),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Merge.FailedEffects())

	live := f.venue(t)
	assert.False(t, live.Active)
	for _, o := range live.Offers {
		assert.False(t, o.Active)
	}
	assert.False(t, live.LoyaltyPrograms[0].Active)
	f.notifier.AssertCalled(t, "Notify", mock.Anything, notify.EventOfferDeactivated, notify.Role(domain.RoleCustomer), mock.Anything)

	edit = f.venue(t)
	edit.Active = true
	_, err = f.wf.Submit(ctx, admin, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationUpdate, ResourceID: "v1",
		Proposed: raw(t, edit),
	})
	require.NoError(t, err)
	assert.True(t, f.venue(t).Offers[0].Active)
	f.notifier.AssertCalled(t, "Notify", mock.Anything, notify.EventOfferReactivated, notify.Role(domain.RoleCustomer), mock.Anything)
}

func TestSubmit_DeleteTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	staged, err := f.wf.Submit(ctx, admin, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationDelete, ResourceID: "v1",
	})
	require.NoError(t, err)
	require.NotNil(t, staged.Merge)

	_, err = f.wf.Submit(ctx, admin, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationDelete, ResourceID: "v1",
	})
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)

	pending, err := f.wf.ListPending(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestListPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.wf.Submit(ctx, operator, SubmitInput{
		Kind: domain.ResourceVenue, Modification: domain.ModificationUpdate, ResourceID: "v1",
		Proposed: raw(t, renamed(f.venue(t), "Mine")),
	})
	require.NoError(t, err)
	_, err = f.wf.Submit(ctx, other, SubmitInput{
		Kind: domain.ResourceEvent, Modification: domain.ModificationDelete, ResourceID: "e1",
	})
	require.NoError(t, err)

	all, err := f.wf.ListPending(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.wf.ListPending(ctx, operator)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, domain.ResourceVenue, mine[0].ResourceKind)
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		actor domain.Actor
		input SubmitInput
		want  error
	}{
		{"unknown kind", operator, SubmitInput{Kind: "stage", Modification: domain.ModificationDelete, ResourceID: "x"}, domain.ErrInvalidChangeRequest},
		{"unknown modification", operator, SubmitInput{Kind: domain.ResourceVenue, Modification: "Rename", ResourceID: "v1"}, domain.ErrInvalidChangeRequest},
		{"missing resource id", operator, SubmitInput{Kind: domain.ResourceVenue, Modification: domain.ModificationUpdate}, domain.ErrInvalidChangeRequest},
		{"missing resource", operator, SubmitInput{Kind: domain.ResourceVenue, Modification: domain.ModificationDelete, ResourceID: "v9"}, domain.ErrResourceNotFound},
		{"garbage proposal", operator, SubmitInput{Kind: domain.ResourceVenue, Modification: domain.ModificationUpdate, ResourceID: "v1", Proposed: json.RawMessage(`[1]`)}, domain.ErrInvalidChangeRequest},
		{"anonymous", domain.Actor{}, SubmitInput{Kind: domain.ResourceVenue, Modification: domain.ModificationDelete, ResourceID: "v1"}, domain.ErrNotRequestor},
		{"customer", domain.Actor{ID: "u1", Role: domain.RoleCustomer}, SubmitInput{Kind: domain.ResourceVenue, Modification: domain.ModificationDelete, ResourceID: "v1"}, domain.ErrNotOperator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.wf.Submit(ctx, tt.actor, tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
