// Package moderation stages edits to venues and events as change requests
// and merges them into the live resources once approved.
package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/Domenick1991/venuebooking/internal/inventory"
	"github.com/Domenick1991/venuebooking/internal/lock"
	"github.com/Domenick1991/venuebooking/internal/metrics"
	"github.com/Domenick1991/venuebooking/internal/notify"
	"github.com/Domenick1991/venuebooking/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type WorkflowUseCase interface {
	Submit(ctx context.Context, actor domain.Actor, input SubmitInput) (*SubmitResult, error)
	Approve(ctx context.Context, actor domain.Actor, requestID string) (*MergeResult, error)
	Withdraw(ctx context.Context, actor domain.Actor, requestID string) error
	Get(ctx context.Context, actor domain.Actor, requestID string) (*domain.ChangeRequest, error)
	ListPending(ctx context.Context, actor domain.Actor) ([]*domain.ChangeRequest, error)
}

// Bookings cancels the bookings of occurrences removed by a merge.
type Bookings interface {
	CancelForOccurrence(ctx context.Context, occurrenceID string) (int, error)
}

type SubmitInput struct {
	Kind         domain.ResourceKind `json:"kind" validate:"required,oneof=venue event"`
	Modification domain.Modification `json:"modification" validate:"required"`
	ResourceID   string              `json:"resource_id" validate:"required_unless=Modification Add"`
	// FieldID selects the offer or loyalty program of a sub-resource change.
	FieldID  string          `json:"field_id"`
	Proposed json.RawMessage `json:"proposed"`
}

type SubmitResult struct {
	Request *domain.ChangeRequest `json:"request"`
	// Merge is set when the change was applied right away.
	Merge *MergeResult `json:"merge,omitempty"`
}

type MergeResult struct {
	RequestID    string              `json:"request_id"`
	ResourceKind domain.ResourceKind `json:"resource_kind"`
	ResourceID   string              `json:"resource_id"`
	Modification domain.Modification `json:"modification"`
	// Resource is the live resource after the merge, nil after a Delete.
	Resource any             `json:"resource,omitempty"`
	Effects  []EffectOutcome `json:"effects"`
}

// FailedEffects lists the effects that did not complete.
func (r *MergeResult) FailedEffects() []EffectOutcome {
	var failed []EffectOutcome
	for _, e := range r.Effects {
		if e.Error != "" {
			failed = append(failed, e)
		}
	}
	return failed
}

type Workflow struct {
	catalog    *catalog
	categories repository.CategoryRepository
	requests   repository.ChangeRequestRepository
	locks      *lock.Registry
	ledger     *inventory.Ledger
	bookings   Bookings
	notifier   notify.Notifier
	validate   *validator.Validate
	logger     *logrus.Logger
	now        func() time.Time
}

type Option func(*Workflow)

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		w.now = now
	}
}

func NewWorkflow(
	repos *repository.Repositories,
	locks *lock.Registry,
	ledger *inventory.Ledger,
	bookings Bookings,
	notifier notify.Notifier,
	logger *logrus.Logger,
	opts ...Option,
) *Workflow {
	w := &Workflow{
		catalog:    &catalog{venues: repos.Venues, events: repos.Events, ledger: ledger},
		categories: repos.Categories,
		requests:   repos.ChangeRequests,
		locks:      locks,
		ledger:     ledger,
		bookings:   bookings,
		notifier:   notifier,
		validate:   validator.New(),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.notifier == nil {
		w.notifier = notify.Nop{}
	}
	return w
}

func resourceKey(kind domain.ResourceKind, id string) string {
	return string(kind) + ":" + id
}

// Submit stages a change request. Privileged actors get it merged in the
// same call through the path Approve uses.
func (w *Workflow) Submit(ctx context.Context, actor domain.Actor, input SubmitInput) (*SubmitResult, error) {
	if err := w.validateInput(actor, &input); err != nil {
		return nil, err
	}
	log := w.logger.WithContext(ctx).WithFields(logrus.Fields{
		"actor_id":      actor.ID,
		"resource_kind": input.Kind,
		"resource_id":   input.ResourceID,
		"modification":  input.Modification,
	})

	var (
		staged   *domain.ChangeRequest
		replaced *domain.ChangeRequest
	)
	err := w.locks.Do(ctx, resourceKey(input.Kind, input.ResourceID), func(ctx context.Context) error {
		live, err := w.catalog.find(ctx, input.Kind, input.ResourceID)
		if err != nil {
			return err
		}
		cr, err := w.stage(ctx, actor, input, live)
		if err != nil {
			return err
		}

		existing, err := w.requests.Get(ctx, cr.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return err
		case existing.RequestorID != actor.ID && !actor.Privileged():
			return domain.ErrChangeRequestAlreadyPending
		default:
			cr.CreatedAt = existing.CreatedAt
			replaced = existing
		}

		if err := w.requests.Upsert(ctx, cr); err != nil {
			return fmt.Errorf("save change request: %w", err)
		}
		staged = cr
		return nil
	})
	if err != nil {
		log.WithError(err).Info("change request refused")
		return nil, err
	}
	log.WithField("request_id", staged.ID).Info("change request staged")

	if !actor.Privileged() {
		w.notifier.Notify(ctx, notify.EventChangeStaged, notify.Role(domain.RoleAdmin), map[string]any{
			"request_id":    staged.ID,
			"resource_kind": staged.ResourceKind,
			"resource_id":   staged.ResourceID,
			"modification":  staged.Modification,
			"requestor_id":  staged.RequestorID,
		})
		return &SubmitResult{Request: staged}, nil
	}

	result, err := w.merge(ctx, staged)
	if err != nil {
		w.unstage(ctx, staged, replaced)
		return nil, err
	}
	return &SubmitResult{Request: staged, Merge: result}, nil
}

func (w *Workflow) validateInput(actor domain.Actor, input *SubmitInput) error {
	if actor.ID == "" {
		return domain.ErrNotRequestor
	}
	if !actor.Operates() {
		return domain.ErrNotOperator
	}
	if err := w.validate.Struct(input); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidChangeRequest, err)
	}
	if !input.Modification.Valid() {
		return fmt.Errorf("%w: unknown modification %q", domain.ErrInvalidChangeRequest, input.Modification)
	}
	switch input.Modification {
	case domain.ModificationAdd:
		if input.ResourceID == "" {
			input.ResourceID = uuid.NewString()
		}
	case domain.ModificationUnassignOffer, domain.ModificationUnassignLoyalty,
		domain.ModificationUpdateOffer, domain.ModificationUpdateLoyalty:
		if input.FieldID == "" {
			return fmt.Errorf("%w: field_id is required", domain.ErrInvalidChangeRequest)
		}
	}
	return nil
}

// stage builds the change request for input against the live resource and
// refuses requests that would change nothing.
func (w *Workflow) stage(ctx context.Context, actor domain.Actor, input SubmitInput, live publishable) (*domain.ChangeRequest, error) {
	now := w.now()
	cr := &domain.ChangeRequest{
		ResourceKind: input.Kind,
		ResourceID:   input.ResourceID,
		Modification: input.Modification,
		FieldID:      input.FieldID,
		RequestorID:  actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if live != nil {
		prior, err := json.Marshal(live)
		if err != nil {
			return nil, err
		}
		cr.Prior = prior
		cr.BaseVersion = live.Base().Version
	}

	var proposed publishable
	switch m := input.Modification; {
	case m == domain.ModificationAdd, m == domain.ModificationUpdate:
		doc, err := decode(input.Kind, input.Proposed)
		if err != nil {
			return nil, err
		}
		assignIDs(doc)
		normalize(doc, input.ResourceID)
		if e, ok := doc.(*domain.Event); ok {
			if err := w.checkEvent(ctx, e); err != nil {
				return nil, err
			}
		}
		proposed = doc
	case m.TargetsSubResource():
		if live == nil {
			return nil, domain.ErrResourceNotFound
		}
		doc, fieldID, err := proposeEntry(live, input)
		if err != nil {
			return nil, err
		}
		cr.FieldID = fieldID
		proposed = doc
	}

	if proposed != nil {
		raw, err := json.Marshal(proposed)
		if err != nil {
			return nil, err
		}
		cr.Proposed = raw
	}
	cr.ID = domain.ChangeRequestID(cr.ResourceKind, cr.ResourceID, cr.Modification, cr.FieldID)

	next, err := resolve(live, cr, now)
	if err != nil {
		return nil, err
	}
	if next != nil && live != nil {
		same, err := sameContent(live, next)
		if err != nil {
			return nil, err
		}
		if same {
			return nil, domain.ErrNoChangesHaveBeenMade
		}
	}
	return cr, nil
}

// proposeEntry returns live with the offer or loyalty entry of input
// applied, plus the id of that entry.
func proposeEntry(live publishable, input SubmitInput) (publishable, string, error) {
	doc, err := clone(live)
	if err != nil {
		return nil, "", err
	}
	src := &domain.Listing{}
	fieldID := input.FieldID

	switch input.Modification {
	case domain.ModificationAssignOffer, domain.ModificationUpdateOffer:
		var o domain.Offer
		if err := json.Unmarshal(input.Proposed, &o); err != nil {
			return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidChangeRequest, err)
		}
		fieldID = entryID(fieldID, o.ID)
		o.ID = fieldID
		src.Offers = []domain.Offer{o}
	case domain.ModificationAssignLoyalty, domain.ModificationUpdateLoyalty:
		var l domain.LoyaltyProgram
		if err := json.Unmarshal(input.Proposed, &l); err != nil {
			return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidChangeRequest, err)
		}
		fieldID = entryID(fieldID, l.ID)
		l.ID = fieldID
		src.LoyaltyPrograms = []domain.LoyaltyProgram{l}
	}

	if err := mergeSubResource(doc.Base(), src, input.Modification, fieldID); err != nil {
		return nil, "", err
	}
	return doc, fieldID, nil
}

func entryID(fieldID, bodyID string) string {
	switch {
	case fieldID != "":
		return fieldID
	case bodyID != "":
		return bodyID
	}
	return uuid.NewString()
}

// assignIDs gives new occurrences and packages stable ids before staging.
func assignIDs(doc publishable) {
	e, ok := doc.(*domain.Event)
	if !ok {
		return
	}
	for i := range e.Occurrences {
		o := &e.Occurrences[i]
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		for j := range o.Packages {
			if o.Packages[j].ID == "" {
				o.Packages[j].ID = uuid.NewString()
			}
		}
	}
}

// checkEvent verifies that the schedule of e could be applied right now:
// the venue exists, no occurrence belongs to another event and every
// package resize fits what is already sold.
func (w *Workflow) checkEvent(ctx context.Context, e *domain.Event) error {
	if err := w.checkVenue(ctx, e); err != nil {
		return err
	}
	for i := range e.Occurrences {
		occ := &e.Occurrences[i]
		live, err := w.ledger.Occurrence(ctx, occ.ID)
		switch {
		case errors.Is(err, domain.ErrOccurrenceNotFound):
		case err != nil:
			return err
		case live.EventID != e.ID:
			return fmt.Errorf("occurrence %s: %w", occ.ID, domain.ErrResourceExists)
		}
		if err := w.ledger.ValidateSchedule(ctx, occ); err != nil {
			return fmt.Errorf("occurrence %s: %w", occ.ID, err)
		}
	}
	return nil
}

func (w *Workflow) checkVenue(ctx context.Context, e *domain.Event) error {
	if e.VenueID == "" {
		return nil
	}
	if _, err := w.catalog.venues.Get(ctx, e.VenueID); err != nil {
		return missing(err)
	}
	return nil
}

// unstage undoes the staging of a privileged request whose merge failed.
func (w *Workflow) unstage(ctx context.Context, staged, replaced *domain.ChangeRequest) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if replaced != nil {
		err = w.requests.Upsert(ctx, replaced)
	} else {
		_, err = w.requests.Delete(ctx, staged.ID)
	}
	if err != nil {
		w.logger.WithContext(ctx).WithError(err).WithField("request_id", staged.ID).
			Error("could not unstage change request after failed merge")
	}
}

// Approve merges a staged change request.
func (w *Workflow) Approve(ctx context.Context, actor domain.Actor, requestID string) (*MergeResult, error) {
	if !actor.Privileged() {
		return nil, domain.ErrNotPrivileged
	}
	cr, err := w.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return w.merge(ctx, cr)
}

// merge applies cr to the live resource under the resource lock, drops the
// request and then runs the post-merge effects outside the lock.
func (w *Workflow) merge(ctx context.Context, cr *domain.ChangeRequest) (*MergeResult, error) {
	log := w.logger.WithContext(ctx).WithFields(logrus.Fields{
		"request_id":    cr.ID,
		"resource_kind": cr.ResourceKind,
		"resource_id":   cr.ResourceID,
		"modification":  cr.Modification,
	})

	var prev, next publishable
	err := w.locks.Do(ctx, resourceKey(cr.ResourceKind, cr.ResourceID), func(ctx context.Context) error {
		ctx = context.WithoutCancel(ctx)
		live, err := w.catalog.find(ctx, cr.ResourceKind, cr.ResourceID)
		if err != nil {
			return err
		}
		resolved, err := resolve(live, cr, w.now())
		if err != nil {
			return err
		}
		if err := w.commit(ctx, cr, live, resolved); err != nil {
			return err
		}
		if _, err := w.requests.Delete(ctx, cr.ID); err != nil {
			log.WithError(err).Error("merged change request could not be deleted")
		}
		prev, next = live, resolved
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("merge refused")
		return nil, err
	}
	metrics.TrackMerge(string(cr.ResourceKind), string(cr.Modification))
	log.Info("change request merged")

	ctx = context.WithoutCancel(ctx)
	result := &MergeResult{
		RequestID:    cr.ID,
		ResourceKind: cr.ResourceKind,
		ResourceID:   cr.ResourceID,
		Modification: cr.Modification,
	}
	result.Effects = w.runEffects(ctx, &cascade{cr: cr, prev: prev, next: next}, planEffects(cr, prev, next))

	if next != nil {
		live, err := w.catalog.find(ctx, cr.ResourceKind, cr.ResourceID)
		if err != nil {
			log.WithError(err).Warn("reload merged resource")
			live = next
		}
		result.Resource = live
	}
	return result, nil
}

// commit writes a resolved resource. An event document lands together
// with its occurrences: kept ones are resized, dropped ones stop selling and
// the document is written while every one of their locks is held.
func (w *Workflow) commit(ctx context.Context, cr *domain.ChangeRequest, prev, next publishable) error {
	write := func(ctx context.Context) error {
		if next == nil {
			return w.catalog.remove(ctx, cr.ResourceKind, cr.ResourceID)
		}
		return w.catalog.save(ctx, next)
	}
	if cr.ResourceKind != domain.ResourceEvent || cr.Modification.TargetsSubResource() {
		return write(ctx)
	}

	schedule := inventory.Schedule{Commit: write}
	if e, ok := next.(*domain.Event); ok {
		if err := w.checkVenue(ctx, e); err != nil {
			return err
		}
		schedule.Occurrences = e.Occurrences
		schedule.Check = func(live domain.Occurrence) error {
			if live.EventID != e.ID {
				return domain.ErrResourceExists
			}
			return nil
		}
		schedule.Retired = droppedOccurrences(prev, next)
	} else if e, ok := prev.(*domain.Event); ok {
		schedule.Retired = e.OccurrenceIDs
	}
	_, err := w.ledger.ApplySchedules(ctx, schedule)
	return err
}

// Withdraw deletes a staged request. Only its requestor may do so.
func (w *Workflow) Withdraw(ctx context.Context, actor domain.Actor, requestID string) error {
	cr, err := w.load(ctx, requestID)
	if err != nil {
		return err
	}
	return w.locks.Do(ctx, resourceKey(cr.ResourceKind, cr.ResourceID), func(ctx context.Context) error {
		cr, err := w.load(ctx, requestID)
		if err != nil {
			return err
		}
		if cr.RequestorID != actor.ID {
			return domain.ErrNotRequestor
		}
		if _, err := w.requests.Delete(ctx, requestID); err != nil {
			return err
		}
		w.logger.WithContext(ctx).WithField("request_id", requestID).Info("change request withdrawn")
		return nil
	})
}

func (w *Workflow) Get(ctx context.Context, actor domain.Actor, requestID string) (*domain.ChangeRequest, error) {
	cr, err := w.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged() && cr.RequestorID != actor.ID {
		return nil, domain.ErrNotRequestor
	}
	return cr, nil
}

// ListPending returns every staged request for privileged actors and the
// caller's own requests otherwise, oldest first.
func (w *Workflow) ListPending(ctx context.Context, actor domain.Actor) ([]*domain.ChangeRequest, error) {
	var out []*domain.ChangeRequest
	if actor.Privileged() {
		for _, kind := range []domain.ResourceKind{domain.ResourceVenue, domain.ResourceEvent} {
			list, err := w.requests.Find(ctx, "resource_kind", string(kind))
			if err != nil {
				return nil, err
			}
			out = append(out, list...)
		}
	} else {
		list, err := w.requests.Find(ctx, "requestor_id", actor.ID)
		if err != nil {
			return nil, err
		}
		out = list
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (w *Workflow) load(ctx context.Context, requestID string) (*domain.ChangeRequest, error) {
	cr, err := w.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrChangeRequestNotFound
		}
		return nil, err
	}
	return cr, nil
}

var _ WorkflowUseCase = (*Workflow)(nil)
