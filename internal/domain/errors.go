package domain

import (
	"errors"
	"fmt"
)

// Kind groups error codes so the transport layer can map them without
// knowing every code.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindCapacity   Kind = "capacity"
	KindConflict   Kind = "conflict"
	KindExternal   Kind = "external"
	KindFatal      Kind = "fatal"
)

// Error is a stable, code-addressable failure. Two errors match under
// errors.Is when their codes are equal.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Remaining is set on capacity errors.
	Remaining int
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidQuantity         = newError(KindValidation, "InvalidQuantity", "quantity must be positive")
	ErrInvalidBookingRequest   = newError(KindValidation, "InvalidBookingRequest", "booking request is incomplete")
	ErrTotalAmountIsNotCorrect = newError(KindValidation, "TotalAmountIsNotCorrect", "total amount does not match quantity and unit price")
	ErrOccurrenceNotFound      = newError(KindNotFound, "OccurrenceNotFound", "event occurrence not found")
	ErrPackageNotFound         = newError(KindNotFound, "PackageNotFound", "ticket package not found")
	ErrOccurrenceNotBookable   = newError(KindValidation, "OccurrenceNotBookable", "event occurrence is inactive or already started")
	ErrBookingNotFound         = newError(KindNotFound, "BookingNotFound", "booking not found")
	ErrInvalidTransition       = newError(KindConflict, "InvalidBookingTransition", "booking cannot move to the requested status")
	ErrNotBookingOwner         = newError(KindForbidden, "NotBookingOwner", "booking belongs to another user")
	ErrCancellationClosed      = newError(KindValidation, "CancellationClosed", "event occurrence has already started")
	ErrMissingGatewayRef       = newError(KindValidation, "MissingGatewayReference", "booking has no payment reference")

	ErrTicketsSoldOut                     = newError(KindCapacity, "TicketsSoldOut", "no tickets left")
	ErrExceededQuantityOfRemainingTickets = newError(KindCapacity, "ExceededQuantityOfRemainingTickets", "")

	ErrNoChangesHaveBeenMade              = newError(KindConflict, "NoChangesHaveBeenMade", "proposed resource equals the live resource")
	ErrPackageTicketNumberHasZeroRemaining = newError(KindConflict, "PackageTicketNumberHasZeroRemaining", "tickets number is lower than tickets already sold")
	ErrPackageHasSoldTickets              = newError(KindConflict, "PackageHasSoldTickets", "package with sold tickets cannot be removed")
	ErrChangeRequestAlreadyPending        = newError(KindConflict, "ChangeRequestAlreadyPending", "another change request is pending for this resource")
	ErrChangeRequestOutdated              = newError(KindConflict, "ChangeRequestOutdated", "live resource changed since the request was staged")

	ErrChangeRequestNotFound = newError(KindNotFound, "ChangeRequestNotFound", "change request not found")
	ErrResourceNotFound      = newError(KindNotFound, "ResourceNotFound", "resource not found")
	ErrResourceExists        = newError(KindConflict, "ResourceAlreadyExists", "resource already exists")
	ErrSubResourceNotFound   = newError(KindNotFound, "SubResourceNotFound", "offer or loyalty program not found")
	ErrNotPrivileged         = newError(KindForbidden, "NotPrivileged", "operation requires an elevated operator")
	ErrNotRequestor          = newError(KindForbidden, "NotRequestor", "only the requestor may withdraw a change request")
	ErrNotOperator           = newError(KindForbidden, "NotOperator", "only operators may propose catalog changes")
	ErrInvalidChangeRequest  = newError(KindValidation, "InvalidChangeRequest", "change request payload is invalid")

	ErrTelrTransaction     = newError(KindExternal, "Telr_TransactionError", "payment gateway returned no usable status")
	ErrPaymentStillPending = newError(KindExternal, "PaymentStillPending", "payment has not settled yet")

	ErrInventoryIntegrityViolation = newError(KindFatal, "InventoryIntegrityViolation", "remaining tickets would exceed tickets number")
	ErrBookingAlreadyFinalized     = newError(KindFatal, "BookingAlreadyFinalized", "booking inventory was already released")
	ErrTicketMaterializationFailed = newError(KindFatal, "TicketMaterializationFailed", "booking is paid but tickets could not be issued")
)

// ExceededRemaining builds the capacity error carrying the exact count the
// caller can render as "only N left".
func ExceededRemaining(remaining int) *Error {
	return &Error{
		Kind:      KindCapacity,
		Code:      ErrExceededQuantityOfRemainingTickets.Code,
		Message:   fmt.Sprintf("%d tickets left", remaining),
		Remaining: remaining,
	}
}

// KindOf returns the kind of err, or KindFatal for errors outside the
// taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}
