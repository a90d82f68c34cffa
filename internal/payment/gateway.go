package payment

import (
	"context"
	"strings"

	"github.com/Domenick1991/venuebooking/internal/domain"
)

// Transaction is what the gateway returns when a payment is initiated.
type Transaction struct {
	OrderRef    string
	RedirectURL string
}

// TransactionStatus is the raw answer of a status check.
type TransactionStatus struct {
	OrderRef string
	Code     int
	Text     string
}

type Gateway interface {
	CreateTransaction(ctx context.Context, booking *domain.Booking) (Transaction, error)
	CheckTransaction(ctx context.Context, orderRef string) (TransactionStatus, error)
}

// Telr status codes.
const (
	telrPending    = 1
	telrAuthorised = 2
	telrPaid       = 3
	telrExpired    = -1
	telrCancelled  = -2
	telrDeclined   = -3
)

// MapStatus translates a gateway status into the booking vocabulary. The
// text wins when present; the numeric code is the fallback.
func MapStatus(st TransactionStatus) (domain.BookingStatus, error) {
	switch strings.ToLower(strings.TrimSpace(st.Text)) {
	case "pending":
		return domain.BookingStatusPending, nil
	case "paid":
		return domain.BookingStatusPaid, nil
	case "cancelled", "canceled":
		return domain.BookingStatusCancelled, nil
	case "declined":
		return domain.BookingStatusDeclined, nil
	case "expired":
		return domain.BookingStatusExpired, nil
	case "authorised", "authorized", "on hold", "onhold", "hold":
		return domain.BookingStatusOnHold, nil
	case "":
	default:
		return "", domain.ErrTelrTransaction
	}

	switch st.Code {
	case telrPending:
		return domain.BookingStatusPending, nil
	case telrAuthorised:
		return domain.BookingStatusOnHold, nil
	case telrPaid:
		return domain.BookingStatusPaid, nil
	case telrExpired:
		return domain.BookingStatusExpired, nil
	case telrCancelled:
		return domain.BookingStatusCancelled, nil
	case telrDeclined:
		return domain.BookingStatusDeclined, nil
	}
	return "", domain.ErrTelrTransaction
}
