package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Domenick1991/venuebooking/config"
	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/sirupsen/logrus"
)

// TelrGateway talks to the Telr hosted payment page API.
type TelrGateway struct {
	endpoint  string
	storeID   string
	authKey   string
	test      bool
	returnURL string
	hc        *http.Client
	logger    *logrus.Logger
}

func NewTelrGateway(cfg config.TelrConfig, hc *http.Client, logger *logrus.Logger) *TelrGateway {
	if hc == nil {
		hc = &http.Client{Timeout: time.Duration(cfg.TimeoutSecond) * time.Second}
	}
	return &TelrGateway{
		endpoint:  cfg.Endpoint,
		storeID:   cfg.StoreID,
		authKey:   cfg.AuthKey,
		test:      cfg.Test,
		returnURL: cfg.ReturnURL,
		hc:        hc,
		logger:    logger,
	}
}

type telrOrder struct {
	Ref         string      `json:"ref,omitempty"`
	CartID      string      `json:"cartid,omitempty"`
	Test        string      `json:"test,omitempty"`
	Amount      string      `json:"amount,omitempty"`
	Currency    string      `json:"currency,omitempty"`
	Description string      `json:"description,omitempty"`
	URL         string      `json:"url,omitempty"`
	Status      *telrStatus `json:"status,omitempty"`
}

type telrStatus struct {
	Code int    `json:"code"`
	Text string `json:"text"`
}

type telrReturn struct {
	Authorised string `json:"authorised"`
	Declined   string `json:"declined"`
	Cancelled  string `json:"cancelled"`
}

type telrRequest struct {
	Method  string      `json:"method"`
	Store   string      `json:"store"`
	AuthKey string      `json:"authkey"`
	Framed  int         `json:"framed,omitempty"`
	Order   telrOrder   `json:"order"`
	Return  *telrReturn `json:"return,omitempty"`
}

type telrResponse struct {
	Method string     `json:"method"`
	Order  *telrOrder `json:"order"`
	Error  *struct {
		Message string `json:"message"`
		Note    string `json:"note"`
	} `json:"error"`
}

func (g *TelrGateway) CreateTransaction(ctx context.Context, booking *domain.Booking) (Transaction, error) {
	test := "0"
	if g.test {
		test = "1"
	}
	req := telrRequest{
		Method:  "create",
		Store:   g.storeID,
		AuthKey: g.authKey,
		Order: telrOrder{
			CartID:      booking.ID,
			Test:        test,
			Amount:      booking.TotalAmount.StringFixed(2),
			Currency:    booking.Currency,
			Description: fmt.Sprintf("%d ticket(s) for package %s", booking.Quantity, booking.PackageID),
		},
		Return: &telrReturn{
			Authorised: g.returnURL + "?booking=" + booking.ID + "&result=authorised",
			Declined:   g.returnURL + "?booking=" + booking.ID + "&result=declined",
			Cancelled:  g.returnURL + "?booking=" + booking.ID + "&result=cancelled",
		},
	}

	resp, err := g.call(ctx, req)
	if err != nil {
		return Transaction{}, err
	}
	if resp.Order == nil || resp.Order.Ref == "" || resp.Order.URL == "" {
		return Transaction{}, domain.ErrTelrTransaction
	}
	return Transaction{OrderRef: resp.Order.Ref, RedirectURL: resp.Order.URL}, nil
}

func (g *TelrGateway) CheckTransaction(ctx context.Context, orderRef string) (TransactionStatus, error) {
	resp, err := g.call(ctx, telrRequest{
		Method:  "check",
		Store:   g.storeID,
		AuthKey: g.authKey,
		Order:   telrOrder{Ref: orderRef},
	})
	if err != nil {
		return TransactionStatus{}, err
	}
	if resp.Order == nil || resp.Order.Status == nil {
		return TransactionStatus{}, domain.ErrTelrTransaction
	}
	return TransactionStatus{
		OrderRef: resp.Order.Ref,
		Code:     resp.Order.Status.Code,
		Text:     resp.Order.Status.Text,
	}, nil
}

func (g *TelrGateway) call(ctx context.Context, req telrRequest) (*telrResponse, error) {
	log := g.logger.WithContext(ctx).WithField("method", req.Method)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "application/json")

	hresp, err := g.hc.Do(hr)
	if err != nil {
		log.WithError(err).Error("telr request failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrTelrTransaction, err)
	}
	defer hresp.Body.Close()

	raw, err := io.ReadAll(hresp.Body)
	if err != nil {
		log.WithError(err).Error("read telr response")
		return nil, fmt.Errorf("%w: %v", domain.ErrTelrTransaction, err)
	}
	if hresp.StatusCode < 200 || hresp.StatusCode > 299 {
		log.WithField("status", hresp.StatusCode).Error("telr returned non-2xx")
		return nil, fmt.Errorf("%w: http %d", domain.ErrTelrTransaction, hresp.StatusCode)
	}

	var resp telrResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		log.WithError(err).Error("decode telr response")
		return nil, fmt.Errorf("%w: %v", domain.ErrTelrTransaction, err)
	}
	if resp.Error != nil {
		log.WithField("telr_error", resp.Error.Message).Warn("telr rejected request")
		return nil, fmt.Errorf("%w: %s %s", domain.ErrTelrTransaction, resp.Error.Message, resp.Error.Note)
	}
	return &resp, nil
}

var _ Gateway = (*TelrGateway)(nil)
