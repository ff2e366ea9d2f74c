package payment

import (
	"context"
	"errors"
	"net/url"
)

// TradeStatus mirrors the provider-side trade states.
type TradeStatus string

// Provider trade states.
const (
	// TradeStatusWaitBuyerPay means the session is open and unpaid.
	TradeStatusWaitBuyerPay TradeStatus = "WAIT_BUYER_PAY"
	// TradeStatusSuccess means the buyer has paid.
	TradeStatusSuccess TradeStatus = "TRADE_SUCCESS"
	// TradeStatusClosed means the session closed without payment.
	TradeStatusClosed TradeStatus = "TRADE_CLOSED"
	// TradeStatusFinished means the trade is settled and closed on the
	// provider side. Seen without a prior success it is terminal, not paid.
	TradeStatusFinished TradeStatus = "TRADE_FINISHED"
)

// Paid reports whether the status confirms a completed payment.
func (s TradeStatus) Paid() bool {
	return s == TradeStatusSuccess
}

// Terminal reports whether the provider will never move the trade again.
func (s TradeStatus) Terminal() bool {
	return s == TradeStatusClosed || s == TradeStatusFinished
}

// Gateway failure modes surfaced to the fulfillment engine.
var (
	// ErrProviderUnavailable indicates the provider could not be reached.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrInvalidOrder indicates the provider rejected the order parameters.
	ErrInvalidOrder = errors.New("payment order rejected by provider")
	// ErrSignatureInvalid indicates a callback failed authenticity checks.
	ErrSignatureInvalid = errors.New("callback signature invalid")
	// ErrUnknownTrade indicates the provider has no record of the order.
	ErrUnknownTrade = errors.New("trade not found at provider")
)

// Session is an open payable session at the provider.
type Session struct {
	QRPayload string // Opaque scannable payload presented to the buyer.
}

// Callback is a verified, decoded provider webhook notification.
type Callback struct {
	OrderNo string      // Merchant order number.
	TradeNo string      // Provider-side trade number.
	Status  TradeStatus // Reported trade state.
	Amount  float64     // Paid amount, 0 when not reported.
}

// Gateway abstracts the external payment provider. Implementations must
// verify callback authenticity inside DecodeCallback before returning data.
type Gateway interface {
	// CreateSession opens a payable session for the merchant order number
	// and returns the scannable payload. Safe to call repeatedly for the
	// same order.
	CreateSession(ctx context.Context, orderNo string, amount float64, subject, description string) (*Session, error)

	// QueryStatus returns the provider-side trade status. Side-effect free.
	QueryStatus(ctx context.Context, orderNo string) (TradeStatus, error)

	// DecodeCallback authenticates and decodes a webhook payload.
	// Returns ErrSignatureInvalid when the payload cannot be trusted.
	DecodeCallback(values url.Values) (*Callback, error)
}
