package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SimulatedGateway is an in-process provider used for development and
// tests. Sessions live in memory; payment is confirmed either by calling
// MarkPaid or, when autoSucceed is set, after that duration elapses.
// Callbacks are form payloads signed with an HMAC-SHA256 shared secret,
// so the webhook path exercises the same verify-then-trust flow as the
// real provider.
type SimulatedGateway struct {
	secret      string
	autoSucceed time.Duration

	mu       sync.Mutex
	sessions map[string]*simulatedSession
}

type simulatedSession struct {
	amount    float64
	openedAt  time.Time
	status    TradeStatus
	tradeNo   string
}

// NewSimulatedGateway builds a simulated gateway. autoSucceed <= 0 keeps
// sessions unpaid until MarkPaid is called.
func NewSimulatedGateway(secret string, autoSucceed time.Duration) *SimulatedGateway {
	return &SimulatedGateway{
		secret:      secret,
		autoSucceed: autoSucceed,
		sessions:    make(map[string]*simulatedSession),
	}
}

// CreateSession opens (or reopens) a payable session for the order.
func (g *SimulatedGateway) CreateSession(_ context.Context, orderNo string, amount float64, subject, _ string) (*Session, error) {
	if strings.TrimSpace(orderNo) == "" || amount <= 0 {
		return nil, fmt.Errorf("%w: order_no and positive amount required", ErrInvalidOrder)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	session, ok := g.sessions[orderNo]
	if !ok {
		session = &simulatedSession{
			amount:   amount,
			openedAt: time.Now(),
			status:   TradeStatusWaitBuyerPay,
			tradeNo:  "SIM" + hex.EncodeToString(hmacSum(g.secret, orderNo))[:16],
		}
		g.sessions[orderNo] = session
	}
	payload := fmt.Sprintf("simulated://pay?order_no=%s&amount=%.2f&subject=%s",
		url.QueryEscape(orderNo), amount, url.QueryEscape(subject))
	return &Session{QRPayload: payload}, nil
}

// QueryStatus reports the session state, applying auto success when due.
func (g *SimulatedGateway) QueryStatus(_ context.Context, orderNo string) (TradeStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	session, ok := g.sessions[orderNo]
	if !ok {
		return TradeStatusWaitBuyerPay, nil
	}
	if session.status == TradeStatusWaitBuyerPay && g.autoSucceed > 0 && time.Since(session.openedAt) >= g.autoSucceed {
		session.status = TradeStatusSuccess
	}
	return session.status, nil
}

// MarkPaid flips a session to TRADE_SUCCESS and returns its trade number.
func (g *SimulatedGateway) MarkPaid(orderNo string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	session, ok := g.sessions[orderNo]
	if !ok {
		session = &simulatedSession{
			openedAt: time.Now(),
			tradeNo:  "SIM" + hex.EncodeToString(hmacSum(g.secret, orderNo))[:16],
		}
		g.sessions[orderNo] = session
	}
	session.status = TradeStatusSuccess
	return session.tradeNo
}

// Close flips a session to TRADE_CLOSED.
func (g *SimulatedGateway) Close(orderNo string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if session, ok := g.sessions[orderNo]; ok {
		session.status = TradeStatusClosed
	}
}

// SignCallback produces a signed callback payload for the order, in the
// shape DecodeCallback accepts. Test and demo helper.
func (g *SimulatedGateway) SignCallback(orderNo, tradeNo string, status TradeStatus, amount float64) url.Values {
	values := url.Values{}
	values.Set("out_trade_no", orderNo)
	values.Set("trade_no", tradeNo)
	values.Set("trade_status", string(status))
	values.Set("total_amount", strconv.FormatFloat(amount, 'f', 2, 64))
	values.Set("sign", g.sign(values))
	return values
}

// DecodeCallback verifies the HMAC signature before trusting any field.
func (g *SimulatedGateway) DecodeCallback(values url.Values) (*Callback, error) {
	provided := values.Get("sign")
	if provided == "" {
		return nil, fmt.Errorf("%w: missing sign", ErrSignatureInvalid)
	}
	unsigned := url.Values{}
	for key, vals := range values {
		if key == "sign" || key == "sign_type" {
			continue
		}
		for _, v := range vals {
			unsigned.Add(key, v)
		}
	}
	expected := g.sign(unsigned)
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return nil, fmt.Errorf("%w: sign mismatch", ErrSignatureInvalid)
	}

	amount, _ := strconv.ParseFloat(values.Get("total_amount"), 64)
	return &Callback{
		OrderNo: values.Get("out_trade_no"),
		TradeNo: values.Get("trade_no"),
		Status:  TradeStatus(values.Get("trade_status")),
		Amount:  amount,
	}, nil
}

// sign computes the HMAC over the sorted key=value form of the payload.
func (g *SimulatedGateway) sign(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if key == "sign" || key == "sign_type" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+values.Get(key))
	}
	return hex.EncodeToString(hmacSum(g.secret, strings.Join(pairs, "&")))
}

func hmacSum(secret, message string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return mac.Sum(nil)
}
