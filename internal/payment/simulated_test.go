package payment

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSimulatedSessionLifecycle(t *testing.T) {
	t.Parallel()

	g := NewSimulatedGateway("test-secret", 0)
	ctx := context.Background()

	session, errCreate := g.CreateSession(ctx, "ORD1", 30.00, "Monthly Card", "Full features")
	if errCreate != nil {
		t.Fatalf("create session: %v", errCreate)
	}
	if session.QRPayload == "" {
		t.Fatalf("expected non-empty qr payload")
	}

	status, errQuery := g.QueryStatus(ctx, "ORD1")
	if errQuery != nil {
		t.Fatalf("query: %v", errQuery)
	}
	if status != TradeStatusWaitBuyerPay {
		t.Fatalf("status = %q, want WAIT_BUYER_PAY", status)
	}

	tradeNo := g.MarkPaid("ORD1")
	if tradeNo == "" {
		t.Fatalf("expected trade number")
	}

	status, errQuery = g.QueryStatus(ctx, "ORD1")
	if errQuery != nil {
		t.Fatalf("query after pay: %v", errQuery)
	}
	if !status.Paid() {
		t.Fatalf("status = %q, want TRADE_SUCCESS", status)
	}
}

func TestSimulatedCreateSessionRejectsBadInput(t *testing.T) {
	t.Parallel()

	g := NewSimulatedGateway("test-secret", 0)
	if _, err := g.CreateSession(context.Background(), "", 10, "s", ""); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
	if _, err := g.CreateSession(context.Background(), "ORD1", 0, "s", ""); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder for zero amount, got %v", err)
	}
}

func TestSimulatedAutoSucceed(t *testing.T) {
	t.Parallel()

	g := NewSimulatedGateway("test-secret", 10*time.Millisecond)
	ctx := context.Background()
	if _, errCreate := g.CreateSession(ctx, "ORD2", 5, "Day Card", ""); errCreate != nil {
		t.Fatalf("create session: %v", errCreate)
	}

	time.Sleep(20 * time.Millisecond)
	status, errQuery := g.QueryStatus(ctx, "ORD2")
	if errQuery != nil {
		t.Fatalf("query: %v", errQuery)
	}
	if !status.Paid() {
		t.Fatalf("status = %q, want TRADE_SUCCESS after auto succeed window", status)
	}
}

func TestSimulatedCallbackRoundTrip(t *testing.T) {
	t.Parallel()

	g := NewSimulatedGateway("test-secret", 0)
	values := g.SignCallback("ORD3", "SIMTRADE", TradeStatusSuccess, 30.00)

	callback, errDecode := g.DecodeCallback(values)
	if errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if callback.OrderNo != "ORD3" || callback.TradeNo != "SIMTRADE" {
		t.Fatalf("unexpected callback: %+v", callback)
	}
	if callback.Status != TradeStatusSuccess || callback.Amount != 30.00 {
		t.Fatalf("unexpected status/amount: %+v", callback)
	}
}

func TestSimulatedCallbackRejectsTampering(t *testing.T) {
	t.Parallel()

	g := NewSimulatedGateway("test-secret", 0)
	values := g.SignCallback("ORD4", "SIMTRADE", TradeStatusSuccess, 30.00)
	values.Set("total_amount", "0.01")

	if _, errDecode := g.DecodeCallback(values); !errors.Is(errDecode, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", errDecode)
	}

	values = g.SignCallback("ORD4", "SIMTRADE", TradeStatusSuccess, 30.00)
	values.Del("sign")
	if _, errDecode := g.DecodeCallback(values); !errors.Is(errDecode, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for missing sign, got %v", errDecode)
	}

	other := NewSimulatedGateway("other-secret", 0)
	values = other.SignCallback("ORD4", "SIMTRADE", TradeStatusSuccess, 30.00)
	if _, errDecode := g.DecodeCallback(values); !errors.Is(errDecode, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for wrong secret, got %v", errDecode)
	}
}
