package payment

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/smartwalle/alipay/v3"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/config"
)

// AlipayGateway drives the real provider through its face-to-face
// (scan-to-pay) API: precreate a QR session, query the trade, and verify
// asynchronous notifications.
type AlipayGateway struct {
	client    *alipay.Client
	notifyURL string
}

// NewAlipayGateway builds a gateway from provider credentials.
func NewAlipayGateway(cfg config.AlipayConfig, notifyURL string) (*AlipayGateway, error) {
	client, errNew := alipay.New(cfg.AppID, cfg.PrivateKey, cfg.Production)
	if errNew != nil {
		return nil, fmt.Errorf("alipay: init client: %w", errNew)
	}
	if strings.TrimSpace(cfg.AlipayPublicKey) != "" {
		if errLoad := client.LoadAliPayPublicKey(cfg.AlipayPublicKey); errLoad != nil {
			return nil, fmt.Errorf("alipay: load public key: %w", errLoad)
		}
	}
	return &AlipayGateway{client: client, notifyURL: notifyURL}, nil
}

// CreateSession opens a precreated QR trade for the order.
func (g *AlipayGateway) CreateSession(ctx context.Context, orderNo string, amount float64, subject, description string) (*Session, error) {
	var p alipay.TradePreCreate
	p.OutTradeNo = orderNo
	p.TotalAmount = strconv.FormatFloat(amount, 'f', 2, 64)
	p.Subject = subject
	p.Body = description
	p.ProductCode = "FACE_TO_FACE_PAYMENT"
	p.NotifyURL = g.notifyURL

	rsp, errExec := g.client.TradePreCreate(ctx, p)
	if errExec != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, errExec)
	}
	if rsp.IsFailure() {
		return nil, fmt.Errorf("%w: %s %s", ErrInvalidOrder, rsp.SubCode, rsp.SubMsg)
	}
	return &Session{QRPayload: rsp.QRCode}, nil
}

// QueryStatus asks the provider for the current trade state.
func (g *AlipayGateway) QueryStatus(ctx context.Context, orderNo string) (TradeStatus, error) {
	rsp, errExec := g.client.TradeQuery(ctx, alipay.TradeQuery{OutTradeNo: orderNo})
	if errExec != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, errExec)
	}
	if rsp.IsFailure() {
		if strings.EqualFold(rsp.SubCode, "ACQ.TRADE_NOT_EXIST") {
			// No session opened yet; the buyer has not scanned anything.
			return TradeStatusWaitBuyerPay, nil
		}
		return "", fmt.Errorf("%w: %s %s", ErrProviderUnavailable, rsp.SubCode, rsp.SubMsg)
	}
	return TradeStatus(rsp.TradeStatus), nil
}

// DecodeCallback verifies the notification signature and extracts the
// trade result. The signature check happens before anything is trusted.
func (g *AlipayGateway) DecodeCallback(values url.Values) (*Callback, error) {
	noti, errDecode := g.client.DecodeNotification(values)
	if errDecode != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, errDecode)
	}
	amount, _ := strconv.ParseFloat(noti.TotalAmount, 64)
	return &Callback{
		OrderNo: noti.OutTradeNo,
		TradeNo: noti.TradeNo,
		Status:  TradeStatus(noti.TradeStatus),
		Amount:  amount,
	}, nil
}
