package fulfillment

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/models"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/payment"
)

// Engine coordinates the order ledger, the payment gateway and the card
// inventory. It is the only writer allowed to transition Order.status and
// CardCode.status.
//
// Payment completion is learned through two channels, the buyer's polling
// loop and the provider's webhook, which can fire near-simultaneously for
// the same order. Both converge on ObservePaymentSuccess: a per-order
// mutex serializes in-process callers, and the state transitions are
// conditional updates so racing processes cannot double-issue.
type Engine struct {
	db      *gorm.DB
	gateway payment.Gateway
	method  string // Payment channel recorded on paid orders.

	locks sync.Map // order_no -> *sync.Mutex
}

// New wires a fulfillment engine.
func New(db *gorm.DB, gateway payment.Gateway, method string) *Engine {
	return &Engine{db: db, gateway: gateway, method: method}
}

// lockOrder serializes fulfillment per order number within this process.
func (e *Engine) lockOrder(orderNo string) func() {
	val, _ := e.locks.LoadOrStore(orderNo, &sync.Mutex{})
	mu := val.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateOrder validates the card type, copies its catalog price into the
// ledger and inserts a pending order with a freshly minted order number.
func (e *Engine) CreateOrder(ctx context.Context, cardTypeID uint64, userID string) (*models.Order, error) {
	var cardType models.CardType
	if errFind := e.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", cardTypeID, true).
		First(&cardType).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownCardType
		}
		return nil, errFind
	}

	orderNo, errMint := newOrderNo()
	if errMint != nil {
		return nil, errMint
	}
	order := models.Order{
		OrderNo:    orderNo,
		UserID:     userID,
		CardTypeID: cardType.ID,
		Amount:     cardType.Price,
		Status:     models.OrderStatusPending,
	}
	if errCreate := e.db.WithContext(ctx).Create(&order).Error; errCreate != nil {
		return nil, errCreate
	}
	order.CardType = &cardType

	log.Infof("order %s created for card type %q amount %.2f", order.OrderNo, cardType.Name, order.Amount)
	return &order, nil
}

// BeginPayment opens a provider session for a pending order and returns
// the scannable payload. The order status is not touched; the buyer may
// call this repeatedly to refresh the session.
func (e *Engine) BeginPayment(ctx context.Context, orderID uint64) (*models.Order, *payment.Session, error) {
	var order models.Order
	if errFind := e.db.WithContext(ctx).Preload("CardType").First(&order, orderID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil, ErrOrderNotFound
		}
		return nil, nil, errFind
	}
	if order.Status != models.OrderStatusPending {
		return nil, nil, ErrOrderNotPayable
	}

	subject := "Activation card"
	description := ""
	if order.CardType != nil {
		subject = order.CardType.Name
		description = order.CardType.Description
	}
	session, errCreate := e.gateway.CreateSession(ctx, order.OrderNo, order.Amount, subject, description)
	if errCreate != nil {
		return nil, nil, errCreate
	}
	return &order, session, nil
}

// ObservePaymentSuccess is the single authorized entry point for a
// confirmed payment, reached from both the polling path and the verified
// webhook. It is idempotent: once the order is paid and fulfilled,
// further calls return the existing state without a second issuance.
// When issuance fails with ErrSoldOut the order stays paid, and a later
// call retries issuance.
func (e *Engine) ObservePaymentSuccess(ctx context.Context, orderNo, providerTradeNo string) (*models.Order, error) {
	unlock := e.lockOrder(orderNo)
	defer unlock()

	var order models.Order
	if errFind := e.db.WithContext(ctx).Preload("CardType").
		Where("order_no = ?", orderNo).
		First(&order).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, errFind
	}

	if order.Status == models.OrderStatusPending {
		now := time.Now().UTC()
		res := e.db.WithContext(ctx).Model(&models.Order{}).
			Where("id = ? AND status = ?", order.ID, models.OrderStatusPending).
			Updates(map[string]any{
				"status":            models.OrderStatusPaid,
				"payment_method":    e.method,
				"provider_trade_no": providerTradeNo,
				"paid_at":           now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected > 0 {
			order.Status = models.OrderStatusPaid
			order.PaymentMethod = e.method
			order.ProviderTradeNo = providerTradeNo
			order.PaidAt = &now
			log.Infof("order %s marked paid, trade %s", order.OrderNo, providerTradeNo)
		} else {
			// Another writer flipped it first; reload the ledger row.
			if errReload := e.db.WithContext(ctx).Preload("CardType").
				First(&order, order.ID).Error; errReload != nil {
				return nil, errReload
			}
		}
	} else if providerTradeNo != "" && order.ProviderTradeNo == "" {
		// The poll path confirmed payment without a trade number and the
		// webhook later supplied it.
		if errUpdate := e.db.WithContext(ctx).Model(&models.Order{}).
			Where("id = ?", order.ID).
			Update("provider_trade_no", providerTradeNo).Error; errUpdate != nil {
			return nil, errUpdate
		}
		order.ProviderTradeNo = providerTradeNo
	}

	if errIssue := e.issueCode(ctx, &order); errIssue != nil {
		if errors.Is(errIssue, ErrSoldOut) {
			log.Warnf("order %s paid but card type %d sold out; awaiting restock", order.OrderNo, order.CardTypeID)
		}
		return &order, errIssue
	}
	return &order, nil
}

// issueCode claims exactly one unused code for the order and records the
// purchase, all in one transaction. The lowest-id unused code is selected
// so distribution is deterministic. A conditional update guarded on
// status=unused protects the claim against writers outside this process;
// the unique index on user_purchases.order_id bounds issuance to one code
// per order no matter how the transaction is reached.
func (e *Engine) issueCode(ctx context.Context, order *models.Order) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.UserPurchase
		errExisting := tx.Where("order_id = ?", order.ID).First(&existing).Error
		if errExisting == nil {
			return nil
		}
		if !errors.Is(errExisting, gorm.ErrRecordNotFound) {
			return errExisting
		}

		durationDays := 0
		if order.CardType != nil {
			durationDays = order.CardType.DurationDays
		} else {
			var cardType models.CardType
			if errType := tx.First(&cardType, order.CardTypeID).Error; errType != nil {
				return errType
			}
			durationDays = cardType.DurationDays
		}

		for attempt := 0; attempt < 3; attempt++ {
			var code models.CardCode
			errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("card_type_id = ? AND status = ?", order.CardTypeID, models.CardCodeStatusUnused).
				Order("id ASC").
				First(&code).Error
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrSoldOut
			}
			if errFind != nil {
				return errFind
			}

			now := time.Now().UTC()
			expiresAt := now.AddDate(0, 0, durationDays)
			res := tx.Model(&models.CardCode{}).
				Where("id = ? AND status = ?", code.ID, models.CardCodeStatusUnused).
				Updates(map[string]any{
					"status":     models.CardCodeStatusUsed,
					"used_by":    order.UserID,
					"used_at":    now,
					"expires_at": expiresAt,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// Lost the claim to a concurrent writer; pick another code.
				continue
			}

			purchase := models.UserPurchase{
				UserID:   order.UserID,
				OrderID:  order.ID,
				CardCode: code.Code,
			}
			if errCreate := tx.Create(&purchase).Error; errCreate != nil {
				return errCreate
			}
			log.Infof("order %s fulfilled with code id %d", order.OrderNo, code.ID)
			return nil
		}
		return fmt.Errorf("issue code for order %s: claim retries exhausted", order.OrderNo)
	})
}

// PollPaymentStatus reports the trade status for an order. Paid orders
// answer TRADE_SUCCESS without a provider round trip; a provider-reported
// success routes through ObservePaymentSuccess before replying so the
// polling path and the webhook share one transition. TRADE_CLOSED and
// TRADE_FINISHED never trigger fulfillment.
func (e *Engine) PollPaymentStatus(ctx context.Context, orderID uint64) (payment.TradeStatus, error) {
	var order models.Order
	if errFind := e.db.WithContext(ctx).First(&order, orderID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return "", ErrOrderNotFound
		}
		return "", errFind
	}

	if order.Status == models.OrderStatusPaid {
		// Retry issuance for paid-but-unfulfilled orders (sold out earlier).
		if _, errObserve := e.ObservePaymentSuccess(ctx, order.OrderNo, order.ProviderTradeNo); errObserve != nil && !errors.Is(errObserve, ErrSoldOut) {
			return "", errObserve
		}
		return payment.TradeStatusSuccess, nil
	}

	status, errQuery := e.gateway.QueryStatus(ctx, order.OrderNo)
	if errQuery != nil {
		return "", errQuery
	}
	if status.Paid() {
		if _, errObserve := e.ObservePaymentSuccess(ctx, order.OrderNo, ""); errObserve != nil && !errors.Is(errObserve, ErrSoldOut) {
			return "", errObserve
		}
	}
	return status, nil
}

// HandleCallback authenticates a provider webhook and, for a successful
// trade, routes it into ObservePaymentSuccess. Unverifiable payloads are
// rejected before any state is read or written.
func (e *Engine) HandleCallback(ctx context.Context, values url.Values) error {
	callback, errDecode := e.gateway.DecodeCallback(values)
	if errDecode != nil {
		log.Warnf("payment callback rejected: %v", errDecode)
		return errDecode
	}

	if !callback.Status.Paid() {
		log.Infof("payment callback for order %s reports %s; no transition", callback.OrderNo, callback.Status)
		return nil
	}

	if callback.Amount > 0 {
		var order models.Order
		if errFind := e.db.WithContext(ctx).Where("order_no = ?", callback.OrderNo).First(&order).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return errFind
		}
		if order.Amount != callback.Amount {
			log.Warnf("payment callback for order %s reports amount %.2f, ledger has %.2f", callback.OrderNo, callback.Amount, order.Amount)
			return ErrAmountMismatch
		}
	}

	if _, errObserve := e.ObservePaymentSuccess(ctx, callback.OrderNo, callback.TradeNo); errObserve != nil {
		// The payment itself is accepted; a sold-out pool is retried later.
		if errors.Is(errObserve, ErrSoldOut) {
			return nil
		}
		return errObserve
	}
	return nil
}

// GetOrder returns an order with its card type and, when fulfilled, its
// purchase record.
func (e *Engine) GetOrder(ctx context.Context, orderID uint64) (*models.Order, *models.UserPurchase, error) {
	var order models.Order
	if errFind := e.db.WithContext(ctx).Preload("CardType").First(&order, orderID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil, ErrOrderNotFound
		}
		return nil, nil, errFind
	}

	var purchase models.UserPurchase
	errPurchase := e.db.WithContext(ctx).Where("order_id = ?", order.ID).First(&purchase).Error
	if errPurchase != nil {
		if errors.Is(errPurchase, gorm.ErrRecordNotFound) {
			return &order, nil, nil
		}
		return nil, nil, errPurchase
	}
	return &order, &purchase, nil
}

// GetIssuedCode looks up the code bound to an order. Read-only; returns
// ErrNotYetIssued while fulfillment has not completed.
func (e *Engine) GetIssuedCode(ctx context.Context, orderID uint64) (string, error) {
	var order models.Order
	if errFind := e.db.WithContext(ctx).First(&order, orderID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return "", ErrOrderNotFound
		}
		return "", errFind
	}

	var purchase models.UserPurchase
	if errFind := e.db.WithContext(ctx).Where("order_id = ?", order.ID).First(&purchase).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return "", ErrNotYetIssued
		}
		return "", errFind
	}
	return purchase.CardCode, nil
}

// newOrderNo mints a globally unique, externally visible order number.
func newOrderNo() (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return "CS" + time.Now().UTC().Format("20060102150405") + string(out), nil
}
