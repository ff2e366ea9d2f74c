package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/models"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/payment"
)

func setupEngineTest(t *testing.T) (*gorm.DB, *payment.SimulatedGateway, *Engine) {
	t.Helper()
	dsn := fmt.Sprintf("file:fulfillment_%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	sqlDB, errDB := db.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	// One connection keeps in-memory sqlite serialized under concurrency.
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := db.AutoMigrate(&models.CardType{}, &models.CardCode{}, &models.Order{}, &models.UserPurchase{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}

	gateway := payment.NewSimulatedGateway("engine-test-secret", 0)
	return db, gateway, New(db, gateway, "simulated")
}

func seedCardType(t *testing.T, db *gorm.DB, name string, durationDays int, price float64, active bool) *models.CardType {
	t.Helper()
	cardType := models.CardType{Name: name, DurationDays: durationDays, Price: price, IsActive: active}
	if errCreate := db.Create(&cardType).Error; errCreate != nil {
		t.Fatalf("seed card type: %v", errCreate)
	}
	return &cardType
}

func seedCodes(t *testing.T, db *gorm.DB, cardTypeID uint64, codes ...string) {
	t.Helper()
	for _, code := range codes {
		row := models.CardCode{CardTypeID: cardTypeID, Code: code, Status: models.CardCodeStatusUnused}
		if errCreate := db.Create(&row).Error; errCreate != nil {
			t.Fatalf("seed code %s: %v", code, errCreate)
		}
	}
}

func TestCreateOrderCopiesCatalogPrice(t *testing.T) {
	db, _, engine := setupEngineTest(t)
	cardType := seedCardType(t, db, "Monthly Card", 30, 30.00, true)
	ctx := context.Background()

	order, errCreate := engine.CreateOrder(ctx, cardType.ID, "user-1")
	if errCreate != nil {
		t.Fatalf("create order: %v", errCreate)
	}
	if order.Amount != 30.00 {
		t.Fatalf("amount = %.2f, want 30.00", order.Amount)
	}
	if order.Status != models.OrderStatusPending {
		t.Fatalf("status = %q, want pending", order.Status)
	}
	if order.OrderNo == "" {
		t.Fatalf("expected minted order number")
	}

	// Catalog price changes must not touch existing orders.
	if errUpdate := db.Model(&models.CardType{}).Where("id = ?", cardType.ID).Update("price", 99.00).Error; errUpdate != nil {
		t.Fatalf("update price: %v", errUpdate)
	}
	var reloaded models.Order
	if errFind := db.First(&reloaded, order.ID).Error; errFind != nil {
		t.Fatalf("reload order: %v", errFind)
	}
	if reloaded.Amount != 30.00 {
		t.Fatalf("amount changed with catalog: %.2f", reloaded.Amount)
	}
}

func TestCreateOrderRejectsInactiveOrMissingType(t *testing.T) {
	db, _, engine := setupEngineTest(t)
	inactive := seedCardType(t, db, "Retired Card", 7, 10.00, false)
	ctx := context.Background()

	if _, err := engine.CreateOrder(ctx, inactive.ID, "user-1"); !errors.Is(err, ErrUnknownCardType) {
		t.Fatalf("expected ErrUnknownCardType for inactive, got %v", err)
	}
	if _, err := engine.CreateOrder(ctx, 9999, "user-1"); !errors.Is(err, ErrUnknownCardType) {
		t.Fatalf("expected ErrUnknownCardType for missing, got %v", err)
	}
}

func TestBeginPaymentRepeatableAndPendingOnly(t *testing.T) {
	db, gateway, engine := setupEngineTest(t)
	cardType := seedCardType(t, db, "Day Card", 1, 5.00, true)
	seedCodes(t, db, cardType.ID, "DAY-001")
	ctx := context.Background()

	order, errCreate := engine.CreateOrder(ctx, cardType.ID, "user-1")
	if errCreate != nil {
		t.Fatalf("create order: %v", errCreate)
	}

	_, session, errBegin := engine.BeginPayment(ctx, order.ID)
	if errBegin != nil {
		t.Fatalf("begin payment: %v", errBegin)
	}
	if session.QRPayload == "" {
		t.Fatalf("expected qr payload")
	}

	// The buyer may refresh; status stays pending.
	if _, _, errAgain := engine.BeginPayment(ctx, order.ID); errAgain != nil {
		t.Fatalf("begin payment again: %v", errAgain)
	}
	var reloaded models.Order
	if errFind := db.First(&reloaded, order.ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if reloaded.Status != models.OrderStatusPending {
		t.Fatalf("status = %q, want pending", reloaded.Status)
	}

	gateway.MarkPaid(order.OrderNo)
	if _, errObserve := engine.ObservePaymentSuccess(ctx, order.OrderNo, "T1"); errObserve != nil {
		t.Fatalf("observe: %v", errObserve)
	}
	if _, _, errPaid := engine.BeginPayment(ctx, order.ID); !errors.Is(errPaid, ErrOrderNotPayable) {
		t.Fatalf("expected ErrOrderNotPayable after payment, got %v", errPaid)
	}
}

func TestHappyPathIssuesExactlyOneCode(t *testing.T) {
	db, _, engine := setupEngineTest(t)
	cardType := seedCardType(t, db, "Day Card", 1, 5.00, true)
	seedCodes(t, db, cardType.ID, "DAY-ONLY")
	ctx := context.Background()

	order, errCreate := engine.CreateOrder(ctx, cardType.ID, "user-1")
	if errCreate != nil {
		t.Fatalf("create order: %v", errCreate)
	}
	if _, _, errBegin := engine.BeginPayment(ctx, order.ID); errBegin != nil {
		t.Fatalf("begin payment: %v", errBegin)
	}

	paid, errObserve := engine.ObservePaymentSuccess(ctx, order.OrderNo, "TRADE-A")
	if errObserve != nil {
		t.Fatalf("observe: %v", errObserve)
	}
	if paid.Status != models.OrderStatusPaid {
		t.Fatalf("status = %q, want paid", paid.Status)
	}
	if paid.ProviderTradeNo != "TRADE-A" || paid.PaidAt == nil {
		t.Fatalf("trade metadata missing: %+v", paid)
	}

	code, errGet := engine.GetIssuedCode(ctx, order.ID)
	if errGet != nil {
		t.Fatalf("get issued code: %v", errGet)
	}
	if code != "DAY-ONLY" {
		t.Fatalf("code = %q, want DAY-ONLY", code)
	}

	var row models.CardCode
	if errFind := db.Where("code = ?", "DAY-ONLY").First(&row).Error; errFind != nil {
		t.Fatalf("reload code: %v", errFind)
	}
	if row.Status != models.CardCodeStatusUsed || row.UsedBy != "user-1" || row.UsedAt == nil || row.ExpiresAt == nil {
		t.Fatalf("code not fully claimed: %+v", row)
	}
	wantExpiry := row.UsedAt.AddDate(0, 0, cardType.DurationDays)
	if !row.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expires_at = %v, want %v", row.ExpiresAt, wantExpiry)
	}

	var purchases []models.UserPurchase
	if errFind := db.Where("order_id = ?", order.ID).Find(&purchases).Error; errFind != nil {
		t.Fatalf("find purchases: %v", errFind)
	}
	if len(purchases) != 1 {
		t.Fatalf("purchases = %d, want 1", len(purchases))
	}
}

func TestObservePaymentSuccessIdempotentSequential(t *testing.T) {
	db, _, engine := setupEngineTest(t)
	cardType := seedCardType(t, db, "Day Card", 1, 5.00, true)
	seedCodes(t, db, cardType.ID, "C1", "C2")
	ctx := context.Background()

	order, _ := engine.CreateOrder(ctx, cardType.ID, "user-1")
	if _, errObserve := engine.ObservePaymentSuccess(ctx, order.OrderNo, "T1"); errObserve != nil {
		t.Fatalf("first observe: %v", errObserve)
	}
	if _, errObserve := engine.ObservePaymentSuccess(ctx, order.OrderNo, "T1"); errObserve != nil {
		t.Fatalf("second observe: %v", errObserve)
	}

	var purchaseCount int64
	if errCount := db.Model(&models.UserPurchase{}).Where("order_id = ?", order.ID).Count(&purchaseCount).Error; errCount != nil {
		t.Fatalf("count purchases: %v", errCount)
	}
	if purchaseCount != 1 {
		t.Fatalf("purchases = %d, want 1", purchaseCount)
	}
	var usedCount int64
	if errCount := db.Model(&models.CardCode{}).Where("status = ?", models.CardCodeStatusUsed).Count(&usedCount).Error; errCount != nil {
		t.Fatalf("count used codes: %v", errCount)
	}
	if usedCount != 1 {
		t.Fatalf("used codes = %d, want 1", usedCount)
	}
}

func TestObservePaymentSuccessConcurrentSingleIssuance(t *testing.T) {
	db, _, engine := setupEngineTest(t)
	cardType := seedCardType(t, db, "Day Card", 1, 5.00, true)
	seedCodes(t, db, cardType.ID, "ONLY-CODE")
	ctx := context.Background()

	order, _ := engine.CreateOrder(ctx, cardType.ID, "user-1")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.ObservePaymentSuccess(ctx, order.OrderNo, "T1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d failed: %v", i, err)
		}
	}

	var purchaseCount int64
	if errCount := db.Model(&models.UserPurchase{}).Where("order_id = ?", order.ID).Count(&purchaseCount).Error; errCount != nil {
		t.Fatalf("count purchases: %v", errCount)
	}
	if purchaseCount != 1 {
		t.Fatalf("purchases = %d, want exactly 1", purchaseCount)
	}
	var usedCount int64
	if errCount := db.Model(&models.CardCode{}).Where("status = ?", models.CardCodeStatusUsed).Count(&usedCount).Error; errCount != nil {
		t.Fatalf("count used codes: %v", errCount)
	}
	if usedCount != 1 {
		t.Fatalf("used codes = %d, want exactly 1", usedCount)
	}
}

func TestTwoOrdersCannotShareOneCode(t *testing.T) {
	db, _, engine := setupEngineTest(t)
	cardType := seedCardType(t, db, "Day Card", 1, 5.00, true)
	seedCodes(t, db, cardType.ID, "SHARED")
	ctx := context.Background()

	first, _ := engine.CreateOrder(ctx, cardType.ID, "user-1")
	second, _ := engine.CreateOrder(ctx, cardType.ID, "user-2")

	var wg sync.WaitGroup
	var errFirst, errSecond error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errFirst = engine.ObservePaymentSuccess(ctx, first.OrderNo, "T1")
	}()
	go func() {
		defer wg.Done()
		_, errSecond = engine.ObservePaymentSuccess(ctx, second.OrderNo, "T2")
	}()
	wg.Wait()

	soldOut := 0
	for _, err := range []error{errFirst, errSecond} {
		switch {
		case err == nil:
		case errors.Is(err, ErrSoldOut):
			soldOut++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if soldOut != 1 {
		t.Fatalf("sold out results = %d, want exactly 1", soldOut)
	}

	var purchases []models.UserPurchase
	if errFind := db.Find(&purchases).Error; errFind != nil {
		t.Fatalf("find purchases: %v", errFind)
	}
	if len(purchases) != 1 {
		t.Fatalf("purchases = %d, want 1", len(purchases))
	}
}

func TestSoldOutLeavesOrderPaidAndRecoverable(t *testing.T) {
	db, _, engine := setupEngineTest(t)
	cardType := seedCardType(t, db, "Monthly Card", 30, 30.00, true)
	ctx := context.Background()

	order, _ := engine.CreateOrder(ctx, cardType.ID, "user-1")

	paid, errObserve := engine.ObservePaymentSuccess(ctx, order.OrderNo, "T1")
	if !errors.Is(errObserve, ErrSoldOut) {
		t.Fatalf("expected ErrSoldOut, got %v", errObserve)
	}
	if paid == nil || paid.Status != models.OrderStatusPaid {
		t.Fatalf("order must stay paid on sold out: %+v", paid)
	}
	if _, errGet := engine.GetIssuedCode(ctx, order.ID); !errors.Is(errGet, ErrNotYetIssued) {
		t.Fatalf("expected ErrNotYetIssued, got %v", errGet)
	}

	// Admin restocks, then fulfillment retries.
	seedCodes(t, db, cardType.ID, "RESTOCKED")
	if _, errRetry := engine.ObservePaymentSuccess(ctx, order.OrderNo, "T1"); errRetry != nil {
		t.Fatalf("retry after restock: %v", errRetry)
	}
	code, errGet := engine.GetIssuedCode(ctx, order.ID)
	if errGet != nil {
		t.Fatalf("get code after restock: %v", errGet)
	}
	if code != "RESTOCKED" {
		t.Fatalf("code = %q, want RESTOCKED", code)
	}
}

func TestCallbackBadSignatureMutatesNothing(t *testing.T) {
	db, gateway, engine := setupEngineTest(t)
	cardType := seedCardType(t, db, "Day Card", 1, 5.00, true)
	seedCodes(t, db, cardType.ID, "C1")
	ctx := context.Background()

	order, _ := engine.CreateOrder(ctx, cardType.ID, "user-1")

	values := gateway.SignCallback(order.OrderNo, "T1", payment.TradeStatusSuccess, order.Amount)
	values.Set("trade_status", string(payment.TradeStatusSuccess))
	values.Set("sign", "forged")

	if errHandle := engine.HandleCallback(ctx, values); !errors.Is(errHandle, payment.ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", errHandle)
	}

	var reloaded models.Order
	if errFind := db.First(&reloaded, order.ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if reloaded.Status != models.OrderStatusPending {
		t.Fatalf("status = %q, want pending", reloaded.Status)
	}
	var purchaseCount int64
	if errCount := db.Model(&models.UserPurchase{}).Count(&purchaseCount).Error; errCount != nil {
		t.Fatalf("count purchases: %v", errCount)
	}
	if purchaseCount != 0 {
		t.Fatalf("purchases = %d, want 0", purchaseCount)
	}
}

func TestCallbackAmountMismatchRejected(t *testing.T) {
	db, gateway, engine := setupEngineTest(t)
	cardType := seedCardType(t, db, "Monthly Card", 30, 30.00, true)
	seedCodes(t, db, cardType.ID, "C1")
	ctx := context.Background()

	order, _ := engine.CreateOrder(ctx, cardType.ID, "user-1")
	values := gateway.SignCallback(order.OrderNo, "T1", payment.TradeStatusSuccess, 0.01)

	if errHandle := engine.HandleCallback(ctx, values); !errors.Is(errHandle, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", errHandle)
	}
	var reloaded models.Order
	if errFind := db.First(&reloaded, order.ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if reloaded.Status != models.OrderStatusPending {
		t.Fatalf("status = %q, want pending", reloaded.Status)
	}
}

func TestCallbackRoutesIntoFulfillment(t *testing.T) {
	db, gateway, engine := setupEngineTest(t)
	cardType := seedCardType(t, db, "Monthly Card", 30, 30.00, true)
	seedCodes(t, db, cardType.ID, "C1")
	ctx := context.Background()

	order, _ := engine.CreateOrder(ctx, cardType.ID, "user-1")
	values := gateway.SignCallback(order.OrderNo, "T-CB", payment.TradeStatusSuccess, order.Amount)

	if errHandle := engine.HandleCallback(ctx, values); errHandle != nil {
		t.Fatalf("handle callback: %v", errHandle)
	}
	// Webhook redelivery is a no-op.
	if errHandle := engine.HandleCallback(ctx, values); errHandle != nil {
		t.Fatalf("redelivered callback: %v", errHandle)
	}

	var reloaded models.Order
	if errFind := db.First(&reloaded, order.ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if reloaded.Status != models.OrderStatusPaid || reloaded.ProviderTradeNo != "T-CB" {
		t.Fatalf("unexpected order after callback: %+v", reloaded)
	}
	var purchaseCount int64
	if errCount := db.Model(&models.UserPurchase{}).Where("order_id = ?", order.ID).Count(&purchaseCount).Error; errCount != nil {
		t.Fatalf("count purchases: %v", errCount)
	}
	if purchaseCount != 1 {
		t.Fatalf("purchases = %d, want 1", purchaseCount)
	}
}

func TestClosedTradeNeverFulfills(t *testing.T) {
	db, gateway, engine := setupEngineTest(t)
	cardType := seedCardType(t, db, "Day Card", 1, 5.00, true)
	seedCodes(t, db, cardType.ID, "C1")
	ctx := context.Background()

	order, _ := engine.CreateOrder(ctx, cardType.ID, "user-1")
	if _, _, errBegin := engine.BeginPayment(ctx, order.ID); errBegin != nil {
		t.Fatalf("begin payment: %v", errBegin)
	}
	gateway.Close(order.OrderNo)

	status, errPoll := engine.PollPaymentStatus(ctx, order.ID)
	if errPoll != nil {
		t.Fatalf("poll: %v", errPoll)
	}
	if status != payment.TradeStatusClosed {
		t.Fatalf("status = %q, want TRADE_CLOSED", status)
	}

	var reloaded models.Order
	if errFind := db.First(&reloaded, order.ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if reloaded.Status != models.OrderStatusPending {
		t.Fatalf("status = %q, want pending forever", reloaded.Status)
	}
	var purchaseCount int64
	if errCount := db.Model(&models.UserPurchase{}).Count(&purchaseCount).Error; errCount != nil {
		t.Fatalf("count purchases: %v", errCount)
	}
	if purchaseCount != 0 {
		t.Fatalf("purchases = %d, want 0", purchaseCount)
	}
}

func TestPollTriggersFulfillmentOnProviderSuccess(t *testing.T) {
	db, gateway, engine := setupEngineTest(t)
	cardType := seedCardType(t, db, "Day Card", 1, 5.00, true)
	seedCodes(t, db, cardType.ID, "C2", "C1")
	ctx := context.Background()

	order, _ := engine.CreateOrder(ctx, cardType.ID, "user-1")
	if _, _, errBegin := engine.BeginPayment(ctx, order.ID); errBegin != nil {
		t.Fatalf("begin payment: %v", errBegin)
	}

	status, errPoll := engine.PollPaymentStatus(ctx, order.ID)
	if errPoll != nil {
		t.Fatalf("poll unpaid: %v", errPoll)
	}
	if status != payment.TradeStatusWaitBuyerPay {
		t.Fatalf("status = %q, want WAIT_BUYER_PAY", status)
	}

	gateway.MarkPaid(order.OrderNo)
	status, errPoll = engine.PollPaymentStatus(ctx, order.ID)
	if errPoll != nil {
		t.Fatalf("poll paid: %v", errPoll)
	}
	if status != payment.TradeStatusSuccess {
		t.Fatalf("status = %q, want TRADE_SUCCESS", status)
	}

	// Lowest id wins the claim.
	code, errGet := engine.GetIssuedCode(ctx, order.ID)
	if errGet != nil {
		t.Fatalf("get code: %v", errGet)
	}
	if code != "C2" {
		t.Fatalf("code = %q, want C2 (lowest id)", code)
	}
}

func TestGetOrderJoinsPurchase(t *testing.T) {
	db, _, engine := setupEngineTest(t)
	cardType := seedCardType(t, db, "Monthly Card", 30, 30.00, true)
	seedCodes(t, db, cardType.ID, "C1")
	ctx := context.Background()

	order, _ := engine.CreateOrder(ctx, cardType.ID, "user-1")

	got, purchase, errGet := engine.GetOrder(ctx, order.ID)
	if errGet != nil {
		t.Fatalf("get order: %v", errGet)
	}
	if got.CardType == nil || got.CardType.Name != "Monthly Card" {
		t.Fatalf("card type not joined: %+v", got)
	}
	if purchase != nil {
		t.Fatalf("expected no purchase before fulfillment")
	}

	if _, errObserve := engine.ObservePaymentSuccess(ctx, order.OrderNo, "T1"); errObserve != nil {
		t.Fatalf("observe: %v", errObserve)
	}
	_, purchase, errGet = engine.GetOrder(ctx, order.ID)
	if errGet != nil {
		t.Fatalf("get order after fulfillment: %v", errGet)
	}
	if purchase == nil || purchase.CardCode != "C1" {
		t.Fatalf("purchase not joined: %+v", purchase)
	}
}

func TestHandleCallbackUnknownOrder(t *testing.T) {
	_, gateway, engine := setupEngineTest(t)
	values := gateway.SignCallback("CS00000000000000XXXXXXXX", "T1", payment.TradeStatusSuccess, 10.00)

	if errHandle := engine.HandleCallback(context.Background(), values); !errors.Is(errHandle, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", errHandle)
	}
}

func TestCallbackDecodedFromRawForm(t *testing.T) {
	db, gateway, engine := setupEngineTest(t)
	cardType := seedCardType(t, db, "Day Card", 1, 5.00, true)
	seedCodes(t, db, cardType.ID, "C1")
	ctx := context.Background()

	order, _ := engine.CreateOrder(ctx, cardType.ID, "user-1")
	signed := gateway.SignCallback(order.OrderNo, "T1", payment.TradeStatusSuccess, order.Amount)

	// Round-trip through form encoding the way the webhook handler sees it.
	parsed, errParse := url.ParseQuery(signed.Encode())
	if errParse != nil {
		t.Fatalf("parse form: %v", errParse)
	}
	if errHandle := engine.HandleCallback(ctx, parsed); errHandle != nil {
		t.Fatalf("handle callback: %v", errHandle)
	}
}
