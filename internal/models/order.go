package models

import "time"

// Order lifecycle states.
const (
	// OrderStatusPending marks an order awaiting payment.
	OrderStatusPending = "pending"
	// OrderStatusPaid marks an order with a confirmed payment.
	OrderStatusPaid = "paid"
)

// Order represents a buyer's purchase attempt for one card type.
type Order struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrderNo string `gorm:"type:text;not null;uniqueIndex"` // Externally visible order number.
	UserID  string `gorm:"type:text;not null;index"`       // Buyer identifier.

	CardTypeID uint64    `gorm:"not null;index"`        // Purchased card type.
	CardType   *CardType `gorm:"foreignKey:CardTypeID"` // Purchased card type record.

	Amount float64 `gorm:"type:decimal(10,2);not null"` // Price captured at order creation.

	Status          string     `gorm:"type:text;not null;default:'pending';index"` // pending or paid.
	PaymentMethod   string     `gorm:"type:text"`                                  // Payment channel, e.g. alipay.
	ProviderTradeNo string     `gorm:"type:text"`                                  // Provider-side trade number.
	PaidAt          *time.Time // Payment confirmation time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// UserPurchase is the durable join between a paid order and the code it consumed.
// The unique index on OrderID enforces at most one fulfillment per order.
type UserPurchase struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID  string `gorm:"type:text;not null;index"` // Buyer identifier.
	OrderID uint64 `gorm:"not null;uniqueIndex"`     // Fulfilled order.
	Order   *Order `gorm:"foreignKey:OrderID"`       // Fulfilled order record.

	CardCode string `gorm:"type:text;not null"` // Issued activation code.

	PurchaseDate time.Time `gorm:"not null;autoCreateTime"` // Fulfillment timestamp.
}
