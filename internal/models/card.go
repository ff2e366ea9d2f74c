package models

import "time"

// Card code lifecycle states.
const (
	// CardCodeStatusUnused marks a code that has never been issued.
	CardCodeStatusUnused = "unused"
	// CardCodeStatusUsed marks a code permanently bound to an order.
	CardCodeStatusUsed = "used"
	// CardCodeStatusExpired marks a code past its validity window.
	CardCodeStatusExpired = "expired"
)

// CardType represents a catalog entry for a class of activation cards.
type CardType struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name         string  `gorm:"type:text;not null"`           // Display name.
	DurationDays int     `gorm:"not null"`                     // Validity window granted on issuance.
	Price        float64 `gorm:"type:decimal(10,2);not null"`  // Catalog price.
	Description  string  `gorm:"type:text"`                    // Marketing description.
	IsActive     bool    `gorm:"not null;default:true;index"`  // Whether the type is purchasable.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// CardCode represents a single-use activation code belonging to one card type.
type CardCode struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	CardTypeID uint64    `gorm:"not null;index"`            // Owning card type.
	CardType   *CardType `gorm:"foreignKey:CardTypeID"`     // Owning card type record.

	Code   string `gorm:"type:text;not null;uniqueIndex"`                    // Activation secret.
	Status string `gorm:"type:text;not null;default:'unused';index"`         // unused, used or expired.

	UsedBy    string     `gorm:"type:text"` // User the code was issued to.
	UsedAt    *time.Time // Issuance time, if issued.
	ExpiresAt *time.Time // Entitlement expiry, used_at + duration_days.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
