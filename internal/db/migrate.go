package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/models"
)

// Migrate creates or updates the schema for all persisted models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.CardType{},
		&models.CardCode{},
		&models.Order{},
		&models.UserPurchase{},
		&models.StoredFile{},
		&models.Admin{},
	)
}

// defaultCardTypes seeds the catalog on first boot.
var defaultCardTypes = []models.CardType{
	{Name: "Day Card", DurationDays: 1, Price: 5.00, Description: "Basic features, valid for 1 day", IsActive: true},
	{Name: "Monthly Card", DurationDays: 30, Price: 30.00, Description: "Full features, valid for 30 days", IsActive: true},
	{Name: "Quarterly Card", DurationDays: 90, Price: 80.00, Description: "Full features plus priority support, valid for 90 days", IsActive: true},
	{Name: "Annual Card", DurationDays: 365, Price: 300.00, Description: "Full features plus VIP support, valid for 365 days", IsActive: true},
}

// SeedCardTypes inserts the default catalog when the table is empty.
func SeedCardTypes(conn *gorm.DB) error {
	var count int64
	if errCount := conn.Model(&models.CardType{}).Count(&count).Error; errCount != nil {
		return fmt.Errorf("db: count card types: %w", errCount)
	}
	if count > 0 {
		return nil
	}
	for i := range defaultCardTypes {
		cardType := defaultCardTypes[i]
		if errCreate := conn.Create(&cardType).Error; errCreate != nil {
			return fmt.Errorf("db: seed card type %s: %w", cardType.Name, errCreate)
		}
	}
	return nil
}

// SeedAdmin ensures an initial administrator account exists.
// The password must already be hashed by the caller.
func SeedAdmin(conn *gorm.DB, username, hashedPassword string) error {
	if username == "" || hashedPassword == "" {
		return nil
	}
	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		return fmt.Errorf("db: count admins: %w", errCount)
	}
	if count > 0 {
		return nil
	}
	admin := models.Admin{
		Username: username,
		Password: hashedPassword,
		Active:   true,
	}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		return fmt.Errorf("db: seed admin: %w", errCreate)
	}
	return nil
}
