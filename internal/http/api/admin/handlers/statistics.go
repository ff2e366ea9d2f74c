package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/models"
)

// StatisticsHandler serves admin shop analytics.
type StatisticsHandler struct {
	db *gorm.DB // Database handle for aggregate queries.
}

// NewStatisticsHandler constructs a statistics handler with database access.
func NewStatisticsHandler(db *gorm.DB) *StatisticsHandler {
	return &StatisticsHandler{db: db}
}

// typeStockRow aggregates pool counts per card type.
type typeStockRow struct {
	CardTypeID uint64 `json:"card_type_id"` // Card type primary key.
	Name       string `json:"name"`         // Card type display name.
	Unused     int64  `json:"unused"`       // Codes available for issuance.
	Used       int64  `json:"used"`         // Codes bound to orders.
	Expired    int64  `json:"expired"`      // Codes past their validity window.
}

// Overview returns pool stock per type plus order and revenue totals.
func (h *StatisticsHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	var stock []typeStockRow
	if errFind := h.db.WithContext(ctx).Model(&models.CardType{}).
		Select(`
			card_types.id AS card_type_id,
			card_types.name AS name,
			SUM(CASE WHEN card_codes.status = 'unused' THEN 1 ELSE 0 END) AS unused,
			SUM(CASE WHEN card_codes.status = 'used' THEN 1 ELSE 0 END) AS used,
			SUM(CASE WHEN card_codes.status = 'expired' THEN 1 ELSE 0 END) AS expired
		`).
		Joins("LEFT JOIN card_codes ON card_codes.card_type_id = card_types.id").
		Group("card_types.id, card_types.name").
		Order("card_types.id ASC").
		Scan(&stock).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stock query failed"})
		return
	}

	var orderStats struct {
		Total   int64
		Pending int64
		Paid    int64
		Revenue float64
	}
	if errScan := h.db.WithContext(ctx).Model(&models.Order{}).
		Select(`
			COUNT(*) AS total,
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END) AS pending,
			SUM(CASE WHEN status = 'paid' THEN 1 ELSE 0 END) AS paid,
			COALESCE(SUM(CASE WHEN status = 'paid' THEN amount ELSE 0 END), 0) AS revenue
		`).
		Scan(&orderStats).Error; errScan != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order query failed"})
		return
	}

	var fulfilled int64
	if errCount := h.db.WithContext(ctx).Model(&models.UserPurchase{}).
		Count(&fulfilled).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "purchase query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stock": stock,
		"orders": gin.H{
			"total":     orderStats.Total,
			"pending":   orderStats.Pending,
			"paid":      orderStats.Paid,
			"fulfilled": fulfilled,
		},
		"revenue": orderStats.Revenue,
	})
}
