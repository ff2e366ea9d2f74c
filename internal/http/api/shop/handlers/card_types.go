package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/models"
)

// CardTypeHandler serves the public card catalog.
type CardTypeHandler struct {
	db *gorm.DB
}

// NewCardTypeHandler constructs a CardTypeHandler.
func NewCardTypeHandler(db *gorm.DB) *CardTypeHandler {
	return &CardTypeHandler{db: db}
}

// cardTypeDTO defines the public catalog entry payload.
type cardTypeDTO struct {
	ID           uint64  `json:"id"`
	Name         string  `json:"name"`
	DurationDays int     `json:"duration_days"`
	Price        float64 `json:"price"`
	Description  string  `json:"description"`
}

// List returns all active card types ordered by id.
func (h *CardTypeHandler) List(c *gin.Context) {
	var rows []models.CardType
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list card types failed"})
		return
	}

	out := make([]cardTypeDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, cardTypeDTO{
			ID:           row.ID,
			Name:         row.Name,
			DurationDays: row.DurationDays,
			Price:        row.Price,
			Description:  row.Description,
		})
	}
	c.JSON(http.StatusOK, out)
}
