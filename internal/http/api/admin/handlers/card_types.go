package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/models"
)

// CardTypeAdminHandler handles admin catalog management.
type CardTypeAdminHandler struct {
	db *gorm.DB // Database handle for catalog queries.
}

// NewCardTypeAdminHandler wires a catalog admin handler with its database dependency.
func NewCardTypeAdminHandler(db *gorm.DB) *CardTypeAdminHandler {
	return &CardTypeAdminHandler{db: db}
}

// List returns every card type, active or not.
func (h *CardTypeAdminHandler) List(c *gin.Context) {
	var rows []models.CardType
	if errFind := h.db.WithContext(c.Request.Context()).
		Order("id ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list card types failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.formatType(&row))
	}
	c.JSON(http.StatusOK, gin.H{"card_types": out})
}

// createCardTypeRequest captures the payload for a new catalog entry.
type createCardTypeRequest struct {
	Name         string  `json:"name"`          // Display name.
	DurationDays int     `json:"duration_days"` // Validity window in days.
	Price        float64 `json:"price"`         // Catalog price.
	Description  string  `json:"description"`   // Optional marketing description.
	IsActive     *bool   `json:"is_active"`     // Optional active flag, defaults to true.
}

// Create validates input and persists a new card type.
func (h *CardTypeAdminHandler) Create(c *gin.Context) {
	var body createCardTypeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}
	if body.DurationDays <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_days must be positive"})
		return
	}
	if body.Price <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must be positive"})
		return
	}
	isActive := true
	if body.IsActive != nil {
		isActive = *body.IsActive
	}

	row := models.CardType{
		Name:         name,
		DurationDays: body.DurationDays,
		Price:        body.Price,
		Description:  strings.TrimSpace(body.Description),
		IsActive:     isActive,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create card type failed"})
		return
	}
	c.JSON(http.StatusCreated, h.formatType(&row))
}

// updateCardTypeRequest captures optional fields for catalog updates.
type updateCardTypeRequest struct {
	Name         *string  `json:"name"`          // Optional updated name.
	DurationDays *int     `json:"duration_days"` // Optional updated validity window.
	Price        *float64 `json:"price"`         // Optional updated price.
	Description  *string  `json:"description"`   // Optional updated description.
	IsActive     *bool    `json:"is_active"`     // Optional active flag.
}

// Update applies validated field changes to a card type. Price changes
// never touch existing orders; each order keeps its captured amount.
func (h *CardTypeAdminHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var row models.CardType
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	var body updateCardTypeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := map[string]any{}
	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
			return
		}
		updates["name"] = name
	}
	if body.DurationDays != nil {
		if *body.DurationDays <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duration_days must be positive"})
			return
		}
		updates["duration_days"] = *body.DurationDays
	}
	if body.Price != nil {
		if *body.Price <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "price must be positive"})
			return
		}
		updates["price"] = *body.Price
	}
	if body.Description != nil {
		updates["description"] = strings.TrimSpace(*body.Description)
	}
	if body.IsActive != nil {
		updates["is_active"] = *body.IsActive
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, h.formatType(&row))
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(&row).Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update card type failed"})
		return
	}
	c.JSON(http.StatusOK, h.formatType(&row))
}

// formatType renders a catalog row for admin responses.
func (h *CardTypeAdminHandler) formatType(row *models.CardType) gin.H {
	return gin.H{
		"id":            row.ID,
		"name":          row.Name,
		"duration_days": row.DurationDays,
		"price":         row.Price,
		"description":   row.Description,
		"is_active":     row.IsActive,
		"created_at":    row.CreatedAt,
	}
}
