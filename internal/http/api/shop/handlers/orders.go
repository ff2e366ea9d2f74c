package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/fulfillment"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/models"
)

// OrderHandler serves order creation and order views.
type OrderHandler struct {
	engine *fulfillment.Engine
}

// NewOrderHandler constructs an OrderHandler.
func NewOrderHandler(engine *fulfillment.Engine) *OrderHandler {
	return &OrderHandler{engine: engine}
}

// createOrderRequest defines the request body for order creation.
type createOrderRequest struct {
	CardTypeID uint64 `json:"card_type_id"`
	UserID     string `json:"user_id"`
}

// Create inserts a pending order for an active card type.
func (h *OrderHandler) Create(c *gin.Context) {
	var body createOrderRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.CardTypeID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "card_type_id is required"})
		return
	}
	userID := strings.TrimSpace(body.UserID)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	order, errCreate := h.engine.CreateOrder(c.Request.Context(), body.CardTypeID, userID)
	if errCreate != nil {
		if errors.Is(errCreate, fulfillment.ErrUnknownCardType) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown card type"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create order failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order_id": order.ID,
		"order_no": order.OrderNo,
		"amount":   order.Amount,
	})
}

// Get returns an order joined with its card type and issued code.
func (h *OrderHandler) Get(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, purchase, errGet := h.engine.GetOrder(c.Request.Context(), orderID)
	if errGet != nil {
		if errors.Is(errGet, fulfillment.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query order failed"})
		return
	}

	view := gin.H{
		"id":                order.ID,
		"order_no":          order.OrderNo,
		"user_id":           order.UserID,
		"amount":            order.Amount,
		"status":            order.Status,
		"payment_method":    order.PaymentMethod,
		"provider_trade_no": order.ProviderTradeNo,
		"paid_at":           order.PaidAt,
		"created_at":        order.CreatedAt,
	}
	if order.CardType != nil {
		view["card_type"] = gin.H{
			"id":            order.CardType.ID,
			"name":          order.CardType.Name,
			"duration_days": order.CardType.DurationDays,
			"price":         order.CardType.Price,
		}
	}
	if purchase != nil {
		view["card_code"] = purchase.CardCode
	}
	c.JSON(http.StatusOK, view)
}

// GetCardCode returns the issued code for an order, or a null code while
// fulfillment is still pending.
func (h *OrderHandler) GetCardCode(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	code, errGet := h.engine.GetIssuedCode(c.Request.Context(), orderID)
	if errGet != nil {
		switch {
		case errors.Is(errGet, fulfillment.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		case errors.Is(errGet, fulfillment.ErrNotYetIssued):
			c.JSON(http.StatusOK, gin.H{"card_code": nil, "status": "not_yet_issued"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query card code failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"card_code": code, "status": models.OrderStatusPaid})
}
