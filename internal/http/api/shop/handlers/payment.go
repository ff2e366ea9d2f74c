package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/cache"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/fulfillment"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/payment"
)

// statusCacheTTL bounds how often the buyer's polling loop reaches the
// provider. Provider answers are advisory for this long.
const statusCacheTTL = 2 * time.Second

// PaymentHandler serves payment session creation, status polling and the
// provider webhook.
type PaymentHandler struct {
	engine *fulfillment.Engine
	cache  *cache.Cache
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(engine *fulfillment.Engine, statusCache *cache.Cache) *PaymentHandler {
	return &PaymentHandler{engine: engine, cache: statusCache}
}

// createPaymentRequest defines the request body for opening a session.
type createPaymentRequest struct {
	OrderID uint64 `json:"order_id"`
}

// Create opens a provider session for a pending order and returns the
// scannable payload, both raw and as a PNG data URL.
func (h *PaymentHandler) Create(c *gin.Context) {
	var body createPaymentRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.OrderID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required"})
		return
	}

	order, session, errBegin := h.engine.BeginPayment(c.Request.Context(), body.OrderID)
	if errBegin != nil {
		switch {
		case errors.Is(errBegin, fulfillment.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		case errors.Is(errBegin, fulfillment.ErrOrderNotPayable):
			c.JSON(http.StatusConflict, gin.H{"error": "order is not payable"})
		case errors.Is(errBegin, payment.ErrInvalidOrder):
			c.JSON(http.StatusBadRequest, gin.H{"error": "payment order rejected"})
		case errors.Is(errBegin, payment.ErrProviderUnavailable):
			c.JSON(http.StatusBadGateway, gin.H{"error": "payment provider unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create payment failed"})
		}
		return
	}

	resp := gin.H{
		"order_no": order.OrderNo,
		"qr_code":  session.QRPayload,
	}
	if png, errEncode := qrcode.Encode(session.QRPayload, qrcode.Medium, 256); errEncode == nil {
		resp["qr_image"] = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	} else {
		log.Warnf("encode qr image for order %s: %v", order.OrderNo, errEncode)
	}
	c.JSON(http.StatusOK, resp)
}

// Status reports the trade status for an order. Non-final provider
// answers are cached briefly so aggressive polling does not hammer the
// provider.
func (h *PaymentHandler) Status(c *gin.Context) {
	orderID, ok := parseIDParam(c, "orderId")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	ctx := c.Request.Context()
	cacheKey := fmt.Sprintf("payment:status:%d", orderID)
	if cached := h.cache.Get(ctx, cacheKey); cached != "" {
		c.JSON(http.StatusOK, gin.H{"status": cached})
		return
	}

	status, errPoll := h.engine.PollPaymentStatus(ctx, orderID)
	if errPoll != nil {
		switch {
		case errors.Is(errPoll, fulfillment.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		case errors.Is(errPoll, payment.ErrProviderUnavailable):
			c.JSON(http.StatusBadGateway, gin.H{"error": "payment provider unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query payment status failed"})
		}
		return
	}

	if !status.Paid() {
		h.cache.Set(ctx, cacheKey, string(status), statusCacheTTL)
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// Callback receives the provider webhook. The body is form encoded; the
// reply body follows the provider convention of "success"/"failure".
func (h *PaymentHandler) Callback(c *gin.Context) {
	if errParse := c.Request.ParseForm(); errParse != nil {
		c.String(http.StatusBadRequest, "failure")
		return
	}
	values := c.Request.PostForm
	if len(values) == 0 {
		values = c.Request.Form
	}

	if errHandle := h.engine.HandleCallback(c.Request.Context(), values); errHandle != nil {
		switch {
		case errors.Is(errHandle, payment.ErrSignatureInvalid),
			errors.Is(errHandle, fulfillment.ErrAmountMismatch),
			errors.Is(errHandle, fulfillment.ErrOrderNotFound):
			c.String(http.StatusBadRequest, "failure")
		default:
			c.String(http.StatusInternalServerError, "failure")
		}
		return
	}
	c.String(http.StatusOK, "success")
}
