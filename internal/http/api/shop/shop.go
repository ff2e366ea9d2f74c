package shop

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/cache"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/fulfillment"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/http/api/shop/handlers"
)

// RegisterShopRoutes registers the public storefront routes: catalog,
// orders and the payment lifecycle.
func RegisterShopRoutes(r *gin.Engine, db *gorm.DB, engine *fulfillment.Engine, statusCache *cache.Cache) {
	if r == nil || db == nil || engine == nil {
		return
	}

	api := r.Group("/api")

	cardTypeHandler := handlers.NewCardTypeHandler(db)
	api.GET("/card-types", cardTypeHandler.List)

	orderHandler := handlers.NewOrderHandler(engine)
	api.POST("/orders", orderHandler.Create)
	api.GET("/orders/:id", orderHandler.Get)
	api.GET("/orders/:id/card-code", orderHandler.GetCardCode)

	paymentHandler := handlers.NewPaymentHandler(engine, statusCache)
	api.POST("/payment/create", paymentHandler.Create)
	api.GET("/payment/status/:orderId", paymentHandler.Status)
	api.POST("/payment/callback", paymentHandler.Callback)
}
