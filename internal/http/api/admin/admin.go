package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/config"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/http/api/admin/handlers"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/models"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/security"
)

// RegisterAdminRoutes registers the admin login route and the
// token-protected management routes.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig) {
	if r == nil || db == nil {
		return
	}

	group := r.Group("/api/admin")

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	group.POST("/login", authHandler.Login)

	authed := group.Group("")
	authed.Use(adminAuthMiddleware(db, jwtCfg))

	mfaHandler := handlers.NewMFAHandler(db)
	authed.GET("/mfa/status", mfaHandler.Status)
	authed.POST("/mfa/totp/prepare", mfaHandler.PrepareTOTP)
	authed.POST("/mfa/totp/confirm", mfaHandler.ConfirmTOTP)
	authed.POST("/mfa/totp/disable", mfaHandler.DisableTOTP)

	cardTypeHandler := handlers.NewCardTypeAdminHandler(db)
	authed.GET("/card-types", cardTypeHandler.List)
	authed.POST("/card-types", cardTypeHandler.Create)
	authed.PUT("/card-types/:id", cardTypeHandler.Update)

	cardCodeHandler := handlers.NewCardCodeHandler(db)
	authed.GET("/card-codes", cardCodeHandler.List)
	authed.POST("/card-codes", cardCodeHandler.BatchCreate)
	authed.DELETE("/card-codes/:id", cardCodeHandler.Delete)

	statisticsHandler := handlers.NewStatisticsHandler(db)
	authed.GET("/statistics", statisticsHandler.Overview)
}

// adminAuthMiddleware validates admin JWTs and loads the admin into context.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
			return
		}

		c.Set("adminID", admin.ID)
		c.Set("adminUsername", admin.Username)
		c.Next()
	}
}
