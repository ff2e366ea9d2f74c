package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/models"
)

// MFAHandler manages TOTP enrollment for admin accounts.
type MFAHandler struct {
	db *gorm.DB
}

// NewMFAHandler constructs an MFAHandler.
func NewMFAHandler(db *gorm.DB) *MFAHandler {
	return &MFAHandler{db: db}
}

// pendingSecrets holds TOTP secrets awaiting confirmation, keyed by admin id.
var pendingSecrets sync.Map

// Status reports whether TOTP is enabled for the current admin.
func (h *MFAHandler) Status(c *gin.Context) {
	adminID := getAdminID(c)
	if adminID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).Select("id", "totp_secret").First(&admin, adminID).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query admin failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"totp_enabled": strings.TrimSpace(admin.TOTPSecret) != ""})
}

// PrepareTOTP generates a pending secret and returns the otpauth URL.
func (h *MFAHandler) PrepareTOTP(c *gin.Context) {
	adminID := getAdminID(c)
	if adminID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).Select("id", "username").First(&admin, adminID).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query admin failed"})
		return
	}

	key, errGen := totp.Generate(totp.GenerateOpts{
		Issuer:      "card-shop",
		AccountName: admin.Username,
	})
	if errGen != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate totp secret failed"})
		return
	}
	pendingSecrets.Store(fmt.Sprintf("%d", adminID), key.Secret())

	c.JSON(http.StatusOK, gin.H{
		"secret": key.Secret(),
		"url":    key.URL(),
	})
}

// totpConfirmRequest defines the request body for confirming TOTP.
type totpConfirmRequest struct {
	Code string `json:"code"`
}

// ConfirmTOTP verifies the first code and persists the pending secret.
func (h *MFAHandler) ConfirmTOTP(c *gin.Context) {
	adminID := getAdminID(c)
	if adminID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body totpConfirmRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	code := strings.TrimSpace(body.Code)
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	val, ok := pendingSecrets.Load(fmt.Sprintf("%d", adminID))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "totp setup expired"})
		return
	}
	secret := val.(string)
	if !totp.Validate(code, secret) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid code"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.Admin{}).
		Where("id = ?", adminID).
		Updates(map[string]any{"totp_secret": secret, "updated_at": time.Now().UTC()}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enable totp failed"})
		return
	}
	pendingSecrets.Delete(fmt.Sprintf("%d", adminID))

	c.JSON(http.StatusOK, gin.H{"totp_enabled": true})
}

// DisableTOTP clears the TOTP secret for the current admin.
func (h *MFAHandler) DisableTOTP(c *gin.Context) {
	adminID := getAdminID(c)
	if adminID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.Admin{}).
		Where("id = ?", adminID).
		Updates(map[string]any{"totp_secret": "", "updated_at": time.Now().UTC()}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disable totp failed"})
		return
	}
	pendingSecrets.Delete(fmt.Sprintf("%d", adminID))

	c.JSON(http.StatusOK, gin.H{"totp_enabled": false})
}
