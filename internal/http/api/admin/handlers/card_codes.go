package handlers

import (
	"crypto/rand"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	dbutil "github.com/bihaiyouyou/huan-yin-chao-i-website/internal/db"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/models"
)

// CardCodeHandler handles admin operations on the activation code pool.
type CardCodeHandler struct {
	db *gorm.DB // Database handle for code pool queries.
}

// NewCardCodeHandler wires a card code handler with its database dependency.
func NewCardCodeHandler(db *gorm.DB) *CardCodeHandler {
	return &CardCodeHandler{db: db}
}

// codeAlphabet excludes ambiguous characters (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateCode returns a random code of the given length.
func generateCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", errRead
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// batchCreateCardCodeRequest captures the payload for stocking the code pool.
// Either an explicit code list or a generated count must be provided.
type batchCreateCardCodeRequest struct {
	CardTypeID uint64   `json:"card_type_id"` // Owning card type.
	Codes      []string `json:"codes"`        // Explicit codes to insert.
	Count      int      `json:"count"`        // Number of codes to generate.
	Prefix     string   `json:"prefix"`       // Optional prefix for generated codes.
	CodeLength int      `json:"code_length"`  // Length of generated codes.
}

// BatchCreate inserts explicit or generated codes for a card type in one transaction.
func (h *CardCodeHandler) BatchCreate(c *gin.Context) {
	var body batchCreateCardCodeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.CardTypeID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing card_type_id"})
		return
	}

	explicit := make([]string, 0, len(body.Codes))
	seen := make(map[string]struct{}, len(body.Codes))
	for _, raw := range body.Codes {
		code := strings.TrimSpace(raw)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duplicate code in request"})
			return
		}
		seen[code] = struct{}{}
		explicit = append(explicit, code)
	}
	if len(explicit) == 0 && body.Count <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "codes or count is required"})
		return
	}
	if body.Count < 0 || body.Count > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must be between 1 and 1000"})
		return
	}
	codeLength := body.CodeLength
	if codeLength <= 0 {
		codeLength = 16
	}
	if codeLength < 8 || codeLength > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code_length must be between 8 and 64"})
		return
	}

	var cardType models.CardType
	if errFind := h.db.WithContext(c.Request.Context()).First(&cardType, body.CardTypeID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "card type not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query card type failed"})
		return
	}

	prefix := strings.TrimSpace(body.Prefix)
	now := time.Now().UTC()
	created := make([]gin.H, 0, len(explicit)+body.Count)
	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		insert := func(code string) error {
			row := models.CardCode{
				CardTypeID: cardType.ID,
				Code:       code,
				Status:     models.CardCodeStatusUnused,
				CreatedAt:  now,
			}
			if errCreate := tx.Create(&row).Error; errCreate != nil {
				return errCreate
			}
			created = append(created, gin.H{"id": row.ID, "code": row.Code})
			return nil
		}
		for _, code := range explicit {
			if errInsert := insert(code); errInsert != nil {
				return errInsert
			}
		}
		for i := 0; i < body.Count; i++ {
			code, errGen := generateCode(codeLength)
			if errGen != nil {
				return errGen
			}
			if errInsert := insert(prefix + code); errInsert != nil {
				return errInsert
			}
		}
		return nil
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "batch create card codes failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"card_type_id": cardType.ID,
		"created":      len(created),
		"card_codes":   created,
	})
}

// List returns codes filtered by query parameters.
func (h *CardCodeHandler) List(c *gin.Context) {
	var (
		typeQ   = strings.TrimSpace(c.Query("card_type_id"))
		statusQ = strings.TrimSpace(c.Query("status"))
		searchQ = strings.TrimSpace(c.Query("search"))
	)

	q := h.db.WithContext(c.Request.Context()).
		Model(&models.CardCode{}).
		Preload("CardType")
	if typeQ != "" {
		q = q.Where("card_type_id = ?", typeQ)
	}
	if statusQ != "" {
		switch statusQ {
		case models.CardCodeStatusUnused, models.CardCodeStatusUsed, models.CardCodeStatusExpired:
			q = q.Where("status = ?", statusQ)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
	}
	if searchQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+searchQ+"%")
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "code"), pattern)
	}

	var rows []models.CardCode
	if errFind := q.Order("id DESC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list card codes failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.formatCode(&row))
	}
	c.JSON(http.StatusOK, gin.H{"card_codes": out})
}

// Delete removes a single code. Used codes are part of the purchase
// ledger and cannot be deleted.
func (h *CardCodeHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var row models.CardCode
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if row.Status == models.CardCodeStatusUsed {
		c.JSON(http.StatusConflict, gin.H{"error": "used codes cannot be deleted"})
		return
	}
	if errDelete := h.db.WithContext(c.Request.Context()).Delete(&models.CardCode{}, row.ID).Error; errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// formatCode renders a code row for admin responses.
func (h *CardCodeHandler) formatCode(row *models.CardCode) gin.H {
	out := gin.H{
		"id":           row.ID,
		"card_type_id": row.CardTypeID,
		"code":         row.Code,
		"status":       row.Status,
		"used_by":      row.UsedBy,
		"used_at":      row.UsedAt,
		"expires_at":   row.ExpiresAt,
		"created_at":   row.CreatedAt,
	}
	if row.CardType != nil {
		out["card_type_name"] = row.CardType.Name
	}
	return out
}
