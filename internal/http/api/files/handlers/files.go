package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/config"
	dbutil "github.com/bihaiyouyou/huan-yin-chao-i-website/internal/db"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/models"
)

// allowedContentTypes lists the MIME types accepted for upload.
var allowedContentTypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/gif":       {},
	"image/webp":      {},
	"application/pdf": {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	"application/vnd.ms-powerpoint": {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
	"text/plain":                   {},
	"application/zip":              {},
	"application/x-rar-compressed": {},
	"video/mp4":                    {},
	"video/avi":                    {},
	"video/mov":                    {},
	"audio/mp3":                    {},
	"audio/wav":                    {},
}

// maxBatchUploadFiles caps the number of files in one multi-upload request.
const maxBatchUploadFiles = 10

// FileHandler handles file upload, listing, download and deletion.
type FileHandler struct {
	db  *gorm.DB           // Database handle for file metadata.
	cfg config.FilesConfig // Upload directory and size limits.
}

// NewFileHandler wires a file handler with its database and settings.
func NewFileHandler(db *gorm.DB, cfg config.FilesConfig) *FileHandler {
	return &FileHandler{db: db, cfg: cfg}
}

// List returns every stored file, newest first.
func (h *FileHandler) List(c *gin.Context) {
	var rows []models.StoredFile
	if errFind := h.db.WithContext(c.Request.Context()).
		Order("id DESC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list files failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.formatFile(&row))
	}
	c.JSON(http.StatusOK, out)
}

// Search returns files whose original name matches the q parameter.
func (h *FileHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}

	pattern := dbutil.NormalizeLikePattern(h.db, "%"+query+"%")
	var rows []models.StoredFile
	if errFind := h.db.WithContext(c.Request.Context()).
		Where(dbutil.CaseInsensitiveLikeExpr(h.db, "original_name"), pattern).
		Order("id DESC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search files failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.formatFile(&row))
	}
	c.JSON(http.StatusOK, out)
}

// Upload stores a single multipart file under the "file" field.
func (h *FileHandler) Upload(c *gin.Context) {
	header, errFile := c.FormFile("file")
	if errFile != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}

	row, errSave := h.saveUpload(c, header)
	if errSave != nil {
		h.writeUploadError(c, errSave)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "file uploaded",
		"file":    h.formatFile(row),
	})
}

// UploadMultiple stores up to maxBatchUploadFiles files under the "files" field.
func (h *FileHandler) UploadMultiple(c *gin.Context) {
	form, errForm := c.MultipartForm()
	if errForm != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files uploaded"})
		return
	}
	if len(headers) > maxBatchUploadFiles {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many files"})
		return
	}

	uploaded := make([]gin.H, 0, len(headers))
	for _, header := range headers {
		row, errSave := h.saveUpload(c, header)
		if errSave != nil {
			h.writeUploadError(c, errSave)
			return
		}
		uploaded = append(uploaded, h.formatFile(row))
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "files uploaded",
		"files":   uploaded,
	})
}

// Download streams a file as an attachment and bumps its counter.
func (h *FileHandler) Download(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var row models.StoredFile
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	path := filepath.Join(h.cfg.UploadDir, row.FileName)
	if _, errStat := os.Stat(path); errStat != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.StoredFile{}).
		Where("id = ?", row.ID).
		UpdateColumn("download_count", gorm.Expr("download_count + 1")).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update download count failed"})
		return
	}

	if row.ContentType != "" {
		c.Header("Content-Type", row.ContentType)
	}
	c.FileAttachment(path, row.OriginalName)
}

// Delete removes a file row and its backing file on disk.
func (h *FileHandler) Delete(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var row models.StoredFile
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	path := filepath.Join(h.cfg.UploadDir, row.FileName)
	if errRemove := os.Remove(path); errRemove != nil && !os.IsNotExist(errRemove) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete file failed"})
		return
	}
	if errDelete := h.db.WithContext(c.Request.Context()).
		Delete(&models.StoredFile{}, row.ID).Error; errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete record failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "file deleted"})
}

// Upload validation errors.
var (
	errUploadTooLarge       = errors.New("file exceeds size limit")
	errUploadTypeNotAllowed = errors.New("content type not allowed")
)

// saveUpload validates one multipart file and writes it to the upload
// directory under a generated name, recording a StoredFile row.
func (h *FileHandler) saveUpload(c *gin.Context, header *multipart.FileHeader) (*models.StoredFile, error) {
	if header.Size > h.cfg.MaxSizeBytes() {
		return nil, errUploadTooLarge
	}
	contentType := header.Header.Get("Content-Type")
	if _, ok := allowedContentTypes[contentType]; !ok {
		return nil, errUploadTypeNotAllowed
	}

	if errDir := os.MkdirAll(h.cfg.UploadDir, 0o755); errDir != nil {
		return nil, errDir
	}
	storedName := uuid.NewString() + filepath.Ext(header.Filename)
	dest := filepath.Join(h.cfg.UploadDir, storedName)

	src, errOpen := header.Open()
	if errOpen != nil {
		return nil, errOpen
	}
	defer func() { _ = src.Close() }()

	out, errCreate := os.Create(dest)
	if errCreate != nil {
		return nil, errCreate
	}
	written, errCopy := io.Copy(out, src)
	if errClose := out.Close(); errCopy == nil {
		errCopy = errClose
	}
	if errCopy != nil {
		_ = os.Remove(dest)
		return nil, errCopy
	}

	row := models.StoredFile{
		OriginalName: filepath.Base(header.Filename),
		FileName:     storedName,
		Size:         written,
		ContentType:  contentType,
	}
	if errInsert := h.db.WithContext(c.Request.Context()).Create(&row).Error; errInsert != nil {
		_ = os.Remove(dest)
		return nil, errInsert
	}
	return &row, nil
}

// writeUploadError maps saveUpload failures to HTTP responses.
func (h *FileHandler) writeUploadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errUploadTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
	case errors.Is(err, errUploadTypeNotAllowed):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported file type"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
	}
}

// formatFile renders a stored file row for API responses.
func (h *FileHandler) formatFile(row *models.StoredFile) gin.H {
	return gin.H{
		"id":             row.ID,
		"original_name":  row.OriginalName,
		"file_name":      row.FileName,
		"size":           row.Size,
		"type":           row.ContentType,
		"upload_date":    row.CreatedAt,
		"download_count": row.DownloadCount,
	}
}
