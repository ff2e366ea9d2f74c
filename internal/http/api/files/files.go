package files

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/config"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/http/api/files/handlers"
)

// RegisterFileRoutes registers upload, listing, search, download and
// deletion routes for the file service.
func RegisterFileRoutes(r *gin.Engine, db *gorm.DB, cfg config.FilesConfig) {
	if r == nil || db == nil {
		return
	}

	api := r.Group("/api")

	fileHandler := handlers.NewFileHandler(db, cfg)
	api.GET("/files", fileHandler.List)
	api.GET("/files/search", fileHandler.Search)
	api.POST("/upload", fileHandler.Upload)
	api.POST("/upload-multiple", fileHandler.UploadMultiple)
	api.GET("/download/:id", fileHandler.Download)
	api.DELETE("/files/:id", fileHandler.Delete)
}
