package models

import "time"

// StoredFile represents an uploaded file tracked by the download service.
type StoredFile struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OriginalName string `gorm:"type:text;not null"`             // Name supplied at upload time.
	FileName     string `gorm:"type:text;not null;uniqueIndex"` // Name on disk, generated.
	Size         int64  `gorm:"not null"`                       // Size in bytes.
	ContentType  string `gorm:"type:text"`                      // MIME type from the upload.

	DownloadCount int64 `gorm:"not null;default:0"` // Completed download counter.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Upload timestamp.
}
