package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Upload stores an evidence image. Domain records only keep the upload id.
// Bytes live either in Data or in the object named by StorageKey.
type Upload struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UploaderID  uuid.UUID `gorm:"column:uploader_id;type:uuid;not null;index"`
	ContentType string    `gorm:"column:content_type;type:text;not null"`
	SizeBytes   int64     `gorm:"column:size_bytes;not null"`
	Data        []byte    `gorm:"column:data"`
	StorageKey  *string   `gorm:"column:storage_key;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (u *Upload) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}
