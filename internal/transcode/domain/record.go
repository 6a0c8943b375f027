package domain

import (
	"fmt"
	"strings"
	"time"
)

// MetadataRecord 完成的轉碼工作紀錄, (owner, videoName) 唯一
type MetadataRecord struct {
	ID                uint      `gorm:"primaryKey" json:"-" bson:"-"`
	Owner             string    `gorm:"size:255;not null;uniqueIndex:idx_owner_video" json:"owner" bson:"owner"`
	VideoName         string    `gorm:"size:255;not null;uniqueIndex:idx_owner_video" json:"videoName" bson:"video_name"`
	ArtifactURL       string    `gorm:"not null" json:"s3Url" bson:"s3_url"`
	TranscodeDuration string    `json:"transcodeDuration" bson:"transcode_duration"`
	CreatedAt         time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt" bson:"updated_at"`
}

// FormatTranscodeDuration "12.34 seconds"
func FormatTranscodeDuration(d time.Duration) string {
	return fmt.Sprintf("%.2f seconds", d.Seconds())
}

// ArtifactURL public (unsigned) url of an object
func ArtifactURL(publicBase, key string) string {
	return strings.TrimRight(publicBase, "/") + "/" + key
}
