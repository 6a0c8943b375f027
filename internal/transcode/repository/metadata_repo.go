package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transcoding_service/internal/transcode/domain"
	errprocess "transcoding_service/pkg/err"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MetadataRepo completed job records, keyed by (owner, videoName)
type MetadataRepo interface {
	AutoMigrate() error
	// Record upsert, reprocessing overwrites artifact url and duration and keeps createdAt
	Record(ctx context.Context, rec *domain.MetadataRecord) error
	Find(ctx context.Context, owner, videoName string) (*domain.MetadataRecord, error)
}

type metadataRepo struct {
	db    *gorm.DB
	table string
}

// NewMetadataRepo create postgres MetadataRepo on table
func NewMetadataRepo(db *gorm.DB, table string) MetadataRepo {
	return &metadataRepo{db: db, table: table}
}

func (r *metadataRepo) AutoMigrate() error {
	return r.db.Table(r.table).AutoMigrate(&domain.MetadataRecord{})
}

// Record INSERT ... ON CONFLICT (owner, video_name) DO UPDATE
func (r *metadataRepo) Record(ctx context.Context, rec *domain.MetadataRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	err := r.db.WithContext(ctx).Table(r.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner"}, {Name: "video_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"artifact_url", "transcode_duration", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return errprocess.Wrap(errprocess.KindTransient, "repository.Record", err, fmt.Sprintf("upsert[%s/%s]", rec.Owner, rec.VideoName))
	}
	return nil
}

func (r *metadataRepo) Find(ctx context.Context, owner, videoName string) (*domain.MetadataRecord, error) {
	var rec domain.MetadataRecord
	err := r.db.WithContext(ctx).Table(r.table).
		Where("owner = ? AND video_name = ?", owner, videoName).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errprocess.Wrap(errprocess.KindNotFound, "repository.Find", err, fmt.Sprintf("record[%s/%s]", owner, videoName))
	}
	if err != nil {
		return nil, errprocess.Wrap(errprocess.KindTransient, "repository.Find", err, fmt.Sprintf("record[%s/%s]", owner, videoName))
	}
	return &rec, nil
}
