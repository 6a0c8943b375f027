package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"transcoding_service/internal/transcode/domain"
	errprocess "transcoding_service/pkg/err"
)

// MemoryMetadataRepo in-process MetadataRepo for local runs and tests
type MemoryMetadataRepo struct {
	mu      sync.Mutex
	records map[string]domain.MetadataRecord
	nextID  uint
}

// NewMemoryMetadataRepo create MemoryMetadataRepo
func NewMemoryMetadataRepo() *MemoryMetadataRepo {
	return &MemoryMetadataRepo{records: make(map[string]domain.MetadataRecord)}
}

func recordKey(owner, videoName string) string {
	return owner + "\x00" + videoName
}

func (r *MemoryMetadataRepo) AutoMigrate() error { return nil }

func (r *MemoryMetadataRepo) Record(_ context.Context, rec *domain.MetadataRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	key := recordKey(rec.Owner, rec.VideoName)
	if old, ok := r.records[key]; ok {
		old.ArtifactURL = rec.ArtifactURL
		old.TranscodeDuration = rec.TranscodeDuration
		old.UpdatedAt = now
		r.records[key] = old
		return nil
	}

	r.nextID++
	stored := *rec
	stored.ID = r.nextID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.records[key] = stored
	return nil
}

func (r *MemoryMetadataRepo) Find(_ context.Context, owner, videoName string) (*domain.MetadataRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[recordKey(owner, videoName)]
	if !ok {
		return nil, errprocess.New(errprocess.KindNotFound, "repository.Find", fmt.Sprintf("record[%s/%s]", owner, videoName))
	}
	return &rec, nil
}

// Len number of records
func (r *MemoryMetadataRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
