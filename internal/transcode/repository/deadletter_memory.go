package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"transcoding_service/internal/transcode/domain"
	errprocess "transcoding_service/pkg/err"

	"github.com/google/uuid"
)

// fillDeadLetter 補上 id 與建立時間
func fillDeadLetter(dl *domain.DeadLetter) {
	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now().UTC()
	}
}

// MemoryDeadLetterRepo in-process DeadLetterRepo
type MemoryDeadLetterRepo struct {
	mu      sync.Mutex
	letters map[string]domain.DeadLetter
}

// NewMemoryDeadLetterRepo create MemoryDeadLetterRepo
func NewMemoryDeadLetterRepo() *MemoryDeadLetterRepo {
	return &MemoryDeadLetterRepo{letters: make(map[string]domain.DeadLetter)}
}

func (r *MemoryDeadLetterRepo) Migrate(context.Context) error { return nil }

func (r *MemoryDeadLetterRepo) Put(_ context.Context, dl *domain.DeadLetter) error {
	fillDeadLetter(dl)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.letters[dl.ID] = *dl
	return nil
}

// List newest first
func (r *MemoryDeadLetterRepo) List(_ context.Context, limit int) ([]domain.DeadLetter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.DeadLetter, 0, len(r.letters))
	for _, dl := range r.letters {
		out = append(out, dl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryDeadLetterRepo) Get(_ context.Context, id string) (*domain.DeadLetter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dl, ok := r.letters[id]
	if !ok {
		return nil, errprocess.New(errprocess.KindNotFound, "repository.Get", fmt.Sprintf("dead letter[%s]", id))
	}
	return &dl, nil
}

func (r *MemoryDeadLetterRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.letters[id]; !ok {
		return errprocess.New(errprocess.KindNotFound, "repository.Delete", fmt.Sprintf("dead letter[%s]", id))
	}
	delete(r.letters, id)
	return nil
}
