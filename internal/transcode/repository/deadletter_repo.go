package repository

import (
	"context"
	"errors"
	"fmt"

	"transcoding_service/internal/transcode/domain"
	errprocess "transcoding_service/pkg/err"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// DeadLetterRepo poison messages parked by the worker
type DeadLetterRepo interface {
	Migrate(ctx context.Context) error
	Put(ctx context.Context, dl *domain.DeadLetter) error
	List(ctx context.Context, limit int) ([]domain.DeadLetter, error)
	Get(ctx context.Context, id string) (*domain.DeadLetter, error)
	Delete(ctx context.Context, id string) error
}

const createDeadLetterTable = `
CREATE TABLE IF NOT EXISTS transcode_dead_letters (
	id                TEXT PRIMARY KEY,
	message_id        TEXT NOT NULL,
	body              BYTEA NOT NULL,
	reason            TEXT NOT NULL,
	kind              TEXT NOT NULL,
	receive_count     INTEGER NOT NULL,
	video_name        TEXT NOT NULL DEFAULT '',
	token_fingerprint TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const deadLetterColumns = `id, message_id, body, reason, kind, receive_count, video_name, token_fingerprint, created_at`

type pgDeadLetterRepo struct {
	pool *pgxpool.Pool
}

// NewDeadLetterRepo create postgres DeadLetterRepo
func NewDeadLetterRepo(pool *pgxpool.Pool) DeadLetterRepo {
	return &pgDeadLetterRepo{pool: pool}
}

func (r *pgDeadLetterRepo) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createDeadLetterTable); err != nil {
		return errprocess.Wrap(errprocess.KindTransient, "repository.Migrate", err, "create dead letter table")
	}
	return nil
}

func (r *pgDeadLetterRepo) Put(ctx context.Context, dl *domain.DeadLetter) error {
	fillDeadLetter(dl)
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transcode_dead_letters (`+deadLetterColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		dl.ID, dl.MessageID, dl.Body, dl.Reason, dl.Kind, dl.ReceiveCount, dl.VideoName, dl.TokenFingerprint, dl.CreatedAt,
	)
	if err != nil {
		return errprocess.Wrap(errprocess.KindTransient, "repository.Put", err, fmt.Sprintf("dead letter[%s]", dl.MessageID))
	}
	return nil
}

func (r *pgDeadLetterRepo) List(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+deadLetterColumns+` FROM transcode_dead_letters ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errprocess.Wrap(errprocess.KindTransient, "repository.List", err, "query dead letters")
	}
	defer rows.Close()

	var out []domain.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, errprocess.Wrap(errprocess.KindTransient, "repository.List", err, "scan dead letter")
		}
		out = append(out, *dl)
	}
	if err := rows.Err(); err != nil {
		return nil, errprocess.Wrap(errprocess.KindTransient, "repository.List", err, "iterate dead letters")
	}
	return out, nil
}

func (r *pgDeadLetterRepo) Get(ctx context.Context, id string) (*domain.DeadLetter, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+deadLetterColumns+` FROM transcode_dead_letters WHERE id = $1`, id)
	dl, err := scanDeadLetter(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errprocess.Wrap(errprocess.KindNotFound, "repository.Get", err, fmt.Sprintf("dead letter[%s]", id))
	}
	if err != nil {
		return nil, errprocess.Wrap(errprocess.KindTransient, "repository.Get", err, fmt.Sprintf("dead letter[%s]", id))
	}
	return dl, nil
}

func (r *pgDeadLetterRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM transcode_dead_letters WHERE id = $1`, id)
	if err != nil {
		return errprocess.Wrap(errprocess.KindTransient, "repository.Delete", err, fmt.Sprintf("dead letter[%s]", id))
	}
	if tag.RowsAffected() == 0 {
		return errprocess.New(errprocess.KindNotFound, "repository.Delete", fmt.Sprintf("dead letter[%s]", id))
	}
	return nil
}

func scanDeadLetter(row pgx.Row) (*domain.DeadLetter, error) {
	var dl domain.DeadLetter
	err := row.Scan(&dl.ID, &dl.MessageID, &dl.Body, &dl.Reason, &dl.Kind, &dl.ReceiveCount, &dl.VideoName, &dl.TokenFingerprint, &dl.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &dl, nil
}
