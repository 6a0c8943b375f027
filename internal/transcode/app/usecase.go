package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"transcoding_service/internal/transcode/domain"
	"transcoding_service/internal/transcode/queue"
	"transcoding_service/pkg"
	"transcoding_service/pkg/database"
	errprocess "transcoding_service/pkg/err"
	"transcoding_service/pkg/logger"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// TranscodeUseCase producer side of the pipeline: upload, enqueue, download url
type TranscodeUseCase interface {
	UploadVideo(ctx context.Context, in UploadInput) (string, error)
	GetDownloadURL(ctx context.Context, videoName string) (string, error)
}

// UploadInput one uploaded source file
type UploadInput struct {
	Filename    string
	Body        io.Reader
	Size        int64
	ContentType string
	Token       string
	Owner       string
}

// UseCaseConfig upload / signing setting
type UseCaseConfig struct {
	AllowedExts  []string
	SignedURLTTL time.Duration
}

type transcodeUseCase struct {
	store database.MinIOClientRepo
	queue queue.Queue
	cfg   UseCaseConfig
	now   func() time.Time
}

// NewTranscodeUseCase create TranscodeUseCase
func NewTranscodeUseCase(store database.MinIOClientRepo, q queue.Queue, cfg UseCaseConfig) TranscodeUseCase {
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = time.Hour
	}
	return &transcodeUseCase{store: store, queue: q, cfg: cfg, now: time.Now}
}

// UploadVideo store the source under uploads/ and enqueue the job, returns the video name
func (u *transcodeUseCase) UploadVideo(ctx context.Context, in UploadInput) (string, error) {
	name, ext, err := domain.VideoNameFromFile(in.Filename)
	if err != nil {
		return "", err
	}
	if len(u.cfg.AllowedExts) > 0 && !pkg.ContainsFold(u.cfg.AllowedExts, ext) {
		return "", errprocess.New(errprocess.KindValidation, "usecase.UploadVideo", fmt.Sprintf("file type[%s] not allowed", ext))
	}

	key := domain.InputKey(name, ext)
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := u.store.Upload(ctx, key, in.Body, in.Size, contentType); err != nil {
		return "", err
	}
	logger.Log.Info("source uploaded",
		zap.String("videoName", name),
		zap.String("s3Key", key),
		zap.String("size", humanize.Bytes(uint64(max(in.Size, 0)))),
	)

	body, err := domain.Job{
		SourceKey:  key,
		VideoName:  name,
		Token:      in.Token,
		Owner:      in.Owner,
		EnqueuedAt: u.now().UTC(),
	}.Encode()
	if err != nil {
		return "", errprocess.Wrap(errprocess.KindUnknown, "usecase.UploadVideo", err, "encode job")
	}
	if err := u.queue.Enqueue(ctx, body); err != nil {
		return "", err
	}
	return name, nil
}

// GetDownloadURL signed url of the transcoded output, NotFound when it does not exist yet
func (u *transcodeUseCase) GetDownloadURL(ctx context.Context, videoName string) (string, error) {
	if err := domain.ValidateVideoName(videoName); err != nil {
		return "", err
	}
	return u.store.SignedURL(ctx, domain.OutputKey(videoName), u.cfg.SignedURLTTL, domain.OutputFileName(videoName))
}
