package app

import (
	"context"
	"fmt"
	"time"

	"transcoding_service/internal/transcode/domain"
	"transcoding_service/internal/transcode/repository"
	"transcoding_service/internal/transcode/workspace"
	"transcoding_service/pkg/database"
	errprocess "transcoding_service/pkg/err"
	"transcoding_service/pkg/logger"

	"go.uber.org/zap"
)

// ProcessorConfig settings the state machine needs
type ProcessorConfig struct {
	SignedURLTTL    time.Duration
	ArtifactBaseURL string
	DefaultOwner    string
}

// Processor run one job through
// Queued → Downloading → Transcoding → Uploading → RecordingMetadata → SigningUrl → Completed | Failed
type Processor struct {
	store      database.MinIOClientRepo
	transcoder Transcoder
	workspaces *workspace.Manager
	records    repository.MetadataRepo
	progress   ProgressPublisher
	cfg        ProcessorConfig
	now        func() time.Time
}

// NewProcessor create Processor
func NewProcessor(
	store database.MinIOClientRepo,
	transcoder Transcoder,
	workspaces *workspace.Manager,
	records repository.MetadataRepo,
	progress ProgressPublisher,
	cfg ProcessorConfig,
) *Processor {
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = time.Hour
	}
	return &Processor{
		store:      store,
		transcoder: transcoder,
		workspaces: workspaces,
		records:    records,
		progress:   progress,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Result of a completed job
type Result struct {
	DownloadURL string
	Duration    time.Duration
	State       domain.JobState
}

// Process run job to a terminal state. The workspace is released on every path.
// On failure Result.State is the step that failed.
func (p *Processor) Process(ctx context.Context, job domain.Job) (res Result, err error) {
	start := p.now()
	log := logger.Log.With(zap.String("job", job.VideoName), zap.String("s3Key", job.SourceKey))
	state := domain.StateQueued
	enter := func(s domain.JobState) {
		state = s
		log.Info("job state", zap.String("state", string(s)))
	}
	defer func() {
		res.State = state
		if err != nil {
			log.Error("job failed", zap.String("state", string(state)), zap.Error(err))
		}
	}()

	enter(domain.StateDownloading)
	ws, err := p.workspaces.Acquire(job.VideoName)
	if err != nil {
		return res, err
	}
	defer ws.Release()

	input := ws.InputPath(job.SourceExt())
	output := ws.OutputPath()
	if err = p.store.DownloadFile(ctx, job.SourceKey, input); err != nil {
		return res, stepError(state, err, fmt.Sprintf("download[%s]", job.SourceKey))
	}

	enter(domain.StateTranscoding)
	err = p.transcoder.Transcode(ctx, input, output, func(ev domain.ProgressEvent) {
		ev.JobName = job.VideoName
		p.progress.Publish(job.VideoName, ev)
	})
	if err != nil {
		return res, stepError(state, err, "transcode")
	}

	enter(domain.StateUploading)
	key := domain.OutputKey(job.VideoName)
	if err = p.store.UploadFile(ctx, key, output, domain.OutputContentType); err != nil {
		return res, stepError(state, err, fmt.Sprintf("upload[%s]", key))
	}

	enter(domain.StateRecordingMetadata)
	res.Duration = p.now().Sub(start)
	owner := job.Owner
	if owner == "" {
		owner = p.cfg.DefaultOwner
	}
	rec := &domain.MetadataRecord{
		Owner:             owner,
		VideoName:         job.VideoName,
		ArtifactURL:       domain.ArtifactURL(p.cfg.ArtifactBaseURL, key),
		TranscodeDuration: domain.FormatTranscodeDuration(res.Duration),
	}
	if err = p.records.Record(ctx, rec); err != nil {
		return res, stepError(state, err, "record metadata")
	}

	enter(domain.StateSigningURL)
	res.DownloadURL, err = p.store.SignedURL(ctx, key, p.cfg.SignedURLTTL, domain.OutputFileName(job.VideoName))
	if err != nil {
		return res, stepError(state, err, "sign url")
	}

	enter(domain.StateCompleted)
	return res, nil
}

// stepError keep the kind of err, untyped errors count as transient
func stepError(state domain.JobState, err error, msg string) error {
	kind := errprocess.KindOf(err)
	if kind == errprocess.KindUnknown {
		kind = errprocess.KindTransient
	}
	return errprocess.Wrap(kind, "processor."+string(state), err, msg)
}
