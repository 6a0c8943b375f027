package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"transcoding_service/internal/transcode/domain"
	"transcoding_service/internal/transcode/queue"
	"transcoding_service/internal/transcode/repository"
	"transcoding_service/pkg/encrypt"
	errprocess "transcoding_service/pkg/err"
	"transcoding_service/pkg/logger"

	"go.uber.org/zap"
)

// JobProcessor run one decoded job, *Processor implements it
type JobProcessor interface {
	Process(ctx context.Context, job domain.Job) (Result, error)
}

// WorkerConfig worker loop setting
type WorkerConfig struct {
	RetryDelay        time.Duration
	VisibilityTimeout time.Duration
	// MaxReceives deliveries allowed before the message is dead-lettered, 0 disables
	MaxReceives int
}

// Worker single job in flight queue consumer
type Worker struct {
	queue       queue.Queue
	processor   JobProcessor
	deadLetters repository.DeadLetterRepo
	progress    ProgressPublisher
	lock        JobLock
	notifier    OutcomeNotifier
	cfg         WorkerConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker create Worker, nil lock / notifier fall back to no-ops
func NewWorker(
	q queue.Queue,
	processor JobProcessor,
	deadLetters repository.DeadLetterRepo,
	progress ProgressPublisher,
	lock JobLock,
	notifier OutcomeNotifier,
	cfg WorkerConfig,
) *Worker {
	if lock == nil {
		lock = NoopLock{}
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 15 * time.Minute
	}
	return &Worker{
		queue:       q,
		processor:   processor,
		deadLetters: deadLetters,
		progress:    progress,
		lock:        lock,
		notifier:    notifier,
		cfg:         cfg,
	}
}

// Start run the loop in background
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		w.Run(runCtx)
	}(w.done)
	logger.Log.Info("transcode worker started")
}

// Stop cancel the loop and wait for the job in flight, or until ctx is done
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		logger.Log.Info("transcode worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run receive and process until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	for ctx.Err() == nil {
		msg, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Log.Error("queue receive failed", zap.Error(err))
			w.sleep(ctx, w.cfg.RetryDelay)
			continue
		}
		if msg == nil {
			continue
		}
		w.Handle(ctx, msg)
	}
}

// Handle settle one delivery
func (w *Worker) Handle(ctx context.Context, msg *queue.Message) {
	log := logger.Log.With(zap.String("messageId", msg.ID), zap.Int("receiveCount", msg.ReceiveCount))

	job, err := domain.DecodeJob(msg.Body)
	if err != nil {
		// 格式錯誤不會因重試而改變
		name := bestEffortName(msg.Body)
		log.Warn("malformed job, dead-lettering", zap.String("job", name), zap.Error(err))
		if w.park(ctx, msg, name, "", err) && name != "" {
			w.progress.Publish(name, domain.ErrorEvent(name, err.Error()))
		}
		return
	}
	log = log.With(zap.String("job", job.VideoName))

	if w.cfg.MaxReceives > 0 && msg.ReceiveCount > w.cfg.MaxReceives {
		cause := errprocess.New(errprocess.KindTranscode, "worker.Handle",
			fmt.Sprintf("job exceeded %d attempts", w.cfg.MaxReceives))
		log.Warn("max receives exceeded, dead-lettering")
		if w.park(ctx, msg, job.VideoName, job.Token, cause) {
			w.progress.Publish(job.VideoName, domain.ErrorEvent(job.VideoName, cause.Error()))
		}
		return
	}

	token, ok, err := w.lock.TryLock(ctx, job.VideoName)
	if err != nil {
		log.Error("job lock failed, leaving message for redelivery", zap.Error(err))
		return
	}
	if !ok {
		log.Info("job is being processed elsewhere, skipping")
		return
	}
	defer func() {
		if err := w.lock.Unlock(context.Background(), job.VideoName, token); err != nil {
			log.Warn("job unlock failed", zap.Error(err))
		}
	}()

	jobCtx, cancel := context.WithCancel(ctx)
	stopLease := w.keepAlive(jobCtx, msg.ReceiptHandle, job.VideoName, token)
	res, err := w.safeProcess(jobCtx, job)
	cancel()
	stopLease()

	if err != nil {
		// message 保留, 等可見時間過後重新派送
		w.progress.Publish(job.VideoName, domain.ErrorEvent(job.VideoName, err.Error()))
		w.notify(job, msg, domain.JobOutcome{Status: domain.OutcomeFailed, Error: err.Error()})
		return
	}

	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		if errors.Is(err, queue.ErrReceiptExpired) {
			log.Warn("receipt expired before delete, message may be processed again", zap.Error(err))
		} else {
			log.Error("queue delete failed", zap.Error(err))
			w.sleep(ctx, w.cfg.RetryDelay)
		}
	}

	log.Info("job completed", zap.Duration("duration", res.Duration))
	w.progress.Publish(job.VideoName, domain.CompletedEvent(job.VideoName, res.DownloadURL))
	w.notify(job, msg, domain.JobOutcome{
		Status:      domain.OutcomeCompleted,
		DownloadURL: res.DownloadURL,
		Duration:    domain.FormatTranscodeDuration(res.Duration),
	})
}

// safeProcess a panic inside one job becomes a TranscodeError
func (w *Worker) safeProcess(ctx context.Context, job domain.Job) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("job panicked", zap.String("job", job.VideoName), zap.Any("panic", r))
			err = errprocess.New(errprocess.KindTranscode, "worker.process", fmt.Sprintf("panic: %v", r))
		}
	}()
	return w.processor.Process(ctx, job)
}

// keepAlive extend visibility and the job lock every VisibilityTimeout/3
func (w *Worker) keepAlive(ctx context.Context, receipt, jobName, token string) (stop func()) {
	interval := w.cfg.VisibilityTimeout / 3
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.queue.ExtendVisibility(ctx, receipt, w.cfg.VisibilityTimeout); err != nil && ctx.Err() == nil {
					logger.Log.Warn("extend visibility failed", zap.String("job", jobName), zap.Error(err))
				}
				if err := w.lock.Refresh(ctx, jobName, token); err != nil && ctx.Err() == nil {
					logger.Log.Warn("job lock refresh failed", zap.String("job", jobName), zap.Error(err))
				}
			}
		}
	}()
	return func() { <-done }
}

// park store msg as a dead letter then delete it. False when the dead letter could
// not be stored, the message then stays in the queue.
func (w *Worker) park(ctx context.Context, msg *queue.Message, videoName, token string, cause error) bool {
	dl := &domain.DeadLetter{
		MessageID:        msg.ID,
		Body:             msg.Body,
		Reason:           cause.Error(),
		Kind:             errprocess.KindOf(cause).String(),
		ReceiveCount:     msg.ReceiveCount,
		VideoName:        videoName,
		TokenFingerprint: encrypt.Fingerprint(token),
	}
	if err := w.deadLetters.Put(ctx, dl); err != nil {
		logger.Log.Error("dead letter store failed, message kept", zap.String("messageId", msg.ID), zap.Error(err))
		return false
	}
	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		logger.Log.Error("queue delete of dead letter failed", zap.String("messageId", msg.ID), zap.Error(err))
	}

	w.notify(domain.Job{VideoName: videoName}, msg, domain.JobOutcome{Status: domain.OutcomeDeadLettered, Error: cause.Error()})
	return true
}

func (w *Worker) notify(job domain.Job, msg *queue.Message, outcome domain.JobOutcome) {
	outcome.VideoName = job.VideoName
	outcome.Owner = job.Owner
	outcome.Attempt = msg.ReceiveCount
	outcome.At = time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.notifier.Notify(ctx, outcome); err != nil {
		logger.Log.Warn("outcome notify failed", zap.String("job", job.VideoName), zap.Error(err))
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// bestEffortName video name from a body that failed validation, "" when unusable
func bestEffortName(body []byte) string {
	var partial struct {
		VideoName string `json:"videoName"`
	}
	if json.Unmarshal(body, &partial) != nil {
		return ""
	}
	if domain.ValidateVideoName(partial.VideoName) != nil {
		return ""
	}
	return partial.VideoName
}
