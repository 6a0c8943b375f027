package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"transcoding_service/internal/transcode/domain"
	errprocess "transcoding_service/pkg/err"

	"github.com/stretchr/testify/mock"
)

// MockMinIOClient 是 MinIOClientRepo 的 Mock
type MockMinIOClient struct {
	mock.Mock
}

func (m *MockMinIOClient) UploadFile(ctx context.Context, objectName, filePath, contentType string) error {
	args := m.Called(ctx, objectName, filePath, contentType)
	return args.Error(0)
}

func (m *MockMinIOClient) Upload(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	args := m.Called(ctx, objectName, r, size, contentType)
	return args.Error(0)
}

func (m *MockMinIOClient) DownloadFile(ctx context.Context, objectName, destPath string) error {
	args := m.Called(ctx, objectName, destPath)
	return args.Error(0)
}

func (m *MockMinIOClient) Exists(ctx context.Context, objectName string) (bool, error) {
	args := m.Called(ctx, objectName)
	return args.Bool(0), args.Error(1)
}

func (m *MockMinIOClient) SignedURL(ctx context.Context, objectName string, expiry time.Duration, downloadName string) (string, error) {
	args := m.Called(ctx, objectName, expiry, downloadName)
	return args.String(0), args.Error(1)
}

// MockProcessor 是 JobProcessor 的 Mock
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Process(ctx context.Context, job domain.Job) (Result, error) {
	args := m.Called(ctx, job)
	return args.Get(0).(Result), args.Error(1)
}

// MockNotifier 是 OutcomeNotifier 的 Mock
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, outcome domain.JobOutcome) error {
	args := m.Called(ctx, outcome)
	return args.Error(0)
}

// MockJobLock 是 JobLock 的 Mock
type MockJobLock struct {
	mock.Mock
}

func (m *MockJobLock) TryLock(ctx context.Context, jobName string) (string, bool, error) {
	args := m.Called(ctx, jobName)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockJobLock) Refresh(ctx context.Context, jobName, token string) error {
	return m.Called(ctx, jobName, token).Error(0)
}

func (m *MockJobLock) Unlock(ctx context.Context, jobName, token string) error {
	return m.Called(ctx, jobName, token).Error(0)
}

// fakeStore in-memory object store
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte), uploads: make(map[string]int)}
}

func (s *fakeStore) put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.uploads[key]++
}

func (s *fakeStore) UploadFile(_ context.Context, objectName, filePath, _ string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	s.put(objectName, data)
	return nil
}

func (s *fakeStore) Upload(_ context.Context, objectName string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.put(objectName, data)
	return nil
}

func (s *fakeStore) DownloadFile(_ context.Context, objectName, destPath string) error {
	s.mu.Lock()
	data, ok := s.objects[objectName]
	s.mu.Unlock()
	if !ok {
		return errprocess.New(errprocess.KindNotFound, "fakeStore.DownloadFile", objectName)
	}
	return os.WriteFile(destPath, data, 0644)
}

func (s *fakeStore) Exists(_ context.Context, objectName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[objectName]
	return ok, nil
}

func (s *fakeStore) SignedURL(ctx context.Context, objectName string, expiry time.Duration, downloadName string) (string, error) {
	ok, _ := s.Exists(ctx, objectName)
	if !ok {
		return "", errprocess.New(errprocess.KindNotFound, "fakeStore.SignedURL", objectName)
	}
	return fmt.Sprintf("https://minio.local/videos/%s?X-Amz-Expires=%d&filename=%s", objectName, int(expiry.Seconds()), downloadName), nil
}

func (s *fakeStore) uploadCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads[key]
}

// stubTranscoder deterministic codec stand-in
type stubTranscoder struct {
	delay time.Duration
	fail  error
	panic bool
}

func (s *stubTranscoder) Transcode(ctx context.Context, input, output string, onEvent ProgressFunc) error {
	onEvent(domain.StartedEvent(""))
	if s.panic {
		panic("codec exploded")
	}
	if s.fail != nil {
		return s.fail
	}
	for _, p := range []float64{25, 50, 40, 100} {
		select {
		case <-ctx.Done():
			return errprocess.Wrap(errprocess.KindTranscode, "stub", ctx.Err(), "aborted")
		case <-time.After(s.delay / 4):
		}
		onEvent(domain.ProcessingEvent("", p))
	}
	return os.WriteFile(output, []byte("mp4"), 0644)
}

// recordingPublisher keep every published frame in order
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (r *recordingPublisher) Publish(jobName string, ev domain.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.JobName = jobName
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) statuses() []domain.ProgressStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ProgressStatus, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Status)
	}
	return out
}

func (r *recordingPublisher) last() domain.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return domain.ProgressEvent{}
	}
	return r.events[len(r.events)-1]
}
