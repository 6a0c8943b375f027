package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"transcoding_service/internal/transcode/domain"
	errprocess "transcoding_service/pkg/err"

	"github.com/cucumber/godog"
)

func TestPipelineFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) { initializePipelineScenario(t, sc) },
		Options: &godog.Options{
			Paths:  []string{"./featureFiles"}, // 指向 feature 檔相對路徑
			Format: "pretty",
			Output: os.Stdout,
		},
	}

	if suite.Run() != 0 {
		t.Fail()
	}
}

type pipelineScenario struct {
	t      *testing.T
	codec  *stubTranscoder
	p      *pipeline
	sub    *Subscription
	events []domain.ProgressEvent
}

func initializePipelineScenario(t *testing.T, sc *godog.ScenarioContext) {
	s := &pipelineScenario{t: t}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		s.codec = &stubTranscoder{delay: 20 * time.Millisecond}
		s.p = newPipeline(t, s.codec, 15*time.Minute)
		s.sub, s.events = nil, nil
		return ctx, nil
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if s.sub != nil {
			s.sub.Close()
		}
		return ctx, nil
	})

	sc.Step(`^"([^"]*)" 已上傳並排入佇列$`, s.uploaded)
	sc.Step(`^編碼器會失敗$`, s.codecFails)
	sc.Step(`^觀看者訂閱 "([^"]*)"$`, s.subscribe)
	sc.Step(`^worker 處理下一個工作$`, s.processNext)
	sc.Step(`^觀看者第一個收到 "([^"]*)"$`, s.firstStatus)
	sc.Step(`^觀看者最後收到 "([^"]*)" 並帶有下載網址$`, s.completedWithURL)
	sc.Step(`^觀看者最後收到 "([^"]*)"$`, s.lastStatus)
	sc.Step(`^"([^"]*)" 有一筆 metadata 紀錄$`, s.hasRecord)
	sc.Step(`^"([^"]*)" 沒有輸出檔$`, s.noOutput)
	sc.Step(`^佇列是空的$`, s.queueEmpty)
	sc.Step(`^訊息仍在處理中$`, s.stillInFlight)
}

func (s *pipelineScenario) uploaded(filename string) error {
	uc := NewTranscodeUseCase(s.p.store, s.p.queue, UseCaseConfig{AllowedExts: []string{".mov", ".mp4"}})
	_, err := uc.UploadVideo(context.Background(), UploadInput{
		Filename: filename,
		Body:     strings.NewReader("source"),
		Size:     6,
		Token:    "Bearer xyz",
	})
	return err
}

func (s *pipelineScenario) codecFails() error {
	s.codec.fail = errprocess.New(errprocess.KindTranscode, "ffmpeg.Transcode", "ffmpeg exited with code 1")
	return nil
}

func (s *pipelineScenario) subscribe(jobName string) error {
	s.sub = s.p.hub.Subscribe(jobName)
	return nil
}

func (s *pipelineScenario) processNext() error {
	msg, err := s.p.queue.Receive(context.Background())
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("queue is empty")
	}
	s.p.worker.Handle(context.Background(), msg)
	if s.sub != nil {
		s.events = drain(s.t, s.sub)
	}
	return nil
}

func (s *pipelineScenario) firstStatus(status string) error {
	if len(s.events) == 0 {
		return fmt.Errorf("watcher received nothing")
	}
	if got := string(s.events[0].Status); got != status {
		return fmt.Errorf("expected first status %s, got %s", status, got)
	}
	return nil
}

func (s *pipelineScenario) lastStatus(status string) error {
	if len(s.events) == 0 {
		return fmt.Errorf("watcher received nothing")
	}
	if got := string(s.events[len(s.events)-1].Status); got != status {
		return fmt.Errorf("expected last status %s, got %s", status, got)
	}
	return nil
}

func (s *pipelineScenario) completedWithURL(status string) error {
	if err := s.lastStatus(status); err != nil {
		return err
	}
	if s.events[len(s.events)-1].DownloadURL == "" {
		return fmt.Errorf("completed frame has no download url")
	}
	return nil
}

func (s *pipelineScenario) hasRecord(jobName string) error {
	_, err := s.p.records.Find(context.Background(), "anonymous", jobName)
	return err
}

func (s *pipelineScenario) noOutput(jobName string) error {
	if n := s.p.store.uploadCount(domain.OutputKey(jobName)); n != 0 {
		return fmt.Errorf("expected no output, got %d uploads", n)
	}
	return nil
}

func (s *pipelineScenario) queueEmpty() error {
	if ready, inflight := s.p.queue.Stats(); ready+inflight != 0 {
		return fmt.Errorf("queue has %d ready and %d in flight", ready, inflight)
	}
	return nil
}

func (s *pipelineScenario) stillInFlight() error {
	if _, inflight := s.p.queue.Stats(); inflight != 1 {
		return fmt.Errorf("expected 1 message in flight, got %d", inflight)
	}
	return nil
}
