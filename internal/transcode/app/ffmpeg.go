package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"transcoding_service/internal/transcode/domain"
	errprocess "transcoding_service/pkg/err"
	"transcoding_service/pkg/logger"

	"go.uber.org/zap"
)

// ProgressFunc receives started / processing frames, job name is filled by the caller
type ProgressFunc func(ev domain.ProgressEvent)

// Transcoder convert input into the delivery format at output
type Transcoder interface {
	Transcode(ctx context.Context, input, output string, onEvent ProgressFunc) error
}

const stderrTailSize = 4 << 10

// DefaultCodecArgs H.264 + AAC mp4
var DefaultCodecArgs = []string{
	"-c:v", "libx264",
	"-preset", "fast",
	"-c:a", "aac",
	"-movflags", "+faststart",
}

// FFmpeg Transcoder backed by the ffmpeg / ffprobe binaries
type FFmpeg struct {
	Path      string
	ProbePath string
	// Timeout 0 means no limit
	Timeout   time.Duration
	CodecArgs []string
}

// NewFFmpeg create FFmpeg
func NewFFmpeg(path, probePath string, timeout time.Duration) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	if probePath == "" {
		probePath = "ffprobe"
	}
	return &FFmpeg{Path: path, ProbePath: probePath, Timeout: timeout, CodecArgs: DefaultCodecArgs}
}

// Args ffmpeg command line
func (f *FFmpeg) Args(input, output string) []string {
	args := []string{"-y", "-i", input}
	args = append(args, f.CodecArgs...)
	return append(args, "-progress", "pipe:1", "-nostats", output)
}

// Transcode run ffmpeg. Success only when the process exits 0.
func (f *FFmpeg) Transcode(ctx context.Context, input, output string, onEvent ProgressFunc) error {
	if onEvent == nil {
		onEvent = func(domain.ProgressEvent) {}
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	duration, err := f.probeDuration(ctx, input)
	if err != nil {
		logger.Log.Warn("ffprobe duration failed, progress stays at 0", zap.String("input", input), zap.Error(err))
	}

	stderr := &tailBuffer{max: stderrTailSize}
	progress := &progressWriter{duration: duration, onEvent: onEvent}

	cmd := exec.CommandContext(ctx, f.Path, f.Args(input, output)...)
	cmd.Stdout = progress
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second

	logger.Log.Debug("ffmpeg start", zap.Strings("args", cmd.Args))
	// started 一定在任何 processing 之前
	onEvent(domain.StartedEvent(""))
	if err := cmd.Start(); err != nil {
		return errprocess.Wrap(errprocess.KindTranscode, "ffmpeg.Transcode", err, "ffmpeg start failed")
	}

	waitErr := cmd.Wait()
	progress.flush()
	if waitErr == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return errprocess.Wrap(errprocess.KindTranscode, "ffmpeg.Transcode", ctxErr, fmt.Sprintf("ffmpeg aborted: %s", stderr.String()))
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return errprocess.Wrap(errprocess.KindTranscode, "ffmpeg.Transcode", waitErr,
			fmt.Sprintf("ffmpeg exited with code %d: %s", exitErr.ExitCode(), stderr.String()))
	}
	return errprocess.Wrap(errprocess.KindTranscode, "ffmpeg.Transcode", waitErr, fmt.Sprintf("ffmpeg pipe failed: %s", stderr.String()))
}

// probeDuration media duration in seconds
func (f *FFmpeg) probeDuration(ctx context.Context, input string) (float64, error) {
	cmd := exec.CommandContext(ctx, f.ProbePath, "-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", input)
	out, err := cmd.Output()
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(out))
	if s == "" {
		return 0, errors.New("empty duration")
	}
	return strconv.ParseFloat(s, 64)
}

// progressWriter parse "-progress pipe:1" key=value lines
type progressWriter struct {
	duration float64
	onEvent  ProgressFunc
	buf      []byte
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.buf = append(p.buf, b...)
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		p.line(string(bytes.TrimSpace(p.buf[:i])))
		p.buf = p.buf[i+1:]
	}
	return len(b), nil
}

func (p *progressWriter) flush() {
	if len(p.buf) > 0 {
		p.line(string(bytes.TrimSpace(p.buf)))
		p.buf = nil
	}
}

func (p *progressWriter) line(line string) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return
	}
	switch key {
	case "out_time_ms":
		// ffmpeg 的 out_time_ms 其實是 microseconds
		if p.duration <= 0 {
			return
		}
		us, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return
		}
		p.onEvent(domain.ProcessingEvent("", us/1e6/p.duration*100))
	case "progress":
		if value == "end" {
			p.onEvent(domain.ProcessingEvent("", 100))
		}
	}
}

// tailBuffer keep the last max bytes written
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
