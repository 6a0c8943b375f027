package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"transcoding_service/internal/transcode/domain"
	errprocess "transcoding_service/pkg/err"
	"transcoding_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func collect(events *[]domain.ProgressEvent) ProgressFunc {
	return func(ev domain.ProgressEvent) { *events = append(*events, ev) }
}

func TestFFmpegArgs(t *testing.T) {
	f := NewFFmpeg("", "", 0)
	args := f.Args("/w/clip-input.mov", "/w/clip-output.mp4")
	assert.Equal(t, "-y", args[0])
	assert.Equal(t, []string{"-i", "/w/clip-input.mov"}, args[1:3])
	assert.Equal(t, []string{"-progress", "pipe:1", "-nostats", "/w/clip-output.mp4"}, args[len(args)-4:])
	assert.Equal(t, "ffmpeg", f.Path)
	assert.Equal(t, "ffprobe", f.ProbePath)
}

func TestFFmpegProgress(t *testing.T) {
	logger.SetNewNop()
	probe := writeScript(t, "ffprobe", `echo "10.0"`)
	ffmpeg := writeScript(t, "ffmpeg", strings.Join([]string{
		`echo "frame=1"`,
		`echo "out_time_ms=2500000"`,
		`echo "out_time_ms=1000000"`,
		`echo "out_time_ms=20000000"`,
		`echo "progress=end"`,
		`exit 0`,
	}, "\n"))

	var events []domain.ProgressEvent
	err := NewFFmpeg(ffmpeg, probe, 0).Transcode(context.Background(), "in.mov", "out.mp4", collect(&events))
	require.NoError(t, err)

	require.Len(t, events, 5)
	assert.Equal(t, domain.ProgressStarted, events[0].Status)
	assert.Equal(t, 0.0, events[0].Progress)
	assert.Equal(t, 25.0, events[1].Progress)
	assert.Equal(t, 10.0, events[2].Progress, "non-monotonic values pass through")
	assert.Equal(t, 100.0, events[3].Progress, "clamped")
	assert.Equal(t, 100.0, events[4].Progress)
	for _, ev := range events[1:] {
		assert.Equal(t, domain.ProgressProcessing, ev.Status)
	}
}

func TestFFmpegProbeFailureStillCompletes(t *testing.T) {
	logger.SetNewNop()
	ffmpeg := writeScript(t, "ffmpeg", "echo \"out_time_ms=5000000\"\necho \"progress=end\"")

	var events []domain.ProgressEvent
	err := NewFFmpeg(ffmpeg, filepath.Join(t.TempDir(), "missing-ffprobe"), 0).
		Transcode(context.Background(), "in.mov", "out.mp4", collect(&events))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 100.0, events[1].Progress)
}

func TestFFmpegNonZeroExit(t *testing.T) {
	logger.SetNewNop()
	probe := writeScript(t, "ffprobe", `echo "10.0"`)
	ffmpeg := writeScript(t, "ffmpeg", "echo \"in.mov: Invalid data found when processing input\" >&2\nexit 1")

	err := NewFFmpeg(ffmpeg, probe, 0).Transcode(context.Background(), "in.mov", "out.mp4", nil)
	require.Error(t, err)
	assert.True(t, errprocess.IsTranscode(err))
	assert.Contains(t, err.Error(), "code 1")
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestFFmpegTimeoutKillsProcess(t *testing.T) {
	logger.SetNewNop()
	probe := writeScript(t, "ffprobe", `echo "10.0"`)
	ffmpeg := writeScript(t, "ffmpeg", "exec sleep 30")

	start := time.Now()
	err := NewFFmpeg(ffmpeg, probe, 200*time.Millisecond).Transcode(context.Background(), "in.mov", "out.mp4", nil)
	require.Error(t, err)
	assert.True(t, errprocess.IsTranscode(err))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestFFmpegMissingBinary(t *testing.T) {
	logger.SetNewNop()
	var events []domain.ProgressEvent
	err := NewFFmpeg(filepath.Join(t.TempDir(), "no-ffmpeg"), filepath.Join(t.TempDir(), "no-ffprobe"), 0).
		Transcode(context.Background(), "in.mov", "out.mp4", collect(&events))
	assert.True(t, errprocess.IsTranscode(err))
}
