package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
port: "3002"
queue:
  driver: redis
  name: ${TEST_QUEUE_NAME}
  wait_time: 20s
  visibility_timeout: 15m
minio:
  host: localhost
  port: 9000
  bucket_name: videos
metadata:
  driver: postgres
  table: ${TEST_VIDEOS_TABLE}
signed_url:
  ttl: 30m
`

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "transcoding_service.yaml"), []byte(testYAML), 0644))
	t.Setenv("TEST_QUEUE_NAME", "transcode-jobs")
	t.Setenv("TEST_VIDEOS_TABLE", "videos")

	cfg, err := ReadConfig[Transcoding]("transcoding_service", dir)
	require.NoError(t, err)
	cfg.ApplyDefaults()

	assert.Equal(t, "transcode-jobs", cfg.Queue.Name)
	assert.Equal(t, "videos", cfg.Metadata.Table)
	assert.Equal(t, 20*time.Second, cfg.Queue.WaitTime)
	assert.Equal(t, 15*time.Minute, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 30*time.Minute, cfg.SignedURL.TTL)
	assert.Equal(t, 5*time.Second, cfg.Queue.RetryDelay)
	assert.Equal(t, 50, cfg.UploadLimitMB)
	assert.NoError(t, cfg.Validate())
}

func TestReadConfigMissingFile(t *testing.T) {
	_, err := ReadConfig[Transcoding]("nothing_here", t.TempDir())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Transcoding{}
	cfg.ApplyDefaults()
	cfg.Metadata.Driver = "postgres"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.name is required")
	assert.Contains(t, err.Error(), "minio.bucket_name is required")
	assert.Contains(t, err.Error(), "metadata.table is required")

	cfg.Queue.Name = "jobs"
	cfg.MinIO.BucketName = "videos"
	cfg.Metadata.Table = "videos"
	cfg.Queue.Driver = "sqs"
	assert.EqualError(t, cfg.Validate(), "queue.driver must be memory, redis or rabbitmq")
}

func TestArtifactBaseURL(t *testing.T) {
	cfg := Transcoding{MinIO: MinIOConfig{Host: "minio", Port: 9000, BucketName: "videos"}}
	assert.Equal(t, "http://minio:9000/videos", cfg.ArtifactBaseURL())

	cfg.MinIO.PublicHost = "s3.amazonaws.com"
	assert.Equal(t, "https://videos.s3.amazonaws.com", cfg.ArtifactBaseURL())

	cfg.PublicBaseURL = "https://cdn.example.com/"
	assert.Equal(t, "https://cdn.example.com", cfg.ArtifactBaseURL())
}

func TestRetry(t *testing.T) {
	n, d := DatabaseConfig{}.Retry()
	assert.Equal(t, 1, n)
	assert.Equal(t, time.Duration(0), d)

	n, d = MinIOConfig{RetryCount: 5, RetryInterval: 3}.Retry()
	assert.Equal(t, 5, n)
	assert.Equal(t, 3*time.Second, d)

	assert.Equal(t, "amqp://u:p@rabbit:5672/", RabbitMQConfig{User: "u", Password: "p", IP: "rabbit", Port: "5672"}.URL())
}
