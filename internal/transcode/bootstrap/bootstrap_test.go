package bootstrap

import (
	"context"
	"testing"

	"transcoding_service/internal/transcode/app"
	"transcoding_service/internal/transcode/queue"
	"transcoding_service/internal/transcode/repository"
	"transcoding_service/pkg/config"
	"transcoding_service/pkg/logger"
	t_token "transcoding_service/pkg/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() config.Transcoding {
	return config.Transcoding{
		Queue: config.QueueConfig{Name: "transcode"},
		MinIO: config.MinIOConfig{BucketName: "videos"},
	}
}

func TestNewValidates(t *testing.T) {
	_, err := New(config.Transcoding{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.name is required")
	assert.Contains(t, err.Error(), "minio.bucket_name is required")

	d, err := New(memoryConfig())
	require.NoError(t, err)
	assert.Equal(t, "memory", d.Cfg.Queue.Driver)
	assert.Equal(t, 5, d.Cfg.Queue.MaxReceives)
}

func TestMemoryDrivers(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	d, err := New(memoryConfig())
	require.NoError(t, err)
	defer d.Close()

	q, err := d.Queue(ctx)
	require.NoError(t, err)
	assert.IsType(t, &queue.MemoryQueue{}, q)
	again, err := d.Queue(ctx)
	require.NoError(t, err)
	assert.Same(t, q, again)

	records, err := d.MetadataRepo(ctx)
	require.NoError(t, err)
	assert.IsType(t, &repository.MemoryMetadataRepo{}, records)

	dead, err := d.DeadLetterRepo(ctx)
	require.NoError(t, err)
	assert.IsType(t, &repository.MemoryDeadLetterRepo{}, dead)

	notifier, err := d.Notifier()
	require.NoError(t, err)
	assert.IsType(t, app.NoopNotifier{}, notifier)

	lock, err := d.JobLock(ctx)
	require.NoError(t, err)
	assert.IsType(t, app.NoopLock{}, lock)

	relay, err := d.Relay(ctx)
	require.NoError(t, err)
	assert.Nil(t, relay)
}

func TestRelayNeedsRedis(t *testing.T) {
	cfg := memoryConfig()
	cfg.Worker.Relay = true
	d, err := New(cfg)
	require.NoError(t, err)

	_, err = d.Relay(context.Background())
	assert.Error(t, err)
}

func TestNewVerifier(t *testing.T) {
	v, err := NewVerifier(config.AuthConfig{Mode: "hmac", HMACSecret: "s"})
	require.NoError(t, err)
	assert.IsType(t, &t_token.HMACVerifier{}, v)

	_, err = NewVerifier(config.AuthConfig{Mode: "hmac"})
	assert.Error(t, err)

	v, err = NewVerifier(config.AuthConfig{Mode: "jwks", JWKSURL: "https://idp.local/.well-known/jwks.json"})
	require.NoError(t, err)
	assert.IsType(t, &t_token.JWKSVerifier{}, v)

	v, err = NewVerifier(config.AuthConfig{Mode: "remote", VerifyURL: "https://auth.local/api/verify"})
	require.NoError(t, err)
	assert.IsType(t, &t_token.RemoteVerifier{}, v)

	v, err = NewVerifier(config.AuthConfig{
		Mode:      "chain",
		JWKSURL:   "https://idp.local/.well-known/jwks.json",
		VerifyURL: "https://auth.local/api/verify",
	})
	require.NoError(t, err)
	chain, ok := v.(t_token.ChainVerifier)
	require.True(t, ok)
	assert.Len(t, chain, 2)

	_, err = NewVerifier(config.AuthConfig{Mode: "chain", JWKSURL: "https://idp.local/jwks"})
	assert.Error(t, err)

	_, err = NewVerifier(config.AuthConfig{Mode: "magic"})
	assert.Error(t, err)
}
