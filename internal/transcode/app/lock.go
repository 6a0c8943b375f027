package app

import (
	"context"
	"time"

	errprocess "transcoding_service/pkg/err"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// JobLock keep two workers off the same job name
type JobLock interface {
	TryLock(ctx context.Context, jobName string) (token string, ok bool, err error)
	Refresh(ctx context.Context, jobName, token string) error
	Unlock(ctx context.Context, jobName, token string) error
}

// NoopLock always grants the lock, single worker deployments
type NoopLock struct{}

func (NoopLock) TryLock(context.Context, string) (string, bool, error) { return "", true, nil }
func (NoopLock) Refresh(context.Context, string, string) error        { return nil }
func (NoopLock) Unlock(context.Context, string, string) error         { return nil }

var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// RedisLock SET NX PX lock per job name
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLock create RedisLock
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, ttl: ttl}
}

func lockKey(jobName string) string {
	return "transcode:lock:" + jobName
}

func (l *RedisLock) TryLock(ctx context.Context, jobName string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(jobName), token, l.ttl).Result()
	if err != nil {
		return "", false, errprocess.Wrap(errprocess.KindTransient, "lock.TryLock", err, jobName)
	}
	return token, ok, nil
}

func (l *RedisLock) Refresh(ctx context.Context, jobName, token string) error {
	n, err := refreshScript.Run(ctx, l.client, []string{lockKey(jobName)}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return errprocess.Wrap(errprocess.KindTransient, "lock.Refresh", err, jobName)
	}
	if n == 0 {
		return errprocess.New(errprocess.KindTransient, "lock.Refresh", "lock lost: "+jobName)
	}
	return nil
}

func (l *RedisLock) Unlock(ctx context.Context, jobName, token string) error {
	if err := unlockScript.Run(ctx, l.client, []string{lockKey(jobName)}, token).Err(); err != nil {
		return errprocess.Wrap(errprocess.KindTransient, "lock.Unlock", err, jobName)
	}
	return nil
}
