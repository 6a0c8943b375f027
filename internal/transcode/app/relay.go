package app

import (
	"context"
	"encoding/json"
	"strings"

	"transcoding_service/internal/transcode/domain"
	"transcoding_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ProgressChannelPrefix redis channel per job, transcode:progress:<jobName>
const ProgressChannelPrefix = "transcode:progress:"

// RedisRelay publish progress frames to redis so another process can fan them out
type RedisRelay struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisRelay create RedisRelay
func NewRedisRelay(client *redis.Client) *RedisRelay {
	return &RedisRelay{client: client, ctx: context.Background()}
}

// Publish implement ProgressPublisher, frames are advisory so failures are only logged
func (r *RedisRelay) Publish(jobName string, ev domain.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Error("progress encode failed", zap.String("job", jobName), zap.Error(err))
		return
	}
	if err := r.client.Publish(r.ctx, ProgressChannelPrefix+jobName, data).Err(); err != nil {
		logger.Log.Warn("progress relay publish failed", zap.String("job", jobName), zap.Error(err))
	}
}

// FrameSink receive serialized frames, *Hub implements it
type FrameSink interface {
	PublishFrame(jobName string, frame []byte)
}

// Subscribe PSUBSCRIBE every job channel and feed sink until ctx is done
func (r *RedisRelay) Subscribe(ctx context.Context, sink FrameSink) error {
	sub := r.client.PSubscribe(ctx, ProgressChannelPrefix+"*")
	// 等待訂閱確認
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return err
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}
				RelayFrame(sink, m.Channel, m.Payload)
			case <-ctx.Done():
				logger.Log.Info("progress relay subscription closed")
				return
			}
		}
	}()
	return nil
}

// RelayFrame forward one pub/sub payload into sink
func RelayFrame(sink FrameSink, channel, payload string) {
	jobName := strings.TrimPrefix(channel, ProgressChannelPrefix)
	if jobName == "" || jobName == channel {
		return
	}
	sink.PublishFrame(jobName, []byte(payload))
}

// MultiPublisher publish to every publisher in order
type MultiPublisher []ProgressPublisher

func (m MultiPublisher) Publish(jobName string, ev domain.ProgressEvent) {
	for _, p := range m {
		p.Publish(jobName, ev)
	}
}
