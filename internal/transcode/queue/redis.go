package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	errprocess "transcoding_service/pkg/err"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// 訊息 hash 的 key 不在 KEYS 內, 只支援單機或 sentinel, 不支援 cluster
var receiveScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('HDEL', ARGV[4] .. id, 'receipt')
  redis.call('RPUSH', KEYS[1], id)
end
local id = redis.call('RPOP', KEYS[1])
if not id then return false end
local key = ARGV[4] .. id
if redis.call('EXISTS', key) == 0 then return false end
local receipt = id .. ':' .. ARGV[3]
redis.call('ZADD', KEYS[2], ARGV[2], id)
redis.call('HSET', key, 'receipt', receipt)
local n = redis.call('HINCRBY', key, 'receives', 1)
return {id, redis.call('HGET', key, 'body'), receipt, n, redis.call('HGET', key, 'enqueued_at')}
`)

var deleteScript = redis.NewScript(`
if redis.call('EXISTS', ARGV[3]) == 0 then return 0 end
if redis.call('HGET', ARGV[3], 'receipt') ~= ARGV[2] then return -1 end
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if (not score) or tonumber(score) <= tonumber(ARGV[4]) then return -1 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('DEL', ARGV[3])
return 1
`)

var extendScript = redis.NewScript(`
if redis.call('HGET', ARGV[3], 'receipt') ~= ARGV[2] then return -1 end
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if (not score) or tonumber(score) <= tonumber(ARGV[5]) then return -1 end
redis.call('ZADD', KEYS[1], 'XX', ARGV[4], ARGV[1])
return 1
`)

// RedisQueue visibility timeout queue on redis:
// <prefix>:ready list, <prefix>:inflight zset (score = visible again at, unix ms),
// <prefix>:msg:<id> hash {body, enqueued_at, receives, receipt}
type RedisQueue struct {
	client *redis.Client
	opts   Options
	prefix string
	now    func() time.Time
}

// NewRedisQueue create RedisQueue
func NewRedisQueue(client *redis.Client, name string, opts Options) *RedisQueue {
	return &RedisQueue{
		client: client,
		opts:   opts.withDefaults(),
		prefix: "transcode:queue:" + name,
		now:    time.Now,
	}
}

func (q *RedisQueue) readyKey() string    { return q.prefix + ":ready" }
func (q *RedisQueue) inflightKey() string { return q.prefix + ":inflight" }
func (q *RedisQueue) msgPrefix() string   { return q.prefix + ":msg:" }

// Enqueue implement Queue
func (q *RedisQueue) Enqueue(ctx context.Context, body []byte) error {
	id := uuid.NewString()
	key := q.msgPrefix() + id
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "body", body, "enqueued_at", q.now().UnixMilli(), "receives", 0)
		p.LPush(ctx, q.readyKey(), id)
		return nil
	})
	if err != nil {
		return errprocess.Wrap(errprocess.KindTransient, "queue.Enqueue", err, "redis enqueue")
	}
	return nil
}

// Receive implement Queue, long poll by polling the receive script
func (q *RedisQueue) Receive(ctx context.Context) (*Message, error) {
	deadline := time.Now().Add(q.opts.WaitTime)
	for {
		msg, err := q.tryReceive(ctx)
		if msg != nil || err != nil {
			return msg, err
		}
		if !time.Now().Add(q.opts.PollInterval).Before(deadline) {
			return nil, nil
		}

		t := time.NewTimer(q.opts.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (q *RedisQueue) tryReceive(ctx context.Context) (*Message, error) {
	now := q.now()
	res, err := receiveScript.Run(ctx, q.client,
		[]string{q.readyKey(), q.inflightKey()},
		now.UnixMilli(),
		now.Add(q.opts.VisibilityTimeout).UnixMilli(),
		uuid.NewString(),
		q.msgPrefix(),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errprocess.Wrap(errprocess.KindTransient, "queue.Receive", err, "redis receive")
	}
	return parseReceive(res)
}

func parseReceive(res interface{}) (*Message, error) {
	fields, ok := res.([]interface{})
	if !ok || len(fields) != 5 {
		return nil, errprocess.New(errprocess.KindTransient, "queue.Receive", fmt.Sprintf("unexpected script reply %T", res))
	}
	m := &Message{}
	m.ID, _ = fields[0].(string)
	body, _ := fields[1].(string)
	m.Body = []byte(body)
	m.ReceiptHandle, _ = fields[2].(string)
	if n, ok := fields[3].(int64); ok {
		m.ReceiveCount = int(n)
	}
	if at, ok := fields[4].(string); ok {
		if ms, err := strconv.ParseInt(at, 10, 64); err == nil {
			m.EnqueuedAt = time.UnixMilli(ms)
		}
	}
	return m, nil
}

// Delete implement Queue
func (q *RedisQueue) Delete(ctx context.Context, receipt string) error {
	id, ok := receiptID(receipt)
	if !ok {
		return ErrReceiptExpired
	}
	n, err := deleteScript.Run(ctx, q.client, []string{q.inflightKey()},
		id, receipt, q.msgPrefix()+id, q.now().UnixMilli()).Int()
	if err != nil {
		return errprocess.Wrap(errprocess.KindTransient, "queue.Delete", err, "redis delete")
	}
	if n < 0 {
		return ErrReceiptExpired
	}
	return nil
}

// ExtendVisibility implement Queue
func (q *RedisQueue) ExtendVisibility(ctx context.Context, receipt string, d time.Duration) error {
	id, ok := receiptID(receipt)
	if !ok {
		return ErrReceiptExpired
	}
	now := q.now()
	n, err := extendScript.Run(ctx, q.client, []string{q.inflightKey()},
		id, receipt, q.msgPrefix()+id, now.Add(d).UnixMilli(), now.UnixMilli()).Int()
	if err != nil {
		return errprocess.Wrap(errprocess.KindTransient, "queue.ExtendVisibility", err, "redis extend")
	}
	if n < 0 {
		return ErrReceiptExpired
	}
	return nil
}

// Close the client is owned by the caller
func (q *RedisQueue) Close() error {
	return nil
}
