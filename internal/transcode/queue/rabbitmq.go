package queue

import (
	"context"
	"sync"
	"time"

	errprocess "transcoding_service/pkg/err"
	"transcoding_service/pkg/logger"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// AMQPChannel subset of *amqp.Channel used by RabbitQueue
type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type pendingDelivery struct {
	d     amqp.Delivery
	timer *time.Timer
}

// RabbitQueue RabbitMQ driver. An unacked delivery is held by the channel forever,
// so the visibility window is emulated with a timer that Nacks with requeue.
type RabbitQueue struct {
	ch         AMQPChannel
	name       string
	opts       Options
	deliveries <-chan amqp.Delivery

	consumeOnce sync.Once
	consumeErr  error

	mu      sync.Mutex
	pending map[string]*pendingDelivery
	acked   map[string]struct{}
}

const maxAckedReceipts = 1024

// NewRabbitQueue declare the queue, consuming with manual ack starts on the first Receive
func NewRabbitQueue(ch AMQPChannel, name string, quorum bool, opts Options) (*RabbitQueue, error) {
	args := amqp.Table{}
	if quorum {
		// quorum queue 才會帶 x-delivery-count header
		args["x-queue-type"] = "quorum"
	}
	if _, err := ch.QueueDeclare(
		name,  // queue name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		args,  // arguments
	); err != nil {
		return nil, errprocess.Wrap(errprocess.KindTransient, "queue.NewRabbitQueue", err, "queue declare")
	}

	return &RabbitQueue{
		ch:      ch,
		name:    name,
		opts:    opts.withDefaults(),
		pending: make(map[string]*pendingDelivery),
		acked:   make(map[string]struct{}),
	}, nil
}

// consume start the consumer on first Receive, a producer only process never takes deliveries
func (q *RabbitQueue) consume() (<-chan amqp.Delivery, error) {
	q.consumeOnce.Do(func() {
		// 一次只拿一個工作
		if err := q.ch.Qos(1, 0, false); err != nil {
			q.consumeErr = errprocess.Wrap(errprocess.KindTransient, "queue.consume", err, "qos")
			return
		}
		deliveries, err := q.ch.Consume(
			q.name, // queue
			"",     // consumer tag，留空由系統分配
			false,  // autoAck 為 false，使用手動確認
			false,  // exclusive
			false,  // noLocal
			false,  // noWait
			nil,    // arguments
		)
		if err != nil {
			q.consumeErr = errprocess.Wrap(errprocess.KindTransient, "queue.consume", err, "consume")
			return
		}
		q.deliveries = deliveries
	})
	return q.deliveries, q.consumeErr
}

// Enqueue implement Queue
func (q *RabbitQueue) Enqueue(_ context.Context, body []byte) error {
	err := q.ch.Publish(
		"",     // 預設 exchange
		q.name, // queue 名稱
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return errprocess.Wrap(errprocess.KindTransient, "queue.Enqueue", err, "rabbitmq publish")
	}
	return nil
}

// Receive implement Queue
func (q *RabbitQueue) Receive(ctx context.Context) (*Message, error) {
	deliveries, err := q.consume()
	if err != nil {
		return nil, err
	}

	var wait <-chan time.Time
	if q.opts.WaitTime > 0 {
		t := time.NewTimer(q.opts.WaitTime)
		defer t.Stop()
		wait = t.C
	} else {
		closed := make(chan time.Time)
		close(closed)
		wait = closed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			return nil, errprocess.Wrap(errprocess.KindTransient, "queue.Receive", ErrClosed, "rabbitmq deliveries closed")
		}
		return q.track(d), nil
	case <-wait:
		return nil, nil
	}
}

func (q *RabbitQueue) track(d amqp.Delivery) *Message {
	id := d.MessageId
	if id == "" {
		id = uuid.NewString()
	}
	receipt := id + ":" + uuid.NewString()

	q.mu.Lock()
	q.pending[receipt] = &pendingDelivery{
		d:     d,
		timer: time.AfterFunc(q.opts.VisibilityTimeout, func() { q.expire(receipt) }),
	}
	q.mu.Unlock()

	return &Message{
		ID:            id,
		Body:          d.Body,
		ReceiptHandle: receipt,
		ReceiveCount:  deliveryCount(d),
		EnqueuedAt:    d.Timestamp,
	}
}

// expire 可見時間到期, Nack 讓 broker 重新派送
func (q *RabbitQueue) expire(receipt string) {
	q.mu.Lock()
	p, ok := q.pending[receipt]
	delete(q.pending, receipt)
	q.mu.Unlock()
	if !ok {
		return
	}
	if err := p.d.Nack(false, true); err != nil {
		logger.Log.Warn("rabbitmq nack failed", zap.String("receipt", receipt), zap.Error(err))
	}
}

// deliveryCount x-delivery-count counts previous deliveries
func deliveryCount(d amqp.Delivery) int {
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	}
	if d.Redelivered {
		return 2
	}
	return 1
}

// Delete implement Queue
func (q *RabbitQueue) Delete(_ context.Context, receipt string) error {
	q.mu.Lock()
	p, ok := q.pending[receipt]
	if ok {
		delete(q.pending, receipt)
		p.timer.Stop()
		if len(q.acked) >= maxAckedReceipts {
			q.acked = make(map[string]struct{})
		}
		q.acked[receipt] = struct{}{}
	}
	_, done := q.acked[receipt]
	q.mu.Unlock()

	if !ok {
		if done {
			return nil
		}
		return ErrReceiptExpired
	}
	if err := p.d.Ack(false); err != nil {
		return errprocess.Wrap(errprocess.KindTransient, "queue.Delete", err, "rabbitmq ack")
	}
	return nil
}

// ExtendVisibility implement Queue
func (q *RabbitQueue) ExtendVisibility(_ context.Context, receipt string, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.pending[receipt]
	if !ok || !p.timer.Stop() {
		return ErrReceiptExpired
	}
	p.timer.Reset(d)
	return nil
}

// Close requeue everything still held and close the channel
func (q *RabbitQueue) Close() error {
	q.mu.Lock()
	pending := q.pending
	q.pending = make(map[string]*pendingDelivery)
	q.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		_ = p.d.Nack(false, true)
	}
	return q.ch.Close()
}
