package queue

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrReceiptExpired receipt no longer owns the message, the visibility window passed
	ErrReceiptExpired = errors.New("receipt handle expired")
	// ErrClosed queue closed
	ErrClosed = errors.New("queue closed")
)

// Message one received delivery
type Message struct {
	ID            string
	Body          []byte
	ReceiptHandle string
	// ReceiveCount starts at 1 on first delivery
	ReceiveCount int
	EnqueuedAt   time.Time
}

// Queue durable job queue with visibility timeout semantics.
// Receive returns nil, nil when nothing arrived within the wait time.
type Queue interface {
	Receive(ctx context.Context) (*Message, error)
	Delete(ctx context.Context, receipt string) error
	ExtendVisibility(ctx context.Context, receipt string, d time.Duration) error
	Enqueue(ctx context.Context, body []byte) error
	Close() error
}

// Options receive behaviour shared by drivers
type Options struct {
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
}

func (o Options) withDefaults() Options {
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 15 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	return o
}

// receipt handles are "<message id>:<token>"
func receiptID(receipt string) (string, bool) {
	i := strings.LastIndexByte(receipt, ':')
	if i <= 0 || i == len(receipt)-1 {
		return "", false
	}
	return receipt[:i], true
}
