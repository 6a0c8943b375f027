package app

import (
	"encoding/json"
	"sync"

	"transcoding_service/internal/transcode/domain"
	"transcoding_service/pkg/logger"

	"go.uber.org/zap"
)

const defaultSubscriptionBuffer = 32

// ProgressPublisher fan progress frames out to whoever watches jobName
type ProgressPublisher interface {
	Publish(jobName string, ev domain.ProgressEvent)
}

// Hub in-process progress fan-out keyed by job name.
// Nothing is replayed, a late subscriber only sees frames published after it joined.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

// Subscription one watcher of one job
type Subscription struct {
	hub     *Hub
	jobName string
	ch      chan []byte
	closed  bool
}

// NewHub create Hub
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), buffer: defaultSubscriptionBuffer}
}

// Subscribe register a watcher for jobName
func (h *Hub) Subscribe(jobName string) *Subscription {
	s := &Subscription{hub: h, jobName: jobName, ch: make(chan []byte, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[jobName]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[jobName] = set
	}
	set[s] = struct{}{}
	return s
}

// Events serialized frames, closed after Close
func (s *Subscription) Events() <-chan []byte {
	return s.ch
}

// JobName watched job
func (s *Subscription) JobName() string {
	return s.jobName
}

// Close unsubscribe, safe to call more than once
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	if set, ok := h.subs[s.jobName]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.jobName)
		}
	}
	close(s.ch)
}

// Publish send ev to every current subscriber of jobName, no-op without subscribers.
// A slow subscriber loses its oldest frame, never the newest one.
func (h *Hub) Publish(jobName string, ev domain.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[jobName]
	if len(set) == 0 {
		return
	}

	frame, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Error("progress encode failed", zap.String("job", jobName), zap.Error(err))
		return
	}

	for s := range set {
		s.offer(frame)
	}
}

// PublishFrame forward an already serialized frame, used by the relay
func (h *Hub) PublishFrame(jobName string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[jobName] {
		s.offer(frame)
	}
}

// offer caller holds hub.mu
func (s *Subscription) offer(frame []byte) {
	for {
		select {
		case s.ch <- frame:
			return
		default:
		}
		// buffer 滿了, 丟掉最舊的一筆
		select {
		case <-s.ch:
		default:
		}
	}
}

// Count number of subscribers of jobName
func (h *Hub) Count(jobName string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobName])
}

// Jobs number of job names with at least one subscriber
func (h *Hub) Jobs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
