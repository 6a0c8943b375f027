package app

import (
	"encoding/json"
	"testing"

	"transcoding_service/internal/transcode/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeFrame(t *testing.T, frame []byte) domain.ProgressEvent {
	var ev domain.ProgressEvent
	require.NoError(t, json.Unmarshal(frame, &ev))
	return ev
}

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe("clip")
	b := hub.Subscribe("clip")
	other := hub.Subscribe("other")
	assert.Equal(t, 2, hub.Count("clip"))

	hub.Publish("clip", domain.ProcessingEvent("clip", 42.5))

	for _, s := range []*Subscription{a, b} {
		ev := decodeFrame(t, <-s.Events())
		assert.Equal(t, domain.ProgressProcessing, ev.Status)
		assert.Equal(t, 42.5, ev.Progress)
	}
	assert.Len(t, other.Events(), 0, "other job sees nothing")
}

func TestHubFrameShape(t *testing.T) {
	hub := NewHub()
	s := hub.Subscribe("clip")
	defer s.Close()

	hub.Publish("clip", domain.CompletedEvent("clip", "https://signed"))
	assert.JSONEq(t, `{"status":"completed","progress":100,"downloadUrl":"https://signed"}`, string(<-s.Events()))

	hub.Publish("clip", domain.ErrorEvent("clip", "ffmpeg exited with code 1"))
	assert.JSONEq(t, `{"status":"error","progress":0,"error":"ffmpeg exited with code 1"}`, string(<-s.Events()))
}

func TestHubNoSubscribersAndCleanup(t *testing.T) {
	hub := NewHub()
	hub.Publish("nobody", domain.StartedEvent("nobody"))
	assert.Equal(t, 0, hub.Jobs())

	s := hub.Subscribe("clip")
	assert.Equal(t, 1, hub.Jobs())
	s.Close()
	s.Close()
	assert.Equal(t, 0, hub.Count("clip"))
	assert.Equal(t, 0, hub.Jobs(), "empty entry removed")

	_, ok := <-s.Events()
	assert.False(t, ok)

	// unsubscribed watcher receives nothing more
	hub.Publish("clip", domain.StartedEvent("clip"))
}

func TestHubNoReplay(t *testing.T) {
	hub := NewHub()
	early := hub.Subscribe("clip")
	hub.Publish("clip", domain.StartedEvent("clip"))

	late := hub.Subscribe("clip")
	hub.Publish("clip", domain.ProcessingEvent("clip", 10))

	assert.Len(t, early.Events(), 2)
	require.Len(t, late.Events(), 1)
	assert.Equal(t, domain.ProgressProcessing, decodeFrame(t, <-late.Events()).Status)
}

func TestHubSlowSubscriberKeepsTerminalFrame(t *testing.T) {
	hub := NewHub()
	s := hub.Subscribe("clip")

	for i := 0; i < defaultSubscriptionBuffer*3; i++ {
		hub.Publish("clip", domain.ProcessingEvent("clip", float64(i%100)))
	}
	hub.Publish("clip", domain.CompletedEvent("clip", "https://signed"))

	var last domain.ProgressEvent
	n := len(s.Events())
	assert.Equal(t, defaultSubscriptionBuffer, n)
	for i := 0; i < n; i++ {
		last = decodeFrame(t, <-s.Events())
	}
	assert.Equal(t, domain.ProgressCompleted, last.Status)
}
