package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pria-cloud/app-composer/internal/models"
)

func TestPusher_PostsEvent(t *testing.T) {
	received := make(chan models.ProgressEvent, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var event models.ProgressEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		received <- event
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pusher := &Pusher{callbackURL: server.URL, httpClient: &http.Client{Timeout: pushTimeout}}
	pusher.Notify(models.ProgressEvent{
		ConversationID: "conv-1",
		Phase:          models.PhaseCodegen,
		Percent:        30,
		Message:        "Generating source files",
		Status:         models.StatusInProgress,
	})

	select {
	case event := <-received:
		assert.Equal(t, "conv-1", event.ConversationID)
		assert.Equal(t, models.PhaseCodegen, event.Phase)
		assert.Equal(t, 30, event.Percent)
	case <-time.After(2 * time.Second):
		t.Fatal("progress event never arrived")
	}
}

func TestPusher_NoCallbackURLIsInert(t *testing.T) {
	pusher := &Pusher{httpClient: &http.Client{Timeout: pushTimeout}}
	assert.NotPanics(t, func() {
		pusher.Notify(models.ProgressEvent{ConversationID: "conv-1"})
	})
}

func TestPusher_ListenerFailureIsSwallowed(t *testing.T) {
	done := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		done <- struct{}{}
	}))
	defer server.Close()

	pusher := &Pusher{callbackURL: server.URL, httpClient: &http.Client{Timeout: pushTimeout}}
	assert.NotPanics(t, func() {
		pusher.Notify(models.ProgressEvent{ConversationID: "conv-1"})
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never contacted")
	}
}

// countingChannel records events for fan-out assertions
type countingChannel struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (c *countingChannel) Notify(event models.ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func TestNotifier_FansOut(t *testing.T) {
	first := &countingChannel{}
	second := &countingChannel{}
	notifier := NewNotifier(first, second)

	notifier.Notify(models.ProgressEvent{ConversationID: "conv-1", Percent: 50})

	assert.Len(t, first.events, 1)
	assert.Len(t, second.events, 1)
	assert.Equal(t, 50, first.events[0].Percent)
}
