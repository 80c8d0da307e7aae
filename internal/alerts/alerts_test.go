package alerts

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []string
}

func (s *recordingSink) Notify(title, _ string, _ Severity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, title)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	fanout := Fanout{a, b}

	fanout.Notify("Rebalance completed", "details", SeverityInfo)

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestLogSink_NeverPanics(t *testing.T) {
	assert.NotPanics(t, func() {
		LogSink{}.Notify("title", "message", SeverityInfo)
		LogSink{}.Notify("title", "message", SeverityWarning)
		LogSink{}.Notify("title", "message", SeverityCritical)
		LogSink{}.Notify("title", "message", "unknown")
	})
}

func TestWebhookSink_DeliversPayload(t *testing.T) {
	received := make(chan webhookPayload, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewWebhookSink(ts.URL, 8)
	defer sink.Stop()

	sink.Notify("Rebalance PARTIAL FAILURE", "deposit failed after BRIDGED", SeverityCritical)

	select {
	case p := <-received:
		assert.Equal(t, "Rebalance PARTIAL FAILURE", p.Title)
		assert.Equal(t, "critical", p.Severity)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never received the alert")
	}
}

func TestWebhookSink_DropsWhenQueueFull(t *testing.T) {
	blocked := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewWebhookSink(ts.URL, 1)
	defer func() {
		close(blocked)
		sink.Stop()
	}()

	// One alert occupies the worker, one fills the queue; the rest drop.
	for i := 0; i < 6; i++ {
		sink.Notify("alert", "message", SeverityWarning)
	}

	assert.Eventually(t, func() bool { return sink.Dropped() >= 1 },
		2*time.Second, 10*time.Millisecond,
		"a full queue drops alerts instead of blocking the caller")
}

func TestWebhookSink_UnreachableEndpointDoesNotBlockCaller(t *testing.T) {
	sink := NewWebhookSink("http://127.0.0.1:1/unreachable", 4)
	defer sink.Stop()

	done := make(chan struct{})
	go func() {
		sink.Notify("alert", "message", SeverityInfo)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on an unreachable webhook")
	}
}
