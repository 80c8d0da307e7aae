// Package alerts delivers fire-and-forget notifications to operators.
// Delivery must never block or fail a caller: a saga step reports its
// terminal state and moves on regardless of what the sink does with it.
package alerts

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Sink receives alerts. Implementations must not block the caller.
type Sink interface {
	Notify(title, message string, severity Severity)
}

// LogSink writes alerts to the structured log.
type LogSink struct{}

// Notify implements Sink.
func (LogSink) Notify(title, message string, severity Severity) {
	var evt *zerolog.Event
	switch severity {
	case SeverityCritical:
		evt = log.Error()
	case SeverityWarning:
		evt = log.Warn()
	default:
		evt = log.Info()
	}
	evt.Str("alert", title).Str("severity", string(severity)).Msg(message)
}

// Fanout delivers to every sink in order.
type Fanout []Sink

// Notify implements Sink.
func (f Fanout) Notify(title, message string, severity Severity) {
	for _, sink := range f {
		sink.Notify(title, message, severity)
	}
}

type webhookPayload struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	At       string `json:"at"`
}

// WebhookSink posts alerts as JSON to an HTTP endpoint from a background
// worker. The queue is bounded: when delivery falls behind, new alerts are
// dropped and counted rather than stalling the caller.
type WebhookSink struct {
	url     string
	client  *http.Client
	queue   chan webhookPayload
	dropped atomic.Int64
}

// NewWebhookSink starts a webhook sink worker. Close the returned sink's
// queue via Stop when shutting down.
func NewWebhookSink(url string, queueSize int) *WebhookSink {
	if queueSize <= 0 {
		queueSize = 64
	}
	s := &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		queue:  make(chan webhookPayload, queueSize),
	}
	go s.run()
	return s
}

// Notify implements Sink.
func (s *WebhookSink) Notify(title, message string, severity Severity) {
	payload := webhookPayload{
		Title:    title,
		Message:  message,
		Severity: string(severity),
		At:       time.Now().UTC().Format(time.RFC3339),
	}
	select {
	case s.queue <- payload:
	default:
		s.dropped.Add(1)
		log.Warn().Str("alert", title).Msg("Webhook queue full, alert dropped")
	}
}

// Dropped reports how many alerts were discarded due to backpressure.
func (s *WebhookSink) Dropped() int64 { return s.dropped.Load() }

// Stop closes the queue; queued alerts are still delivered.
func (s *WebhookSink) Stop() { close(s.queue) }

func (s *WebhookSink) run() {
	for payload := range s.queue {
		body, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Warn().Err(err).Msg("Webhook alert delivery failed")
			continue
		}
		resp.Body.Close()
	}
}
