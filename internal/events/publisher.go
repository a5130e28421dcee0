package events

import (
	"context"
	"sync"
)

// Publisher ships an envelope to a topic. Implementations must not block on
// the broker; delivery is best-effort after the owning transaction commits.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, env Envelope) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []byte, Envelope) error { return nil }

// Recorder keeps published envelopes in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Published
}

type Published struct {
	Topic    string
	Key      []byte
	Envelope Envelope
}

func (r *Recorder) Publish(_ context.Context, topic string, key []byte, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Published{Topic: topic, Key: key, Envelope: env})
	return nil
}

func (r *Recorder) Sent() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Published, len(r.sent))
	copy(out, r.sent)
	return out
}

// ByType returns the envelopes of one event type, oldest first.
func (r *Recorder) ByType(eventType string) []Envelope {
	var out []Envelope
	for _, p := range r.Sent() {
		if p.Envelope.EventType == eventType {
			out = append(out, p.Envelope)
		}
	}
	return out
}
