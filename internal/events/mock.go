package events

import (
	"context"
	"sync"
)

// Published is one event captured by RecordingPublisher.
type Published struct {
	Subject string
	Event   any
}

// RecordingPublisher keeps published events in memory for tests.
type RecordingPublisher struct {
	// PublishFunc overrides Publish when set.
	PublishFunc func(ctx context.Context, subject string, event any) error

	mu     sync.Mutex
	events []Published
}

func (r *RecordingPublisher) Publish(ctx context.Context, subject string, event any) error {
	if r.PublishFunc != nil {
		return r.PublishFunc(ctx, subject, event)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Published{Subject: subject, Event: event})
	return nil
}

func (r *RecordingPublisher) Close() error { return nil }

// Events returns a copy of every event published so far.
func (r *RecordingPublisher) Events() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.events...)
}

// Subjects lists published subjects in order.
func (r *RecordingPublisher) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Subject
	}
	return out
}
