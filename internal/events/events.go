// Package events announces evolution outcomes and scan summaries to downstream consumers.
package events

import (
	"context"
	"strconv"
	"sync"

	"evonft-service/internal/domain"
)

// Event kinds.
const (
	KindEvolution = "evolution"
	KindScan      = "scan"
)

// Event is the envelope written to the bus. Exactly one of Evolution or Scan is set.
type Event struct {
	Kind       string               `json:"kind"`
	ID         string               `json:"id"`
	OccurredAt int64                `json:"occurredAt"` // ms
	ScanRunID  string               `json:"scanRunId,omitempty"`
	Evolution  *domain.EvolveResult `json:"evolution,omitempty"`
	Scan       *domain.ScanRun      `json:"scan,omitempty"`
}

// Key partitions events so that all events of one token land on one partition.
func (e Event) Key() string {
	if e.Evolution != nil {
		return strconv.FormatUint(e.Evolution.TokenID, 10)
	}
	return e.ID
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, ...Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes subsequent Publish calls return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, events ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, events...)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
