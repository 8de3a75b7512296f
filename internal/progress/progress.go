// Package progress implements the pipeline's progress sink: a
// non-blocking, multi-subscriber broadcast of stage/percentage updates
// (spec.md §5/§6 "progress callbacks").
//
// This is the teacher's internal/sse.Hub generalized from SSE-framed byte
// broadcasts to typed Update values, and from "browser clients" to
// "progress callbacks" — same register/unregister/broadcast/done channel
// shape, same drop-rather-than-block policy for slow subscribers.
package progress

import (
	"log/slog"
	"sync"
)

// Stage names a pipeline phase a progress Update can report.
type Stage string

const (
	StagePreprocess Stage = "preprocess"
	StageSpectral   Stage = "spectral"
	StageOnset      Stage = "onset"
	StageTempo      Stage = "tempo"
	StageBeatTrack  Stage = "beat_track"
	StageSelect     Stage = "select"
)

// Update is one progress notification.
type Update struct {
	Stage      Stage
	Current    int
	Total      int
	Percentage float64
}

// Subscriber receives progress updates on a buffered channel.
type Subscriber struct {
	id      string
	Updates chan Update
}

// Sink fans out Updates to subscribers without blocking the pipeline:
// a subscriber with a full buffer simply misses updates.
type Sink struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]bool
	broadcast   chan Update
	register    chan *Subscriber
	unregister  chan *Subscriber
	done        chan struct{}
	closeOnce   sync.Once
}

// NewSink creates a Sink. Call Run in a goroutine to start its event loop.
func NewSink() *Sink {
	return &Sink{
		subscribers: make(map[*Subscriber]bool),
		broadcast:   make(chan Update, 64),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		done:        make(chan struct{}),
	}
}

// Subscribe registers a new subscriber with the given buffer size.
func (s *Sink) Subscribe(id string, buffer int) *Subscriber {
	sub := &Subscriber{id: id, Updates: make(chan Update, buffer)}
	select {
	case s.register <- sub:
	case <-s.done:
	}
	return sub
}

// Unsubscribe removes a subscriber.
func (s *Sink) Unsubscribe(sub *Subscriber) {
	select {
	case s.unregister <- sub:
	case <-s.done:
	}
}

// Report publishes one Update to all current subscribers.
func (s *Sink) Report(u Update) {
	select {
	case s.broadcast <- u:
	case <-s.done:
	}
}

// Run drives the Sink's event loop until Close is called.
func (s *Sink) Run() {
	for {
		select {
		case sub := <-s.register:
			s.mu.Lock()
			s.subscribers[sub] = true
			s.mu.Unlock()

		case sub := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.subscribers[sub]; ok {
				delete(s.subscribers, sub)
				close(sub.Updates)
			}
			s.mu.Unlock()

		case u := <-s.broadcast:
			s.mu.RLock()
			for sub := range s.subscribers {
				select {
				case sub.Updates <- u:
				default:
					slog.Warn("progress subscriber buffer full, dropping update", "subscriber", sub.id, "stage", u.Stage)
				}
			}
			s.mu.RUnlock()

		case <-s.done:
			s.mu.Lock()
			for sub := range s.subscribers {
				close(sub.Updates)
				delete(s.subscribers, sub)
			}
			s.mu.Unlock()
			return
		}
	}
}

// Close shuts down the Sink. Safe to call more than once.
func (s *Sink) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
