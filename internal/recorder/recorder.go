package recorder

import (
	"context"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"groundlink/fclink"
)

const eventQueueSize = 256

type event struct {
	telemetry *fclink.TelemetryRecord
	log       *fclink.LogEntry
}

// Recorder writes everything pushed into a fclink.TelemetryLog to a
// session in a SqliteStore. Writes happen on their own goroutine, so
// the link worker never waits on the disk. When the writer falls
// behind, new events are dropped.
type Recorder struct {
	store     *SqliteStore
	sessionID int64

	mu      sync.RWMutex
	closed  bool
	events  chan event
	done    chan struct{}
	dropped atomic.Uint64
}

// Start creates a new session in store and returns a Recorder
// writing to it
func Start(ctx context.Context, store *SqliteStore, port string, config any) (*Recorder, error) {
	id, err := store.CreateSession(ctx, port, config)
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		store:     store,
		sessionID: id,
		events:    make(chan event, eventQueueSize),
		done:      make(chan struct{}),
	}
	go r.run()
	log.Debugf("recording session %d", id)
	return r, nil
}

// SessionID returns the session being recorded
func (r *Recorder) SessionID() int64 {
	return r.sessionID
}

// Dropped returns the number of events that couldn't be queued
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) enqueue(ev event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

// RecordTelemetry implements fclink.Recorder
func (r *Recorder) RecordTelemetry(rec *fclink.TelemetryRecord) {
	cp := *rec
	r.enqueue(event{telemetry: &cp})
}

// RecordLog implements fclink.Recorder
func (r *Recorder) RecordLog(entry fclink.LogEntry) {
	r.enqueue(event{log: &entry})
}

func (r *Recorder) run() {
	defer close(r.done)
	ctx := context.Background()
	for ev := range r.events {
		var err error
		switch {
		case ev.telemetry != nil:
			err = r.store.StoreTelemetry(ctx, r.sessionID, ev.telemetry)
		case ev.log != nil:
			err = r.store.StoreLog(ctx, r.sessionID, *ev.log)
		}
		if err != nil {
			log.Warnf("recorder: %v", err)
		}
	}
}

// Close stops accepting events and waits until the queued ones
// have been written. The store is left open.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()
	<-r.done
}
