package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	defaultBuffer = 1024
	insertTimeout = 3 * time.Second
	drainTimeout  = 5 * time.Second
)

// Recorder is an Auditor that queues events and writes them from Run.
type Recorder struct {
	store Store
	log   *slog.Logger
	queue chan Event
}

// NewRecorder constructs a Recorder. buffer <= 0 selects a default size.
func NewRecorder(store Store, log *slog.Logger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		store: store,
		log:   log,
		queue: make(chan Event, buffer),
	}
}

// Record enqueues ev without blocking. A full queue drops the event.
func (r *Recorder) Record(_ context.Context, ev Event) {
	if r == nil || strings.TrimSpace(ev.Action) == "" {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if ev.ID == "" {
		id, err := NewULID(ev.At)
		if err != nil {
			r.log.Error("audit.id.fail", "err", err, "action", ev.Action)
			return
		}
		ev.ID = id
	}

	select {
	case r.queue <- ev:
	default:
		r.log.Warn("audit.queue.full", "action", ev.Action)
	}
}

// Run writes queued events until ctx is done, then flushes what is left
// with a bounded timeout.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-r.queue:
			r.write(ctx, ev)
		case <-ctx.Done():
			r.drain()
			return nil
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case ev := <-r.queue:
			r.write(ctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) write(parent context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(parent, insertTimeout)
	defer cancel()

	if err := r.store.Insert(ctx, ev); err != nil {
		r.log.Error("audit.insert.fail", "err", err, "action", ev.Action)
	}
}
