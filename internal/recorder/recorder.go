package recorder

import (
	"alpharius-go/internal/models"
	"alpharius-go/internal/storage"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType defines the type of a recorder event
type EventType int

const (
	TransactionsEvent EventType = iota
	LogUploadEvent
)

// Event is a unit of work for the sink. Transactions is used by TransactionsEvent, Dir by LogUploadEvent.
type Event struct {
	Type         EventType
	Day          time.Time
	Transactions []models.Transaction
	Dir          string
}

// Recorder writes live results to a Sink on its own goroutine so that trading never waits on storage.
// All sink writes are processed serially.
type Recorder struct {
	sink    storage.Sink
	events  chan Event
	done    chan struct{}
	mu      sync.Mutex
	stopped bool
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// New creates a recorder. A nil sink makes every dispatch a no-op.
func New(sink storage.Sink, logger *zap.SugaredLogger) *Recorder {
	return &Recorder{
		sink:    sink,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
		timeout: 30 * time.Second,
		logger:  logger,
	}
}

// Start begins the event loop.
func (r *Recorder) Start() {
	go r.eventLoop()
	r.logger.Info("Recorder started.")
}

// Dispatch queues an event without blocking. It reports false if the event was dropped.
func (r *Recorder) Dispatch(event Event) bool {
	if r.sink == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	select {
	case r.events <- event:
		return true
	default:
		r.logger.Warnf("Recorder queue full, dropping event of type %d", event.Type)
		return false
	}
}

// Stop drains the queued events, waiting at most timeout, then closes the sink.
func (r *Recorder) Stop(timeout time.Duration) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.events)
	r.mu.Unlock()

	select {
	case <-r.done:
		r.logger.Info("Recorder stopped.")
	case <-time.After(timeout):
		r.logger.Warnf("Recorder did not drain within %v", timeout)
	}
	if r.sink != nil {
		if err := r.sink.Close(); err != nil {
			r.logger.Warnf("Failed to close sink: %v", err)
		}
	}
}

// eventLoop handles all incoming events serially.
func (r *Recorder) eventLoop() {
	defer close(r.done)
	for event := range r.events {
		r.processEvent(event)
	}
}

func (r *Recorder) processEvent(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	switch event.Type {
	case TransactionsEvent:
		for _, tx := range event.Transactions {
			if tx.Processor == "" {
				continue
			}
			if err := r.sink.InsertTransaction(ctx, tx); err != nil {
				r.logger.Warnf("[%s] Transaction inserting encountered an error: %v", tx.Symbol, err)
			}
		}
		if err := storage.UpdateAggregation(ctx, r.sink, event.Day); err != nil {
			r.logger.Warnf("Aggregation updating encountered an error: %v", err)
		}
	case LogUploadEvent:
		if err := storage.UploadLogs(ctx, r.sink, event.Day, event.Dir); err != nil {
			r.logger.Warnf("Log updating encountered an error: %v", err)
		}
	default:
		r.logger.Warnf("Received event with unexpected type: %d", event.Type)
	}
}
