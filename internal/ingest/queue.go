// Package ingest runs acknowledged Slack deliveries through the processor
// on a bounded worker pool, dead-lettering the ones that fail.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/minno-ai/minno/internal/events"
	"github.com/minno-ai/minno/internal/models"
	"github.com/minno-ai/minno/internal/store"
	slackapi "github.com/slack-go/slack"
)

var (
	// ErrQueueFull is returned by Enqueue when every slot is taken.
	ErrQueueFull = errors.New("ingest: queue full")
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("ingest: queue closed")
)

// Delivery is one acknowledged webhook awaiting processing. Exactly one of
// Envelope and Interaction is set, matching Kind.
type Delivery struct {
	Kind        models.FailedEventKind
	EventID     string
	TeamID      string
	Payload     []byte
	Envelope    *events.Envelope
	Interaction *slackapi.InteractionCallback
	ReceivedAt  time.Time

	// FailedEventID is set when an operator replays a dead letter.
	FailedEventID string
}

// Processor handles one delivery.
type Processor interface {
	Process(ctx context.Context, d Delivery) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, d Delivery) error

func (f ProcessorFunc) Process(ctx context.Context, d Delivery) error { return f(ctx, d) }

// FailureRecorder persists dead letters.
type FailureRecorder interface {
	RecordFailedEvent(ctx context.Context, in store.FailedEventInput) (*models.FailedEvent, error)
	ResolveFailedEvent(ctx context.Context, id string) error
}

// Failure is published on Failures for every delivery that failed.
type Failure struct {
	Delivery Delivery
	Err      error
	// DeadLetterID is empty when recording the dead letter also failed.
	DeadLetterID string
}

// QueueOpts configures a Queue.
type QueueOpts struct {
	Workers    int
	Size       int
	Processor  Processor
	Recorder   FailureRecorder
	Logger     *slog.Logger
	JobTimeout time.Duration
}

// Queue is a bounded in-process delivery queue.
type Queue struct {
	jobs       chan Delivery
	failures   chan Failure
	proc       Processor
	rec        FailureRecorder
	log        *slog.Logger
	workers    int
	jobTimeout time.Duration

	// base outlives every request; cancelled only when Close gives up.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewQueue validates opts and creates a Queue. Call Start to run workers.
func NewQueue(opts QueueOpts) (*Queue, error) {
	if opts.Processor == nil {
		return nil, fmt.Errorf("ingest: processor is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Size <= 0 {
		opts.Size = 1
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 2 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Queue{
		jobs:       make(chan Delivery, opts.Size),
		failures:   make(chan Failure, opts.Size),
		proc:       opts.Processor,
		rec:        opts.Recorder,
		log:        log,
		workers:    opts.Workers,
		jobTimeout: opts.JobTimeout,
		base:       base,
		cancel:     cancel,
	}, nil
}

// Start launches the worker goroutines. It is a no-op after the first call.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(i)
	}
}

// Enqueue hands d to the workers without blocking.
func (q *Queue) Enqueue(d Delivery) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = time.Now()
	}
	select {
	case q.jobs <- d:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len reports the number of deliveries waiting for a worker.
func (q *Queue) Len() int { return len(q.jobs) }

// Failures publishes processing failures. Sends never block: when nobody
// reads and the buffer is full, failures are only logged and dead-lettered.
func (q *Queue) Failures() <-chan Failure { return q.failures }

// Close stops accepting deliveries and waits for queued and in-flight work
// to finish. If ctx ends first, in-flight jobs are cancelled and ctx's
// error is returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	started := q.started
	q.mu.Unlock()

	if !started {
		q.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

// DeadLetter records d as failed without processing it. The server uses it
// when a delivery was acknowledged but could not be enqueued.
func (q *Queue) DeadLetter(d Delivery, cause error) {
	q.fail(d, cause)
}

func (q *Queue) work(n int) {
	defer q.wg.Done()
	for d := range q.jobs {
		q.run(d)
	}
	q.log.Debug("ingest: worker stopped", "worker", n)
}

func (q *Queue) run(d Delivery) {
	ctx, cancel := context.WithTimeout(q.base, q.jobTimeout)
	defer cancel()

	start := time.Now()
	err := q.process(ctx, d)
	if err != nil {
		q.fail(d, err)
		return
	}
	if d.FailedEventID != "" && q.rec != nil {
		if err := q.rec.ResolveFailedEvent(ctx, d.FailedEventID); err != nil {
			q.log.Error("ingest: resolve replayed dead letter", "failed_event_id", d.FailedEventID, "error", err)
		}
	}
	q.log.Debug("ingest: processed", "kind", d.Kind, "event_id", d.EventID,
		"team_id", d.TeamID, "duration", time.Since(start))
}

func (q *Queue) process(ctx context.Context, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingest: processor panic: %v", r)
		}
	}()
	return q.proc.Process(ctx, d)
}

func (q *Queue) fail(d Delivery, cause error) {
	q.log.Error("ingest: delivery failed", "kind", d.Kind, "event_id", d.EventID,
		"team_id", d.TeamID, "error", cause)

	f := Failure{Delivery: d, Err: cause}
	if q.rec != nil {
		// Recording must survive a cancelled job context.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		fe, err := q.rec.RecordFailedEvent(ctx, store.FailedEventInput{
			ID:      d.FailedEventID,
			EventID: d.EventID,
			TeamID:  d.TeamID,
			Kind:    d.Kind,
			Payload: d.Payload,
			Err:     cause.Error(),
		})
		if err != nil {
			q.log.Error("ingest: record dead letter", "event_id", d.EventID, "error", err)
		} else {
			f.DeadLetterID = fe.ID
		}
	}

	select {
	case q.failures <- f:
	default:
	}
}
