// Package webhook implements the asynchronous, retrying delivery queue for
// outbound payment notifications. A single background worker drains a delay
// queue ordered by next-attempt time; failed deliveries are rescheduled along
// a bounded backoff schedule and then dropped. There is no dead-letter
// persistence.
package webhook

import (
	"container/heap"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/broswen/testnetpay/service/metrics"
)

// DefaultRetryDelays is the backoff schedule applied after each failed
// delivery attempt. Exhausting it drops the task.
var DefaultRetryDelays = []time.Duration{5 * time.Second, 10 * time.Second, 30 * time.Second}

// Task is one pending delivery.
type Task struct {
	URL         string
	Payload     any
	Retries     int
	NextAttempt time.Time

	// seq breaks NextAttempt ties so ready tasks deliver FIFO at enqueue.
	seq uint64
}

// taskHeap is a min-heap keyed by (NextAttempt, seq).
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].NextAttempt.Equal(h[j].NextAttempt) {
		return h[i].seq < h[j].seq
	}
	return h[i].NextAttempt.Before(h[j].NextAttempt)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}

// Queue is the webhook dispatcher. Add may be called from any goroutine; a
// single worker performs deliveries. Delivery order is FIFO at enqueue time
// but not preserved across retries: a retried task re-enters behind its delay.
type Queue struct {
	mu   sync.Mutex
	heap taskHeap
	seq  uint64

	wake    chan struct{}
	sender  Sender
	delays  []time.Duration
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueue creates a dispatcher. A nil sender gets the default HTTP
// transport, nil delays get DefaultRetryDelays, a nil clock gets the wall
// clock, and metrics may be nil.
func NewQueue(sender Sender, delays []time.Duration, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) *Queue {
	if sender == nil {
		sender = NewHTTPSender(nil)
	}
	if delays == nil {
		delays = DefaultRetryDelays
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Queue{
		wake:    make(chan struct{}, 1),
		sender:  sender,
		delays:  delays,
		clock:   clk,
		metrics: m,
		logger:  logger,
	}
}

// Add enqueues a payload for delivery to the URL, due immediately.
// Fire-and-forget: delivery failures are retried internally and never
// surfaced to the caller.
func (q *Queue) Add(url string, payload any) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.heap, &Task{
		URL:         url,
		Payload:     payload,
		NextAttempt: q.clock.Now(),
		seq:         q.seq,
	})
	depth := q.heap.Len()
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.RecordWebhookQueueDepth(depth)
	}
	q.logger.Debug("webhook enqueued", "url", url)
	q.notify()
}

// Len reports the number of tasks awaiting delivery.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Start launches the background delivery worker. The worker exits when ctx
// is canceled or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.run(ctx)
	q.logger.Info("webhook queue started", "retry_delays", q.delays)
}

// Stop terminates the worker and waits for it to exit. Tasks still queued
// are abandoned; there is no persistence to drain into.
func (q *Queue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	<-q.done
	q.logger.Info("webhook queue stopped", "abandoned", q.Len())
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run is the worker loop. It pops tasks as they come due, sleeping exactly
// until the earliest next-attempt time or until Add signals a new task.
func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	for {
		q.mu.Lock()
		var wait time.Duration
		hasWait := false
		if q.heap.Len() > 0 {
			now := q.clock.Now()
			next := q.heap[0].NextAttempt
			if !next.After(now) {
				task := heap.Pop(&q.heap).(*Task)
				q.mu.Unlock()
				q.deliver(ctx, task)
				continue
			}
			wait = next.Sub(now)
			hasWait = true
		}
		q.mu.Unlock()

		if !hasWait {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}

		timer := q.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// deliver attempts one send and either drops the task (success or exhausted
// schedule) or reschedules it with the next backoff delay.
func (q *Queue) deliver(ctx context.Context, task *Task) {
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	start := time.Now()
	err := q.sender.Send(sendCtx, task.URL, task.Payload)
	duration := time.Since(start).Seconds()
	cancel()

	if err == nil {
		if q.metrics != nil {
			q.metrics.RecordWebhookDelivery("delivered", duration)
			q.metrics.RecordWebhookQueueDepth(q.Len())
		}
		q.logger.Debug("webhook delivered", "url", task.URL, "retries", task.Retries)
		return
	}

	if task.Retries < len(q.delays) {
		delay := q.delays[task.Retries]
		task.Retries++
		task.NextAttempt = q.clock.Now().Add(delay)

		q.mu.Lock()
		q.seq++
		task.seq = q.seq
		heap.Push(&q.heap, task)
		q.mu.Unlock()

		if q.metrics != nil {
			q.metrics.RecordWebhookDelivery("retried", duration)
			q.metrics.RecordWebhookQueueDepth(q.Len())
		}
		q.logger.Warn("webhook delivery failed, retrying",
			"url", task.URL, "retry", task.Retries, "delay", delay, "error", err)
		q.notify()
		return
	}

	if q.metrics != nil {
		q.metrics.RecordWebhookDelivery("dropped", duration)
		q.metrics.RecordWebhookQueueDepth(q.Len())
	}
	q.logger.Error("webhook delivery failed permanently, dropping task",
		"url", task.URL, "retries", task.Retries, "error", err)
}
