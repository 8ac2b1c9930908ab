// Package notify hands mail jobs to the broker without ever blocking the
// request that produced them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/metrics"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
)

// Publisher sends a message to the broker. Publish returns once ctx is done.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, message any) error
}

// Dispatcher is a bounded in-memory queue drained by one publishing worker.
// A full queue drops the job with a warning.
type Dispatcher struct {
	pub        Publisher
	routingKey string
	timeout    time.Duration
	queue      chan models.MailJob
	done       chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	log        *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New builds a Dispatcher publishing under routingKey. Call Start before use.
func New(pub Publisher, routingKey string, buffer int, timeout time.Duration, log *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if m == nil {
		m = metrics.Noop()
	}
	return &Dispatcher{
		pub:        pub,
		routingKey: routingKey,
		timeout:    timeout,
		queue:      make(chan models.MailJob, buffer),
		done:       make(chan struct{}),
		log:        log,
		metrics:    m,
		now:        time.Now,
	}
}

// Start runs the worker until ctx is cancelled or Close is called. Jobs
// still queued at that point are published before the worker exits.
func (d *Dispatcher) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case job := <-d.queue:
				d.publish(base, job)
			case <-ctx.Done():
				d.stop()
				d.drain(base)
				return
			case <-d.done:
				d.drain(base)
				return
			}
		}
	}()
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case job := <-d.queue:
			d.publish(ctx, job)
		default:
			return
		}
	}
}

// stop rejects further jobs. Once it returns no Notify can enqueue.
func (d *Dispatcher) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.done)
	}
}

// Notify enqueues job and returns immediately.
func (d *Dispatcher) Notify(job models.MailJob) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(job, "dispatcher closed")
		return
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = d.now().UTC()
	}
	select {
	case d.queue <- job:
	default:
		d.drop(job, "queue full")
	}
}

// Close stops accepting jobs, publishes what is queued and waits for the
// worker to exit.
func (d *Dispatcher) Close() {
	d.stop()
	d.wg.Wait()
	d.drain(context.Background())
}

func (d *Dispatcher) drop(job models.MailJob, reason string) {
	d.metrics.MailJobsDropped.Inc()
	d.log.Warn("mail job dropped", slog.String("kind", string(job.Kind)), slog.String("reason", reason))
}

// publish bounds a broker call with the dispatcher timeout. A publish that
// fails or runs past the timeout is counted as dropped.
func (d *Dispatcher) publish(ctx context.Context, job models.MailJob) {
	const op = "notify.publish"
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.pub.Publish(ctx, d.routingKey, job); err != nil {
		d.metrics.MailJobsDropped.Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			d.log.Error("mail job publish timed out", slog.String("op", op),
				slog.String("kind", string(job.Kind)), slog.Duration("timeout", d.timeout))
			return
		}
		d.log.Error("failed to publish mail job", slog.String("op", op),
			slog.String("kind", string(job.Kind)), sl.Err(err))
		return
	}
	d.metrics.MailJobsPublished.Inc()
}

// LogPublisher stands in for the broker when none is reachable. Jobs are
// logged without their token.
type LogPublisher struct {
	Log *slog.Logger
}

// Publish logs message.
func (p LogPublisher) Publish(_ context.Context, routingKey string, message any) error {
	job, ok := message.(models.MailJob)
	if !ok {
		return fmt.Errorf("notify.LogPublisher: unexpected message %T", message)
	}
	p.Log.Info("mail job not sent, no broker configured",
		slog.String("routing_key", routingKey),
		slog.String("kind", string(job.Kind)),
		slog.String("to", job.To))
	return nil
}
