package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"studyflow/internal/config"
	"studyflow/internal/models"
	"studyflow/internal/pubsub"
	"studyflow/internal/queue"
	"studyflow/internal/telemetry"
)

// JobStore is the slice of the Postgres store the worker needs.
type JobStore interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	UpdateProgress(ctx context.Context, id string, progress int) error
	MarkComplete(ctx context.Context, id string) error
	MarkError(ctx context.Context, id, message string) error
}

// Handler executes one job, reporting progress through rep. The returned
// payload rides on the complete event (e.g. the generated entity id).
type Handler func(ctx context.Context, job models.Job, rep *Reporter) (map[string]any, error)

// Reporter publishes advisory progress on the job's channel and mirrors it
// into the job record. Progress here is UI feedback; only the terminal
// events the processor emits are authoritative.
type Reporter struct {
	pub     *pubsub.Publisher
	store   JobStore
	channel string
	jobID   string
}

// Progress reports a completion percentage.
func (r *Reporter) Progress(ctx context.Context, percent int) {
	if err := r.pub.Progress(ctx, r.channel, r.jobID, percent); err != nil {
		log.Printf("worker: publish progress for %s: %v", r.jobID, err)
	}
	if err := r.store.UpdateProgress(ctx, r.jobID, percent); err != nil {
		log.Printf("worker: persist progress for %s: %v", r.jobID, err)
	}
}

// Content streams one incremental text fragment (chat turns).
func (r *Reporter) Content(ctx context.Context, fragment string) {
	if err := r.pub.Content(ctx, r.channel, r.jobID, fragment); err != nil {
		log.Printf("worker: publish content for %s: %v", r.jobID, err)
	}
}

// Processor drives the worker execution loop: lease a job, run its handler,
// publish the terminal event. Failed jobs are not retried; re-enqueueing is
// the caller's decision.
type Processor struct {
	cfg      config.Config
	queue    *queue.RedisQueue
	store    JobStore
	pub      *pubsub.Publisher
	handlers map[string]Handler
}

// NewProcessor wires the worker loop.
func NewProcessor(cfg config.Config, q *queue.RedisQueue, st JobStore, pub *pubsub.Publisher) *Processor {
	return &Processor{
		cfg:      cfg,
		queue:    q,
		store:    st,
		pub:      pub,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler binds a handler to a process type.
func (p *Processor) RegisterHandler(processType string, handler Handler) {
	if processType == "" || handler == nil {
		return
	}
	p.handlers[processType] = handler
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			log.Printf("worker: reclaimed %d expired leases", len(reclaimed))
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		worked, err := p.processOne(ctx)
		if err != nil {
			log.Printf("worker: %v", err)
		}
		if !worked {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
		}
	}
}

// processOne leases and runs a single job. It reports whether a job was
// available.
func (p *Processor) processOne(ctx context.Context) (bool, error) {
	jobID, err := p.queue.DequeueWithLease(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if jobID == "" {
		return false, nil
	}

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		_ = p.queue.Ack(ctx, jobID)
		return true, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status == models.StatusCancelled {
		_ = p.queue.Ack(ctx, jobID)
		return true, nil
	}

	if err := p.pub.JobStarted(ctx, job.Channel, job.ID); err != nil {
		log.Printf("worker: publish job_started for %s: %v", job.ID, err)
	}
	_ = p.store.UpdateProgress(ctx, job.ID, 0)

	rep := &Reporter{pub: p.pub, store: p.store, channel: job.Channel, jobID: job.ID}
	payload, err := p.runJob(ctx, job, rep)
	if err != nil {
		_ = p.store.MarkError(ctx, job.ID, err.Error())
		if pubErr := p.pub.Error(ctx, job.Channel, job.ID, err.Error()); pubErr != nil {
			log.Printf("worker: publish error for %s: %v", job.ID, pubErr)
		}
		_ = p.queue.Ack(ctx, job.ID)
		telemetry.JobsFailed.Inc()
		return true, nil
	}

	_ = p.store.MarkComplete(ctx, job.ID)
	if pubErr := p.pub.Complete(ctx, job.Channel, job.ID, payload); pubErr != nil {
		log.Printf("worker: publish complete for %s: %v", job.ID, pubErr)
	}
	_ = p.queue.Ack(ctx, job.ID)
	telemetry.JobsCompleted.Inc()
	return true, nil
}

func (p *Processor) runJob(ctx context.Context, job models.Job, rep *Reporter) (map[string]any, error) {
	handler, ok := p.handlers[job.ProcessType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for process type %q", job.ProcessType)
	}
	return handler(ctx, job, rep)
}
