package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"studyflow/internal/models"
)

// Publisher emits job lifecycle events on a job's channel. Redis preserves
// publish order per channel, which is the only ordering consumers rely on.
type Publisher struct {
	client *redis.Client
}

// NewPublisher builds a publisher over an existing Redis client.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish sends one event, stamping the timestamp if unset.
func (p *Publisher) Publish(ctx context.Context, channel string, ev models.Event) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	raw, err := marshalEvent(ev)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s on %s: %w", ev.Type, channel, err)
	}
	return nil
}

// JobStarted announces that a worker picked the job up.
func (p *Publisher) JobStarted(ctx context.Context, channel, jobID string) error {
	return p.Publish(ctx, channel, models.Event{Type: models.EventJobStarted, JobID: jobID})
}

// Progress reports an advisory completion percentage.
func (p *Publisher) Progress(ctx context.Context, channel, jobID string, percent int) error {
	return p.Publish(ctx, channel, models.Event{Type: models.EventProgress, JobID: jobID, Progress: &percent})
}

// Content streams one incremental text fragment (chat turns).
func (p *Publisher) Content(ctx context.Context, channel, jobID, fragment string) error {
	return p.Publish(ctx, channel, models.Event{Type: models.EventProgress, JobID: jobID, Content: fragment})
}

// Complete marks the job finished, carrying the result payload.
func (p *Publisher) Complete(ctx context.Context, channel, jobID string, payload map[string]any) error {
	return p.Publish(ctx, channel, models.Event{Type: models.EventComplete, JobID: jobID, Payload: payload})
}

// Error marks the job failed with a caller-visible message.
func (p *Publisher) Error(ctx context.Context, channel, jobID, message string) error {
	return p.Publish(ctx, channel, models.Event{Type: models.EventError, JobID: jobID, Error: message})
}

func marshalEvent(ev models.Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return raw, nil
}
