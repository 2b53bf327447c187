package tracker

import (
	"context"
	"sync"

	"studyflow/internal/jobstate"
	"studyflow/internal/models"
	"studyflow/internal/pubsub"
	"studyflow/internal/telemetry"
)

// Tracker binds channel subscriptions to job state machines. One Tracker
// serves all concurrently tracked jobs over the subscriber's shared
// transport connection.
type Tracker struct {
	sub *pubsub.Subscriber
}

// New builds a tracker over sub.
func New(sub *pubsub.Subscriber) *Tracker {
	return &Tracker{sub: sub}
}

// TrackedJob is one live binding of a channel to a state machine. Stop is
// the cancellation primitive: callable at any time, any number of times,
// including before the first event arrives.
type TrackedJob struct {
	machine *jobstate.Machine

	mu     sync.Mutex
	handle *pubsub.Handle
	stop   sync.Once
}

// Track subscribes to channel and feeds its events into a fresh state
// machine for processType. The subscription is released automatically when
// the job reaches a terminal state. Tracking fails on an empty channel.
func (t *Tracker) Track(ctx context.Context, channel, processType string, opts jobstate.Options) (*TrackedJob, error) {
	m := jobstate.New(processType, opts)
	j := &TrackedJob{machine: m}

	m.MarkConnecting()
	handle, err := t.sub.Subscribe(ctx, channel, func(ev models.Event) {
		wasTerminal := m.Snapshot().Terminal()
		m.Apply(ev)
		snap := m.Snapshot()
		if wasTerminal || !snap.Terminal() {
			return
		}
		if snap.State == jobstate.StateComplete {
			telemetry.JobsCompleted.Inc()
		} else {
			telemetry.JobsFailed.Inc()
		}
		j.Stop()
	})
	if err != nil {
		return nil, err
	}

	j.mu.Lock()
	j.handle = handle
	j.mu.Unlock()
	// The terminal event may have been dispatched before the handle was
	// recorded; releasing again is harmless either way.
	if m.Snapshot().Terminal() {
		j.Stop()
	}
	return j, nil
}

// Snapshot returns the job's current state, progress, and error.
func (j *TrackedJob) Snapshot() jobstate.Snapshot {
	return j.machine.Snapshot()
}

// Updates streams state transitions; see jobstate.Machine.Updates.
func (j *TrackedJob) Updates() <-chan jobstate.Snapshot {
	return j.machine.Updates()
}

// Done is closed when the job reaches a terminal state.
func (j *TrackedJob) Done() <-chan struct{} {
	return j.machine.Done()
}

// Stop releases the channel subscription. Events already dequeued but not
// yet dispatched are dropped. Redundant calls are no-ops.
func (j *TrackedJob) Stop() {
	j.mu.Lock()
	h := j.handle
	j.mu.Unlock()
	if h == nil {
		return
	}
	j.stop.Do(h.Unsubscribe)
}
