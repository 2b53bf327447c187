package jobstate

import (
	"strings"
	"sync"

	"studyflow/internal/models"
)

// Lifecycle states for one tracked job. Complete and Error are terminal;
// once reached, no further event changes the machine. Tracking a new job
// means constructing a new Machine.
const (
	StateIdle       = "idle"
	StateConnecting = "connecting"
	StateGenerating = "generating"
	StateComplete   = "complete"
	StateError      = "error"
)

// Snapshot is a point-in-time view of a machine, safe to hand to callers.
type Snapshot struct {
	ProcessType string
	State       string
	Progress    int
	Content     string
	Err         string
	Payload     map[string]any
}

// Terminal reports whether the snapshot is in a terminal state.
func (s Snapshot) Terminal() bool {
	return s.State == StateComplete || s.State == StateError
}

// Options carries the optional one-shot callbacks fired on terminal events.
type Options struct {
	OnComplete func(payload map[string]any)
	OnError    func(message string)
}

// Machine folds the ordered event stream for one channel into a lifecycle
// state plus an advisory progress percentage. Progress values are clamped to
// [0,100]; the first terminal event wins and later events are ignored.
type Machine struct {
	mu          sync.Mutex
	processType string
	state       string
	progress    int
	content     strings.Builder
	errMsg      string
	payload     map[string]any
	opts        Options

	updates chan Snapshot
	done    chan struct{}
}

// New constructs a machine in the idle state for one job.
func New(processType string, opts Options) *Machine {
	return &Machine{
		processType: processType,
		state:       StateIdle,
		opts:        opts,
		updates:     make(chan Snapshot, 32),
		done:        make(chan struct{}),
	}
}

// MarkConnecting records that the channel subscription is being established.
// It is a no-op once any event has been applied or a terminal state reached.
func (m *Machine) MarkConnecting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return
	}
	m.state = StateConnecting
	m.publish()
}

// Apply feeds one channel event into the machine. Events with unknown types
// are ignored; events arriving after a terminal state are ignored. Terminal
// callbacks run on the calling goroutine, outside the machine's lock.
func (m *Machine) Apply(ev models.Event) {
	fire := m.apply(ev)
	if fire != nil {
		fire()
	}
}

func (m *Machine) apply(ev models.Event) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateComplete || m.state == StateError {
		return nil
	}

	switch ev.Type {
	case models.EventJobStarted:
		m.state = StateGenerating
		if ev.Progress != nil {
			m.progress = clamp(*ev.Progress)
		}
		m.publish()
	case models.EventProgress:
		// A progress event implies the job is running even if job_started
		// was never observed on this channel.
		m.state = StateGenerating
		if ev.Progress != nil {
			m.progress = clamp(*ev.Progress)
		}
		if ev.Content != "" {
			m.content.WriteString(ev.Content)
		}
		m.publish()
	case models.EventComplete:
		m.state = StateComplete
		m.progress = 100
		m.payload = ev.Payload
		m.publish()
		close(m.done)
		if cb := m.opts.OnComplete; cb != nil {
			m.opts = Options{}
			payload := ev.Payload
			return func() { cb(payload) }
		}
	case models.EventError:
		m.state = StateError
		m.errMsg = ev.Error
		m.publish()
		close(m.done)
		if cb := m.opts.OnError; cb != nil {
			m.opts = Options{}
			msg := ev.Error
			return func() { cb(msg) }
		}
	}
	return nil
}

// Snapshot returns the current state of the machine.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Updates delivers state transitions as they happen. Intermediate progress
// updates may be dropped under backpressure; the terminal state is always
// observable via Snapshot and Done.
func (m *Machine) Updates() <-chan Snapshot {
	return m.updates
}

// Done is closed when the machine reaches a terminal state.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		ProcessType: m.processType,
		State:       m.state,
		Progress:    m.progress,
		Content:     m.content.String(),
		Err:         m.errMsg,
		Payload:     m.payload,
	}
}

func (m *Machine) publish() {
	select {
	case m.updates <- m.snapshotLocked():
	default:
	}
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
