package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"studyflow/internal/models"
	"studyflow/internal/telemetry"
)

// ErrEmptyChannel is returned when Subscribe is called before the caller
// knows the channel identifier.
var ErrEmptyChannel = errors.New("pubsub: empty channel")

// EventFunc receives decoded events for one channel, in arrival order.
type EventFunc func(ev models.Event)

// Handle represents one logical channel subscription. Unsubscribe is safe to
// call at any time and any number of times.
type Handle struct {
	sub     *Subscriber
	channel string
}

// Unsubscribe stops event delivery for this handle's channel immediately.
// Events already dequeued from the transport but not yet dispatched are
// dropped, not delivered. Redundant calls are no-ops.
func (h *Handle) Unsubscribe() {
	if h == nil {
		return
	}
	h.sub.release(h.channel)
}

// Subscriber multiplexes all active channel subscriptions over one shared
// Redis Pub/Sub connection. The connection exists only while at least one
// subscription is active; a dropped connection is retried with bounded
// exponential backoff (1s, 2s, 4s, 8s, 16s, then capped).
type Subscriber struct {
	client *redis.Client

	mu       sync.Mutex
	handlers map[string]EventFunc
	handles  map[string]*Handle
	ps       *redis.PubSub
	cancel   context.CancelFunc
}

// NewSubscriber builds a subscriber over an existing Redis client.
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{
		client:   client,
		handlers: make(map[string]EventFunc),
		handles:  make(map[string]*Handle),
	}
}

// Subscribe binds fn to channel. Subscribing to a channel that already has
// an active subscription is a no-op returning the existing handle.
func (s *Subscriber) Subscribe(ctx context.Context, channel string, fn EventFunc) (*Handle, error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handles[channel]; ok {
		return h, nil
	}

	if s.ps == nil {
		runCtx, cancel := context.WithCancel(context.Background())
		s.ps = s.client.Subscribe(runCtx)
		s.cancel = cancel
		go s.receive(runCtx, s.ps)
	}
	if err := s.ps.Subscribe(ctx, channel); err != nil {
		// Other channels stay attached to the shared connection; only an
		// otherwise idle connection is torn down.
		if len(s.handles) == 0 {
			s.teardownLocked()
		}
		return nil, err
	}

	h := &Handle{sub: s, channel: channel}
	s.handlers[channel] = fn
	s.handles[channel] = h
	telemetry.ActiveSubscriptions.Inc()
	return h, nil
}

// Close tears down every active subscription and the shared connection.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.handles {
		delete(s.handlers, ch)
		delete(s.handles, ch)
		telemetry.ActiveSubscriptions.Dec()
	}
	s.teardownLocked()
}

func (s *Subscriber) release(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[channel]; !ok {
		return
	}
	delete(s.handlers, channel)
	delete(s.handles, channel)
	telemetry.ActiveSubscriptions.Dec()
	if s.ps != nil {
		_ = s.ps.Unsubscribe(context.Background(), channel)
	}
	if len(s.handles) == 0 {
		s.teardownLocked()
	}
}

func (s *Subscriber) teardownLocked() {
	if s.ps != nil {
		_ = s.ps.Close()
		s.ps = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// receive pumps messages off the shared connection until it is torn down.
func (s *Subscriber) receive(ctx context.Context, ps *redis.PubSub) {
	attempt := 0
	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || !s.alive(ps) {
				return
			}
			delay := backoffDelay(attempt)
			attempt++
			telemetry.TransportReconnects.Inc()
			log.Printf("pubsub: receive failed, retrying in %s: %v", delay, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
		s.dispatch(msg.Channel, msg.Payload)
	}
}

func (s *Subscriber) alive(ps *redis.PubSub) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ps == ps
}

// dispatch decodes and delivers one raw message. The handler lookup happens
// at delivery time so an unsubscribe racing with an in-flight message drops
// the message instead of delivering it.
func (s *Subscriber) dispatch(channel, payload string) {
	var ev models.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		telemetry.MalformedEvents.Inc()
		log.Printf("pubsub: dropping malformed event on %s: %v", channel, err)
		return
	}

	s.mu.Lock()
	fn := s.handlers[channel]
	s.mu.Unlock()
	if fn == nil {
		return
	}
	fn(ev)
}

// backoffDelay returns the reconnect delay for the given attempt number:
// 1s, 2s, 4s, 8s, 16s, then 16s forever.
func backoffDelay(attempt int) time.Duration {
	if attempt > 4 {
		attempt = 4
	}
	return time.Second << attempt
}
