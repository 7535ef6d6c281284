package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"solasola/internal/logging"
)

// Type names an event kind on the stream.
type Type string

const (
	TypeTaskUpdate     Type = "task_update"
	TypeProgressUpdate Type = "progress_update"
	TypeStatusUpdate   Type = "status_update"
	TypeRefreshAll     Type = "refresh_all"
	TypeHeartbeat      Type = "heartbeat"
)

// DefaultHeartbeat is the idle interval after which Next reports a heartbeat.
const DefaultHeartbeat = 15 * time.Second

// Event is a single message delivered to subscribers.
type Event struct {
	Type    Type           `json:"type"`
	TaskID  string         `json:"task_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Time    time.Time      `json:"time"`
}

// JSON encodes the event for the wire. Encoding failures fall back to a
// bare type marker.
func (e Event) JSON() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"type":"` + string(e.Type) + `"}`)
	}
	return data
}

// Publisher is the write side used by the task and model registries.
type Publisher interface {
	Broadcast(Event)
}

// Broadcaster delivers every broadcast event to all current subscribers.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	logger *slog.Logger
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[*Subscription]struct{}),
		logger: logging.NewComponentLogger(logger, "events"),
	}
}

// Subscribe registers a new subscriber.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{
		owner:  b,
		signal: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	b.logger.Debug("subscriber connected", logging.Int("subscribers", count))
	return sub
}

// Subscribers reports the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Broadcast pushes evt onto every subscriber queue. It never blocks on readers.
func (b *Broadcaster) Broadcast(evt Event) {
	if b == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.push(evt)
	}
	b.logger.Debug("event broadcast",
		logging.String(logging.FieldEventType, string(evt.Type)),
		logging.String(logging.FieldTaskID, evt.TaskID),
		logging.Int("subscribers", len(targets)),
	)
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	count := len(b.subs)
	b.mu.Unlock()
	b.logger.Debug("subscriber disconnected", logging.Int("subscribers", count))
}

// Subscription is one subscriber's queue.
type Subscription struct {
	owner  *Broadcaster
	mu     sync.Mutex
	queue  []Event
	closed bool
	signal chan struct{}
	once   sync.Once
}

func (s *Subscription) push(evt Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	evt := s.queue[0]
	s.queue[0] = Event{}
	s.queue = s.queue[1:]
	return evt, true
}

// Pending reports how many events are queued.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Next waits for the next event. It returns a heartbeat event when nothing
// arrives within timeout, and false once ctx is done or the subscription
// is closed.
func (s *Subscription) Next(ctx context.Context, timeout time.Duration) (Event, bool) {
	if timeout <= 0 {
		timeout = DefaultHeartbeat
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if evt, ok := s.pop(); ok {
			return evt, true
		}
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, false
		}
		select {
		case <-ctx.Done():
			return Event{}, false
		case <-s.signal:
		case <-timer.C:
			return Event{Type: TypeHeartbeat, Time: time.Now().UTC()}, true
		}
	}
}

// Unsubscribe detaches the subscription. Calling it more than once is safe.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		select {
		case s.signal <- struct{}{}:
		default:
		}
		if s.owner != nil {
			s.owner.remove(s)
		}
	})
}
