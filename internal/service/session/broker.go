package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/rabbitt-console/internal/notify"
)

// EventType identifies a session event.
type EventType string

const (
	EventHydration  EventType = "hydration"
	EventNotice     EventType = "notice"
	EventInput      EventType = "input"
	EventVoiceState EventType = "voice_state"
	EventChat       EventType = "chat"
	EventSpeech     EventType = "speech"
)

// Event is one message relayed to subscribers.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
	At   time.Time `json:"at"`
}

const defaultSubscriberBuffer = 32

// Broker fans session events out to subscribers. Sends never block: a
// subscriber that falls behind loses events.
type Broker struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker(logger zerolog.Logger) *Broker {
	return &Broker{
		logger: logger.With().Str("component", "broker").Logger(),
		subs:   make(map[int]chan Event),
	}
}

// Subscribe returns an event channel and a cancel func. The channel closes
// on cancel or when the broker closes.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, defaultSubscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers data to every subscriber.
func (b *Broker) Publish(t EventType, data any) {
	ev := Event{Type: t, Data: data, At: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Debug().Int("subscriber", id).Str("event", string(t)).Msg("subscriber lagging, event dropped")
		}
	}
}

// Notify implements notify.Sink.
func (b *Broker) Notify(n notify.Notice) {
	b.Publish(EventNotice, n)
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
