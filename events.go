package roleguard

import (
	"sync"
	"time"

	"github.com/roleguard/roleguard/logger"
)

// EventKind names one engine lifecycle event.
type EventKind string

const (
	EventSwitchStart        EventKind = "switch-start"
	EventSwitchSuccess      EventKind = "switch-success"
	EventSwitchFailed       EventKind = "switch-failed"
	EventPermissionsUpdated EventKind = "permissions-updated"
)

// Event is the payload delivered to subscribers.
type Event struct {
	Kind        EventKind
	PrincipalID string
	From        RoleKind
	To          RoleKind
	Reason      string
	Err         error
	Timestamp   time.Time
}

// EventHandler receives published events. Handlers run synchronously in
// publish order; a panicking handler is isolated and logged.
type EventHandler func(Event)

// VetoFunc inspects an imminent switch; returning false aborts it before any
// state mutation.
type VetoFunc func(Event) bool

type subscription struct {
	id      uint64
	handler EventHandler
}

type vetoSubscription struct {
	id   uint64
	veto VetoFunc
}

// EventBus is a small typed publish-subscribe component. Unsubscription is
// safe to call during event delivery: publish iterates a snapshot of the
// handler list.
type EventBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[EventKind][]subscription
	vetoes []vetoSubscription
	log    logger.Logger
}

func NewEventBus(log logger.Logger) *EventBus {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &EventBus{
		subs: make(map[EventKind][]subscription),
		log:  log,
	}
}

// Subscribe registers a handler for one event kind and returns an
// unsubscribe function. Unsubscribing twice is a no-op.
func (b *EventBus) Subscribe(kind EventKind, handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[kind]
			for i, s := range list {
				if s.id == id {
					b.subs[kind] = append(list[:i], list[i+1:]...)
					return
				}
			}
		})
	}
}

// SubscribeVeto registers a pre-switch veto. Vetoes only apply to
// switch-start and run before any state mutation.
func (b *EventBus) SubscribeVeto(veto VetoFunc) func() {
	if veto == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.vetoes = append(b.vetoes, vetoSubscription{id: id, veto: veto})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, v := range b.vetoes {
				if v.id == id {
					b.vetoes = append(b.vetoes[:i], b.vetoes[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers the event to every subscriber of its kind. Handler panics
// are caught per handler so one observer can never break another, nor fail
// an otherwise-successful switch.
func (b *EventBus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.RLock()
	snapshot := append([]subscription(nil), b.subs[ev.Kind]...)
	b.mu.RUnlock()

	for _, s := range snapshot {
		b.deliver(s, ev)
	}
}

func (b *EventBus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panic", "kind", string(ev.Kind), "principal", ev.PrincipalID, "panic", r)
		}
	}()
	s.handler(ev)
}

// CheckVetoes runs every registered veto against an imminent switch. A veto
// that panics counts as a rejection: aborting is the safe direction.
func (b *EventBus) CheckVetoes(ev Event) bool {
	b.mu.RLock()
	snapshot := append([]vetoSubscription(nil), b.vetoes...)
	b.mu.RUnlock()

	for _, v := range snapshot {
		if !b.runVeto(v, ev) {
			return false
		}
	}
	return true
}

func (b *EventBus) runVeto(v vetoSubscription, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("veto handler panic, treating as veto", "principal", ev.PrincipalID, "panic", r)
			ok = false
		}
	}()
	return v.veto(ev)
}
