package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

var (
	ErrValveExists   = errors.New("valve already exists")
	ErrValveNotFound = errors.New("valve not found")
	ErrValveInvalid  = errors.New("invalid valve")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventValveAdded EventType = iota
	EventValveToggled
	EventValveRemoved
)

func (t EventType) String() string {
	switch t {
	case EventValveAdded:
		return "added"
	case EventValveToggled:
		return "toggled"
	case EventValveRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type  EventType
	Valve model.ValveDefinition

	// Changed is set on toggle events that flipped the open flag.
	Changed bool
}

// KnowledgeBase is the simulation's registry of valve devices. The tick
// loop iterates it directly instead of querying a generic entity store.
type KnowledgeBase struct {
	mu sync.RWMutex

	valves map[string]*model.ValveDefinition

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		valves: make(map[string]*model.ValveDefinition),
		subs:   make(map[int]func(Event)),
	}
}

// AddValve registers a valve. Empty port names are filled with the model
// defaults. It returns an error if the ID is empty or already taken.
func (kb *KnowledgeBase) AddValve(v model.ValveDefinition) (model.ValveDefinition, error) {
	if v.ID == "" {
		return model.ValveDefinition{}, fmt.Errorf("%w: empty valve ID", ErrValveInvalid)
	}
	v = v.WithDefaults()
	if v.InletName == v.OutletName {
		return model.ValveDefinition{}, fmt.Errorf("%w: %q uses port %q as both inlet and outlet", ErrValveInvalid, v.ID, v.InletName)
	}

	kb.mu.Lock()
	if _, exists := kb.valves[v.ID]; exists {
		kb.mu.Unlock()
		return model.ValveDefinition{}, fmt.Errorf("%w: %q", ErrValveExists, v.ID)
	}
	stored := v
	kb.valves[v.ID] = &stored
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventValveAdded, Valve: v})
	return v, nil
}

// GetValve returns a copy of the valve with the given ID.
func (kb *KnowledgeBase) GetValve(id string) (model.ValveDefinition, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	v, ok := kb.valves[id]
	if !ok {
		return model.ValveDefinition{}, fmt.Errorf("%w: %q", ErrValveNotFound, id)
	}
	return *v, nil
}

// SetValveOpen stores the open flag and notifies subscribers. changed
// reports whether the flag differed before the call. The event fires on
// every call, including when the flag already had that value.
func (kb *KnowledgeBase) SetValveOpen(id string, open bool) (v model.ValveDefinition, changed bool, err error) {
	kb.mu.Lock()
	stored, ok := kb.valves[id]
	if !ok {
		kb.mu.Unlock()
		return model.ValveDefinition{}, false, fmt.Errorf("%w: %q", ErrValveNotFound, id)
	}
	changed = stored.Open != open
	stored.Open = open
	out := *stored
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventValveToggled, Valve: out, Changed: changed})
	return out, changed, nil
}

// RemoveValve deletes a valve registration.
func (kb *KnowledgeBase) RemoveValve(id string) error {
	kb.mu.Lock()
	v, ok := kb.valves[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrValveNotFound, id)
	}
	delete(kb.valves, id)
	out := *v
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventValveRemoved, Valve: out})
	return nil
}

// ListValves returns copies of all valves sorted by ID, so the tick order
// is stable between frames.
func (kb *KnowledgeBase) ListValves() []model.ValveDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.ValveDefinition, 0, len(kb.valves))
	for _, v := range kb.valves {
		res = append(res, *v)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Len returns the number of registered valves.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.valves)
}

// CountOpen returns the number of valves whose flag is open.
func (kb *KnowledgeBase) CountOpen() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	n := 0
	for _, v := range kb.valves {
		if v.Open {
			n++
		}
	}
	return n
}

// Clear removes all valves without notifying subscribers.
func (kb *KnowledgeBase) Clear() {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.valves = make(map[string]*model.ValveDefinition)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

// NOTE: caller must hold kb.mu.
func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, kb.subs[id])
	}
	return out
}

// notify runs outside the lock so subscribers may call back into the KB.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
