package bus

import (
	"sort"
	"sync"

	"github.com/lunixbochs/fvbommel-util/sortorder"
	"github.com/pkg/errors"
)

// RxFunc handles one inbound message for a topic.
type RxFunc func(p Payload) error

// Model is a peripheral model attached to the bus. Tx lists the events it
// publishes and Rx the events it consumes; both are relative to Name.
type Model interface {
	Name() string
	Tx() []string
	Rx() map[string]RxFunc
}

// Publisher is the outbound half of the bus as seen by models.
type Publisher interface {
	Tx(model, event string, p Payload) error
}

var ErrDuplicateTopic = errors.New("topic already has a handler")

// Registry is the topic table: one handler per inbound topic plus the set
// of outbound topics each model declared.
type Registry struct {
	mu       sync.RWMutex
	models   map[string]Model
	handlers map[string]RxFunc
	tx       map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		models:   make(map[string]Model),
		handlers: make(map[string]RxFunc),
		tx:       make(map[string]string),
	}
}

// Add resolves a model's topics into the table.
func (r *Registry) Add(m Model) error {
	name := m.Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[name]; ok {
		return errors.Errorf("model %q registered twice", name)
	}
	rx := m.Rx()
	for event := range rx {
		topic := MakeTopic(name, event)
		if _, ok := r.handlers[topic]; ok {
			return errors.Wrap(ErrDuplicateTopic, topic)
		}
	}
	for event, fn := range rx {
		r.handlers[MakeTopic(name, event)] = fn
	}
	for _, event := range m.Tx() {
		r.tx[MakeTopic(name, event)] = name
	}
	r.models[name] = m
	return nil
}

// Handle binds a bare topic. External devices use this for topics that
// belong to the emulator side.
func (r *Registry) Handle(topic string, fn RxFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[topic]; ok {
		return errors.Wrap(ErrDuplicateTopic, topic)
	}
	r.handlers[topic] = fn
	return nil
}

func (r *Registry) Handler(topic string) (RxFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[topic]
	return fn, ok
}

func (r *Registry) Model(name string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Topics lists the inbound topics in natural order.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Sort(sortorder.Natural(out))
	return out
}

// TxTopics lists the outbound topics declared by models.
func (r *Registry) TxTopics() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.tx))
	for t := range r.tx {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Sort(sortorder.Natural(out))
	return out
}
