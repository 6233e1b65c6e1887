package form

import (
	"sync"

	"github.com/google/uuid"
)

// Instance binds a Definition to one conversation and holds the values collected
// so far and the field currently awaiting input.
type Instance struct {
	mu           sync.Mutex
	def          *Definition
	conversation string
	generation   string
	values       Values
	active       string
	closed       bool
}

// NewInstance creates an instance with the definition's default values and no
// active field.
func NewInstance(def *Definition, conversation string) *Instance {
	return &Instance{
		def:          def,
		conversation: conversation,
		generation:   uuid.NewString(),
		values:       def.Defaults(),
	}
}

func (i *Instance) Definition() *Definition { return i.def }
func (i *Instance) Conversation() string    { return i.conversation }

// Generation identifies this instance among all instances ever started for the
// conversation.
func (i *Instance) Generation() string { return i.generation }

// SetValue stores value for field without validation. It fails only for unknown
// fields and for instances that have been discarded, leaving the values untouched.
func (i *Instance) SetValue(field string, value any) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrInstanceClosed
	}
	if _, ok := i.def.fields[field]; !ok {
		return ErrUnknownField
	}
	i.values[field] = value
	return nil
}

// GetValues returns a snapshot of every field's current value.
func (i *Instance) GetValues() Values {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.values.clone()
}

// SetActiveField selects the field awaiting input. An empty name means the form
// waits for a terminal action or is done.
func (i *Instance) SetActiveField(field string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrInstanceClosed
	}
	if err := i.checkActive(field); err != nil {
		return err
	}
	i.active = field
	return nil
}

func (i *Instance) GetActiveField() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active
}

// Closed reports whether the instance was replaced or reset in its registry.
func (i *Instance) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

func (i *Instance) close() {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()
}

func (i *Instance) checkActive(field string) error {
	if field == "" {
		return nil
	}
	f, ok := i.def.fields[field]
	if !ok {
		return ErrUnknownField
	}
	if f.kind == KindSlot {
		return ErrNotInteractive
	}
	return nil
}

// commit applies staged writes and the next active field in one step. Caller
// holds the registry lock.
func (i *Instance) commit(staged Values, next string, move bool) (Values, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, ErrInstanceClosed
	}
	if move {
		if err := i.checkActive(next); err != nil {
			return nil, err
		}
	}
	for name := range staged {
		if _, ok := i.def.fields[name]; !ok {
			return nil, ErrUnknownField
		}
	}
	for name, value := range staged {
		i.values[name] = value
	}
	if move {
		i.active = next
	}
	return i.values.clone(), nil
}
