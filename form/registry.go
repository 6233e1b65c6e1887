package form

import "sync"

// Registry maps each conversation to its current form instance. It is the only
// shared mutable structure of the engine; at most one instance is registered per
// conversation.
type Registry struct {
	mu    sync.RWMutex
	forms map[string]*Instance
}

func NewRegistry() *Registry {
	return &Registry{forms: make(map[string]*Instance)}
}

// SetForm installs inst for the conversation, discarding any previous instance.
// A nil inst clears the conversation.
func (r *Registry) SetForm(conversation string, inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.forms[conversation]; ok && prev != inst {
		prev.close()
	}
	if inst == nil {
		delete(r.forms, conversation)
		return
	}
	r.forms[conversation] = inst
}

// ResetForm removes the conversation's instance. Calling it again is a no-op.
func (r *Registry) ResetForm(conversation string) {
	r.SetForm(conversation, nil)
}

// GetForm returns the conversation's instance, or nil when no flow is active.
func (r *Registry) GetForm(conversation string) *Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.forms[conversation]
}

// Owns reports whether inst is the instance currently registered for its conversation.
func (r *Registry) Owns(inst *Instance) bool {
	if inst == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.forms[inst.conversation] == inst
}

// Len returns the number of conversations with an active flow.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.forms)
}

// Apply commits a handler's staged writes and performs its outcome as a single
// step. Nothing is written when the scope's instance has been superseded.
func (r *Registry) Apply(s *Scope, o Outcome) (Transition, error) {
	if o.action == actionReject {
		return Transition{Rejected: true, Message: o.message, Values: s.base.clone()}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inst := s.instance
	if r.forms[inst.conversation] != inst {
		return Transition{}, ErrSuperseded
	}

	move := o.action == actionNext || o.action == actionDone
	next := ""
	if o.action == actionNext {
		next = o.next
	}
	values, err := inst.commit(s.staged, next, move)
	if err != nil {
		return Transition{}, err
	}

	t := Transition{Values: values, Message: o.message}
	switch o.action {
	case actionNext:
		t.Prompt = inst.def.fields[next]
	case actionEnd:
		delete(r.forms, inst.conversation)
		inst.close()
		t.Ended = true
		t.Task = o.task
	}
	return t, nil
}

// Start installs a fresh instance of def for the conversation, replacing any
// previous one, and activates the start field.
func (r *Registry) Start(conversation string, def *Definition) (*Instance, Transition) {
	inst := NewInstance(def, conversation)
	inst.active = def.start

	r.SetForm(conversation, inst)
	return inst, Transition{Prompt: def.fields[def.start], Values: inst.GetValues()}
}
