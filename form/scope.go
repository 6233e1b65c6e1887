package form

import (
	"context"

	"github.com/yhwhpe/unrug-agent/events"
)

// Scope is what a handler sees: the accepted value, the triggering event, and a
// staging area for writes. Staged writes reach the instance only when the
// handler's outcome is applied, so a rejected or failed step leaves no trace.
type Scope struct {
	registry *Registry
	instance *Instance
	field    *Field
	event    events.Event
	value    any
	base     Values
	staged   Values
}

// NewScope prepares a handler run for field of inst, staging value as the
// field's own value.
func NewScope(r *Registry, inst *Instance, field *Field, ev events.Event, value any) *Scope {
	return &Scope{
		registry: r,
		instance: inst,
		field:    field,
		event:    ev,
		value:    value,
		base:     inst.GetValues(),
		staged:   Values{field.name: value},
	}
}

func (s *Scope) Conversation() string    { return s.instance.conversation }
func (s *Scope) Event() events.Event     { return s.event }
func (s *Scope) Field() *Field           { return s.field }
func (s *Scope) Instance() *Instance     { return s.instance }
func (s *Scope) Definition() *Definition { return s.instance.def }

// Values returns the collected values with this step's staged writes applied.
func (s *Scope) Values() Values {
	out := s.base.clone()
	for name, value := range s.staged {
		out[name] = value
	}
	return out
}

// Current reports whether the instance still owns the conversation. Handlers
// check it after a suspension before performing side effects.
func (s *Scope) Current() bool {
	return s.registry.Owns(s.instance)
}

// Stage records a write to be committed with the outcome.
func Stage[V any](s *Scope, k Key[V], v V) {
	s.staged[k.name] = v
}

// Unset stages clearing a field back to no value.
func (s *Scope) Unset(name string) {
	s.staged[name] = nil
}

type action int

const (
	actionStay action = iota
	actionNext
	actionReject
	actionDone
	actionEnd
)

// Task runs after a flow has ended, outside the conversation's event lane.
// values is the final snapshot of the discarded instance.
type Task func(ctx context.Context, values Values)

// Outcome is a handler's decision about the step it handled.
type Outcome struct {
	action  action
	next    string
	message string
	task    Task
}

// Next commits the step and activates field, prompting it. Returning the field
// that is already active repeats its prompt.
func Next(field string) Outcome { return Outcome{action: actionNext, next: field} }

// Stay commits the step without changing the active field or prompting.
func Stay() Outcome { return Outcome{action: actionStay} }

// Reject discards the step. The field stays active and message is sent.
func Reject(message string) Outcome { return Outcome{action: actionReject, message: message} }

// Done commits the step and clears the active field.
func Done() Outcome { return Outcome{action: actionDone} }

// End terminates the flow and removes it from the registry. message, when set,
// is sent once the flow is gone.
func End(message string) Outcome { return Outcome{action: actionEnd, message: message} }

// Then attaches a task run after the flow has ended. Only meaningful with End.
func (o Outcome) Then(task Task) Outcome {
	o.task = task
	return o
}

// WithMessage sets the message sent before the next prompt.
func (o Outcome) WithMessage(message string) Outcome {
	o.message = message
	return o
}

func (o Outcome) IsReject() bool    { return o.action == actionReject }
func (o Outcome) IsEnd() bool       { return o.action == actionEnd }
func (o Outcome) NextField() string { return o.next }
func (o Outcome) Message() string   { return o.message }

// Transition is the applied result of an Outcome.
type Transition struct {
	// Prompt is the field to prompt, nil when nothing should be shown.
	Prompt *Field
	// Values is the committed value set after the step.
	Values   Values
	Ended    bool
	Rejected bool
	Message  string
	Task     Task
}
