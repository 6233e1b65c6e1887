package form

import (
	"context"
	"fmt"
	"strings"
)

// Kind is how a field receives its input.
type Kind string

const (
	KindText   Kind = "text"
	KindChoice Kind = "choice"
	// KindSlot fields hold aggregated values written by other handlers; they never
	// become active and receive no input.
	KindSlot Kind = "slot"
)

// Values holds the current value of every field of a form, keyed by field name.
// Values are shared by reference between snapshots, so handlers replace slices
// and maps instead of mutating them in place.
type Values map[string]any

func (v Values) clone() Values {
	out := make(Values, len(v))
	for name, value := range v {
		out[name] = value
	}
	return out
}

// Key names a field and fixes the type of its value.
type Key[V any] struct {
	name string
}

func NewKey[V any](name string) Key[V] {
	return Key[V]{name: name}
}

func (k Key[V]) Name() string { return k.name }

// Get returns the value stored for k. ok is false when the field is unset.
func Get[V any](values Values, k Key[V]) (V, bool) {
	v, ok := values[k.name].(V)
	return v, ok
}

// Value returns the value stored for k, or the zero value when it is unset.
// Use it where the flow guarantees that an earlier step populated the field.
func Value[V any](values Values, k Key[V]) V {
	v, _ := Get(values, k)
	return v
}

// Choice is one button of a choice field.
type Choice struct {
	Key   string
	Title string
}

// Prompt renders the message shown when a field becomes active. It is evaluated
// at that moment, against the values collected so far.
type Prompt func(values Values) string

// Static is a prompt that does not depend on the collected values.
func Static(text string) Prompt {
	return func(Values) string { return text }
}

// Handler runs after a field's input has been accepted and decides what happens next.
type Handler func(ctx context.Context, s *Scope) (Outcome, error)

// Field is the immutable declaration of one step.
type Field struct {
	name    string
	kind    Kind
	initial any
	prompt  Prompt
	choices []Choice
	parse   func(raw string) (any, error)
	handle  Handler
}

func (f *Field) Name() string      { return f.name }
func (f *Field) Kind() Kind        { return f.kind }
func (f *Field) Initial() any      { return f.initial }
func (f *Field) Choices() []Choice { return f.choices }

// Prompt evaluates the field's prompt against values.
func (f *Field) Prompt(values Values) string {
	if f.prompt == nil {
		return ""
	}
	return f.prompt(values)
}

// HasChoice reports whether key is one of the declared choices.
func (f *Field) HasChoice(key string) bool {
	for _, c := range f.choices {
		if c.Key == key {
			return true
		}
	}
	return false
}

// Parse validates raw text input for a text field. Failures are *ValidationError.
func (f *Field) Parse(raw string) (any, error) {
	if f.parse == nil {
		return nil, fmt.Errorf("field %s does not accept text", f.name)
	}
	return f.parse(raw)
}

// Handle runs the field handler against a scope created for this field.
func (f *Field) Handle(ctx context.Context, s *Scope) (Outcome, error) {
	if f.handle == nil {
		return Stay(), nil
	}
	return f.handle(ctx, s)
}

// TextSpec declares a free-text field whose accepted value has type V.
type TextSpec[V any] struct {
	Prompt  Prompt
	Initial *V
	// Validate parses raw input. When nil, any non-empty input is accepted
	// verbatim, which requires V to be string.
	Validate func(raw string) (V, error)
	Handle   func(ctx context.Context, s *Scope, value V) (Outcome, error)
}

// Text declares a free-text field.
func Text[V any](key Key[V], spec TextSpec[V]) *Field {
	validate := spec.Validate
	if validate == nil {
		var zero V
		if _, ok := any(zero).(string); !ok {
			panic(fmt.Sprintf("form: text field %s of type %T needs a validator", key.name, zero))
		}
		validate = func(raw string) (V, error) {
			var v V
			if strings.TrimSpace(raw) == "" {
				return v, Invalid("Please provide a value.")
			}
			return any(raw).(V), nil
		}
	}

	f := &Field{
		name:   key.name,
		kind:   KindText,
		prompt: spec.Prompt,
		parse: func(raw string) (any, error) {
			return validate(raw)
		},
	}
	if spec.Initial != nil {
		f.initial = *spec.Initial
	}
	if spec.Handle != nil {
		handle := spec.Handle
		f.handle = func(ctx context.Context, s *Scope) (Outcome, error) {
			v, _ := s.value.(V)
			return handle(ctx, s, v)
		}
	}
	return f
}

// ChoiceSpec declares a field resolved by pressing one of its buttons.
type ChoiceSpec struct {
	Prompt  Prompt
	Choices []Choice
	Handle  func(ctx context.Context, s *Scope, key string) (Outcome, error)
}

// Select declares a choice field. The selected key becomes the field's value.
func Select(key Key[string], spec ChoiceSpec) *Field {
	f := &Field{
		name:    key.name,
		kind:    KindChoice,
		prompt:  spec.Prompt,
		choices: append([]Choice(nil), spec.Choices...),
	}
	if spec.Handle != nil {
		handle := spec.Handle
		f.handle = func(ctx context.Context, s *Scope) (Outcome, error) {
			v, _ := s.value.(string)
			return handle(ctx, s, v)
		}
	}
	return f
}

// Slot declares a storage-only field with an initial value.
func Slot[V any](key Key[V], initial V) *Field {
	return &Field{name: key.name, kind: KindSlot, initial: initial}
}

// GoTo is a handler that always moves to next.
func GoTo[V any](next string) func(context.Context, *Scope, V) (Outcome, error) {
	return func(context.Context, *Scope, V) (Outcome, error) {
		return Next(next), nil
	}
}

// Branch is a handler whose next field is computed from the values collected so
// far, including the value just accepted.
func Branch[V any](next func(values Values) string) func(context.Context, *Scope, V) (Outcome, error) {
	return func(_ context.Context, s *Scope, _ V) (Outcome, error) {
		return Next(next(s.Values())), nil
	}
}
