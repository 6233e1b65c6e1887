package form

import "fmt"

// Definition is an ordered collection of fields plus the start field. It holds
// no mutable state and can be shared by every conversation.
type Definition struct {
	id     string
	start  string
	order  []string
	fields map[string]*Field
}

// NewDefinition validates and builds a form definition.
func NewDefinition(id, start string, fields ...*Field) (*Definition, error) {
	if id == "" {
		return nil, ErrEmptyDefinition
	}
	d := &Definition{
		id:     id,
		start:  start,
		order:  make([]string, 0, len(fields)),
		fields: make(map[string]*Field, len(fields)),
	}
	for _, f := range fields {
		if _, exists := d.fields[f.name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateField, f.name)
		}
		d.fields[f.name] = f
		d.order = append(d.order, f.name)
	}
	sf, ok := d.fields[start]
	if !ok || sf.kind == KindSlot {
		return nil, fmt.Errorf("%w: %s", ErrNoStartField, start)
	}
	return d, nil
}

// MustDefinition is NewDefinition for package-level declarations.
func MustDefinition(id, start string, fields ...*Field) *Definition {
	d, err := NewDefinition(id, start, fields...)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Definition) ID() string    { return d.id }
func (d *Definition) Start() string { return d.start }

func (d *Definition) Field(name string) (*Field, bool) {
	f, ok := d.fields[name]
	return f, ok
}

// Fields returns the fields in declaration order.
func (d *Definition) Fields() []*Field {
	out := make([]*Field, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.fields[name])
	}
	return out
}

// Defaults returns a fresh value set with an entry for every field.
func (d *Definition) Defaults() Values {
	values := make(Values, len(d.fields))
	for name, f := range d.fields {
		values[name] = f.initial
	}
	return values
}
