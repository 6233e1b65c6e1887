package form

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yhwhpe/unrug-agent/events"
)

var (
	nameKey   = NewKey[string]("name")
	symbolKey = NewKey[string]("symbol")
	doneKey   = NewKey[string]("done")
	itemsKey  = NewKey[[]string]("items")
)

func testDefinition(t *testing.T) *Definition {
	t.Helper()
	def, err := NewDefinition("test", "name",
		Text(nameKey, TextSpec[string]{
			Prompt:   Static("name?"),
			Validate: Length(2, 256, "Name"),
			Handle:   GoTo[string]("symbol"),
		}),
		Text(symbolKey, TextSpec[string]{
			Prompt: func(v Values) string { return "symbol for " + Value(v, nameKey) + "?" },
			Handle: GoTo[string]("done"),
		}),
		Select(doneKey, ChoiceSpec{
			Prompt:  Static("confirm?"),
			Choices: []Choice{{Key: "ok", Title: "OK"}, {Key: "cancel", Title: "Cancel"}},
		}),
		Slot(itemsKey, []string{}),
	)
	require.NoError(t, err)
	return def
}

func TestNewDefinitionRejectsBadDeclarations(t *testing.T) {
	_, err := NewDefinition("", "a", Text(NewKey[string]("a"), TextSpec[string]{}))
	assert.ErrorIs(t, err, ErrEmptyDefinition)

	_, err = NewDefinition("x", "a",
		Text(NewKey[string]("a"), TextSpec[string]{}),
		Text(NewKey[string]("a"), TextSpec[string]{}),
	)
	assert.ErrorIs(t, err, ErrDuplicateField)

	_, err = NewDefinition("x", "missing", Text(NewKey[string]("a"), TextSpec[string]{}))
	assert.ErrorIs(t, err, ErrNoStartField)

	_, err = NewDefinition("x", "items", Slot(itemsKey, nil))
	assert.ErrorIs(t, err, ErrNoStartField)
}

func TestTextFieldWithoutValidatorNeedsStringType(t *testing.T) {
	assert.Panics(t, func() {
		Text(NewKey[int]("n"), TextSpec[int]{})
	})
}

func TestInstanceHasEntryForEveryField(t *testing.T) {
	def := testDefinition(t)
	inst := NewInstance(def, "c1")

	values := inst.GetValues()
	assert.Len(t, values, 4)
	for _, f := range def.Fields() {
		_, ok := values[f.Name()]
		assert.True(t, ok, f.Name())
	}
	assert.Equal(t, []string{}, Value(values, itemsKey))
	_, ok := Get(values, nameKey)
	assert.False(t, ok)
}

func TestInstanceSetActiveField(t *testing.T) {
	inst := NewInstance(testDefinition(t), "c1")

	require.NoError(t, inst.SetActiveField("symbol"))
	assert.Equal(t, "symbol", inst.GetActiveField())

	assert.ErrorIs(t, inst.SetActiveField("nope"), ErrUnknownField)
	assert.ErrorIs(t, inst.SetActiveField("items"), ErrNotInteractive)
	assert.Equal(t, "symbol", inst.GetActiveField())

	require.NoError(t, inst.SetActiveField(""))
	assert.Equal(t, "", inst.GetActiveField())
}

func TestSetValueOnDiscardedInstanceIsNoop(t *testing.T) {
	r := NewRegistry()
	inst, _ := r.Start("c1", testDefinition(t))
	r.ResetForm("c1")

	assert.ErrorIs(t, inst.SetValue("name", "AB"), ErrInstanceClosed)
	_, ok := Get(inst.GetValues(), nameKey)
	assert.False(t, ok)
}

func TestRegistryKeepsLastInstalledInstance(t *testing.T) {
	r := NewRegistry()
	def := testDefinition(t)
	first := NewInstance(def, "c1")
	second := NewInstance(def, "c1")

	r.SetForm("c1", first)
	r.SetForm("c1", second)

	assert.Same(t, second, r.GetForm("c1"))
	assert.True(t, first.Closed())
	assert.False(t, r.Owns(first))
	assert.True(t, r.Owns(second))
	assert.Equal(t, 1, r.Len())
	assert.NotEqual(t, first.Generation(), second.Generation())
}

func TestResetFormIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Start("c1", testDefinition(t))

	r.ResetForm("c1")
	r.ResetForm("c1")

	assert.Nil(t, r.GetForm("c1"))
	assert.Equal(t, 0, r.Len())
}

func TestApplyNextCommitsAndPrompts(t *testing.T) {
	r := NewRegistry()
	inst, start := r.Start("c1", testDefinition(t))
	assert.Equal(t, "name", start.Prompt.Name())

	field, _ := inst.Definition().Field("name")
	s := NewScope(r, inst, field, events.Event{}, "AB")
	out, err := field.Handle(context.Background(), s)
	require.NoError(t, err)

	tr, err := r.Apply(s, out)
	require.NoError(t, err)
	assert.Equal(t, "symbol", inst.GetActiveField())
	assert.Equal(t, "AB", Value(inst.GetValues(), nameKey))
	require.NotNil(t, tr.Prompt)
	assert.Equal(t, "symbol for AB?", tr.Prompt.Prompt(tr.Values))
}

func TestApplyNextCarriesMessage(t *testing.T) {
	r := NewRegistry()
	inst, _ := r.Start("c1", testDefinition(t))
	field, _ := inst.Definition().Field("name")
	s := NewScope(r, inst, field, events.Event{}, "AB")

	tr, err := r.Apply(s, Next("done").WithMessage("almost there"))
	require.NoError(t, err)
	assert.Equal(t, "almost there", tr.Message)
	assert.Equal(t, "done", tr.Prompt.Name())
}

func TestApplyRejectDiscardsStagedWrites(t *testing.T) {
	r := NewRegistry()
	inst, _ := r.Start("c1", testDefinition(t))
	field, _ := inst.Definition().Field("name")

	s := NewScope(r, inst, field, events.Event{}, "AB")
	Stage(s, itemsKey, []string{"x"})
	tr, err := r.Apply(s, Reject("nope"))
	require.NoError(t, err)

	assert.True(t, tr.Rejected)
	assert.Equal(t, "nope", tr.Message)
	assert.Equal(t, "name", inst.GetActiveField())
	_, ok := Get(inst.GetValues(), nameKey)
	assert.False(t, ok)
	assert.Equal(t, []string{}, Value(inst.GetValues(), itemsKey))
}

func TestApplyOnSupersededInstanceWritesNothing(t *testing.T) {
	r := NewRegistry()
	def := testDefinition(t)
	old, _ := r.Start("c1", def)
	field, _ := def.Field("name")
	s := NewScope(r, old, field, events.Event{}, "AB")

	fresh, _ := r.Start("c1", def)
	assert.False(t, s.Current())

	_, err := r.Apply(s, Next("symbol"))
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, "name", fresh.GetActiveField())
	_, ok := Get(fresh.GetValues(), nameKey)
	assert.False(t, ok)
}

func TestApplyEndRemovesInstanceAndKeepsTask(t *testing.T) {
	r := NewRegistry()
	inst, _ := r.Start("c1", testDefinition(t))
	require.NoError(t, inst.SetActiveField("done"))
	field, _ := inst.Definition().Field("done")

	var got Values
	s := NewScope(r, inst, field, events.Event{}, "ok")
	tr, err := r.Apply(s, End("bye").Then(func(_ context.Context, v Values) { got = v }))
	require.NoError(t, err)

	assert.True(t, tr.Ended)
	assert.Equal(t, "bye", tr.Message)
	assert.Nil(t, r.GetForm("c1"))
	assert.True(t, inst.Closed())
	require.NotNil(t, tr.Task)
	tr.Task(context.Background(), tr.Values)
	assert.Equal(t, "ok", Value(got, doneKey))
}

func TestApplyNextToUnknownFieldFails(t *testing.T) {
	r := NewRegistry()
	inst, _ := r.Start("c1", testDefinition(t))
	field, _ := inst.Definition().Field("name")
	s := NewScope(r, inst, field, events.Event{}, "AB")

	_, err := r.Apply(s, Next("missing"))
	assert.ErrorIs(t, err, ErrUnknownField)
	assert.Equal(t, "name", inst.GetActiveField())
	_, ok := Get(inst.GetValues(), nameKey)
	assert.False(t, ok)
}

func TestBranchSeesStagedValue(t *testing.T) {
	key := NewKey[string]("amm")
	handle := Branch[string](func(v Values) string {
		if Value(v, key) == "ekubo" {
			return "fees"
		}
		return "lock"
	})
	r := NewRegistry()
	def := MustDefinition("b", "amm",
		Select(key, ChoiceSpec{Choices: []Choice{{Key: "ekubo"}, {Key: "jediswap"}}, Handle: handle}),
		Text(NewKey[string]("fees"), TextSpec[string]{}),
		Text(NewKey[string]("lock"), TextSpec[string]{}),
	)
	inst, _ := r.Start("c1", def)
	field, _ := def.Field("amm")

	s := NewScope(r, inst, field, events.Event{}, "jediswap")
	out, err := field.Handle(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "lock", out.NextField())
}

func TestValidators(t *testing.T) {
	length := Length(2, 4, "Name")
	_, err := length("A")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, strings.Contains(verr.Message, "shorter"))
	_, err = length("ABCDE")
	assert.ErrorAs(t, err, &verr)
	v, err := length("AB")
	assert.NoError(t, err)
	assert.Equal(t, "AB", v)

	between := NumberBetween(0.5, 100, "bad")
	n, err := between("1%")
	assert.NoError(t, err)
	assert.Equal(t, 1.0, n)
	_, err = between("0.1")
	assert.Error(t, err)
	_, err = between("abc")
	assert.Error(t, err)
	for _, raw := range []string{"NaN", "nan%", "Inf", "-Inf", "+Infinity"} {
		_, err = between(raw)
		assert.Error(t, err, raw)
	}
}
