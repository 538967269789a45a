package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopStep(name string) Step {
	return NewStep(name, func(context.Context, StepContext) (struct{}, error) {
		return struct{}{}, nil
	}, nil)
}

func TestBuilder(t *testing.T) {
	b := NewBuilder("trip")
	require.NoError(t, b.Append(noopStep("car"), WithLabel("Rent a car")))
	require.NoError(t, b.Append(noopStep("flight"), WithInput(map[string]string{"origin": "LIS"})))
	require.NoError(t, b.Append(noopStep("hotel"), WithAttemptTimeout(time.Second)))

	def, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, "trip", def.Name())
	assert.Equal(t, 3, def.Len())
	assert.Equal(t, []string{"car", "flight", "hotel"}, def.StepNames())

	idx, ok := def.Index("flight")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	_, ok = def.Index("boat")
	assert.False(t, ok)

	assert.Equal(t, "Rent a car", def.steps[0].label)
	assert.JSONEq(t, `{"origin":"LIS"}`, string(def.steps[1].input))
	assert.Equal(t, time.Second, def.steps[2].timeout)
}

func TestBuilderRejectsBadSteps(t *testing.T) {
	b := NewBuilder("trip")
	require.NoError(t, b.Append(noopStep("car")))
	assert.ErrorIs(t, b.Append(noopStep("car")), ErrDuplicateStep)
	assert.Error(t, b.Append(nil))
	assert.Error(t, b.Append(noopStep("")))
	assert.Error(t, b.Append(noopStep("late"), WithAttemptTimeout(-time.Second)))
	assert.Error(t, b.Append(noopStep("weird"), WithInput(make(chan int))))

	def, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"car"}, def.StepNames())

	_, err = NewBuilder("empty").Build()
	assert.ErrorIs(t, err, ErrEmptyDefinition)

	nameless := NewBuilder("")
	require.NoError(t, nameless.Append(noopStep("car")))
	_, err = nameless.Build()
	assert.Error(t, err)
}

func TestBuiltDefinitionIsImmutable(t *testing.T) {
	b := NewBuilder("trip")
	require.NoError(t, b.Append(noopStep("car")))
	first, err := b.Build()
	require.NoError(t, err)

	require.NoError(t, b.Append(noopStep("flight")))
	assert.Equal(t, 1, first.Len())
}

func TestCheckPrefix(t *testing.T) {
	b := NewBuilder("trip")
	for _, name := range []string{"car", "flight", "hotel"} {
		require.NoError(t, b.Append(noopStep(name)))
	}
	def, err := b.Build()
	require.NoError(t, err)

	committed := func(names ...string) []CommittedStep {
		out := make([]CommittedStep, len(names))
		for i, n := range names {
			out[i] = CommittedStep{Name: n}
		}
		return out
	}

	assert.NoError(t, def.checkPrefix(nil))
	assert.NoError(t, def.checkPrefix(committed("car", "flight")))
	assert.ErrorIs(t, def.checkPrefix(committed("flight")), ErrDefinitionMismatch)
	assert.ErrorIs(t, def.checkPrefix(committed("car", "flight", "hotel", "boat")), ErrDefinitionMismatch)
}

func TestDefinitionDOT(t *testing.T) {
	b := NewBuilder("trip")
	require.NoError(t, b.Append(noopStep("car")))
	require.NoError(t, b.Append(noopStep("hotel")))
	def, err := b.Build()
	require.NoError(t, err)

	out, err := def.DOT()
	require.NoError(t, err)
	assert.Contains(t, out, "digraph trip")
	assert.Contains(t, out, "car")
	assert.Contains(t, out, "hotel")
}
