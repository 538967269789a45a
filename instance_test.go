package saga

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	allowed := map[Status][]Status{
		StatusRunning:      {StatusRunning, StatusCompleted, StatusCompensating},
		StatusCompensating: {StatusCompensating, StatusCompensated},
	}
	all := []Status{StatusRunning, StatusCompleted, StatusCompensating, StatusCompensated, StatusFailed}

	for _, from := range all {
		for _, to := range all {
			_, err := from.nextStatus(to)
			ok := false
			for _, a := range allowed[from] {
				if a == to {
					ok = true
				}
			}
			if ok {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", from, to)
			}
		}
	}
}

func TestInstanceLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inst := newInstance("trip-1", "trip", json.RawMessage(`{"customer":"alice"}`), now)
	assert.Equal(t, StatusRunning, inst.Status)

	require.NoError(t, inst.commit("car", json.RawMessage(`{"id":1}`), now))
	require.NoError(t, inst.commit("flight", json.RawMessage(`{"id":2}`), now))
	require.NoError(t, inst.commit("hotel", json.RawMessage(`{"id":3}`), now))
	assert.Equal(t, []string{"car", "flight", "hotel"}, inst.CommittedNames())

	require.NoError(t, inst.fail("boat", errors.New("sunk"), now))
	assert.Equal(t, StatusCompensating, inst.Status)
	assert.Equal(t, []string{"hotel", "flight", "car"}, inst.pendingCompensations())

	require.NoError(t, inst.compensated("hotel", now))
	require.NoError(t, inst.compensationFailed("flight", errors.New("timeout"), now))
	assert.Equal(t, []string{"car"}, inst.pendingCompensations())

	require.NoError(t, inst.compensated("car", now))
	require.NoError(t, inst.finishCompensation(now.Add(time.Minute)))
	assert.Equal(t, StatusCompensated, inst.Status)
	assert.True(t, inst.Status.Terminal())
	assert.Equal(t, now.Add(time.Minute), inst.UpdatedAt)

	assert.Equal(t, CompensationOutcome{Kind: PartiallyCompensated, Failed: []string{"flight"}}, inst.Outcome())
	assert.ErrorIs(t, inst.commit("late", nil, now), ErrInvalidTransition)

	var types []EventType
	for _, e := range inst.Events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []EventType{
		EventStarted,
		EventStepCommitted, EventStepCommitted, EventStepCommitted,
		EventStepFailed,
		EventUndoFinished, EventUndoFailed, EventUndoFinished,
		EventCompensated,
	}, types)

	out := inst.String()
	assert.Contains(t, out, "status:    compensated")
	assert.Contains(t, out, "failed:    boat (sunk)")
	assert.Contains(t, out, "undo_failed flight: timeout")
}

func TestInstanceCloneIsDeep(t *testing.T) {
	now := time.Now()
	inst := newInstance("trip-1", "trip", json.RawMessage(`{"a":1}`), now)
	require.NoError(t, inst.commit("car", json.RawMessage(`{"id":1}`), now))

	clone := inst.Clone()
	clone.Input[2] = 'b'
	clone.Committed[0].Output[2] = 'x'
	clone.Committed = append(clone.Committed, CommittedStep{Name: "flight"})
	clone.Events[0].Detail = "changed"

	assert.JSONEq(t, `{"a":1}`, string(inst.Input))
	assert.JSONEq(t, `{"id":1}`, string(inst.Committed[0].Output))
	assert.Len(t, inst.Committed, 1)
	assert.Empty(t, inst.Events[0].Detail)

	var nilInst *Instance
	assert.Nil(t, nilInst.Clone())
}

func TestInstanceJSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inst := newInstance("trip-1", "trip", json.RawMessage(`{"customer":"alice"}`), now)
	require.NoError(t, inst.commit("car", json.RawMessage(`{"id":1}`), now))

	data, err := json.Marshal(inst)
	require.NoError(t, err)

	var back Instance
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, inst.ID, back.ID)
	assert.Equal(t, StatusRunning, back.Status)
	assert.Equal(t, []string{"car"}, back.CommittedNames())
	assert.True(t, now.Equal(back.CreatedAt))
}
