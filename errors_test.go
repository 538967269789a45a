package saga

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"unclassified", base, KindTerminal},
		{"transient", Transient(base), KindTransient},
		{"wrapped transient", fmt.Errorf("book car: %w", Transient(base)), KindTransient},
		{"terminal", Terminal(base), KindTerminal},
		{"terminal wins", Terminal(Transient(base)), KindTerminal},
		{"terminal wins when outer is transient", Transient(Terminal(base)), KindTerminal},
		{"permanent", backoff.Permanent(base), KindTerminal},
		{"canceled", context.Canceled, KindTerminal},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTerminal},
		{"marked deadline", Transient(context.DeadlineExceeded), KindTransient},
		{"compensation", &CompensationError{Step: "car", Err: base}, KindCompensation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestMarkersKeepNil(t *testing.T) {
	assert.NoError(t, Transient(nil))
	assert.NoError(t, Terminal(nil))
}

func TestSagaErrorUnwrap(t *testing.T) {
	cause := Terminal(errors.New("fully booked"))
	undo := errors.New("timeout")
	serr := &SagaError{
		InstanceID: "trip-1",
		Saga:       "trip",
		FailedStep: "hotel",
		Kind:       KindTerminal,
		Cause:      cause,
		Outcome:    CompensationOutcome{Kind: PartiallyCompensated, Failed: []string{"flight"}},
		CompensationErrors: []*CompensationError{
			{Step: "flight", Err: undo},
		},
	}

	var err error = serr
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, undo)

	var cerr *CompensationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "flight", cerr.Step)

	assert.Equal(t,
		`saga trip (trip-1): step "hotel" failed: terminal: fully booked; partially_compensated(flight); compensation of step "flight" failed: timeout`,
		err.Error())
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "transient", KindTransient.String())
	assert.Equal(t, "ErrorKind(9)", ErrorKind(9).String())
	assert.Equal(t, "fully_compensated", CompensationOutcome{}.String())
}
