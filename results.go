package saga

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/btree"
)

// Results holds committed step outputs keyed by step name, remembering the
// order in which the steps committed.
type Results struct {
	outputs *btree.Map[string, json.RawMessage]
	order   []string
}

func newResults() *Results {
	return &Results{outputs: btree.NewMap[string, json.RawMessage](10)}
}

func resultsFromCommitted(committed []CommittedStep) *Results {
	r := newResults()
	for _, c := range committed {
		r.set(c.Name, c.Output)
	}
	return r
}

func (r *Results) set(step string, output json.RawMessage) {
	if _, replaced := r.outputs.Set(step, output); !replaced {
		r.order = append(r.order, step)
	}
}

// Get returns the raw JSON output of step.
func (r *Results) Get(step string) (json.RawMessage, bool) {
	if r == nil {
		return nil, false
	}
	return r.outputs.Get(step)
}

// Decode unmarshals the output of step into v.
func (r *Results) Decode(step string, v any) error {
	raw, ok := r.Get(step)
	if !ok {
		return fmt.Errorf("no output found for step %q", step)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode output of step %q: %w", step, err)
	}
	return nil
}

// Names returns step names in commit order.
func (r *Results) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

func (r *Results) Len() int {
	if r == nil {
		return 0
	}
	return r.outputs.Len()
}

// DecodeResult decodes the output of step into a new R.
func DecodeResult[R any](r *Results, step string) (R, error) {
	var out R
	err := r.Decode(step, &out)
	return out, err
}

// CompositeResult is returned when every step of a saga committed.
type CompositeResult struct {
	InstanceID string
	Saga       string
	Results    *Results
}
