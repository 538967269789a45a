package saga

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fortressi/saga/dag"
	"github.com/fortressi/saga/set"
)

type descriptor struct {
	step    Step
	input   json.RawMessage
	label   string
	timeout time.Duration
}

func (d descriptor) name() string {
	return d.step.Name()
}

// Definition is an immutable, ordered list of saga steps.
type Definition struct {
	name  string
	steps []descriptor
	index map[string]int
}

func (d *Definition) Name() string {
	return d.name
}

func (d *Definition) Len() int {
	return len(d.steps)
}

// StepNames returns the step names in execution order.
func (d *Definition) StepNames() []string {
	names := make([]string, len(d.steps))
	for i, s := range d.steps {
		names[i] = s.name()
	}
	return names
}

// Index returns the position of the named step.
func (d *Definition) Index(step string) (int, bool) {
	i, ok := d.index[step]
	return i, ok
}

// Graph returns the definition as a start -> steps -> end chain.
func (d *Definition) Graph() *dag.Graph {
	vertices := make([]dag.Vertex, len(d.steps))
	for i, s := range d.steps {
		vertices[i] = dag.Vertex{Name: s.name(), Label: s.label}
	}
	return dag.Chain(d.name, vertices)
}

// DOT renders the definition in Graphviz format.
func (d *Definition) DOT() (string, error) {
	return d.Graph().ExportToDot()
}

// checkPrefix verifies that committed is a prefix of the step order.
func (d *Definition) checkPrefix(committed []CommittedStep) error {
	if len(committed) > len(d.steps) {
		return fmt.Errorf("%w: %d committed steps, definition %q has %d",
			ErrDefinitionMismatch, len(committed), d.name, len(d.steps))
	}
	for i, c := range committed {
		if want := d.steps[i].name(); c.Name != want {
			return fmt.Errorf("%w: committed step %d is %q, definition %q expects %q",
				ErrDefinitionMismatch, i, c.Name, d.name, want)
		}
	}
	return nil
}

// Builder assembles a Definition. Steps run in the order they are appended.
type Builder struct {
	name      string
	steps     []descriptor
	stepNames *set.Set[string]
}

func NewBuilder(name string) *Builder {
	return &Builder{
		name:      name,
		stepNames: set.New[string](),
	}
}

// Append adds step after every step appended so far.
func (b *Builder) Append(step Step, opts ...StepOption) error {
	if step == nil {
		return fmt.Errorf("saga %q: nil step", b.name)
	}
	name := step.Name()
	if name == "" {
		return fmt.Errorf("saga %q: step with empty name", b.name)
	}
	if b.stepNames.Contains(name) {
		return fmt.Errorf("%w: %q in saga %q", ErrDuplicateStep, name, b.name)
	}

	d := descriptor{step: step}
	for _, opt := range opts {
		if err := opt(&d); err != nil {
			return err
		}
	}

	b.stepNames.Insert(name)
	b.steps = append(b.steps, d)
	return nil
}

// Build returns the finished Definition. The builder may keep being used;
// later appends do not affect definitions already built.
func (b *Builder) Build() (*Definition, error) {
	if b.name == "" {
		return nil, fmt.Errorf("saga definition needs a name")
	}
	if len(b.steps) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptyDefinition, b.name)
	}

	steps := make([]descriptor, len(b.steps))
	copy(steps, b.steps)
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		index[s.name()] = i
	}
	return &Definition{name: b.name, steps: steps, index: index}, nil
}
