package saga

import (
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry maps saga names to definitions.
//
// A persisted snapshot only carries the saga name; the step code itself
// cannot be stored. Every process that may resume an instance therefore
// registers the definitions it knows so Resume and Recover can rebind a
// snapshot to its steps.
type Registry struct {
	definitions *xsync.MapOf[string, *Definition]
}

func NewRegistry() *Registry {
	return &Registry{
		definitions: xsync.NewMapOf[string, *Definition](),
	}
}

// Register adds def. Registering a second definition under the same name fails.
func (r *Registry) Register(def *Definition) error {
	if existing, loaded := r.definitions.LoadOrStore(def.Name(), def); loaded && existing != def {
		return fmt.Errorf("saga definition %q already registered", def.Name())
	}
	return nil
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (*Definition, error) {
	def, ok := r.definitions.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSaga, name)
	}
	return def, nil
}

// Names returns the registered saga names, sorted.
func (r *Registry) Names() []string {
	var names []string
	r.definitions.Range(func(name string, _ *Definition) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}
