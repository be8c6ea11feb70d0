package node

import (
	"fmt"
	"sort"
	"sync"

	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
)

// Descriptor is a registered node type: its declarations and its executor.
type Descriptor struct {
	TypeName       string
	Description    string
	Parameters     []ParameterDeclaration
	Outputs        []OutputDeclaration
	DynamicOutputs bool
	Async          bool
	Executor       Executor

	params  map[string]int
	outputs map[string]int
}

// Parameter looks up a parameter declaration by name.
func (d *Descriptor) Parameter(name string) (ParameterDeclaration, bool) {
	i, ok := d.params[name]
	if !ok {
		return ParameterDeclaration{}, false
	}
	return d.Parameters[i], true
}

// Output looks up an output declaration by name.
func (d *Descriptor) Output(name string) (OutputDeclaration, bool) {
	i, ok := d.outputs[name]
	if !ok {
		return OutputDeclaration{}, false
	}
	return d.Outputs[i], true
}

// HasStaticOutputs reports whether the type documents a closed set of output keys.
func (d *Descriptor) HasStaticOutputs() bool {
	return len(d.Outputs) > 0 && !d.DynamicOutputs
}

// Defaults returns the default values of all parameters that declare one.
func (d *Descriptor) Defaults() map[string]any {
	out := make(map[string]any)
	for _, p := range d.Parameters {
		if p.HasDefault() {
			out[p.Name] = p.Default
		}
	}
	return out
}

// RegisterOption customises a registration.
type RegisterOption func(*Descriptor, *registerSettings)

type registerSettings struct {
	override bool
}

// WithOutputs documents the output keys of the type.
func WithOutputs(outputs ...OutputDeclaration) RegisterOption {
	return func(d *Descriptor, _ *registerSettings) {
		d.Outputs = append(d.Outputs, outputs...)
	}
}

// WithDynamicOutputs allows output keys beyond the documented ones.
func WithDynamicOutputs() RegisterOption {
	return func(d *Descriptor, _ *registerSettings) {
		d.DynamicOutputs = true
	}
}

// WithAsync marks the type as asynchronous: the runtime runs it in its own
// goroutine and suspends only at the node boundary.
func WithAsync() RegisterOption {
	return func(d *Descriptor, _ *registerSettings) {
		d.Async = true
	}
}

// WithDescription sets the type's description.
func WithDescription(desc string) RegisterOption {
	return func(d *Descriptor, _ *registerSettings) {
		d.Description = desc
	}
}

// WithOverride permits replacing an existing registration.
func WithOverride() RegisterOption {
	return func(_ *Descriptor, s *registerSettings) {
		s.override = true
	}
}

// Registry maps node type names to descriptors. It is safe for concurrent use.
type Registry struct {
	types map[string]*Descriptor
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]*Descriptor),
	}
}

// Register associates typeName with its parameter declarations and executor.
// Returns ErrDuplicateRegistration if the name is taken and WithOverride is not given.
func (r *Registry) Register(typeName string, params []ParameterDeclaration, executor Executor, opts ...RegisterOption) error {
	if typeName == "" {
		return flowerrors.InvalidDeclaration(typeName, "type name cannot be empty")
	}
	if executor == nil {
		return flowerrors.InvalidDeclaration(typeName, "executor cannot be nil")
	}

	d := &Descriptor{
		TypeName:   typeName,
		Parameters: append([]ParameterDeclaration(nil), params...),
		Executor:   executor,
	}
	var settings registerSettings
	for _, opt := range opts {
		opt(d, &settings)
	}
	if err := d.index(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[typeName]; exists && !settings.override {
		return flowerrors.DuplicateRegistration(typeName)
	}
	r.types[typeName] = d
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(typeName string, params []ParameterDeclaration, executor Executor, opts ...RegisterOption) {
	if err := r.Register(typeName, params, executor, opts...); err != nil {
		panic(err)
	}
}

// Resolve returns the descriptor for typeName or ErrUnknownNodeType.
func (r *Registry) Resolve(typeName string) (*Descriptor, error) {
	r.mu.RLock()
	d, ok := r.types[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, flowerrors.UnknownNodeType(typeName)
	}
	return d, nil
}

// Has checks if a type is registered.
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[typeName]
	return ok
}

// Types returns all registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister removes a type. Returns true if a type was removed.
func (r *Registry) Unregister(typeName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[typeName]; ok {
		delete(r.types, typeName)
		return true
	}
	return false
}

// Count returns the number of registered types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

func (d *Descriptor) index() error {
	d.params = make(map[string]int, len(d.Parameters))
	for i, p := range d.Parameters {
		if p.Name == "" {
			return flowerrors.InvalidDeclaration(d.TypeName, fmt.Sprintf("parameter %d has no name", i))
		}
		if _, dup := d.params[p.Name]; dup {
			return flowerrors.InvalidDeclaration(d.TypeName, fmt.Sprintf("parameter %q declared twice", p.Name))
		}
		if p.Type == "" {
			d.Parameters[i].Type = TypeAny
			p.Type = TypeAny
		}
		if !p.Type.Valid() {
			return flowerrors.InvalidDeclaration(d.TypeName, fmt.Sprintf("parameter %q has unknown type %q", p.Name, p.Type))
		}
		if !Matches(p.Type, p.Default) {
			return flowerrors.InvalidDeclaration(d.TypeName, fmt.Sprintf("default of %q is not a %s", p.Name, p.Type))
		}
		d.params[p.Name] = i
	}

	d.outputs = make(map[string]int, len(d.Outputs))
	for i, o := range d.Outputs {
		if o.Name == "" {
			return flowerrors.InvalidDeclaration(d.TypeName, fmt.Sprintf("output %d has no name", i))
		}
		if _, dup := d.outputs[o.Name]; dup {
			return flowerrors.InvalidDeclaration(d.TypeName, fmt.Sprintf("output %q declared twice", o.Name))
		}
		if o.Type == "" {
			d.Outputs[i].Type = TypeAny
		} else if !o.Type.Valid() {
			return flowerrors.InvalidDeclaration(d.TypeName, fmt.Sprintf("output %q has unknown type %q", o.Name, o.Type))
		}
		d.outputs[o.Name] = i
	}
	return nil
}
