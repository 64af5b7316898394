package flow

// Builder assembles a Definition programmatically, as an alternative to the
// YAML front-end. Step order in the built definition follows the order of
// AddStep calls, which also fixes the resolver's tie-break order.
type Builder struct {
	def Definition
}

// NewBuilder starts a definition with the given flow ID.
func NewBuilder(id string) *Builder {
	return &Builder{def: Definition{
		ID:           id,
		Name:         id,
		Version:      "1.0.0",
		Dependencies: map[string][]string{},
		Properties:   map[string]any{},
	}}
}

// WithName sets the display name.
func (b *Builder) WithName(name string) *Builder {
	b.def.Name = name
	return b
}

// WithVersion sets the definition version.
func (b *Builder) WithVersion(version string) *Builder {
	b.def.Version = version
	return b
}

// WithProperty attaches a free-form flow property.
func (b *Builder) WithProperty(key string, value any) *Builder {
	b.def.Properties[key] = value
	return b
}

// Sync marks the flow for synchronous execution.
func (b *Builder) Sync() *Builder {
	b.def.Sync = true
	return b
}

// AddStep appends a step in declaration order.
func (b *Builder) AddStep(step Step) *Builder {
	b.def.Steps = append(b.def.Steps, step)
	return b
}

// Step appends a simple step bound to a registered task.
func (b *Builder) Step(id, task string, params map[string]any) *Builder {
	return b.AddStep(Step{ID: id, Name: id, Type: StepTypeSimple, Task: task, Parameters: params})
}

// DependsOn declares that stepID must run after all of the given steps.
func (b *Builder) DependsOn(stepID string, deps ...string) *Builder {
	b.def.Dependencies[stepID] = append(b.def.Dependencies[stepID], deps...)
	return b
}

// Build validates the assembled definition and returns it.
func (b *Builder) Build() (*Definition, error) {
	def := b.def
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}
