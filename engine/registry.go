package engine

import (
	"fmt"
	"sync"
)

// Task is the unit of executable work bound to a step by name. Handlers
// receive the execution context and the step's resolved arguments and return
// an output map that is merged into the context under the step's ID.
type Task interface {
	Execute(c *Context, args map[string]any) (map[string]any, error)
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func(c *Context, args map[string]any) (map[string]any, error)

func (f TaskFunc) Execute(c *Context, args map[string]any) (map[string]any, error) {
	return f(c, args)
}

// Handler is the canonical single-entrypoint capability for components:
// when a registered component implements it, the dispatcher calls it
// directly without any method lookup.
type Handler interface {
	Handle(c *Context) (map[string]any, error)
}

// ExecutableNode is the execute/validate/prepare/cleanup lifecycle
// capability for registered nodes.
type ExecutableNode interface {
	Prepare(vars map[string]any)
	Execute(vars map[string]any) (map[string]any, error)
	Cleanup(vars map[string]any)
}

// NodeValidator is optionally implemented by executable nodes to reject an
// invocation before Prepare runs.
type NodeValidator interface {
	Validate(vars map[string]any) error
}

// ConditionNode is the boolean-evaluation capability for registered nodes.
type ConditionNode interface {
	Evaluate(vars map[string]any) (bool, error)
}

// methodFn is the canonical shape every bound component method is adapted
// to at registration time.
type methodFn func(c *Context, args map[string]any) (map[string]any, error)

// Component is a named bag of explicitly registered methods, replacing
// runtime method lookup by reflection: every callable is adapted to a
// canonical shape when it is bound.
type Component struct {
	mu      sync.RWMutex
	methods map[string]methodFn
}

// NewComponent creates an empty component.
func NewComponent() *Component {
	return &Component{methods: make(map[string]methodFn)}
}

// Method binds a named callable. Supported shapes, in the order the
// dispatcher prefers them conceptually: zero-argument, context-taking, and
// raw-variable-map-taking functions, each with or without an output map.
// Unsupported shapes return an error at registration, not at dispatch.
func (c *Component) Method(name string, fn any) error {
	adapted, err := adaptMethod(fn)
	if err != nil {
		return fmt.Errorf("component method %q: %w", name, err)
	}
	c.mu.Lock()
	c.methods[name] = adapted
	c.mu.Unlock()
	return nil
}

// MustMethod is Method for wiring code where a bad shape is a programming
// error.
func (c *Component) MustMethod(name string, fn any) *Component {
	if err := c.Method(name, fn); err != nil {
		panic(err)
	}
	return c
}

func (c *Component) method(name string) (methodFn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.methods[name]
	return fn, ok
}

func adaptMethod(fn any) (methodFn, error) {
	switch f := fn.(type) {
	case func() (map[string]any, error):
		return func(*Context, map[string]any) (map[string]any, error) {
			return f()
		}, nil
	case func() error:
		return func(*Context, map[string]any) (map[string]any, error) {
			return nil, f()
		}, nil
	case func(*Context) (map[string]any, error):
		return func(c *Context, _ map[string]any) (map[string]any, error) {
			return f(c)
		}, nil
	case func(*Context) error:
		return func(c *Context, _ map[string]any) (map[string]any, error) {
			return nil, f(c)
		}, nil
	case func(map[string]any) (map[string]any, error):
		return func(_ *Context, args map[string]any) (map[string]any, error) {
			return f(args)
		}, nil
	case func(map[string]any) error:
		return func(_ *Context, args map[string]any) (map[string]any, error) {
			return nil, f(args)
		}, nil
	case func(*Context, map[string]any) (map[string]any, error):
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported signature %T", fn)
	}
}

// Registry holds the process-wide name bindings consulted by the dispatcher:
// tasks, nodes, and components. It is populated before executions start and
// is safe for concurrent readers while later registrations happen.
type Registry struct {
	mu         sync.RWMutex
	tasks      map[string]Task
	nodes      map[string]any
	components map[string]any
}

// NewRegistry creates an empty registry. The registry is handed to the
// engine explicitly; there is no ambient global instance.
func NewRegistry() *Registry {
	return &Registry{
		tasks:      make(map[string]Task),
		nodes:      make(map[string]any),
		components: make(map[string]any),
	}
}

// RegisterTask binds a task implementation to a name.
func (r *Registry) RegisterTask(name string, t Task) {
	r.mu.Lock()
	r.tasks[name] = t
	r.mu.Unlock()
}

// Task returns the task bound to name, or nil.
func (r *Registry) Task(name string) Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tasks[name]
}

// RegisterNode binds a node instance; its capabilities (ExecutableNode,
// ConditionNode) are checked at dispatch time in that order.
func (r *Registry) RegisterNode(name string, node any) {
	r.mu.Lock()
	r.nodes[name] = node
	r.mu.Unlock()
}

// Node returns the node bound to name, or nil.
func (r *Registry) Node(name string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes[name]
}

// RegisterComponent binds a component instance: either a Handler or a
// *Component with named methods.
func (r *Registry) RegisterComponent(name string, component any) {
	r.mu.Lock()
	r.components[name] = component
	r.mu.Unlock()
}

// Component returns the component bound to name, or nil.
func (r *Registry) Component(name string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.components[name]
}

// TaskNames lists the registered task names, for diagnostics.
func (r *Registry) TaskNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	return names
}
