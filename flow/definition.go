package flow

import (
	"fmt"
	"time"
)

// StepType selects the default handler family for a step when no explicit
// task, node, or component binding is declared.
type StepType string

const (
	StepTypeSimple            StepType = "simple"
	StepTypeConditional       StepType = "conditional"
	StepTypeParallel          StepType = "parallel"
	StepTypeLoop              StepType = "loop"
	StepTypeScript            StepType = "script"
	StepTypeScriptConditional StepType = "scriptConditional"
	StepTypeService           StepType = "service"
	StepTypeTimer             StepType = "timer"
)

// Definition describes a flow: an ordered list of steps plus the dependency
// edges between them. A Definition is validated once at registration and is
// treated as immutable afterwards; replacing a flow means registering a new
// Definition under the same ID (last write wins) or under a new version.
type Definition struct {
	ID           string              `yaml:"id" json:"id"`
	Name         string              `yaml:"name" json:"name"`
	Version      string              `yaml:"version" json:"version"`
	Steps        []Step              `yaml:"steps" json:"steps"`
	Dependencies map[string][]string `yaml:"dependencies" json:"dependencies,omitempty"`
	Properties   map[string]any      `yaml:"properties" json:"properties,omitempty"`
	Sync         bool                `yaml:"sync" json:"sync"`
	WorkerPool   string              `yaml:"workerPool" json:"workerPool,omitempty"`
}

// Step is one unit of work within a flow. Exactly one binding is consulted
// at dispatch time, in precedence order: Task, Node, Component, then the
// default handler family for Type.
type Step struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	Type      StepType `yaml:"type" json:"type"`
	Task      string   `yaml:"task" json:"task,omitempty"`
	Node      string   `yaml:"node" json:"node,omitempty"`
	Component string   `yaml:"component" json:"component,omitempty"`
	Method    string   `yaml:"method" json:"method,omitempty"`

	Parameters map[string]any `yaml:"parameters" json:"parameters,omitempty"`

	// Condition guards the step: when present and false, the step is skipped.
	Condition string `yaml:"condition" json:"condition,omitempty"`

	// Branch configuration for conditional steps. Either the true/false pair
	// or the case list is populated, never both.
	TrueSteps    []Step `yaml:"trueSteps" json:"trueSteps,omitempty"`
	FalseSteps   []Step `yaml:"falseSteps" json:"falseSteps,omitempty"`
	Cases        []Case `yaml:"cases" json:"cases,omitempty"`
	DefaultSteps []Step `yaml:"defaultSteps" json:"defaultSteps,omitempty"`

	// SubSteps holds the nested step list for parallel and loop steps.
	SubSteps []Step `yaml:"subSteps" json:"subSteps,omitempty"`

	TimeoutMs    int64 `yaml:"timeoutMs" json:"timeoutMs,omitempty"`
	MaxRetries   int   `yaml:"maxRetries" json:"maxRetries,omitempty"`
	RetryDelayMs int64 `yaml:"retryDelayMs" json:"retryDelayMs,omitempty"`
	SkipOnError  bool  `yaml:"skipOnError" json:"skipOnError,omitempty"`

	// InputMappings copies context values into step arguments before dispatch
	// (argName -> dotted context path). OutputMappings copies step outputs
	// back into context variables (contextKey -> dotted output path).
	InputMappings  map[string]string `yaml:"inputMappings" json:"inputMappings,omitempty"`
	OutputMappings map[string]string `yaml:"outputMappings" json:"outputMappings,omitempty"`
}

// Case is one (condition, steps) pair of a multi-case conditional step.
// Cases are tested in declaration order; the first match wins.
type Case struct {
	When  string `yaml:"when" json:"when"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// HasCondition reports whether the step declares a guard expression.
func (s *Step) HasCondition() bool {
	return s.Condition != ""
}

// Timeout returns the per-attempt timeout, or zero when unbounded.
func (s *Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// RetryDelay returns the wait between retry attempts.
func (s *Step) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMs) * time.Millisecond
}

// Parameter returns a named step parameter.
func (s *Step) Parameter(key string) (any, bool) {
	v, ok := s.Parameters[key]
	return v, ok
}

// StringParameter returns a named step parameter as a string, or def when
// the parameter is absent or not a string.
func (s *Step) StringParameter(key, def string) string {
	if v, ok := s.Parameters[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return def
}

// Validate checks the definition shape: non-empty ID, at least one step,
// unique step IDs across every nesting level, dependency edges that reference
// known steps, an acyclic dependency graph, and well-formed conditional
// branches. All violations are DefinitionErrors raised here, never at run
// time. Nested step lists (branches, cases, sub-steps) share the execution's
// result map with top-level steps, which is why uniqueness is enforced
// globally rather than per level.
func (d *Definition) Validate() error {
	if d == nil {
		return NewDefinitionError("", "flow definition cannot be nil")
	}
	if d.ID == "" {
		return NewDefinitionError("", "flow ID cannot be empty")
	}
	if len(d.Steps) == 0 {
		return NewDefinitionError(d.ID, "flow must contain at least one step")
	}

	seen := make(map[string]struct{}, len(d.Steps))
	for i := range d.Steps {
		if err := validateStep(d.ID, &d.Steps[i], seen); err != nil {
			return err
		}
	}

	topLevel := make(map[string]struct{}, len(d.Steps))
	for _, s := range d.Steps {
		topLevel[s.ID] = struct{}{}
	}
	for stepID, deps := range d.Dependencies {
		if _, ok := topLevel[stepID]; !ok {
			return NewDefinitionError(d.ID, fmt.Sprintf("dependency declared for unknown step %q", stepID))
		}
		for _, dep := range deps {
			if _, ok := topLevel[dep]; !ok {
				return NewDefinitionError(d.ID, fmt.Sprintf("step %q depends on unknown step %q", stepID, dep))
			}
			if dep == stepID {
				return NewDefinitionError(d.ID, fmt.Sprintf("step %q depends on itself", stepID))
			}
		}
	}

	if _, err := Resolve(d.Steps, d.Dependencies); err != nil {
		return err
	}
	return nil
}

// validateStep checks one step and recurses into every nested step list, so
// branch shape and ID rules hold at any depth.
func validateStep(flowID string, s *Step, seen map[string]struct{}) error {
	if s.ID == "" {
		return NewDefinitionError(flowID, "step ID cannot be empty")
	}
	if _, dup := seen[s.ID]; dup {
		return NewDefinitionError(flowID, fmt.Sprintf("duplicate step ID %q", s.ID))
	}
	seen[s.ID] = struct{}{}

	if s.Type == StepTypeConditional {
		hasBool := len(s.TrueSteps) > 0 || len(s.FalseSteps) > 0
		hasCases := len(s.Cases) > 0
		if hasBool && hasCases {
			return NewDefinitionError(flowID,
				fmt.Sprintf("conditional step %q declares both true/false branches and cases", s.ID))
		}
		if !hasBool && !hasCases && len(s.DefaultSteps) == 0 {
			return NewDefinitionError(flowID,
				fmt.Sprintf("conditional step %q declares no branches", s.ID))
		}
		if hasBool && s.Condition == "" {
			return NewDefinitionError(flowID,
				fmt.Sprintf("conditional step %q has true/false branches but no condition", s.ID))
		}
	}

	for _, nested := range [][]Step{s.TrueSteps, s.FalseSteps, s.DefaultSteps, s.SubSteps} {
		for i := range nested {
			if err := validateStep(flowID, &nested[i], seen); err != nil {
				return err
			}
		}
	}
	for c := range s.Cases {
		for i := range s.Cases[c].Steps {
			if err := validateStep(flowID, &s.Cases[c].Steps[i], seen); err != nil {
				return err
			}
		}
	}
	return nil
}
