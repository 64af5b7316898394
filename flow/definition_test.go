package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDefinition() *Definition {
	return &Definition{
		ID:      "order-flow",
		Name:    "Order Flow",
		Version: "1.0.0",
		Steps: []Step{
			{ID: "validate", Type: StepTypeSimple, Task: "validate"},
			{ID: "charge", Type: StepTypeSimple, Task: "charge"},
		},
		Dependencies: map[string][]string{
			"charge": {"validate"},
		},
	}
}

func TestValidateAcceptsWellFormedDefinition(t *testing.T) {
	require.NoError(t, validDefinition().Validate())
}

func TestValidateRejectsEmptyID(t *testing.T) {
	def := validDefinition()
	def.ID = ""
	err := def.Validate()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDefinition))
}

func TestValidateRejectsNoSteps(t *testing.T) {
	def := validDefinition()
	def.Steps = nil
	err := def.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one step")
}

func TestValidateRejectsDuplicateStepIDs(t *testing.T) {
	def := validDefinition()
	def.Steps = append(def.Steps, Step{ID: "validate", Type: StepTypeSimple})
	err := def.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step ID")
}

func TestValidateRejectsEmptyStepID(t *testing.T) {
	def := validDefinition()
	def.Steps[1].ID = ""
	def.Dependencies = nil
	err := def.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step ID cannot be empty")
}

func TestValidateRejectsUnknownDependencyTarget(t *testing.T) {
	def := validDefinition()
	def.Dependencies["charge"] = []string{"missing"}
	err := def.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step")
}

func TestValidateRejectsDependencyForUnknownStep(t *testing.T) {
	def := validDefinition()
	def.Dependencies["missing"] = []string{"validate"}
	err := def.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step")
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	def := validDefinition()
	def.Dependencies["charge"] = []string{"charge"}
	err := def.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depends on itself")
}

func TestValidateRejectsCyclicDependencies(t *testing.T) {
	def := validDefinition()
	def.Dependencies = map[string][]string{
		"validate": {"charge"},
		"charge":   {"validate"},
	}
	err := def.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")
}

func TestValidateConditionalBranchShapes(t *testing.T) {
	branch := []Step{{ID: "inner", Type: StepTypeSimple, Task: "noop"}}

	t.Run("true/false pair with condition is valid", func(t *testing.T) {
		def := validDefinition()
		def.Steps = append(def.Steps, Step{
			ID:        "decide",
			Type:      StepTypeConditional,
			Condition: "amount > 1000",
			TrueSteps: branch,
		})
		require.NoError(t, def.Validate())
	})

	t.Run("both branch styles at once is invalid", func(t *testing.T) {
		def := validDefinition()
		def.Steps = append(def.Steps, Step{
			ID:        "decide",
			Type:      StepTypeConditional,
			Condition: "x",
			TrueSteps: branch,
			Cases:     []Case{{When: "y", Steps: branch}},
		})
		err := def.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "both")
	})

	t.Run("no branches at all is invalid", func(t *testing.T) {
		def := validDefinition()
		def.Steps = append(def.Steps, Step{ID: "decide", Type: StepTypeConditional})
		err := def.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no branches")
	})

	t.Run("true/false pair without condition is invalid", func(t *testing.T) {
		def := validDefinition()
		def.Steps = append(def.Steps, Step{
			ID:        "decide",
			Type:      StepTypeConditional,
			TrueSteps: branch,
		})
		err := def.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no condition")
	})
}

func TestValidateRecursesIntoNestedSteps(t *testing.T) {
	branch := []Step{{ID: "inner", Type: StepTypeSimple, Task: "noop"}}

	t.Run("nested conditional with both branch styles is invalid", func(t *testing.T) {
		def := validDefinition()
		def.Steps = append(def.Steps, Step{
			ID:        "decide",
			Type:      StepTypeConditional,
			Condition: "x",
			TrueSteps: []Step{{
				ID:        "nestedDecide",
				Type:      StepTypeConditional,
				Condition: "y",
				TrueSteps: branch,
				Cases:     []Case{{When: "z", Steps: []Step{{ID: "caseStep", Type: StepTypeSimple}}}},
			}},
		})
		err := def.Validate()
		require.Error(t, err)
		assert.True(t, IsKind(err, KindDefinition))
		assert.Contains(t, err.Error(), "both")
	})

	t.Run("branch step reusing a top-level ID is invalid", func(t *testing.T) {
		def := validDefinition()
		def.Steps = append(def.Steps, Step{
			ID:        "decide",
			Type:      StepTypeConditional,
			Condition: "x",
			TrueSteps: []Step{{ID: "validate", Type: StepTypeSimple}},
		})
		err := def.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate step ID")
	})

	t.Run("duplicate IDs across parallel sub-steps is invalid", func(t *testing.T) {
		def := validDefinition()
		def.Steps = append(def.Steps, Step{
			ID:   "fanout",
			Type: StepTypeParallel,
			SubSteps: []Step{
				{ID: "worker", Type: StepTypeSimple},
				{ID: "worker", Type: StepTypeSimple},
			},
		})
		err := def.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate step ID")
	})

	t.Run("empty ID inside a case is invalid", func(t *testing.T) {
		def := validDefinition()
		def.Steps = append(def.Steps, Step{
			ID:    "route",
			Type:  StepTypeConditional,
			Cases: []Case{{When: "x", Steps: []Step{{Type: StepTypeSimple}}}},
		})
		err := def.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "step ID cannot be empty")
	})

	t.Run("well-formed nesting is valid", func(t *testing.T) {
		def := validDefinition()
		def.Steps = append(def.Steps, Step{
			ID:        "decide",
			Type:      StepTypeConditional,
			Condition: "x",
			TrueSteps: []Step{{
				ID:           "nestedDecide",
				Type:         StepTypeConditional,
				Cases:        []Case{{When: "z", Steps: []Step{{ID: "caseStep", Type: StepTypeSimple}}}},
				DefaultSteps: []Step{{ID: "fallback", Type: StepTypeSimple}},
			}},
			FalseSteps: branch,
		})
		require.NoError(t, def.Validate())
	})
}

func TestStepHelpers(t *testing.T) {
	s := Step{
		TimeoutMs:    1500,
		RetryDelayMs: 250,
		Parameters:   map[string]any{"count": 3, "mode": "fast"},
	}

	assert.Equal(t, "1.5s", s.Timeout().String())
	assert.Equal(t, "250ms", s.RetryDelay().String())

	v, ok := s.Parameter("count")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = s.Parameter("missing")
	assert.False(t, ok)

	assert.Equal(t, "fast", s.StringParameter("mode", "slow"))
	assert.Equal(t, "slow", s.StringParameter("missing", "slow"))
	assert.Equal(t, "slow", s.StringParameter("count", "slow"))
}
