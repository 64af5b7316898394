package engine

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Config tunes one Engine instance. Zero values are filled from the default
// tags; the validate tags reject configurations that cannot work.
type Config struct {
	// MaxWorkers bounds how many asynchronous executions run at once.
	MaxWorkers int `yaml:"max_workers" default:"16" validate:"gte=1,lte=1024"`

	// MaxParallel bounds the fan-out of a single parallel step.
	MaxParallel int `yaml:"max_parallel" default:"4" validate:"gte=1,lte=256"`

	// DefaultStepTimeout applies to steps that declare no timeoutMs.
	// Zero disables the bound.
	DefaultStepTimeout time.Duration `yaml:"default_step_timeout" default:"0s"`

	// DrainTimeout bounds how long Shutdown waits for in-flight executions
	// to observe cancellation.
	DrainTimeout time.Duration `yaml:"drain_timeout" default:"10s" validate:"gte=0"`
}

var configValidate = validator.New()

// Normalize fills defaults and validates the result.
func (c *Config) Normalize() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("applying config defaults: %w", err)
	}
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	return nil
}
