package tasks

import (
	"fmt"
	"time"

	"github.com/flowforge/flowforge/engine"
)

// TimerInput is the typed input for a timer step: either a duration string
// ("1500ms", "2s") or a plain millisecond count.
type TimerInput struct {
	Duration   time.Duration `json:"duration"`
	DurationMs int64         `json:"durationMs"`
}

// NewTimerTask builds the default handler for timer steps. The wait honors
// cancellation, so a stopped execution does not sit out the full delay.
func NewTimerTask() engine.Task {
	return engine.Typed(func(c *engine.Context, input TimerInput) (map[string]any, error) {
		d := input.Duration
		if d <= 0 {
			d = time.Duration(input.DurationMs) * time.Millisecond
		}
		if d <= 0 {
			return nil, fmt.Errorf("timer step requires a positive duration")
		}

		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return map[string]any{"waitedMs": d.Milliseconds()}, nil
		case <-c.Done():
			return nil, c.Err()
		}
	})
}
