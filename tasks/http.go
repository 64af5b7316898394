// Package tasks provides the built-in step handlers registered with the
// dispatcher: outbound HTTP calls, sandboxed scripts, timers, and variable
// assignment.
package tasks

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/flowforge/flowforge/engine"
)

// HTTPConfig holds the HTTP task configuration with declarative tags.
type HTTPConfig struct {
	Timeout     time.Duration `yaml:"timeout" default:"30s" validate:"gte=1s"`
	MaxRetries  int           `yaml:"max_retries" default:"0" validate:"gte=0,lte=10"`
	RetryWaitMS int           `yaml:"retry_wait_ms" default:"100" validate:"gte=0,lte=10000"`
	Debug       bool          `yaml:"debug" default:"false"`
}

// HTTPRequestInput is the typed input for one HTTP request step.
type HTTPRequestInput struct {
	URL         string            `json:"url" validate:"required,url"`
	Method      string            `json:"method" validate:"required,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	Headers     map[string]string `json:"headers"`
	QueryParams map[string]string `json:"queryParameters"`
	Body        map[string]any    `json:"body"`
}

// HTTPRequestOutput is the typed output of one HTTP request step.
type HTTPRequestOutput struct {
	Status     string         `json:"status"`
	StatusCode int            `json:"statusCode"`
	IsError    bool           `json:"isError"`
	Body       map[string]any `json:"body"`
}

// NewHTTPTask builds the "http.request" task over a shared resty client.
func NewHTTPTask(cfg HTTPConfig) engine.Task {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(time.Duration(cfg.RetryWaitMS) * time.Millisecond).
		SetDebug(cfg.Debug)

	return engine.Typed(func(c *engine.Context, input HTTPRequestInput) (HTTPRequestOutput, error) {
		response := map[string]any{}
		errorResponse := map[string]any{}

		// The execution context doubles as context.Context, so per-execution
		// cancellation propagates into the request.
		resp, err := client.R().
			SetContext(c).
			SetHeaders(input.Headers).
			SetQueryParams(input.QueryParams).
			SetBody(input.Body).
			SetResult(&response).
			SetError(&errorResponse).
			Execute(input.Method, input.URL)
		if err != nil {
			return HTTPRequestOutput{}, fmt.Errorf("HTTP request failed: %w", err)
		}

		output := HTTPRequestOutput{
			Status:     resp.Status(),
			StatusCode: resp.StatusCode(),
			IsError:    resp.IsError(),
		}
		if resp.IsError() {
			output.Body = errorResponse
		} else {
			output.Body = response
		}
		return output, nil
	})
}
