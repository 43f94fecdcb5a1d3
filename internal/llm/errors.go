package llm

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/openai/openai-go"

	"github.com/antoniostano/collegegpt/internal/reliability"
)

// ErrEmptyResult reports that a backend produced no text.
var ErrEmptyResult = errors.New("backend returned an empty response")

// ConfigurationError reports that a backend could not be initialized.
type ConfigurationError struct {
	Backend Mode
	Reason  string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s backend configuration: %s: %v", e.Backend, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s backend configuration: %s", e.Backend, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// GenerationError reports that the active backend failed to produce output.
// Retryable is advice for the caller; backends never retry internally.
type GenerationError struct {
	Backend   Mode
	Retryable bool
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Backend, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func generationError(mode Mode, err error) error {
	if err == nil {
		return nil
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return err
	}
	return &GenerationError{Backend: mode, Retryable: isRetryable(err), Err: err}
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return reliability.IsRetryableHTTPStatus(apiErr.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return reliability.IsTransientError(err)
}
