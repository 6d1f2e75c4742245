package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors produced inside a run.
var (
	// ErrParse means the reasoning output could not be interpreted. Retried.
	ErrParse = errors.New("unparseable reasoning output")
	// ErrMaxIterations means the tool loop ended without a final answer. Retried.
	ErrMaxIterations = errors.New("tool loop exhausted without final answer")
	// ErrEmptyAnswer means a capability returned nothing to say. Retried.
	ErrEmptyAnswer = errors.New("empty answer")
	// ErrFatal marks an error that retrying cannot fix.
	ErrFatal = errors.New("fatal")
)

// Status is the tri-state result of one attempt.
type Status int

const (
	StatusSuccess Status = iota
	StatusTransient
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTransient:
		return "transient"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is what one attempt produced.
type Outcome struct {
	Status Status
	Text   string
	Err    error
}

func success(text string) Outcome {
	return Outcome{Status: StatusSuccess, Text: text}
}

func failure(err error) Outcome {
	return Outcome{Status: Classify(err), Err: err}
}

// ProviderError is returned by providers so status codes survive SDK differences.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Fatal wraps err so Classify reports StatusFatal.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// Classify decides whether a failed attempt may be retried.
// Unknown errors are treated as transient.
func Classify(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	if errors.Is(err, ErrFatal) {
		return StatusFatal
	}
	if errors.Is(err, context.Canceled) {
		// the caller gave up; another attempt would be cancelled as well
		return StatusFatal
	}

	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode > 0 {
		return classifyStatusCode(pe.StatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrParse) ||
		errors.Is(err, ErrMaxIterations) ||
		errors.Is(err, ErrEmptyAnswer) {
		return StatusTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return StatusTransient
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"invalid api key", "unauthorized", "permission denied"} {
		if strings.Contains(msg, s) {
			return StatusFatal
		}
	}
	return StatusTransient
}

func classifyStatusCode(code int) Status {
	switch {
	case code == 408 || code == 409 || code == 425 || code == 429:
		return StatusTransient
	case code >= 500:
		return StatusTransient
	case code >= 400:
		return StatusFatal
	default:
		return StatusTransient
	}
}

// IsRetryableError reports whether another provider or attempt could succeed.
func IsRetryableError(err error) bool {
	return err != nil && Classify(err) == StatusTransient
}
