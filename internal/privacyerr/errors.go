// Package privacyerr defines the error taxonomy shared by the planner, the
// execution engine and the connectors.
//
// Fatal errors (PlanningError, ValidationError) abort a request before any
// node runs. Recoverable errors (retryable ConnectorError, RateLimitTimeout)
// are retried by the scheduler within the node's retry budget. UpstreamSkipped
// is not a failure at all: it is the recorded reason a node did not run.
package privacyerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/specialistvlad/privacyflow/internal/nodeid"
)

// PlanningError reports a graph that cannot be turned into a plan.
type PlanningError struct {
	Op  string
	Err error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed (%s): %v", e.Op, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// GraphCycleError carries the addresses that form a dependency cycle.
type GraphCycleError struct {
	Cycle []nodeid.Address
}

func (e *GraphCycleError) Error() string {
	parts := make([]string, 0, len(e.Cycle))
	for _, a := range e.Cycle {
		parts = append(parts, a.String())
	}
	return "dependency cycle detected: " + strings.Join(parts, " -> ")
}

// ConnectorError wraps a failure returned by a connector call.
type ConnectorError struct {
	Address   nodeid.Address
	Op        string
	Err       error
	Retryable bool
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("connector %s failed for %s: %v", e.Op, e.Address, e.Err)
}

func (e *ConnectorError) Unwrap() error { return e.Err }

// RateLimitTimeout is returned when a backend's token budget cannot be
// satisfied within the bounded wait.
type RateLimitTimeout struct {
	Backend string
	Wait    time.Duration
}

func (e *RateLimitTimeout) Error() string {
	return fmt.Sprintf("rate limit for %q not satisfiable within %s", e.Backend, e.Wait)
}

// ValidationError reports malformed configuration or request input.
type ValidationError struct {
	Subject string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Subject, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validationf is a shorthand for a ValidationError with a formatted cause.
func Validationf(subject, format string, args ...any) *ValidationError {
	return &ValidationError{Subject: subject, Err: fmt.Errorf(format, args...)}
}

// UpstreamSkipped records why a node was skipped instead of executed.
type UpstreamSkipped struct {
	Address  nodeid.Address
	Upstream nodeid.Address
	Cause    error
}

func (e *UpstreamSkipped) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s skipped: upstream %s produced no data", e.Address, e.Upstream)
	}
	return fmt.Sprintf("%s skipped: upstream failure of %s: %v", e.Address, e.Upstream, e.Cause)
}

func (e *UpstreamSkipped) Unwrap() error { return e.Cause }

// Recoverable reports whether err should be retried within a node's budget.
func Recoverable(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitTimeout
	if errors.As(err, &rl) {
		return true
	}
	var ce *ConnectorError
	if errors.As(err, &ce) {
		if ce.Retryable {
			return true
		}
		return errors.Is(ce.Err, context.DeadlineExceeded)
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether err must abort a request before execution.
func IsFatal(err error) bool {
	var pe *PlanningError
	var ve *ValidationError
	return errors.As(err, &pe) || errors.As(err, &ve)
}
