package engine

import (
	"fmt"

	"github.com/specialistvlad/privacyflow/internal/record"
	"github.com/specialistvlad/privacyflow/internal/request"
	"go.uber.org/multierr"
)

// MergedResult is the caller-facing outcome of a request. Map keys are
// collection addresses in `dataset:collection` form.
type MergedResult struct {
	RequestID string         `json:"request_id"`
	Status    request.Status `json:"status"`
	// Access holds the rows of every completed node, restricted to the
	// fields the policy returns.
	Access map[string][]record.Row `json:"access"`
	// Erasure holds the number of rows masked per node.
	Erasure map[string]int `json:"erasure,omitempty"`
	// Failed holds the final error of every errored node.
	Failed map[string]string `json:"failed,omitempty"`
	// Skipped holds why a node was not executed.
	Skipped map[string]string `json:"skipped,omitempty"`
}

func newMergedResult(id string) *MergedResult {
	return &MergedResult{
		RequestID: id,
		Status:    request.StatusRunning,
		Access:    make(map[string][]record.Row),
		Erasure:   make(map[string]int),
		Failed:    make(map[string]string),
		Skipped:   make(map[string]string),
	}
}

// RowCount returns the number of access rows across all collections.
func (r *MergedResult) RowCount() int {
	n := 0
	for _, rows := range r.Access {
		n += len(rows)
	}
	return n
}

// ExecutionError reports a request that did not complete. Errors combines
// the final error of every failed node.
type ExecutionError struct {
	RequestID string
	Status    request.Status
	Errors    error
}

func (e *ExecutionError) Error() string {
	n := len(multierr.Errors(e.Errors))
	if n == 0 {
		return fmt.Sprintf("request %s finished with status %s", e.RequestID, e.Status)
	}
	return fmt.Sprintf("request %s finished with status %s (%d failed nodes): %v", e.RequestID, e.Status, n, e.Errors)
}

// Unwrap exposes the node errors to errors.Is and errors.As.
func (e *ExecutionError) Unwrap() []error {
	return multierr.Errors(e.Errors)
}
