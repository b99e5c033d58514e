// Package request defines the ExecutionRequest: one privacy-request instance
// with its seed identity, mode and policy, and the status vocabulary exposed
// to callers.
package request

import (
	"regexp"
	"strings"
	"time"

	"github.com/specialistvlad/privacyflow/internal/privacyerr"
)

// Mode selects the kind of traversal.
type Mode string

const (
	// ModeAccess is a read-only traversal collecting every matching row.
	ModeAccess Mode = "access"
	// ModeErasure masks or deletes matching rows after a completed access pass.
	ModeErasure Mode = "erasure"
)

// ParseMode converts user input into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAccess:
		return ModeAccess, nil
	case ModeErasure:
		return ModeErasure, nil
	}
	return "", privacyerr.Validationf("mode", "unknown mode %q: must be 'access' or 'erasure'", s)
}

// Status is the externally visible state of a request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// Request identifies one privacy-request instance.
type Request struct {
	ID string
	// Identity holds the seed values keyed by identity tag, e.g. {"email": "a@x.com"}.
	Identity  map[string]string
	Mode      Mode
	Policy    string
	CreatedAt time.Time
}

// idPattern keeps ids free of the checkpoint key separators ('/' and '#'),
// so one request's scope is never a prefix of another's.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// Validate checks the request before it is planned.
func (r *Request) Validate() error {
	if !idPattern.MatchString(r.ID) {
		return privacyerr.Validationf("request", "id %q must be 1-128 letters, digits, '.', '_', ':' or '-'", r.ID)
	}
	if r.Mode != ModeAccess && r.Mode != ModeErasure {
		return privacyerr.Validationf("request", "unknown mode %q", r.Mode)
	}
	if r.Policy == "" {
		return privacyerr.Validationf("request", "policy is required")
	}
	if len(r.Identity) == 0 {
		return privacyerr.Validationf("request", "at least one identity value is required")
	}
	for k, v := range r.Identity {
		if strings.TrimSpace(v) == "" {
			return privacyerr.Validationf("request", "identity %q has an empty value", k)
		}
	}
	return nil
}

// CacheScope returns the checkpoint scope for one pass of the request. The
// access pass uses the bare id so an erasure request's access checkpoints
// are shared with its own access pass.
func (r *Request) CacheScope(phase Mode) string {
	if phase == ModeErasure {
		return r.ID + "#erasure"
	}
	return r.ID
}
