package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jward/pinset/internal/req"
	"github.com/jward/pinset/internal/version"
)

// ErrNoStableResolution is returned when the resolver exceeds its round
// limit, which happens when the index does not narrow constraints
// monotonically.
var ErrNoStableResolution = errors.New("resolution did not converge")

// Hop is one contribution to a merged requirement: the requirement as
// declared and the identity of whoever declared it.
type Hop struct {
	Requirer    string
	Requirement req.Requirement
}

func (h Hop) String() string {
	return fmt.Sprintf("%s (from %s)", h.Requirement, h.Requirer)
}

func formatChain(chain []Hop) string {
	lines := make([]string, len(chain))
	for i, h := range chain {
		lines[i] = "  " + h.String()
	}
	return strings.Join(lines, "\n")
}

// ConflictError reports requirements on one package that cannot all hold.
// Chain lists every contribution to the package in discovery order.
type ConflictError struct {
	Name       string
	Constraint version.Constraint
	Chain      []Hop
	Err        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting requirements for %s:\n%s", e.Name, formatChain(e.Chain))
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// LookupError reports an index failure for a fully merged requirement.
type LookupError struct {
	Name        string
	Requirement req.Requirement
	Chain       []Hop
	Err         error
}

func (e *LookupError) Error() string {
	msg := e.Err.Error()
	if len(e.Chain) > 0 {
		msg += "\nRequired by:\n" + formatChain(e.Chain)
	}
	return msg
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure was a per-call timeout that may
// succeed when retried.
func (e *LookupError) Retryable() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}
