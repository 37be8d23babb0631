package panel

import (
	"errors"

	"github.com/intelligrit/quakesafe/internal/model"
)

var (
	// ErrUnknownPin is returned when selecting an id that is not in the
	// current pin list.
	ErrUnknownPin = errors.New("unknown pin")

	// ErrNoAssessment is the failure recorded when a fetch succeeds but the
	// backend has no assessment for the pin.
	ErrNoAssessment = errors.New("no assessment available")
)

// State is the assessment state of one pin. A pin with no fetch attempted has
// no State at all (Panel.State returns nil). The concrete types are Pending,
// Resolved and Failed.
type State interface {
	isState()
}

// Pending means a fetch is in flight. Generation is the panel generation the
// fetch was issued under.
type Pending struct {
	Generation uint64
}

// Resolved holds the assessment the fetch returned.
type Resolved struct {
	Assessment model.Assessment
}

// Failed is terminal for the pin until the next refresh.
type Failed struct {
	Err error
}

func (Pending) isState()  {}
func (Resolved) isState() {}
func (Failed) isState()   {}

// Reason is the user-visible failure text.
func (f Failed) Reason() string {
	if f.Err == nil {
		return "unknown error"
	}
	return f.Err.Error()
}

// Unavailable reports whether the failure is an empty result rather than a
// transport or server error.
func (f Failed) Unavailable() bool {
	return errors.Is(f.Err, ErrNoAssessment)
}
