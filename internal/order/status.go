package order

import "fmt"

// Status is the settlement stage of an order.
type Status string

const (
	StatusCreated    Status = "created"
	StatusProcessing Status = "processing"
	StatusSettled    Status = "settled"
	StatusFailed     Status = "failed"
)

// AllStatuses lists the recognized statuses in lattice order.
var AllStatuses = []Status{StatusCreated, StatusProcessing, StatusSettled, StatusFailed}

// ParseStatus converts a wire value into a Status.
// Matching is exact; "Settled" is not a recognized status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unrecognized status %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the four recognized statuses.
func (s Status) Valid() bool {
	return s.rank() > 0
}

// IsTerminal reports whether s is settled or failed.
func (s Status) IsTerminal() bool {
	return s == StatusSettled || s == StatusFailed
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
//
// Terminal statuses are absorbing, so nothing advances out of them, including
// a move to the other terminal status. Unknown statuses never advance.
func (s Status) CanAdvanceTo(next Status) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

func (s Status) String() string {
	return string(s)
}

// rank orders statuses along the lattice. Both terminal statuses share rank 3.
func (s Status) rank() int {
	switch s {
	case StatusCreated:
		return 1
	case StatusProcessing:
		return 2
	case StatusSettled, StatusFailed:
		return 3
	default:
		return 0
	}
}
