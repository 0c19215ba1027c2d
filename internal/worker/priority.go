package worker

import (
	"fmt"
	"strings"
)

// Priority is a scheduling hint applied to a worker's OS thread once the
// worker has started.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityLowest
	PriorityLow
	PriorityHigh
	PriorityHighest
)

var ErrInvalidPriority = fmt.Errorf("invalid priority")

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "lowest":
		return PriorityLowest, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	case "highest":
		return PriorityHighest, nil
	default:
		return PriorityNormal, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityLowest:
		return "lowest"
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityHighest:
		return "highest"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// niceness maps the priority onto a unix nice value.
func (p Priority) niceness() int {
	switch p {
	case PriorityLowest:
		return 19
	case PriorityLow:
		return 10
	case PriorityHigh:
		return -10
	case PriorityHighest:
		return -20
	default:
		return 0
	}
}
