package admission

import "fmt"

// Policy selects how the global admission scheduler orders pending
// requests. It is configured at startup and frozen for the process
// lifetime (§4.3).
type Policy int

const (
	// FIFO admits the oldest request first (priority = insertion order).
	FIFO Policy = iota
	// EDF (earliest deadline first) admits the request with the soonest
	// absolute deadline first.
	EDF
)

func (p Policy) String() string {
	switch p {
	case FIFO:
		return "FIFO"
	case EDF:
		return "EDF"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses the SLEDGE_SCHEDULER environment value. An empty
// value selects the default, FIFO; any value other than "", "FIFO" or
// "EDF" is a FATAL_STARTUP condition per §6.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "FIFO":
		return FIFO, nil
	case "EDF":
		return EDF, nil
	default:
		return FIFO, fmt.Errorf("admission: invalid scheduler policy %q, must be FIFO or EDF", s)
	}
}
