package reconcile

import (
	"fmt"
	"strconv"
)

// Outcome is the per-field decision of last-writer-wins resolution.
type Outcome int

const (
	// Same: both sides already agree.
	Same Outcome = iota
	LocalWins
	RemoteWins
	// Tie: equal timestamps with different values; nothing is pushed.
	Tie
	// Unknown: a timestamp is missing; the field is skipped this pass.
	Unknown
)

func (o Outcome) String() string {
	switch o {
	case Same:
		return "same"
	case LocalWins:
		return "local_wins"
	case RemoteWins:
		return "remote_wins"
	case Tie:
		return "tie"
	default:
		return "unknown"
	}
}

// Resolve decides one bidirectional field. Values are compared by their
// exact text, with booleans also matching 1/0.
func Resolve(localTime, remoteTime int64, local, remote any) Outcome {
	if canonical(local) == canonical(remote) {
		return Same
	}
	switch {
	case localTime <= 0 || remoteTime <= 0:
		return Unknown
	case localTime > remoteTime:
		return LocalWins
	case remoteTime > localTime:
		return RemoteWins
	}
	return Tie
}

func sameValue(a, b any) bool { return canonical(a) == canonical(b) }

// canonical renders a column value as text. Strings are never reparsed, so
// "02134" and "2134" stay distinct. Booleans render as 1/0 because SQLite
// stores them as integers.
func canonical(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []byte:
		return canonical(string(x))
	case string:
		switch x {
		case "true":
			return "1"
		case "false":
			return "0"
		}
		return x
	}
	return fmt.Sprint(v)
}
