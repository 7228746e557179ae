// Package guard decides whether gated content may be shown. The decision
// logic is a set of pure functions over session and permission inputs; the
// Resolver and Gate drive those functions from live state.
package guard

type State int

const (
	StateChecking State = iota
	StateAllowed
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateAllowed:
		return "allowed"
	case StateDenied:
		return "denied"
	default:
		return "checking"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AuthInput is what the authentication layer knows at a point in time.
type AuthInput struct {
	// Settled is true once session rehydration has finished.
	Settled       bool
	Authenticated bool
	TimedOut      bool
}

func EvaluateAuth(in AuthInput) State {
	switch {
	case in.Settled && in.Authenticated:
		return StateAllowed
	case in.Settled:
		return StateDenied
	case in.TimedOut:
		return StateDenied
	default:
		return StateChecking
	}
}

// PermissionInput is what a permission or role layer knows.
type PermissionInput struct {
	Answered bool
	Allowed  bool
	TimedOut bool
}

func EvaluatePermission(in PermissionInput) State {
	switch {
	case in.Answered && in.Allowed:
		return StateAllowed
	case in.Answered, in.TimedOut:
		return StateDenied
	default:
		return StateChecking
	}
}

// Compose folds nested layers, outermost first. A layer that is still
// checking hides everything inside it.
func Compose(layers ...State) State {
	for _, layer := range layers {
		if layer != StateAllowed {
			return layer
		}
	}
	return StateAllowed
}
