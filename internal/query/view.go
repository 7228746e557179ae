package query

import (
	"context"
	"errors"
	"sync"
)

type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// View holds what one screen currently shows. Only the latest issued Load is
// applied: a response for superseded filters, or one reporting ErrStale, is
// dropped.
type View[T any] struct {
	mu     sync.Mutex
	seq    uint64
	key    string
	status Status
	data   T
	err    error
}

// Load runs load and applies its result if no newer Load started meanwhile.
// It reports whether the result was applied.
func (v *View[T]) Load(ctx context.Context, key Key, load func(context.Context) (T, error)) bool {
	v.mu.Lock()
	v.seq++
	seq := v.seq
	v.key = key.String()
	v.status = StatusLoading
	v.mu.Unlock()

	data, err := load(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()
	if seq != v.seq || errors.Is(err, ErrStale) {
		return false
	}
	if err != nil {
		v.status = StatusError
		v.err = err
		return true
	}
	v.status = StatusSuccess
	v.data = data
	v.err = nil
	return true
}

// State returns the data currently shown, the status and the last error.
func (v *View[T]) State() (T, Status, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.data, v.status, v.err
}

func (v *View[T]) Key() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.key
}
