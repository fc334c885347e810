package socketio

import (
	"context"
	"sync"
)

// Future is the pending result of Session.Call. It resolves exactly once:
// with the reply's arguments, with a *ReplyError, or with ErrSessionClosed.
type Future struct {
	id   int
	once sync.Once
	done chan struct{}
	args []any
	err  error
}

func newFuture(id int) *Future {
	return &Future{
		id:   id,
		done: make(chan struct{}),
	}
}

// ID returns the call id the future is waiting on.
func (f *Future) ID() int {
	return f.id
}

// Done is closed when the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx ends. Cancelling ctx does not
// cancel the call itself.
func (f *Future) Wait(ctx context.Context) ([]any, error) {
	select {
	case <-f.done:
		return f.args, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) resolve(args []any, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.args = args
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Result returns the outcome without blocking. ok is false while the future
// is unresolved.
func (f *Future) Result() (args []any, err error, ok bool) {
	select {
	case <-f.done:
		return f.args, f.err, true
	default:
		return nil, nil, false
	}
}
