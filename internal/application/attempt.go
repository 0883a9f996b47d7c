package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrSuperseded is returned by Attempt.Wait when a newer attempt replaced it.
	ErrSuperseded = errors.New("connection attempt superseded")
	// ErrAccountRemoved is returned by Attempt.Wait when the account was removed
	// while the attempt was in flight.
	ErrAccountRemoved = errors.New("account removed")
)

// Attempt is a handle on one connection attempt.
type Attempt struct {
	epoch      uint64
	done       chan struct{}
	once       sync.Once
	superseded atomic.Bool
	err        error
}

func newAttempt(epoch uint64) *Attempt {
	return &Attempt{epoch: epoch, done: make(chan struct{})}
}

// Epoch is the generation number of the attempt on its account.
func (at *Attempt) Epoch() uint64 { return at.epoch }

// Done is closed when the attempt finishes or is superseded.
func (at *Attempt) Done() <-chan struct{} { return at.done }

// Superseded reports whether a newer attempt or removal discarded this one.
func (at *Attempt) Superseded() bool { return at.superseded.Load() }

// Wait blocks until the attempt completes or ctx is done. It returns nil on
// success, the model.AccountError on failure, or ErrSuperseded /
// ErrAccountRemoved when the result was discarded.
func (at *Attempt) Wait(ctx context.Context) error {
	select {
	case <-at.done:
		return at.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (at *Attempt) finish(err error) {
	at.once.Do(func() {
		at.err = err
		close(at.done)
	})
}

func (at *Attempt) supersede(reason error) {
	at.once.Do(func() {
		at.superseded.Store(true)
		at.err = reason
		close(at.done)
	})
}
