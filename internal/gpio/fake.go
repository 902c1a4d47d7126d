package gpio

import (
	"sync"

	"codeberg.org/mutker/pifan/internal/errors"
)

// Fake is an in-memory Pin that records every write. Tests use it in place
// of a real GPIO line.
type Fake struct {
	mu      sync.Mutex
	level   bool
	writes  []bool
	failing int
	closed  bool
}

func NewFake() *Fake {
	return &Fake{}
}

// FailNext makes the next n writes fail without changing the level.
func (f *Fake) FailNext(n int) {
	f.mu.Lock()
	f.failing = n
	f.mu.Unlock()
}

func (f *Fake) Write(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return errors.New().Wrap(errors.ErrHardwareWrite, errors.New().New(ErrPinClosed))
	}

	if f.failing > 0 {
		f.failing--
		return errors.New().WithMessage(errors.ErrHardwareWrite, "simulated write failure")
	}

	f.level = on
	f.writes = append(f.writes, on)

	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.level = false
	f.closed = true

	return nil
}

// Level returns the last successfully written level.
func (f *Fake) Level() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.level
}

// Writes returns a copy of the successful writes in order.
func (f *Fake) Writes() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]bool, len(f.writes))
	copy(out, f.writes)

	return out
}
