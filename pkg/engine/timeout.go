package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// EvalTimeout is the default hard limit for a single evaluation.
const EvalTimeout = 5 * time.Second

var (
	// ErrTimeout is returned when user source runs past the engine timeout.
	ErrTimeout = errors.New("evaluation timed out")
	// ErrSuperseded is returned when a newer Evaluate call started while
	// this one was running.
	ErrSuperseded = errors.New("evaluation superseded by newer request")
)

type evalOutcome struct {
	res EvalResult
	err error
}

// waitWithTimeout waits for the evaluation goroutine on ch. A result whose
// generation is no longer current is discarded. On timeout the goroutine
// keeps running; its result lands in the buffered channel and is dropped.
func waitWithTimeout(
	ch <-chan evalOutcome,
	gen uint64,
	mu *sync.Mutex,
	currentGen *uint64,
	timeout time.Duration,
) (EvalResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		mu.Lock()
		current := *currentGen
		mu.Unlock()
		if gen != current {
			return EvalResult{}, ErrSuperseded
		}
		return out.res, out.err

	case <-timer.C:
		return EvalResult{}, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}
