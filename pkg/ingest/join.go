package ingest

import (
	"context"
	"sync"
)

// Join is a weighted barrier for one in-flight file: the disk writer and
// the scanner each contribute one unit, and the request continues only
// when the target count is reached. The first failure settles the join;
// later arrivals and repeated errors are dropped.
type Join struct {
	mu      sync.Mutex
	target  int
	count   int
	err     error
	settled bool
	done    chan struct{}
}

// NewJoin creates a Join that fires after target arrivals.
func NewJoin(target int) *Join {
	return &Join{
		target: target,
		done:   make(chan struct{}),
	}
}

// Arrive contributes one unit. The join fires when the target is reached.
func (j *Join) Arrive() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.settled {
		return
	}
	j.count++
	if j.count >= j.target {
		j.settled = true
		close(j.done)
	}
}

// Fail settles the join with err. Only the first failure is kept.
func (j *Join) Fail(err error) {
	if err == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.settled {
		return
	}
	j.err = err
	j.settled = true
	close(j.done)
}

// Wait blocks until the join settles or ctx is cancelled. Cancellation
// detaches the waiter; emitters finishing later find the join settled.
func (j *Join) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		j.Fail(ctx.Err())
		<-j.done
	case <-j.done:
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}
