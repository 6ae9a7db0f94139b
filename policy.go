package tsm

import "sync"

// ExecutionPolicy decides where a root machine's run loop executes. Start is
// called from the root's OnEntry and Stop from its OnExit. Reaching the stop
// state exits the root from the loop itself, which skips Stop.
type ExecutionPolicy interface {
	Start(loop func() error)
	// Stop waits for the loop started by Start and returns its error.
	Stop() error
}

// GoroutinePolicy runs the loop on one dedicated goroutine. It is the default.
type GoroutinePolicy struct {
	mu   sync.Mutex
	done chan struct{}
	err  error
}

func (policy *GoroutinePolicy) Start(loop func() error) {
	done := make(chan struct{})
	policy.mu.Lock()
	policy.done = done
	policy.err = nil
	policy.mu.Unlock()
	go func() {
		err := loop()
		policy.mu.Lock()
		policy.err = err
		policy.mu.Unlock()
		close(done)
	}()
}

func (policy *GoroutinePolicy) Stop() error {
	policy.mu.Lock()
	done := policy.done
	policy.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	policy.mu.Lock()
	defer policy.mu.Unlock()
	return policy.err
}

// Done is closed when the most recently started loop returns.
func (policy *GoroutinePolicy) Done() <-chan struct{} {
	policy.mu.Lock()
	defer policy.mu.Unlock()
	return policy.done
}

// ManualPolicy starts nothing. The caller drives the machine with Run on a
// goroutine of its choosing, or with Dispatch.
type ManualPolicy struct{}

func (ManualPolicy) Start(func() error) {}

func (ManualPolicy) Stop() error { return nil }
