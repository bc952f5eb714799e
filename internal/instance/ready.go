package instance

import (
	"context"
	"sync"
)

// Gate is the readiness signal for one record: a mutex-guarded boolean
// written by the owning orchestrator and polled by arbitrary readers. Once
// set true it is never reset within an orchestration run. Wait offers a
// blocking alternative to polling; Get/Set remain the compatibility surface.
type Gate struct {
	mu        sync.Mutex
	ready     bool
	signalled bool
	done      chan struct{}
}

func NewGate() *Gate {
	return &Gate{done: make(chan struct{})}
}

func (g *Gate) Get() bool {
	g.mu.Lock()
	ready := g.ready
	g.mu.Unlock()
	return ready
}

// Set assigns the gate and returns the resulting value. The first Set(true)
// latches the gate and releases every pending and future Wait; later
// assignments are ignored so Get and Wait can never disagree.
func (g *Gate) Set(ready bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.signalled {
		return true
	}

	g.ready = ready
	if ready {
		g.signalled = true
		close(g.done)
	}

	return g.ready
}

// Wait blocks until the gate has been set true or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
