package engine

import "context"

// gate is a pausable barrier: open by default, closed while the workflow is
// paused. wait blocks until the gate opens or ctx is cancelled.
type gate struct {
	ch chan struct{}
}

func newGate() *gate {
	g := &gate{ch: make(chan struct{})}
	close(g.ch) // start open
	return g
}

func (g *gate) pause() {
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
		// already paused
	}
}

func (g *gate) resume() {
	select {
	case <-g.ch:
		// already open
	default:
		close(g.ch)
	}
}

func (g *gate) wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
