package chain

import (
	"context"
	"time"
)

// probeBackend asks one backend whether it can serve right now. The check is
// bounded by the probe timeout and contained: a probe that panics or hangs
// reports unavailable instead of taking the chain down.
func probeBackend(ctx context.Context, b Backend, timeout time.Duration) (available bool) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		defer func() {
			if recover() != nil {
				done <- false
			}
		}()
		done <- b.Available(probeCtx)
	}()

	select {
	case ok := <-done:
		return ok
	case <-probeCtx.Done():
		return false
	}
}
