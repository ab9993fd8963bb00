package pool

import (
	"context"
	"time"
)

func (p *Pool[T]) healthLoop() {
	defer close(p.doneCh)
	if p.opts.Ping == nil {
		<-p.stopCh
		return
	}

	ticker := time.NewTicker(p.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.checkIdle()
		case <-p.stopCh:
			return
		}
	}
}

// checkIdle takes idle resources out one at a time, probes the stale ones and
// puts them back. Only the resource being probed is unavailable to callers.
func (p *Pool[T]) checkIdle() {
	n := len(p.idle)
	for i := 0; i < n; i++ {
		select {
		case <-p.stopCh:
			return
		default:
		}

		var r *Resource[T]
		select {
		case r = <-p.idle:
		default:
			return
		}

		if p.now().Sub(r.lastValidated) >= p.opts.StaleAfter {
			p.probe(r)
		}
		p.Release(r)
	}
}

func (p *Pool[T]) probe(r *Resource[T]) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.ProbeTimeout)
	defer cancel()

	err := p.opts.Ping(ctx, r.value)
	if err == nil {
		r.lastValidated = p.now()
		return
	}

	probeFailures.WithLabelValues(p.name).Inc()
	p.logger.Warn("idle resource failed liveness probe, recreating", "error", err)

	v, nerr := p.opts.New(ctx)
	if nerr != nil {
		// Keep the broken one; the next round probes it again.
		p.logger.Error("recreate resource failed", "error", nerr)
		return
	}
	if p.opts.Close != nil {
		if cerr := p.opts.Close(r.value); cerr != nil {
			p.logger.Debug("close stale resource failed", "error", cerr)
		}
	}
	r.value = v
	r.lastValidated = p.now()
}
