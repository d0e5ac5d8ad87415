package fetch

import (
	"context"
	"math/rand"
	"time"
)

// pacer admits one request at a time and keeps at least minDelay (plus a random
// jitter) between the end of one request and the start of the next.
type pacer struct {
	slot     chan struct{}
	minDelay time.Duration
	jitter   time.Duration
	lastDone time.Time
}

func newPacer(minDelay, jitter time.Duration) *pacer {
	return &pacer{
		slot:     make(chan struct{}, 1),
		minDelay: minDelay,
		jitter:   jitter,
	}
}

// wait blocks until the caller may start a request. A nil return must be paired
// with a call to done.
func (p *pacer) wait(ctx context.Context) error {
	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if p.lastDone.IsZero() {
		return nil
	}
	delay := p.minDelay
	if p.jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.jitter)))
	}
	waitFor := time.Until(p.lastDone.Add(delay))
	if waitFor <= 0 {
		return nil
	}

	timer := time.NewTimer(waitFor)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		<-p.slot
		return ctx.Err()
	}
}

func (p *pacer) done() {
	p.lastDone = time.Now()
	<-p.slot
}
