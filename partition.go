package connpool

import (
	"context"
	"sync/atomic"
	"time"
)

// partition is one shard of the pool: a bounded free queue plus the
// counters spec §3's ConnectionPartition data model names. Producers
// (release helper, growth worker) and the checkout consumer all operate
// on freeQueue concurrently; its buffering is the thread-safe queue spec
// §5 calls for.
type partition struct {
	freeQueue chan *Handle

	totalCount    atomic.Int32
	minCount      int
	maxCount      int
	acquireIncr   int
	unableToGrow  atomic.Bool

	growthSignal chan struct{} // buffered size 1, non-blocking send-or-drop
}

func newPartition(min, max, acquireIncrement int) *partition {
	return &partition{
		freeQueue:    make(chan *Handle, max),
		minCount:     min,
		maxCount:     max,
		acquireIncr:  acquireIncrement,
		growthSignal: make(chan struct{}, 1),
	}
}

// checkOut dequeues a free handle, blocking up to ctx's deadline. It
// signals the growth worker whenever the queue was found empty, matching
// spec §4.4 step 2 ("If empty ... signal growth worker").
func (p *partition) checkOut(ctx context.Context) (*Handle, error) {
	select {
	case h := <-p.freeQueue:
		return h, nil
	default:
		p.signalGrowth()
	}

	select {
	case h := <-p.freeQueue:
		return h, nil
	case <-ctx.Done():
		return nil, newError(ErrAcquisitionTimedOut, "checkout deadline elapsed", ctx.Err())
	}
}

// signalGrowth requests the growth worker run, dropping the request if one
// is already pending — spec §9's resolved Open Question on growth
// signaling: "a buffered chan struct{} size 1, non-blocking send-or-drop."
func (p *partition) signalGrowth() {
	select {
	case p.growthSignal <- struct{}{}:
	default:
	}
}

// enqueueFree returns h to the free queue. It never blocks: the queue is
// sized to maxCount, so a partition that is not over-provisioned always
// has room.
func (p *partition) enqueueFree(h *Handle) {
	select {
	case p.freeQueue <- h:
	default:
		// Queue unexpectedly full (over-provisioned partition); the
		// handle is dropped from rotation rather than blocking a release
		// helper indefinitely. Caller is responsible for destroying it.
	}
}

// shouldRetire reports spec §4.3's release-time check: broken or aged out.
func (p *partition) shouldRetire(h *Handle, now time.Time) bool {
	return h.IsPossiblyBroken() || h.isExpired(now)
}

func (p *partition) freeCount() int { return len(p.freeQueue) }
