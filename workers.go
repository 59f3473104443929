package connpool

import (
	"context"
	"time"

	"github.com/gopool/connpool/logging"
)

// releaseHelper drains the pool-wide release queue and returns each handle
// to its originating partition, or retires it. Spec §9's resolved open
// question: a non-shutdown error logs and continues rather than exiting
// the worker, since exiting would permanently shrink release capacity.
func (p *Pool) releaseHelper() {
	defer p.wg.Done()

	for {
		select {
		case <-p.shutdownCh:
			p.drainReleaseQueue()
			return
		case h := <-p.releaseQueue:
			p.internalReleaseConnection(h)
		}
	}
}

func (p *Pool) drainReleaseQueue() {
	for {
		select {
		case h := <-p.releaseQueue:
			p.internalReleaseConnection(h)
		default:
			return
		}
	}
}

// internalReleaseConnection implements spec §4.3's release(handle): retire
// if broken or expired, otherwise return it to its partition's free queue.
func (p *Pool) internalReleaseConnection(h *Handle) {
	if p.config.CloseConnectionWatch {
		h.auditStatementLeaks()
	}

	part := h.partition
	now := time.Now()

	if part.shouldRetire(h, now) {
		if err := h.internalClose(); err != nil {
			p.logger.Error(context.Background(), "release helper failed to close retired handle", err)
		}
		part.totalCount.Add(-1)
		part.signalGrowth()
		return
	}

	h.lastUsedAt.Store(now.UnixNano())
	p.hook().OnCheckIn(h)
	part.enqueueFree(h)
}

// growthWorker implements spec §4.4's Growth: parked on a buffered signal
// channel, it obtains acquireIncrement new physical connections (respecting
// max) whenever a partition reports low free count.
func (p *Pool) growthWorker(part *partition) {
	defer p.wg.Done()

	for {
		select {
		case <-p.shutdownCh:
			return
		case <-part.growthSignal:
			p.grow(part)
		}
	}
}

func (p *Pool) grow(part *partition) {
	room := int(int32(part.maxCount) - part.totalCount.Load())
	if room <= 0 {
		part.unableToGrow.Store(true)
		return
	}

	toAcquire := part.acquireIncr
	if toAcquire > room {
		toAcquire = room
	}

	for i := 0; i < toAcquire; i++ {
		h, err := p.acquireWithRetry(part)
		if err != nil {
			p.logger.Error(context.Background(), "growth worker failed to acquire connection", err)
			return
		}
		part.enqueueFree(h)
		part.totalCount.Add(1)
		part.unableToGrow.Store(false)
	}
}

// acquireWithRetry is the growth worker's acquisition retry loop:
// attemptsLeft counts down, sleeping acquireRetryDelay between attempts;
// -1 means infinite retries. New's initial partition fill does not use it:
// it dials each connection once and fails on the first error.
func (p *Pool) acquireWithRetry(part *partition) (*Handle, error) {
	attemptsLeft := p.config.AcquireRetryAttempts
	delay := p.config.AcquireRetryDelay

	for {
		ctx, cancel := context.WithTimeout(context.Background(), p.config.ConnectionTimeout)
		h, err := p.dialHandle(ctx, part)
		cancel()
		if err == nil {
			return h, nil
		}

		if attemptsLeft == 0 {
			return nil, newError(ErrAcquisitionFailed, "exhausted acquireRetryAttempts", err)
		}

		retry := p.hook().OnAcquireFail(err, AcquireFailConfig{AttemptsLeft: attemptsLeft, RetryDelay: delay})
		if attemptsLeft > 0 {
			attemptsLeft--
		}
		if !retry && attemptsLeft == 0 {
			return nil, newError(ErrAcquisitionFailed, "hook declined retry", err)
		}

		select {
		case <-time.After(delay):
		case <-p.shutdownCh:
			return nil, newError(ErrShutdownInProgress, "pool shutting down during acquisition retry", err)
		}
	}
}

// keepAliveWorker implements spec §4.4's Keep-alive & eviction worker: per
// partition, at idleConnectionTestPeriod, walk the free queue, retiring
// aged-out handles and probing the rest.
func (p *Pool) keepAliveWorker(part *partition) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.IdleConnectionTestPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdownCh:
			return
		case <-ticker.C:
			p.sweepPartition(part)
		}
	}
}

func (p *Pool) sweepPartition(part *partition) {
	pending := part.freeCount()
	now := time.Now()

	for i := 0; i < pending; i++ {
		var h *Handle
		select {
		case h = <-part.freeQueue:
		default:
			return
		}

		if h.isExpired(now) {
			h.internalClose()
			part.totalCount.Add(-1)
			part.signalGrowth()
			continue
		}

		if idleMaxAge := p.config.IdleMaxAge; idleMaxAge > 0 {
			idleFor := now.Sub(time.Unix(0, h.lastUsedAt.Load()))
			if idleFor >= idleMaxAge {
				p.logger.Debug(context.Background(), "retiring handle past idleMaxAge", logging.Duration("idle_for", idleFor))
				h.internalClose()
				part.totalCount.Add(-1)
				part.signalGrowth()
				continue
			}
		}

		sinceReset := now.Sub(time.Unix(0, h.lastResetAt.Load()))
		if sinceReset >= p.config.IdleConnectionTestPeriod {
			ctx, cancel := context.WithTimeout(context.Background(), p.config.ConnectionTimeout)
			alive := h.IsConnectionAlive(ctx)
			cancel()
			h.lastResetAt.Store(now.UnixNano())

			if !alive {
				p.logger.Warn(context.Background(), "keep-alive probe failed, retiring handle", logging.String("partition", "unnamed"))
				h.internalClose()
				part.totalCount.Add(-1)
				part.signalGrowth()
				continue
			}
		}

		part.enqueueFree(h)
	}
}

// leakScanWorker periodically invokes scanForLeaks; spec §6's finalization
// tracking registry needs a driver to actually surface stale entries since
// Go has no deterministic equivalent of a finalize() callback.
func (p *Pool) leakScanWorker() {
	defer p.wg.Done()

	period := p.config.ConnectionTimeout
	if period <= 0 {
		period = 10 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdownCh:
			return
		case <-ticker.C:
			p.scanForLeaks()
		}
	}
}
