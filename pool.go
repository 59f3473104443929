package connpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gopool/connpool/db"
	"github.com/gopool/connpool/logging"
)

// trackingEntry records when and where a checked-out Handle was acquired,
// so a leaked checkout (never Close'd) can be reported with a stack trace
// pointing at the GetConnection call that produced it.
type trackingEntry struct {
	acquiredAt time.Time
	stack      string
}

const tracerName = "github.com/gopool/connpool"

// Pool is the partitioned connection pool: spec §4.4's Pool component. It
// shards checkout requests across Partitions, coordinates growth and
// eviction via the workers in workers.go, and exposes the pool-visible API
// spec §6 names (GetConnection, Shutdown, TerminateAllConnections,
// Statistics, SetConnectionHook).
type Pool struct {
	config Config
	stats  *Statistics
	logger logging.Logger

	partitions []*partition
	nextPart   atomic.Uint64 // round-robin substitute for thread-affinity hashing

	tracer trace.Tracer

	releaseQueue chan *Handle

	// tracking holds a trackingEntry per currently-checked-out Handle,
	// keyed by the handle itself, unless Config.DisableConnectionTracking
	// is set. It substitutes for BoneCP's finalizer-based leak detection
	// (spec §4.1, §6): Go finalizers run at GC's discretion, not
	// deterministically, so a periodic scan (leakScanWorker) plays that
	// role instead.
	tracking sync.Map

	hookPtr atomic.Pointer[ConnectionHook]

	shuttingDown atomic.Bool
	shutdownCh   chan struct{}
	wg           sync.WaitGroup

	// terminated is set while TerminateAllConnections runs and cleared
	// when it returns, whether or not reprovisioning refilled every
	// partition; GetConnection refuses new checkouts while it is set.
	terminated atomic.Bool
}

// New builds a Pool and starts its background workers. Each partition is
// pre-populated to cfg.MinConnectionsPerPartition before New returns,
// matching spec §3's ConnectionPartition invariant "total count == min at
// initialization."
func New(ctx context.Context, cfg Config, logger logging.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewLogrusLogger()
	}

	p := &Pool{
		config:       cfg,
		stats:        &Statistics{},
		logger:       logger,
		tracer:       otel.Tracer(tracerName),
		releaseQueue: make(chan *Handle, cfg.MaxConnectionsPerPartition*cfg.PartitionCount),
		shutdownCh:   make(chan struct{}),
	}
	p.SetConnectionHook(NopConnectionHook{})

	p.partitions = make([]*partition, cfg.PartitionCount)
	for i := range p.partitions {
		part := newPartition(cfg.MinConnectionsPerPartition, cfg.MaxConnectionsPerPartition, cfg.AcquireIncrement)
		p.partitions[i] = part

		for j := 0; j < cfg.MinConnectionsPerPartition; j++ {
			h, err := p.dialHandle(ctx, part)
			if err != nil {
				p.Shutdown()
				return nil, newError(ErrAcquisitionFailed, "initial partition fill failed", err)
			}
			part.enqueueFree(h)
			part.totalCount.Add(1)
		}
	}

	const releaseHelperCount = 2
	for i := 0; i < releaseHelperCount; i++ {
		p.wg.Add(1)
		go p.releaseHelper()
	}

	for _, part := range p.partitions {
		p.wg.Add(1)
		go p.growthWorker(part)

		if cfg.IdleConnectionTestPeriod > 0 {
			p.wg.Add(1)
			go p.keepAliveWorker(part)
		}
	}

	if !cfg.DisableConnectionTracking {
		p.wg.Add(1)
		go p.leakScanWorker()
	}

	return p, nil
}

func (p *Pool) dialHandle(ctx context.Context, part *partition) (*Handle, error) {
	raw, err := db.Dial(ctx, p.config.Dial)
	if err != nil {
		return nil, err
	}
	h := newHandle(raw, part, p)
	p.stats.recordCreated()
	p.hook().OnAcquire(h)
	p.logger.LogConnection(ctx, logging.ConnectionOpen, logging.String("connection_type", string(p.config.Dial.Type)))
	return h, nil
}

// GetConnection implements spec §4.4's Checkout: choose a partition, try a
// non-blocking dequeue, signal growth and block with a deadline if empty,
// renew the handle, and return it.
func (p *Pool) GetConnection(ctx context.Context) (*Handle, error) {
	ctx, span := p.tracer.Start(ctx, "connpool.GetConnection")
	defer span.End()

	if p.shuttingDown.Load() {
		err := newError(ErrShutdownInProgress, "pool is shutting down", nil)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if p.terminated.Load() {
		err := newError(ErrDatabaseDown, "pool is reprovisioning after terminateAllConnections", nil)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()

	timeoutCtx := ctx
	var cancel context.CancelFunc
	if p.config.ConnectionTimeout > 0 {
		timeoutCtx, cancel = context.WithTimeout(ctx, p.config.ConnectionTimeout)
		defer cancel()
	}

	part := p.choosePartition()
	h, err := part.checkOut(timeoutCtx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	h.renewConnection()
	waitNs := time.Since(start).Nanoseconds()
	p.stats.recordCheckout(waitNs)
	p.hook().OnCheckOut(h)
	span.SetAttributes(attribute.Int64("connpool.wait_ns", waitNs))

	if !p.config.DisableConnectionTracking {
		p.trackAcquire(h)
	}
	if p.config.CloseConnectionWatch {
		p.startWatchdog(h)
	}

	return h, nil
}

// trackAcquire registers h's finalization tracking entry (spec §6):
// leakScanWorker later flags any entry held past a watchdog-scale
// threshold as a suspected leak.
func (p *Pool) trackAcquire(h *Handle) {
	p.tracking.Store(h, trackingEntry{acquiredAt: time.Now(), stack: captureStack()})
}

// untrackAcquire removes h's finalization tracking entry, called from
// Handle.Close (spec §4.1: "removes finalization tracking entry").
func (p *Pool) untrackAcquire(h *Handle) {
	p.tracking.Delete(h)
}

// scanForLeaks walks the tracking registry and logs every entry held
// longer than the watchdog threshold, the documented simpler alternative
// to BoneCP's finalizer-based leak detection.
func (p *Pool) scanForLeaks() {
	threshold := p.config.ConnectionTimeout * 10
	if threshold <= 0 {
		return
	}
	now := time.Now()

	p.tracking.Range(func(key, value interface{}) bool {
		entry := value.(trackingEntry)
		if now.Sub(entry.acquiredAt) < threshold {
			return true
		}
		p.logger.Warn(context.Background(), "suspected connection leak: handle checked out and never closed",
			logging.Duration("held_for", now.Sub(entry.acquiredAt)),
			logging.String("acquired_at_stack", entry.stack),
		)
		return true
	})
}

// choosePartition substitutes for spec §4.4's hash(currentThreadId) mod
// numPartitions: Go has no portable thread identifier, so an atomic
// round-robin counter distributes load across partitions instead. This is
// documented in DESIGN.md as an intentional substitution, not an oversight.
func (p *Pool) choosePartition() *partition {
	idx := p.nextPart.Add(1) % uint64(len(p.partitions))
	return p.partitions[idx]
}

func (p *Pool) startWatchdog(h *Handle) {
	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.watchdogCancel = cancel
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(p.config.ConnectionTimeout * 10):
			// Advisory only: spec §5 "A watchdog's interrupt of an
			// overlong checkout is advisory; it does not abort in-flight
			// driver calls."
			p.logger.Warn(context.Background(), "checkout watchdog fired", logging.Duration("held_for", p.config.ConnectionTimeout*10))
		}
	}()
}

// enqueueRelease is called by Handle.Close; the release helpers drain this
// queue asynchronously (spec §4.4 Release).
func (p *Pool) enqueueRelease(h *Handle) {
	select {
	case p.releaseQueue <- h:
	case <-p.shutdownCh:
	}
}

func (p *Pool) hook() ConnectionHook {
	hp := p.hookPtr.Load()
	if hp == nil {
		return NopConnectionHook{}
	}
	return *hp
}

// SetConnectionHook installs hook as the pool's single extension point
// (spec §6: setConnectionHook(hook)).
func (p *Pool) SetConnectionHook(hook ConnectionHook) {
	if hook == nil {
		hook = NopConnectionHook{}
	}
	p.hookPtr.Store(&hook)
}

// Statistics returns the pool's counter snapshot (spec §6: getStatistics).
func (p *Pool) Statistics() StatisticsSnapshot {
	return p.stats.Snapshot()
}

// TerminateAllConnections drains every partition's free queue, marking
// each handle found there broken and closing it, then redials each
// partition up to its minimum count. Handles checked out at the time are
// neither marked nor closed. New checkouts are refused only while this
// call runs; the refusal ends when it returns, also when reprovisioning
// fails part-way.
func (p *Pool) TerminateAllConnections() {
	if !p.terminated.CompareAndSwap(false, true) {
		return // already in progress
	}
	defer p.terminated.Store(false)

	_, span := p.tracer.Start(context.Background(), "connpool.TerminateAllConnections")
	defer span.End()

	p.logger.Warn(context.Background(), "terminating all connections")

	for _, part := range p.partitions {
		p.drainAndDestroy(part)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.ConnectionTimeout)
	defer cancel()

	for _, part := range p.partitions {
		for part.totalCount.Load() < int32(part.minCount) {
			h, err := p.dialHandle(ctx, part)
			if err != nil {
				p.logger.Error(ctx, "reprovisioning after terminateAllConnections failed", err)
				span.SetStatus(codes.Error, err.Error())
				return
			}
			part.enqueueFree(h)
			part.totalCount.Add(1)
		}
	}
}

// drainAndDestroy empties part's free queue, physically closing every
// handle it held, used by TerminateAllConnections.
func (p *Pool) drainAndDestroy(part *partition) {
	for {
		select {
		case h := <-part.freeQueue:
			h.possiblyBroken.Store(true)
			h.internalClose()
			part.totalCount.Add(-1)
		default:
			return
		}
	}
}

func (p *Pool) logDoubleClose(h *Handle, first, second string) {
	p.logger.Warn(context.Background(), "handle closed twice",
		logging.String("first_close_stack", first),
		logging.String("second_close_stack", second),
	)
}

// Shutdown drains the release queue, stops every background worker, and
// closes every handle across every partition.
func (p *Pool) Shutdown() error {
	if !p.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	close(p.shutdownCh)
	p.wg.Wait()

	for _, part := range p.partitions {
		close(part.freeQueue)
		for h := range part.freeQueue {
			h.internalClose()
		}
	}
	return nil
}
