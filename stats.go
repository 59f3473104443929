package connpool

import "sync/atomic"

// Statistics is the thin counter interface spec.md's scope permits in lieu
// of full metrics plumbing: monotone atomic counters only, no histograms,
// no exporter.
type Statistics struct {
	statementsPrepared   atomic.Int64
	prepareTimeTotalNs   atomic.Int64
	cacheHits            atomic.Int64
	cacheMisses          atomic.Int64
	connectionsRequested atomic.Int64
	waitTimeTotalNs      atomic.Int64

	connectionsCreated  atomic.Int64
	connectionsDestroyed atomic.Int64
	connectionsBroken   atomic.Int64
}

// StatisticsSnapshot is a point-in-time copy of Statistics, safe to read
// without further synchronization.
type StatisticsSnapshot struct {
	StatementsPrepared   int64
	PrepareTimeTotalNs   int64
	CacheHits            int64
	CacheMisses          int64
	ConnectionsRequested int64
	WaitTimeTotalNs      int64

	ConnectionsCreated   int64
	ConnectionsDestroyed int64
	ConnectionsBroken    int64
}

// Snapshot returns a consistent-enough copy of the current counters. It is
// not a single atomic transaction across fields, matching the monotone,
// eventually-consistent nature of the spec's counter set.
func (s *Statistics) Snapshot() StatisticsSnapshot {
	if s == nil {
		return StatisticsSnapshot{}
	}
	return StatisticsSnapshot{
		StatementsPrepared:   s.statementsPrepared.Load(),
		PrepareTimeTotalNs:   s.prepareTimeTotalNs.Load(),
		CacheHits:            s.cacheHits.Load(),
		CacheMisses:          s.cacheMisses.Load(),
		ConnectionsRequested: s.connectionsRequested.Load(),
		WaitTimeTotalNs:      s.waitTimeTotalNs.Load(),
		ConnectionsCreated:   s.connectionsCreated.Load(),
		ConnectionsDestroyed: s.connectionsDestroyed.Load(),
		ConnectionsBroken:    s.connectionsBroken.Load(),
	}
}

func (s *Statistics) recordPrepare(hit bool, elapsedNs int64) {
	if s == nil {
		return
	}
	s.statementsPrepared.Add(1)
	s.prepareTimeTotalNs.Add(elapsedNs)
	if hit {
		s.cacheHits.Add(1)
	} else {
		s.cacheMisses.Add(1)
	}
}

func (s *Statistics) recordCheckout(waitNs int64) {
	if s == nil {
		return
	}
	s.connectionsRequested.Add(1)
	s.waitTimeTotalNs.Add(waitNs)
}

func (s *Statistics) recordCreated() {
	if s == nil {
		return
	}
	s.connectionsCreated.Add(1)
}

func (s *Statistics) recordDestroyed() {
	if s == nil {
		return
	}
	s.connectionsDestroyed.Add(1)
}

func (s *Statistics) recordBroken() {
	if s == nil {
		return
	}
	s.connectionsBroken.Add(1)
}
