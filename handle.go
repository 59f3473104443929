package connpool

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gopool/connpool/db"
	"github.com/gopool/connpool/logging"
	"github.com/gopool/connpool/statement"
)

// Classification is connpool's hook-aware counterpart to db.Classify's
// verdict: the same three-way split, but after ConnectionHook callbacks
// have had a chance to override it. db stays hook-agnostic; this package
// is where db.Classify(sqlState) and ConnectionHook.OnMarkPossiblyBroken /
// OnConnectionException are combined (spec §4.1.3).
type Classification int

const (
	DataError Classification = iota
	ConnectionBroken
	DatabaseDown
)

// Handle is the logical wrapper BoneCP calls a ConnectionHandle: it
// forwards every operation to raw, classifies failures, and caches
// prepared statements. A Handle is owned by exactly one goroutine while
// checked out (spec §5) — none of its mutable state needs synchronization
// except the fields the pool also touches, which are atomics or guarded
// by mu.
type Handle struct {
	raw       db.RawConn
	partition *partition
	pool      *Pool

	createdAt        time.Time
	lastUsedAt       atomic.Int64 // unix nanos
	lastResetAt      atomic.Int64 // unix nanos
	logicallyClosed  atomic.Bool
	possiblyBroken   atomic.Bool
	inReplayMode     atomic.Bool

	preparedCache *statement.Cache
	callableCache *statement.Cache

	// outstandingStmts tracks statements handed back to a caller via
	// prepare() that have not yet been Close'd. CloseConnectionWatch's
	// release-time audit (spec §4.1.1) walks this set and logs any entry
	// still present, since that means the caller released the Handle
	// without closing a statement it prepared.
	outstandingStmts sync.Map

	replayLog *ReplayLog

	mu             sync.Mutex
	closeStack     string // captured at first close, when CloseConnectionWatch is on
	watchdogCancel context.CancelFunc
}

func newHandle(raw db.RawConn, p *partition, pool *Pool) *Handle {
	h := &Handle{
		raw:       raw,
		partition: p,
		pool:      pool,
		createdAt: time.Now(),
	}
	now := time.Now().UnixNano()
	h.lastUsedAt.Store(now)
	h.lastResetAt.Store(now)

	size := pool.config.StatementsCacheSize
	h.preparedCache = statement.New(size)
	h.callableCache = statement.New(size)

	if pool.config.TransactionRecoveryEnabled {
		h.replayLog = &ReplayLog{}
	}

	return h
}

// renewConnection is called by Pool at checkout (spec §4.1: "renewed on
// each checkout").
func (h *Handle) renewConnection() {
	h.logicallyClosed.Store(false)
	h.possiblyBroken.Store(false)
	h.mu.Lock()
	h.closeStack = ""
	h.mu.Unlock()
	h.lastUsedAt.Store(time.Now().UnixNano())
	h.outstandingStmts = sync.Map{}
}

// IsClosed reports whether the client has logically closed this handle.
func (h *Handle) IsClosed() bool { return h.logicallyClosed.Load() }

// IsPossiblyBroken reports whether classification has marked this handle
// for retirement-on-release.
func (h *Handle) IsPossiblyBroken() bool { return h.possiblyBroken.Load() }

// isExpired implements spec §8 testable property 6:
// isExpired(t) ⇔ maxAge > 0 ∧ t - creationTime > maxAge.
func (h *Handle) isExpired(now time.Time) bool {
	maxAge := h.pool.config.MaxConnectionAge
	return maxAge > 0 && now.Sub(h.createdAt) > maxAge
}

// Close is idempotent (spec §4.1: "close()"). The first call sets
// logicallyClosed, clears any watchdog, and enqueues the handle onto the
// pool's release queue; subsequent calls are no-ops except for the
// CloseConnectionWatch double-close diagnostic.
func (h *Handle) Close() error {
	if !h.logicallyClosed.CompareAndSwap(false, true) {
		if h.pool.config.CloseConnectionWatch {
			h.mu.Lock()
			first := h.closeStack
			h.mu.Unlock()
			second := captureStack()
			h.pool.logDoubleClose(h, first, second)
		}
		return nil
	}

	h.mu.Lock()
	if h.pool.config.CloseConnectionWatch {
		h.closeStack = captureStack()
	}
	if h.watchdogCancel != nil {
		h.watchdogCancel()
		h.watchdogCancel = nil
	}
	h.mu.Unlock()

	if h.replayLog != nil {
		h.replayLog.Clear()
	}

	if !h.pool.config.DisableConnectionTracking {
		h.pool.untrackAcquire(h)
	}

	h.pool.enqueueRelease(h)
	return nil
}

func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// internalClose is called by the pool when retiring a handle (age,
// brokenness, shutdown, or cache eviction): it drains and closes every
// cached statement, closes the raw connection, and marks the handle
// logically closed for good.
func (h *Handle) internalClose() error {
	h.logicallyClosed.Store(true)

	for _, stmt := range h.preparedCache.Drain() {
		stmt.Close()
	}
	for _, stmt := range h.callableCache.Drain() {
		stmt.Close()
	}

	h.pool.hook().OnDestroy(h)
	err := h.raw.Close()
	h.pool.stats.recordDestroyed()
	h.pool.logger.LogConnection(context.Background(), logging.ConnectionClose, logging.String("connection_type", string(h.pool.config.Dial.Type)))
	return err
}

// auditStatementLeaks logs every statement this Handle currently has
// outstanding (prepared via prepare() but never Close'd back into the
// cache). Called on release when CloseConnectionWatch is on.
func (h *Handle) auditStatementLeaks() {
	h.outstandingStmts.Range(func(key, value interface{}) bool {
		h.pool.logger.Warn(context.Background(), "statement leak: prepared statement still outstanding at release",
			logging.String("cache_key", key.(string)),
			logging.String("sql", value.(string)),
		)
		return true
	})
}

func (h *Handle) checkNotClosed() error {
	if h.logicallyClosed.Load() {
		return newError(ErrOperationOnClosedHandle, "operation attempted on a logically closed handle", nil)
	}
	return nil
}

// --- Statement preparation (spec §4.1, §4.1.1) ---

// PrepareContext prepares sql, consulting the per-handle statement cache
// first. A cache hit returns the cached wrapper without a driver
// round-trip; a miss prepares on the raw connection. Closing the returned
// statement puts it back into the cache for reuse instead of closing the
// driver statement.
func (h *Handle) PrepareContext(ctx context.Context, sql string, opts ...statement.PrepareOption) (db.PreparedStmt, error) {
	return h.prepare(ctx, h.preparedCache, sql, opts...)
}

// PrepareCallContext is PrepareContext's callable-statement counterpart.
// Go's database/sql and pgx expose no separate "callable statement" API
// (stored procedures are invoked the same way as any other prepared
// call), so this cache exists to preserve spec §3's two-cache data model
// rather than because the underlying driver needs a second code path.
func (h *Handle) PrepareCallContext(ctx context.Context, sql string, opts ...statement.PrepareOption) (db.PreparedStmt, error) {
	return h.prepare(ctx, h.callableCache, sql, opts...)
}

func (h *Handle) prepare(ctx context.Context, cache *statement.Cache, sql string, opts ...statement.PrepareOption) (db.PreparedStmt, error) {
	ctx, span := h.pool.tracer.Start(ctx, "connpool.Prepare")
	defer span.End()

	if err := h.checkNotClosed(); err != nil {
		return nil, err
	}

	key := statement.Key(sql, opts...)

	if stmt, ok := cache.Get(key); ok {
		h.pool.stats.recordPrepare(true, 0)
		h.recordReplay(OpPrepare, sql)
		h.outstandingStmts.Store(key, sql)
		span.SetAttributes(attribute.Bool("connpool.cache_hit", true))
		return &cachedStmt{cache: cache, key: key, handle: h, PreparedStmt: stmt}, nil
	}

	start := time.Now()
	stmt, err := h.raw.PrepareContext(ctx, sql)
	if err != nil {
		return nil, h.classify(err)
	}
	elapsed := time.Since(start).Nanoseconds()
	h.pool.stats.recordPrepare(false, elapsed)
	h.recordReplay(OpPrepare, sql)
	h.outstandingStmts.Store(key, sql)
	span.SetAttributes(
		attribute.Bool("connpool.cache_hit", false),
		attribute.Int64("connpool.prepare_ns", elapsed),
	)

	return &cachedStmt{cache: cache, key: key, handle: h, PreparedStmt: stmt}, nil
}

// cachedStmt wraps a db.PreparedStmt so that Close offers it back to the
// owning Handle's cache instead of closing the driver statement — spec
// §4.1.1's "it does not close the underlying driver statement; instead it
// offers itself back to its owning ConnectionHandle's cache under its
// key."
type cachedStmt struct {
	db.PreparedStmt
	cache  *statement.Cache
	key    string
	handle *Handle
}

func (c *cachedStmt) Close() error {
	c.handle.outstandingStmts.Delete(c.key)
	evicted := c.cache.Put(c.key, c.PreparedStmt)
	if evicted != nil {
		return evicted.Close()
	}
	return nil
}

// --- Delegated operations (spec §4.1's commit/rollback/etc. family) ---

func (h *Handle) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := h.checkNotClosed(); err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := h.raw.ExecContext(ctx, query, args...)
	if h.pool.config.LogStatementsEnabled {
		h.pool.logger.LogQuery(ctx, query, args, time.Since(start), err)
	}
	if err != nil {
		return nil, h.classify(err)
	}
	h.recordReplay(OpExec, query, args...)
	return res, nil
}

func (h *Handle) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if err := h.checkNotClosed(); err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := h.raw.QueryContext(ctx, query, args...)
	if h.pool.config.LogStatementsEnabled {
		h.pool.logger.LogQuery(ctx, query, args, time.Since(start), err)
	}
	if err != nil {
		return nil, h.classify(err)
	}
	h.recordReplay(OpQuery, query, args...)
	return rows, nil
}

func (h *Handle) SetAutoCommit(ctx context.Context, autoCommit bool) error {
	if err := h.checkNotClosed(); err != nil {
		return err
	}
	if err := h.raw.SetAutoCommit(autoCommit); err != nil {
		return h.classify(err)
	}
	h.recordReplay(OpSetAutoCommit, "", autoCommit)
	return nil
}

func (h *Handle) recordReplay(kind OpKind, query string, args ...interface{}) {
	if h.replayLog == nil || h.inReplayMode.Load() {
		return
	}
	h.replayLog.Append(Operation{Kind: kind, Query: query, Args: args})
}

// IsConnectionAlive is the pool's keep-alive probe: it pings the raw
// connection.
func (h *Handle) IsConnectionAlive(ctx context.Context) bool {
	return h.raw.PingContext(ctx) == nil
}

// --- Failure classification (spec §4.1.3) ---

// classify implements markPossiblyBroken: it extracts a SQL-state from err,
// consults the pool's ConnectionHook, and maps the outcome onto the
// three-way split. Classification never swallows err — it is always
// returned (wrapped) for the caller to handle.
func (h *Handle) classify(err error) error {
	sqlState := h.raw.SQLState(err)
	hook := h.pool.hook()

	class := classifyWithHook(sqlState, h, hook, err)

	switch class {
	case DatabaseDown:
		h.possiblyBroken.Store(true)
		h.pool.stats.recordBroken()
		go h.pool.TerminateAllConnections()
		return newError(ErrDatabaseDown, fmt.Sprintf("sqlstate %s", sqlState), err)
	case ConnectionBroken:
		h.possiblyBroken.Store(true)
		h.pool.stats.recordBroken()
		return newError(ErrConnectionBroken, fmt.Sprintf("sqlstate %s", sqlState), err)
	default:
		return newError(ErrDataError, "driver error", err)
	}
}
