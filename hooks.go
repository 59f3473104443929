package connpool

import "time"

// ConnectionState is the return code a ConnectionHook's classification
// callbacks use to steer or veto the pool's own classification decision.
type ConnectionState int

const (
	// NOP leaves the pool's own classification untouched.
	NOP ConnectionState = iota
	// ConnectionPossiblyBroken marks the handle possibly-broken; it is
	// retired on release rather than re-pooled.
	ConnectionPossiblyBroken
	// TerminateAllConnections additionally terminates every connection in
	// the pool, as if the classifier had observed a DATABASE_DOWN state.
	TerminateAllConnections
)

// AcquireFailConfig is passed to ConnectionHook.OnAcquireFail so the hook
// can decide whether the growth worker's retry loop should continue.
type AcquireFailConfig struct {
	AttemptsLeft int
	RetryDelay   time.Duration
}

// ConnectionHook is the pool's single extension point. Implementations are
// consulted at every point the pool would otherwise act unilaterally:
// acquiring, checking a handle in or out, destroying it, and classifying a
// driver failure. A nil hook is equivalent to one whose callbacks are all
// no-ops (OnAcquireFail returns false, OnMarkPossiblyBroken returns NOP,
// OnConnectionException returns true so the possibly-broken flag stays).
type ConnectionHook interface {
	// OnAcquire is called after a new physical connection has been wrapped
	// in a Handle and is about to be enqueued in its partition.
	OnAcquire(handle *Handle)

	// OnAcquireFail is called when obtaining a new physical connection
	// errors. The growth worker acts on the return value only on the
	// failure that counts AcquireRetryAttempts down to zero: false then
	// ends the retry loop, true allows one last attempt. Earlier failures
	// are retried whatever it returns.
	OnAcquireFail(err error, cfg AcquireFailConfig) bool

	// OnCheckIn is called when a handle is returned to its partition's
	// free queue.
	OnCheckIn(handle *Handle)

	// OnCheckOut is called when a handle is handed to client code.
	OnCheckOut(handle *Handle)

	// OnDestroy is called just before a handle's raw connection is closed
	// for good.
	OnDestroy(handle *Handle)

	// OnMarkPossiblyBroken is consulted during failure classification
	// (spec §4.1.3) and may escalate or downgrade the pool's own verdict.
	OnMarkPossiblyBroken(handle *Handle, sqlState string, exception error) ConnectionState

	// OnConnectionException is consulted after a handle has been marked
	// possibly-broken; returning false vetoes the flag.
	OnConnectionException(handle *Handle, sqlState string, exception error) bool
}

// NopConnectionHook implements ConnectionHook with no-op callbacks. It is
// the hook a Pool uses until SetConnectionHook is called.
type NopConnectionHook struct{}

func (NopConnectionHook) OnAcquire(*Handle)     {}
func (NopConnectionHook) OnCheckIn(*Handle)     {}
func (NopConnectionHook) OnCheckOut(*Handle)    {}
func (NopConnectionHook) OnDestroy(*Handle)     {}

func (NopConnectionHook) OnAcquireFail(error, AcquireFailConfig) bool { return false }

func (NopConnectionHook) OnMarkPossiblyBroken(*Handle, string, error) ConnectionState {
	return NOP
}

func (NopConnectionHook) OnConnectionException(*Handle, string, error) bool {
	return true
}
