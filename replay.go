package connpool

import (
	"context"
	"sync"

	"github.com/gopool/connpool/db"
)

// OpKind identifies which RawConn/RawTx method a recorded Operation
// replays.
type OpKind int

const (
	OpSetAutoCommit OpKind = iota
	OpPrepare
	OpExec
	OpQuery
	OpQueryRow
	OpCommit
	OpRollback
	OpSavepoint
	OpRollbackTo
	OpReleaseSavepoint
)

// Operation is one recorded (method, args) tuple, per spec §4.2.
// StmtSlot is set for Prepare and for operations issued against the
// statement that Prepare produced, so Replayer can remap old statement
// references to the fresh ones it creates.
type Operation struct {
	Kind     OpKind
	Query    string
	Args     []interface{}
	StmtSlot int
}

// ReplayLog is the ordered sequence of operations captured on a handle
// while transaction-recovery mode is enabled and inReplayMode == false.
// It is confined to its owning handle per spec §5 ("thread-local"); the
// mutex makes Append, Clear and Snapshot safe to call concurrently.
type ReplayLog struct {
	mu   sync.Mutex
	ops  []Operation
	next int
}

// Append records op, assigning and returning a StmtSlot when op is a
// Prepare (0 otherwise, and ignored by the caller).
func (l *ReplayLog) Append(op Operation) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot := 0
	if op.Kind == OpPrepare {
		slot = l.next
		l.next++
		op.StmtSlot = slot
	}
	l.ops = append(l.ops, op)
	return slot
}

// Clear empties the log; Handle.Close calls it.
func (l *ReplayLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = l.ops[:0]
	l.next = 0
}

// Snapshot returns a copy of the recorded operations for replay.
func (l *ReplayLog) Snapshot() []Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Operation, len(l.ops))
	copy(out, l.ops)
	return out
}

// TransactionRecoveryResult remaps old statement slot numbers (assigned by
// ReplayLog.Append) to the fresh db.PreparedStmt obtained while replaying
// onto a new physical connection.
type TransactionRecoveryResult struct {
	Statements map[int]db.PreparedStmt
}

// Replayer walks a ReplayLog onto a fresh raw connection. Replay stops at
// the first operation that fails: a failure classified as
// CONNECTION_BROKEN or DATABASE_DOWN is returned as an ErrConnectionBroken
// *Error, any other failure is returned as the driver reported it. The
// replay succeeds only if every operation succeeds.
type Replayer struct {
	hook ConnectionHook
}

// NewReplayer builds a Replayer that consults hook (may be nil) the same
// way Handle's own classification does.
func NewReplayer(hook ConnectionHook) *Replayer {
	if hook == nil {
		hook = NopConnectionHook{}
	}
	return &Replayer{hook: hook}
}

// Replay applies ops to fresh in order, returning the remap table built up
// as Prepare operations are re-issued.
func (r *Replayer) Replay(ctx context.Context, fresh db.RawConn, ops []Operation) (*TransactionRecoveryResult, error) {
	result := &TransactionRecoveryResult{Statements: make(map[int]db.PreparedStmt)}

	for _, op := range ops {
		if err := r.replayOne(ctx, fresh, op, result); err != nil {
			sqlState := fresh.SQLState(err)
			class := classifyWithHook(sqlState, nil, r.hook, err)
			if class == ConnectionBroken || class == DatabaseDown {
				return result, newError(ErrConnectionBroken, "replay aborted by classified failure", err)
			}
			return result, err
		}
	}
	return result, nil
}

func (r *Replayer) replayOne(ctx context.Context, fresh db.RawConn, op Operation, result *TransactionRecoveryResult) error {
	switch op.Kind {
	case OpSetAutoCommit:
		autoCommit, _ := op.Args[0].(bool)
		return fresh.SetAutoCommit(autoCommit)

	case OpPrepare:
		stmt, err := fresh.PrepareContext(ctx, op.Query)
		if err != nil {
			return err
		}
		result.Statements[op.StmtSlot] = stmt
		return nil

	case OpExec:
		if stmt, ok := result.Statements[op.StmtSlot]; ok {
			_, err := stmt.ExecContext(ctx, op.Args...)
			return err
		}
		_, err := fresh.ExecContext(ctx, op.Query, op.Args...)
		return err

	case OpQuery:
		if stmt, ok := result.Statements[op.StmtSlot]; ok {
			_, err := stmt.QueryContext(ctx, op.Args...)
			return err
		}
		_, err := fresh.QueryContext(ctx, op.Query, op.Args...)
		return err

	case OpQueryRow:
		if stmt, ok := result.Statements[op.StmtSlot]; ok {
			stmt.QueryRowContext(ctx, op.Args...)
			return nil
		}
		fresh.QueryRowContext(ctx, op.Query, op.Args...)
		return nil

	case OpCommit, OpRollback, OpSavepoint, OpRollbackTo, OpReleaseSavepoint:
		// These only make sense inside a RawTx. Handle records none of
		// them and Replayer begins no RawTx, so they are skipped.
		return nil

	default:
		return nil
	}
}

// classifyWithHook is a small seam shared with handle.go so Replayer does
// not need a *Handle to consult the override hooks.
func classifyWithHook(sqlState string, handle *Handle, hook ConnectionHook, exception error) Classification {
	base := fromDBClassification(db.Classify(sqlState))

	if hook != nil {
		switch hook.OnMarkPossiblyBroken(handle, sqlState, exception) {
		case TerminateAllConnections:
			base = DatabaseDown
		case ConnectionPossiblyBroken:
			if base == DataError {
				base = ConnectionBroken
			}
		}
	}

	if base == ConnectionBroken && hook != nil {
		if !hook.OnConnectionException(handle, sqlState, exception) {
			base = DataError
		}
	}

	return base
}

func fromDBClassification(c db.Classification) Classification {
	switch c {
	case db.DatabaseDown:
		return DatabaseDown
	case db.ConnectionBroken:
		return ConnectionBroken
	default:
		return DataError
	}
}
