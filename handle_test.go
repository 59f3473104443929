package connpool

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/gopool/connpool/db"
	"github.com/gopool/connpool/logging"
	gopooltesting "github.com/gopool/connpool/testing"
)

// otel's default global TracerProvider is a no-op until SetTracerProvider
// is called, so this tracer records nothing and never touches a network.
var noopTracer trace.Tracer = otel.Tracer("connpool-test")

type HandleTestSuite struct {
	suite.Suite
}

func TestHandleTestSuite(t *testing.T) {
	suite.Run(t, new(HandleTestSuite))
}

func (s *HandleTestSuite) newTestPool() *Pool {
	p := &Pool{
		config: Config{
			StatementsCacheSize: 10,
			MaxConnectionAge:    0,
		},
		stats:  &Statistics{},
		logger: logging.NewNoOpLogger(),
	}
	p.tracer = noopTracer
	return p
}

func (s *HandleTestSuite) TestCloseIsIdempotent() {
	raw := gopooltesting.NewMockRawConn(db.MySQL)
	pool := s.newTestPool()
	pool.releaseQueue = make(chan *Handle, 1)
	pool.shutdownCh = make(chan struct{})
	part := newPartition(1, 4, 2)

	h := newHandle(raw, part, pool)

	s.NoError(h.Close())
	s.True(h.IsClosed())

	// second close must not enqueue a second release or panic
	s.NoError(h.Close())
	s.Len(pool.releaseQueue, 1)
}

func (s *HandleTestSuite) TestOperationOnClosedHandleErrors() {
	raw := gopooltesting.NewMockRawConn(db.MySQL)
	pool := s.newTestPool()
	pool.releaseQueue = make(chan *Handle, 1)
	pool.shutdownCh = make(chan struct{})
	part := newPartition(1, 4, 2)

	h := newHandle(raw, part, pool)
	h.logicallyClosed.Store(true)

	_, err := h.ExecContext(context.Background(), "SELECT 1")
	s.Error(err)

	poolErr, ok := err.(*Error)
	s.True(ok)
	s.Equal(ErrOperationOnClosedHandle, poolErr.Kind)
}

func (s *HandleTestSuite) TestIsExpiredRespectsMaxConnectionAge() {
	pool := s.newTestPool()
	pool.config.MaxConnectionAge = time.Millisecond
	part := newPartition(1, 4, 2)
	h := newHandle(gopooltesting.NewMockRawConn(db.MySQL), part, pool)

	s.False(h.isExpired(time.Now()))
	s.True(h.isExpired(time.Now().Add(time.Hour)))
}

func (s *HandleTestSuite) TestIsExpiredNeverWhenMaxAgeIsZero() {
	pool := s.newTestPool()
	part := newPartition(1, 4, 2)
	h := newHandle(gopooltesting.NewMockRawConn(db.MySQL), part, pool)

	s.False(h.isExpired(time.Now().Add(1000 * time.Hour)))
}

func (s *HandleTestSuite) TestClassifyDatabaseDownTriggersTerminate() {
	raw := gopooltesting.NewMockRawConn(db.MySQL)
	hook := new(gopooltesting.MockConnectionHook)
	hook.On("OnMarkPossiblyBroken", mock.Anything, "08001", mock.Anything).Return(NOP)

	pool := s.newTestPool()
	pool.partitions = []*partition{newPartition(0, 1, 1)}
	var hookIface ConnectionHook = hook
	pool.hookPtr.Store(&hookIface)
	part := pool.partitions[0]

	h := newHandle(raw, part, pool)

	raw.On("SQLState", mock.Anything).Return("08001")

	err := h.classify(errors.New("boom"))
	s.Error(err)
	poolErr, ok := err.(*Error)
	s.True(ok)
	s.Equal(ErrDatabaseDown, poolErr.Kind)
	s.True(h.IsPossiblyBroken())

	// classify starts TerminateAllConnections asynchronously. This test does
	// not observe that call; reaching this point shows classify returned
	// without waiting on it. The sleep lets the goroutine run before cleanup.
	time.Sleep(10 * time.Millisecond)
}

func (s *HandleTestSuite) TestClassifyConnectionBrokenMarksHandle() {
	raw := gopooltesting.NewMockRawConn(db.MySQL)
	raw.On("SQLState", mock.Anything).Return("08999")

	pool := s.newTestPool()
	pool.partitions = []*partition{newPartition(0, 1, 1)}
	part := pool.partitions[0]
	h := newHandle(raw, part, pool)

	err := h.classify(errors.New("connection reset"))
	s.Error(err)
	poolErr, ok := err.(*Error)
	s.True(ok)
	s.Equal(ErrConnectionBroken, poolErr.Kind)
	s.True(h.IsPossiblyBroken())
}

func (s *HandleTestSuite) TestExecContextLogsStatementWhenEnabled() {
	raw := gopooltesting.NewMockRawConn(db.MySQL)
	raw.On("ExecContext", mock.Anything, "UPDATE t SET x=1").Return(gopooltesting.MockResult{}, nil)

	var buf bytes.Buffer
	cfg := logging.DefaultLoggerConfig()
	cfg.Output = &buf
	cfg.Level = logging.DEBUG
	cfg.SanitizeParams = false
	stdLogger := logging.NewStandardLogger(cfg)

	pool := s.newTestPool()
	pool.logger = stdLogger
	pool.config.LogStatementsEnabled = true
	part := newPartition(1, 4, 2)
	h := newHandle(raw, part, pool)

	_, err := h.ExecContext(context.Background(), "UPDATE t SET x=1")
	s.NoError(err)
	s.Contains(buf.String(), "UPDATE t SET x=1")
}

func (s *HandleTestSuite) TestExecContextDoesNotLogWhenDisabled() {
	raw := gopooltesting.NewMockRawConn(db.MySQL)
	raw.On("ExecContext", mock.Anything, "UPDATE t SET x=1").Return(gopooltesting.MockResult{}, nil)

	var buf bytes.Buffer
	cfg := logging.DefaultLoggerConfig()
	cfg.Output = &buf
	cfg.Level = logging.DEBUG
	stdLogger := logging.NewStandardLogger(cfg)

	pool := s.newTestPool()
	pool.logger = stdLogger
	pool.config.LogStatementsEnabled = false
	part := newPartition(1, 4, 2)
	h := newHandle(raw, part, pool)

	_, err := h.ExecContext(context.Background(), "UPDATE t SET x=1")
	s.NoError(err)
	s.Empty(buf.String())
}

func (s *HandleTestSuite) TestAuditStatementLeaksLogsOutstandingStatement() {
	raw := gopooltesting.NewMockRawConn(db.MySQL)
	raw.On("PrepareContext", mock.Anything, "SELECT 1").Return(new(gopooltesting.MockPreparedStmt), nil)

	var buf bytes.Buffer
	cfg := logging.DefaultLoggerConfig()
	cfg.Output = &buf
	cfg.Level = logging.DEBUG
	stdLogger := logging.NewStandardLogger(cfg)

	pool := s.newTestPool()
	pool.logger = stdLogger
	pool.config.CloseConnectionWatch = true
	part := newPartition(1, 4, 2)
	h := newHandle(raw, part, pool)

	_, err := h.PrepareContext(context.Background(), "SELECT 1")
	s.NoError(err)

	// caller never closes the returned statement back into the cache, so
	// it is still outstanding when the handle is released.
	h.auditStatementLeaks()
	s.Contains(buf.String(), "statement leak")
	s.Contains(buf.String(), "SELECT 1")
}

func (s *HandleTestSuite) TestClassifyDataErrorDoesNotMarkHandle() {
	raw := gopooltesting.NewMockRawConn(db.MySQL)
	raw.On("SQLState", mock.Anything).Return("23000") // integrity constraint violation

	pool := s.newTestPool()
	pool.partitions = []*partition{newPartition(0, 1, 1)}
	part := pool.partitions[0]
	h := newHandle(raw, part, pool)

	err := h.classify(errors.New("duplicate key"))
	s.Error(err)
	poolErr, ok := err.(*Error)
	s.True(ok)
	s.Equal(ErrDataError, poolErr.Kind)
	s.False(h.IsPossiblyBroken())
}
