package testing

import (
	"context"
	"database/sql"

	"github.com/stretchr/testify/mock"

	"github.com/gopool/connpool"
	"github.com/gopool/connpool/db"
)

// MockRawConn is a testify mock of db.RawConn, used by handle and pool
// tests that need to drive failure classification without a real driver.
type MockRawConn struct {
	mock.Mock
	connType db.ConnectionType
}

func NewMockRawConn(connType db.ConnectionType) *MockRawConn {
	return &MockRawConn{connType: connType}
}

func (m *MockRawConn) Type() db.ConnectionType { return m.connType }

func (m *MockRawConn) PingContext(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockRawConn) Close() error {
	return m.Called().Error(0)
}

func (m *MockRawConn) PrepareContext(ctx context.Context, query string) (db.PreparedStmt, error) {
	ret := m.Called(ctx, query)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(db.PreparedStmt), ret.Error(1)
}

func (m *MockRawConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	callArgs := append([]interface{}{ctx, query}, args...)
	ret := m.Called(callArgs...)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(sql.Result), ret.Error(1)
}

func (m *MockRawConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	callArgs := append([]interface{}{ctx, query}, args...)
	ret := m.Called(callArgs...)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(*sql.Rows), ret.Error(1)
}

func (m *MockRawConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	callArgs := append([]interface{}{ctx, query}, args...)
	ret := m.Called(callArgs...)
	if ret.Get(0) == nil {
		return nil
	}
	return ret.Get(0).(*sql.Row)
}

func (m *MockRawConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (db.RawTx, error) {
	ret := m.Called(ctx, opts)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(db.RawTx), ret.Error(1)
}

func (m *MockRawConn) SetAutoCommit(on bool) error {
	return m.Called(on).Error(0)
}

func (m *MockRawConn) AutoCommit() bool {
	return m.Called().Bool(0)
}

func (m *MockRawConn) SQLState(err error) string {
	return m.Called(err).String(0)
}

// MockConnectionHook is a testify mock of connpool.ConnectionHook, letting
// tests assert on checkout/checkin/broken-state callback sequencing.
type MockConnectionHook struct {
	mock.Mock
}

func (m *MockConnectionHook) OnAcquire(handle *connpool.Handle) {
	m.Called(handle)
}

func (m *MockConnectionHook) OnAcquireFail(err error, cfg connpool.AcquireFailConfig) bool {
	return m.Called(err, cfg).Bool(0)
}

func (m *MockConnectionHook) OnCheckIn(handle *connpool.Handle) {
	m.Called(handle)
}

func (m *MockConnectionHook) OnCheckOut(handle *connpool.Handle) {
	m.Called(handle)
}

func (m *MockConnectionHook) OnDestroy(handle *connpool.Handle) {
	m.Called(handle)
}

func (m *MockConnectionHook) OnMarkPossiblyBroken(handle *connpool.Handle, sqlState string, exception error) connpool.ConnectionState {
	return m.Called(handle, sqlState, exception).Get(0).(connpool.ConnectionState)
}

func (m *MockConnectionHook) OnConnectionException(handle *connpool.Handle, sqlState string, exception error) bool {
	return m.Called(handle, sqlState, exception).Bool(0)
}

// MockPreparedStmt is a testify mock of db.PreparedStmt, used by statement
// cache tests that need to observe exactly when a statement is closed.
type MockPreparedStmt struct {
	mock.Mock
}

func (m *MockPreparedStmt) ExecContext(ctx context.Context, args ...interface{}) (sql.Result, error) {
	callArgs := append([]interface{}{ctx}, args...)
	ret := m.Called(callArgs...)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(sql.Result), ret.Error(1)
}

func (m *MockPreparedStmt) QueryContext(ctx context.Context, args ...interface{}) (*sql.Rows, error) {
	callArgs := append([]interface{}{ctx}, args...)
	ret := m.Called(callArgs...)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(*sql.Rows), ret.Error(1)
}

func (m *MockPreparedStmt) QueryRowContext(ctx context.Context, args ...interface{}) *sql.Row {
	callArgs := append([]interface{}{ctx}, args...)
	ret := m.Called(callArgs...)
	if ret.Get(0) == nil {
		return nil
	}
	return ret.Get(0).(*sql.Row)
}

func (m *MockPreparedStmt) Close() error {
	return m.Called().Error(0)
}

// MockResult is a minimal sql.Result stand-in for ExecContext expectations.
type MockResult struct {
	LastID int64
	Rows   int64
}

func (r MockResult) LastInsertId() (int64, error) { return r.LastID, nil }
func (r MockResult) RowsAffected() (int64, error) { return r.Rows, nil }
