// Package db defines the boundary between the pool and the underlying
// database driver: an opaque "raw connection" capability set, plus the
// thin adapters that satisfy it over database/sql (via sqlx, for MySQL,
// SQLite and SQL Server) and over pgx (for PostgreSQL).
//
// Nothing in this package knows about partitions, handles or statement
// caching; connpool treats everything here as an external collaborator.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
)

// ConnectionType identifies which driver family a raw connection belongs to.
type ConnectionType string

const (
	PostgreSQL ConnectionType = "postgresql"
	MySQL      ConnectionType = "mysql"
	SQLite     ConnectionType = "sqlite"
	SQLServer  ConnectionType = "sqlserver"
)

// RawConn is the capability set the pool requires from a physical database
// connection. It is intentionally narrow: no ORM-level Select/Get, no
// struct scanning — just enough surface for Handle to forward transaction
// control, statement preparation and execution, and for the pool to probe
// liveness and extract a driver SQLSTATE from a failure.
type RawConn interface {
	Type() ConnectionType

	PingContext(ctx context.Context) error
	Close() error

	PrepareContext(ctx context.Context, query string) (PreparedStmt, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row

	BeginTx(ctx context.Context, opts *sql.TxOptions) (RawTx, error)

	// SetAutoCommit emulates JDBC's autocommit toggle. database/sql and pgx
	// have no programmatic equivalent outside BeginTx, so this only records
	// a flag that AutoCommit reads back; it is not a driver round-trip.
	SetAutoCommit(autoCommit bool) error
	AutoCommit() bool

	// SQLState extracts the driver-specific error code from err, or ""
	// if err does not carry one. Used by Classify (see classify.go).
	SQLState(err error) string
}

// RawTx is the capability set required from a started transaction.
type RawTx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	PrepareContext(ctx context.Context, query string) (PreparedStmt, error)

	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error

	Commit() error
	Rollback() error
}

// PreparedStmt is the capability set required from a prepared statement.
// It is also what StatementCache stores, so that Handle's close-to-cache
// handoff (spec §4.1.1) only ever touches this interface.
type PreparedStmt interface {
	ExecContext(ctx context.Context, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, args ...interface{}) *sql.Row
	Close() error
}

// DialConfig describes how to open a fresh physical connection. One
// DialConfig is held per Pool and invoked on every growth cycle.
type DialConfig struct {
	Type            ConnectionType
	DSN             string
	ConnMaxLifetime time.Duration
	InitSQL         string
}

// Dial opens one fresh RawConn according to cfg. It is the Go analogue of
// BoneCP's obtainRawInternalConnection: called by the pool's growth worker,
// never by client code.
func Dial(ctx context.Context, cfg DialConfig) (RawConn, error) {
	var conn RawConn
	var err error

	switch cfg.Type {
	case PostgreSQL:
		conn, err = dialPgx(ctx, cfg)
	case MySQL:
		conn, err = dialSQLX(ctx, "mysql", cfg)
	case SQLite:
		conn, err = dialSQLX(ctx, "sqlite3", cfg)
	case SQLServer:
		conn, err = dialSQLX(ctx, "sqlserver", cfg)
	default:
		return nil, fmt.Errorf("db: unsupported connection type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.InitSQL != "" {
		if _, err := conn.ExecContext(ctx, cfg.InitSQL); err != nil {
			conn.Close()
			return nil, fmt.Errorf("db: initSQL failed: %w", err)
		}
	}

	return conn, nil
}

// --- sqlx-backed implementation (MySQL, SQLite, SQL Server) ---

type sqlxConn struct {
	connType   ConnectionType
	db         *sqlx.DB
	conn       *sqlx.Conn
	autoCommit bool
}

func dialSQLX(ctx context.Context, driverName string, cfg DialConfig) (RawConn, error) {
	sqlxDB, err := sqlx.ConnectContext(ctx, driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db: connect %s: %w", driverName, err)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlxDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	conn, err := sqlxDB.Connx(ctx)
	if err != nil {
		sqlxDB.Close()
		return nil, fmt.Errorf("db: acquire raw connection: %w", err)
	}

	return &sqlxConn{connType: cfg.Type, db: sqlxDB, conn: conn, autoCommit: true}, nil
}

func (c *sqlxConn) Type() ConnectionType { return c.connType }

func (c *sqlxConn) PingContext(ctx context.Context) error { return c.conn.PingContext(ctx) }

func (c *sqlxConn) Close() error {
	err := c.conn.Close()
	if dbErr := c.db.Close(); err == nil {
		err = dbErr
	}
	return err
}

func (c *sqlxConn) PrepareContext(ctx context.Context, query string) (PreparedStmt, error) {
	stmt, err := c.conn.PreparexContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &sqlxStmt{stmt: stmt}, nil
}

func (c *sqlxConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

func (c *sqlxConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *sqlxConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

func (c *sqlxConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (RawTx, error) {
	tx, err := c.conn.BeginTxx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlxTx{tx: tx}, nil
}

func (c *sqlxConn) SetAutoCommit(autoCommit bool) error {
	c.autoCommit = autoCommit
	return nil
}

func (c *sqlxConn) AutoCommit() bool { return c.autoCommit }

func (c *sqlxConn) SQLState(err error) string { return sqlStateOf(c.connType, err) }

type sqlxStmt struct{ stmt *sqlx.Stmt }

func (s *sqlxStmt) ExecContext(ctx context.Context, args ...interface{}) (sql.Result, error) {
	return s.stmt.ExecContext(ctx, args...)
}

func (s *sqlxStmt) QueryContext(ctx context.Context, args ...interface{}) (*sql.Rows, error) {
	return s.stmt.QueryContext(ctx, args...)
}

func (s *sqlxStmt) QueryRowContext(ctx context.Context, args ...interface{}) *sql.Row {
	return s.stmt.QueryRowContext(ctx, args...)
}

func (s *sqlxStmt) Close() error { return s.stmt.Close() }

type sqlxTx struct{ tx *sqlx.Tx }

func (t *sqlxTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *sqlxTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *sqlxTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *sqlxTx) PrepareContext(ctx context.Context, query string) (PreparedStmt, error) {
	stmt, err := t.tx.PreparexContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &sqlxStmt{stmt: stmt}, nil
}

func (t *sqlxTx) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name)
	return err
}

func (t *sqlxTx) RollbackTo(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return err
}

func (t *sqlxTx) ReleaseSavepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

func (t *sqlxTx) Commit() error   { return t.tx.Commit() }
func (t *sqlxTx) Rollback() error { return t.tx.Rollback() }

// --- pgx-backed implementation (PostgreSQL) ---

type pgxConn struct {
	pool       *pgxpool.Pool
	conn       *pgxpool.Conn
	autoCommit bool
}

func dialPgx(ctx context.Context, cfg DialConfig) (RawConn, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db: parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = 1
	poolCfg.MinConns = 1
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("db: connect postgres: %w", err)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: acquire postgres connection: %w", err)
	}

	return &pgxConn{pool: pool, conn: conn, autoCommit: true}, nil
}

func (c *pgxConn) Type() ConnectionType { return PostgreSQL }

func (c *pgxConn) PingContext(ctx context.Context) error { return c.conn.Ping(ctx) }

func (c *pgxConn) Close() error {
	c.conn.Release()
	c.pool.Close()
	return nil
}

func (c *pgxConn) PrepareContext(ctx context.Context, query string) (PreparedStmt, error) {
	name := fmt.Sprintf("stmt_%d", time.Now().UnixNano())
	if _, err := c.conn.Conn().Prepare(ctx, name, query); err != nil {
		return nil, err
	}
	return &pgxStmt{conn: c.conn, name: name}, nil
}

func (c *pgxConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	tag, err := c.conn.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgxResult{tag.RowsAffected()}, nil
}

func (c *pgxConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, fmt.Errorf("db: *sql.Rows is unavailable over a pgx connection; callers needing row iteration over PostgreSQL use pgx.Rows directly above this boundary")
}

func (c *pgxConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (c *pgxConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (RawTx, error) {
	txOpts := pgx.TxOptions{}
	if opts != nil && opts.ReadOnly {
		txOpts.AccessMode = pgx.ReadOnly
	}
	tx, err := c.conn.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, err
	}
	return &pgxTx{tx: tx}, nil
}

func (c *pgxConn) SetAutoCommit(autoCommit bool) error {
	c.autoCommit = autoCommit
	return nil
}

func (c *pgxConn) AutoCommit() bool { return c.autoCommit }

func (c *pgxConn) SQLState(err error) string { return sqlStateOf(PostgreSQL, err) }

type pgxStmt struct {
	conn *pgxpool.Conn
	name string
}

func (s *pgxStmt) ExecContext(ctx context.Context, args ...interface{}) (sql.Result, error) {
	tag, err := s.conn.Exec(ctx, s.name, args...)
	if err != nil {
		return nil, err
	}
	return pgxResult{tag.RowsAffected()}, nil
}

func (s *pgxStmt) QueryContext(ctx context.Context, args ...interface{}) (*sql.Rows, error) {
	return nil, fmt.Errorf("db: *sql.Rows is unavailable over a pgx prepared statement")
}

func (s *pgxStmt) QueryRowContext(ctx context.Context, args ...interface{}) *sql.Row { return nil }

func (s *pgxStmt) Close() error {
	return s.conn.Conn().Deallocate(context.Background(), s.name)
}

type pgxTx struct{ tx pgx.Tx }

func (t *pgxTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgxResult{tag.RowsAffected()}, nil
}

func (t *pgxTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, fmt.Errorf("db: *sql.Rows is unavailable inside a pgx transaction")
}

func (t *pgxTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (t *pgxTx) PrepareContext(ctx context.Context, query string) (PreparedStmt, error) {
	return nil, fmt.Errorf("db: nested prepare inside a pgx transaction is unsupported")
}

func (t *pgxTx) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx, "SAVEPOINT "+name)
	return err
}

func (t *pgxTx) RollbackTo(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return err
}

func (t *pgxTx) ReleaseSavepoint(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

func (t *pgxTx) Commit() error   { return t.tx.Commit(context.Background()) }
func (t *pgxTx) Rollback() error { return t.tx.Rollback(context.Background()) }

type pgxResult struct{ rowsAffected int64 }

func (r pgxResult) LastInsertId() (int64, error) {
	return 0, fmt.Errorf("db: LastInsertId is not supported by PostgreSQL")
}

func (r pgxResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }
