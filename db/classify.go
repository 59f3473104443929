package db

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// Classification is the outcome of inspecting a driver failure's SQLSTATE,
// per spec §4.1.3.
type Classification int

const (
	// DataError passes the original error through; the connection stays
	// poolable.
	DataError Classification = iota
	// ConnectionBroken marks the handle possibly-broken; it is retired on
	// release rather than destroyed immediately.
	ConnectionBroken
	// DatabaseDown additionally terminates every connection in the pool.
	DatabaseDown
)

func (c Classification) String() string {
	switch c {
	case DatabaseDown:
		return "DATABASE_DOWN"
	case ConnectionBroken:
		return "CONNECTION_BROKEN"
	default:
		return "DATA_ERROR"
	}
}

// databaseDownStates are SQLSTATEs that indicate the database itself, not
// just this connection, is unreachable.
var databaseDownStates = map[string]bool{
	"08001": true,
	"08007": true,
	"08S01": true,
	"57P01": true,
}

// Classify maps a SQLSTATE onto the three-way split spec §4.1.3 requires.
// A blank sqlState (the driver didn't attach one) is treated as "08999",
// the spec's safety default, which classifies as CONNECTION_BROKEN.
func Classify(sqlState string) Classification {
	if sqlState == "" {
		sqlState = "08999"
	}

	if databaseDownStates[sqlState] {
		return DatabaseDown
	}

	if strings.HasPrefix(sqlState, "08") {
		return ConnectionBroken
	}
	switch sqlState {
	case "40001", "HY000":
		return ConnectionBroken
	}
	if len(sqlState) > 0 && sqlState[0] >= '5' && sqlState[0] <= '9' {
		return ConnectionBroken
	}

	return DataError
}

// sqlStateOf extracts a SQLSTATE-shaped code from a driver error. PostgreSQL
// (pgx) and MySQL expose this natively; SQLite and SQL Server errors carry
// no SQLSTATE at all, so their failures fall back to Classify's "" -> 08999
// safety default.
func sqlStateOf(connType ConnectionType, err error) string {
	if err == nil {
		return ""
	}

	switch connType {
	case PostgreSQL:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return pgErr.Code
		}
	case MySQL:
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) {
			return mysqlErrorToSQLState(myErr.Number)
		}
	}

	return ""
}

// mysqlErrorToSQLState maps the handful of MySQL error numbers the pool
// cares about (connection loss) onto ANSI SQLSTATE codes; everything else
// maps to "" and lets Classify apply its safety default. MySQL error codes
// and their SQLSTATE equivalents are documented in the MySQL manual's
// "Server Error Message Reference".
func mysqlErrorToSQLState(errno uint16) string {
	switch errno {
	case 2006, 2013: // CR_SERVER_GONE_ERROR, CR_SERVER_LOST
		return "08S01"
	case 1129, 1130: // host blocked / not allowed to connect
		return "08004"
	case 1213: // deadlock
		return "40001"
	}
	return ""
}
