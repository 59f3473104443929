// Package testing provides integration and unit test support for the
// connection pool: a testcontainers-backed MySQL harness and testify mocks
// for the db.RawConn / connpool.ConnectionHook boundary.
package testing

import (
	"context"
	"testing"

	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/gopool/connpool/db"
)

const dockerSkipReason = "skipping container test in -short mode"

// MySQLContainer wraps a running MySQL testcontainer and the DSN needed to
// dial it through db.Dial.
type MySQLContainer struct {
	container *tcmysql.MySQLContainer
	DSN       string
}

// StartMySQL brings up a disposable MySQL container for integration tests.
// Callers should gate tests that call this on testing.Short().
func StartMySQL(t *testing.T) *MySQLContainer {
	t.Helper()

	ctx := context.Background()
	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("connpool_test"),
		tcmysql.WithUsername("root"),
		tcmysql.WithPassword("test123"),
	)
	if err != nil {
		t.Fatalf("start mysql container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("mysql connection string: %v", err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate mysql container: %v", err)
		}
	})

	return &MySQLContainer{container: container, DSN: dsn}
}

// Dial opens a db.RawConn against the container, failing the test on error.
func (c *MySQLContainer) Dial(ctx context.Context, t *testing.T) db.RawConn {
	t.Helper()

	conn, err := db.Dial(ctx, db.DialConfig{Type: db.MySQL, DSN: c.DSN})
	if err != nil {
		t.Fatalf("dial mysql container: %v", err)
	}
	return conn
}

// ExecInitSchema runs a handful of DDL statements against the container,
// used by tests that need a table to prepare statements against.
func (c *MySQLContainer) ExecInitSchema(ctx context.Context, t *testing.T, conn db.RawConn, ddl ...string) {
	t.Helper()

	for i, stmt := range ddl {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("init schema statement %d: %v", i, err)
		}
	}
}

// SkipWithoutDocker skips the current test when run with -short, matching
// the project's convention that container-backed tests are opt-in.
func SkipWithoutDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip(dockerSkipReason)
	}
}
