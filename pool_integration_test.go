package connpool_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/gopool/connpool"
	"github.com/gopool/connpool/db"
	"github.com/gopool/connpool/logging"
	gopooltesting "github.com/gopool/connpool/testing"
)

type PoolIntegrationTestSuite struct {
	suite.Suite
	container *gopooltesting.MySQLContainer
}

func TestPoolIntegrationTestSuite(t *testing.T) {
	gopooltesting.SkipWithoutDocker(t)
	suite.Run(t, new(PoolIntegrationTestSuite))
}

func (s *PoolIntegrationTestSuite) SetupSuite() {
	s.container = gopooltesting.StartMySQL(s.T())
}

func (s *PoolIntegrationTestSuite) newConfig() connpool.Config {
	cfg := connpool.DefaultConfig()
	cfg.Dial = db.DialConfig{Type: db.MySQL, DSN: s.container.DSN}
	cfg.MinConnectionsPerPartition = 1
	cfg.MaxConnectionsPerPartition = 4
	cfg.PartitionCount = 2
	cfg.AcquireIncrement = 1
	cfg.ConnectionTimeout = 5 * time.Second
	return cfg
}

func (s *PoolIntegrationTestSuite) TestCheckoutExecuteRelease() {
	ctx := context.Background()
	pool, err := connpool.New(ctx, s.newConfig(), logging.NewNoOpLogger())
	s.Require().NoError(err)
	defer pool.Shutdown()

	h, err := pool.GetConnection(ctx)
	s.Require().NoError(err)

	_, err = h.ExecContext(ctx, "SELECT 1")
	s.NoError(err)
	s.NoError(h.Close())

	snap := pool.Statistics()
	s.GreaterOrEqual(snap.ConnectionsRequested, int64(1))
}

func (s *PoolIntegrationTestSuite) TestStatementCacheHitOnSecondPrepare() {
	ctx := context.Background()
	pool, err := connpool.New(ctx, s.newConfig(), logging.NewNoOpLogger())
	s.Require().NoError(err)
	defer pool.Shutdown()

	h, err := pool.GetConnection(ctx)
	s.Require().NoError(err)
	defer h.Close()

	stmt1, err := h.PrepareContext(ctx, "SELECT 1")
	s.Require().NoError(err)
	s.NoError(stmt1.Close())

	before := pool.Statistics().CacheHits

	stmt2, err := h.PrepareContext(ctx, "SELECT 1")
	s.Require().NoError(err)
	s.NoError(stmt2.Close())

	after := pool.Statistics().CacheHits
	s.Greater(after, before)
}

func (s *PoolIntegrationTestSuite) TestShutdownClosesAllConnections() {
	ctx := context.Background()
	pool, err := connpool.New(ctx, s.newConfig(), logging.NewNoOpLogger())
	s.Require().NoError(err)

	s.NoError(pool.Shutdown())
	s.NoError(pool.Shutdown()) // idempotent
}
