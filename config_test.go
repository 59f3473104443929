package connpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (s *ConfigTestSuite) validConfig() Config {
	cfg := DefaultConfig()
	cfg.Dial.DSN = "user:pass@tcp(localhost:3306)/db"
	return cfg
}

func (s *ConfigTestSuite) TestDefaultConfigIsValid() {
	s.NoError(s.validConfig().Validate())
}

func (s *ConfigTestSuite) TestRejectsNonPositivePartitionCount() {
	cfg := s.validConfig()
	cfg.PartitionCount = 0
	s.Error(cfg.Validate())
}

func (s *ConfigTestSuite) TestRejectsMinExceedingMax() {
	cfg := s.validConfig()
	cfg.MinConnectionsPerPartition = 30
	cfg.MaxConnectionsPerPartition = 20
	s.Error(cfg.Validate())
}

func (s *ConfigTestSuite) TestRejectsNonPositiveConnectionTimeout() {
	cfg := s.validConfig()
	cfg.ConnectionTimeout = 0
	s.Error(cfg.Validate())
}

func (s *ConfigTestSuite) TestAcceptsInfiniteAcquireRetries() {
	cfg := s.validConfig()
	cfg.AcquireRetryAttempts = -1
	s.NoError(cfg.Validate())
}

func (s *ConfigTestSuite) TestRejectsRetryAttemptsBelowInfiniteSentinel() {
	cfg := s.validConfig()
	cfg.AcquireRetryAttempts = -2
	s.Error(cfg.Validate())
}

func (s *ConfigTestSuite) TestRejectsNegativeStatementsCacheSize() {
	cfg := s.validConfig()
	cfg.StatementsCacheSize = -1
	s.Error(cfg.Validate())
}

func (s *ConfigTestSuite) TestDefaultConfigValues() {
	cfg := DefaultConfig()
	s.Equal(5, cfg.MinConnectionsPerPartition)
	s.Equal(20, cfg.MaxConnectionsPerPartition)
	s.Equal(2, cfg.PartitionCount)
	s.Equal(10*time.Second, cfg.ConnectionTimeout)
	s.True(cfg.StatisticsEnabled)
}
