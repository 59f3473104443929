package connpool

import (
	"fmt"
	"time"

	"github.com/gopool/connpool/db"
)

// Config enumerates every tunable the pool exposes. Zero-value fields are
// taken as given, not replaced by defaults; start from DefaultConfig to get
// its values.
type Config struct {
	// Dial describes how to obtain a fresh physical connection.
	Dial db.DialConfig

	// MinConnectionsPerPartition is the initial and floor free count per
	// partition.
	MinConnectionsPerPartition int
	// MaxConnectionsPerPartition is the hard ceiling per partition.
	MaxConnectionsPerPartition int
	// PartitionCount is the number of shards the pool maintains.
	PartitionCount int
	// AcquireIncrement is the batch size used when growing a partition.
	AcquireIncrement int

	// ConnectionTimeout bounds how long checkout waits for a free handle.
	ConnectionTimeout time.Duration
	// IdleMaxAge retires a free handle that has sat unused this long.
	IdleMaxAge time.Duration
	// IdleConnectionTestPeriod is the keep-alive probing cadence.
	IdleConnectionTestPeriod time.Duration
	// MaxConnectionAge is a hard age cap on any handle; 0 disables it.
	MaxConnectionAge time.Duration

	// StatementsCacheSize bounds the per-handle prepared-statement cache.
	// 0 disables statement caching entirely.
	StatementsCacheSize int

	// AcquireRetryAttempts caps the growth worker's acquisition attempts.
	// With a hook whose OnAcquireFail returns false (the default), a
	// positive value is the total number of dial attempts and 0 means a
	// single attempt; a hook returning true allows one attempt more. -1
	// means infinite retries.
	AcquireRetryAttempts int
	// AcquireRetryDelay is the sleep between acquisition retry attempts.
	AcquireRetryDelay time.Duration

	// TransactionRecoveryEnabled turns on replay-log recording on each
	// Handle. The pool itself never replays the log: a DATABASE_DOWN
	// classification does not move work onto a fresh handle. Replayer
	// replays a recorded log when it is called.
	TransactionRecoveryEnabled bool

	// CloseConnectionWatch turns on double-close stack capture, a
	// statement-leak audit on release, and per-checkout watchdogs.
	CloseConnectionWatch bool

	// LogStatementsEnabled routes executed SQL through the configured
	// logging.Logger.
	LogStatementsEnabled bool
	// StatisticsEnabled maintains the Statistics counters.
	StatisticsEnabled bool
	// DisableConnectionTracking skips the pool's leak-detection registry.
	DisableConnectionTracking bool
}

// DefaultConfig returns the configuration BoneCP-style pools ship with:
// conservative partitioning, a short acquire increment, and caching and
// statistics both on.
func DefaultConfig() Config {
	return Config{
		MinConnectionsPerPartition: 5,
		MaxConnectionsPerPartition: 20,
		PartitionCount:             2,
		AcquireIncrement:           2,

		ConnectionTimeout:        10 * time.Second,
		IdleMaxAge:               1 * time.Hour,
		IdleConnectionTestPeriod: 4 * time.Minute,
		MaxConnectionAge:         0,

		StatementsCacheSize: 50,

		AcquireRetryAttempts: 5,
		AcquireRetryDelay:    1 * time.Second,

		TransactionRecoveryEnabled: false,
		CloseConnectionWatch:       false,

		LogStatementsEnabled: false,
		StatisticsEnabled:    true,
	}
}

// Validate returns a *Error of kind ErrAcquisitionFailed describing the
// first contradictory setting found, or nil if cfg is usable.
func (c Config) Validate() error {
	switch {
	case c.PartitionCount <= 0:
		return newError(ErrAcquisitionFailed, "partitionCount must be positive", fmt.Errorf("got %d", c.PartitionCount))
	case c.MinConnectionsPerPartition < 0:
		return newError(ErrAcquisitionFailed, "minConnectionsPerPartition must not be negative", fmt.Errorf("got %d", c.MinConnectionsPerPartition))
	case c.MaxConnectionsPerPartition <= 0:
		return newError(ErrAcquisitionFailed, "maxConnectionsPerPartition must be positive", fmt.Errorf("got %d", c.MaxConnectionsPerPartition))
	case c.MinConnectionsPerPartition > c.MaxConnectionsPerPartition:
		return newError(ErrAcquisitionFailed, "minConnectionsPerPartition exceeds maxConnectionsPerPartition",
			fmt.Errorf("min=%d max=%d", c.MinConnectionsPerPartition, c.MaxConnectionsPerPartition))
	case c.AcquireIncrement <= 0:
		return newError(ErrAcquisitionFailed, "acquireIncrement must be positive", fmt.Errorf("got %d", c.AcquireIncrement))
	case c.ConnectionTimeout <= 0:
		return newError(ErrAcquisitionFailed, "connectionTimeout must be positive", fmt.Errorf("got %v", c.ConnectionTimeout))
	case c.StatementsCacheSize < 0:
		return newError(ErrAcquisitionFailed, "statementsCacheSize must not be negative", fmt.Errorf("got %d", c.StatementsCacheSize))
	case c.AcquireRetryAttempts < -1:
		return newError(ErrAcquisitionFailed, "acquireRetryAttempts must be >= -1", fmt.Errorf("got %d", c.AcquireRetryAttempts))
	}
	return nil
}
