package statement_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/gopool/connpool/statement"
	gopooltesting "github.com/gopool/connpool/testing"
)

type CacheTestSuite struct {
	suite.Suite
}

func TestCacheTestSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}

func (s *CacheTestSuite) TestMissThenHit() {
	cache := statement.New(2)
	stmt := new(gopooltesting.MockPreparedStmt)

	_, ok := cache.Get("k1")
	s.False(ok)

	s.Nil(cache.Put("k1", stmt))

	got, ok := cache.Get("k1")
	s.True(ok)
	s.Same(stmt, got)
}

func (s *CacheTestSuite) TestEvictsLeastRecentlyUsed() {
	cache := statement.New(2)
	stmtA := new(gopooltesting.MockPreparedStmt)
	stmtB := new(gopooltesting.MockPreparedStmt)
	stmtC := new(gopooltesting.MockPreparedStmt)

	s.Nil(cache.Put("a", stmtA))
	s.Nil(cache.Put("b", stmtB))

	// touch "a" so "b" becomes the LRU victim
	_, _ = cache.Get("a")

	evicted := cache.Put("c", stmtC)
	s.Same(stmtB, evicted)

	_, ok := cache.Get("b")
	s.False(ok)

	_, ok = cache.Get("a")
	s.True(ok)
	_, ok = cache.Get("c")
	s.True(ok)
}

func (s *CacheTestSuite) TestZeroSizeDisablesCaching() {
	cache := statement.New(0)
	stmt := new(gopooltesting.MockPreparedStmt)

	s.Nil(cache.Put("k1", stmt))
	_, ok := cache.Get("k1")
	s.False(ok)
}

func (s *CacheTestSuite) TestDrainEmptiesCacheAndReturnsAll() {
	cache := statement.New(4)
	stmtA := new(gopooltesting.MockPreparedStmt)
	stmtB := new(gopooltesting.MockPreparedStmt)

	cache.Put("a", stmtA)
	cache.Put("b", stmtB)

	drained := cache.Drain()
	s.Len(drained, 2)
	s.Equal(0, cache.Len())

	_, ok := cache.Get("a")
	s.False(ok)
}

func (s *CacheTestSuite) TestRemoveDropsEntryWithoutClosing() {
	cache := statement.New(4)
	stmt := new(gopooltesting.MockPreparedStmt)
	cache.Put("a", stmt)

	removed := cache.Remove("a")
	s.Same(stmt, removed)
	stmt.AssertNotCalled(s.T(), "Close")

	_, ok := cache.Get("a")
	s.False(ok)
}
