package db_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/gopool/connpool/db"
)

type ClassifyTestSuite struct {
	suite.Suite
}

func TestClassifyTestSuite(t *testing.T) {
	suite.Run(t, new(ClassifyTestSuite))
}

func (s *ClassifyTestSuite) TestDatabaseDownStates() {
	for _, sqlState := range []string{"08001", "08007", "08S01", "57P01"} {
		s.Equal(db.DatabaseDown, db.Classify(sqlState), "sqlState %s", sqlState)
	}
}

func (s *ClassifyTestSuite) TestConnectionBrokenStates() {
	for _, sqlState := range []string{"08003", "08006", "40001", "HY000"} {
		s.Equal(db.ConnectionBroken, db.Classify(sqlState), "sqlState %s", sqlState)
	}
}

func (s *ClassifyTestSuite) TestDataErrorStates() {
	for _, sqlState := range []string{"23000", "42S02", "22001"} {
		s.Equal(db.DataError, db.Classify(sqlState), "sqlState %s", sqlState)
	}
}

func (s *ClassifyTestSuite) TestBlankSQLStateDefaultsToConnectionBroken() {
	s.Equal(db.ConnectionBroken, db.Classify(""))
}

func (s *ClassifyTestSuite) TestClassificationStringers() {
	s.Equal("DATABASE_DOWN", db.DatabaseDown.String())
	s.Equal("CONNECTION_BROKEN", db.ConnectionBroken.String())
	s.Equal("DATA_ERROR", db.DataError.String())
}
