package connpool

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type ReplayLogTestSuite struct {
	suite.Suite
}

func TestReplayLogTestSuite(t *testing.T) {
	suite.Run(t, new(ReplayLogTestSuite))
}

func (s *ReplayLogTestSuite) TestAppendAssignsIncreasingStmtSlots() {
	log := &ReplayLog{}

	slot0 := log.Append(Operation{Kind: OpPrepare, Query: "SELECT 1"})
	slot1 := log.Append(Operation{Kind: OpPrepare, Query: "SELECT 2"})

	s.Equal(0, slot0)
	s.Equal(1, slot1)
}

func (s *ReplayLogTestSuite) TestNonPrepareOpsGetZeroSlot() {
	log := &ReplayLog{}

	slot := log.Append(Operation{Kind: OpExec, Query: "UPDATE t SET x=1"})
	s.Equal(0, slot)
}

func (s *ReplayLogTestSuite) TestSnapshotReturnsACopy() {
	log := &ReplayLog{}
	log.Append(Operation{Kind: OpExec, Query: "UPDATE t SET x=1"})

	snap := log.Snapshot()
	s.Len(snap, 1)

	snap[0].Query = "mutated"
	s.Equal("UPDATE t SET x=1", log.Snapshot()[0].Query)
}

func (s *ReplayLogTestSuite) TestClearEmptiesLogAndResetsSlots() {
	log := &ReplayLog{}
	log.Append(Operation{Kind: OpPrepare, Query: "SELECT 1"})
	log.Clear()

	s.Empty(log.Snapshot())

	slot := log.Append(Operation{Kind: OpPrepare, Query: "SELECT 1"})
	s.Equal(0, slot)
}

func (s *ReplayLogTestSuite) TestClassifyWithHookEscalatesToTerminate() {
	class := classifyWithHook("23000", nil, escalatingHook{}, nil)
	s.Equal(DatabaseDown, class)
}

func (s *ReplayLogTestSuite) TestClassifyWithHookVetoesConnectionException() {
	class := classifyWithHook("08999", nil, vetoingHook{}, nil)
	s.Equal(DataError, class)
}

type escalatingHook struct {
	NopConnectionHook
}

func (escalatingHook) OnMarkPossiblyBroken(*Handle, string, error) ConnectionState {
	return TerminateAllConnections
}

type vetoingHook struct {
	NopConnectionHook
}

func (vetoingHook) OnConnectionException(*Handle, string, error) bool {
	return false
}
