package gdbserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replay-debug/gdbserver/gdbreq"
)

func TestCreateCheckpointReplacesExistingIndex(t *testing.T) {
	s, engine, _ := newTestServer(10)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	s.createCheckpoint(1)
	first := s.checkpoints[1]
	require.True(t, first.Valid())

	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	s.createCheckpoint(1)
	second := s.checkpoints[1]
	require.True(t, second.Valid())
	assert.False(t, first.Equal(second), "replacing index 1 must install a fresh mark, not reuse the old one")
	assert.Len(t, s.checkpoints, 1)
}

func TestDeleteCheckpointRemovesIndex(t *testing.T) {
	s, engine, _ := newTestServer(10)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	s.createCheckpoint(2)
	require.Contains(t, s.checkpoints, uint32(2))

	s.deleteCheckpoint(2)
	assert.NotContains(t, s.checkpoints, uint32(2))
}

func TestDeleteCheckpointMissingIndexIsNoop(t *testing.T) {
	s, _, _ := newTestServer(10)
	s.deleteCheckpoint(7)
	assert.Empty(t, s.checkpoints)
}

func TestRestartFromCheckpointNotFoundReportsFailure(t *testing.T) {
	s, _, conn := newTestServer(10)
	s.restart(gdbreq.RestartRequest{Type: gdbreq.RestartFromCheckpoint, Param: 99, ParamStr: "99"})
	_, ok := conn.last("RestartFailed")
	assert.True(t, ok)
}

func TestRestartFromCheckpointSeeksBackAndReArms(t *testing.T) {
	s, engine, _ := newTestServer(10)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	s.createCheckpoint(1)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	require.EqualValues(t, 4, engine.Mark().Event())

	s.terminated = true
	s.restart(gdbreq.RestartRequest{Type: gdbreq.RestartFromCheckpoint, Param: 1})
	assert.False(t, s.terminated, "a successful restart must clear terminated")
	assert.EqualValues(t, 2, engine.Mark().Event())
	require.True(t, s.restartMark.Valid())
	assert.EqualValues(t, 2, s.restartMark.Event())
}

func TestRestartFromPreviousReusesRestartMark(t *testing.T) {
	s, engine, _ := newTestServer(10)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	s.restartMark = engine.Mark()
	require.EqualValues(t, 3, s.restartMark.Event())

	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	require.EqualValues(t, 5, engine.Mark().Event())

	s.restart(gdbreq.RestartRequest{Type: gdbreq.RestartFromPrevious})
	assert.EqualValues(t, 3, engine.Mark().Event())
}

func TestAtTargetFalseBeforeFirstStep(t *testing.T) {
	s, _, _ := newTestServer(10)
	s.stopReplayingToTarget = false
	assert.False(t, s.atTarget(), "CanValidate is false at the initial event")
}

func TestAtTargetTrueImmediatelyWhenStopReplayingToTargetIsSet(t *testing.T) {
	s, engine, _ := newTestServer(10)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	assert.True(t, s.atTarget())
}

func TestAtTargetGatesOnEventAndPID(t *testing.T) {
	s, engine, _ := newTestServer(10)
	s.stopReplayingToTarget = false
	s.target.Event = 3
	s.target.PID = 42

	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	assert.False(t, s.atTarget(), "event 3 does not strictly exceed target event 3")

	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	assert.True(t, s.atTarget())

	s.target.PID = 999
	assert.False(t, s.atTarget(), "pid gate must also be satisfied")
}

func TestActivateDebuggerCheckpointsRestartMarkAndTarget(t *testing.T) {
	s, engine, _ := newTestServer(10)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)

	s.activateDebugger()
	require.True(t, s.restartMark.Valid())
	assert.EqualValues(t, 2, s.restartMark.Event())
	assert.Equal(t, engine.CurrentTaskID().TaskGroupID, s.target.PID)
	assert.Equal(t, engine.CurrentTaskID(), s.currentTask)
	assert.False(t, s.target.RequireExec)
}
