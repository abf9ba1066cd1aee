package gdbserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replay-debug/gdbserver/gdbreq"
)

func TestRunActivatesImmediatelyWhenStopReplayingToTargetIsSet(t *testing.T) {
	s, _, conn := newTestServer(10)
	// A nonzero target event gives the fake engine's continue a stopping
	// point; stopReplayingToTarget (set by NewServer) then makes atTarget
	// fire as soon as that first step lands, regardless of the event/pid
	// gates atTarget otherwise checks.
	s.target.Event = 1
	conn.push(gdbreq.Request{Kind: gdbreq.KindDetach})

	err := s.Run()
	require.NoError(t, err)
	assert.True(t, s.detached)
	require.True(t, s.restartMark.Valid(), "activateDebugger must have run before the resume loop started")
}

func TestRunReportsNoDebuggerWhenTraceEndsBeforeActivation(t *testing.T) {
	s, _, _ := newTestServer(2)
	s.stopReplayingToTarget = false
	s.target.Event = 999 // never reached before the trace's 2 events run out

	err := s.Run()
	require.NoError(t, err)
	assert.False(t, s.detached)
}

func TestRunDrivesStepsUntilDetach(t *testing.T) {
	s, _, conn := newTestServer(10)
	s.target.Event = 1
	conn.push(gdbreq.Request{Kind: gdbreq.KindGetCurrentThread})
	conn.push(gdbreq.Request{Kind: gdbreq.KindGetCurrentThread})
	conn.push(gdbreq.Request{Kind: gdbreq.KindDetach})

	err := s.Run()
	require.NoError(t, err)
	assert.True(t, s.detached)
	assert.Equal(t, 2, conn.count("GetCurrentThread"))
}

func TestRunTerminatedLoopRestartClearsTerminated(t *testing.T) {
	s, engine, conn := newTestServer(10)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	s.createCheckpoint(1)
	s.terminated = true
	conn.push(gdbreq.Request{Kind: gdbreq.KindRestart, Restart: gdbreq.RestartRequest{Type: gdbreq.RestartFromCheckpoint, Param: 1}})

	s.runTerminatedLoop()
	assert.False(t, s.terminated)
}

func TestRunTerminatedLoopResumeRequestIsFatal(t *testing.T) {
	s, _, conn := newTestServer(10)
	s.terminated = true
	conn.push(gdbreq.Request{Kind: gdbreq.KindContinue, Cont: gdbreq.ContinueRequest{RunDirection: gdbreq.Forward}})

	defer func() {
		r := recover()
		require.NotNil(t, r)
		_, ok := r.(fatalError)
		assert.True(t, ok)
	}()
	s.runTerminatedLoop()
}
