package gdbserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replay-debug/gdbserver/gdbreq"
	"github.com/replay-debug/gdbserver/timeline"
)

func TestProcessDebuggerRequestsDispatchesNonResumeThenReturnsResume(t *testing.T) {
	s, _, conn := newTestServer(10)
	conn.push(gdbreq.Request{Kind: gdbreq.KindGetCurrentThread})
	conn.push(gdbreq.Request{Kind: gdbreq.KindContinue, Cont: gdbreq.ContinueRequest{RunDirection: gdbreq.Forward}})

	req := s.processDebuggerRequests()
	assert.Equal(t, gdbreq.KindContinue, req.Kind)
	_, ok := conn.last("GetCurrentThread")
	assert.True(t, ok, "the GetCurrentThread request ahead of Continue must have been dispatched")
}

func TestProcessDebuggerRequestsReturnsRestartAndDetachImmediately(t *testing.T) {
	s, _, conn := newTestServer(10)
	conn.push(gdbreq.Request{Kind: gdbreq.KindRestart})
	req := s.processDebuggerRequests()
	assert.Equal(t, gdbreq.KindRestart, req.Kind)

	s2, _, conn2 := newTestServer(10)
	conn2.push(gdbreq.Request{Kind: gdbreq.KindDetach})
	req2 := s2.processDebuggerRequests()
	assert.Equal(t, gdbreq.KindDetach, req2.Kind)
}

func TestApplyEventStepOverlayRewritesForwardResume(t *testing.T) {
	s, engine, _ := newTestServer(10)
	s.traceInstructionsUpToEvent = true
	req := gdbreq.Request{Kind: gdbreq.KindContinue, Cont: gdbreq.ContinueRequest{RunDirection: gdbreq.Forward}}
	s.applyEventStepOverlay(&req)

	require.Len(t, req.Cont.Actions, 1)
	assert.Equal(t, gdbreq.ActionStep, req.Cont.Actions[0].Type)
	assert.Equal(t, engine.CurrentTaskID(), req.Cont.Actions[0].Target)
	assert.True(t, req.SuppressDebuggerStop)
	assert.Equal(t, 1, s.tick)
}

func TestApplyEventStepOverlayLeavesBackwardResumeUntouched(t *testing.T) {
	s, _, _ := newTestServer(10)
	s.traceInstructionsUpToEvent = true
	req := gdbreq.Request{Kind: gdbreq.KindContinue, Cont: gdbreq.ContinueRequest{RunDirection: gdbreq.Backward}}
	s.applyEventStepOverlay(&req)
	assert.Nil(t, req.Cont.Actions)
	assert.False(t, req.SuppressDebuggerStop)
}

func TestApplyEventStepOverlayNoopWhenDisabled(t *testing.T) {
	s, _, _ := newTestServer(10)
	req := gdbreq.Request{Kind: gdbreq.KindContinue, Cont: gdbreq.ContinueRequest{RunDirection: gdbreq.Forward}}
	s.applyEventStepOverlay(&req)
	assert.Nil(t, req.Cont.Actions)
}

func TestComputeCommandStepForMatchingAction(t *testing.T) {
	s, engine, _ := newTestServer(10)
	actions := []gdbreq.ContAction{{Type: gdbreq.ActionStep, Target: s.currentTask}}
	assert.Equal(t, gdbreq.RunSinglestep, computeCommand(engine.CurrentTaskID(), actions))
}

func TestComputeCommandDefaultsToContinueWhenNoActionMatches(t *testing.T) {
	assert.Equal(t, gdbreq.RunContinue, computeCommand(taskGroupDebuggee(1, 1), nil))
}

func TestProcessDebuggerRequestsAttemptsLazyReverseSinglestepFastPath(t *testing.T) {
	s, engine, conn := newTestServer(10)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)

	conn.push(gdbreq.Request{
		Kind: gdbreq.KindContinue,
		Cont: gdbreq.ContinueRequest{
			RunDirection: gdbreq.Backward,
			Actions:      []gdbreq.ContAction{{Type: gdbreq.ActionStep, Target: s.currentTask}},
		},
	})
	conn.push(gdbreq.Request{Kind: gdbreq.KindGetReg})
	conn.push(gdbreq.Request{Kind: gdbreq.KindGetCurrentThread})

	// The gather loop itself must attempt the fast path on the resume
	// request, service it entirely from the precomputed mark, and keep
	// gathering instead of ever seeking the session via ReplayStep/
	// computeCommand for this backward singlestep.
	req := s.processDebuggerRequests()
	assert.Equal(t, gdbreq.KindDetach, req.Kind, "the queue drains to the fakeConn's implicit detach once every pushed request has been consumed")

	_, stopped := conn.last("Stop")
	assert.True(t, stopped, "the fast path must notify a singlestep-complete stop")
	_, gotReg := conn.last("GetReg")
	assert.True(t, gotReg, "the GetReg following the resume must be answered from the cursor by the fast path")
	_, gotThread := conn.last("GetCurrentThread")
	assert.True(t, gotThread, "the unservable follow-up request must still be dispatched after the fast path seeks to the cursor")
	assert.EqualValues(t, 2, engine.Mark().Event())
}

func TestTryLazyReverseSinglestepAnswersFromPrecomputedMark(t *testing.T) {
	s, engine, conn := newTestServer(10)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)

	req := gdbreq.Request{
		Kind: gdbreq.KindContinue,
		Cont: gdbreq.ContinueRequest{
			RunDirection: gdbreq.Backward,
			Actions:      []gdbreq.ContAction{{Type: gdbreq.ActionStep, Target: s.currentTask}},
		},
	}
	conn.push(gdbreq.Request{Kind: gdbreq.KindGetReg})
	conn.push(gdbreq.Request{Kind: gdbreq.KindGetCurrentThread})

	handled := s.tryLazyReverseSinglestep(req)
	require.True(t, handled)

	_, stopped := conn.last("Stop")
	assert.True(t, stopped, "the fast path must notify a singlestep-complete stop")
	_, gotReg := conn.last("GetReg")
	assert.True(t, gotReg, "a GetReg following the fast path must be answered from the cursor")

	require.NotNil(t, s.pendingRequest)
	assert.Equal(t, gdbreq.KindGetCurrentThread, s.pendingRequest.Kind)
	assert.EqualValues(t, 2, engine.Mark().Event(), "an unservable follow-up request must trigger a seek to the cursor")
}

func TestTryLazyReverseSinglestepRejectsMultiActionOrWrongTarget(t *testing.T) {
	s, _, _ := newTestServer(10)
	multi := gdbreq.Request{Kind: gdbreq.KindContinue, Cont: gdbreq.ContinueRequest{
		RunDirection: gdbreq.Backward,
		Actions: []gdbreq.ContAction{
			{Type: gdbreq.ActionStep, Target: s.currentTask},
			{Type: gdbreq.ActionContinue, Target: taskGroupDebuggee(1, 2)},
		},
	}}
	assert.False(t, s.tryLazyReverseSinglestep(multi))

	wrongTarget := gdbreq.Request{Kind: gdbreq.KindContinue, Cont: gdbreq.ContinueRequest{
		RunDirection: gdbreq.Backward,
		Actions:      []gdbreq.ContAction{{Type: gdbreq.ActionStep, Target: taskGroupDebuggee(999, 999)}},
	}}
	assert.False(t, s.tryLazyReverseSinglestep(wrongTarget))
}

func TestTryLazyReverseSinglestepRejectsForward(t *testing.T) {
	s, _, _ := newTestServer(10)
	req := gdbreq.Request{Kind: gdbreq.KindContinue, Cont: gdbreq.ContinueRequest{RunDirection: gdbreq.Forward}}
	assert.False(t, s.tryLazyReverseSinglestep(req))
}

func TestDebugOneStepReplaysDriftedTaskGroupWithoutConsultingDebugger(t *testing.T) {
	s, engine, conn := newTestServer(10)
	foreign := taskGroupDebuggee(7, 1)
	engine.AddForeignTask(foreign, "other")
	s.currentTask = foreign
	s.target.Event = 1 // give ReplayStep a stop condition to land on deterministically

	direction := s.debugOneStep(gdbreq.Forward)
	assert.Equal(t, gdbreq.Forward, direction)
	assert.Equal(t, 0, conn.getRequestCalls, "a drifted task group must be replayed without consulting the debugger")
	assert.EqualValues(t, 1, engine.Mark().Event())
}

func TestDebugOneStepHandlesDetach(t *testing.T) {
	s, _, conn := newTestServer(10)
	conn.push(gdbreq.Request{Kind: gdbreq.KindDetach})
	s.debugOneStep(gdbreq.Forward)
	assert.True(t, s.detached)
	_, ok := conn.last("Detach")
	assert.True(t, ok)
}

func TestDebugOneStepHandlesRestart(t *testing.T) {
	s, engine, conn := newTestServer(10)
	engine.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	s.createCheckpoint(1)
	conn.push(gdbreq.Request{Kind: gdbreq.KindRestart, Restart: gdbreq.RestartRequest{Type: gdbreq.RestartFromCheckpoint, Param: 1}})

	direction := s.debugOneStep(gdbreq.Backward)
	assert.Equal(t, gdbreq.Forward, direction, "a successful restart resets direction to forward")
}

func TestHandleReplayResultReinterpretsBackwardTaskExitAsSinglestep(t *testing.T) {
	s, engine, conn := newTestServer(10)
	req := gdbreq.Request{Cont: gdbreq.ContinueRequest{
		RunDirection: gdbreq.Backward,
		Actions:      []gdbreq.ContAction{{Type: gdbreq.ActionStep, Target: s.currentTask}},
	}}
	result := timeline.ReplayResult{Status: timeline.ReplayContinue, BreakStatus: timeline.BreakStatus{Task: engine.CurrentTask(), TaskExit: true}}
	s.handleReplayResult(req, result, gdbreq.Backward)

	r, ok := conn.last("Stop")
	require.True(t, ok)
	assert.Equal(t, sigTrap, r.args[1].(int))
}

func TestHandleReplayResultMarksTerminatedOnReplayExited(t *testing.T) {
	s, _, conn := newTestServer(10)
	s.handleReplayResult(gdbreq.Request{}, timeline.ReplayResult{Status: timeline.ReplayExited}, gdbreq.Forward)
	assert.True(t, s.terminated)
	_, ok := conn.last("ExitCode")
	assert.True(t, ok)
}

func TestHandleReplayResultForwardLastThreadExitConsultsDebuggerAgain(t *testing.T) {
	s, engine, conn := newTestServer(10)
	conn.push(gdbreq.Request{Kind: gdbreq.KindDetach})
	result := timeline.ReplayResult{Status: timeline.ReplayContinue, BreakStatus: timeline.BreakStatus{Task: engine.CurrentTask(), TaskExit: true}}
	s.handleReplayResult(gdbreq.Request{}, result, gdbreq.Forward)
	assert.True(t, s.detached, "the forward last-thread-exit path must gather one more batch of requests")
}
