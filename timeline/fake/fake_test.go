package fake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replay-debug/gdbserver/gdbreq"
	"github.com/replay-debug/gdbserver/registers/amd64"
	"github.com/replay-debug/gdbserver/timeline"
)

func TestReplayStepForwardAdvancesOneEventPerSinglestep(t *testing.T) {
	e := New(1, 10)
	res := e.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	require.Equal(t, timeline.ReplayContinue, res.Status)
	assert.True(t, res.BreakStatus.SinglestepComplete)
	assert.Equal(t, uint64(1), e.task.Regs().(*amd64.Snapshot).Values[amd64.RAX])
}

func TestReplayStepForwardReportsExitedPastLastEvent(t *testing.T) {
	e := New(1, 2)
	e.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	e.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	res := e.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	assert.Equal(t, timeline.ReplayExited, res.Status)
}

func TestMarkAndSeekToMarkRoundTrips(t *testing.T) {
	e := New(1, 10)
	e.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	e.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	mark := e.Mark()
	require.True(t, mark.Valid())
	require.EqualValues(t, 2, mark.Event())

	e.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	e.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	assert.EqualValues(t, 4, e.currentEvent)

	e.SeekToMark(mark)
	assert.EqualValues(t, 2, e.currentEvent)
	assert.Equal(t, uint64(2), e.task.Regs().(*amd64.Snapshot).Values[amd64.RAX])
}

func TestLazyReverseSinglestepDoesNotMutateSession(t *testing.T) {
	e := New(1, 10)
	e.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	e.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	e.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)

	before := e.currentEvent
	mark := e.Mark()
	hint := e.LazyReverseSinglestep(mark, e.taskID)
	require.True(t, hint.Valid())
	assert.EqualValues(t, before-1, hint.Event())
	assert.Equal(t, before, e.currentEvent, "LazyReverseSinglestep must not mutate the session")
}

func TestLazyReverseSinglestepAtStartHasNoHint(t *testing.T) {
	e := New(1, 10)
	mark := e.Mark()
	hint := e.LazyReverseSinglestep(mark, e.taskID)
	assert.False(t, hint.Valid())
}

func TestContinueStopsAtAlwaysFiringBreakpoint(t *testing.T) {
	e := New(1, 10)
	e.breakpoints[uint64(5)] = nil // nil condition: always fires
	res := e.ReplayStep(gdbreq.RunContinue, gdbreq.Forward, 0, nil)
	assert.True(t, res.BreakStatus.BreakpointHit)
	assert.EqualValues(t, 5, e.currentEvent)
}

func TestReverseStepAtStartOfRecordingReportsTaskExit(t *testing.T) {
	e := New(1, 10)
	res := e.ReplayStep(gdbreq.RunSinglestep, gdbreq.Backward, 0, nil)
	assert.True(t, res.BreakStatus.TaskExit)
	assert.EqualValues(t, 0, e.currentEvent)
}

func TestCanValidateFalseAtInitialEvent(t *testing.T) {
	e := New(1, 10)
	assert.False(t, e.CanValidate())
	e.ReplayStep(gdbreq.RunSinglestep, gdbreq.Forward, 0, nil)
	assert.True(t, e.CanValidate())
}

func TestCloneDiversionIsIndependentOfParentArena(t *testing.T) {
	e := New(1, 10)
	e.task.WriteRaw(0x1000, []byte{0xAB})

	div := e.CloneDiversion()
	task, ok := div.FindTask(e.taskID)
	require.True(t, ok)
	require.True(t, div.IsDiversion())

	assert.NoError(t, task.WriteBytes(0x1000, []byte{0xFF}))
	data := e.task.ReadBytesFallible(0x1000, 1)
	require.Len(t, data, 1)
	assert.Equal(t, byte(0xAB), data[0], "writes into a diversion must not leak back into the parent")
}

func TestDiversionStepForceExitReportsDiversionExited(t *testing.T) {
	e := New(1, 10)
	div := e.CloneDiversion().(*diversionSession)
	div.ForceExitOnNextStep()
	task, _ := div.FindTask(e.taskID)
	res := div.Step(task, gdbreq.RunContinue, 0)
	assert.Equal(t, timeline.DiversionExited, res.Status)
}

func TestDiversionKillAllTasksEmptiesSession(t *testing.T) {
	e := New(1, 10)
	div := e.CloneDiversion()
	require.Equal(t, 1, len(div.Tasks()))
	div.KillAllTasks()
	assert.Equal(t, 0, len(div.Tasks()))
}
