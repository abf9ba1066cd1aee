// Package fake is a small in-memory replay engine implementing
// timeline.ReplayTimeline, built to reproduce every testable property in
// SPEC_FULL.md §8 without a real record-and-replay backend. It models a
// single task group whose sole task "executes" one synthetic instruction
// per event: event N's address is N, and its general-purpose RAX register
// reads back as N, so tests can assert on both control flow and register
// content without a disassembler.
package fake

import (
	"github.com/replay-debug/gdbserver/debuggee"
	fakedebuggee "github.com/replay-debug/gdbserver/debuggee/fake"
	"github.com/replay-debug/gdbserver/gdbreq"
	"github.com/replay-debug/gdbserver/registers/amd64"
	"github.com/replay-debug/gdbserver/timeline"
)

// Engine is the fake ReplayTimeline. TotalEvents is the last valid event
// number; stepping forward past it reports REPLAY_EXITED.
type Engine struct {
	TotalEvents int

	arena        *fakedebuggee.Arena
	session      *fakedebuggee.Session
	task         *fakedebuggee.Task
	taskID       debuggee.TaskID
	currentEvent int
	stepped      bool

	nextMarkID  uint64
	breakpoints map[uint64]gdbreq.BreakpointCondition
	watchpoints map[uint64]debuggee.WatchType

	reverseBarrierEvent uint64
}

var _ timeline.ReplayTimeline = (*Engine)(nil)

// New creates an engine with a single task in task group tgid, a recording
// totalEvents events long, starting at event 0.
func New(tgid int, totalEvents int) *Engine {
	arena := fakedebuggee.NewArena()
	id := debuggee.TaskID{TaskGroupID: tgid, ID: 1}
	task := arena.NewTask(id, 1, "main")
	e := &Engine{
		TotalEvents: totalEvents,
		arena:       arena,
		session:     fakedebuggee.NewSession(arena, false),
		task:        task,
		taskID:      id,
		breakpoints: make(map[uint64]gdbreq.BreakpointCondition),
		watchpoints: make(map[uint64]debuggee.WatchType),
	}
	e.syncRegs()
	return e
}

// CurrentTaskID is a test helper returning the id of the engine's sole task.
func (e *Engine) CurrentTaskID() debuggee.TaskID { return e.taskID }

// AddForeignTask is a test helper that registers an extra task belonging to
// a different task group than the engine's own, used to exercise the resume
// loop's task-group-drift branch (a debugger-attached task group is not
// necessarily the only one replay ever schedules).
func (e *Engine) AddForeignTask(id debuggee.TaskID, name string) debuggee.Task {
	return e.arena.NewTask(id, 1, name)
}

// CurrentTask is a test helper.
func (e *Engine) CurrentTask() debuggee.Task { return e.task }

// HasWatchpoint is a test helper reporting the watch type installed at addr
// on the timeline's canonical table, or ok=false if none is installed.
func (e *Engine) HasWatchpoint(addr uint64) (typ debuggee.WatchType, ok bool) {
	typ, ok = e.watchpoints[addr]
	return typ, ok
}

// HasBreakpoint is a test helper reporting whether addr has a breakpoint
// installed on the timeline's canonical table.
func (e *Engine) HasBreakpoint(addr uint64) bool {
	_, ok := e.breakpoints[addr]
	return ok
}

func (e *Engine) syncRegs() {
	snap := e.task.Regs().(*amd64.Snapshot)
	snap.Values[amd64.RAX] = uint64(e.currentEvent)
}

func (e *Engine) regsForEvent(event int) *amd64.Snapshot {
	snap := amd64.NewSnapshot()
	snap.Values[amd64.RAX] = uint64(event)
	return snap
}

func (e *Engine) IsRunning() bool                 { return e.stepped }
func (e *Engine) CurrentSession() debuggee.Session { return e.session }
func (e *Engine) CanValidate() bool               { return e.currentEvent >= 1 }

func (e *Engine) Mark() timeline.Mark {
	e.nextMarkID++
	extra := e.task.ExtraRegs()
	return timeline.NewMark(e.nextMarkID, uint64(e.currentEvent), cloneSnapshot(e.task.Regs().(*amd64.Snapshot)), extra)
}

func cloneSnapshot(s *amd64.Snapshot) *amd64.Snapshot {
	clone := *s
	return &clone
}

func (e *Engine) SeekToMark(m timeline.Mark) {
	e.currentEvent = int(m.Event())
	if snap, ok := m.Regs().(*amd64.Snapshot); ok {
		*e.task.Regs().(*amd64.Snapshot) = *snap
	}
}

func (e *Engine) SeekToBeforeEvent(event uint64) {
	e.currentEvent = int(event) - 1
	if e.currentEvent < 0 {
		e.currentEvent = 0
	}
	e.syncRegs()
}

// ReplayStep is the heart of the fake engine. See the package doc for the
// event/address/register model.
func (e *Engine) ReplayStep(cmd gdbreq.RunCommand, dir gdbreq.RunDirection, stopEvent uint64, sniff func() bool) timeline.ReplayResult {
	e.stepped = true

	if dir == gdbreq.Forward {
		for {
			if e.currentEvent >= e.TotalEvents {
				return timeline.ReplayResult{Status: timeline.ReplayExited}
			}
			e.currentEvent++
			e.syncRegs()

			bs := timeline.BreakStatus{Task: e.task}
			cond, hit := e.breakpoints[uint64(e.currentEvent)]
			if hit {
				fireBp := cond == nil
				if !fireBp {
					fireBp = cond.Evaluate(e.task)
				}
				if !fireBp {
					if cmd == gdbreq.RunSinglestep {
						// A singlestep always completes even over a
						// suppressed breakpoint.
						bs.SinglestepComplete = true
						return e.finishForward(bs)
					}
					continue
				}
				bs.BreakpointHit = true
				return e.finishForward(bs)
			}
			if cmd == gdbreq.RunSinglestep {
				bs.SinglestepComplete = true
				return e.finishForward(bs)
			}
			if stopEvent != 0 && uint64(e.currentEvent) >= stopEvent {
				bs.BreakpointHit = true
				return e.finishForward(bs)
			}
			if sniff != nil && sniff() {
				bs.BreakpointHit = true
				return e.finishForward(bs)
			}
		}
	}

	// Backward.
	if e.currentEvent <= 0 {
		return timeline.ReplayResult{Status: timeline.ReplayContinue, BreakStatus: timeline.BreakStatus{
			Task:     e.task,
			TaskExit: true,
		}}
	}
	e.currentEvent--
	e.syncRegs()
	bs := timeline.BreakStatus{Task: e.task}
	if cond, hit := e.breakpoints[uint64(e.currentEvent)]; hit {
		if cond == nil || cond.Evaluate(e.task) {
			bs.BreakpointHit = true
		}
	}
	if cmd == gdbreq.RunSinglestep && !bs.BreakpointHit {
		bs.SinglestepComplete = true
	}
	return timeline.ReplayResult{Status: timeline.ReplayContinue, BreakStatus: bs}
}

func (e *Engine) finishForward(bs timeline.BreakStatus) timeline.ReplayResult {
	if e.currentEvent >= e.TotalEvents {
		bs.TaskExit = true
	}
	return timeline.ReplayResult{Status: timeline.ReplayContinue, BreakStatus: bs}
}

// LazyReverseSinglestep computes, without mutating the session, the mark one
// event before now. It returns an invalid Mark at the start of the
// recording, mirroring the original's "no precomputed hint" case that falls
// back to a normal reverse step.
func (e *Engine) LazyReverseSinglestep(now timeline.Mark, t debuggee.TaskID) timeline.Mark {
	if now.Event() == 0 {
		return timeline.Mark{}
	}
	prevEvent := now.Event() - 1
	e.nextMarkID++
	return timeline.NewMark(e.nextMarkID, prevEvent, e.regsForEvent(int(prevEvent)), e.task.ExtraRegs())
}

func (e *Engine) CanAddCheckpoint() bool         { return true }
func (e *Engine) AddExplicitCheckpoint() timeline.Mark { return e.Mark() }
func (e *Engine) RemoveExplicitCheckpoint(timeline.Mark) {}

func (e *Engine) AddBreakpoint(t debuggee.Task, addr uint64, cond gdbreq.BreakpointCondition) bool {
	e.breakpoints[addr] = cond
	t.VM().AddBreakpoint(addr)
	return true
}

func (e *Engine) RemoveBreakpoint(t debuggee.Task, addr uint64) {
	delete(e.breakpoints, addr)
	t.VM().RemoveBreakpoint(addr)
}

func (e *Engine) AddWatchpoint(t debuggee.Task, addr uint64, kind int, typ debuggee.WatchType, cond gdbreq.BreakpointCondition) bool {
	e.watchpoints[addr] = typ
	t.VM().AddWatchpoint(addr, kind, typ)
	return true
}

func (e *Engine) RemoveWatchpoint(t debuggee.Task, addr uint64, kind int, typ debuggee.WatchType) {
	delete(e.watchpoints, addr)
	t.VM().RemoveWatchpoint(addr, kind, typ)
}

func (e *Engine) ApplyBreakpointsAndWatchpoints() {}

func (e *Engine) RemoveBreakpointsAndWatchpoints() {
	for addr := range e.breakpoints {
		e.task.VM().RemoveBreakpoint(addr)
	}
	for addr, typ := range e.watchpoints {
		e.task.VM().RemoveWatchpoint(addr, 0, typ)
	}
	e.breakpoints = make(map[uint64]gdbreq.BreakpointCondition)
	e.watchpoints = make(map[uint64]debuggee.WatchType)
}

func (e *Engine) SetReverseExecutionBarrierEvent(event uint64) {
	e.reverseBarrierEvent = event
}

func (e *Engine) CloneDiversion() timeline.DiversionSession {
	clonedArena := e.arena.Clone()
	return &diversionSession{
		Session: fakedebuggee.NewSession(clonedArena, true),
		arena:   clonedArena,
	}
}

// diversionSession is the fake DiversionSession: every Step changes no state
// and reports a plain completion (SinglestepComplete for a singlestep,
// BreakpointHit for a continue), unless ForceExitOnNextStep has been called
// (used by tests exercising the DIVERSION_EXITED path).
type diversionSession struct {
	*fakedebuggee.Session
	arena      *fakedebuggee.Arena
	forceExit  bool
}

var _ timeline.DiversionSession = (*diversionSession)(nil)

func (d *diversionSession) ForceExitOnNextStep() { d.forceExit = true }

func (d *diversionSession) Step(t debuggee.Task, cmd gdbreq.RunCommand, signalToDeliver int) timeline.DiversionResult {
	if d.forceExit {
		return timeline.DiversionResult{Status: timeline.DiversionExited}
	}
	bs := timeline.BreakStatus{Task: t, Signal: signalToDeliver}
	if cmd == gdbreq.RunSinglestep {
		bs.SinglestepComplete = true
	} else {
		bs.BreakpointHit = true
	}
	return timeline.DiversionResult{Status: timeline.DiversionContinue, BreakStatus: bs}
}

func (d *diversionSession) KillAllTasks() {
	for id := range d.arena.Tasks() {
		d.arena.RemoveTask(id)
	}
}
