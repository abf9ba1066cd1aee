// Package timeline models the ReplayTimeline collaborator: the time-travel
// engine that supplies forward/backward stepping, mark/seek, breakpoint and
// watchpoint installation, lazy reverse-singlestep hints, and checkpoint
// creation/removal. THE CORE (package gdbserver) only ever calls through
// this interface; concrete engines live in timeline/fake (in-memory, for
// tests) and timeline/dlvengine (a real dlv --backend=rr adapter).
package timeline

import (
	"github.com/replay-debug/gdbserver/debuggee"
	"github.com/replay-debug/gdbserver/gdbreq"
	"github.com/replay-debug/gdbserver/registers"
)

// Mark is an opaque handle into the timeline identifying a precise replay
// point. The zero Mark is invalid; engines hand out Marks via Mark() and
// AddExplicitCheckpoint(). A Mark additionally caches the register state at
// that point, so the lazy reverse-singlestep fast path (§4.5) can answer
// get-regs without reseeking the session.
type Mark struct {
	valid bool
	id    uint64
	event uint64

	generalRegs registers.WritableFile
	extraRegs   registers.File
}

// NewMark is used by ReplayTimeline implementations to hand back a valid
// mark; THE CORE never constructs one directly.
func NewMark(id, event uint64, general registers.WritableFile, extra registers.File) Mark {
	return Mark{valid: true, id: id, event: event, generalRegs: general, extraRegs: extra}
}

func (m Mark) Valid() bool                  { return m.valid }
func (m Mark) ID() uint64                   { return m.id }
func (m Mark) Event() uint64                { return m.event }
func (m Mark) Regs() registers.WritableFile { return m.generalRegs }
func (m Mark) ExtraRegs() registers.File    { return m.extraRegs }

// Equal compares two marks by identity, not value; two distinct checkpoints
// of the same event are not equal.
func (m Mark) Equal(o Mark) bool { return m.valid && o.valid && m.id == o.id }

// ReplayStatus is the outcome of a single replay_step call.
type ReplayStatus int

const (
	ReplayContinue ReplayStatus = iota
	ReplayExited
)

// WatchHit is one entry of BreakStatus.WatchpointsHit.
type WatchHit struct {
	Addr uint64
}

// BreakStatus describes why a single timeline step stopped. At most one of
// BreakpointHit/SinglestepComplete is set per stop; WatchpointsHit may
// coexist with either.
type BreakStatus struct {
	Task               debuggee.Task
	BreakpointHit      bool
	SinglestepComplete bool
	WatchpointsHit     []WatchHit
	Signal             int
	TaskExit           bool
}

// ReplayResult is what a single replay_step call returns.
type ReplayResult struct {
	Status      ReplayStatus
	BreakStatus BreakStatus
}

// ReplayTimeline is the time-travel engine collaborator.
type ReplayTimeline interface {
	// IsRunning reports whether the timeline has an active replay
	// session (false only before the very first step).
	IsRunning() bool

	CurrentSession() debuggee.Session

	// CanValidate reports whether the current session is far enough along
	// to be a legitimate debugger-attach target (false for rr's initial
	// fork child, which nothing should ever attach to).
	CanValidate() bool

	Mark() Mark
	SeekToMark(Mark)
	SeekToBeforeEvent(event uint64)

	// ReplayStep advances (or rewinds) the timeline by one step. sniff is
	// polled, non-blocking, during a long-running continue so an incoming
	// debugger packet can be noticed without waiting for the step to
	// finish; it may be nil.
	ReplayStep(cmd gdbreq.RunCommand, dir gdbreq.RunDirection, stopEvent uint64, sniff func() bool) ReplayResult

	// LazyReverseSinglestep returns a precomputed mark one instruction
	// before now for task t, or an invalid Mark if none is cached. It must
	// not mutate the underlying session.
	LazyReverseSinglestep(now Mark, t debuggee.TaskID) Mark

	CanAddCheckpoint() bool
	AddExplicitCheckpoint() Mark
	RemoveExplicitCheckpoint(Mark)

	// AddBreakpoint/AddWatchpoint install on the timeline's canonical
	// session (not necessarily the session currently executing, which may
	// be a diversion — the dispatcher mirrors into the diversion's address
	// space itself when needed).
	AddBreakpoint(t debuggee.Task, addr uint64, cond gdbreq.BreakpointCondition) bool
	RemoveBreakpoint(t debuggee.Task, addr uint64)
	AddWatchpoint(t debuggee.Task, addr uint64, kind int, typ debuggee.WatchType, cond gdbreq.BreakpointCondition) bool
	RemoveWatchpoint(t debuggee.Task, addr uint64, kind int, typ debuggee.WatchType)

	ApplyBreakpointsAndWatchpoints()
	RemoveBreakpointsAndWatchpoints()

	SetReverseExecutionBarrierEvent(event uint64)

	// CloneDiversion forks the current replay session into a mutable
	// diversion session that can be written to without perturbing the
	// recorded timeline.
	CloneDiversion() DiversionSession
}

// DiversionStatus is the outcome of a single diversion_step call.
type DiversionStatus int

const (
	DiversionContinue DiversionStatus = iota
	DiversionExited
)

// DiversionResult is what a single diversion step returns.
type DiversionResult struct {
	Status      DiversionStatus
	BreakStatus BreakStatus
}

// DiversionSession is the short-lived, mutable clone a diversion manager
// steps and eventually discards.
type DiversionSession interface {
	debuggee.Session

	// Step runs one command (continue or singlestep) against task t,
	// delivering signalToDeliver if nonzero.
	Step(t debuggee.Task, cmd gdbreq.RunCommand, signalToDeliver int) DiversionResult

	// KillAllTasks tears down every task in the diversion; called exactly
	// once, when the diversion ends.
	KillAllTasks()
}
