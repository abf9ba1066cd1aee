// Package debuggee models the traced-process abstraction that THE CORE
// depends on but never owns: tasks, sessions, and per-address-space
// breakpoint tables. Tasks reference their owning session by id rather than
// by pointer, so that a session clone (a diversion) and replay's habit of
// recreating tasks across steps don't leave stale references lying around.
package debuggee

import "github.com/replay-debug/gdbserver/registers"

// TaskID identifies a task within a task group. Zero-ish sentinel values
// (<= 0) on either field mean "any" when used as a RequestTarget; see
// Matches.
type TaskID struct {
	TaskGroupID int
	ID          int
}

// Any is the wildcard target: it matches every task.
var Any = TaskID{TaskGroupID: -1, ID: -1}

// Matches reports whether t satisfies target, treating non-positive fields
// of target as wildcards. This mirrors matches_threadid in the original
// GdbServer: a target pid/tid of zero or less matches anything.
func (t TaskID) Matches(target TaskID) bool {
	return (target.TaskGroupID <= 0 || target.TaskGroupID == t.TaskGroupID) &&
		(target.ID <= 0 || target.ID == t.ID)
}

// WatchType enumerates the kinds of watchpoint the timeline can install.
type WatchType int

const (
	WatchExec WatchType = iota
	WatchWrite
	WatchReadWrite
)

// Task is a single thread of execution within a session. Everything it
// exposes is exactly what the dispatcher and resume loop need; it is not a
// general ptrace wrapper.
type Task interface {
	ID() TaskID
	// RecTid is the recorded tid, the stable identity gdb-style debuggers
	// key off of even as the underlying OS thread is recreated across
	// replay.
	RecTid() int
	// RealTgid is the tgid of the live process currently backing this
	// task, used only for /proc/<tgid>/auxv.
	RealTgid() int
	Name() string
	ChildSignal() int

	Regs() registers.WritableFile
	ExtraRegs() registers.File
	SetRegs(registers.WritableFile)

	// ReadBytesFallible reads up to len bytes at addr, returning fewer
	// bytes (never more, never negative) if the read is partially or
	// fully unreadable.
	ReadBytesFallible(addr uint64, len int) []byte
	WriteBytes(addr uint64, data []byte) error

	VM() AddressSpace
}

// Session is a live or diverted collection of tasks sharing a replay or
// diversion context.
type Session interface {
	// Tasks returns every live task in the session, keyed by id.
	Tasks() map[TaskID]Task
	FindTask(TaskID) (Task, bool)
	// IsDiversion reports whether writes to this session are safe (they
	// won't cause the recorded execution to diverge).
	IsDiversion() bool
}

// AddressSpace is the per-process memory/breakpoint view that a diversion
// mirrors breakpoints into, separately from the timeline's canonical
// breakpoint table.
type AddressSpace interface {
	// ReplaceBreakpointsWithOriginalValues overwrites any installed
	// breakpoint instruction bytes within mem (read from addr) with the
	// original bytes they replaced, so a debugger reading memory never
	// observes the patched trap instruction.
	ReplaceBreakpointsWithOriginalValues(mem []byte, addr uint64)
	AddBreakpoint(addr uint64) bool
	RemoveBreakpoint(addr uint64)
	AddWatchpoint(addr uint64, kind int, typ WatchType) bool
	RemoveWatchpoint(addr uint64, kind int, typ WatchType)
}

// BreakpointInsnSize is the architectural size, in bytes, of the trap
// instruction the timeline patches in for a software breakpoint (0xCC on
// amd64). The dispatcher asserts that every DREQ_SET_SW_BREAK carries a
// kind matching this.
const BreakpointInsnSize = 1
