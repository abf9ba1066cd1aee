// Package fake is an in-memory, arena-style implementation of the
// debuggee.Task/Session/AddressSpace collaborators, used by timeline/fake
// and by gdbserver's tests. Tasks reference their session by id rather than
// holding an owning pointer, per the cyclic-reference design note in
// SPEC_FULL.md: a replay step or a diversion clone can recreate tasks out
// from under any pointer a caller might have cached.
package fake

import (
	"sync"

	"github.com/replay-debug/gdbserver/debuggee"
	"github.com/replay-debug/gdbserver/registers"
	"github.com/replay-debug/gdbserver/registers/amd64"
)

// Arena owns every task and address space for one replay timeline (and any
// diversions cloned from it). It is the thing a ReplayTimeline
// implementation recreates tasks against.
type Arena struct {
	mu    sync.Mutex
	tasks map[debuggee.TaskID]*Task
}

func NewArena() *Arena {
	return &Arena{tasks: make(map[debuggee.TaskID]*Task)}
}

// NewTask creates and registers a task with a fresh register snapshot and
// an empty address space.
func (a *Arena) NewTask(id debuggee.TaskID, recTid int, name string) *Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := &Task{
		id:     id,
		recTid: recTid,
		name:   name,
		regs:   amd64.NewSnapshot(),
		extra:  &amd64.ExtraSnapshot{Values: map[registers.GdbRegister][]byte{}},
		mem:    make(map[uint64]byte),
		vm:     NewAddressSpace(),
	}
	a.tasks[id] = t
	return t
}

func (a *Arena) RemoveTask(id debuggee.TaskID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tasks, id)
}

func (a *Arena) FindTask(id debuggee.TaskID) (debuggee.Task, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[id]
	return t, ok
}

func (a *Arena) Tasks() map[debuggee.TaskID]debuggee.Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[debuggee.TaskID]debuggee.Task, len(a.tasks))
	for id, t := range a.tasks {
		out[id] = t
	}
	return out
}

func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tasks)
}

// Clone produces an independent arena with copies of every task's register
// and memory state, used to seed a diversion session without perturbing the
// original.
func (a *Arena) Clone() *Arena {
	a.mu.Lock()
	defer a.mu.Unlock()
	clone := NewArena()
	for id, t := range a.tasks {
		nt := clone.NewTask(id, t.recTid, t.name)
		*nt.regs = *t.regs
		for addr, b := range t.mem {
			nt.mem[addr] = b
		}
		nt.childSignal = t.childSignal
	}
	return clone
}

// Session wraps an Arena with the IsDiversion flag debuggee.Session needs.
type Session struct {
	*Arena
	diversion bool
}

var _ debuggee.Session = (*Session)(nil)

func NewSession(arena *Arena, diversion bool) *Session {
	return &Session{Arena: arena, diversion: diversion}
}

func (s *Session) IsDiversion() bool { return s.diversion }

// Task is the fake implementation of debuggee.Task: registers and memory
// are plain maps, good enough to drive the dispatcher's logic without a
// real tracee.
type Task struct {
	id          debuggee.TaskID
	recTid      int
	name        string
	childSignal int

	regs  *amd64.Snapshot
	extra *amd64.ExtraSnapshot
	mem   map[uint64]byte
	vm    *AddressSpace
}

var _ debuggee.Task = (*Task)(nil)

func (t *Task) ID() debuggee.TaskID { return t.id }
func (t *Task) RecTid() int         { return t.recTid }
func (t *Task) RealTgid() int       { return t.id.TaskGroupID }
func (t *Task) Name() string        { return t.name }
func (t *Task) ChildSignal() int    { return t.childSignal }
func (t *Task) SetChildSignal(sig int) { t.childSignal = sig }

func (t *Task) Regs() registers.WritableFile { return t.regs }
func (t *Task) ExtraRegs() registers.File    { return t.extra }
func (t *Task) SetRegs(r registers.WritableFile) {
	if snap, ok := r.(*amd64.Snapshot); ok {
		*t.regs = *snap
	}
}

func (t *Task) ReadBytesFallible(addr uint64, length int) []byte {
	out := make([]byte, 0, length)
	for i := 0; i < length; i++ {
		b, ok := t.mem[addr+uint64(i)]
		if !ok {
			break
		}
		out = append(out, b)
	}
	return out
}

func (t *Task) WriteBytes(addr uint64, data []byte) error {
	for i, b := range data {
		t.mem[addr+uint64(i)] = b
	}
	return nil
}

// WriteRaw is a test helper bypassing the Task interface.
func (t *Task) WriteRaw(addr uint64, data []byte) { _ = t.WriteBytes(addr, data) }

func (t *Task) VM() debuggee.AddressSpace { return t.vm }

// AddressSpace is the fake per-task breakpoint/watchpoint table.
type AddressSpace struct {
	breakpoints map[uint64]byte // addr -> byte reported in place of memory (always 0x00; memory is never patched)
	watchpoints map[uint64]debuggee.WatchType
}

func NewAddressSpace() *AddressSpace {
	return &AddressSpace{
		breakpoints: make(map[uint64]byte),
		watchpoints: make(map[uint64]debuggee.WatchType),
	}
}

var _ debuggee.AddressSpace = (*AddressSpace)(nil)

func (vm *AddressSpace) ReplaceBreakpointsWithOriginalValues(mem []byte, addr uint64) {
	for i := range mem {
		if orig, ok := vm.breakpoints[addr+uint64(i)]; ok {
			mem[i] = orig
		}
	}
}

func (vm *AddressSpace) AddBreakpoint(addr uint64) bool {
	if _, exists := vm.breakpoints[addr]; !exists {
		vm.breakpoints[addr] = 0x00
	}
	return true
}

func (vm *AddressSpace) RemoveBreakpoint(addr uint64) {
	delete(vm.breakpoints, addr)
}

func (vm *AddressSpace) AddWatchpoint(addr uint64, kind int, typ debuggee.WatchType) bool {
	vm.watchpoints[addr] = typ
	return true
}

func (vm *AddressSpace) RemoveWatchpoint(addr uint64, kind int, typ debuggee.WatchType) {
	delete(vm.watchpoints, addr)
}

// HasBreakpoint is a test helper.
func (vm *AddressSpace) HasBreakpoint(addr uint64) bool {
	_, ok := vm.breakpoints[addr]
	return ok
}

// WatchpointType is a test helper returning the installed watch type at
// addr, or ok=false if none is installed.
func (vm *AddressSpace) WatchpointType(addr uint64) (typ debuggee.WatchType, ok bool) {
	typ, ok = vm.watchpoints[addr]
	return typ, ok
}
