package dlvengine

import (
	"fmt"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"

	"github.com/replay-debug/gdbserver/debuggee"
	"github.com/replay-debug/gdbserver/registers"
	"github.com/replay-debug/gdbserver/registers/amd64"
)

// task adapts a dlv api.Thread into debuggee.Task. Only the program counter
// is populated from the live RPC surface; every other general-purpose
// register is reported as undefined, since there is no grounded RPC in this
// adapter's surface for a raw register file (the headless_ext package this
// wire format is modeled on never calls one either).
type task struct {
	engine *Engine
	thread *api.Thread
}

var _ debuggee.Task = (*task)(nil)

func (t *task) ID() debuggee.TaskID {
	if t.thread == nil {
		return t.engine.currentTaskID()
	}
	return debuggee.TaskID{TaskGroupID: t.engine.taskGroupID, ID: t.thread.ID}
}

func (t *task) RecTid() int {
	if t.thread == nil {
		return 0
	}
	return t.thread.ID
}

// RealTgid has no meaning against a dlv headless target reached only over
// JSON-RPC: there is no local process to stat /proc/<tgid>/auxv for.
func (t *task) RealTgid() int { return 0 }

// Name has no grounded RPC source in this adapter's surface (api.Thread
// carries no stable thread name the way a recorded task does), so it
// reports a synthetic label derived from the thread id.
func (t *task) Name() string {
	if t.thread == nil {
		return ""
	}
	return fmt.Sprintf("thread-%d", t.thread.ID)
}

func (t *task) ChildSignal() int { return 0 }

func (t *task) Regs() registers.WritableFile {
	snap := amd64.NewSnapshot()
	for i := range snap.Defined {
		snap.Defined[i] = false
	}
	if t.thread != nil {
		snap.Values[amd64.RIP] = t.thread.PC
		snap.Defined[amd64.RIP] = true
	}
	return snap
}

func (t *task) ExtraRegs() registers.File {
	return &amd64.ExtraSnapshot{Values: map[registers.GdbRegister][]byte{}}
}

// SetRegs is a no-op: writing an arbitrary register file back through this
// adapter's RPC surface has no grounded equivalent (no raw-register-file
// RPC is reachable here), so a debugger's register writes against a
// dlv-backed task are silently dropped rather than partially honored.
func (t *task) SetRegs(registers.WritableFile) {}

func (t *task) ReadBytesFallible(addr uint64, length int) []byte {
	out, err := call[rpc2.ExaminedMemoryOut](t.engine.c, rpcExamineMemory, rpc2.ExamineMemoryIn{
		Address: addr,
		Length:  length,
	})
	if err != nil {
		t.engine.log.Warnf("dlvengine: read memory at %#x: %v", addr, err)
		return nil
	}
	return out.Mem
}

// WriteBytes returns an explicit error: there is no grounded memory-write
// RPC in this adapter's surface (ExamineMemory is read-only), so silently
// dropping the write would misreport success to a debugger trying to plant
// a value or patch code.
func (t *task) WriteBytes(addr uint64, data []byte) error {
	return fmt.Errorf("dlvengine: write memory at %#x: not supported by this backend", addr)
}

func (t *task) VM() debuggee.AddressSpace {
	return &addressSpace{engine: t.engine}
}

// addressSpace is a thin pass-through to the engine's own breakpoint
// bookkeeping: a dlv headless target doesn't expose a separate per-process
// breakpoint table the way timeline/fake's AddressSpace does.
type addressSpace struct {
	engine *Engine
}

var _ debuggee.AddressSpace = (*addressSpace)(nil)

func (a *addressSpace) ReplaceBreakpointsWithOriginalValues(mem []byte, addr uint64) {}

func (a *addressSpace) AddBreakpoint(addr uint64) bool {
	return a.engine.AddBreakpoint(nil, addr, nil)
}

func (a *addressSpace) RemoveBreakpoint(addr uint64) {
	a.engine.RemoveBreakpoint(nil, addr)
}

func (a *addressSpace) AddWatchpoint(addr uint64, kind int, typ debuggee.WatchType) bool {
	return a.engine.AddWatchpoint(nil, addr, kind, typ, nil)
}

func (a *addressSpace) RemoveWatchpoint(addr uint64, kind int, typ debuggee.WatchType) {
	a.engine.RemoveWatchpoint(nil, addr, kind, typ)
}
