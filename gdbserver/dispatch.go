package gdbserver

import (
	"fmt"
	"os"

	"github.com/replay-debug/gdbserver/debuggee"
	"github.com/replay-debug/gdbserver/gdbreq"
	"github.com/replay-debug/gdbserver/registers"
	"github.com/replay-debug/gdbserver/registers/amd64"
)

// dispatch is the request dispatcher (§4.1): a large switch on request kind,
// pure with respect to the replay (it never advances the timeline itself).
// Preconditions: req is neither a resume request, a restart, nor a detach —
// all three exit the request-gathering loop before reaching here. Exactly
// one reply is emitted through s.conn before dispatch returns. An
// unresolved target replies no-such-thread; an unknown kind is a
// programmer error and is fatal.
func (s *Server) dispatch(session debuggee.Session, req gdbreq.Request) {
	switch req.Kind {
	case gdbreq.KindGetCurrentThread:
		s.conn.ReplyGetCurrentThread(s.currentTask)

	case gdbreq.KindGetThreadList:
		if s.terminated {
			s.conn.ReplyGetThreadList(nil)
			return
		}
		ids := make([]debuggee.TaskID, 0, len(session.Tasks()))
		for id := range session.Tasks() {
			ids = append(ids, id)
		}
		s.conn.ReplyGetThreadList(ids)

	case gdbreq.KindGetOffsets:
		s.conn.ReplyGetOffsets()

	case gdbreq.KindInterrupt:
		s.conn.NotifyStop(s.currentTask, 0, 0)

	case gdbreq.KindGetIsThreadAlive:
		_, ok := session.FindTask(req.Target)
		s.conn.ReplyGetIsThreadAlive(ok)

	case gdbreq.KindQueryThread:
		task, ok := session.FindTask(req.Target)
		if ok {
			s.currentTask = task.ID()
		}
		s.conn.ReplySelectThread(ok)

	case gdbreq.KindGetThreadExtraInfo:
		task, ok := session.FindTask(req.Target)
		name := ""
		if ok {
			name = task.Name()
		}
		s.conn.ReplyGetThreadExtraInfo(name)

	case gdbreq.KindGetAuxv:
		s.dispatchGetAuxv(session, req)

	case gdbreq.KindGetMem:
		s.dispatchGetMem(session, req)

	case gdbreq.KindSetMem:
		s.dispatchSetMem(session, req)

	case gdbreq.KindGetReg:
		s.dispatchGetReg(session, req)

	case gdbreq.KindGetRegs:
		s.dispatchGetRegs(session, req)

	case gdbreq.KindSetReg:
		s.dispatchSetReg(session, req)

	case gdbreq.KindGetStopReason:
		task, ok := s.resolveTargetIn(session, req.Target)
		if !ok {
			s.conn.NotifyNoSuchThread()
			return
		}
		s.conn.ReplyGetStopReason(task.ID(), task.ChildSignal())

	case gdbreq.KindSetSWBreak:
		s.dispatchSetBreak(session, req, true)
	case gdbreq.KindRemoveSWBreak:
		s.dispatchRemoveBreak(session, req, true)
	case gdbreq.KindSetHWBreak:
		s.dispatchSetBreak(session, req, false)
	case gdbreq.KindRemoveHWBreak:
		s.dispatchRemoveBreak(session, req, false)

	case gdbreq.KindSetRdWatch:
		s.dispatchSetWatch(session, req, debuggee.WatchReadWrite)
	case gdbreq.KindRemoveRdWatch:
		s.dispatchRemoveWatch(session, req, debuggee.WatchReadWrite)
	case gdbreq.KindSetWrWatch:
		s.dispatchSetWatch(session, req, debuggee.WatchWrite)
	case gdbreq.KindRemoveWrWatch:
		s.dispatchRemoveWatch(session, req, debuggee.WatchWrite)
	case gdbreq.KindSetRdwrWatch:
		s.dispatchSetWatch(session, req, debuggee.WatchReadWrite)
	case gdbreq.KindRemoveRdwrWatch:
		s.dispatchRemoveWatch(session, req, debuggee.WatchReadWrite)

	case gdbreq.KindReadSiginfo:
		s.log.Warnf("gdbserver: read-siginfo outside a diversion bracket")
		s.conn.ReplyReadSiginfo(make([]byte, req.Mem.Len))

	case gdbreq.KindWriteSiginfo:
		s.log.Warnf("gdbserver: write-siginfo outside a diversion bracket")
		s.conn.ReplyWriteSiginfo()

	default:
		fatalf("gdbserver: unhandled request kind %d reached the dispatcher", req.Kind)
	}
}

// resolveTargetIn resolves target against session specifically, falling
// back to the current task when target is the zero value, mirroring
// resolveTarget's wildcard rule but against an explicit session rather than
// s.activeSession().
func (s *Server) resolveTargetIn(session debuggee.Session, target debuggee.TaskID) (debuggee.Task, bool) {
	if target == (debuggee.TaskID{}) {
		target = s.currentTask
	}
	for id, task := range session.Tasks() {
		if id.Matches(target) {
			return task, true
		}
	}
	return nil, false
}

func (s *Server) dispatchGetAuxv(session debuggee.Session, req gdbreq.Request) {
	task, ok := s.resolveTargetIn(session, req.Target)
	if !ok {
		s.conn.NotifyNoSuchThread()
		return
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/auxv", task.RealTgid()))
	if err != nil {
		data = nil
	}
	s.conn.ReplyGetAuxv(data)
}

func (s *Server) dispatchGetMem(session debuggee.Session, req gdbreq.Request) {
	if data, handled := s.tryMagicRead(req.Mem.Addr, req.Mem.Len); handled {
		s.conn.ReplyGetMem(data)
		return
	}
	task, ok := s.resolveTargetIn(session, req.Target)
	if !ok {
		s.conn.NotifyNoSuchThread()
		return
	}
	data := task.ReadBytesFallible(req.Mem.Addr, req.Mem.Len)
	task.VM().ReplaceBreakpointsWithOriginalValues(data, req.Mem.Addr)
	s.conn.ReplyGetMem(data)
}

func (s *Server) dispatchSetMem(session debuggee.Session, req gdbreq.Request) {
	if req.Mem.Len == 0 {
		s.conn.ReplySetMem(true)
		return
	}
	if s.tryMagicWrite(req.Mem.Addr, req.Mem.Data) {
		s.conn.ReplySetMem(true)
		return
	}
	if !session.IsDiversion() {
		s.conn.ReplySetMem(false)
		return
	}
	task, ok := s.resolveTargetIn(session, req.Target)
	if !ok {
		s.conn.NotifyNoSuchThread()
		return
	}
	err := task.WriteBytes(req.Mem.Addr, req.Mem.Data)
	s.conn.ReplySetMem(err == nil)
}

func (s *Server) dispatchGetReg(session debuggee.Session, req gdbreq.Request) {
	task, ok := s.resolveTargetIn(session, req.Target)
	if !ok {
		s.conn.NotifyNoSuchThread()
		return
	}
	s.conn.ReplyGetReg(registers.Get(task.Regs(), task.ExtraRegs(), req.Reg.Name))
}

func (s *Server) dispatchGetRegs(session debuggee.Session, req gdbreq.Request) {
	task, ok := s.resolveTargetIn(session, req.Target)
	if !ok {
		s.conn.NotifyNoSuchThread()
		return
	}
	values := make([]registers.Value, amd64.NumRegisters)
	for i := range values {
		values[i] = registers.Get(task.Regs(), task.ExtraRegs(), registers.GdbRegister(i))
	}
	s.conn.ReplyGetRegs(values)
}

// dispatchSetReg permits the write only in diversion mode, with one
// exception: orig_ax is always silently accepted, because the debugger
// writes it during restart and honoring that write outside diversion mode
// would corrupt replay state.
func (s *Server) dispatchSetReg(session debuggee.Session, req gdbreq.Request) {
	task, ok := s.resolveTargetIn(session, req.Target)
	if !ok {
		s.conn.NotifyNoSuchThread()
		return
	}
	if arch, ok := task.Regs().(registers.Arch); ok && req.Reg.Name == arch.OrigAXRegister() {
		s.conn.ReplySetReg(true)
		return
	}
	if !session.IsDiversion() {
		s.conn.ReplySetReg(false)
		return
	}
	err := task.Regs().WriteRegister(req.Reg.Name, req.Reg.Value, req.Reg.Size)
	s.conn.ReplySetReg(err == nil)
}

// compileCondition turns the request's raw condition bytes into a
// BreakpointCondition. There is no bytecode interpreter in this system (one
// would belong to the wire-protocol layer, which is a named non-goal);
// every condition list therefore compiles to the always-fire condition,
// which is also exactly what an empty list means per spec.
func compileCondition(raw [][]byte) gdbreq.BreakpointCondition {
	return gdbreq.NewCondition(nil)
}

func (s *Server) dispatchSetBreak(session debuggee.Session, req gdbreq.Request, sw bool) {
	if sw && req.Watch.Kind != debuggee.BreakpointInsnSize {
		fatalf("gdbserver: software breakpoint kind %d does not match the architectural breakpoint instruction size", req.Watch.Kind)
	}
	task, ok := s.resolveTargetIn(session, req.Target)
	if !ok {
		s.conn.NotifyNoSuchThread()
		return
	}
	cond := compileCondition(req.Watch.Conditions)
	ok = s.tl.AddBreakpoint(task, req.Watch.Addr, cond)
	if ok && session.IsDiversion() {
		task.VM().AddBreakpoint(req.Watch.Addr)
	}
	s.conn.ReplyWatchpointRequest(ok)
}

func (s *Server) dispatchRemoveBreak(session debuggee.Session, req gdbreq.Request, sw bool) {
	task, ok := s.resolveTargetIn(session, req.Target)
	if !ok {
		s.conn.NotifyNoSuchThread()
		return
	}
	s.tl.RemoveBreakpoint(task, req.Watch.Addr)
	if session.IsDiversion() {
		task.VM().RemoveBreakpoint(req.Watch.Addr)
	}
	s.conn.ReplyWatchpointRequest(true)
}

// x86 hardware watchpoints have no pure "read only" trigger mode (only
// write and read-or-write), so a read watch request is installed exactly
// like a read-write one; debuggee.WatchType has no separate constant for
// it, matching that hardware constraint.
func (s *Server) dispatchSetWatch(session debuggee.Session, req gdbreq.Request, typ debuggee.WatchType) {
	task, ok := s.resolveTargetIn(session, req.Target)
	if !ok {
		s.conn.NotifyNoSuchThread()
		return
	}
	cond := compileCondition(req.Watch.Conditions)
	ok = s.tl.AddWatchpoint(task, req.Watch.Addr, req.Watch.Kind, typ, cond)
	if ok && session.IsDiversion() {
		task.VM().AddWatchpoint(req.Watch.Addr, req.Watch.Kind, typ)
	}
	s.conn.ReplyWatchpointRequest(ok)
}

func (s *Server) dispatchRemoveWatch(session debuggee.Session, req gdbreq.Request, typ debuggee.WatchType) {
	task, ok := s.resolveTargetIn(session, req.Target)
	if !ok {
		s.conn.NotifyNoSuchThread()
		return
	}
	s.tl.RemoveWatchpoint(task, req.Watch.Addr, req.Watch.Kind, typ)
	if session.IsDiversion() {
		task.VM().RemoveWatchpoint(req.Watch.Addr, req.Watch.Kind, typ)
	}
	s.conn.ReplyWatchpointRequest(true)
}
