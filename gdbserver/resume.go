package gdbserver

import (
	"github.com/replay-debug/gdbserver/debuggee"
	"github.com/replay-debug/gdbserver/gdbreq"
	"github.com/replay-debug/gdbserver/registers"
	"github.com/replay-debug/gdbserver/registers/amd64"
	"github.com/replay-debug/gdbserver/timeline"
)

// nextRequest drains a request the lazy reverse-singlestep fast path
// already peeked at off the connection, if any, instead of blocking on the
// connection again.
func (s *Server) nextRequest() gdbreq.Request {
	if s.pendingRequest != nil {
		req := *s.pendingRequest
		s.pendingRequest = nil
		return req
	}
	return s.conn.GetRequest()
}

// processDebuggerRequests loops the dispatcher until a resume, restart, or
// detach request is produced, per §4.3. A resume request has the event-step
// overlay applied and the §4.5 lazy reverse-singlestep fast path attempted
// before being handed back; if the fast path fully services it, the loop
// keeps gathering instead of returning. A READ_SIGINFO enters the diversion
// manager; on exit, a non-none residual request is processed as though the
// debugger had just sent it.
func (s *Server) processDebuggerRequests() gdbreq.Request {
	req := s.nextRequest()
	for {
		if req.IsResumeRequest() {
			s.applyEventStepOverlay(&req)
			if s.tryLazyReverseSinglestep(req) {
				req = s.nextRequest()
				continue
			}
			return req
		}
		if req.IsRestart() || req.Kind == gdbreq.KindDetach {
			return req
		}

		if req.Kind == gdbreq.KindReadSiginfo {
			residual := s.runDiversionLoop(req)
			if residual.Kind == gdbreq.KindNone {
				req = s.nextRequest()
				continue
			}
			req = residual
			continue
		}

		s.dispatch(s.activeSession(), req)
		req = s.nextRequest()
	}
}

// applyEventStepOverlay rewrites a forward resume into a suppressed
// singlestep of the current task when the trace is configured to advance
// instruction-by-instruction up to the current event (§4.4). Reverse
// resumes are never rewritten.
func (s *Server) applyEventStepOverlay(req *gdbreq.Request) {
	if !s.traceInstructionsUpToEvent || req.Cont.RunDirection == gdbreq.Backward {
		return
	}
	req.Cont.Actions = []gdbreq.ContAction{{Type: gdbreq.ActionStep, Target: s.currentTask}}
	req.SuppressDebuggerStop = true

	s.tick++
	if task, ok := s.resolveTarget(s.currentTask); ok {
		rip := registers.Get(task.Regs(), task.ExtraRegs(), amd64.RIP)
		var v uint64
		for i := rip.Size - 1; i >= 0; i-- {
			v = v<<8 | uint64(rip.Bytes[i])
		}
		s.log.Debugf("gdbserver: event-step tick %d rip=%#x", s.tick, v)
	}
}

// tryLazyReverseSinglestep attempts the §4.5 fast path: a single backward
// singlestep of the current task with no signal to deliver can be answered
// from the timeline's precomputed mark instead of actually seeking the
// session. Returns true if it fully serviced req (and possibly several
// follow-up get-regs requests), leaving any request it couldn't service in
// s.pendingRequest for nextRequest to hand back out.
func (s *Server) tryLazyReverseSinglestep(req gdbreq.Request) bool {
	if !req.IsResumeRequest() || req.Cont.RunDirection != gdbreq.Backward {
		return false
	}
	if len(req.Cont.Actions) != 1 {
		return false
	}
	a := req.Cont.Actions[0]
	if a.Type != gdbreq.ActionStep || a.SignalToDeliver != 0 {
		return false
	}
	if !s.currentTask.Matches(a.Target) {
		return false
	}
	if !s.tl.IsRunning() {
		return false
	}

	now := s.tl.Mark()
	cursor := s.tl.LazyReverseSinglestep(now, s.currentTask)
	if !cursor.Valid() {
		return false
	}

	task, ok := s.resolveTarget(s.currentTask)
	if !ok {
		return false
	}
	s.maybeNotifyStop(timeline.BreakStatus{Task: task, SinglestepComplete: true}, req.SuppressDebuggerStop)

	for {
		next := s.conn.GetRequest()
		switch next.Kind {
		case gdbreq.KindGetRegs:
			s.conn.ReplyGetRegs(regsFromMark(cursor))
		case gdbreq.KindGetReg:
			s.conn.ReplyGetReg(registers.Get(cursor.Regs(), cursor.ExtraRegs(), next.Reg.Name))
		default:
			s.tl.SeekToMark(cursor)
			s.pendingRequest = &next
			return true
		}
	}
}

// regsFromMark gathers a full get-regs reply directly from a mark's cached
// register file, without touching the underlying session.
func regsFromMark(mark timeline.Mark) []registers.Value {
	values := make([]registers.Value, amd64.NumRegisters)
	for i := range values {
		values[i] = registers.Get(mark.Regs(), mark.ExtraRegs(), registers.GdbRegister(i))
	}
	return values
}

// computeCommand translates the per-thread action list into a single
// RunCommand by picking the first action whose target matches the current
// task (singlestep for a step action, continue otherwise); if none match,
// the current task runs as a continue, a deliberate liberty since only one
// task can progress under replay. An action's signal is not used.
func computeCommand(currentTask debuggee.TaskID, actions []gdbreq.ContAction) gdbreq.RunCommand {
	for _, a := range actions {
		if currentTask.Matches(a.Target) {
			if a.Type == gdbreq.ActionStep {
				return gdbreq.RunSinglestep
			}
			return gdbreq.RunContinue
		}
	}
	return gdbreq.RunContinue
}

// debugOneStep is one iteration of the main service loop (§4.3).
func (s *Server) debugOneStep(lastDirection gdbreq.RunDirection) gdbreq.RunDirection {
	task := s.currentTaskOrFatal()
	if task.ID().TaskGroupID != s.debuggeeTaskGroupID {
		result := s.tl.ReplayStep(gdbreq.RunContinue, lastDirection, s.target.Event, nil)
		if result.Status == timeline.ReplayExited {
			s.enterTerminated()
		}
		return lastDirection
	}

	req := s.processDebuggerRequests()
	if req.Kind == gdbreq.KindDetach {
		s.conn.ReplyDetach()
		s.detached = true
		return lastDirection
	}
	if req.IsRestart() {
		s.restart(req.Restart)
		return gdbreq.Forward
	}

	direction := req.Cont.RunDirection
	cmd := computeCommand(s.currentTask, req.Cont.Actions)
	result := s.tl.ReplayStep(cmd, direction, s.target.Event, s.conn.SniffPacket)
	s.handleReplayResult(req, result, direction)
	return direction
}

func (s *Server) handleReplayResult(req gdbreq.Request, result timeline.ReplayResult, direction gdbreq.RunDirection) {
	if result.Status == timeline.ReplayExited {
		s.enterTerminated()
		return
	}

	bs := result.BreakStatus
	if direction == gdbreq.Backward && bs.TaskExit {
		bs.TaskExit = false
		if req.Cont.RunDirection == gdbreq.Backward && len(req.Cont.Actions) == 1 && req.Cont.Actions[0].Type == gdbreq.ActionStep {
			bs.SinglestepComplete = true
		} else {
			bs.BreakpointHit = true
		}
		s.maybeNotifyStop(bs, req.SuppressDebuggerStop)
		return
	}

	if direction == gdbreq.Forward && isLastThreadExit(s.activeSession(), bs) {
		s.handleLastThreadExit()
		return
	}

	s.maybeNotifyStop(bs, req.SuppressDebuggerStop)
}

// handleLastThreadExit is reached when a forward step's break status
// reports the debuggee's last thread exiting: treated like termination
// long enough to gather one more batch of requests. A forward resume now
// enters the terminated state; detach or restart are processed normally;
// a reverse resume loops back into the stepping loop as an ordinary
// request.
func (s *Server) handleLastThreadExit() {
	req := s.processDebuggerRequests()
	switch {
	case req.Kind == gdbreq.KindDetach:
		s.conn.ReplyDetach()
		s.detached = true
	case req.IsRestart():
		s.restart(req.Restart)
	case req.Cont.RunDirection == gdbreq.Forward:
		s.enterTerminated()
	default:
		cmd := computeCommand(s.currentTask, req.Cont.Actions)
		result := s.tl.ReplayStep(cmd, req.Cont.RunDirection, s.target.Event, s.conn.SniffPacket)
		s.handleReplayResult(req, result, req.Cont.RunDirection)
	}
}

// enterTerminated notifies the debugger of exit code 0 and marks the
// server terminated; the service loop then runs the dispatcher in
// threads-dead mode until a restart or detach is produced (§4.9).
func (s *Server) enterTerminated() {
	s.terminated = true
	s.conn.NotifyExitCode(0)
}
