package gdbserver

import (
	"github.com/replay-debug/gdbserver/debuggee"
	"github.com/replay-debug/gdbserver/timeline"
)

// Signal numbers the stop reporter synthesizes. THE CORE never parses a
// real signal table; these are the only two values it ever fabricates
// itself (everything else is passed through from BreakStatus.Signal).
const (
	sigTrap = 5
	sigKill = 9
)

// isLastThreadExit reports whether bs is the exit of the last remaining
// task in its task group, i.e. the debuggee's last thread exited.
func isLastThreadExit(session debuggee.Session, bs timeline.BreakStatus) bool {
	if !bs.TaskExit || bs.Task == nil {
		return false
	}
	tgid := bs.Task.ID().TaskGroupID
	count := 0
	for id := range session.Tasks() {
		if id.TaskGroupID == tgid {
			count++
		}
	}
	return count == 1
}

// synthesizeStop computes the single signal number and optional watch
// address a BreakStatus reports to the debugger (§4.8). Checked in order,
// later wins: watchpoints, then breakpoint/singlestep, then an explicit
// signal, then (only with reverse execution enabled) a last-thread exit
// synthesized as SIGKILL so the user can run backwards from the end of the
// trace. notify reports whether anything was chosen at all.
func synthesizeStop(session debuggee.Session, bs timeline.BreakStatus, reverseExecution bool) (signal int, watchAddr uint64, notify bool) {
	if len(bs.WatchpointsHit) > 0 {
		signal = sigTrap
		watchAddr = bs.WatchpointsHit[0].Addr
		notify = true
	}
	if bs.BreakpointHit || bs.SinglestepComplete {
		signal = sigTrap
		watchAddr = 0
		notify = true
	}
	if bs.Signal != 0 {
		signal = bs.Signal
		watchAddr = 0
		notify = true
	}
	if isLastThreadExit(session, bs) && reverseExecution {
		signal = sigKill
		watchAddr = 0
		notify = true
	}
	return signal, watchAddr, notify
}

// maybeNotifyStop reports bs to the debugger unless suppressed, per the
// event-step overlay's suppress_debugger_stop flag (§4.3, §4.4).
func (s *Server) maybeNotifyStop(bs timeline.BreakStatus, suppress bool) {
	if suppress {
		return
	}
	signal, watchAddr, notify := synthesizeStop(s.activeSession(), bs, s.conn.Features().ReverseExecution)
	if !notify {
		return
	}
	id := s.currentTask
	if bs.Task != nil {
		id = bs.Task.ID()
	}
	s.conn.NotifyStop(id, signal, watchAddr)
}
