package gdbserver

import (
	"github.com/replay-debug/gdbserver/gdbreq"
	"github.com/replay-debug/gdbserver/timeline"
)

// Run is the top-level service loop (§2 component 6, §4.9): it replays
// forward to the initial target event, activates the debugger, and then
// drives the resume/step loop until the connection detaches. A fatal
// invariant violation deeper in the call stack is recovered, logged, and
// re-panicked for the caller (typically main, or the emergency entry point)
// to decide what to do with.
func (s *Server) Run() error {
	defer s.recoverFatal()

	for {
		result := s.tl.ReplayStep(gdbreq.RunContinue, gdbreq.Forward, s.target.Event, nil)
		if result.Status == timeline.ReplayExited {
			s.log.Infof("gdbserver: debugger was not launched before end of trace")
			return nil
		}
		if s.atTarget() {
			break
		}
	}

	s.activateDebugger()

	lastDirection := gdbreq.Forward
	for !s.detached {
		if s.terminated {
			lastDirection = s.runTerminatedLoop()
			continue
		}
		lastDirection = s.debugOneStep(lastDirection)
	}

	s.log.Debugf("gdbserver: debugger server exiting ...")
	return nil
}

// runTerminatedLoop implements handle_exited_state (§4.9): the dispatcher
// keeps running in threads-dead mode until a restart or detach is
// produced; any resume request received after end-of-trace is a programmer
// (or misbehaving-client) error and is fatal.
func (s *Server) runTerminatedLoop() gdbreq.RunDirection {
	req := s.processDebuggerRequests()
	switch {
	case req.Kind == gdbreq.KindDetach:
		s.conn.ReplyDetach()
		s.detached = true
		return gdbreq.Forward
	case req.IsRestart():
		s.restart(req.Restart)
		return gdbreq.Forward
	case req.IsResumeRequest():
		fatalf("gdbserver: resume request received after end of trace")
	}
	return gdbreq.Forward
}
