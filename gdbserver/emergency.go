package gdbserver

import (
	"io"

	"github.com/replay-debug/gdbserver/gdbreq"
	rrlog "github.com/replay-debug/gdbserver/internal/log"
	"github.com/replay-debug/gdbserver/timeline"
)

// NewEmergencyServer constructs a single-shot synchronous debugger server
// for use after a fatal internal error (§2 component 7): the same
// dispatcher, but a narrower feature set. RunEmergency removes every
// timeline breakpoint and watchpoint before serving requests. The
// connection's negotiated features are used unchanged: if the connection
// advertised reverse execution, stop reports still follow that setting.
func NewEmergencyServer(conn gdbreq.Connection, tl timeline.ReplayTimeline, logger rrlog.Logger, out io.Writer, tgid int) *Server {
	return NewServer(conn, tl, logger, out, tgid, TargetSpec{})
}

// RunEmergency drives the emergency server: it skips the initial seek and
// activation (there is no working timeline target to reach — the fatal
// error already happened), and simply gathers and dispatches requests until
// the debugger detaches.
func (s *Server) RunEmergency() error {
	defer s.recoverFatal()

	// Strip every breakpoint and watchpoint the broken session left
	// installed before the debugger starts issuing requests again.
	s.tl.RemoveBreakpointsAndWatchpoints()
	if task := s.firstTask(); task != nil {
		s.currentTask = task.ID()
	}

	for !s.detached {
		req := s.processDebuggerRequests()
		switch {
		case req.Kind == gdbreq.KindDetach:
			s.conn.ReplyDetach()
			s.detached = true
		case req.IsRestart():
			// An emergency session has no meaningful restart target; reply
			// failure and keep serving the current, already-broken state.
			s.conn.NotifyRestartFailed()
		case req.IsResumeRequest():
			s.conn.NotifyNoSuchThread()
		}
	}
	return nil
}
