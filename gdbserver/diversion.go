package gdbserver

import (
	"github.com/google/uuid"

	"github.com/replay-debug/gdbserver/gdbreq"
	"github.com/replay-debug/gdbserver/timeline"
)

// diversionState tracks an in-progress inferior-function-call bracket
// (§4.2): a mutable clone of the replay session that can be written to
// without perturbing the recorded timeline. READ_SIGINFO/WRITE_SIGINFO
// raise and lower refcount; the diversion ends at the first resume request
// that arrives once refcount is zero or below, or at a RESTART/DETACH. id is a
// log-correlation tag only, not a lookup key: there is never more than one
// diversion alive on a Server at a time.
type diversionState struct {
	id       uuid.UUID
	session  timeline.DiversionSession
	refcount int
}

// enterDiversion clones the current replay session and starts a diversion
// bracket at refcount 1. Timeline breakpoints and watchpoints are applied to
// the replay session first, so the clone is taken with them installed.
func (s *Server) enterDiversion() {
	s.tl.ApplyBreakpointsAndWatchpoints()
	s.diversion = &diversionState{
		id:       uuid.New(),
		session:  s.tl.CloneDiversion(),
		refcount: 1,
	}
	s.log.Debugf("gdbserver: entering diversion %s", s.diversion.id)
}

// exitDiversion tears down the active diversion: kills all its tasks and
// clears the field. Called when a resume request arrives with refcount
// already at zero or below, or when RESTART/DETACH aborts the bracket
// early regardless of refcount.
func (s *Server) exitDiversion() {
	if s.diversion == nil {
		return
	}
	s.log.Debugf("gdbserver: exiting diversion %s", s.diversion.id)
	s.diversion.session.KillAllTasks()
	s.diversion = nil
}

// runDiversionLoop drives the diversion manager's own request loop (§4.2)
// until the bracket ends. It returns the resume request that finally ended
// the diversion (once refcount has reached zero or below) or an abort
// request (RESTART/DETACH, which end the bracket regardless of refcount),
// for the outer loop to process against the replay session. A zero-value
// Request (Kind == KindNone) means the loop ran out of things to report
// and the caller should keep gathering.
func (s *Server) runDiversionLoop(entry gdbreq.Request) gdbreq.Request {
	s.enterDiversion()
	// entry is the READ_SIGINFO that triggered entry; enterDiversion already
	// seeded the refcount at 1 for it, so it's answered directly rather than
	// re-entering the switch below (which would double-count it).
	s.conn.ReplyReadSiginfo(make([]byte, entry.Mem.Len))

	for {
		req := s.conn.GetRequest()
		switch req.Kind {
		case gdbreq.KindReadSiginfo:
			s.diversion.refcount++
			s.conn.ReplyReadSiginfo(make([]byte, req.Mem.Len))

		case gdbreq.KindWriteSiginfo:
			s.diversion.refcount--
			s.conn.ReplyWriteSiginfo()
			// Reaching zero only slates the diversion to end; it keeps
			// servicing requests against the diversion session (including a
			// further READ_SIGINFO pushing refcount back above zero) until
			// the next resume request actually tears it down, below.

		case gdbreq.KindRestart, gdbreq.KindDetach:
			s.exitDiversion()
			return req

		case gdbreq.KindQueryThread:
			if task, ok := s.resolveTarget(req.Target); ok {
				s.currentTask = task.ID()
				s.conn.ReplySelectThread(true)
			} else {
				s.conn.ReplySelectThread(false)
			}

		case gdbreq.KindContinue:
			if s.diversion.refcount <= 0 {
				s.exitDiversion()
				return req
			}
			if req.Cont.RunDirection == gdbreq.Backward {
				s.conn.NotifyStop(s.currentTask, sigTrap, 0)
			} else {
				s.stepDiversion(req)
				if s.diversion == nil {
					return gdbreq.Request{Kind: gdbreq.KindNone}
				}
			}

		default:
			s.dispatch(s.diversion.session, req)
		}
	}
}

// stepDiversion converts a forward resume into a single diversion step
// against the current task, reporting the resulting BreakStatus or ending
// the diversion outright if the step reports DiversionExited.
func (s *Server) stepDiversion(req gdbreq.Request) {
	task, ok := s.resolveTarget(s.currentTask)
	if !ok {
		s.conn.NotifyNoSuchThread()
		return
	}
	cmd := gdbreq.RunContinue
	signal := 0
	for _, a := range req.Cont.Actions {
		if task.ID().Matches(a.Target) {
			if a.Type == gdbreq.ActionStep {
				cmd = gdbreq.RunSinglestep
			}
			signal = a.SignalToDeliver
			break
		}
	}

	result := s.diversion.session.Step(task, cmd, signal)
	if result.Status == timeline.DiversionExited {
		s.exitDiversion()
		return
	}
	s.maybeNotifyStop(result.BreakStatus, req.SuppressDebuggerStop)
}
