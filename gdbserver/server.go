// Package gdbserver is THE CORE: the debugger-facing control layer that
// mediates between a remote debugger connection (gdbreq.Connection) and a
// replay timeline (timeline.ReplayTimeline). It translates debugger
// requests into timeline operations, manages diversion sessions for
// inferior function calls, maintains checkpoints, and implements restart.
//
// THE CORE never parses wire bytes and never steps more than one task;
// those are named non-goals left to package wire and to the timeline
// collaborator respectively.
package gdbserver

import (
	"fmt"
	"io"
	"runtime/debug"

	"github.com/replay-debug/gdbserver/debuggee"
	"github.com/replay-debug/gdbserver/gdbreq"
	rrlog "github.com/replay-debug/gdbserver/internal/log"
	"github.com/replay-debug/gdbserver/timeline"
)

// TargetSpec mirrors the Target entity: the recorded-trace point the user
// wants the debugger attached to.
type TargetSpec struct {
	PID         int
	Event       uint64
	RequireExec bool
}

// Server is THE CORE. One Server serves exactly one debugger connection
// against exactly one timeline; it is not safe for concurrent use from more
// than the single cooperative thread of control described in §5.
type Server struct {
	conn gdbreq.Connection
	tl   timeline.ReplayTimeline
	log  rrlog.Logger
	// out is the user-visible channel for the activation banner and the
	// restart-failure text, matching rr's own fprintf(stderr, ...) banners.
	out io.Writer

	debuggeeTaskGroupID int
	target              TargetSpec
	currentTask         debuggee.TaskID

	checkpoints map[uint32]timeline.Mark
	restartMark timeline.Mark

	diversion *diversionState

	// traceInstructionsUpToEvent configures the event-step overlay (§4.4):
	// when set, every forward resume is rewritten into a suppressed
	// singlestep with a diagnostic dump, instead of reaching the timeline
	// directly. Independent of the restart-from-event path.
	traceInstructionsUpToEvent bool
	tick                       int

	// stopReplayingToTarget short-circuits atTarget(): true until a
	// restart-from-event clears it, mirroring the original's
	// stop_replaying_to_target flag.
	stopReplayingToTarget bool

	// pendingRequest holds a request already read off the connection that
	// the lazy reverse-singlestep fast path (§4.5) peeked at but could not
	// service itself; the next call to nextRequest drains it instead of
	// blocking on the connection again.
	pendingRequest *gdbreq.Request

	// terminated is true once the timeline has reported REPLAY_EXITED, or
	// once the debugger asks to resume forward after the debuggee's last
	// thread has exited under forward execution; cleared again by a successful restart. detached is true once the
	// debugger has asked to detach and been acknowledged; once set, the
	// service loop returns instead of waiting for further requests.
	terminated bool
	detached   bool
}

// NewServer constructs a Server for one accepted debugger connection, ready
// to run once Run is called. tgid is the debuggee task group id
// captured at attach time; it is immutable for the life of the session.
func NewServer(conn gdbreq.Connection, tl timeline.ReplayTimeline, logger rrlog.Logger, out io.Writer, tgid int, target TargetSpec) *Server {
	return &Server{
		conn:                  conn,
		tl:                    tl,
		log:                   logger,
		out:                   out,
		debuggeeTaskGroupID:   tgid,
		target:                target,
		checkpoints:           make(map[uint32]timeline.Mark),
		stopReplayingToTarget: true,
	}
}

// fatalError is the panic value internal invariant violations raise;
// recovered only at the service-loop and emergency-entry boundaries.
type fatalError struct{ msg string }

func (e fatalError) Error() string { return e.msg }

func fatalf(format string, args ...interface{}) {
	panic(fatalError{msg: fmt.Sprintf(format, args...)})
}

// recoverFatal is deferred at every externally-callable entry point so a
// fatalf deeper in the call stack surfaces as a logged panic instead of
// taking the whole host process down silently.
func (s *Server) recoverFatal() {
	if r := recover(); r != nil {
		if _, ok := r.(fatalError); ok {
			debug.PrintStack()
		}
		panic(r)
	}
}

// resolveTarget applies the RequestTarget matching rules (§3): a zero-ish
// field means "any", and an empty target means "the current task".
func (s *Server) resolveTarget(target debuggee.TaskID) (debuggee.Task, bool) {
	if target == (debuggee.TaskID{}) {
		target = s.currentTask
	}
	session := s.activeSession()
	for id, task := range session.Tasks() {
		if id.Matches(target) {
			return task, true
		}
	}
	return nil, false
}

// activeSession returns the diversion session if one is active, otherwise
// the timeline's canonical session.
func (s *Server) activeSession() debuggee.Session {
	if s.diversion != nil {
		return s.diversion.session
	}
	return s.tl.CurrentSession()
}

// currentTaskOrFatal resolves s.currentTask against the active session,
// re-resolving it fresh every call since tasks can be recreated across
// timeline steps (per the cyclic-reference design note in SPEC_FULL.md §9).
func (s *Server) currentTaskOrFatal() debuggee.Task {
	task, ok := s.resolveTarget(s.currentTask)
	if !ok {
		fatalf("gdbserver: current task %+v no longer resolves", s.currentTask)
	}
	return task
}
