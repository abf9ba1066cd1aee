package gdbserver

import (
	"fmt"
	"sort"

	"github.com/replay-debug/gdbserver/debuggee"
	"github.com/replay-debug/gdbserver/gdbreq"
	"github.com/replay-debug/gdbserver/timeline"
)

// createCheckpoint is the back-channel create-checkpoint command (§4.6):
// replacing an existing index first removes its prior mark, so the
// checkpoint map never holds duplicate keys (invariant 4). A no-op when the
// timeline reports it cannot add a checkpoint right now.
func (s *Server) createCheckpoint(index uint32) {
	if !s.tl.CanAddCheckpoint() {
		return
	}
	if old, exists := s.checkpoints[index]; exists {
		s.tl.RemoveExplicitCheckpoint(old)
	}
	s.checkpoints[index] = s.tl.AddExplicitCheckpoint()
}

// deleteCheckpoint removes the mark at index, if any.
func (s *Server) deleteCheckpoint(index uint32) {
	mark, ok := s.checkpoints[index]
	if !ok {
		return
	}
	s.tl.RemoveExplicitCheckpoint(mark)
	delete(s.checkpoints, index)
}

// restart implements the three restart modes (§4.7). All breakpoints and
// watchpoints are removed from the timeline first so the seek is clean;
// the resume loop reinstalls them the next time it runs.
func (s *Server) restart(req gdbreq.RestartRequest) {
	s.terminated = false
	s.tl.RemoveBreakpointsAndWatchpoints()

	var markToRestore timeline.Mark
	switch req.Type {
	case gdbreq.RestartFromCheckpoint:
		mark, ok := s.checkpoints[req.Param]
		if !ok {
			s.reportCheckpointNotFound(req.ParamStr)
			s.conn.NotifyRestartFailed()
			return
		}
		markToRestore = mark
	case gdbreq.RestartFromPrevious:
		markToRestore = s.restartMark
	}

	if markToRestore.Valid() {
		s.tl.SeekToMark(markToRestore)
		if s.restartMark.Valid() {
			s.tl.RemoveExplicitCheckpoint(s.restartMark)
		}
		s.restartMark = markToRestore
		// Re-arm a fresh checkpoint at the restored mark if possible.
		// RESTART_FROM_CHECKPOINT and RESTART_FROM_PREVIOUS both land
		// here, so both re-arm (mirroring the original's single
		// "mark_to_restore" branch covering both cases).
		if s.tl.CanAddCheckpoint() {
			s.tl.AddExplicitCheckpoint()
		}
		return
	}

	// RestartFromEvent: drive a private forward-replay loop, without
	// consulting the debugger, until at_target() or the trace ends.
	s.stopReplayingToTarget = false
	s.target.Event = uint64(req.Param)
	s.tl.SeekToBeforeEvent(s.target.Event)
	for {
		result := s.tl.ReplayStep(gdbreq.RunContinue, gdbreq.Forward, s.target.Event, nil)
		if result.Status == timeline.ReplayExited {
			s.log.Infof("gdbserver: event %d was not reached before end of trace", s.target.Event)
			s.tl.SeekToBeforeEvent(s.target.Event)
			break
		}
		if isLastThreadExit(s.tl.CurrentSession(), result.BreakStatus) && result.BreakStatus.Task.ID().TaskGroupID == s.target.PID {
			break
		}
		if s.atTarget() {
			break
		}
	}
	s.activateDebugger()
}

func (s *Server) reportCheckpointNotFound(paramStr string) {
	indices := make([]int, 0, len(s.checkpoints))
	for idx := range s.checkpoints {
		indices = append(indices, int(idx))
	}
	sort.Ints(indices)
	fmt.Fprintf(s.out, "Checkpoint %s not found.\n", paramStr)
	fmt.Fprint(s.out, "Valid checkpoints:")
	for _, idx := range indices {
		fmt.Fprintf(s.out, " %d", idx)
	}
	fmt.Fprint(s.out, "\n")
}

// atTarget reports whether the replay has reached the point at which the
// debugger should be launched or re-activated: never for rr's initial fork
// child (timeline.CanValidate), never when the timeline can't even host a
// checkpoint, immediately if stopReplayingToTarget is set, and otherwise
// only once the current event strictly exceeds the target and the first
// task's task group matches target.PID (when nonzero). target.RequireExec
// is not consulted: there is no check that the process has exec'd.
func (s *Server) atTarget() bool {
	if !s.tl.CanValidate() {
		return false
	}
	if !s.tl.CanAddCheckpoint() {
		return false
	}
	if s.stopReplayingToTarget {
		return true
	}
	task := s.firstTask()
	if task == nil {
		return false
	}
	mark := s.tl.Mark()
	if mark.Event() <= s.target.Event {
		return false
	}
	if s.target.PID != 0 && task.ID().TaskGroupID != s.target.PID {
		return false
	}
	return true
}

// activateDebugger sets up server state once the trace has reached the
// point at which the debugger attaches or resumes: it checkpoints the
// current mark as the fresh debugger-restart mark, and records the current
// tgid/event as the execution target for any later restart.
func (s *Server) activateDebugger() {
	event := s.tl.Mark().Event()
	if !s.stopReplayingToTarget && (s.target.Event > 0 || s.target.PID != 0) {
		fmt.Fprintf(s.out, "\a\n"+
			"--------------------------------------------------\n"+
			" ---> Reached target process %d at event %d.\n"+
			"--------------------------------------------------\n",
			s.target.PID, event)
	}

	s.restartMark = s.tl.AddExplicitCheckpoint()

	task := s.firstTask()
	if task != nil {
		s.target.PID = task.ID().TaskGroupID
		s.currentTask = task.ID()
	}
	s.target.RequireExec = false
	s.target.Event = event
}

func (s *Server) firstTask() debuggee.Task {
	for _, t := range s.tl.CurrentSession().Tasks() {
		return t
	}
	return nil
}
