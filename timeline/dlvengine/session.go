package dlvengine

import (
	"github.com/go-delve/delve/service/api"

	"github.com/replay-debug/gdbserver/debuggee"
)

// session adapts the live dlv DebuggerState into debuggee.Session. A dlv
// headless target is single-process, single-thread-group from this
// adapter's point of view, so Tasks() reports exactly one task: whichever
// thread dlv currently considers current.
type session struct {
	engine *Engine
	state  *api.DebuggerState
}

var _ debuggee.Session = (*session)(nil)

func (s *session) Tasks() map[debuggee.TaskID]debuggee.Task {
	id := s.engine.currentTaskID()
	return map[debuggee.TaskID]debuggee.Task{id: &task{engine: s.engine, thread: s.currentThread()}}
}

func (s *session) FindTask(id debuggee.TaskID) (debuggee.Task, bool) {
	if !id.Matches(s.engine.currentTaskID()) {
		return nil, false
	}
	return &task{engine: s.engine, thread: s.currentThread()}, true
}

func (s *session) IsDiversion() bool { return false }

func (s *session) currentThread() *api.Thread {
	if s.state == nil {
		return nil
	}
	return s.state.CurrentThread
}
