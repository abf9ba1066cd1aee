package gdbserver

import (
	"bytes"

	"github.com/replay-debug/gdbserver/debuggee"
	rrlog "github.com/replay-debug/gdbserver/internal/log"
	"github.com/replay-debug/gdbserver/timeline/fake"
)

// newTestServer wires a fresh fake timeline engine (one task group, one
// task, totalEvents long) to a Server through a scripted fakeConn, ready for
// the test to drive ReplayStep/dispatch calls directly or through Run.
func newTestServer(totalEvents int) (*Server, *fake.Engine, *fakeConn) {
	engine := fake.New(42, totalEvents)
	conn := &fakeConn{}
	s := NewServer(conn, engine, rrlog.Nop{}, &bytes.Buffer{}, 42, TargetSpec{})
	s.currentTask = engine.CurrentTaskID()
	return s, engine, conn
}

// taskGroupDebuggee is a convenience constructor for building a second task
// group id distinct from the fake engine's default (42), used by the
// task-group-drift tests in resume_test.go.
func taskGroupDebuggee(tgid, id int) debuggee.TaskID {
	return debuggee.TaskID{TaskGroupID: tgid, ID: id}
}
