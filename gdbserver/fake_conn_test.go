package gdbserver

import (
	"github.com/replay-debug/gdbserver/debuggee"
	"github.com/replay-debug/gdbserver/gdbreq"
	"github.com/replay-debug/gdbserver/registers"
)

// reply is one recorded call to a fakeConn's ReplyChannel/notify method,
// captured generically so tests can assert on the sequence and contents of
// replies without a method per case.
type reply struct {
	kind string
	args []interface{}
}

// fakeConn is a scripted, in-memory gdbreq.Connection: requests are queued
// up front (or appended mid-test for scenarios that react to a reply), and
// every reply is recorded in order for assertions.
type fakeConn struct {
	requests        []gdbreq.Request
	replies         []reply
	features        gdbreq.Features
	getRequestCalls int
}

var _ gdbreq.Connection = (*fakeConn)(nil)

func newFakeConn(reqs ...gdbreq.Request) *fakeConn {
	return &fakeConn{requests: reqs}
}

func (c *fakeConn) push(req gdbreq.Request) { c.requests = append(c.requests, req) }

func (c *fakeConn) record(kind string, args ...interface{}) {
	c.replies = append(c.replies, reply{kind: kind, args: args})
}

// last returns the most recently recorded reply of kind, or false if none.
func (c *fakeConn) last(kind string) (reply, bool) {
	for i := len(c.replies) - 1; i >= 0; i-- {
		if c.replies[i].kind == kind {
			return c.replies[i], true
		}
	}
	return reply{}, false
}

func (c *fakeConn) count(kind string) int {
	n := 0
	for _, r := range c.replies {
		if r.kind == kind {
			n++
		}
	}
	return n
}

func (c *fakeConn) GetRequest() gdbreq.Request {
	c.getRequestCalls++
	if len(c.requests) == 0 {
		return gdbreq.Request{Kind: gdbreq.KindDetach}
	}
	req := c.requests[0]
	c.requests = c.requests[1:]
	return req
}

func (c *fakeConn) SniffPacket() bool       { return false }
func (c *fakeConn) Features() gdbreq.Features { return c.features }

func (c *fakeConn) ReplyGetCurrentThread(id debuggee.TaskID) { c.record("GetCurrentThread", id) }
func (c *fakeConn) ReplyGetThreadList(ids []debuggee.TaskID) { c.record("GetThreadList", ids) }
func (c *fakeConn) ReplyGetOffsets()                         { c.record("GetOffsets") }
func (c *fakeConn) ReplyGetIsThreadAlive(alive bool)         { c.record("GetIsThreadAlive", alive) }
func (c *fakeConn) ReplySelectThread(ok bool)                { c.record("SelectThread", ok) }
func (c *fakeConn) ReplyGetThreadExtraInfo(name string)      { c.record("GetThreadExtraInfo", name) }
func (c *fakeConn) ReplyGetAuxv(data []byte)                 { c.record("GetAuxv", data) }
func (c *fakeConn) ReplyGetMem(data []byte)                  { c.record("GetMem", data) }
func (c *fakeConn) ReplySetMem(ok bool)                      { c.record("SetMem", ok) }
func (c *fakeConn) ReplyGetReg(value registers.Value)        { c.record("GetReg", value) }
func (c *fakeConn) ReplyGetRegs(values []registers.Value)    { c.record("GetRegs", values) }
func (c *fakeConn) ReplySetReg(ok bool)                      { c.record("SetReg", ok) }
func (c *fakeConn) ReplyGetStopReason(id debuggee.TaskID, signal int) {
	c.record("GetStopReason", id, signal)
}
func (c *fakeConn) ReplyWatchpointRequest(ok bool) { c.record("WatchpointRequest", ok) }
func (c *fakeConn) ReplyReadSiginfo(data []byte)   { c.record("ReadSiginfo", data) }
func (c *fakeConn) ReplyWriteSiginfo()             { c.record("WriteSiginfo") }
func (c *fakeConn) ReplyDetach()                   { c.record("Detach") }

func (c *fakeConn) NotifyNoSuchThread()        { c.record("NoSuchThread") }
func (c *fakeConn) NotifyStop(id debuggee.TaskID, signal int, watchAddr uint64) {
	c.record("Stop", id, signal, watchAddr)
}
func (c *fakeConn) NotifyExitCode(code int)  { c.record("ExitCode", code) }
func (c *fakeConn) NotifyRestartFailed()     { c.record("RestartFailed") }
