package gdbreq

import (
	"github.com/replay-debug/gdbserver/debuggee"
	"github.com/replay-debug/gdbserver/registers"
)

// Features advertises what the connected debugger supports; today only
// reverse-execution matters to the dispatcher (it gates the last-thread-exit
// SIGKILL synthesis in the stop reporter).
type Features struct {
	ReverseExecution bool
}

// ReplyChannel is a capability object exposing exactly one method per reply
// kind. Dispatcher code must call exactly one of these before returning
// from a single dispatch.
type ReplyChannel interface {
	ReplyGetCurrentThread(id debuggee.TaskID)
	ReplyGetThreadList(ids []debuggee.TaskID)
	ReplyGetOffsets()
	ReplyGetIsThreadAlive(alive bool)
	ReplySelectThread(ok bool)
	ReplyGetThreadExtraInfo(name string)
	ReplyGetAuxv(data []byte)
	ReplyGetMem(data []byte)
	ReplySetMem(ok bool)
	ReplyGetReg(value registers.Value)
	ReplyGetRegs(values []registers.Value)
	ReplySetReg(ok bool)
	ReplyGetStopReason(id debuggee.TaskID, signal int)
	ReplyWatchpointRequest(ok bool)
	ReplyReadSiginfo(data []byte)
	ReplyWriteSiginfo()
	ReplyDetach()

	NotifyNoSuchThread()
	NotifyStop(id debuggee.TaskID, signal int, watchAddr uint64)
	NotifyExitCode(code int)
	NotifyRestartFailed()
}

// Connection is the DebuggerConnection collaborator: framed wire I/O with
// the remote debugger, presenting parsed requests and the typed reply
// methods above. THE CORE never parses or encodes wire bytes itself.
type Connection interface {
	ReplyChannel

	// GetRequest blocks until the next request is available (or the
	// connection closes, in which case it returns a KindDetach request,
	// per the spec's "connection loss is treated identically to detach"
	// rule).
	GetRequest() Request

	// SniffPacket reports, without blocking, whether a new request packet
	// is already waiting to be read. Used as the timeline step's "sniff"
	// hint so a long-running forward continue can still notice an
	// incoming interrupt.
	SniffPacket() bool

	Features() Features
}
