// Package gdbreq is the wire-independent request/reply vocabulary THE CORE
// speaks: a tagged Request variant, the per-thread continue actions a
// resume request carries, restart parameters, breakpoint conditions, and
// the Connection/ReplyChannel capability interfaces a concrete transport
// must implement. Nothing in this package parses or encodes wire bytes;
// that's the named non-goal left to package wire.
package gdbreq

import (
	"github.com/replay-debug/gdbserver/debuggee"
	"github.com/replay-debug/gdbserver/registers"
)

// Kind discriminates the Request variant.
type Kind int

const (
	KindNone Kind = iota
	KindQueryThread // DREQ_SET_CONTINUE_THREAD / DREQ_SET_QUERY_THREAD
	KindGetMem
	KindSetMem
	KindGetReg
	KindGetRegs
	KindSetReg
	KindGetAuxv
	KindSetSWBreak
	KindRemoveSWBreak
	KindSetHWBreak
	KindRemoveHWBreak
	KindSetRdWatch
	KindRemoveRdWatch
	KindSetWrWatch
	KindRemoveWrWatch
	KindSetRdwrWatch
	KindRemoveRdwrWatch
	KindGetStopReason
	KindGetCurrentThread
	KindGetThreadList
	KindGetOffsets
	KindGetIsThreadAlive
	KindGetThreadExtraInfo
	KindReadSiginfo
	KindWriteSiginfo
	KindContinue
	KindRestart
	KindDetach
	KindInterrupt
)

// RunDirection is the direction a continue/step request wants the timeline
// to move.
type RunDirection int

const (
	Forward RunDirection = iota
	Backward
)

// RunCommand is what a single task should do for one timeline step.
type RunCommand int

const (
	RunContinue RunCommand = iota
	RunSinglestep
)

// ActionType is the kind of per-thread action carried by a continue
// request.
type ActionType int

const (
	ActionContinue ActionType = iota
	ActionStep
)

// ContAction is one thread's requested action within a continue request.
type ContAction struct {
	Type            ActionType
	Target          debuggee.TaskID
	SignalToDeliver int
}

// ContinueRequest is the payload of a KindContinue request.
type ContinueRequest struct {
	Actions      []ContAction
	RunDirection RunDirection
}

// RestartType selects one of the three restart modes.
type RestartType int

const (
	RestartFromEvent RestartType = iota
	RestartFromCheckpoint
	RestartFromPrevious
)

// RestartRequest is the payload of a KindRestart request.
type RestartRequest struct {
	Type RestartType
	// Param is the checkpoint index (RestartFromCheckpoint) or target
	// event number (RestartFromEvent); unused for RestartFromPrevious.
	Param uint32
	// ParamStr is the user's original textual parameter, used only when
	// reporting a checkpoint-not-found failure back to the user channel.
	ParamStr string
}

// MemRequest is the payload of get-mem/set-mem requests.
type MemRequest struct {
	Addr uint64
	Len  int
	Data []byte
}

// RegRequest is the payload of get-reg/set-reg requests.
type RegRequest struct {
	Name    registers.GdbRegister
	Defined bool
	Value   []byte
	Size    int
}

// WatchRequest is the payload of the breakpoint/watchpoint family.
type WatchRequest struct {
	Addr       uint64
	Kind       int
	Conditions [][]byte
}

// Request is the single tagged variant every dispatcher branch switches on.
type Request struct {
	Kind   Kind
	Target debuggee.TaskID

	Mem     MemRequest
	Reg     RegRequest
	Watch   WatchRequest
	Cont    ContinueRequest
	Restart RestartRequest

	// SuppressDebuggerStop is set by the event-step overlay (§4.4) to
	// prevent a stop notification for an internally-synthesized
	// singlestep.
	SuppressDebuggerStop bool
}

// IsResumeRequest reports whether this request exits the dispatcher and
// must be handled by the resume/step loop instead.
func (r Request) IsResumeRequest() bool { return r.Kind == KindContinue }

// IsRestart reports whether this is a restart request.
func (r Request) IsRestart() bool { return r.Kind == KindRestart }

// BreakpointCondition is polymorphic over the single capability the
// dispatcher needs: deciding whether a hit should actually fire. The
// concrete variant wraps a list of compiled bytecode expressions with
// any-nonzero-fires semantics; an empty condition list always fires.
type BreakpointCondition interface {
	Evaluate(t debuggee.Task) bool
}

// Expression is one compiled, opaque bytecoded condition expression.
// Evaluate returns the integer result and whether evaluation succeeded; a
// failed evaluation counts as "fires" per spec, exactly like a nonzero
// result.
type Expression interface {
	Evaluate(t debuggee.Task) (value int64, ok bool)
}

// expressionCondition implements BreakpointCondition over a list of
// Expressions: it fires when any expression fails to evaluate or evaluates
// to a nonzero value, and is suppressed only when every expression
// evaluates successfully to zero.
type expressionCondition struct {
	expressions []Expression
}

// NewCondition compiles a list of expressions into a BreakpointCondition.
// An empty list means "always fire", modeled here by returning nil: callers
// must treat a nil BreakpointCondition as always-fire.
func NewCondition(exprs []Expression) BreakpointCondition {
	if len(exprs) == 0 {
		return nil
	}
	return &expressionCondition{expressions: exprs}
}

func (c *expressionCondition) Evaluate(t debuggee.Task) bool {
	for _, e := range c.expressions {
		v, ok := e.Evaluate(t)
		if !ok || v != 0 {
			return true
		}
	}
	return false
}
