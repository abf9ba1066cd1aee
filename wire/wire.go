// Package wire is a concrete gdbreq.Connection built on google/go-dap's
// ReadBaseMessage/WriteProtocolMessage framing. It carries this
// system's own request/reply vocabulary inside DAP's request/response/event
// envelopes rather than real DAP semantics: implementing the actual GDB
// remote serial protocol is a named non-goal, but THE CORE still needs some
// runnable transport underneath it, and go-dap's length-prefixed JSON
// framing is a convenient, already-grounded stand-in.
package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	dap "github.com/google/go-dap"

	rrlog "github.com/replay-debug/gdbserver/internal/log"

	"github.com/replay-debug/gdbserver/debuggee"
	"github.com/replay-debug/gdbserver/gdbreq"
	"github.com/replay-debug/gdbserver/registers"
)

// Command names. These are not real DAP commands; they're this system's
// request kinds carried inside a dap.Request's Command field.
const (
	cmdHello              = "hello"
	cmdQueryThread        = "queryThread"
	cmdGetMem             = "getMem"
	cmdSetMem             = "setMem"
	cmdGetReg             = "getReg"
	cmdGetRegs            = "getRegs"
	cmdSetReg             = "setReg"
	cmdGetAuxv            = "getAuxv"
	cmdSetSWBreak         = "setSWBreak"
	cmdRemoveSWBreak      = "removeSWBreak"
	cmdSetHWBreak         = "setHWBreak"
	cmdRemoveHWBreak      = "removeHWBreak"
	cmdSetRdWatch         = "setRdWatch"
	cmdRemoveRdWatch      = "removeRdWatch"
	cmdSetWrWatch         = "setWrWatch"
	cmdRemoveWrWatch      = "removeWrWatch"
	cmdSetRdwrWatch       = "setRdwrWatch"
	cmdRemoveRdwrWatch    = "removeRdwrWatch"
	cmdGetStopReason      = "getStopReason"
	cmdGetCurrentThread   = "getCurrentThread"
	cmdGetThreadList      = "getThreadList"
	cmdGetOffsets         = "getOffsets"
	cmdGetIsThreadAlive   = "getIsThreadAlive"
	cmdGetThreadExtraInfo = "getThreadExtraInfo"
	cmdReadSiginfo        = "readSiginfo"
	cmdWriteSiginfo       = "writeSiginfo"
	cmdContinue           = "continue"
	cmdRestart            = "restart"
	cmdDetach             = "detach"
	cmdInterrupt          = "interrupt"
)

var commandToKind = map[string]gdbreq.Kind{
	cmdQueryThread:        gdbreq.KindQueryThread,
	cmdGetMem:             gdbreq.KindGetMem,
	cmdSetMem:             gdbreq.KindSetMem,
	cmdGetReg:             gdbreq.KindGetReg,
	cmdGetRegs:            gdbreq.KindGetRegs,
	cmdSetReg:             gdbreq.KindSetReg,
	cmdGetAuxv:            gdbreq.KindGetAuxv,
	cmdSetSWBreak:         gdbreq.KindSetSWBreak,
	cmdRemoveSWBreak:      gdbreq.KindRemoveSWBreak,
	cmdSetHWBreak:         gdbreq.KindSetHWBreak,
	cmdRemoveHWBreak:      gdbreq.KindRemoveHWBreak,
	cmdSetRdWatch:         gdbreq.KindSetRdWatch,
	cmdRemoveRdWatch:      gdbreq.KindRemoveRdWatch,
	cmdSetWrWatch:         gdbreq.KindSetWrWatch,
	cmdRemoveWrWatch:      gdbreq.KindRemoveWrWatch,
	cmdSetRdwrWatch:       gdbreq.KindSetRdwrWatch,
	cmdRemoveRdwrWatch:    gdbreq.KindRemoveRdwrWatch,
	cmdGetStopReason:      gdbreq.KindGetStopReason,
	cmdGetCurrentThread:   gdbreq.KindGetCurrentThread,
	cmdGetThreadList:      gdbreq.KindGetThreadList,
	cmdGetOffsets:         gdbreq.KindGetOffsets,
	cmdGetIsThreadAlive:   gdbreq.KindGetIsThreadAlive,
	cmdGetThreadExtraInfo: gdbreq.KindGetThreadExtraInfo,
	cmdReadSiginfo:        gdbreq.KindReadSiginfo,
	cmdWriteSiginfo:       gdbreq.KindWriteSiginfo,
	cmdContinue:           gdbreq.KindContinue,
	cmdRestart:            gdbreq.KindRestart,
	cmdDetach:             gdbreq.KindDetach,
	cmdInterrupt:          gdbreq.KindInterrupt,
}

type helloArgs struct {
	ReverseExecution bool `json:"reverseExecution"`
}

type memArgs struct {
	Addr uint64 `json:"addr"`
	Len  int    `json:"len"`
	Data []byte `json:"data,omitempty"`
}

type regArgs struct {
	Name    registers.GdbRegister `json:"name"`
	Defined bool                  `json:"defined,omitempty"`
	Value   []byte                `json:"value,omitempty"`
	Size    int                   `json:"size,omitempty"`
}

type watchArgs struct {
	Addr       uint64   `json:"addr"`
	Kind       int      `json:"kind"`
	Conditions [][]byte `json:"conditions,omitempty"`
}

type contActionArgs struct {
	Type   gdbreq.ActionType `json:"type"`
	Target debuggee.TaskID   `json:"target"`
	Signal int               `json:"signal,omitempty"`
}

type contArgs struct {
	Actions      []contActionArgs  `json:"actions"`
	RunDirection gdbreq.RunDirection `json:"direction"`
}

type restartArgs struct {
	Type     gdbreq.RestartType `json:"type"`
	Param    uint32             `json:"param,omitempty"`
	ParamStr string             `json:"paramStr,omitempty"`
}

// request, response, and event mirror dap.Request/Response/Event but add
// back the generic Arguments/Body fields that go-dap's real, fully-typed
// message structs don't carry: this package never speaks real DAP, it only
// reuses dap's length-prefixed JSON framing (ReadBaseMessage/
// WriteProtocolMessage) for its own request/reply vocabulary.
type request struct {
	dap.ProtocolMessage
	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func (r *request) GetSeq() int { return r.Seq }

type response struct {
	dap.ProtocolMessage
	RequestSeq int             `json:"request_seq"`
	Success    bool            `json:"success"`
	Command    string          `json:"command"`
	Message    string          `json:"message,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}

func (r *response) GetSeq() int { return r.Seq }

type event struct {
	dap.ProtocolMessage
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body,omitempty"`
}

func (e *event) GetSeq() int { return e.Seq }

// readRequest reads one length-prefixed JSON frame and decodes it as a
// request; this protocol only ever sends requests from client to server.
func readRequest(r *bufio.Reader) (*request, error) {
	content, err := dap.ReadBaseMessage(r)
	if err != nil {
		return nil, err
	}
	var req request
	if err := json.Unmarshal(content, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// requestArgs is the single envelope carried in every request's
// Arguments field; only the fields relevant to Command are populated.
type requestArgs struct {
	Target               debuggee.TaskID `json:"target"`
	Mem                  *memArgs        `json:"mem,omitempty"`
	Reg                  *regArgs        `json:"reg,omitempty"`
	Watch                *watchArgs      `json:"watch,omitempty"`
	Cont                 *contArgs       `json:"cont,omitempty"`
	Restart              *restartArgs    `json:"restart,omitempty"`
	SuppressDebuggerStop bool            `json:"suppressDebuggerStop,omitempty"`
}

func decodeRequest(msg *request) (gdbreq.Request, error) {
	kind, ok := commandToKind[msg.Command]
	if !ok {
		return gdbreq.Request{}, fmt.Errorf("wire: unknown command %q", msg.Command)
	}

	var a requestArgs
	if len(msg.Arguments) > 0 {
		if err := json.Unmarshal(msg.Arguments, &a); err != nil {
			return gdbreq.Request{}, fmt.Errorf("wire: decode arguments for %q: %w", msg.Command, err)
		}
	}

	req := gdbreq.Request{
		Kind:                 kind,
		Target:               a.Target,
		SuppressDebuggerStop: a.SuppressDebuggerStop,
	}
	if a.Mem != nil {
		req.Mem = gdbreq.MemRequest{Addr: a.Mem.Addr, Len: a.Mem.Len, Data: a.Mem.Data}
	}
	if a.Reg != nil {
		req.Reg = gdbreq.RegRequest{Name: a.Reg.Name, Defined: a.Reg.Defined, Value: a.Reg.Value, Size: a.Reg.Size}
	}
	if a.Watch != nil {
		req.Watch = gdbreq.WatchRequest{Addr: a.Watch.Addr, Kind: a.Watch.Kind, Conditions: a.Watch.Conditions}
	}
	if a.Cont != nil {
		actions := make([]gdbreq.ContAction, len(a.Cont.Actions))
		for i, act := range a.Cont.Actions {
			actions[i] = gdbreq.ContAction{Type: act.Type, Target: act.Target, SignalToDeliver: act.Signal}
		}
		req.Cont = gdbreq.ContinueRequest{Actions: actions, RunDirection: a.Cont.RunDirection}
	}
	if a.Restart != nil {
		req.Restart = gdbreq.RestartRequest{Type: a.Restart.Type, Param: a.Restart.Param, ParamStr: a.Restart.ParamStr}
	}
	return req, nil
}

// Listener accepts connections and hands back a wire.Conn per client,
// mirroring the way the teacher's headless/dap session managers dial out to
// a freshly started dlv process, except here we are the server side.
type Listener struct {
	ln  net.Listener
	log rrlog.Logger
}

// Listen starts listening on addr (e.g. "127.0.0.1:0").
func Listen(addr string, logger rrlog.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("wire: listen %s: %w", addr, err)
	}
	if logger == nil {
		logger = rrlog.Nop{}
	}
	return &Listener{ln: ln, log: logger}, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }
func (l *Listener) Close() error   { return l.ln.Close() }

// Accept blocks for the next client connection, performs the hello
// handshake that establishes Features, and returns a ready-to-use Conn.
func (l *Listener) Accept() (*Conn, error) {
	netConn, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("wire: accept: %w", err)
	}

	c := &Conn{
		netConn: netConn,
		reader:  bufio.NewReader(netConn),
		pending: make(chan gdbreq.Request, 8),
		log:     l.log,
	}

	req, err := readRequest(c.reader)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("wire: handshake read: %w", err)
	}
	if req.Command != cmdHello {
		netConn.Close()
		return nil, fmt.Errorf("wire: expected hello handshake, got %q", req.Command)
	}
	var hello helloArgs
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &hello); err != nil {
			netConn.Close()
			return nil, fmt.Errorf("wire: decode hello: %w", err)
		}
	}
	c.features = gdbreq.Features{ReverseExecution: hello.ReverseExecution}
	c.lastReqSeq, c.lastReqCommand = req.Seq, req.Command
	if err := c.writeResponse(true, "", struct{}{}); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("wire: hello ack: %w", err)
	}

	go c.readLoop()
	return c, nil
}

// Conn is the concrete gdbreq.Connection. Exactly one request is ever
// in flight per connection, matching the strictly synchronous request/reply
// pattern of the protocol this stands in for.
type Conn struct {
	netConn  net.Conn
	reader   *bufio.Reader
	log      rrlog.Logger
	features gdbreq.Features

	writeMu sync.Mutex
	seq     int64

	mu             sync.Mutex
	lastReqSeq     int
	lastReqCommand string

	pending chan gdbreq.Request
	closed  int32
}

var _ gdbreq.Connection = (*Conn)(nil)

func (c *Conn) readLoop() {
	for {
		req, err := readRequest(c.reader)
		if err != nil {
			c.log.Warnf("wire: connection read failed, treating as detach: %v", err)
			atomic.StoreInt32(&c.closed, 1)
			close(c.pending)
			return
		}
		parsed, err := decodeRequest(req)
		if err != nil {
			c.log.Errorf("wire: %v", err)
			continue
		}
		c.mu.Lock()
		c.lastReqSeq, c.lastReqCommand = req.Seq, req.Command
		c.mu.Unlock()
		c.pending <- parsed
	}
}

func (c *Conn) GetRequest() gdbreq.Request {
	req, ok := <-c.pending
	if !ok {
		return gdbreq.Request{Kind: gdbreq.KindDetach}
	}
	return req
}

func (c *Conn) SniffPacket() bool {
	if atomic.LoadInt32(&c.closed) == 1 {
		return true
	}
	return len(c.pending) > 0
}

func (c *Conn) Features() gdbreq.Features { return c.features }

func (c *Conn) nextSeq() int { return int(atomic.AddInt64(&c.seq, 1)) }

func (c *Conn) writeResponse(success bool, message string, body interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("wire: marshal response body: %w", err)
	}
	c.mu.Lock()
	reqSeq, command := c.lastReqSeq, c.lastReqCommand
	c.mu.Unlock()

	resp := &response{
		ProtocolMessage: dap.ProtocolMessage{Seq: c.nextSeq(), Type: "response"},
		RequestSeq:      reqSeq,
		Success:         success,
		Command:         command,
		Message:         message,
		Body:            bodyBytes,
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := dap.WriteProtocolMessage(c.netConn, resp); err != nil {
		return fmt.Errorf("wire: write response: %w", err)
	}
	return nil
}

func (c *Conn) writeEvent(eventName string, body interface{}) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		c.log.Errorf("wire: marshal event %s: %v", eventName, err)
		return
	}
	ev := &event{
		ProtocolMessage: dap.ProtocolMessage{Seq: c.nextSeq(), Type: "event"},
		Event:           eventName,
		Body:            bodyBytes,
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := dap.WriteProtocolMessage(c.netConn, ev); err != nil {
		c.log.Errorf("wire: write event %s: %v", eventName, err)
	}
}

// --- gdbreq.ReplyChannel ---

func (c *Conn) ReplyGetCurrentThread(id debuggee.TaskID) {
	c.writeResponse(true, "", struct {
		Target debuggee.TaskID `json:"target"`
	}{id})
}

func (c *Conn) ReplyGetThreadList(ids []debuggee.TaskID) {
	c.writeResponse(true, "", struct {
		Targets []debuggee.TaskID `json:"targets"`
	}{ids})
}

func (c *Conn) ReplyGetOffsets() {
	c.writeResponse(true, "", struct{}{})
}

func (c *Conn) ReplyGetIsThreadAlive(alive bool) {
	c.writeResponse(true, "", struct {
		Alive bool `json:"alive"`
	}{alive})
}

func (c *Conn) ReplySelectThread(ok bool) {
	c.writeResponse(ok, "", struct{}{})
}

func (c *Conn) ReplyGetThreadExtraInfo(name string) {
	c.writeResponse(true, "", struct {
		Name string `json:"name"`
	}{name})
}

func (c *Conn) ReplyGetAuxv(data []byte) {
	c.writeResponse(true, "", struct {
		Data []byte `json:"data"`
	}{data})
}

func (c *Conn) ReplyGetMem(data []byte) {
	c.writeResponse(true, "", struct {
		Data []byte `json:"data"`
	}{data})
}

func (c *Conn) ReplySetMem(ok bool) {
	c.writeResponse(ok, "", struct{}{})
}

func (c *Conn) ReplyGetReg(value registers.Value) {
	c.writeResponse(true, "", struct {
		Value registers.Value `json:"value"`
	}{value})
}

func (c *Conn) ReplyGetRegs(values []registers.Value) {
	c.writeResponse(true, "", struct {
		Values []registers.Value `json:"values"`
	}{values})
}

func (c *Conn) ReplySetReg(ok bool) {
	c.writeResponse(ok, "", struct{}{})
}

func (c *Conn) ReplyGetStopReason(id debuggee.TaskID, signal int) {
	c.writeResponse(true, "", struct {
		Target debuggee.TaskID `json:"target"`
		Signal int             `json:"signal"`
	}{id, signal})
}

func (c *Conn) ReplyWatchpointRequest(ok bool) {
	c.writeResponse(ok, "", struct{}{})
}

func (c *Conn) ReplyReadSiginfo(data []byte) {
	c.writeResponse(true, "", struct {
		Data []byte `json:"data"`
	}{data})
}

func (c *Conn) ReplyWriteSiginfo() {
	c.writeResponse(true, "", struct{}{})
}

func (c *Conn) ReplyDetach() {
	c.writeResponse(true, "", struct{}{})
}

func (c *Conn) NotifyNoSuchThread() {
	c.writeEvent("noSuchThread", struct{}{})
}

func (c *Conn) NotifyStop(id debuggee.TaskID, signal int, watchAddr uint64) {
	c.writeEvent("stop", struct {
		Target    debuggee.TaskID `json:"target"`
		Signal    int             `json:"signal"`
		WatchAddr uint64          `json:"watchAddr,omitempty"`
	}{id, signal, watchAddr})
}

func (c *Conn) NotifyExitCode(code int) {
	c.writeEvent("exitCode", struct {
		Code int `json:"code"`
	}{code})
}

func (c *Conn) NotifyRestartFailed() {
	c.writeEvent("restartFailed", struct{}{})
}
