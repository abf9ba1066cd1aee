// Package amd64 is a concrete RegisterFile codec for x86-64 targets. It
// translates between the small integer names a remote debugger uses
// (GdbRegister) and an in-process register snapshot.
//
// The register name table is a fixed list in gdb's amd64 order; x86asm is
// used only by DecodeInstructionLength.
package amd64

import (
	"encoding/binary"

	"golang.org/x/arch/x86/x86asm"

	"github.com/replay-debug/gdbserver/registers"
)

// Register names in gdb's amd64 target description order. Index in this
// slice is the GdbRegister value.
var gdbRegisterNames = []string{
	"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp", "rsp",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	"rip", "eflags", "cs", "ss", "ds", "es", "fs", "gs",
	"orig_rax", "fs_base", "gs_base",
}

const (
	RAX registers.GdbRegister = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	RBP
	RSP
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	RIP
	EFLAGS
	CS
	SS
	DS
	ES
	FS
	GS
	OrigRAX
	FSBase
	GSBase

	numGdbRegisters
)

// NumRegisters is how many registers this codec names, used by get-regs to
// know how many Value entries to gather.
const NumRegisters = int(numGdbRegisters)

// Name returns the gdb-facing register name, or "" if reg is out of range.
func Name(reg registers.GdbRegister) string {
	if reg < 0 || int(reg) >= len(gdbRegisterNames) {
		return ""
	}
	return gdbRegisterNames[reg]
}

// Snapshot is a plain-data general-purpose register file: exactly the
// registers a ptrace(PTRACE_GETREGS)-shaped struct would carry. It
// implements registers.WritableFile.
type Snapshot struct {
	Values [numGdbRegisters]uint64
	// Defined allows a snapshot to represent a register file from an
	// architecture variant that doesn't have every register (e.g. no
	// orig_rax in some contexts).
	Defined [numGdbRegisters]bool
}

var _ registers.WritableFile = (*Snapshot)(nil)
var _ registers.Arch = (*Snapshot)(nil)

// NewSnapshot returns a snapshot with every register marked defined and
// zeroed, ready to be filled in by a Task implementation.
func NewSnapshot() *Snapshot {
	s := &Snapshot{}
	for i := range s.Defined {
		s.Defined[i] = true
	}
	return s
}

func (s *Snapshot) ReadRegister(buf []byte, name registers.GdbRegister) (int, bool) {
	if name < 0 || int(name) >= len(s.Values) || !s.Defined[name] {
		return 0, false
	}
	binary.LittleEndian.PutUint64(buf, s.Values[name])
	return 8, true
}

func (s *Snapshot) WriteRegister(name registers.GdbRegister, value []byte, size int) error {
	if name < 0 || int(name) >= len(s.Values) {
		return nil
	}
	var buf [8]byte
	copy(buf[:], value[:min(size, 8)])
	s.Values[name] = binary.LittleEndian.Uint64(buf[:])
	s.Defined[name] = true
	return nil
}

func (s *Snapshot) OrigAXRegister() registers.GdbRegister { return OrigRAX }

// ExtraSnapshot models the "extra" register file (e.g. xmm/segment-base
// extensions) consulted only when the general-purpose file doesn't define
// a register. Kept deliberately small: real vector-register state isn't
// needed by anything in the dispatcher.
type ExtraSnapshot struct {
	Values map[registers.GdbRegister][]byte
}

var _ registers.File = (*ExtraSnapshot)(nil)

func (e *ExtraSnapshot) ReadRegister(buf []byte, name registers.GdbRegister) (int, bool) {
	v, ok := e.Values[name]
	if !ok {
		return 0, false
	}
	n := copy(buf, v)
	return n, true
}

// DecodeInstructionLength returns the length in bytes of the x86-64
// instruction at the front of code. Nothing in this module calls it; the
// event-step overlay's diagnostic line logs only RIP and the tick count.
func DecodeInstructionLength(code []byte) (int, error) {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return 0, err
	}
	return inst.Len, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
