package gdbserver

import "encoding/binary"

// Global back-channel addresses, kept as the single source of truth rather
// than spread across the dispatcher (per the design note in SPEC_FULL.md
// §9). These are part of the observable contract the user macros rely on.
const (
	// magicCommandAddr is the sentinel address a 32-bit write to which
	// carries an out-of-band command: high byte selects the command, low
	// 24 bits are its parameter.
	magicCommandAddr uint64 = 29298
	// magicWhenAddr is the sentinel address an 8-byte read from which
	// returns the current trace-frame event number.
	magicWhenAddr uint64 = magicCommandAddr + 4

	magicCmdCreateCheckpoint uint32 = 0x01
	magicCmdDeleteCheckpoint uint32 = 0x02

	magicCmdMask   uint32 = 0xFF000000
	magicParamMask uint32 = 0x00FFFFFF
)

// tryMagicWrite recognizes a set-mem request targeting magicCommandAddr and
// carries out the corresponding checkpoint create/delete. It returns
// handled=false for any other address/length (including an unrecognized
// command byte, which silently falls through to the normal memory-write
// path per §4.6).
func (s *Server) tryMagicWrite(addr uint64, data []byte) (handled bool) {
	if addr != magicCommandAddr || len(data) != 4 {
		return false
	}
	cmd := binary.LittleEndian.Uint32(data)
	param := cmd & magicParamMask
	switch cmd & magicCmdMask {
	case magicCmdCreateCheckpoint << 24:
		s.createCheckpoint(param)
	case magicCmdDeleteCheckpoint << 24:
		s.deleteCheckpoint(param)
	default:
		return false
	}
	return true
}

// tryMagicRead recognizes a get-mem request targeting magicWhenAddr and
// answers with the little-endian encoding of the current trace-frame event
// number, or -1 if the active session isn't a replay session.
func (s *Server) tryMagicRead(addr uint64, length int) (data []byte, handled bool) {
	if addr != magicWhenAddr || length != 8 {
		return nil, false
	}
	var when int64 = -1
	if !s.activeSession().IsDiversion() {
		when = int64(s.tl.Mark().Event())
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(when))
	return buf, true
}
