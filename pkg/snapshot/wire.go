// Package snapshot is the buffer-snapshot plane: a single WebSocket
// multiplexing per-session binary snapshot frames, each session backed by
// an xterm-compatible TerminalBuffer fed from its journal.
package snapshot

import "encoding/binary"

// frameMagic is the one-byte marker identifying a multiplexed snapshot
// frame on the shared WebSocket.
const frameMagic byte = 0xBF

// buildFrame wraps a session-local encoded BufferSnapshot (produced by
// terminal.BufferSnapshot.SerializeToBinary) with the multiplex header:
// 1 magic byte, 4-byte little-endian session-id length, session id bytes.
func buildFrame(sessionID string, payload []byte) []byte {
	idBytes := []byte(sessionID)
	out := make([]byte, 0, 1+4+len(idBytes)+len(payload))
	out = append(out, frameMagic)
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(idBytes)))
	out = append(out, lenBuf...)
	out = append(out, idBytes...)
	out = append(out, payload...)
	return out
}
