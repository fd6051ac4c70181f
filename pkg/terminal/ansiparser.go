package terminal

import "unicode/utf8"

// parserState is a DEC VT500-series parser state, the same state set
// vt10x and most terminal emulators implement (ground/escape/csi/osc).
type parserState int

const (
	stateGround parserState = iota
	stateEscape
	stateEscapeIntermediate
	stateCsiEntry
	stateCsiParam
	stateCsiIntermediate
	stateCsiIgnore
	stateOscString
	stateDcsSkip
)

const maxCsiParams = 16

// AnsiParser is a byte-oriented ANSI/VT100 escape sequence scanner. It
// holds no terminal semantics of its own; callers wire up the On*
// callbacks to interpret printable characters, control codes, CSI/OSC/ESC
// sequences as they see fit.
type AnsiParser struct {
	OnPrint   func(r rune)
	OnExecute func(b byte)
	OnCsi     func(params []int, intermediate []byte, final byte)
	OnOsc     func(params [][]byte)
	OnEscape  func(intermediate []byte, final byte)

	state parserState

	csiParams    []int
	csiHasDigits bool
	csiIntermed  []byte

	escIntermed []byte

	oscBuf       []byte
	oscParams    [][]byte
	oscPendingST bool

	utf8Buf [utf8.UTFMax]byte
	utf8Len int
	utf8Want int
}

// NewAnsiParser returns a parser in the ground state.
func NewAnsiParser() *AnsiParser {
	return &AnsiParser{
		csiParams: make([]int, 0, maxCsiParams),
	}
}

// Parse feeds a chunk of raw PTY output through the state machine,
// invoking callbacks as sequences complete. It may be called repeatedly
// with partial sequences split across calls.
func (p *AnsiParser) Parse(data []byte) {
	for _, b := range data {
		p.step(b)
	}
}

func (p *AnsiParser) step(b byte) {
	// Inside an OSC or DCS string every byte, ESC and C0 controls included,
	// goes to that string's handler. Everywhere else ESC and the other C0
	// controls act the same in every state; a C0 control also abandons a
	// partial UTF-8 sequence.
	if p.state == stateOscString {
		p.stepOsc(b)
		return
	}
	if p.state == stateDcsSkip {
		p.stepDcsSkip(b)
		return
	}

	switch {
	case b == 0x1b: // ESC
		p.resetEscape()
		p.state = stateEscape
		return
	case b < 0x20 || b == 0x7f:
		if p.utf8Want > 0 {
			p.resetUTF8()
		}
		if p.OnExecute != nil {
			p.OnExecute(b)
		}
		return
	}

	switch p.state {
	case stateGround:
		p.stepPrint(b)
	case stateEscape:
		p.stepEscape(b)
	case stateEscapeIntermediate:
		p.stepEscapeIntermediate(b)
	case stateCsiEntry, stateCsiParam:
		p.stepCsi(b)
	case stateCsiIntermediate:
		p.stepCsiIntermediate(b)
	case stateCsiIgnore:
		p.stepCsiIgnore(b)
	case stateDcsSkip:
		p.stepDcsSkip(b)
	}
}

func (p *AnsiParser) resetEscape() {
	p.escIntermed = p.escIntermed[:0]
}

// --- ground: printable text, UTF-8 aware -------------------------------

func (p *AnsiParser) stepPrint(b byte) {
	if b < 0x80 {
		if p.utf8Want > 0 {
			p.resetUTF8() // malformed continuation, drop it
		}
		if p.OnPrint != nil {
			p.OnPrint(rune(b))
		}
		return
	}

	if p.utf8Want == 0 {
		n := utf8RuneLen(b)
		if n == 0 {
			return // invalid lead byte
		}
		p.utf8Buf[0] = b
		p.utf8Len = 1
		p.utf8Want = n
		if p.utf8Want == 1 {
			p.flushUTF8()
		}
		return
	}

	// continuation byte
	if b&0xc0 != 0x80 {
		p.resetUTF8()
		p.stepPrint(b) // reprocess as a fresh lead byte
		return
	}
	p.utf8Buf[p.utf8Len] = b
	p.utf8Len++
	if p.utf8Len >= p.utf8Want {
		p.flushUTF8()
	}
}

func utf8RuneLen(lead byte) int {
	switch {
	case lead&0xe0 == 0xc0:
		return 2
	case lead&0xf0 == 0xe0:
		return 3
	case lead&0xf8 == 0xf0:
		return 4
	default:
		return 0
	}
}

func (p *AnsiParser) flushUTF8() {
	r, size := utf8.DecodeRune(p.utf8Buf[:p.utf8Len])
	if size > 0 && p.OnPrint != nil {
		p.OnPrint(r)
	}
	p.resetUTF8()
}

func (p *AnsiParser) resetUTF8() {
	p.utf8Len = 0
	p.utf8Want = 0
}

// --- ESC sequences ------------------------------------------------------

func (p *AnsiParser) stepEscape(b byte) {
	switch {
	case b == '[':
		p.state = stateCsiEntry
		p.csiParams = p.csiParams[:0]
		p.csiIntermed = p.csiIntermed[:0]
		p.csiHasDigits = false
	case b == ']':
		p.state = stateOscString
		p.oscBuf = p.oscBuf[:0]
		p.oscParams = p.oscParams[:0]
	case b == 'P' || b == 'X' || b == '^' || b == '_':
		p.state = stateDcsSkip
	case b >= 0x20 && b <= 0x2f:
		p.escIntermed = append(p.escIntermed, b)
		p.state = stateEscapeIntermediate
	case b >= 0x30 && b <= 0x7e:
		if p.OnEscape != nil {
			p.OnEscape(p.escIntermed, b)
		}
		p.state = stateGround
	default:
		p.state = stateGround
	}
}

func (p *AnsiParser) stepEscapeIntermediate(b byte) {
	switch {
	case b >= 0x20 && b <= 0x2f:
		p.escIntermed = append(p.escIntermed, b)
	case b >= 0x30 && b <= 0x7e:
		if p.OnEscape != nil {
			p.OnEscape(p.escIntermed, b)
		}
		p.state = stateGround
	default:
		p.state = stateGround
	}
}

// --- CSI: ESC [ params... intermediates... final ------------------------

func (p *AnsiParser) stepCsi(b byte) {
	switch {
	case b >= '0' && b <= '9':
		if !p.csiHasDigits {
			p.csiParams = append(p.csiParams, 0)
			p.csiHasDigits = true
		}
		last := len(p.csiParams) - 1
		p.csiParams[last] = p.csiParams[last]*10 + int(b-'0')
		p.state = stateCsiParam
	case b == ';':
		if !p.csiHasDigits {
			p.csiParams = append(p.csiParams, 0)
		}
		p.csiHasDigits = false
		p.state = stateCsiParam
	case b == ':':
		// sub-parameter separator; treated as a plain separator here
		p.csiHasDigits = false
		p.state = stateCsiParam
	case b >= 0x3c && b <= 0x3f:
		// private-mode marker ('<','=','>','?'): fold into intermediates
		p.csiIntermed = append(p.csiIntermed, b)
	case b >= 0x20 && b <= 0x2f:
		p.csiIntermed = append(p.csiIntermed, b)
		p.state = stateCsiIntermediate
	case b >= 0x40 && b <= 0x7e:
		p.finishCsi(b)
	case b == 0x1b:
		p.state = stateEscape
	default:
		p.state = stateCsiIgnore
	}
}

func (p *AnsiParser) stepCsiIntermediate(b byte) {
	switch {
	case b >= 0x20 && b <= 0x2f:
		p.csiIntermed = append(p.csiIntermed, b)
	case b >= 0x40 && b <= 0x7e:
		p.finishCsi(b)
	default:
		p.state = stateCsiIgnore
	}
}

func (p *AnsiParser) stepCsiIgnore(b byte) {
	if b >= 0x40 && b <= 0x7e {
		p.state = stateGround
	}
}

func (p *AnsiParser) finishCsi(final byte) {
	if p.OnCsi != nil {
		p.OnCsi(p.csiParams, p.csiIntermed, final)
	}
	p.state = stateGround
}

// --- DCS: skipped, bounded by ST (ESC \) or BEL --------------------------

func (p *AnsiParser) stepDcsSkip(b byte) {
	if b == 0x1b {
		p.state = stateEscape
	} else if b == 0x07 {
		p.state = stateGround
	}
}

// --- OSC: ESC ] ... (BEL | ESC \) ----------------------------------------

func (p *AnsiParser) stepOsc(b byte) {
	if p.oscPendingST {
		p.oscPendingST = false
		if b == '\\' {
			p.finishOsc()
			return
		}
		// Not a valid ST: drop the pending ESC and reprocess b as data.
	}
	switch b {
	case 0x07: // BEL terminator
		p.finishOsc()
	case 0x1b:
		p.oscPendingST = true // confirmed by a following '\\' (ST)
	case ';':
		p.oscParams = append(p.oscParams, p.oscBuf)
		p.oscBuf = nil
	default:
		p.oscBuf = append(p.oscBuf, b)
	}
}

func (p *AnsiParser) finishOsc() {
	p.oscParams = append(p.oscParams, p.oscBuf)
	if p.OnOsc != nil {
		p.OnOsc(p.oscParams)
	}
	p.oscBuf = nil
	p.oscParams = nil
	p.state = stateGround
}
