package terminal

import (
	"encoding/binary"
	"sync"
	"unicode/utf8"
)

// Cell attribute flags, carried in BufferCell.Flags and the wire encoding's
// attribute byte.
const (
	AttrBold uint8 = 1 << iota
	AttrItalic
	AttrUnderline
	AttrInverse
)

// BufferCell is one character position in a TerminalBuffer: a rune plus its
// foreground/background color and attribute flags.
type BufferCell struct {
	Char  rune
	Fg    uint32 // 0 = default; <=255 palette index; >255 packed RGB
	Bg    uint32
	Flags uint8
}

func (c BufferCell) blank() bool {
	return c.Char == ' ' && c.Fg == 0 && c.Bg == 0 && c.Flags == 0
}

// BufferSnapshot is a point-in-time copy of a session's screen grid, taken
// by Hub.emit (pkg/snapshot) each time a session's feed coalesces a batch of
// journal output into one outbound frame.
type BufferSnapshot struct {
	Cols      int
	Rows      int
	ViewportY int
	CursorX   int
	CursorY   int
	Cells     [][]BufferCell
}

// TerminalBuffer is the screen-grid half of a session's snapshot feed: an
// ANSI-driven virtual terminal that pkg/snapshot replays a session's
// stream.log frames into, so a newly subscribing client can be caught up
// with one binary frame instead of the session's entire output history.
type TerminalBuffer struct {
	mu     sync.RWMutex
	cols   int
	rows   int
	grid   [][]BufferCell
	cursor struct{ x, y int }
	viewY  int
	parser *AnsiParser

	pen struct {
		fg, bg uint32
		flags  uint8
	}
}

// NewTerminalBuffer allocates a blank cols x rows grid and wires an
// AnsiParser to drive it.
func NewTerminalBuffer(cols, rows int) *TerminalBuffer {
	tb := &TerminalBuffer{
		cols:   cols,
		rows:   rows,
		grid:   newGrid(cols, rows),
		parser: NewAnsiParser(),
	}
	tb.parser.OnPrint = tb.handlePrint
	tb.parser.OnExecute = tb.handleExecute
	tb.parser.OnCsi = tb.handleCsi
	tb.parser.OnOsc = tb.handleOsc
	tb.parser.OnEscape = tb.handleEscape
	return tb
}

func newGrid(cols, rows int) [][]BufferCell {
	grid := make([][]BufferCell, rows)
	for y := range grid {
		grid[y] = make([]BufferCell, cols)
		for x := range grid[y] {
			grid[y][x] = BufferCell{Char: ' '}
		}
	}
	return grid
}

// Write feeds data through the ANSI parser, updating cursor and grid state.
func (tb *TerminalBuffer) Write(data []byte) (int, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.parser.Parse(data)
	return len(data), nil
}

// GetSnapshot copies the current grid out. Hub already rate-limits how
// often it calls this (its per-feed coalescing timer), so the snapshot is
// always taken fresh rather than cached against a dirty-line bitmap.
func (tb *TerminalBuffer) GetSnapshot() *BufferSnapshot {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	cells := make([][]BufferCell, tb.rows)
	for y := 0; y < tb.rows; y++ {
		cells[y] = make([]BufferCell, tb.cols)
		copy(cells[y], tb.grid[y])
	}

	return &BufferSnapshot{
		Cols:      tb.cols,
		Rows:      tb.rows,
		ViewportY: tb.viewY,
		CursorX:   tb.cursor.x,
		CursorY:   tb.cursor.y,
		Cells:     cells,
	}
}

// Resize reallocates the grid, preserving the top-left overlap and clamping
// the cursor back into bounds.
func (tb *TerminalBuffer) Resize(cols, rows int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if cols == tb.cols && rows == tb.rows {
		return
	}

	next := newGrid(cols, rows)
	minRows, minCols := rows, cols
	if tb.rows < minRows {
		minRows = tb.rows
	}
	if tb.cols < minCols {
		minCols = tb.cols
	}
	for y := 0; y < minRows; y++ {
		copy(next[y][:minCols], tb.grid[y][:minCols])
	}

	tb.grid = next
	tb.cols = cols
	tb.rows = rows
	if tb.cursor.x >= cols {
		tb.cursor.x = cols - 1
	}
	if tb.cursor.y >= rows {
		tb.cursor.y = rows - 1
	}
}

// SerializeToBinary encodes a snapshot into the wire format pkg/snapshot's
// buildFrame wraps with its multiplex header: a 28-byte dimensions/cursor
// header, then one marker per row (0xfe for an all-blank row, 0xfd followed
// by a trailing-blank-trimmed cell count otherwise), each cell packed by
// encodeCell.
func (snap *BufferSnapshot) SerializeToBinary() []byte {
	size := 28
	rows := make([][]BufferCell, snap.Rows)
	for y := 0; y < snap.Rows; y++ {
		row := snap.rowAt(y)
		rows[y] = row
		if rowBlank(row) {
			size += 2
			continue
		}
		trimmed := trimTrailingBlanks(row)
		rows[y] = trimmed
		size += 3
		for _, cell := range trimmed {
			size += cellSize(cell)
		}
	}

	out := make([]byte, size)
	off := 0
	off += putHeader(out, snap)
	for y := 0; y < snap.Rows; y++ {
		row := rows[y]
		if rowBlank(row) {
			out[off] = 0xfe
			out[off+1] = 1
			off += 2
			continue
		}
		out[off] = 0xfd
		off++
		binary.LittleEndian.PutUint16(out[off:], uint16(len(row)))
		off += 2
		for _, cell := range row {
			off = encodeCell(out, off, cell)
		}
	}
	return out[:off]
}

func (snap *BufferSnapshot) rowAt(y int) []BufferCell {
	if y < len(snap.Cells) && snap.Cells[y] != nil {
		return snap.Cells[y]
	}
	return nil
}

func putHeader(out []byte, snap *BufferSnapshot) int {
	const magic uint16 = 0x5654 // "VT"
	off := 0
	binary.LittleEndian.PutUint16(out[off:], magic)
	off += 2
	out[off] = 0x01 // version
	off++
	out[off] = 0x00 // flags, reserved
	off++
	for _, v := range []int{snap.Cols, snap.Rows, snap.ViewportY, snap.CursorX, snap.CursorY, 0} {
		binary.LittleEndian.PutUint32(out[off:], uint32(v))
		off += 4
	}
	return off
}

func rowBlank(row []BufferCell) bool {
	if len(row) <= 1 {
		return len(row) == 0 || row[0].blank()
	}
	for _, cell := range row {
		if !cell.blank() {
			return false
		}
	}
	return true
}

// trimTrailingBlanks drops trailing blank cells, keeping at least one so an
// empty row still has a cell to anchor the row-length prefix to.
func trimTrailingBlanks(row []BufferCell) []BufferCell {
	last := len(row) - 1
	for last >= 0 && row[last].blank() {
		last--
	}
	if last < 0 {
		return row[:1]
	}
	return row[:last+1]
}

// cellSize returns the number of wire bytes encodeCell will write for cell.
func cellSize(cell BufferCell) int {
	if cell.blank() {
		return 1
	}
	size := 1 // type byte
	if cell.Char > 127 {
		size += 1 + utf8.RuneLen(cell.Char)
	} else if cell.Char != ' ' {
		size++
	}
	if cell.Flags != 0 || cell.Fg != 0 || cell.Bg != 0 {
		size++ // attribute byte
		size += colorSize(cell.Fg)
		size += colorSize(cell.Bg)
	}
	return size
}

func colorSize(c uint32) int {
	switch {
	case c == 0:
		return 0
	case c > 255:
		return 3 // RGB
	default:
		return 1 // palette index
	}
}

// encodeCell writes cell at out[offset:] and returns the new offset. Type
// byte bit layout:
//
//	7: has attribute/color bytes   6: rune is non-ASCII   5: has fg   4: has bg
//	3: fg is RGB (vs palette)      2: bg is RGB            1-0: 00 space / 01 ASCII / 10 unicode
func encodeCell(out []byte, offset int, cell BufferCell) int {
	if cell.blank() {
		out[offset] = 0x00
		return offset + 1
	}

	isASCII := cell.Char <= 127
	hasFg, hasBg := cell.Fg != 0, cell.Bg != 0
	hasExt := cell.Flags != 0 || hasFg || hasBg

	var t byte
	if hasExt {
		t |= 0x80
	}
	switch {
	case !isASCII:
		t |= 0x40 | 0x02
	case cell.Char != ' ':
		t |= 0x01
	}
	if hasFg {
		t |= 0x20
		if cell.Fg > 255 {
			t |= 0x08
		}
	}
	if hasBg {
		t |= 0x10
		if cell.Bg > 255 {
			t |= 0x04
		}
	}
	out[offset] = t
	offset++

	switch {
	case !isASCII:
		buf := make([]byte, 4)
		n := utf8.EncodeRune(buf, cell.Char)
		out[offset] = byte(n)
		offset++
		copy(out[offset:], buf[:n])
		offset += n
	case cell.Char != ' ':
		out[offset] = byte(cell.Char)
		offset++
	}

	if hasExt {
		out[offset] = cell.Flags & 0x0f
		offset++
		offset = encodeColor(out, offset, cell.Fg)
		offset = encodeColor(out, offset, cell.Bg)
	}
	return offset
}

func encodeColor(out []byte, offset int, c uint32) int {
	switch {
	case c == 0:
		return offset
	case c > 255:
		out[offset] = byte(c >> 16)
		out[offset+1] = byte(c >> 8)
		out[offset+2] = byte(c)
		return offset + 3
	default:
		out[offset] = byte(c)
		return offset + 1
	}
}

func (tb *TerminalBuffer) handlePrint(r rune) {
	if tb.cursor.y < tb.rows && tb.cursor.x < tb.cols {
		tb.grid[tb.cursor.y][tb.cursor.x] = BufferCell{Char: r, Fg: tb.pen.fg, Bg: tb.pen.bg, Flags: tb.pen.flags}
	}
	tb.cursor.x++
	if tb.cursor.x >= tb.cols {
		tb.cursor.x = 0
		tb.cursor.y++
		if tb.cursor.y >= tb.rows {
			tb.scrollUp()
			tb.cursor.y = tb.rows - 1
		}
	}
}

func (tb *TerminalBuffer) handleExecute(b byte) {
	switch b {
	case '\r':
		tb.cursor.x = 0
	case '\n':
		tb.cursor.y++
		if tb.cursor.y >= tb.rows {
			tb.scrollUp()
			tb.cursor.y = tb.rows - 1
		}
	case '\b':
		if tb.cursor.x > 0 {
			tb.cursor.x--
		}
	case '\t':
		tb.cursor.x = ((tb.cursor.x / 8) + 1) * 8
		if tb.cursor.x >= tb.cols {
			tb.cursor.x = tb.cols - 1
		}
	}
}

func firstParam(params []int, def int) int {
	if len(params) > 0 && params[0] > 0 {
		return params[0]
	}
	return def
}

func (tb *TerminalBuffer) handleCsi(params []int, intermediate []byte, final byte) {
	switch final {
	case 'A':
		tb.cursor.y = clamp(tb.cursor.y-firstParam(params, 1), 0, tb.rows-1)
	case 'B':
		tb.cursor.y = clamp(tb.cursor.y+firstParam(params, 1), 0, tb.rows-1)
	case 'C':
		tb.cursor.x = clamp(tb.cursor.x+firstParam(params, 1), 0, tb.cols-1)
	case 'D':
		tb.cursor.x = clamp(tb.cursor.x-firstParam(params, 1), 0, tb.cols-1)
	case 'H', 'f':
		row, col := 1, 1
		if len(params) > 0 {
			row = params[0]
		}
		if len(params) > 1 {
			col = params[1]
		}
		tb.cursor.y = clamp(row-1, 0, tb.rows-1)
		tb.cursor.x = clamp(col-1, 0, tb.cols-1)
	case 'J':
		switch firstParam(params, 0) {
		case 0:
			tb.clearFromCursor()
		case 1:
			tb.clearToCursor()
		case 2, 3:
			tb.clearScreen()
		}
	case 'K':
		switch firstParam(params, 0) {
		case 0:
			tb.clearLineFromCursor()
		case 1:
			tb.clearLineToCursor()
		case 2:
			tb.clearLine()
		}
	case 'm':
		tb.handleSGR(params)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (tb *TerminalBuffer) handleSGR(params []int) {
	if len(params) == 0 {
		params = []int{0}
	}
	for i := 0; i < len(params); i++ {
		switch p := params[i]; {
		case p == 0:
			tb.pen.fg, tb.pen.bg, tb.pen.flags = 0, 0, 0
		case p == 1:
			tb.pen.flags |= AttrBold
		case p == 3:
			tb.pen.flags |= AttrItalic
		case p == 4:
			tb.pen.flags |= AttrUnderline
		case p == 7:
			tb.pen.flags |= AttrInverse
		case p == 21 || p == 22:
			tb.pen.flags &^= AttrBold
		case p == 23:
			tb.pen.flags &^= AttrItalic
		case p == 24:
			tb.pen.flags &^= AttrUnderline
		case p == 27:
			tb.pen.flags &^= AttrInverse
		case p == 39:
			tb.pen.fg = 0
		case p == 49:
			tb.pen.bg = 0
		case p >= 30 && p <= 37:
			tb.pen.fg = uint32(p - 30)
		case p >= 40 && p <= 47:
			tb.pen.bg = uint32(p - 40)
		case p == 38 && i+2 < len(params) && params[i+1] == 5:
			tb.pen.fg = uint32(params[i+2])
			i += 2
		case p == 48 && i+2 < len(params) && params[i+1] == 5:
			tb.pen.bg = uint32(params[i+2])
			i += 2
		}
	}
}

// handleOsc is a no-op: OSC sequences, including the OSC-2 titles that
// pkg/titleinject adds to the output stream, do not change the grid.
func (tb *TerminalBuffer) handleOsc(params [][]byte) {}

// handleEscape is a no-op: the parser already strips recognized escape
// sequences before they would otherwise print as literal bytes.
func (tb *TerminalBuffer) handleEscape(intermediate []byte, final byte) {}

func (tb *TerminalBuffer) clearScreen() {
	for y := 0; y < tb.rows; y++ {
		tb.clearRow(y, 0, tb.cols)
	}
}

func (tb *TerminalBuffer) clearFromCursor() {
	tb.clearRow(tb.cursor.y, tb.cursor.x, tb.cols)
	for y := tb.cursor.y + 1; y < tb.rows; y++ {
		tb.clearRow(y, 0, tb.cols)
	}
}

func (tb *TerminalBuffer) clearToCursor() {
	tb.clearRow(tb.cursor.y, 0, tb.cursor.x+1)
	for y := 0; y < tb.cursor.y; y++ {
		tb.clearRow(y, 0, tb.cols)
	}
}

func (tb *TerminalBuffer) clearLine() {
	tb.clearRow(tb.cursor.y, 0, tb.cols)
}

func (tb *TerminalBuffer) clearLineFromCursor() {
	tb.clearRow(tb.cursor.y, tb.cursor.x, tb.cols)
}

func (tb *TerminalBuffer) clearLineToCursor() {
	tb.clearRow(tb.cursor.y, 0, tb.cursor.x+1)
}

func (tb *TerminalBuffer) clearRow(y, from, to int) {
	if to > tb.cols {
		to = tb.cols
	}
	for x := from; x < to; x++ {
		tb.grid[y][x] = BufferCell{Char: ' ', Fg: tb.pen.fg, Bg: tb.pen.bg}
	}
}

// scrollUp shifts every row up by one, recycling the now-vacated top row's
// backing array as the new blank bottom row instead of reallocating.
func (tb *TerminalBuffer) scrollUp() {
	top := tb.grid[0]
	copy(tb.grid, tb.grid[1:])
	for x := range top {
		top[x] = BufferCell{Char: ' ', Fg: tb.pen.fg, Bg: tb.pen.bg}
	}
	tb.grid[tb.rows-1] = top
}
