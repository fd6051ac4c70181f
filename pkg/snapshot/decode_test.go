package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vibetunnel/vtd/pkg/terminal"
)

func TestStreamDecoderSkipsHeaderLine(t *testing.T) {
	buf := terminal.NewTerminalBuffer(80, 24)
	d := newStreamDecoder(buf)

	d.feed([]byte(`{"version":2,"width":80,"height":24,"timestamp":0}` + "\n"))
	d.feed([]byte(`[0.1,"o","hi"]` + "\n"))

	snap := buf.GetSnapshot()
	assert.Equal(t, 'h', snap.Cells[0][0].Char)
	assert.Equal(t, 'i', snap.Cells[0][1].Char)
}

func TestStreamDecoderHandlesSplitLines(t *testing.T) {
	buf := terminal.NewTerminalBuffer(80, 24)
	d := newStreamDecoder(buf)

	d.feed([]byte(`{"version":2}` + "\n" + `[0.1,"o","a`))
	d.feed([]byte(`bc"]` + "\n"))

	snap := buf.GetSnapshot()
	assert.Equal(t, 'a', snap.Cells[0][0].Char)
	assert.Equal(t, 'b', snap.Cells[0][1].Char)
	assert.Equal(t, 'c', snap.Cells[0][2].Char)
}

func TestStreamDecoderResizeFrame(t *testing.T) {
	buf := terminal.NewTerminalBuffer(80, 24)
	d := newStreamDecoder(buf)

	d.feed([]byte(`{"version":2}` + "\n" + `[0.1,"r","120x40"]` + "\n"))

	snap := buf.GetSnapshot()
	assert.Equal(t, 120, snap.Cols)
	assert.Equal(t, 40, snap.Rows)
}

func TestStreamDecoderIgnoresMalformedLines(t *testing.T) {
	buf := terminal.NewTerminalBuffer(80, 24)
	d := newStreamDecoder(buf)

	d.feed([]byte(`{"version":2}` + "\n" + `not json` + "\n" + `[0.1,"o","ok"]` + "\n"))

	snap := buf.GetSnapshot()
	assert.Equal(t, 'o', snap.Cells[0][0].Char)
	assert.Equal(t, 'k', snap.Cells[0][1].Char)
}

func TestStreamDecoderIgnoresBlankLines(t *testing.T) {
	buf := terminal.NewTerminalBuffer(80, 24)
	d := newStreamDecoder(buf)

	d.feed([]byte("\n\n" + `[0.1,"o","x"]` + "\n"))

	// The first non-blank line is consumed as the header, per processLine.
	snap := buf.GetSnapshot()
	assert.NotEqual(t, 'x', snap.Cells[0][0].Char)
}
