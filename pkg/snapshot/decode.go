package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vibetunnel/vtd/pkg/terminal"
)

// streamDecoder turns the raw stream.log byte stream (asciinema v2 header
// line, then "[t,kind,data]" frame lines) back into buffer writes and
// resize calls, one line at a time, tolerating lines split across feeds.
type streamDecoder struct {
	buf        *terminal.TerminalBuffer
	pending    []byte
	sawHeader  bool
}

func newStreamDecoder(buf *terminal.TerminalBuffer) *streamDecoder {
	return &streamDecoder{buf: buf}
}

// feed appends chunk and processes every complete line found.
func (d *streamDecoder) feed(chunk []byte) {
	d.pending = append(d.pending, chunk...)
	for {
		idx := bytes.IndexByte(d.pending, '\n')
		if idx < 0 {
			return
		}
		line := d.pending[:idx]
		d.pending = d.pending[idx+1:]
		d.processLine(line)
	}
}

func (d *streamDecoder) processLine(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	if !d.sawHeader {
		d.sawHeader = true
		return // the asciinema header line carries no buffer content
	}

	var frame []json.RawMessage
	if err := json.Unmarshal(line, &frame); err != nil || len(frame) != 3 {
		return
	}
	var kind string
	if err := json.Unmarshal(frame[1], &kind); err != nil {
		return
	}

	switch kind {
	case "o":
		var text string
		if err := json.Unmarshal(frame[2], &text); err != nil {
			return
		}
		d.buf.Write([]byte(text))
	case "r":
		var dims string
		if err := json.Unmarshal(frame[2], &dims); err != nil {
			return
		}
		var cols, rows int
		if _, err := fmt.Sscanf(dims, "%dx%d", &cols, &rows); err == nil && cols > 0 && rows > 0 {
			d.buf.Resize(cols, rows)
		}
	}
}
