// Package inputrouter accepts a tagged SessionInput (text or a named
// key) and normalizes it to the byte sequence the PTY expects; callers
// write the result to the session. POST /sessions/:id/input decodes a
// SessionInput, and WS /ws/input decodes frames with DecodeWSFrame.
package inputrouter

import (
	"encoding/json"
	"fmt"
)

// Key is one of the closed named-key set.
type Key string

const (
	KeyEnter      Key = "enter"
	KeyEscape     Key = "escape"
	KeyBackspace  Key = "backspace"
	KeyTab        Key = "tab"
	KeyShiftTab   Key = "shift_tab"
	KeyArrowUp    Key = "arrow_up"
	KeyArrowDown  Key = "arrow_down"
	KeyArrowLeft  Key = "arrow_left"
	KeyArrowRight Key = "arrow_right"
	KeyCtrlEnter  Key = "ctrl_enter"
	KeyShiftEnter Key = "shift_enter"
	KeyPageUp     Key = "page_up"
	KeyPageDown   Key = "page_down"
	KeyHome       Key = "home"
	KeyEnd        Key = "end"
	KeyDelete     Key = "delete"
	KeyF1         Key = "f1"
	KeyF2         Key = "f2"
	KeyF3         Key = "f3"
	KeyF4         Key = "f4"
	KeyF5         Key = "f5"
	KeyF6         Key = "f6"
	KeyF7         Key = "f7"
	KeyF8         Key = "f8"
	KeyF9         Key = "f9"
	KeyF10        Key = "f10"
	KeyF11        Key = "f11"
	KeyF12        Key = "f12"
)

// keySequences maps every named key to its canonical byte sequence.
var keySequences = map[Key]string{
	KeyEnter:      "\r",
	KeyEscape:     "\x1b",
	KeyBackspace:  "\x7f",
	KeyTab:        "\t",
	KeyShiftTab:   "\x1b[Z",
	KeyArrowUp:    "\x1b[A",
	KeyArrowDown:  "\x1b[B",
	KeyArrowRight: "\x1b[C",
	KeyArrowLeft:  "\x1b[D",
	KeyCtrlEnter:  "\n",
	KeyShiftEnter: "\x1b\r",
	KeyPageUp:     "\x1b[5~",
	KeyPageDown:   "\x1b[6~",
	KeyHome:       "\x1b[H",
	KeyEnd:        "\x1b[F",
	KeyDelete:     "\x1b[3~",
	KeyF1:         "\x1bOP",
	KeyF2:         "\x1bOQ",
	KeyF3:         "\x1bOR",
	KeyF4:         "\x1bOS",
	KeyF5:         "\x1b[15~",
	KeyF6:         "\x1b[17~",
	KeyF7:         "\x1b[18~",
	KeyF8:         "\x1b[19~",
	KeyF9:         "\x1b[20~",
	KeyF10:        "\x1b[21~",
	KeyF11:        "\x1b[23~",
	KeyF12:        "\x1b[24~",
}

// IsNamedKey reports whether k belongs to the closed named-key set.
func IsNamedKey(k Key) bool {
	_, ok := keySequences[k]
	return ok
}

// ErrUnknownKey indicates a key name outside the closed set.
var ErrUnknownKey = fmt.Errorf("inputrouter: unknown key name")

// SessionInput is the tagged sum type decoded from a POST /input body:
// exactly one of Text or Key is set.
type SessionInput struct {
	Text string
	Key  Key
}

// UnmarshalJSON decodes either {"text":"..."} or {"key":"..."}.
func (si *SessionInput) UnmarshalJSON(data []byte) error {
	var raw struct {
		Text *string `json:"text"`
		Key  *string `json:"key"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Text != nil {
		si.Text = *raw.Text
		return nil
	}
	if raw.Key != nil {
		si.Key = Key(*raw.Key)
		return nil
	}
	return fmt.Errorf("inputrouter: input must set text or key")
}

// Resolve converts a SessionInput into the literal bytes to write to the
// PTY. A set Key takes precedence and must belong to the named set,
// otherwise ErrUnknownKey is returned; with no Key set, Text is
// delivered verbatim, with no escaping or interpretation.
func (si SessionInput) Resolve() (string, error) {
	if si.Key != "" {
		seq, ok := keySequences[si.Key]
		if !ok {
			return "", ErrUnknownKey
		}
		return seq, nil
	}
	return si.Text, nil
}

// DecodeWSFrame decodes the WebSocket wire format described in spec
// §4.7: the payload is either raw text, or a single special-key name
// wrapped in \x00 bytes. Unknown tokens between null bytes are treated
// as text, not an error. Empty payloads resolve to "", which callers
// must ignore rather than forward.
func DecodeWSFrame(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}
	if payload[0] == 0x00 && len(payload) >= 2 && payload[len(payload)-1] == 0x00 {
		token := string(payload[1 : len(payload)-1])
		if seq, ok := keySequences[Key(token)]; ok {
			return seq, nil
		}
		return token, nil // unknown token between null bytes: treat as text
	}
	return string(payload), nil
}
