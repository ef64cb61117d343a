package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Writer identifies who produced a turn.
type Writer string

const (
	WriterNarration Writer = "ai"
	WriterUser      Writer = "user"
	WriterIntro     Writer = "intro"
)

var AllWriters = []Writer{WriterNarration, WriterUser, WriterIntro}

func (w Writer) Validate() bool { return contains(AllWriters, w) }

// Sentinel labels for narration produced before gameplay turns begin.
const (
	LabelCrash  = "crash"
	LabelWakeup = "wakeup"
	LabelIntro  = "intro"
)

// TurnLabel is either a numeric turn or a sentinel label. On the wire it is a
// JSON number or string respectively.
type TurnLabel struct {
	Number int
	Label  string
}

func NumberedTurn(n int) TurnLabel   { return TurnLabel{Number: n} }
func LabeledTurn(l string) TurnLabel { return TurnLabel{Label: l} }
func (t TurnLabel) IsSentinel() bool { return t.Label != "" }

func (t TurnLabel) String() string {
	if t.IsSentinel() {
		return t.Label
	}
	return strconv.Itoa(t.Number)
}

// ParseTurnLabel is the inverse of String.
func ParseTurnLabel(s string) TurnLabel {
	if n, err := strconv.Atoi(s); err == nil {
		return NumberedTurn(n)
	}
	return LabeledTurn(s)
}

func (t TurnLabel) MarshalJSON() ([]byte, error) {
	if t.IsSentinel() {
		return json.Marshal(t.Label)
	}
	return json.Marshal(t.Number)
}

func (t *TurnLabel) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		// Saved games sometimes carry numeric turns as strings.
		*t = ParseTurnLabel(s)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("turn label: %w", err)
	}
	*t = TurnLabel{Number: n}
	return nil
}

// Turn is one committed unit of narrative or user input.
type Turn struct {
	Writer Writer    `json:"writer"`
	Text   string    `json:"text"`
	Turn   TurnLabel `json:"turn"`
}
