package session

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestHistoryRemoveLastOnlyAfterPending(t *testing.T) {
	h := NewHistory()
	if _, err := h.RemoveLast(); !errors.Is(err, ErrNothingToRevoke) {
		t.Fatalf("empty history: expected ErrNothingToRevoke, got %v", err)
	}
	h.Append(Turn{Writer: WriterNarration, Text: "Arr", Turn: LabeledTurn(LabelCrash)})
	if _, err := h.RemoveLast(); !errors.Is(err, ErrNothingToRevoke) {
		t.Fatal("committed turn must not be removable")
	}
	h.AppendPending(Turn{Writer: WriterUser, Text: "go", Turn: NumberedTurn(1)})
	got, err := h.RemoveLast()
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "go" || h.Len() != 1 {
		t.Fatalf("removed %+v, len=%d", got, h.Len())
	}
	if _, err := h.RemoveLast(); err == nil {
		t.Fatal("second RemoveLast must fail")
	}
}

func TestHistoryAppendClearsPending(t *testing.T) {
	h := NewHistory()
	h.AppendPending(Turn{Writer: WriterUser, Text: "go", Turn: NumberedTurn(1)})
	h.Append(Turn{Writer: WriterNarration, Text: "ok", Turn: NumberedTurn(1)})
	if _, err := h.RemoveLast(); err == nil {
		t.Fatal("RemoveLast after a later Append must fail")
	}
}

func TestHistoryTurnsIsACopy(t *testing.T) {
	h := NewHistory(Turn{Writer: WriterNarration, Text: "a"})
	ts := h.Turns()
	ts[0].Text = "mutated"
	if last, _ := h.Last(); last.Text != "a" {
		t.Fatal("Turns must not alias internal storage")
	}
}

func TestTurnLabelJSON(t *testing.T) {
	var turns []Turn
	in := `[{"writer":"ai","text":"x","turn":"crash"},{"writer":"user","text":"y","turn":4},{"writer":"ai","text":"z","turn":"5"}]`
	if err := json.Unmarshal([]byte(in), &turns); err != nil {
		t.Fatal(err)
	}
	if !turns[0].Turn.IsSentinel() || turns[0].Turn.Label != LabelCrash {
		t.Fatalf("crash label: %+v", turns[0].Turn)
	}
	if turns[1].Turn != NumberedTurn(4) || turns[2].Turn != NumberedTurn(5) {
		t.Fatalf("numeric labels: %+v %+v", turns[1].Turn, turns[2].Turn)
	}
	out, err := json.Marshal(turns[:2])
	if err != nil {
		t.Fatal(err)
	}
	want := `[{"writer":"ai","text":"x","turn":"crash"},{"writer":"user","text":"y","turn":4}]`
	if string(out) != want {
		t.Fatalf("marshal = %s", out)
	}
}

func TestBufferClearResetsScrollCounter(t *testing.T) {
	var b Buffer
	b.Append("The ")
	b.Append("door ")
	b.MarkScrolled()
	if b.Snapshot() != "The door " || b.WordCount() != 2 || b.WordsScrolled() != 1 {
		t.Fatalf("buffer state: %q words=%d scrolled=%d", b.Snapshot(), b.WordCount(), b.WordsScrolled())
	}
	b.Clear()
	if !b.Empty() || b.WordsScrolled() != 0 {
		t.Fatal("Clear must empty the text and reset the scroll counter")
	}
}

func TestShouldScrollBudgets(t *testing.T) {
	if ShouldScroll(PhaseGamePlay, 3, 3) {
		t.Fatal("no new word, no scroll")
	}
	if !ShouldScroll(PhaseGamePlay, 4, 3) {
		t.Fatal("new word within budget should scroll")
	}
	if ShouldScroll(PhaseGamePlay, 200, gameplayScrollBudget) {
		t.Fatal("gameplay budget exhausted")
	}
	if !ShouldScroll(PhaseGameIntro, 200, gameplayScrollBudget) {
		t.Fatal("intro budget is larger than gameplay")
	}
	for _, p := range []Phase{PhaseNewGameInitializing, PhaseLoadGameLoading, PhaseGameLoadedWelcome} {
		if ShouldScroll(p, 10, 0) {
			t.Fatalf("%s has no word budget", p)
		}
	}
}
