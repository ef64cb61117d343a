package session

import (
	"strings"

	"github.com/DaanHessen/taleweaver/internal/text"
)

// Buffer holds the text of the turn that is currently streaming, plus the
// number of scroll events already triggered for it.
type Buffer struct {
	sb            strings.Builder
	wordsScrolled int
}

func (b *Buffer) Append(fragment string) { b.sb.WriteString(fragment) }
func (b *Buffer) Snapshot() string       { return b.sb.String() }
func (b *Buffer) Empty() bool            { return b.sb.Len() == 0 }
func (b *Buffer) WordCount() int         { return text.WordCount(b.sb.String()) }
func (b *Buffer) WordsScrolled() int     { return b.wordsScrolled }

// MarkScrolled records one more triggered scroll event.
func (b *Buffer) MarkScrolled() { b.wordsScrolled++ }

// Clear empties the text and resets the scroll counter.
func (b *Buffer) Clear() {
	b.sb.Reset()
	b.wordsScrolled = 0
}
