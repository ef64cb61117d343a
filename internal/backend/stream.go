package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/DaanHessen/taleweaver/internal/session"
)

const readChunk = 4096

// textStream yields whatever prose has arrived since the last read. A
// trailing partial rune, or a trailing prefix of a reserved error fragment,
// is held back until the next read so neither is split across fragments.
type textStream struct {
	path    string
	body    io.ReadCloser
	chunk   []byte
	pending []byte
	done    bool
}

func newTextStream(path string, body io.ReadCloser) *textStream {
	return &textStream{path: path, body: body, chunk: make([]byte, readChunk)}
}

func (s *textStream) Next(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if s.done {
			if len(s.pending) == 0 {
				return "", io.EOF
			}
			out := string(s.pending)
			s.pending = nil
			return checked(out)
		}

		n, err := s.body.Read(s.chunk)
		s.pending = append(s.pending, s.chunk[:n]...)
		switch {
		case err == io.EOF:
			s.done = true
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", &TransportError{Path: s.path, Message: "read stream", Cause: err}
		}
		if s.done {
			continue
		}

		cut := len(s.pending) - withheld(s.pending)
		if cut == 0 {
			continue
		}
		out := string(s.pending[:cut])
		s.pending = append(s.pending[:0], s.pending[cut:]...)
		return checked(out)
	}
}

func (s *textStream) Close() error { return s.body.Close() }

func checked(frag string) (string, error) {
	for _, sentinel := range session.Sentinels {
		if strings.Contains(frag, sentinel) {
			return "", session.ErrGeneration
		}
	}
	return frag, nil
}

// withheld is the number of trailing bytes of b that must wait for more input.
func withheld(b []byte) int {
	hold := 0
	for _, sentinel := range session.Sentinels {
		for k := min(len(sentinel)-1, len(b)); k > hold; k-- {
			if bytes.HasSuffix(b, []byte(sentinel[:k])) {
				hold = k
				break
			}
		}
	}
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		if !utf8.RuneStart(b[len(b)-i]) {
			continue
		}
		if !utf8.FullRune(b[len(b)-i:]) {
			hold = max(hold, i)
		}
		break
	}
	return hold
}

// recordStream decodes one JSON record per line.
type recordStream struct {
	path string
	body io.ReadCloser
	r    *bufio.Reader
}

func newRecordStream(path string, body io.ReadCloser) *recordStream {
	return &recordStream{path: path, body: body, r: bufio.NewReader(body)}
}

func (s *recordStream) Next(ctx context.Context) (session.Turn, error) {
	for {
		if err := ctx.Err(); err != nil {
			return session.Turn{}, err
		}
		line, err := s.r.ReadBytes('\n')
		if err != nil && err != io.EOF {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return session.Turn{}, ctxErr
			}
			return session.Turn{}, &TransportError{Path: s.path, Message: "read stream", Cause: err}
		}
		eof := err == io.EOF
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if eof {
				return session.Turn{}, io.EOF
			}
			continue
		}
		if session.IsSentinel(string(line)) {
			return session.Turn{}, session.ErrGeneration
		}
		var t session.Turn
		if err := json.Unmarshal(line, &t); err != nil {
			return session.Turn{}, &TransportError{Path: s.path, Message: "malformed record", Cause: err}
		}
		return t, nil
	}
}

func (s *recordStream) Close() error { return s.body.Close() }
