package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// fakeBackend serves scripted responses keyed by endpoint path.
type fakeBackend struct {
	mu       sync.Mutex
	unary    map[string]any
	unaryErr map[string]error
	texts    map[string][]*fakeTextStream
	openErr  map[string]error
	records  *fakeRecordStream
	payloads map[string][]any
	gates    map[string]*callGate
}

// callGate parks Call on one path until release is closed or ctx ends.
type callGate struct {
	entered chan struct{}
	release chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		unary:    map[string]any{},
		unaryErr: map[string]error{},
		texts:    map[string][]*fakeTextStream{},
		openErr:  map[string]error{},
		payloads: map[string][]any{},
		gates:    map[string]*callGate{},
	}
}

func (f *fakeBackend) blockCall(path string) *callGate {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &callGate{entered: make(chan struct{}), release: make(chan struct{})}
	f.gates[path] = g
	return g
}

func (f *fakeBackend) queueText(path string, s *fakeTextStream) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[path] = append(f.texts[path], s)
}

func (f *fakeBackend) sent(path string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.payloads[path]...)
}

func (f *fakeBackend) record(path string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[path] = append(f.payloads[path], payload)
}

func (f *fakeBackend) Call(ctx context.Context, method, path string, payload, out any) error {
	path, _, _ = strings.Cut(path, "?")
	f.record(path, payload)
	f.mu.Lock()
	resp, ok := f.unary[path]
	err := f.unaryErr[path]
	gate := f.gates[path]
	f.mu.Unlock()
	if gate != nil {
		close(gate.entered)
		select {
		case <-gate.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no response scripted for %s", ErrTransport, path)
	}
	b, _ := json.Marshal(resp)
	return json.Unmarshal(b, out)
}

func (f *fakeBackend) OpenTextStream(ctx context.Context, method, path string, payload any) (TextStream, error) {
	f.record(path, payload)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErr[path]; err != nil {
		return nil, err
	}
	q := f.texts[path]
	if len(q) == 0 {
		return nil, fmt.Errorf("%w: no stream scripted for %s", ErrTransport, path)
	}
	f.texts[path] = q[1:]
	return q[0], nil
}

func (f *fakeBackend) OpenRecordStream(ctx context.Context, method, path string, payload any) (RecordStream, error) {
	f.record(path, payload)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErr[path]; err != nil {
		return nil, err
	}
	if f.records == nil {
		return nil, fmt.Errorf("%w: no records scripted", ErrTransport)
	}
	return f.records, nil
}

// fakeTextStream yields frags, then err (or io.EOF). When hold is set it
// blocks before yielding frags[holdAt] until hold is closed.
type fakeTextStream struct {
	frags   []string
	err     error
	holdAt  int
	hold    chan struct{}
	reached chan struct{}
	i       int
	closed  bool
}

func textStream(frags ...string) *fakeTextStream { return &fakeTextStream{frags: frags} }

func (s *fakeTextStream) failing(err error) *fakeTextStream {
	s.err = err
	return s
}

func (s *fakeTextStream) holding(at int) *fakeTextStream {
	s.holdAt = at
	s.hold = make(chan struct{})
	s.reached = make(chan struct{})
	return s
}

func (s *fakeTextStream) Next(ctx context.Context) (string, error) {
	if s.hold != nil && s.i == s.holdAt {
		close(s.reached)
		select {
		case <-s.hold:
			s.hold = nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.i < len(s.frags) {
		f := s.frags[s.i]
		s.i++
		return f, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *fakeTextStream) Close() error {
	s.closed = true
	return nil
}

type fakeRecordStream struct {
	turns []Turn
	err   error
	i     int
}

func (s *fakeRecordStream) Next(ctx context.Context) (Turn, error) {
	if s.i < len(s.turns) {
		t := s.turns[s.i]
		s.i++
		return t, nil
	}
	if s.err != nil {
		return Turn{}, s.err
	}
	return Turn{}, io.EOF
}

func (s *fakeRecordStream) Close() error { return nil }

// recorder keeps every published snapshot.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) OnSnapshot(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}
