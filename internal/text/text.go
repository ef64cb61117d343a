package text

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"
)

// WordCount returns the number of whitespace-delimited words in s.
func WordCount(s string) int { return len(strings.Fields(s)) }

// Renderer turns narration prose into terminal output.
type Renderer interface {
	Render(md string, width int) (string, error)
}

// plainRenderer wraps text without any markdown styling; used as fallback.
type plainRenderer struct{}

func NewPlainRenderer() Renderer { return plainRenderer{} }

func (plainRenderer) Render(md string, width int) (string, error) {
	if width <= 0 {
		return md, nil
	}
	return wordwrap.String(md, width), nil
}

// glamourRenderer caches one glamour.TermRenderer per wrap width.
type glamourRenderer struct {
	style string
	mu    sync.Mutex
	byW   map[int]*glamour.TermRenderer
}

// NewGlamourRenderer returns a markdown renderer using the named glamour style
// ("auto" picks dark/light from the terminal).
func NewGlamourRenderer(style string) Renderer {
	if style == "" {
		style = "auto"
	}
	return &glamourRenderer{style: style, byW: map[int]*glamour.TermRenderer{}}
}

func (g *glamourRenderer) Render(md string, width int) (string, error) {
	r, err := g.renderer(width)
	if err != nil {
		return "", err
	}
	out, err := r.Render(md)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

func (g *glamourRenderer) renderer(width int) (*glamour.TermRenderer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.byW[width]; ok {
		return r, nil
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if g.style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(g.style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, err
	}
	g.byW[width] = r
	return r, nil
}

// WithFallback returns a renderer that prefers primary and falls back to backup on error.
func WithFallback(primary, fallback Renderer) Renderer {
	return &fallbackRenderer{p: primary, f: fallback}
}

type fallbackRenderer struct{ p, f Renderer }

func (r *fallbackRenderer) Render(md string, width int) (string, error) {
	if r.p == nil {
		return r.f.Render(md, width)
	}
	if s, err := r.p.Render(md, width); err == nil {
		return s, nil
	}
	return r.f.Render(md, width)
}
