package ui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/DaanHessen/taleweaver/internal/session"
	"github.com/DaanHessen/taleweaver/internal/store"
	"github.com/DaanHessen/taleweaver/internal/text"
	"github.com/DaanHessen/taleweaver/internal/util"
)

const (
	viewMenu    = "menu"
	viewSetup   = "setup"
	viewSaveKey = "save_key"
	viewStory   = "story"
)

const (
	overlayNone       = ""
	overlayCharacters = "characters"
	overlaySaveKey    = "save_key"
)

// Mode selects the first screen.
type Mode int

const (
	ModeMenu Mode = iota
	ModeNew
	ModeLoad
)

type Options struct {
	Backend session.Backend
	// Archiver is optional; without it nothing is stored locally.
	Archiver *store.Archiver
	Renderer text.Renderer
	Logger   *zap.Logger
	Config   util.Config
	Version  string
	Mode     Mode
	SaveKey  string
}

type (
	snapshotMsg session.Snapshot
	setupMsg    struct {
		setup session.Setup
		err   error
	}
	startedMsg struct {
		ctrl  *session.Controller
		load  bool
		setup *session.Setup
		err   error
	}
	opDoneMsg struct {
		restore string
		err     error
	}
	archivedMsg struct{ err error }
)

type renderedTurn struct {
	src session.Turn
	out string
}

type model struct {
	ctx  context.Context
	opts Options
	log  *zap.Logger
	send func(tea.Msg)
	boot tea.Cmd

	view          string
	overlay       string
	width, height int
	theme         string
	pal           palette
	st            styles
	render        text.Renderer
	plain         text.Renderer
	ownRenderer   bool

	fields []textinput.Model
	focus  int
	keyIn  textinput.Model
	input  textinput.Model
	vp     viewport.Model
	spin   spinner.Model

	ctrl   *session.Controller
	snap   session.Snapshot
	setup  session.Setup
	status string
	fatal  string

	rendered []renderedTurn
	renderW  int
}

func newModel(ctx context.Context, opts Options, send func(tea.Msg)) model {
	m := model{
		ctx:   ctx,
		opts:  opts,
		log:   opts.Logger,
		send:  send,
		view:  viewMenu,
		plain: text.NewPlainRenderer(),
		vp:    viewport.New(80, 20),
		spin:  spinner.New(spinner.WithSpinner(spinner.Points)),
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	m.applyTheme(opts.Config.Theme)
	if opts.Renderer != nil {
		m.render = opts.Renderer
	} else {
		m.ownRenderer = true
		m.render = text.WithFallback(text.NewGlamourRenderer(m.pal.Markdown), m.plain)
	}

	labels := []struct{ prompt, placeholder string }{
		{"Theme     ", "pirates, princesses, postpartum depression - anything goes!"},
		{"Timeframe ", "the distant past, the far future, anywhere in between"},
		{"Details   ", "whatever your beautiful mind can think of"},
	}
	for _, l := range labels {
		ti := textinput.New()
		ti.Prompt = l.prompt
		ti.Placeholder = l.placeholder
		ti.CharLimit = 500
		m.fields = append(m.fields, ti)
	}
	m.keyIn = textinput.New()
	m.keyIn.Prompt = "Save key > "
	m.keyIn.CharLimit = 128
	m.input = textinput.New()
	m.input.Prompt = "> "
	m.input.Placeholder = placeholderFor("")

	switch opts.Mode {
	case ModeNew:
		m.openSetup()
	case ModeLoad:
		if key := strings.TrimSpace(opts.SaveKey); key != "" {
			m.view = viewStory
			m.input.Focus()
			m.boot = m.loadGameCmd(key)
		} else {
			m.openSaveKey()
		}
	}
	return m
}

func (m *model) applyTheme(name string) {
	if _, ok := palettes[name]; !ok {
		name = "catppuccin"
	}
	m.theme = name
	m.pal = paletteFor(name)
	m.st = newStyles(m.pal)
	m.spin.Style = m.st.accent
	if m.ownRenderer {
		m.render = text.WithFallback(text.NewGlamourRenderer(m.pal.Markdown), m.plain)
	}
	m.rendered = nil
}

func placeholderFor(p session.Phase) string {
	switch p {
	case session.PhaseGameIntro:
		return "type 'continue', then press enter..."
	case session.PhaseGameLoadedWelcome:
		return "welcome back! what do you want to do?"
	case session.PhaseGamePlay:
		return "what do you want to do?"
	default:
		return "type here..."
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick, m.boot)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case snapshotMsg:
		m.applySnapshot(session.Snapshot(msg))
		return m, nil
	case setupMsg:
		if msg.err != nil {
			m.status = "No suggestion available: " + msg.err.Error()
			return m, nil
		}
		m.fields[0].SetValue(msg.setup.Theme)
		m.fields[1].SetValue(msg.setup.Timeframe)
		m.fields[2].SetValue(msg.setup.Details)
		m.status = ""
		return m, nil
	case startedMsg:
		return m.handleStarted(msg)
	case opDoneMsg:
		return m.handleOpDone(msg)
	case archivedMsg:
		if msg.err != nil {
			m.log.Warn("archive failed", zap.Error(msg.err))
		}
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.view {
		case viewMenu:
			return m.updateMenu(msg)
		case viewSetup:
			return m.updateSetup(msg)
		case viewSaveKey:
			return m.updateSaveKey(msg)
		case viewStory:
			return m.updateStory(msg)
		}
	}
	return m, nil
}

func (m model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "n":
		m.openSetup()
		return m, textinput.Blink
	case "l":
		m.openSaveKey()
		return m, textinput.Blink
	case "q", "esc":
		return m, tea.Quit
	}
	return m, nil
}

func (m *model) openSetup() {
	m.view = viewSetup
	m.status = ""
	m.focus = 0
	for i := range m.fields {
		m.fields[i].Blur()
	}
	m.fields[0].Focus()
}

func (m *model) openSaveKey() {
	m.view = viewSaveKey
	m.status = ""
	m.keyIn.Reset()
	m.keyIn.Focus()
}

func (m model) updateSetup(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.view = viewMenu
		return m, nil
	case "ctrl+r":
		m.status = "Asking for a suggestion..."
		return m, m.randomSetupCmd()
	case "tab", "down":
		m.moveFocus(1)
		return m, nil
	case "shift+tab", "up":
		m.moveFocus(-1)
		return m, nil
	case "enter":
		if m.focus < len(m.fields)-1 {
			m.moveFocus(1)
			return m, nil
		}
		m.setup = session.Setup{
			Theme:     strings.TrimSpace(m.fields[0].Value()),
			Timeframe: strings.TrimSpace(m.fields[1].Value()),
			Details:   strings.TrimSpace(m.fields[2].Value()),
		}
		m.view = viewStory
		m.status = ""
		m.input.Focus()
		return m, m.newGameCmd(m.setup)
	}
	var cmd tea.Cmd
	m.fields[m.focus], cmd = m.fields[m.focus].Update(msg)
	return m, cmd
}

func (m *model) moveFocus(step int) {
	m.fields[m.focus].Blur()
	m.focus = (m.focus + step + len(m.fields)) % len(m.fields)
	m.fields[m.focus].Focus()
}

func (m model) updateSaveKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.view = viewMenu
		return m, nil
	case "enter":
		key := strings.TrimSpace(m.keyIn.Value())
		if key == "" {
			return m, nil
		}
		m.view = viewStory
		m.input.Focus()
		return m, m.loadGameCmd(key)
	}
	var cmd tea.Cmd
	m.keyIn, cmd = m.keyIn.Update(msg)
	return m, cmd
}

func (m model) updateStory(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.fatal != "" {
		if s := msg.String(); s == "q" || s == "esc" || s == "enter" {
			return m, tea.Quit
		}
		return m, nil
	}
	if m.overlay != overlayNone {
		switch msg.String() {
		case "esc", "q", "enter", "ctrl+k", "ctrl+s":
			m.overlay = overlayNone
		}
		return m, nil
	}
	switch msg.String() {
	case "ctrl+k":
		m.overlay = overlayCharacters
		return m, nil
	case "ctrl+s":
		m.overlay = overlaySaveKey
		return m, nil
	case "ctrl+t":
		m.applyTheme(nextThemeName(m.theme, 1))
		m.refreshViewport(false)
		return m, nil
	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	case "enter":
		return m.submit()
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) submit() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.input.Value())
	if value == "" || m.ctrl == nil {
		return m, nil
	}
	m.input.Reset()
	m.status = ""
	ctrl, ctx := m.ctrl, m.ctx
	return m, func() tea.Msg {
		restore, err := ctrl.SubmitUserInput(ctx, value)
		return opDoneMsg{restore: restore, err: err}
	}
}

func (m model) handleStarted(msg startedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.view = viewStory
		m.fatal = "Could not reach the story service: " + msg.err.Error()
		return m, nil
	}
	m.ctrl = msg.ctrl
	if msg.setup != nil {
		m.setup = *msg.setup
	}
	m.applySnapshot(m.ctrl.Snapshot())
	ctrl, ctx := m.ctrl, m.ctx
	if msg.load {
		key := m.ctrl.SaveKey()
		return m, func() tea.Msg { return opDoneMsg{err: ctrl.LoadExistingGame(ctx, key)} }
	}
	setup := m.setup
	return m, func() tea.Msg { return opDoneMsg{err: ctrl.InitializeNewGame(ctx, setup)} }
}

func (m model) handleOpDone(msg opDoneMsg) (tea.Model, tea.Cmd) {
	if m.ctrl != nil {
		m.applySnapshot(m.ctrl.Snapshot())
	}
	if msg.restore != "" && m.input.Value() == "" {
		m.input.SetValue(msg.restore)
		m.input.CursorEnd()
	}
	switch {
	case msg.err == nil:
		m.status = ""
		return m, m.archiveCmd()
	case errors.Is(msg.err, session.ErrConcurrentSubmission):
		m.status = "Still writing, please wait."
	case m.snap.Abandoned:
		m.fatal = describe(msg.err) + "\n\nThis story cannot continue. Press q to quit."
	default:
		m.status = describe(msg.err) + " Your text was restored; try again."
	}
	return m, nil
}

func describe(err error) string {
	switch {
	case errors.Is(err, session.ErrGeneration):
		return "The storyteller stumbled."
	case errors.Is(err, session.ErrTransport):
		return "The story service is unreachable."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The request was cancelled."
	default:
		return "Something went wrong: " + err.Error()
	}
}

func (m *model) applySnapshot(s session.Snapshot) {
	if s.Seq < m.snap.Seq {
		return
	}
	m.snap = s
	m.input.Placeholder = placeholderFor(s.Phase)
	m.refreshViewport(s.Scroll)
}

func (m *model) resize() {
	w := m.width
	if w <= 0 {
		w = 100
	}
	m.vp.Width = w
	m.vp.Height = max(3, m.height-6)
	m.input.Width = max(10, w-4)
	m.refreshViewport(false)
}

func (m *model) refreshViewport(scroll bool) {
	m.vp.SetContent(m.transcript())
	if scroll {
		m.vp.GotoBottom()
	}
}

// transcript renders history plus the in-flight text. Rendered turns are
// cached by content so a rollback followed by a new turn re-renders the slot.
func (m *model) transcript() string {
	width := max(20, m.vp.Width-2)
	if width != m.renderW {
		m.rendered = nil
		m.renderW = width
	}
	hist := m.snap.History
	if len(m.rendered) > len(hist) {
		m.rendered = m.rendered[:len(hist)]
	}
	for i := range hist {
		if i < len(m.rendered) && m.rendered[i].src == hist[i] {
			continue
		}
		r := renderedTurn{src: hist[i], out: m.renderTurn(hist[i], width)}
		if i < len(m.rendered) {
			m.rendered[i] = r
		} else {
			m.rendered = append(m.rendered, r)
		}
	}
	parts := make([]string, 0, len(m.rendered)+1)
	for _, r := range m.rendered {
		parts = append(parts, r.out)
	}
	if m.snap.Streaming != "" {
		out, _ := m.plain.Render(m.snap.Streaming, width)
		parts = append(parts, out)
	}
	return strings.Join(parts, "\n\n")
}

func (m *model) renderTurn(t session.Turn, width int) string {
	if t.Writer == session.WriterUser {
		out, _ := m.plain.Render("> "+t.Text, width)
		return m.st.user.Render(out)
	}
	out, err := m.render.Render(t.Text, width)
	if err != nil {
		out, _ = m.plain.Render(t.Text, width)
	}
	return out
}

// Commands -------------------------------------------------------------------

func (m *model) controllerConfig(cfg session.Config) session.Config {
	cfg.Dev = m.opts.Config.Dev
	cfg.SubmitInterval = m.opts.Config.SubmitInterval
	cfg.Logger = m.log
	send := m.send
	cfg.Observer = session.ObserverFunc(func(s session.Snapshot) { send(snapshotMsg(s)) })
	return cfg
}

func (m *model) newGameCmd(setup session.Setup) tea.Cmd {
	b, ctx, configure := m.opts.Backend, m.ctx, m.controllerConfig
	return func() tea.Msg {
		key, err := session.NewGameKey(ctx, b)
		if err != nil {
			return startedMsg{err: err}
		}
		ctrl, err := session.NewController(b, configure(session.NewGameConfig(key)))
		return startedMsg{ctrl: ctrl, err: err}
	}
}

func (m *model) loadGameCmd(saveKey string) tea.Cmd {
	b, ctx, configure, archiver := m.opts.Backend, m.ctx, m.controllerConfig, m.opts.Archiver
	return func() tea.Msg {
		info, err := session.LookupGame(ctx, b, saveKey)
		if err != nil {
			return startedMsg{load: true, err: err}
		}
		msg := startedMsg{load: true}
		if archiver != nil {
			// keep the archived setup so re-archiving does not blank it
			if s, err := archiver.Saves().GetByKey(ctx, saveKey); err == nil {
				msg.setup = &session.Setup{Theme: s.Theme, Timeframe: s.Timeframe, Details: s.Details}
			}
		}
		msg.ctrl, msg.err = session.NewController(b, configure(session.LoadGameConfig(info, saveKey)))
		return msg
	}
}

func (m *model) randomSetupCmd() tea.Cmd {
	b, ctx := m.opts.Backend, m.ctx
	return func() tea.Msg {
		s, err := session.RandomSetup(ctx, b)
		return setupMsg{setup: s, err: err}
	}
}

func (m *model) archiveCmd() tea.Cmd {
	if m.opts.Archiver == nil || m.ctrl == nil {
		return nil
	}
	a, snap, setup, parent := m.opts.Archiver, m.ctrl.Snapshot(), m.setup, m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, 10*time.Second)
		defer cancel()
		return archivedMsg{err: a.Archive(ctx, snap, setup)}
	}
}

// Rendering ------------------------------------------------------------------

func (m model) View() string {
	switch m.view {
	case viewSetup:
		return m.renderSetup()
	case viewSaveKey:
		return m.renderSaveKey()
	case viewStory:
		return m.renderStory()
	default:
		return m.renderMenu()
	}
}

func (m model) renderMenu() string {
	var b strings.Builder
	b.WriteString(m.st.title.Render("TALEWEAVER") + m.st.muted.Render("  "+m.opts.Version) + "\n\n")
	b.WriteString("[n] new story\n[l] load story\n[q] quit\n")
	if m.status != "" {
		b.WriteString("\n" + m.st.warning.Render(m.status) + "\n")
	}
	return b.String()
}

func (m model) renderSetup() string {
	var b strings.Builder
	b.WriteString(m.st.title.Render("New story") + "\n\n")
	for _, f := range m.fields {
		b.WriteString(f.View() + "\n")
	}
	b.WriteString("\n" + m.st.muted.Render("tab next • ctrl+r suggest • enter start • esc back") + "\n")
	if m.status != "" {
		b.WriteString(m.st.warning.Render(m.status) + "\n")
	}
	return b.String()
}

func (m model) renderSaveKey() string {
	var b strings.Builder
	b.WriteString(m.st.title.Render("Load story") + "\n\n")
	b.WriteString(m.keyIn.View() + "\n\n")
	b.WriteString(m.st.muted.Render("enter load • esc back") + "\n")
	return b.String()
}

func (m model) renderStory() string {
	if m.fatal != "" {
		return m.st.warning.Render(m.fatal) + "\n"
	}
	top := m.renderTopBar()
	var body string
	switch m.overlay {
	case overlayCharacters:
		body = m.place(m.st.overlay.Render(m.renderCharacters()))
	case overlaySaveKey:
		body = m.place(m.st.overlay.Render(m.renderSaveKeyCard()))
	default:
		body = m.vp.View()
	}
	return lipgloss.JoinVertical(lipgloss.Left, top, body, m.renderBottomBar())
}

func (m model) place(s string) string {
	return lipgloss.Place(m.vp.Width, m.vp.Height, lipgloss.Center, lipgloss.Center, s)
}

func (m model) renderTopBar() string {
	left := m.snap.Title
	if left == "" {
		left = "TALEWEAVER"
	}
	right := ""
	if m.snap.TurnCounter > 0 {
		right = fmt.Sprintf("turn %d", m.snap.TurnCounter)
	}
	w := m.width
	if w <= 0 {
		w = 100
	}
	gap := max(1, w-lipgloss.Width(left)-lipgloss.Width(right))
	return m.st.title.Render(left + strings.Repeat(" ", gap) + right)
}

func (m model) renderBottomBar() string {
	status := m.status
	if m.snap.Loading || (m.snap.Busy && m.snap.Streaming == "") {
		status = m.spin.View() + " the story is being written..."
	}
	help := "enter send • ctrl+k characters • ctrl+s save key • ctrl+t theme • pgup/pgdn scroll • ctrl+c quit"
	return lipgloss.JoinVertical(lipgloss.Left,
		m.st.warning.Render(status),
		m.st.inputLine.Width(max(10, m.width)).Render(m.input.View()),
		m.st.muted.Render(help),
	)
}

func (m model) renderCharacters() string {
	if len(m.snap.Characters) == 0 && len(m.snap.Skills) == 0 {
		return "No characters yet."
	}
	var b strings.Builder
	b.WriteString("# Characters\n\n")
	for _, c := range m.snap.Characters {
		b.WriteString("## " + c.Name + "\n\n")
		if c.PhysicalDescription != "" {
			b.WriteString(c.PhysicalDescription + "\n\n")
		}
		if c.Personality != "" {
			b.WriteString("*" + c.Personality + "*\n\n")
		}
		if c.History != "" {
			b.WriteString(c.History + "\n\n")
		}
		if len(c.Skills) > 0 {
			names := make([]string, 0, len(c.Skills))
			for k := range c.Skills {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, n := range names {
				b.WriteString(fmt.Sprintf("- %s: %d\n", n, c.Skills[n]))
			}
			b.WriteString("\n")
		}
	}
	if len(m.snap.Skills) > 0 {
		b.WriteString("# Skills\n\n")
		for _, s := range m.snap.Skills {
			b.WriteString(fmt.Sprintf("- **%s**: %s\n", s.Name, s.Description))
		}
	}
	width := max(20, min(80, m.vp.Width-8))
	out, err := m.render.Render(b.String(), width)
	if err != nil {
		return b.String()
	}
	return out
}

func (m model) renderSaveKeyCard() string {
	if m.snap.SaveKey == "" {
		return "No save key yet."
	}
	return "Your save key:\n\n" + m.st.accent.Render(m.snap.SaveKey) + "\n\n" +
		m.st.muted.Render("Keep it to continue this story later (taleweaver load <key>).")
}
