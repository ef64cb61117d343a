package session

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultSubmitInterval is the minimum spacing between accepted submissions.
const DefaultSubmitInterval = 10 * time.Second

// Config describes one session. GameID and SaveKey are fixed for its lifetime.
type Config struct {
	GameID      int
	SaveKey     string
	Title       string
	Start       Phase
	InitialTurn int
	Dev         bool

	// SubmitInterval throttles SubmitUserInput; zero disables throttling.
	SubmitInterval time.Duration

	Observer Observer
	Logger   *zap.Logger
	// Clock is consulted by the throttle; defaults to time.Now.
	Clock func() time.Time
}

// NewGameConfig returns the config for a session that will run InitializeNewGame.
func NewGameConfig(key GameKey) Config {
	return Config{GameID: key.GameID, SaveKey: key.SaveKey, Start: PhaseNewGameInitializing, SubmitInterval: DefaultSubmitInterval}
}

// LoadGameConfig returns the config for a session that will run LoadExistingGame.
func LoadGameConfig(info GameInfo, saveKey string) Config {
	return Config{
		GameID:         info.ID,
		SaveKey:        saveKey,
		Title:          info.Title,
		Start:          PhaseLoadGameLoading,
		InitialTurn:    info.Turns,
		SubmitInterval: DefaultSubmitInterval,
	}
}

// Observer receives a state snapshot after every change.
type Observer interface {
	OnSnapshot(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) OnSnapshot(s Snapshot) { f(s) }

// Snapshot is a read-only copy of the session state for presentation.
type Snapshot struct {
	Seq         uint64
	Phase       Phase
	History     []Turn
	Streaming   string
	Loading     bool
	Busy        bool
	RestoreText string
	Title       string
	TurnCounter int
	GameID      int
	SaveKey     string
	Characters  []Character
	Skills      []Skill
	// Scroll asks the presentation to scroll to the newest text.
	Scroll    bool
	Abandoned bool
}

// Controller sequences backend calls, drives streams into the buffer and
// commits finished turns to the history. At most one operation runs at a
// time; the mutex is never held while waiting on the backend.
type Controller struct {
	backend  Backend
	log      *zap.Logger
	observer Observer
	limiter  *rate.Limiter
	now      func() time.Time

	gameID  int
	saveKey string
	dev     bool

	mu         sync.Mutex
	seq        uint64
	phase      *PhaseMachine
	history    *History
	buf        Buffer
	turn       int
	busy       bool
	loading    bool
	restore    string
	title      string
	characters []Character
	skills     []Skill
	abandoned  bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

func NewController(b Backend, cfg Config) (*Controller, error) {
	if b == nil {
		return nil, errors.New("session: nil backend")
	}
	pm, err := NewPhaseMachine(cfg.Start)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		backend:  b,
		log:      cfg.Logger,
		observer: cfg.Observer,
		now:      cfg.Clock,
		gameID:   cfg.GameID,
		saveKey:  cfg.SaveKey,
		dev:      cfg.Dev,
		phase:    pm,
		history:  NewHistory(),
		turn:     cfg.InitialTurn,
		title:    cfg.Title,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	c.log = c.log.With(zap.Int("game_id", cfg.GameID))
	if c.now == nil {
		c.now = time.Now
	}
	if cfg.SubmitInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.SubmitInterval), 1)
	}
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	return c, nil
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) GameID() int     { return c.gameID }
func (c *Controller) SaveKey() string { return c.saveKey }

// Wait blocks until background metadata requests have finished.
func (c *Controller) Wait() { c.bg.Wait() }

// Close cancels background work and waits for it.
func (c *Controller) Close() {
	c.bgCancel()
	c.bg.Wait()
}

// InitializeNewGame generates the title and the two opening narration
// segments, then moves the session to GameIntro. Any failure abandons the session.
func (c *Controller) InitializeNewGame(ctx context.Context, setup Setup) error {
	if err := c.begin(PhaseNewGameInitializing); err != nil {
		return err
	}
	defer c.end()
	if err := c.initialize(ctx, setup); err != nil {
		c.abandon(err)
		return err
	}
	return nil
}

func (c *Controller) initialize(ctx context.Context, setup Setup) error {
	var title titleResponse
	c.setLoading(true)
	err := c.backend.Call(ctx, http.MethodPost, PathTitle, titleRequest{GameID: c.gameID, Dev: c.dev, Setup: setup}, &title)
	c.setLoading(false)
	if err != nil {
		return errors.Wrap(err, "generate title")
	}
	c.mutate(func() bool {
		c.title = title.Title
		return false
	})

	crash, err := c.streamTurn(ctx, PathCrash, crashRequest{GameID: c.gameID, Dev: c.dev})
	if err != nil {
		return errors.Wrap(err, "stream crash story")
	}
	c.commit(Turn{Writer: WriterNarration, Text: crash, Turn: LabeledTurn(LabelCrash)})

	wakeup, err := c.streamTurn(ctx, PathWakeup, wakeupRequest{GameID: c.gameID, CrashStory: crash, Dev: c.dev})
	if err != nil {
		return errors.Wrap(err, "stream wakeup story")
	}
	c.commit(Turn{Writer: WriterNarration, Text: wakeup, Turn: LabeledTurn(LabelWakeup)})

	c.fetchMetadataAsync()
	c.mutate(func() bool {
		c.transitionLocked(PhaseGameIntro)
		return true
	})
	return nil
}

// LoadExistingGame streams the saved history for saveKey, then moves the
// session to GameLoadedWelcome. Any failure abandons the session.
func (c *Controller) LoadExistingGame(ctx context.Context, saveKey string) error {
	if saveKey != c.saveKey {
		return ErrSaveKeyMismatch
	}
	if err := c.begin(PhaseLoadGameLoading); err != nil {
		return err
	}
	defer c.end()
	if err := c.load(ctx); err != nil {
		c.abandon(err)
		return err
	}
	return nil
}

func (c *Controller) load(ctx context.Context) error {
	c.setLoading(true)
	stream, err := c.backend.OpenRecordStream(ctx, http.MethodPost, PathLoadGame, saveKeyRequest{SaveKey: c.saveKey})
	c.setLoading(false)
	if err != nil {
		return errors.Wrap(err, "open game history")
	}
	defer stream.Close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "read game history")
		}
		if !rec.Writer.Validate() {
			return errors.Wrapf(ErrTransport, "history record with unknown writer %q", rec.Writer)
		}
		c.mutate(func() bool {
			c.history.Append(rec)
			return true
		})
	}
	c.fetchMetadataAsync()
	c.mutate(func() bool {
		c.transitionLocked(PhaseGameLoadedWelcome)
		return true
	})
	c.log.Info("game loaded", zap.Int("turns", c.Snapshot().TurnCounter))
	return nil
}

// SubmitUserInput handles one line of player input. It returns the text to put
// back into the input field when the submission was rejected or failed.
//
// A submission is rejected with ErrConcurrentSubmission while a previous one is
// still streaming, and silently dropped (input returned as restore, nil error)
// when it arrives before the throttle interval has elapsed. A failed
// generation gives its throttle slot back so the restored text can be resent.
func (c *Controller) SubmitUserInput(ctx context.Context, input string) (string, error) {
	c.mu.Lock()
	if c.abandoned {
		c.mu.Unlock()
		return input, ErrSessionAbandoned
	}
	if c.busy || !c.buf.Empty() {
		c.mu.Unlock()
		c.log.Debug("submission rejected while streaming")
		return input, ErrConcurrentSubmission
	}
	phase := c.phase.Current()
	switch phase {
	case PhaseGameLoadedWelcome, PhaseGameIntro, PhaseGamePlay:
	default:
		c.mu.Unlock()
		return input, errors.Wrapf(ErrNotAcceptingInput, "phase %s", phase)
	}
	if c.limiter != nil && !c.limiter.AllowN(c.now(), 1) {
		c.mu.Unlock()
		c.log.Debug("submission dropped by throttle")
		return input, nil
	}
	c.busy = true
	c.restore = ""
	c.mu.Unlock()
	defer c.end()

	if phase == PhaseGameLoadedWelcome {
		c.mutate(func() bool {
			c.transitionLocked(PhaseGamePlay)
			return false
		})
		phase = PhaseGamePlay
	}
	if phase == PhaseGameIntro {
		return c.playIntro(ctx, input)
	}
	return c.playTurn(ctx, input)
}

// playIntro streams the introduction; the input is only a continuation prompt.
func (c *Controller) playIntro(ctx context.Context, input string) (string, error) {
	intro, err := c.streamTurn(ctx, PathIntro, introRequest{GameID: c.gameID})
	if err != nil {
		c.mutate(func() bool {
			c.restore = input
			c.refundLocked()
			return false
		})
		c.log.Warn("intro generation failed", zap.Error(err))
		return input, errors.Wrap(err, "stream intro")
	}
	c.mutate(func() bool {
		c.history.Append(Turn{Writer: WriterIntro, Text: intro, Turn: LabeledTurn(LabelIntro)})
		c.buf.Clear()
		c.transitionLocked(PhaseGamePlay)
		return true
	})
	return "", nil
}

func (c *Controller) playTurn(ctx context.Context, input string) (string, error) {
	var (
		n       int
		history []Turn
	)
	c.mutate(func() bool {
		c.turn++
		n = c.turn
		c.history.AppendPending(Turn{Writer: WriterUser, Text: input, Turn: NumberedTurn(n)})
		history = c.history.Turns()
		return true
	})
	req := mainLoopRequest{GameID: c.gameID, History: history, UserInput: input, Turn: n, Dev: c.dev}
	reply, err := c.streamTurn(ctx, PathMainLoop, req)
	if err != nil {
		c.mutate(func() bool {
			c.turn--
			if _, rerr := c.history.RemoveLast(); rerr != nil {
				c.log.Error("rollback failed", zap.Error(rerr))
			}
			c.restore = input
			c.refundLocked()
			return false
		})
		c.log.Warn("turn rolled back", zap.Int("turn", n), zap.Error(err))
		return input, errors.Wrapf(err, "turn %d", n)
	}
	c.commit(Turn{Writer: WriterNarration, Text: reply, Turn: NumberedTurn(n)})
	c.log.Info("turn committed", zap.Int("turn", n))
	return "", nil
}

// streamTurn opens a narration stream and drains it into the buffer. On
// failure the buffer is cleared; on success the caller commits and clears it.
func (c *Controller) streamTurn(ctx context.Context, path string, payload any) (string, error) {
	c.setLoading(true)
	stream, err := c.backend.OpenTextStream(ctx, http.MethodPost, path, payload)
	c.setLoading(false)
	if err != nil {
		c.clearBuffer()
		return "", err
	}
	defer stream.Close()
	for {
		if err := ctx.Err(); err != nil {
			c.clearBuffer()
			return "", err
		}
		frag, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err == nil && IsSentinel(frag) {
			err = ErrGeneration
		}
		if err != nil {
			c.clearBuffer()
			return "", err
		}
		c.mutate(func() bool {
			c.buf.Append(frag)
			if ShouldScroll(c.phase.Current(), c.buf.WordCount(), c.buf.WordsScrolled()) {
				c.buf.MarkScrolled()
				return true
			}
			return false
		})
	}
	c.mu.Lock()
	out := c.buf.Snapshot()
	c.mu.Unlock()
	return out, nil
}

// commit appends a finished turn and clears the buffer in one step, so the
// text is never visible in both places.
func (c *Controller) commit(t Turn) {
	c.mutate(func() bool {
		c.history.Append(t)
		c.buf.Clear()
		return true
	})
}

func (c *Controller) fetchMetadataAsync() {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		c.fetchMetadata(c.bgCtx)
	}()
}

// fetchMetadata loads characters and skills. Failures leave them empty.
func (c *Controller) fetchMetadata(ctx context.Context) {
	var (
		characters []Character
		skills     []Skill
		g          errgroup.Group
	)
	g.Go(func() error {
		if err := c.backend.Call(ctx, http.MethodGet, gameQuery(PathCharacters, c.gameID), nil, &characters); err != nil {
			c.log.Warn("characters unavailable", zap.Error(err))
			characters = nil
		}
		return nil
	})
	g.Go(func() error {
		if err := c.backend.Call(ctx, http.MethodGet, gameQuery(PathSkills, c.gameID), nil, &skills); err != nil {
			c.log.Warn("skills unavailable", zap.Error(err))
			skills = nil
		}
		return nil
	})
	_ = g.Wait()
	c.mutate(func() bool {
		c.characters = characters
		c.skills = skills
		return false
	})
}

func (c *Controller) begin(want Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandoned {
		return ErrSessionAbandoned
	}
	if c.busy {
		return ErrConcurrentSubmission
	}
	if got := c.phase.Current(); got != want {
		return errors.Wrapf(ErrWrongPhase, "want %s, have %s", want, got)
	}
	c.busy = true
	return nil
}

func (c *Controller) end() {
	c.mutate(func() bool {
		c.busy = false
		c.loading = false
		return false
	})
}

func (c *Controller) abandon(err error) {
	c.log.Error("session abandoned", zap.Error(err))
	c.mutate(func() bool {
		c.abandoned = true
		c.buf.Clear()
		return false
	})
}

// refundLocked resets the throttle so the next submission is accepted at once.
func (c *Controller) refundLocked() {
	if c.limiter != nil {
		c.limiter = rate.NewLimiter(c.limiter.Limit(), 1)
	}
}

func (c *Controller) setLoading(v bool) {
	c.mutate(func() bool {
		c.loading = v
		return v
	})
}

func (c *Controller) clearBuffer() {
	c.mutate(func() bool {
		c.buf.Clear()
		return false
	})
}

// transitionLocked applies a phase edge. An edge outside the table is a
// programming error and panics.
func (c *Controller) transitionLocked(to Phase) {
	from := c.phase.Current()
	if err := c.phase.Transition(to); err != nil {
		panic(err)
	}
	c.log.Info("phase transition", zap.Stringer("from", from), zap.Stringer("to", to))
}

// mutate runs fn under the lock and publishes the resulting snapshot. fn
// reports whether the presentation should scroll.
func (c *Controller) mutate(fn func() bool) {
	c.mu.Lock()
	scroll := fn()
	c.seq++
	snap := c.snapshotLocked()
	snap.Scroll = scroll
	c.mu.Unlock()
	if c.observer != nil {
		c.observer.OnSnapshot(snap)
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Seq:         c.seq,
		Phase:       c.phase.Current(),
		History:     c.history.Turns(),
		Streaming:   c.buf.Snapshot(),
		Loading:     c.loading,
		Busy:        c.busy,
		RestoreText: c.restore,
		Title:       c.title,
		TurnCounter: c.turn,
		GameID:      c.gameID,
		SaveKey:     c.saveKey,
		Characters:  append([]Character(nil), c.characters...),
		Skills:      append([]Skill(nil), c.skills...),
		Abandoned:   c.abandoned,
	}
}

// Reserved fragments the service emits instead of prose when generation fails.
var Sentinels = []string{
	"CRASH-GAME-INITIALIZATION-ERROR-ABC123",
	"CRASH-GAME-LOAD-ERROR-ABC123",
	"CRASH-GAME-MAIN-LOOP-ERROR-ABC123",
}

// IsSentinel reports whether a fragment is one of the reserved error values.
func IsSentinel(fragment string) bool {
	return contains(Sentinels, strings.TrimSpace(fragment))
}
