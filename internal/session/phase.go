package session

import "fmt"

// Phase is the session's current stage in the new-game/load-game/play lifecycle.
type Phase string

const (
	PhaseNewGameInitializing Phase = "new_game"
	PhaseLoadGameLoading     Phase = "load_game"
	PhaseGameLoadedWelcome   Phase = "game_loaded"
	PhaseGameIntro           Phase = "game_intro"
	PhaseGamePlay            Phase = "game_play"
)

var AllPhases = []Phase{PhaseNewGameInitializing, PhaseLoadGameLoading, PhaseGameLoadedWelcome, PhaseGameIntro, PhaseGamePlay}

func (p Phase) Validate() bool { return contains(AllPhases, p) }
func (p Phase) String() string { return string(p) }

// transitions is the exhaustive edge table. GamePlay has no outgoing edges.
var transitions = map[Phase][]Phase{
	PhaseNewGameInitializing: {PhaseGameIntro},
	PhaseLoadGameLoading:     {PhaseGameLoadedWelcome},
	PhaseGameLoadedWelcome:   {PhaseGamePlay},
	PhaseGameIntro:           {PhaseGamePlay},
	PhaseGamePlay:            nil,
}

// CanTransitionTo reports whether p -> to is an edge of the table.
func (p Phase) CanTransitionTo(to Phase) bool { return contains(transitions[p], to) }

// InvalidTransitionError reports a requested edge that is not in the table.
type InvalidTransitionError struct {
	From, To Phase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// PhaseMachine holds the current phase. It is not safe for concurrent use on
// its own; the Controller serialises access.
type PhaseMachine struct {
	current Phase
}

// NewPhaseMachine starts a machine in one of the two entry phases.
func NewPhaseMachine(start Phase) (*PhaseMachine, error) {
	if start != PhaseNewGameInitializing && start != PhaseLoadGameLoading {
		return nil, fmt.Errorf("session must start in %s or %s, got %q", PhaseNewGameInitializing, PhaseLoadGameLoading, start)
	}
	return &PhaseMachine{current: start}, nil
}

func (m *PhaseMachine) Current() Phase { return m.current }

// Transition moves to the requested phase or returns *InvalidTransitionError,
// leaving the state unchanged.
func (m *PhaseMachine) Transition(to Phase) error {
	if !m.current.CanTransitionTo(to) {
		return &InvalidTransitionError{From: m.current, To: to}
	}
	m.current = to
	return nil
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
