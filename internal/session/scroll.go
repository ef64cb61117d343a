package session

// Scroll budgets: how many word-driven scroll events one stream may trigger.
const (
	introScrollBudget    = 500
	gameplayScrollBudget = 125
)

func scrollBudget(p Phase) int {
	switch p {
	case PhaseGameIntro:
		return introScrollBudget
	case PhaseGamePlay:
		return gameplayScrollBudget
	default:
		return 0
	}
}

// ShouldScroll reports whether the stream has produced a new word since the
// last triggered scroll while the phase's budget is not yet spent.
func ShouldScroll(p Phase, wordsSoFar, wordsAlreadyTriggered int) bool {
	return wordsSoFar > wordsAlreadyTriggered && wordsAlreadyTriggered < scrollBudget(p)
}
