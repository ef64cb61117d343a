package session

import "errors"

var (
	// ErrInvalidTransition marks a phase edge outside the transition table.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrConcurrentSubmission is returned while a previous generation is still streaming.
	ErrConcurrentSubmission = errors.New("a response is still streaming, please wait")
	// ErrTransport marks network or HTTP-level failures talking to the service.
	ErrTransport = errors.New("transport failure")
	// ErrGeneration is the backend's reserved error fragment.
	ErrGeneration = errors.New("backend generation error")
	// ErrSessionAbandoned is returned after an initialization or load failure.
	ErrSessionAbandoned = errors.New("session abandoned")
	// ErrNotAcceptingInput is returned when input arrives before the story is ready.
	ErrNotAcceptingInput = errors.New("session is not accepting input in this phase")
	// ErrWrongPhase is returned when an operation's phase precondition does not hold.
	ErrWrongPhase = errors.New("operation not allowed in current phase")
	// ErrNothingToRevoke is returned by History.RemoveLast without a pending append.
	ErrNothingToRevoke = errors.New("no pending history entry to remove")
	// ErrSaveKeyMismatch is returned when loading a save key other than the session's own.
	ErrSaveKeyMismatch = errors.New("save key does not belong to this session")
)
