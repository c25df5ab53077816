// Package worker defines the uniform worker interface the orchestrator
// dispatches against, and the tagged-variant Event it receives from either
// concrete flavor (see internal/worker/ptyworker and
// internal/worker/streamworker). Per the design note on dynamic dispatch
// of worker kinds, both flavors speak the same Event/command shape so the
// orchestrator's event loop never needs a type switch on the worker type
// itself — only on the Event it receives.
package worker

import "context"

// EventKind tags the payload carried by an Event.
type EventKind int

const (
	// EventOutputChunk carries a text delta (streaming worker only).
	EventOutputChunk EventKind = iota
	// EventSessionID carries the session id reported once by a streaming
	// worker's first "system" event.
	EventSessionID
	// EventTurnComplete marks the end of one streaming turn; the worker
	// may continue to accept SendInput afterward (Idle) or exit.
	EventTurnComplete
	// EventPTYBytes carries a raw chunk of PTY output (PTY worker only).
	EventPTYBytes
	// EventFinished marks process exit, successful or not.
	EventFinished
	// EventSpawnError marks a failure to even start the child process.
	EventSpawnError
)

// Event is the single message shape both worker flavors emit.
type Event struct {
	Kind      EventKind
	Text      string // EventOutputChunk
	SessionID string // EventSessionID
	Data      []byte // EventPTYBytes
	ExitCode  *int   // EventFinished; nil if never observed
	Err       error  // EventFinished (non-nil on failure), EventSpawnError
}

// Spawn carries everything a worker flavor needs to launch its child.
type Spawn struct {
	PromptID  int
	Text      string // prompt text, tags already stripped
	Cwd       string
	Resume    bool
	SessionID string // required if Resume is set
	Cols, Rows int   // PTY worker only; ignored by streaming worker
}

// Worker is the uniform handle the orchestrator holds for a running
// prompt, regardless of flavor.
type Worker interface {
	// Events returns the channel of Events this worker emits. It is
	// closed after EventFinished or EventSpawnError has been sent.
	Events() <-chan Event

	// SendInput delivers follow-up text to a still-alive child. Streaming
	// workers write it to stdin; PTY workers are driven via SendBytes
	// instead and return an error here.
	SendInput(text string) error

	// SendBytes forwards raw bytes to the PTY master. Streaming workers
	// return an error.
	SendBytes(data []byte) error

	// Resize changes the PTY window size. Streaming workers return an
	// error.
	Resize(cols, rows int) error

	// Kill requests termination. It is safe to call more than once and
	// does not block for the grace period; any signal escalation after the
	// grace runs in the worker's own goroutine. The orchestrator keeps the
	// prompt active until the worker reports EventFinished.
	Kill()
}

// SpawnFunc constructs and starts a Worker for spawn, or returns an error
// if the child could not be launched at all (the EventSpawnError case is
// for failures discovered after Spawn returns, e.g. an early exit).
type SpawnFunc func(ctx context.Context, spawn Spawn) (Worker, error)
