// Package model defines the Prompt record shared by the store, the
// orchestrator, and the wire protocol.
package model

import "strings"

// Mode selects which worker flavor executes a prompt.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeOneShot     Mode = "oneshot"
)

// Status is a prompt's position in the lifecycle state machine described
// in the orchestrator's design: Pending -> Running -> {Idle -> Running}*
// -> {Completed, Failed}.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusIdle      Status = "idle"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether s is Completed or Failed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether s is Running or Idle, i.e. owns a live worker.
func (s Status) IsActive() bool {
	return s == StatusRunning || s == StatusIdle
}

// Prompt is the central entity: a unit of work submitted by the operator.
// JSON tags match the on-disk and wire representation exactly; volatile
// runtime-only fields (emulator grid, ring buffer) never appear here.
type Prompt struct {
	ID           int      `json:"id"`
	UUID         string   `json:"uuid"`
	Text         string   `json:"text"`
	Tags         []string `json:"tags"`
	Cwd          string   `json:"cwd,omitempty"`
	Mode         Mode     `json:"mode"`
	Status       Status   `json:"status"`
	Worktree     bool     `json:"worktree"`
	WorktreePath string   `json:"worktree_path,omitempty"`
	Resume       bool     `json:"resume"`
	SessionID    string   `json:"session_id,omitempty"`
	Output       string   `json:"output"`
	Error        string   `json:"error,omitempty"`
	StartedAt    int64    `json:"started_at,omitempty"`
	FinishedAt   int64    `json:"finished_at,omitempty"`
	QueueRank    float64  `json:"queue_rank"`
	Seen         bool     `json:"seen"`
}

// Clone returns a deep-enough copy of p; Tags is copied so callers may
// mutate the clone's tag slice independently.
func (p Prompt) Clone() Prompt {
	c := p
	if p.Tags != nil {
		c.Tags = append([]string(nil), p.Tags...)
	}
	return c
}

// ParseTags strips leading "@tag" tokens from text and returns the
// remaining text along with the tags found, in the order they appeared.
// A tag token is a run of non-whitespace characters starting with '@';
// parsing stops at the first token that is not a tag (or at end of text).
func ParseTags(text string) (remaining string, tags []string) {
	rest := text
	for {
		trimmed := strings.TrimLeft(rest, " \t")
		if !strings.HasPrefix(trimmed, "@") {
			rest = trimmed
			break
		}
		end := strings.IndexAny(trimmed, " \t\n")
		var tok string
		if end == -1 {
			tok = trimmed
			rest = ""
		} else {
			tok = trimmed[:end]
			rest = trimmed[end:]
		}
		tag := strings.TrimPrefix(tok, "@")
		if tag == "" {
			rest = trimmed
			break
		}
		tags = append(tags, tag)
	}
	return strings.TrimLeft(rest, " \t"), tags
}
