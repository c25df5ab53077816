package orchestrator

import (
	"fmt"
	"time"

	"github.com/abusi/clhorde/internal/log"
	"github.com/abusi/clhorde/internal/model"
	"github.com/abusi/clhorde/internal/store"
)

// StateError reports a request naming an unknown prompt, or a verb that is
// illegal in the prompt's current status.
type StateError struct {
	Op     string
	Detail string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("orchestrator: %s: %s", e.Op, e.Detail)
}

func stateErr(op, detail string) error { return &StateError{Op: op, Detail: detail} }

// SubmitPrompt appends a new Pending prompt and returns its stored form.
func (o *Orchestrator) SubmitPrompt(text, cwd string, mode model.Mode, worktreeFlag bool) (model.Prompt, error) {
	remaining, tags := model.ParseTags(text)

	var result model.Prompt
	o.submit(func() {
		id := o.nextID
		o.nextID++

		p := model.Prompt{
			ID:        id,
			UUID:      store.NewUUID(),
			Text:      remaining,
			Tags:      tags,
			Cwd:       cwd,
			Mode:      mode,
			Status:    model.StatusPending,
			Worktree:  worktreeFlag,
			QueueRank: o.queue.NextRank(),
		}

		o.prompts[p.UUID] = &promptState{prompt: p, cols: 80, rows: 24}
		o.byID[p.ID] = p.UUID
		o.queue.Insert(p.ID, p.QueueRank)

		o.persist(p)
		o.broadcast(Event{Kind: EventPromptAdded, Prompt: p.Clone()})
		result = p
	})
	return result, nil
}

// AdoptExternalPrompt absorbs a prompt file dropped directly into the store
// directory by external tooling (surfaced by the store's fsnotify watcher)
// as a new Pending entry, assigning it a queue position the same way
// SubmitPrompt does. A prompt whose uuid is already tracked is ignored.
func (o *Orchestrator) AdoptExternalPrompt(p model.Prompt) {
	o.submit(func() {
		if _, exists := o.prompts[p.UUID]; exists {
			return
		}
		id := o.nextID
		o.nextID++

		p.ID = id
		p.Status = model.StatusPending
		p.QueueRank = o.queue.NextRank()

		o.prompts[p.UUID] = &promptState{prompt: p, cols: 80, rows: 24}
		o.byID[p.ID] = p.UUID
		o.queue.Insert(p.ID, p.QueueRank)

		o.persist(p)
		o.broadcast(Event{Kind: EventPromptAdded, Prompt: p.Clone()})
		log.Info(log.CatOrch, "adopted externally dropped prompt", "uuid", p.UUID, "id", p.ID)
	})
}

// RetryPrompt resets an existing prompt in place: same id, new uuid,
// cleared output/error, back to Pending.
func (o *Orchestrator) RetryPrompt(id int) (model.Prompt, error) {
	return o.retryOrResume(id, false)
}

// ResumePrompt is Retry plus resume=true, requiring an existing session id.
func (o *Orchestrator) ResumePrompt(id int) (model.Prompt, error) {
	return o.retryOrResume(id, true)
}

func (o *Orchestrator) retryOrResume(id int, resume bool) (model.Prompt, error) {
	var result model.Prompt
	var retErr error

	o.submit(func() {
		uuid, ok := o.byID[id]
		if !ok {
			retErr = stateErr("retry", "unknown prompt id")
			return
		}
		ps := o.prompts[uuid]
		if ps.prompt.Status.IsActive() {
			retErr = stateErr("retry", "prompt is active")
			return
		}
		if resume && ps.prompt.SessionID == "" {
			retErr = stateErr("resume", "prompt has no session id to resume")
			return
		}

		delete(o.prompts, uuid)

		newPrompt := ps.prompt.Clone()
		newPrompt.UUID = store.NewUUID()
		newPrompt.Output = ""
		newPrompt.Error = ""
		newPrompt.StartedAt = 0
		newPrompt.FinishedAt = 0
		newPrompt.Status = model.StatusPending
		newPrompt.Resume = resume
		newPrompt.QueueRank = o.queue.NextRank()

		if o.cfg.Index != nil {
			_ = o.cfg.Index.Remove(uuid)
		}
		_ = o.cfg.Store.Delete(uuid)

		o.byID[id] = newPrompt.UUID
		o.prompts[newPrompt.UUID] = &promptState{prompt: newPrompt, cols: ps.cols, rows: ps.rows}
		o.queue.Insert(id, newPrompt.QueueRank)

		o.persist(newPrompt)
		o.broadcast(Event{Kind: EventPromptAdded, Prompt: newPrompt.Clone()})
		result = newPrompt
	})
	return result, retErr
}

// KillWorker terminates the worker for id, transitioning it to
// Failed(killed).
func (o *Orchestrator) KillWorker(id int) error {
	var retErr error
	o.submit(func() {
		uuid, ok := o.byID[id]
		if !ok {
			retErr = stateErr("kill", "unknown prompt id")
			return
		}
		ps := o.prompts[uuid]
		if ps.w == nil {
			retErr = stateErr("kill", "prompt has no live worker")
			return
		}
		ps.w.Kill()
	})
	return retErr
}

// MovePromptUp swaps id's rank with the adjacent Pending prompt of lower
// rank (dispatches sooner).
func (o *Orchestrator) MovePromptUp(id int) error { return o.moveAdjacent(id, -1) }

// MovePromptDown swaps id's rank with the adjacent Pending prompt of
// higher rank (dispatches later).
func (o *Orchestrator) MovePromptDown(id int) error { return o.moveAdjacent(id, 1) }

func (o *Orchestrator) moveAdjacent(id, dir int) error {
	var retErr error
	o.submit(func() {
		uuid, ok := o.byID[id]
		if !ok {
			retErr = stateErr("move", "unknown prompt id")
			return
		}
		if o.prompts[uuid].prompt.Status != model.StatusPending {
			retErr = stateErr("move", "prompt is not pending")
			return
		}
		if !o.queue.SwapAdjacent(id, dir) {
			return
		}
		for _, entry := range o.queue.Entries() {
			if u, ok := o.byID[entry.PromptID]; ok {
				ps := o.prompts[u]
				if ps.prompt.QueueRank != entry.Rank {
					ps.prompt.QueueRank = entry.Rank
					o.persist(ps.prompt)
					o.broadcast(Event{Kind: EventPromptUpdated, Prompt: ps.prompt.Clone()})
				}
			}
		}
	})
	return retErr
}

// DeletePrompt removes a prompt from the list, deletes its file, and kills
// its worker if one is live.
func (o *Orchestrator) DeletePrompt(id int) error {
	var retErr error
	o.submit(func() {
		uuid, ok := o.byID[id]
		if !ok {
			retErr = stateErr("delete", "unknown prompt id")
			return
		}
		o.deletePromptLocked(uuid)
	})
	return retErr
}

// deletePromptLocked must only be called from the event-loop goroutine.
func (o *Orchestrator) deletePromptLocked(uuid string) {
	ps, ok := o.prompts[uuid]
	if !ok {
		return
	}
	if ps.w != nil {
		ps.w.Kill()
	}
	o.queue.Remove(ps.prompt.ID)
	delete(o.prompts, uuid)
	delete(o.byID, ps.prompt.ID)

	if err := o.cfg.Store.Delete(uuid); err != nil {
		log.Warn(log.CatStore, "failed deleting prompt file", "uuid", uuid, "error", err)
	}
	if o.cfg.Index != nil {
		if err := o.cfg.Index.Remove(uuid); err != nil {
			log.Warn(log.CatStore, "failed removing prompt from index", "uuid", uuid, "error", err)
		}
	}
	o.broadcast(Event{Kind: EventPromptRemoved, PromptID: ps.prompt.ID})
}

// SetMaxWorkers updates the concurrency cap without preempting existing
// workers.
func (o *Orchestrator) SetMaxWorkers(n int) error {
	if n < 1 || n > 20 {
		return stateErr("set-max-workers", "count must be between 1 and 20")
	}
	o.submit(func() { o.cfg.MaxWorkers = n })
	return nil
}

// SendInput delivers follow-up text to an Idle or Running streaming
// worker.
func (o *Orchestrator) SendInput(id int, text string) error {
	var retErr error
	o.submit(func() {
		uuid, ok := o.byID[id]
		if !ok {
			retErr = stateErr("send-input", "unknown prompt id")
			return
		}
		ps := o.prompts[uuid]
		if ps.w == nil || !ps.prompt.Status.IsActive() {
			retErr = stateErr("send-input", "prompt has no active worker")
			return
		}
		if err := ps.w.SendInput(text); err != nil {
			retErr = err
			return
		}
		if ps.prompt.Status == model.StatusIdle {
			ps.prompt.Status = model.StatusRunning
			o.broadcast(Event{Kind: EventPromptUpdated, Prompt: ps.prompt.Clone()})
		}
	})
	return retErr
}

// SendPtyBytes forwards raw bytes to an interactive prompt's PTY master.
func (o *Orchestrator) SendPtyBytes(id int, data []byte) error {
	var retErr error
	o.submit(func() {
		uuid, ok := o.byID[id]
		if !ok {
			retErr = stateErr("send-pty-bytes", "unknown prompt id")
			return
		}
		ps := o.prompts[uuid]
		if ps.w == nil {
			retErr = stateErr("send-pty-bytes", "prompt has no active worker")
			return
		}
		retErr = ps.w.SendBytes(data)
	})
	return retErr
}

// ResizePty updates the remembered size for id and, if a worker is live,
// resizes its PTY and local emulator now.
func (o *Orchestrator) ResizePty(id, cols, rows int) error {
	var retErr error
	o.submit(func() {
		uuid, ok := o.byID[id]
		if !ok {
			retErr = stateErr("resize", "unknown prompt id")
			return
		}
		ps := o.prompts[uuid]
		ps.cols, ps.rows = cols, rows
		if ps.w != nil {
			retErr = ps.w.Resize(cols, rows)
		}
	})
	return retErr
}

// GetState returns a snapshot of every prompt currently held.
func (o *Orchestrator) GetState() []model.Prompt {
	var snapshot []model.Prompt
	o.submit(func() {
		snapshot = make([]model.Prompt, 0, len(o.prompts))
		for _, ps := range o.prompts {
			snapshot = append(snapshot, ps.prompt.Clone())
		}
	})
	return snapshot
}

// GetPromptOutput returns the full accumulated output for id, including
// the live replay-buffer contents if the prompt is interactive and has a
// worker.
func (o *Orchestrator) GetPromptOutput(id int) (model.Prompt, []byte, error) {
	var p model.Prompt
	var replay []byte
	var retErr error
	o.submit(func() {
		uuid, ok := o.byID[id]
		if !ok {
			retErr = stateErr("get-output", "unknown prompt id")
			return
		}
		ps := o.prompts[uuid]
		p = ps.prompt.Clone()
		if ps.ring != nil {
			replay = ps.ring.Snapshot()
		}
	})
	return p, replay, retErr
}

// StoreList returns every stored prompt, for read-only listing.
func (o *Orchestrator) StoreList() []model.Prompt {
	var out []model.Prompt
	o.submit(func() {
		for _, ps := range o.prompts {
			out = append(out, ps.prompt.Clone())
		}
	})
	return out
}

// StoreCount returns the number of stored prompts.
func (o *Orchestrator) StoreCount() int {
	var n int
	o.submit(func() { n = len(o.prompts) })
	return n
}

// StorePath returns the directory prompts are persisted under.
func (o *Orchestrator) StorePath() string {
	return o.cfg.Store.Dir()
}

// StoreDrop deletes every non-active prompt matching filter.
func (o *Orchestrator) StoreDrop(filter store.Filter) int {
	n := 0
	o.submit(func() {
		var toDelete []string
		for uuid, ps := range o.prompts {
			if filter.Matches(ps.prompt) {
				toDelete = append(toDelete, uuid)
			}
		}
		for _, uuid := range toDelete {
			o.deletePromptLocked(uuid)
			n++
		}
	})
	return n
}

// StoreKeep deletes every non-active prompt NOT matching filter.
func (o *Orchestrator) StoreKeep(filter store.Filter) int {
	n := 0
	o.submit(func() {
		var toDelete []string
		for uuid, ps := range o.prompts {
			if ps.prompt.Status.IsActive() {
				continue
			}
			if !filter.Matches(ps.prompt) {
				toDelete = append(toDelete, uuid)
			}
		}
		for _, uuid := range toDelete {
			o.deletePromptLocked(uuid)
			n++
		}
	})
	return n
}

// CleanWorktrees removes worktrees belonging to terminal prompts.
func (o *Orchestrator) CleanWorktrees() int {
	n := 0
	o.submit(func() {
		for _, ps := range o.prompts {
			if ps.prompt.Status.IsTerminal() && ps.prompt.WorktreePath != "" && o.cfg.Worktree != nil {
				if err := o.cfg.Worktree.Remove(ps.prompt.Cwd, ps.prompt.WorktreePath); err != nil {
					log.ErrorErr(log.CatOrch, "failed cleaning worktree", err, "prompt_id", ps.prompt.ID)
					continue
				}
				if err := o.cfg.Worktree.Prune(ps.prompt.Cwd); err != nil {
					log.ErrorErr(log.CatOrch, "failed pruning worktrees", err, "prompt_id", ps.prompt.ID)
				}
				ps.prompt.WorktreePath = ""
				o.persist(ps.prompt)
				n++
			}
		}
	})
	return n
}

// Ping is a liveness check that round-trips through the event loop.
func (o *Orchestrator) Ping() time.Time {
	var now time.Time
	o.submit(func() { now = time.Now() })
	return now
}
