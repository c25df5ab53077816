package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/abusi/clhorde/internal/log"
	"github.com/abusi/clhorde/internal/model"
	"github.com/abusi/clhorde/internal/ring"
	"github.com/abusi/clhorde/internal/worker"
)

// dispatch is invoked after every orchestrator event. While capacity
// allows and a Pending prompt exists, it picks the lowest-rank Pending
// prompt and spawns it.
func (o *Orchestrator) dispatch() {
	if o.closed {
		return
	}
	for o.activeCount() < o.cfg.MaxWorkers {
		entry, ok := o.queue.PopLowest()
		if !ok {
			return
		}
		o.spawnPrompt(entry.PromptID)
	}
}

func (o *Orchestrator) activeCount() int {
	n := 0
	for _, ps := range o.prompts {
		if ps.prompt.Status.IsActive() {
			n++
		}
	}
	return n
}

func (o *Orchestrator) spawnPrompt(id int) {
	uuid, ok := o.byID[id]
	if !ok {
		return
	}
	ps, ok := o.prompts[uuid]
	if !ok {
		return
	}

	var span trace.Span
	if o.cfg.Tracer != nil {
		_, span = o.cfg.Tracer.Tracer().Start(context.Background(), "orchestrator.dispatch",
			trace.WithAttributes(attribute.Int("prompt.id", id)))
	}

	if ps.prompt.Worktree && ps.prompt.WorktreePath == "" && o.cfg.Worktree != nil {
		if o.cfg.Worktree.IsGitRepo(ps.prompt.Cwd) {
			wtPath := fmt.Sprintf("%s/.clhorde-worktrees/%s", ps.prompt.Cwd, ps.prompt.UUID)
			branch := "clhorde/" + ps.prompt.UUID
			if err := o.cfg.Worktree.Create(ps.prompt.Cwd, wtPath, branch); err != nil {
				log.ErrorErr(log.CatOrch, "failed creating worktree, continuing in original cwd", err, "prompt_id", id)
			} else {
				ps.prompt.WorktreePath = wtPath
				o.persist(ps.prompt)
			}
		}
	}

	cwd := ps.prompt.Cwd
	if ps.prompt.WorktreePath != "" {
		cwd = ps.prompt.WorktreePath
	}

	spawn := worker.Spawn{
		PromptID:  id,
		Text:      ps.prompt.Text,
		Cwd:       cwd,
		Resume:    ps.prompt.Resume,
		SessionID: ps.prompt.SessionID,
		Cols:      ps.cols,
		Rows:      ps.rows,
	}

	spawnFunc := o.cfg.SpawnStream
	if ps.prompt.Mode == model.ModeInteractive {
		spawnFunc = o.cfg.SpawnPTY
		if ps.ring == nil {
			ps.ring = ring.New(o.cfg.RingCapacity)
		}
	}

	w, err := spawnFunc(context.Background(), spawn)
	if err != nil {
		ps.prompt.Status = model.StatusFailed
		ps.prompt.Error = err.Error()
		ps.prompt.FinishedAt = time.Now().UnixMilli()
		o.persist(ps.prompt)
		o.broadcast(Event{Kind: EventPromptUpdated, Prompt: ps.prompt.Clone()})
		if span != nil {
			span.End()
		}
		o.enforceRetention()
		return
	}

	ps.w = w
	ps.prompt.Status = model.StatusRunning
	ps.prompt.StartedAt = time.Now().UnixMilli()
	o.persist(ps.prompt)
	o.broadcast(Event{Kind: EventPromptUpdated, Prompt: ps.prompt.Clone()})
	if span != nil {
		span.End()
	}
	ps.span = o.startWorkerSpan(ps.prompt)

	o.wg.Add(1)
	go o.pumpWorkerEvents(id, w)
}

// pumpWorkerEvents translates one worker's Event stream into orchestrator
// mutations, submitted onto the event loop so they are serialized with
// everything else.
func (o *Orchestrator) pumpWorkerEvents(id int, w worker.Worker) {
	defer o.wg.Done()
	for ev := range w.Events() {
		ev := ev
		o.submit(func() { o.applyWorkerEvent(id, ev) })
	}
}

func (o *Orchestrator) applyWorkerEvent(id int, ev worker.Event) {
	uuid, ok := o.byID[id]
	if !ok {
		return
	}
	ps, ok := o.prompts[uuid]
	if !ok {
		return
	}

	switch ev.Kind {
	case worker.EventSessionID:
		ps.prompt.SessionID = ev.SessionID
		o.persist(ps.prompt)
		o.broadcast(Event{Kind: EventPromptUpdated, Prompt: ps.prompt.Clone()})

	case worker.EventOutputChunk:
		ps.prompt.Output += ev.Text

	case worker.EventTurnComplete:
		ps.prompt.Status = model.StatusIdle
		o.broadcast(Event{Kind: EventPromptUpdated, Prompt: ps.prompt.Clone()})

	case worker.EventPTYBytes:
		if ps.ring != nil {
			_, _ = ps.ring.Write(ev.Data)
		}
		o.broadcast(Event{Kind: EventPTYBytes, PromptID: id, Data: ev.Data})

	case worker.EventFinished, worker.EventSpawnError:
		o.finishPrompt(ps, ev)
	}
}

func (o *Orchestrator) finishPrompt(ps *promptState, ev worker.Event) {
	if extractor, ok := ps.w.(interface{ ExtractText() string }); ok {
		if text := extractor.ExtractText(); text != "" {
			ps.prompt.Output = text
		}
	}

	if ev.Err != nil {
		ps.prompt.Status = model.StatusFailed
		ps.prompt.Error = ev.Err.Error()
	} else {
		ps.prompt.Status = model.StatusCompleted
	}
	ps.prompt.FinishedAt = time.Now().UnixMilli()
	ps.w = nil
	ps.span.end()

	if ps.prompt.WorktreePath != "" && o.cfg.AutoCleanWorktree && o.cfg.Worktree != nil {
		if err := o.cfg.Worktree.Remove(ps.prompt.Cwd, ps.prompt.WorktreePath); err != nil {
			log.ErrorErr(log.CatOrch, "failed auto-cleaning worktree", err, "prompt_id", ps.prompt.ID)
		}
	}

	o.persist(ps.prompt)
	o.broadcast(Event{Kind: EventPromptUpdated, Prompt: ps.prompt.Clone()})
	o.enforceRetention()
}

// enforceRetention deletes the oldest terminal prompts beyond
// MaxTerminalKept, using DeletePrompt's own mechanics.
func (o *Orchestrator) enforceRetention() {
	if o.cfg.MaxTerminalKept <= 0 {
		return
	}
	var terminal []*promptState
	for _, ps := range o.prompts {
		if ps.prompt.Status.IsTerminal() {
			terminal = append(terminal, ps)
		}
	}
	excess := len(terminal) - o.cfg.MaxTerminalKept
	if excess <= 0 {
		return
	}
	for i := 0; i < len(terminal); i++ {
		for j := i + 1; j < len(terminal); j++ {
			if terminal[j].prompt.FinishedAt < terminal[i].prompt.FinishedAt {
				terminal[i], terminal[j] = terminal[j], terminal[i]
			}
		}
	}
	for i := 0; i < excess; i++ {
		o.deletePromptLocked(terminal[i].prompt.UUID)
	}
}
