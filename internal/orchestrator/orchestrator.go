// Package orchestrator is the single source of truth for prompt state and
// the worker pool. All mutation is serialized through one goroutine's
// event loop (run); every external input — client requests, worker
// events, persistence completions — arrives as a message on a channel
// read only by that goroutine, so orchestrator-owned state needs no
// mutex, the same reasoning already applied to internal/rankqueue.
//
// Grounded on internal/orchestration/pool/pool.go for the worker-map and
// broker shape (generalized from its mutex-protected map to a
// single-owner one) and internal/orchestration/client/base_process.go's
// goroutine-per-concern style for how a worker's events get translated
// into orchestrator messages.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/abusi/clhorde/internal/log"
	"github.com/abusi/clhorde/internal/model"
	"github.com/abusi/clhorde/internal/rankqueue"
	"github.com/abusi/clhorde/internal/ring"
	"github.com/abusi/clhorde/internal/store"
	"github.com/abusi/clhorde/internal/store/index"
	"github.com/abusi/clhorde/internal/tracing"
	"github.com/abusi/clhorde/internal/worker"
	"github.com/abusi/clhorde/internal/worktree"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxWorkers matches the teacher pool's default.
const DefaultMaxWorkers = 4

// DefaultRingCapacity is the default per-prompt PTY replay buffer size.
const DefaultRingCapacity = 64 * 1024

// Config configures a new Orchestrator.
type Config struct {
	Store             *store.Store
	Index             *index.Index
	Worktree          *worktree.Helper
	Tracer            *tracing.Provider
	SpawnPTY          worker.SpawnFunc
	SpawnStream       worker.SpawnFunc
	MaxWorkers        int
	RingCapacity      int
	AutoCleanWorktree bool
	MaxTerminalKept   int
}

// promptState is the orchestrator's full in-memory record for one prompt:
// the persisted model.Prompt plus the runtime-only pieces that never touch
// disk (the live worker handle and its replay buffer).
type promptState struct {
	prompt model.Prompt
	w      worker.Worker
	ring   *ring.Buffer
	cols   int
	rows   int
	span   spanHandle
}

// subscriber is a connected client's event sink.
type subscriber struct {
	id     int
	events chan Event
	active bool
}

// Orchestrator owns all prompt state and the worker pool.
type Orchestrator struct {
	cfg   Config
	queue *rankqueue.Queue

	prompts map[string]*promptState // by uuid
	byID    map[int]string          // id -> uuid
	nextID  int

	subs      map[int]*subscriber
	nextSubID int

	cmds   chan func()
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// New constructs an Orchestrator from cfg and loads existing prompts from
// the store. It does not start the event loop; call Run for that.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = DefaultRingCapacity
	}

	o := &Orchestrator{
		cfg:     cfg,
		queue:   rankqueue.New(),
		prompts: make(map[string]*promptState),
		byID:    make(map[int]string),
		subs:    make(map[int]*subscriber),
		cmds:    make(chan func(), 64),
		done:    make(chan struct{}),
	}

	loaded, err := cfg.Store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: loading prompts: %w", err)
	}

	for _, p := range loaded {
		// No live process owns Running/Idle prompts across a restart.
		if p.Status.IsActive() {
			p.Status = model.StatusCompleted
			p.FinishedAt = time.Now().UnixMilli()
			if err := cfg.Store.Save(p); err != nil {
				log.Warn(log.CatOrch, "failed rewriting orphaned active prompt on startup", "uuid", p.UUID, "error", err)
			}
		}
		ps := &promptState{prompt: p, cols: 80, rows: 24}
		o.prompts[p.UUID] = ps
		o.byID[p.ID] = p.UUID
		if p.ID >= o.nextID {
			o.nextID = p.ID + 1
		}
		if p.Status == model.StatusPending {
			o.queue.Insert(p.ID, p.QueueRank)
		}
		if cfg.Index != nil {
			if err := cfg.Index.Upsert(p); err != nil {
				log.Warn(log.CatStore, "failed indexing prompt on startup", "uuid", p.UUID, "error", err)
			}
		}
	}

	log.Info(log.CatOrch, "orchestrator loaded prompts", "count", len(loaded))
	return o, nil
}

// Run executes the event loop until ctx is cancelled or Shutdown is
// called. It blocks.
func (o *Orchestrator) Run(ctx context.Context) {
	o.dispatch()
	for {
		select {
		case <-ctx.Done():
			o.shutdownWorkers()
			return
		case <-o.done:
			o.shutdownWorkers()
			return
		case fn := <-o.cmds:
			fn()
			o.dispatch()
		}
	}
}

// submit enqueues fn to run on the event-loop goroutine and blocks until
// it has executed. Every externally visible method on Orchestrator is
// built on this, which is what makes the rest of the package lock-free.
func (o *Orchestrator) submit(fn func()) {
	reply := make(chan struct{})
	select {
	case o.cmds <- func() { fn(); close(reply) }:
		<-reply
	case <-o.done:
	}
}

// Shutdown stops the event loop after killing all workers and waiting up
// to grace for them to exit.
func (o *Orchestrator) Shutdown(grace time.Duration) {
	o.submit(func() {
		if o.closed {
			return
		}
		o.closed = true
		for _, ps := range o.prompts {
			if ps.w != nil {
				ps.w.Kill()
			}
		}
	})

	deadline := time.After(grace)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			close(o.done)
			return
		case <-ticker.C:
			if o.activeWorkerCount() == 0 {
				close(o.done)
				return
			}
		}
	}
}

func (o *Orchestrator) activeWorkerCount() int {
	var result int
	done := make(chan struct{})
	select {
	case o.cmds <- func() {
		for _, ps := range o.prompts {
			if ps.prompt.Status.IsActive() {
				result++
			}
		}
		close(done)
	}:
		<-done
		return result
	case <-o.done:
		return 0
	}
}

func (o *Orchestrator) shutdownWorkers() {
	for _, ps := range o.prompts {
		if ps.w != nil {
			ps.w.Kill()
		}
	}
	for _, sub := range o.subs {
		close(sub.events)
	}
}

// broadcast sends ev to every subscribed client's channel, dropping on a
// full buffer rather than blocking the event loop.
func (o *Orchestrator) broadcast(ev Event) {
	for _, sub := range o.subs {
		if !sub.active {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			log.Warn(log.CatOrch, "subscriber event dropped, channel full", "sub_id", sub.id)
		}
	}
}

// persist writes p's current state to the store and upserts the index. It
// is called inline on the event-loop goroutine; the teacher's note about
// offloading blocking I/O to a worker pool is honored by keeping this call
// fast (a single small JSON file) rather than literally spawning a
// goroutine per write, which would reorder writes for the same prompt.
func (o *Orchestrator) persist(p model.Prompt) {
	if err := o.cfg.Store.Save(p); err != nil {
		log.Warn(log.CatStore, "failed persisting prompt", "uuid", p.UUID, "error", err)
	}
	if o.cfg.Index != nil {
		if err := o.cfg.Index.Upsert(p); err != nil {
			log.Warn(log.CatStore, "failed indexing prompt", "uuid", p.UUID, "error", err)
		}
	}
}

type spanHandle struct {
	end func()
}

func (o *Orchestrator) startWorkerSpan(p model.Prompt) spanHandle {
	if o.cfg.Tracer == nil {
		return spanHandle{end: func() {}}
	}
	_, span := o.cfg.Tracer.Tracer().Start(context.Background(), "worker.lifecycle",
		trace.WithAttributes(attribute.Int("prompt.id", p.ID), attribute.String("prompt.mode", string(p.Mode))))
	return spanHandle{end: func() { span.End() }}
}
