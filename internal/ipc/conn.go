package ipc

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/abusi/clhorde/internal/log"
	"github.com/abusi/clhorde/internal/model"
	"github.com/abusi/clhorde/internal/orchestrator"
	"github.com/abusi/clhorde/internal/store"
	"github.com/abusi/clhorde/internal/wire"
)

const (
	eventQueueCapacity = 256
	ptyQueueCapacity    = 64
	// eventOverflowGrace bounds how long a full, non-droppable outbound
	// queue is tolerated before the connection is considered stuck and
	// dropped, matching the client reconnect-poll interval.
	eventOverflowGrace = 2 * time.Second
)

// connection owns one accepted socket: a reader goroutine that decodes
// requests and dispatches them against the orchestrator, and a writer
// goroutine that drains two outbound queues (non-droppable JSON events,
// droppable PTY-byte frames).
type connection struct {
	id   int
	conn net.Conn
	orch *orchestrator.Orchestrator

	outEvents chan []byte
	outPTY    chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	mu          sync.Mutex
	subID       int
	subCancel   chan struct{}
	defaultMode model.Mode
}

func newConnection(id int, nc net.Conn, orch *orchestrator.Orchestrator) *connection {
	return &connection{
		id:          id,
		conn:        nc,
		orch:        orch,
		outEvents:   make(chan []byte, eventQueueCapacity),
		outPTY:      make(chan []byte, ptyQueueCapacity),
		closed:      make(chan struct{}),
		defaultMode: model.ModeOneShot,
	}
}

// serve runs the writer loop and reads requests until the connection is
// closed or a protocol error makes framing unrecoverable. It blocks.
func (c *connection) serve() {
	go c.writeLoop()
	defer c.close()

	r := bufio.NewReader(c.conn)
	for {
		frame, err := wire.Decode(r)
		if err != nil {
			if err != io.EOF {
				log.Warn(log.CatIPC, "decode error, closing connection", "conn_id", c.id, "error", err)
			}
			return
		}
		if frame.Kind != wire.KindJSON {
			log.Warn(log.CatIPC, "client sent non-JSON frame, closing connection", "conn_id", c.id)
			return
		}

		var req Request
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			c.sendMessage(Message{Type: MsgError, Message: "bad request: " + err.Error()})
			continue
		}
		c.handleRequest(req)
	}
}

func (c *connection) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case b, ok := <-c.outPTY:
			if !ok {
				return
			}
			if _, err := c.conn.Write(b); err != nil {
				c.close()
				return
			}
		case b, ok := <-c.outEvents:
			if !ok {
				return
			}
			if _, err := c.conn.Write(b); err != nil {
				c.close()
				return
			}
		}
	}
}

// sendMessage enqueues a JSON message. It is the non-droppable path: on a
// full queue it waits up to eventOverflowGrace for room, and if none frees
// up the connection is dropped.
func (c *connection) sendMessage(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Warn(log.CatIPC, "failed marshaling outbound message", "conn_id", c.id, "error", err)
		return
	}
	frame, err := wire.JSONFrame(payload)
	if err != nil {
		log.Warn(log.CatIPC, "failed framing outbound message", "conn_id", c.id, "error", err)
		return
	}

	select {
	case c.outEvents <- frame:
		return
	default:
	}
	timer := time.NewTimer(eventOverflowGrace)
	defer timer.Stop()
	select {
	case c.outEvents <- frame:
	case <-c.closed:
	case <-timer.C:
		log.Warn(log.CatIPC, "outbound event queue stuck, dropping connection", "conn_id", c.id)
		c.close()
	}
}

// sendPTY enqueues a PTY-output frame. It is the droppable path: on a
// full queue the oldest buffered frame is discarded to make room, since a
// reconnecting subscriber re-snapshots the ring buffer anyway.
func (c *connection) sendPTY(promptID int, data []byte) {
	frame := wire.PTYFrame(uint32(promptID), data)
	select {
	case c.outPTY <- frame:
		return
	default:
	}
	select {
	case <-c.outPTY:
	default:
	}
	select {
	case c.outPTY <- frame:
	default:
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		cancel := c.subCancel
		subID := c.subID
		c.subID = 0
		c.mu.Unlock()
		if cancel != nil {
			close(cancel)
		}
		if subID != 0 {
			c.orch.Unsubscribe(subID)
		}
		_ = c.conn.Close()
	})
}

func (c *connection) handleRequest(req Request) {
	switch req.Type {
	case VerbSubmitPrompt:
		mode := c.resolveMode(req.Mode)
		p, err := c.orch.SubmitPrompt(req.Text, req.Cwd, mode, req.Worktree)
		c.respondPrompt(MsgPromptAdded, p, err)

	case VerbRetryPrompt:
		p, err := c.orch.RetryPrompt(req.PromptID)
		c.respondPrompt(MsgPromptAdded, p, err)

	case VerbResumePrompt:
		p, err := c.orch.ResumePrompt(req.PromptID)
		c.respondPrompt(MsgPromptAdded, p, err)

	case VerbKillWorker:
		c.respondErr(c.orch.KillWorker(req.PromptID))

	case VerbMovePromptUp:
		c.respondErr(c.orch.MovePromptUp(req.PromptID))

	case VerbMovePromptDown:
		c.respondErr(c.orch.MovePromptDown(req.PromptID))

	case VerbDeletePrompt:
		if err := c.orch.DeletePrompt(req.PromptID); err != nil {
			c.sendMessage(Message{Type: MsgError, Message: err.Error()})
			return
		}
		c.sendMessage(Message{Type: MsgPromptRemoved, PromptID: req.PromptID})

	case VerbSetMaxWorkers:
		if err := c.orch.SetMaxWorkers(req.Count); err != nil {
			c.sendMessage(Message{Type: MsgError, Message: err.Error()})
			return
		}
		c.sendMessage(Message{Type: MsgMaxWorkers, MaxWorkers: req.Count})

	case VerbSetDefaultMode:
		c.mu.Lock()
		c.defaultMode = c.resolveMode(req.Mode)
		c.mu.Unlock()
		c.sendMessage(Message{Type: MsgOk})

	case VerbSendInput:
		c.respondErr(c.orch.SendInput(req.PromptID, req.Text))

	case VerbSendPtyBytes:
		c.respondErr(c.orch.SendPtyBytes(req.PromptID, req.Data))

	case VerbResizePty:
		c.respondErr(c.orch.ResizePty(req.PromptID, req.Cols, req.Rows))

	case VerbSubscribe:
		c.subscribe()

	case VerbUnsubscribe:
		c.unsubscribe()
		c.sendMessage(Message{Type: MsgOk})

	case VerbGetState:
		c.sendMessage(Message{Type: MsgStateSnapshot, Prompts: c.orch.GetState()})

	case VerbGetPromptOutput:
		p, replay, err := c.orch.GetPromptOutput(req.PromptID)
		if err != nil {
			c.sendMessage(Message{Type: MsgError, Message: err.Error()})
			return
		}
		c.sendMessage(Message{Type: MsgPromptOutput, PromptID: p.ID, Output: p.Output})
		if len(replay) > 0 {
			c.sendPTY(p.ID, replay)
		}

	case VerbStoreList:
		c.sendMessage(Message{Type: MsgStateSnapshot, Prompts: c.orch.StoreList()})

	case VerbStoreCount:
		c.sendMessage(Message{Type: MsgStoreOpResult, Count: c.orch.StoreCount()})

	case VerbStorePath:
		c.sendMessage(Message{Type: MsgStoreOpResult, Path: c.orch.StorePath()})

	case VerbStoreDrop:
		n := c.orch.StoreDrop(store.Filter(defaultFilter(req.Filter)))
		c.sendMessage(Message{Type: MsgStoreOpResult, Count: n})

	case VerbStoreKeep:
		n := c.orch.StoreKeep(store.Filter(defaultFilter(req.Filter)))
		c.sendMessage(Message{Type: MsgStoreOpResult, Count: n})

	case VerbCleanWorktrees:
		c.sendMessage(Message{Type: MsgStoreOpResult, Count: c.orch.CleanWorktrees()})

	case VerbPing:
		c.orch.Ping()
		c.sendMessage(Message{Type: MsgPong})

	case VerbShutdown:
		c.sendMessage(Message{Type: MsgOk})
		go c.orch.Shutdown(5 * time.Second)

	default:
		c.sendMessage(Message{Type: MsgError, Message: "unknown verb: " + req.Type})
	}
}

func (c *connection) respondPrompt(msgType string, p model.Prompt, err error) {
	if err != nil {
		c.sendMessage(Message{Type: MsgError, Message: err.Error()})
		return
	}
	c.sendMessage(Message{Type: msgType, Prompt: &p})
}

func (c *connection) respondErr(err error) {
	if err != nil {
		c.sendMessage(Message{Type: MsgError, Message: err.Error()})
		return
	}
	c.sendMessage(Message{Type: MsgOk})
}

func (c *connection) resolveMode(raw string) model.Mode {
	switch model.Mode(raw) {
	case model.ModeInteractive:
		return model.ModeInteractive
	case model.ModeOneShot:
		return model.ModeOneShot
	default:
		c.mu.Lock()
		d := c.defaultMode
		c.mu.Unlock()
		return d
	}
}

func defaultFilter(raw string) string {
	if raw == "" {
		return string(store.FilterAll)
	}
	return raw
}

// subscribe starts forwarding orchestrator events to this connection. It
// is idempotent: a second Subscribe call on an already-subscribed
// connection is a no-op.
func (c *connection) subscribe() {
	c.mu.Lock()
	if c.subID != 0 {
		c.mu.Unlock()
		return
	}
	id, ch := c.orch.Subscribe()
	cancel := make(chan struct{})
	c.subID = id
	c.subCancel = cancel
	c.mu.Unlock()

	go c.pumpEvents(ch, cancel)
}

func (c *connection) unsubscribe() {
	c.mu.Lock()
	id := c.subID
	cancel := c.subCancel
	c.subID = 0
	c.subCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		close(cancel)
	}
	if id != 0 {
		c.orch.Unsubscribe(id)
	}
}

func (c *connection) pumpEvents(ch <-chan orchestrator.Event, cancel <-chan struct{}) {
	for {
		select {
		case <-cancel:
			return
		case <-c.closed:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.deliver(ev)
		}
	}
}

func (c *connection) deliver(ev orchestrator.Event) {
	switch ev.Kind {
	case orchestrator.EventStateSnapshot:
		c.sendMessage(Message{Type: MsgStateSnapshot, Prompts: ev.Snapshot})
	case orchestrator.EventPromptAdded:
		c.sendMessage(Message{Type: MsgPromptAdded, Prompt: &ev.Prompt})
	case orchestrator.EventPromptUpdated:
		c.sendMessage(Message{Type: MsgPromptUpdated, Prompt: &ev.Prompt})
	case orchestrator.EventPromptRemoved:
		c.sendMessage(Message{Type: MsgPromptRemoved, PromptID: ev.PromptID})
	case orchestrator.EventPTYBytes:
		c.sendPTY(ev.PromptID, ev.Data)
	case orchestrator.EventShutdown:
		c.sendMessage(Message{Type: MsgOk, Message: "shutting down"})
	}
}
