package orchestrator

import (
	"github.com/abusi/clhorde/internal/log"
	"github.com/abusi/clhorde/internal/model"
)

// EventKind tags the payload of an Event delivered to subscribed clients.
type EventKind int

const (
	// EventPromptAdded is emitted once when SubmitPrompt/RetryPrompt places
	// a prompt into Pending.
	EventPromptAdded EventKind = iota
	// EventPromptUpdated is emitted whenever any externally visible field
	// of a prompt changes.
	EventPromptUpdated
	// EventPromptRemoved is emitted on DeletePrompt or a bulk store drop.
	EventPromptRemoved
	// EventPTYBytes carries a chunk of PTY output for one prompt.
	EventPTYBytes
	// EventStateSnapshot is delivered once, to a single new subscriber, in
	// reply to Subscribe.
	EventStateSnapshot
	// EventShutdown announces that the daemon is exiting. The orchestrator
	// itself never emits it; the IPC server's Shutdown sends its own
	// shutdown message to every connection instead.
	EventShutdown
)

// Event is the message shape delivered to a subscribed client's channel.
type Event struct {
	Kind     EventKind
	Prompt   model.Prompt   // EventPromptAdded/Updated/Removed
	PromptID int            // EventPTYBytes, EventPromptRemoved
	Data     []byte         // EventPTYBytes
	Snapshot []model.Prompt // EventStateSnapshot
}

// Subscribe registers a new client event sink and returns its id (used to
// Unsubscribe later) and channel. A StateSnapshot is delivered to this
// channel only, before any other event is sent to any subscriber,
// reflecting state at the moment of this call.
func (o *Orchestrator) Subscribe() (int, <-chan Event) {
	var id int
	var ch chan Event
	o.submit(func() {
		o.nextSubID++
		id = o.nextSubID
		ch = make(chan Event, 256)
		o.subs[id] = &subscriber{id: id, events: ch, active: true}

		snapshot := make([]model.Prompt, 0, len(o.prompts))
		for _, ps := range o.prompts {
			snapshot = append(snapshot, ps.prompt.Clone())
		}
		select {
		case ch <- Event{Kind: EventStateSnapshot, Snapshot: snapshot}:
		default:
			log.Warn(log.CatOrch, "state snapshot dropped, subscriber channel full", "sub_id", id)
		}
	})
	return id, ch
}

// Unsubscribe stops delivery to a previously subscribed client and closes
// its channel.
func (o *Orchestrator) Unsubscribe(id int) {
	o.submit(func() {
		sub, ok := o.subs[id]
		if !ok {
			return
		}
		delete(o.subs, id)
		close(sub.events)
	})
}
