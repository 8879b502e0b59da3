// Package bus implements the process event bus: a broadcast channel where
// every subscriber owns a bounded buffer and drops the oldest event on
// overflow rather than blocking the producer.
package bus

import (
	"sync"

	"github.com/pico-agents/coreagent/pkg/logger"
	"github.com/pico-agents/coreagent/pkg/model"
)

// ProcessEventKind classifies one event on the bus.
type ProcessEventKind string

const (
	EventToolStarted       ProcessEventKind = "tool_started"
	EventToolCompleted     ProcessEventKind = "tool_completed"
	EventToolFailed        ProcessEventKind = "tool_failed"
	EventBranchStarted     ProcessEventKind = "branch_started"
	EventBranchCompleted   ProcessEventKind = "branch_completed"
	EventWorkerStarted     ProcessEventKind = "worker_started"
	EventWorkerCompleted   ProcessEventKind = "worker_completed"
	EventProcessTerminated ProcessEventKind = "process_terminated"
	EventCompactionRun     ProcessEventKind = "compaction_run"
	EventCronFailed        ProcessEventKind = "cron_failed"
	EventMemoryContradict  ProcessEventKind = "memory_contradiction"
)

// ProcessEvent is one entry on the bus. Payload is kind-specific and left as
// a string-keyed bag rather than kind-specific structs, since subscribers
// (status block, Cortex) only need a handful of common fields.
type ProcessEvent struct {
	Kind    ProcessEventKind
	Process model.ProcessID
	Channel string // conversation/channel id the event concerns, if any
	Tool    string
	Task    string
	Detail  string
	Err     string
}

const defaultSubscriberBuffer = 64

// EventBus is a broadcast channel: every Publish fans out to every current
// subscriber's own bounded channel. A full subscriber buffer drops its
// oldest event and logs a warning — the producer never blocks.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[int]chan ProcessEvent
	nextID      int
	bufferSize  int
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[int]chan ProcessEvent),
		bufferSize:  defaultSubscriberBuffer,
	}
}

// Subscription is a handle returned by Subscribe; call Unsubscribe when the
// caller is done to release its slot in the subscriber map.
type Subscription struct {
	id   int
	bus  *EventBus
	Ch   <-chan ProcessEvent
}

func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if ch, ok := s.bus.subscribers[s.id]; ok {
		close(ch)
		delete(s.bus.subscribers, s.id)
	}
}

func (b *EventBus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan ProcessEvent, b.bufferSize)
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	return &Subscription{id: id, bus: b, Ch: ch}
}

// Publish fans out ev to every subscriber. A subscriber whose buffer is full
// has its oldest queued event dropped to make room — publishers never block.
func (b *EventBus) Publish(ev ProcessEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case dropped := <-ch:
				logger.WarnCF("bus", "subscriber buffer full, dropping oldest event", map[string]interface{}{
					"subscriber": id,
					"dropped_kind": string(dropped.Kind),
				})
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
