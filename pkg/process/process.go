// Package process implements the supervision tree every Channel maintains
// over its Branches and Workers: handles only (never the running task
// itself), with the inbound sender retained so follow-up messages can be
// routed to an already-running Worker.
package process

import (
	"context"
	"fmt"
	"sync"

	"github.com/pico-agents/coreagent/pkg/bus"
	"github.com/pico-agents/coreagent/pkg/logger"
	"github.com/pico-agents/coreagent/pkg/model"
)

// Handle is what a supervisor keeps for a running Branch or Worker: an id,
// a cancel signal, and — for Workers — the inbound sender that lets the
// supervisor deliver follow-up text without the Worker's owner holding a
// reference to the running task.
type Handle struct {
	ID     model.ProcessID
	Cancel context.CancelFunc

	// InboundTx is nil for Branches (they don't accept follow-ups) and set
	// for Workers. Losing this reference at spawn time is the textbook bug:
	// follow-ups silently vanish because nothing holds the send half.
	InboundTx chan<- string
}

// Supervisor tracks live Branch and Worker handles for one Channel.
type Supervisor struct {
	mu       sync.Mutex
	branches map[string]*Handle
	workers  map[string]*Handle

	maxConcurrentBranches int
	maxConcurrentWorkers  int

	bus *bus.EventBus
}

func NewSupervisor(maxBranches, maxWorkers int, eventBus *bus.EventBus) *Supervisor {
	return &Supervisor{
		branches:              make(map[string]*Handle),
		workers:               make(map[string]*Handle),
		maxConcurrentBranches: maxBranches,
		maxConcurrentWorkers:  maxWorkers,
		bus:                   eventBus,
	}
}

// RegisterBranch adds h to the branch map, enforcing the concurrency cap.
func (s *Supervisor) RegisterBranch(h *Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxConcurrentBranches > 0 && len(s.branches) >= s.maxConcurrentBranches {
		return fmt.Errorf("process: branch concurrency cap (%d) reached", s.maxConcurrentBranches)
	}
	s.branches[h.ID.ID] = h
	return nil
}

// RegisterWorker adds h to the worker map. inboundTx must be the send half
// of the channel the Worker reads its follow-up queue from — the supervisor
// stores it so Route can deliver later messages.
func (s *Supervisor) RegisterWorker(h *Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxConcurrentWorkers > 0 && len(s.workers) >= s.maxConcurrentWorkers {
		return fmt.Errorf("process: worker concurrency cap (%d) reached", s.maxConcurrentWorkers)
	}
	if h.InboundTx == nil {
		return fmt.Errorf("process: worker %s registered without an inbound sender", h.ID.ID)
	}
	s.workers[h.ID.ID] = h
	return nil
}

// Route forwards text to the named Worker's inbound queue. Returns false if
// no such Worker is registered or its queue is full — callers should surface
// this to the user rather than silently dropping the follow-up.
func (s *Supervisor) Route(workerID, text string) bool {
	s.mu.Lock()
	h, ok := s.workers[workerID]
	s.mu.Unlock()
	if !ok || h.InboundTx == nil {
		return false
	}
	select {
	case h.InboundTx <- text:
		return true
	default:
		logger.WarnCF("process", "worker inbound queue full, follow-up dropped", map[string]interface{}{
			"worker_id": workerID,
		})
		return false
	}
}

// Cancel signals the target process to stop. The event bus is expected to
// report its terminal state asynchronously; Cancel itself does not block.
func (s *Supervisor) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.branches[id]; ok {
		h.Cancel()
		return
	}
	if h, ok := s.workers[id]; ok {
		h.Cancel()
	}
}

// CancelAll cancels every registered Branch and Worker — used when the
// owning Channel itself is cancelled, so cancellation is hierarchical.
func (s *Supervisor) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.branches {
		h.Cancel()
	}
	for _, h := range s.workers {
		h.Cancel()
	}
}

// Reap removes id from whichever map holds it. Called on a process's
// terminal event.
func (s *Supervisor) Reap(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.branches, id)
	delete(s.workers, id)
}

// BranchCount and WorkerCount report current concurrency for status/metrics.
func (s *Supervisor) BranchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.branches)
}

func (s *Supervisor) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// HasWorker reports whether a worker with this id is currently registered.
func (s *Supervisor) HasWorker(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[id]
	return ok
}
