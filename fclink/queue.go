package fclink

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// QueuedCommand is a command waiting to be sent to Address
type QueuedCommand struct {
	Address uint16
	Command Command
}

// CommandQueue holds the commands waiting for a heartbeat slot.
// It keeps at most one command per kind, a newer one replaces
// the older and goes to the back of the queue.
//
// An EmergencyStop drops everything else and latches: until a
// Reset is enqueued, any other command is discarded.
//
// CommandQueue is safe for concurrent use.
type CommandQueue struct {
	mu      sync.Mutex
	pending []QueuedCommand

	estopActive  bool
	estopAddress uint16
}

// NewCommandQueue returns an empty CommandQueue
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{}
}

func (q *CommandQueue) removeKind(kind CommandKind) {
	kept := q.pending[:0]
	for _, qc := range q.pending {
		if qc.Command.Kind() != kind {
			kept = append(kept, qc)
		}
	}
	for ii := len(kept); ii < len(q.pending); ii++ {
		q.pending[ii] = QueuedCommand{}
	}
	q.pending = kept
}

// Enqueue adds cmd to the queue
func (q *CommandQueue) Enqueue(address uint16, cmd Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	qc := QueuedCommand{Address: address, Command: cmd}
	switch cmd.Kind() {
	case KindEmergencyStop:
		q.pending = []QueuedCommand{qc}
		q.estopActive = true
		q.estopAddress = address
		log.Warnf("emergency stop requested for %d", address)
		return
	case KindReset:
		q.estopActive = false
		q.removeKind(KindEmergencyStop)
	default:
		if q.estopActive {
			log.Warnf("emergency stop active, discarding %s", cmd.Kind())
			return
		}
	}
	q.removeKind(cmd.Kind())
	q.pending = append(q.pending, qc)
}

// Dequeue removes the oldest command and returns its destination
// and encoded payload. ok is false if the queue is empty.
func (q *CommandQueue) Dequeue() (address uint16, line string, ok bool) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return 0, "", false
	}
	qc := q.pending[0]
	q.pending[0] = QueuedCommand{}
	q.pending = q.pending[1:]
	q.mu.Unlock()
	return qc.Address, qc.Command.Encode(), true
}

// EmergencyStop reports whether an emergency stop is latched and
// the address it was sent to. A pending EmergencyStop entry is
// consumed, since the caller is about to transmit it.
func (q *CommandQueue) EmergencyStop() (address uint16, active bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.estopActive {
		return 0, false
	}
	q.removeKind(KindEmergencyStop)
	return q.estopAddress, true
}

// EmergencyStopActive reports whether an emergency stop is latched
func (q *CommandQueue) EmergencyStopActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.estopActive
}

// Len returns the number of pending commands
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns a copy of the queued commands, oldest first
func (q *CommandQueue) Pending() []QueuedCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]QueuedCommand(nil), q.pending...)
}

// Clear drops every pending command. The emergency stop latch
// is left untouched.
func (q *CommandQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
}
