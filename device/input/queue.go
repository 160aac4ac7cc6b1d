// Package input implements the bounded event queue that carries decoded key
// events from the keyboard interrupt handler to foreground consumers. The
// interrupt side pushes and never blocks; the foreground side pulls with
// polling or blocking semantics.
package input

import (
	"vesper/kernel/cpu"
	"vesper/kernel/sync"
)

// queueCapacity is the fixed number of events a queue can hold. It must be
// a power of 2 so the read and write indices can wrap with a mask.
const queueCapacity = 128

// haltFn is used by tests to override the wait-for-interrupt instruction
// issued while a blocking pop spins on an empty queue.
var haltFn = cpu.Halt

// KeyEvent is one decoded key press.
type KeyEvent struct {
	// Char is the decoded character for printable keys.
	Char rune
}

// Queue is a fixed-capacity FIFO for key events. Pushes from interrupt
// context drop the incoming event when the queue is full rather than
// overwrite undelivered ones.
type Queue struct {
	mutex sync.Spinlock

	events   [queueCapacity]KeyEvent
	readIdx  uint32
	writeIdx uint32
}

// Push appends an event to the queue. It returns false when the queue is
// full and the event was dropped.
func (q *Queue) Push(event KeyEvent) bool {
	q.mutex.Acquire()
	if q.writeIdx-q.readIdx == queueCapacity {
		q.mutex.Release()
		return false
	}

	q.events[q.writeIdx&(queueCapacity-1)] = event
	q.writeIdx++
	q.mutex.Release()
	return true
}

// Pop removes and returns the oldest queued event. The second return value
// is false when the queue is empty.
func (q *Queue) Pop() (KeyEvent, bool) {
	q.mutex.Acquire()
	if q.readIdx == q.writeIdx {
		q.mutex.Release()
		return KeyEvent{}, false
	}

	event := q.events[q.readIdx&(queueCapacity-1)]
	q.readIdx++
	q.mutex.Release()
	return event, true
}

// PopWait removes and returns the oldest queued event, halting the CPU
// between polls until an interrupt delivers one.
func (q *Queue) PopWait() KeyEvent {
	for {
		if event, ok := q.Pop(); ok {
			return event
		}
		haltFn()
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mutex.Acquire()
	n := int(q.writeIdx - q.readIdx)
	q.mutex.Release()
	return n
}
