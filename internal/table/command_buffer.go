package table

import "lockstep/internal/entity"

// commandKind distinguishes the two structural changes a system may defer.
type commandKind uint8

const (
	cmdAllocate commandKind = iota
	cmdFree
)

// command is one deferred structural change: an allocation (with the row
// initialiser to apply once the slot exists) or a free.
type command[T any] struct {
	kind   commandKind
	init   func(row *T)
	handle entity.Handle // only meaningful for cmdFree
}

// CommandBuffer queues structural changes a system wants to make so they
// apply between systems rather than while other
// systems may be iterating 0..count of the same table.
type CommandBuffer[T any] struct {
	commands []command[T]
}

// QueueAllocate defers an allocation; init, if non-nil, runs against the
// fresh row once the table actually creates the slot during Playback.
func (b *CommandBuffer[T]) QueueAllocate(init func(row *T)) {
	b.commands = append(b.commands, command[T]{kind: cmdAllocate, init: init})
}

// QueueFree defers a free of handle.
func (b *CommandBuffer[T]) QueueFree(handle entity.Handle) {
	b.commands = append(b.commands, command[T]{kind: cmdFree, handle: handle})
}

// Reset clears the buffer without releasing its backing array.
func (b *CommandBuffer[T]) Reset() {
	b.commands = b.commands[:0]
}

// Len reports the number of queued commands.
func (b *CommandBuffer[T]) Len() int {
	return len(b.commands)
}
