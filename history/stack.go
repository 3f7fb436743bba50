// Package history provides a bounded undo/redo log over immutable snapshots.
package history

import "time"

// Entry is one recorded snapshot. Seq increases monotonically across the life
// of the stack, so entries stay ordered even after eviction.
type Entry[T any] struct {
	Seq   uint64
	At    time.Time
	Value T
}

// Stack holds past and future snapshots. Pushing after any ordinary edit
// clears the future stack; undoing moves the live value onto future. The past
// stack is bounded and evicts oldest-first.
//
// Stack does no locking. It is owned by exactly one store which serializes
// all access.
type Stack[T any] struct {
	past     []Entry[T]
	future   []Entry[T]
	maxDepth int
	seq      uint64
}

// New creates a stack bounded at maxDepth past entries. Depths below 1 are
// clamped to 1 so the snapshot preceding the live value is always retained.
func New[T any](maxDepth int) *Stack[T] {
	if maxDepth < 1 {
		maxDepth = 1
	}
	return &Stack[T]{maxDepth: maxDepth}
}

// Push records a pre-mutation snapshot and invalidates the redo branch.
func (s *Stack[T]) Push(v T) {
	s.seq++
	s.past = append(s.past, Entry[T]{Seq: s.seq, At: time.Now(), Value: v})
	if len(s.past) > s.maxDepth {
		copy(s.past, s.past[1:])
		s.past = s.past[:len(s.past)-1]
	}
	s.future = s.future[:0]
}

// Undo pops the newest past snapshot, pushes current onto future, and returns
// the popped value. Returns false with the zero value when past is empty.
func (s *Stack[T]) Undo(current T) (T, bool) {
	if len(s.past) == 0 {
		var zero T
		return zero, false
	}
	top := s.past[len(s.past)-1]
	s.past = s.past[:len(s.past)-1]
	s.seq++
	s.future = append(s.future, Entry[T]{Seq: s.seq, At: time.Now(), Value: current})
	return top.Value, true
}

// Redo pops the newest future snapshot, pushes current back onto past, and
// returns the popped value. Returns false when future is empty.
func (s *Stack[T]) Redo(current T) (T, bool) {
	if len(s.future) == 0 {
		var zero T
		return zero, false
	}
	top := s.future[len(s.future)-1]
	s.future = s.future[:len(s.future)-1]
	s.seq++
	s.past = append(s.past, Entry[T]{Seq: s.seq, At: time.Now(), Value: current})
	return top.Value, true
}

func (s *Stack[T]) CanUndo() bool { return len(s.past) > 0 }
func (s *Stack[T]) CanRedo() bool { return len(s.future) > 0 }

// ClearFuture invalidates the redo branch without recording anything. Used
// when an edit is accepted but its push is deferred (coalescing).
func (s *Stack[T]) ClearFuture() {
	s.future = s.future[:0]
}

// Len reports the current past and future depths.
func (s *Stack[T]) Len() (past, future int) {
	return len(s.past), len(s.future)
}

// Reset drops all recorded snapshots. The sequence counter is not rewound.
func (s *Stack[T]) Reset() {
	s.past = nil
	s.future = nil
}
