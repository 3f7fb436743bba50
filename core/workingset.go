package core

import (
	"sync"
	"time"

	"github.com/santiagomed/carbo/history"
	"github.com/santiagomed/carbo/logger"
)

const (
	DefaultHistoryDepth   = 50
	DefaultCoalesceWindow = 500 * time.Millisecond
)

// pendingPush is the armed-but-uncommitted history push for a burst of edits
// to one logical field. The snapshot is the working set as of the start of
// the burst; the timer commits it after the quiescence window.
type pendingPush struct {
	key      string
	snapshot WorkingSet
	timer    *time.Timer
}

// WorkingSetStore owns the live working set and funnels every mutation
// through the history stack. All methods are safe for concurrent use; change
// callbacks run outside the lock with deep-copied snapshots.
type WorkingSetStore struct {
	mu      sync.Mutex
	live    WorkingSet
	hist    *history.Stack[WorkingSet]
	pending *pendingPush
	window  time.Duration
	subs    []func(WorkingSet)
	logger  logger.Logger
}

// NewWorkingSetStore creates a store with the given history depth and
// coalescing window. Zero values select the defaults; a nil logger is
// replaced with the null logger.
func NewWorkingSetStore(historyDepth int, coalesceWindow time.Duration, log logger.Logger) *WorkingSetStore {
	if historyDepth <= 0 {
		historyDepth = DefaultHistoryDepth
	}
	if coalesceWindow <= 0 {
		coalesceWindow = DefaultCoalesceWindow
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &WorkingSetStore{
		live:   NewWorkingSet(),
		hist:   history.New[WorkingSet](historyDepth),
		window: coalesceWindow,
		logger: log,
	}
}

// OnChange registers a subscriber notified with a snapshot after every
// committed change. Subscribers registered once live for the store's life.
func (s *WorkingSetStore) OnChange(fn func(WorkingSet)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Snapshot returns a deep copy of the live working set.
func (s *WorkingSetStore) Snapshot() WorkingSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.Clone()
}

// SetSelectedProduct records the chosen catalog product. Setting the same
// product again is a no-op and records no history.
func (s *WorkingSetStore) SetSelectedProduct(productID string) {
	s.mu.Lock()
	if s.live.SelectedProduct == productID {
		s.mu.Unlock()
		return
	}
	s.commitPendingLocked()
	s.hist.Push(s.live.Clone())
	s.live.SelectedProduct = productID
	s.notifyLocked()
}

// SetEntries replaces the whole bill. An empty list is rejected.
func (s *WorkingSetStore) SetEntries(entries []BomEntry) error {
	if len(entries) == 0 {
		return ErrEmptyBill
	}
	s.mu.Lock()
	s.commitPendingLocked()
	s.hist.Push(s.live.Clone())
	s.live.Entries = make([]BomEntry, len(entries))
	copy(s.live.Entries, entries)
	s.notifyLocked()
	return nil
}

// AddEntry appends a blank entry and returns it.
func (s *WorkingSetStore) AddEntry() BomEntry {
	entry := NewBomEntry()
	s.mu.Lock()
	s.commitPendingLocked()
	s.hist.Push(s.live.Clone())
	s.live.Entries = append(s.live.Entries, entry)
	s.notifyLocked()
	return entry
}

// RemoveEntry deletes an entry. Removing the last remaining entry is rejected
// before any state is touched, so the bill can never become empty.
func (s *WorkingSetStore) RemoveEntry(id string) error {
	s.mu.Lock()
	idx := s.live.entryIndex(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrNoSuchEntry
	}
	if len(s.live.Entries) == 1 {
		s.mu.Unlock()
		return ErrEmptyBill
	}
	s.commitPendingLocked()
	s.hist.Push(s.live.Clone())
	s.live.Entries = append(s.live.Entries[:idx:idx], s.live.Entries[idx+1:]...)
	s.notifyLocked()
	return nil
}

// UpdateEntry applies a partial edit. Successive updates to the same entry
// and field set within the coalescing window collapse into a single history
// push that records the snapshot from the start of the burst.
func (s *WorkingSetStore) UpdateEntry(id string, patch EntryPatch) error {
	key := id + "|" + patch.fieldKey()
	s.mu.Lock()
	idx := s.live.entryIndex(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrNoSuchEntry
	}

	snapshot := s.live.Clone()
	if s.pending != nil {
		if s.pending.key == key {
			// Same burst: keep the original snapshot, restart the clock.
			snapshot = s.pending.snapshot
			s.pending.timer.Stop()
		} else {
			s.commitPendingLocked()
		}
	}

	patch.apply(&s.live.Entries[idx])

	// The push is deferred but the edit has happened: the redo branch is
	// invalid from this moment, not from commit time.
	s.hist.ClearFuture()

	p := &pendingPush{key: key, snapshot: snapshot}
	p.timer = time.AfterFunc(s.window, func() { s.expire(p) })
	s.pending = p

	s.notifyLocked()
	return nil
}

// expire commits the pending push once its quiescence window has passed. A
// fire for a slot that has since been replaced or flushed is discarded.
func (s *WorkingSetStore) expire(p *pendingPush) {
	s.mu.Lock()
	if s.pending != p {
		s.mu.Unlock()
		return
	}
	s.hist.Push(p.snapshot)
	s.pending = nil
	s.mu.Unlock()
}

// Flush force-commits any pending coalesced push.
func (s *WorkingSetStore) Flush() {
	s.mu.Lock()
	s.commitPendingLocked()
	s.mu.Unlock()
}

func (s *WorkingSetStore) commitPendingLocked() {
	if s.pending == nil {
		return
	}
	s.pending.timer.Stop()
	s.hist.Push(s.pending.snapshot)
	s.pending = nil
}

// Undo restores the previous snapshot. Returns false when there is nothing
// to undo.
func (s *WorkingSetStore) Undo() bool {
	s.mu.Lock()
	s.commitPendingLocked()
	restored, ok := s.hist.Undo(s.live.Clone())
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.live = restored
	s.notifyLocked()
	return true
}

// Redo reapplies the snapshot undone last. Returns false when there is
// nothing to redo.
func (s *WorkingSetStore) Redo() bool {
	s.mu.Lock()
	restored, ok := s.hist.Redo(s.live.Clone())
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.live = restored
	s.notifyLocked()
	return true
}

// CanUndo counts an armed pending push: the burst's snapshot is already an
// undoable entry even before its window closes.
func (s *WorkingSetStore) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.CanUndo() || s.pending != nil
}

func (s *WorkingSetStore) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.CanRedo()
}

// HistoryLen reports past and future depths. An armed pending push is
// committed first, so the reported depth never exceeds the configured bound.
func (s *WorkingSetStore) HistoryLen() (past, future int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitPendingLocked()
	return s.hist.Len()
}

// Reset discards the working set, pending push, and all history in one step,
// then notifies once.
func (s *WorkingSetStore) Reset() {
	s.mu.Lock()
	if s.pending != nil {
		s.pending.timer.Stop()
		s.pending = nil
	}
	s.live = NewWorkingSet()
	s.hist.Reset()
	s.notifyLocked()
}

// notifyLocked snapshots state, releases the lock, and fans out to
// subscribers. Callbacks must therefore never be invoked with the lock held
// and may call back into the store.
func (s *WorkingSetStore) notifyLocked() {
	snapshot := s.live.Clone()
	subs := make([]func(WorkingSet), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snapshot.Clone())
	}
}
