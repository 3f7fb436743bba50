package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWindow = 25 * time.Millisecond

func newCoalescingStore(t *testing.T) *WorkingSetStore {
	t.Helper()
	return NewWorkingSetStore(DefaultHistoryDepth, testWindow, nil)
}

// settle waits out the coalescing window so any pending push commits.
func settle() {
	time.Sleep(testWindow + 10*time.Millisecond)
}

func TestFreshWorkingSetHasOneBlankEntry(t *testing.T) {
	s := newTestStore()
	ws := s.Snapshot()
	assert.Empty(t, ws.SelectedProduct)
	require.Len(t, ws.Entries, 1)
	assert.False(t, ws.Entries[0].Complete())
}

func TestUndoRedoRoundTrip(t *testing.T) {
	s := newTestStore()
	s.SetSelectedProduct("steel-bottle")
	s.SetSelectedProduct("alu-bottle")
	before := s.Snapshot()

	require.True(t, s.Undo())
	assert.Equal(t, "steel-bottle", s.Snapshot().SelectedProduct)
	require.True(t, s.Redo())
	assert.Equal(t, before, s.Snapshot())
}

func TestUndoOnEmptyHistoryIsNoop(t *testing.T) {
	s := newTestStore()
	assert.False(t, s.Undo())
	assert.False(t, s.Redo())
	assert.False(t, s.CanUndo())
	assert.False(t, s.CanRedo())
}

func TestEditAfterUndoClearsRedo(t *testing.T) {
	s := newTestStore()
	s.SetSelectedProduct("steel-bottle")
	s.SetSelectedProduct("alu-bottle")

	require.True(t, s.Undo())
	require.True(t, s.CanRedo())

	s.SetSelectedProduct("glass-bottle")
	assert.False(t, s.CanRedo())
}

func TestCoalescedEditClearsRedoImmediately(t *testing.T) {
	s := newCoalescingStore(t)
	s.SetSelectedProduct("steel-bottle")
	require.True(t, s.Undo())
	require.True(t, s.CanRedo())

	// The push is deferred but the redo branch dies with the edit itself.
	entry := s.Snapshot().Entries[0]
	q := 2.0
	require.NoError(t, s.UpdateEntry(entry.ID, EntryPatch{Quantity: &q}))
	assert.False(t, s.CanRedo())
}

func TestHistoryDepthEvictsOldestFirst(t *testing.T) {
	const depth = 5
	s := NewWorkingSetStore(depth, testWindow, nil)

	for i := 0; i <= depth; i++ {
		s.SetSelectedProduct(fmt.Sprintf("product-%d", i))
	}

	past, future := s.HistoryLen()
	assert.Equal(t, depth, past)
	assert.Equal(t, 0, future)

	// Walk all the way back: the initial empty selection was evicted, so the
	// oldest reachable snapshot is product-0.
	for s.Undo() {
	}
	assert.Equal(t, "product-0", s.Snapshot().SelectedProduct)
}

func TestRapidEditsCoalesceToOnePush(t *testing.T) {
	s := newCoalescingStore(t)
	entry := s.Snapshot().Entries[0]

	for i := 1; i <= 5; i++ {
		q := float64(i)
		require.NoError(t, s.UpdateEntry(entry.ID, EntryPatch{Quantity: &q}))
	}
	settle()

	past, _ := s.HistoryLen()
	assert.Equal(t, 1, past)

	// The single entry records the value from the start of the burst.
	require.True(t, s.Undo())
	assert.Equal(t, 1.0, s.Snapshot().Entries[0].Quantity)
}

func TestDifferentFieldEditCommitsPendingFirst(t *testing.T) {
	s := newCoalescingStore(t)
	entry := s.Snapshot().Entries[0]

	q := 3.0
	require.NoError(t, s.UpdateEntry(entry.ID, EntryPatch{Quantity: &q}))
	name := "steel body"
	require.NoError(t, s.UpdateEntry(entry.ID, EntryPatch{Name: &name}))
	settle()

	past, _ := s.HistoryLen()
	assert.Equal(t, 2, past)
}

func TestFlushCommitsPendingPush(t *testing.T) {
	s := newCoalescingStore(t)
	entry := s.Snapshot().Entries[0]

	q := 3.0
	require.NoError(t, s.UpdateEntry(entry.ID, EntryPatch{Quantity: &q}))
	s.Flush()

	past, _ := s.HistoryLen()
	assert.Equal(t, 1, past)

	// A late timer fire for the flushed slot must not push again.
	settle()
	past, _ = s.HistoryLen()
	assert.Equal(t, 1, past)
}

func TestUndoDuringBurstRestoresBurstStart(t *testing.T) {
	s := newCoalescingStore(t)
	entry := s.Snapshot().Entries[0]

	q1, q2 := 2.0, 3.0
	require.NoError(t, s.UpdateEntry(entry.ID, EntryPatch{Quantity: &q1}))
	require.NoError(t, s.UpdateEntry(entry.ID, EntryPatch{Quantity: &q2}))

	// Undo mid-window: the pending push commits first, then undoes.
	require.True(t, s.Undo())
	assert.Equal(t, 1.0, s.Snapshot().Entries[0].Quantity)
}

func TestHistoryLenFlushesPendingAndRespectsBound(t *testing.T) {
	const depth = 3
	s := NewWorkingSetStore(depth, testWindow, nil)
	for i := 0; i < depth; i++ {
		s.SetSelectedProduct(fmt.Sprintf("product-%d", i))
	}
	entry := s.Snapshot().Entries[0]
	q := 2.0
	require.NoError(t, s.UpdateEntry(entry.ID, EntryPatch{Quantity: &q}))

	// Reading the length commits the armed slot; the bound holds because the
	// commit evicts the oldest entry.
	past, future := s.HistoryLen()
	assert.Equal(t, depth, past)
	assert.Equal(t, 0, future)

	// The slot is gone, so its timer fire later pushes nothing.
	settle()
	past, _ = s.HistoryLen()
	assert.Equal(t, depth, past)
}

func TestRemoveLastEntryRejected(t *testing.T) {
	s := newTestStore()
	entry := s.Snapshot().Entries[0]

	err := s.RemoveEntry(entry.ID)
	assert.ErrorIs(t, err, ErrEmptyBill)
	assert.Len(t, s.Snapshot().Entries, 1)
	assert.False(t, s.CanUndo())
}

func TestAddAndRemoveEntry(t *testing.T) {
	s := newTestStore()
	first := s.Snapshot().Entries[0]
	added := s.AddEntry()

	require.Len(t, s.Snapshot().Entries, 2)
	require.NoError(t, s.RemoveEntry(first.ID))

	entries := s.Snapshot().Entries
	require.Len(t, entries, 1)
	assert.Equal(t, added.ID, entries[0].ID)
}

func TestRemoveUnknownEntry(t *testing.T) {
	s := newTestStore()
	assert.ErrorIs(t, s.RemoveEntry("no-such-id"), ErrNoSuchEntry)
}

func TestSetEntriesRejectsEmptyList(t *testing.T) {
	s := newTestStore()
	assert.ErrorIs(t, s.SetEntries(nil), ErrEmptyBill)
}

func TestUpdateUnknownEntry(t *testing.T) {
	s := newTestStore()
	name := "steel body"
	assert.ErrorIs(t, s.UpdateEntry("no-such-id", EntryPatch{Name: &name}), ErrNoSuchEntry)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	s := newTestStore()
	snap := s.Snapshot()
	snap.Entries[0].Name = "mutated"

	assert.Empty(t, s.Snapshot().Entries[0].Name)
}

func TestSubscriberReceivesCommittedChanges(t *testing.T) {
	s := newTestStore()
	var got []WorkingSet
	s.OnChange(func(ws WorkingSet) { got = append(got, ws) })

	s.SetSelectedProduct("steel-bottle")
	s.AddEntry()

	require.Len(t, got, 2)
	assert.Equal(t, "steel-bottle", got[0].SelectedProduct)
	assert.Len(t, got[1].Entries, 2)
}

func TestResetClearsEverything(t *testing.T) {
	s := newCoalescingStore(t)
	s.SetSelectedProduct("steel-bottle")
	entry := s.Snapshot().Entries[0]
	q := 4.0
	require.NoError(t, s.UpdateEntry(entry.ID, EntryPatch{Quantity: &q}))

	s.Reset()

	ws := s.Snapshot()
	assert.Empty(t, ws.SelectedProduct)
	require.Len(t, ws.Entries, 1)
	past, future := s.HistoryLen()
	assert.Zero(t, past)
	assert.Zero(t, future)

	// The pending timer was disarmed; nothing commits later.
	settle()
	past, _ = s.HistoryLen()
	assert.Zero(t, past)
}
