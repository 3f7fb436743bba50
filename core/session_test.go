package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(svc Service, pub JobPublisher) *Session {
	return NewSession(svc, SessionOptions{
		CoalesceWindow: testWindow,
		PollInterval:   testInterval,
		Publisher:      pub,
	})
}

// advanceToCalculate walks a session through the select and edit steps.
func advanceToCalculate(t *testing.T, s *Session) {
	t.Helper()
	s.Store.SetSelectedProduct("steel-bottle")
	require.NoError(t, s.Wizard.CompleteCurrent())
	require.NoError(t, s.Wizard.GoNext())

	entry := s.Store.Snapshot().Entries[0]
	name, factor := "steel body", "steel-primary"
	require.NoError(t, s.Store.UpdateEntry(entry.ID, EntryPatch{Name: &name, EmissionFactor: &factor}))
	require.NoError(t, s.Wizard.CompleteCurrent())
	require.NoError(t, s.Wizard.GoNext())
	require.Equal(t, StepCalculate, s.Wizard.State().Current)
}

func TestFullRunEndsOnResults(t *testing.T) {
	svc := newScriptedService()
	svc.jobIDs = []string{"job-1"}
	svc.scripts["job-1"] = []statusAnswer{inProgress(), completed(12.8)}
	pub := newChanPublisher()
	s := newTestSession(svc, pub)

	advanceToCalculate(t, s)
	require.NoError(t, s.Calculate(context.Background()))

	select {
	case <-pub.completed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	// Auto-advance ran before the publisher saw the event.
	st := s.Wizard.State()
	assert.Equal(t, StepResults, st.Current)
	for _, step := range Steps() {
		assert.True(t, st.IsComplete(step))
	}
}

func TestFailedRunStaysOnCalculate(t *testing.T) {
	svc := newScriptedService()
	svc.jobIDs = []string{"job-1"}
	svc.scripts["job-1"] = []statusAnswer{failed("unknown emission factor")}
	pub := newChanPublisher()
	s := newTestSession(svc, pub)

	advanceToCalculate(t, s)
	require.NoError(t, s.Calculate(context.Background()))

	select {
	case job := <-pub.failed:
		assert.Equal(t, "unknown emission factor", job.ErrorMessage)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure")
	}

	st := s.Wizard.State()
	assert.Equal(t, StepCalculate, st.Current)
	assert.False(t, st.IsComplete(StepCalculate))
}

func TestCalculateFlushesPendingEdits(t *testing.T) {
	svc := newScriptedService()
	svc.jobIDs = []string{"job-1"}
	svc.scripts["job-1"] = []statusAnswer{inProgress()}
	s := newTestSession(svc, nil)

	entry := s.Store.Snapshot().Entries[0]
	q := 8.0
	require.NoError(t, s.Store.UpdateEntry(entry.ID, EntryPatch{Quantity: &q}))
	require.NoError(t, s.Calculate(context.Background()))

	// The burst committed before submission and the live value was submitted.
	require.Len(t, svc.submitted, 1)
	assert.Equal(t, 8.0, svc.submitted[0].Entries[0].Quantity)
	assert.True(t, s.Store.CanUndo())
	s.Orchestrator.Stop()
}

func TestStoreChangesDemoteCompletedSteps(t *testing.T) {
	s := newTestSession(newScriptedService(), nil)

	s.Store.SetSelectedProduct("steel-bottle")
	require.NoError(t, s.Wizard.CompleteCurrent())
	require.True(t, s.Wizard.State().IsComplete(StepSelect))

	// Undo removes the selection; the wiring demotes Select.
	require.True(t, s.Store.Undo())
	assert.False(t, s.Wizard.State().IsComplete(StepSelect))
	assert.ErrorIs(t, s.Wizard.GoNext(), ErrGuardRejected)
}

func TestResetRestoresInitialStateWithOneNotificationEach(t *testing.T) {
	svc := newScriptedService()
	svc.jobIDs = []string{"job-1"}
	svc.scripts["job-1"] = []statusAnswer{inProgress()}
	s := newTestSession(svc, nil)

	advanceToCalculate(t, s)
	require.NoError(t, s.Calculate(context.Background()))
	require.Eventually(t, func() bool { return svc.statusCalls("job-1") >= 1 },
		2*time.Second, time.Millisecond)

	var storeNotes, wizardNotes int
	s.Store.OnChange(func(WorkingSet) { storeNotes++ })
	s.Wizard.OnChange(func(WizardState) { wizardNotes++ })

	s.Reset()

	assert.Equal(t, 1, storeNotes)
	assert.Equal(t, 1, wizardNotes)
	assert.False(t, s.Orchestrator.IsCalculating())
	_, ok := s.Orchestrator.Job()
	assert.False(t, ok)

	ws := s.Store.Snapshot()
	assert.Empty(t, ws.SelectedProduct)
	assert.Len(t, ws.Entries, 1)
	past, future := s.Store.HistoryLen()
	assert.Zero(t, past)
	assert.Zero(t, future)

	st := s.Wizard.State()
	assert.Equal(t, StepSelect, st.Current)
	assert.Empty(t, st.Completed)
}
