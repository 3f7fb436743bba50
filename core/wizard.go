package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santiagomed/carbo/logger"
)

// Step is one stage of the wizard's fixed, ordered sequence.
type Step int

const (
	StepSelect Step = iota
	StepEdit
	StepCalculate
	StepResults
)

const wizardStateKey = "wizard/state"

func (s Step) String() string {
	switch s {
	case StepSelect:
		return "select"
	case StepEdit:
		return "edit"
	case StepCalculate:
		return "calculate"
	case StepResults:
		return "results"
	default:
		return "unknown"
	}
}

// Steps returns the full sequence in order.
func Steps() []Step {
	return []Step{StepSelect, StepEdit, StepCalculate, StepResults}
}

// ParseStep maps a step name back to its value.
func ParseStep(name string) (Step, error) {
	for _, s := range Steps() {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown step %q", name)
}

// WizardState is an immutable snapshot of the machine: the current step and
// the completed set, sorted by step order.
type WizardState struct {
	Current   Step
	Completed []Step
}

// IsComplete reports whether s is in the completed set.
func (st WizardState) IsComplete(s Step) bool {
	for _, c := range st.Completed {
		if c == s {
			return true
		}
	}
	return false
}

// Wizard enforces ordered, gated progress through the steps. A step may only
// become current once every step before it is complete. State changes notify
// subscribers and persist through the KV collaborator when one is attached.
type Wizard struct {
	mu        sync.Mutex
	current   Step
	completed map[Step]struct{}
	store     *WorkingSetStore
	kv        KV
	subs      []func(WizardState)
	logger    logger.Logger
}

// NewWizard creates the machine on the first step with nothing complete, then
// rehydrates from kv synchronously so the first guard evaluation already sees
// persisted state. kv may be nil; a missing or corrupt value falls back to
// the initial state.
func NewWizard(store *WorkingSetStore, kv KV, log logger.Logger) *Wizard {
	if log == nil {
		log = logger.NewNullLogger()
	}
	w := &Wizard{
		current:   StepSelect,
		completed: make(map[Step]struct{}),
		store:     store,
		kv:        kv,
		logger:    log,
	}
	w.load()
	return w
}

// OnChange registers a subscriber notified with a state snapshot after every
// change.
func (w *Wizard) OnChange(fn func(WizardState)) {
	w.mu.Lock()
	w.subs = append(w.subs, fn)
	w.mu.Unlock()
}

// State returns a snapshot of the current machine state.
func (w *Wizard) State() WizardState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stateLocked()
}

// SetStep moves to target if every step before it is complete; otherwise the
// state is untouched and ErrGuardRejected comes back.
func (w *Wizard) SetStep(target Step) error {
	w.mu.Lock()
	if !w.guardLocked(target) {
		w.mu.Unlock()
		w.logger.Debug(fmt.Sprintf("step %v rejected by guard", target))
		return ErrGuardRejected
	}
	if w.current == target {
		w.mu.Unlock()
		return nil
	}
	w.current = target
	w.finishChangeLocked()
	return nil
}

// GoNext advances to the following step, guarded. Rejected on the last step.
func (w *Wizard) GoNext() error {
	w.mu.Lock()
	current := w.current
	w.mu.Unlock()
	if current == StepResults {
		return ErrGuardRejected
	}
	return w.SetStep(current + 1)
}

// GoPrevious steps back, guarded. Rejected on the first step. Going backward
// never clears completion state or working-set data.
func (w *Wizard) GoPrevious() error {
	w.mu.Lock()
	current := w.current
	w.mu.Unlock()
	if current == StepSelect {
		return ErrGuardRejected
	}
	return w.SetStep(current - 1)
}

// MarkComplete adds step to the completed set. Idempotent.
func (w *Wizard) MarkComplete(step Step) {
	w.mu.Lock()
	if _, ok := w.completed[step]; ok {
		w.mu.Unlock()
		return
	}
	w.completed[step] = struct{}{}
	w.finishChangeLocked()
}

// MarkIncomplete removes step from the completed set. Idempotent; the current
// step is never demoted, but later transitions re-check the guard.
func (w *Wizard) MarkIncomplete(step Step) {
	w.mu.Lock()
	if _, ok := w.completed[step]; !ok {
		w.mu.Unlock()
		return
	}
	delete(w.completed, step)
	w.finishChangeLocked()
}

// CompleteCurrent marks the current step complete when its readiness gate
// passes: Select needs a chosen product, Edit needs a fully specified bill.
// Calculate and Results complete only through a finished job.
func (w *Wizard) CompleteCurrent() error {
	snapshot := w.store.Snapshot()
	w.mu.Lock()
	ready := false
	switch w.current {
	case StepSelect:
		ready = snapshot.HasSelection()
	case StepEdit:
		ready = snapshot.EntriesComplete()
	}
	if !ready {
		w.mu.Unlock()
		return ErrGuardRejected
	}
	if _, ok := w.completed[w.current]; ok {
		w.mu.Unlock()
		return nil
	}
	w.completed[w.current] = struct{}{}
	w.finishChangeLocked()
	return nil
}

// ReevaluateGates demotes completed steps whose readiness gate no longer
// holds (an undo can take the product selection away again). Gates that pass
// never promote: completion stays an explicit action.
func (w *Wizard) ReevaluateGates() {
	snapshot := w.store.Snapshot()
	w.mu.Lock()
	changed := false
	if _, ok := w.completed[StepSelect]; ok && !snapshot.HasSelection() {
		delete(w.completed, StepSelect)
		changed = true
	}
	if _, ok := w.completed[StepEdit]; ok && !snapshot.EntriesComplete() {
		delete(w.completed, StepEdit)
		changed = true
	}
	if !changed {
		w.mu.Unlock()
		return
	}
	w.finishChangeLocked()
}

// Reset returns the machine to the first step with nothing complete.
func (w *Wizard) Reset() {
	w.mu.Lock()
	w.current = StepSelect
	w.completed = make(map[Step]struct{})
	w.finishChangeLocked()
}

// handleJobCompleted is the auto-advance: a job finishing while Calculate is
// current completes Calculate and Results and lands on Results, atomically.
func (w *Wizard) handleJobCompleted(job CalculationJob) {
	w.mu.Lock()
	if w.current != StepCalculate {
		w.mu.Unlock()
		w.logger.Debug(fmt.Sprintf("job %s completed off the calculate step; no advance", job.ID))
		return
	}
	w.completed[StepCalculate] = struct{}{}
	w.completed[StepResults] = struct{}{}
	w.current = StepResults
	w.finishChangeLocked()
}

// handleJobFailed leaves the machine exactly where it is: the calculate step
// stays current and incomplete.
func (w *Wizard) handleJobFailed(job CalculationJob) {
	w.logger.Info(fmt.Sprintf("calculation %s failed: %s", job.ID, job.ErrorMessage))
}

// guardLocked reports whether every step strictly before target is complete.
func (w *Wizard) guardLocked(target Step) bool {
	for s := StepSelect; s < target; s++ {
		if _, ok := w.completed[s]; !ok {
			return false
		}
	}
	return true
}

func (w *Wizard) stateLocked() WizardState {
	completed := make([]Step, 0, len(w.completed))
	for s := range w.completed {
		completed = append(completed, s)
	}
	sort.Slice(completed, func(i, j int) bool { return completed[i] < completed[j] })
	return WizardState{Current: w.current, Completed: completed}
}

// finishChangeLocked persists, snapshots, unlocks, and notifies. Callers hold
// the lock and must not touch it afterwards.
func (w *Wizard) finishChangeLocked() {
	state := w.stateLocked()
	subs := make([]func(WizardState), len(w.subs))
	copy(subs, w.subs)
	w.mu.Unlock()
	w.persist(state)
	for _, fn := range subs {
		fn(state)
	}
}

// persistedState is the JSON document stored through the KV collaborator.
type persistedState struct {
	Current   string   `json:"current"`
	Completed []string `json:"completed"`
}

func (w *Wizard) persist(state WizardState) {
	if w.kv == nil {
		return
	}
	doc := persistedState{Current: state.Current.String()}
	for _, s := range state.Completed {
		doc.Completed = append(doc.Completed, s.String())
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		w.logger.Warn(fmt.Sprintf("marshal wizard state: %v", err))
		return
	}
	if err := w.kv.Set(wizardStateKey, string(raw)); err != nil {
		w.logger.Warn(fmt.Sprintf("persist wizard state: %v", err))
	}
}

// load rehydrates from the KV collaborator. Anything unreadable, unknown, or
// violating the step invariant falls back to the initial state.
func (w *Wizard) load() {
	if w.kv == nil {
		return
	}
	raw, ok, err := w.kv.Get(wizardStateKey)
	if err != nil {
		w.logger.Warn(fmt.Sprintf("load wizard state: %v", err))
		return
	}
	if !ok {
		return
	}
	var doc persistedState
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		w.logger.Warn(fmt.Sprintf("corrupt wizard state, starting fresh: %v", err))
		return
	}
	current, err := ParseStep(doc.Current)
	if err != nil {
		w.logger.Warn(fmt.Sprintf("corrupt wizard state, starting fresh: %v", err))
		return
	}
	completed := make(map[Step]struct{}, len(doc.Completed))
	for _, name := range doc.Completed {
		s, err := ParseStep(name)
		if err != nil {
			w.logger.Warn(fmt.Sprintf("corrupt wizard state, starting fresh: %v", err))
			return
		}
		completed[s] = struct{}{}
	}
	for s := StepSelect; s < current; s++ {
		if _, ok := completed[s]; !ok {
			w.logger.Warn("persisted wizard state violates step order, starting fresh")
			return
		}
	}
	w.current = current
	w.completed = completed
}
