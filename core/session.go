package core

import (
	"context"
	"time"

	"github.com/santiagomed/carbo/logger"
)

// SessionOptions tunes the wired components. Zero values select defaults.
type SessionOptions struct {
	HistoryDepth   int
	CoalesceWindow time.Duration
	PollInterval   time.Duration
	KV             KV
	Publisher      JobPublisher
	Logger         logger.Logger
}

// Session owns the working-set store, the wizard, and the orchestrator and
// wires them together: store changes re-evaluate the wizard's readiness
// gates, and job terminal events drive the wizard's auto-advance before
// reaching the caller's publisher.
type Session struct {
	Store        *WorkingSetStore
	Wizard       *Wizard
	Orchestrator *Orchestrator
	logger       logger.Logger
}

// sessionPublisher lets the wizard observe terminal events first, then fans
// out to the caller, so the UI always sees the post-advance wizard state.
type sessionPublisher struct {
	wizard *Wizard
	next   JobPublisher
}

func (p *sessionPublisher) JobCompleted(job CalculationJob) {
	p.wizard.handleJobCompleted(job)
	p.next.JobCompleted(job)
}

func (p *sessionPublisher) JobFailed(job CalculationJob) {
	p.wizard.handleJobFailed(job)
	p.next.JobFailed(job)
}

// NewSession builds and wires the three components.
func NewSession(service Service, opts SessionOptions) *Session {
	log := opts.Logger
	if log == nil {
		log = logger.NewNullLogger()
	}
	pub := opts.Publisher
	if pub == nil {
		pub = NullJobPublisher{}
	}

	store := NewWorkingSetStore(opts.HistoryDepth, opts.CoalesceWindow, log)
	wizard := NewWizard(store, opts.KV, log)
	orch := NewOrchestrator(service, &sessionPublisher{wizard: wizard, next: pub}, opts.PollInterval, log)

	store.OnChange(func(WorkingSet) {
		wizard.ReevaluateGates()
	})

	return &Session{
		Store:        store,
		Wizard:       wizard,
		Orchestrator: orch,
		logger:       log,
	}
}

// Calculate flushes any pending coalesced edit and submits the current
// working set.
func (s *Session) Calculate(ctx context.Context) error {
	s.Store.Flush()
	return s.Orchestrator.Start(ctx, s.Store.Snapshot())
}

// Reset returns the whole session to its initial state. Polling stops first
// so no late tick can touch the freshly reset stores. The wizard resets
// before the store: the store's reset notification then re-evaluates gates
// against an already-initial wizard, so each component notifies exactly once.
func (s *Session) Reset() {
	s.Orchestrator.Reset()
	s.Wizard.Reset()
	s.Store.Reset()
	s.logger.Info("session reset")
}
