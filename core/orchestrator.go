package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/santiagomed/carbo/logger"
)

// DefaultPollInterval is how often the orchestrator asks the compute service
// for a status while a job is running.
const DefaultPollInterval = 2 * time.Second

// pollRun identifies one polling loop. Responses are applied only while their
// run is still the orchestrator's current one; a superseded or stopped run
// discards its response and exits.
type pollRun struct {
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator submits calculation jobs to the compute service and polls their
// status until a terminal outcome, which it publishes exactly once. At most
// one poll loop exists at a time; starting a new calculation stops the
// previous loop completely before submitting.
type Orchestrator struct {
	mu       sync.Mutex
	service  Service
	pub      JobPublisher
	interval time.Duration
	logger   logger.Logger

	job *CalculationJob
	run *pollRun
}

// NewOrchestrator creates an orchestrator polling at the given interval. Zero
// picks the default; a nil publisher or logger is replaced with a null one.
func NewOrchestrator(service Service, pub JobPublisher, interval time.Duration, log logger.Logger) *Orchestrator {
	if pub == nil {
		pub = NullJobPublisher{}
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Orchestrator{
		service:  service,
		pub:      pub,
		interval: interval,
		logger:   log,
	}
}

// Start stops any active loop, submits the working set, and begins polling. A
// submit failure is returned immediately and leaves the orchestrator idle with
// no job recorded (the job never reaches pending).
func (o *Orchestrator) Start(ctx context.Context, ws WorkingSet) error {
	o.Stop()

	jobID, err := o.service.Submit(ctx, ws)
	if err != nil {
		return fmt.Errorf("submit calculation: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &pollRun{
		jobID:  jobID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	o.mu.Lock()
	o.job = &CalculationJob{ID: jobID, Status: StatusPending}
	o.run = run
	o.mu.Unlock()

	o.logger.Info(fmt.Sprintf("calculation %s submitted", jobID))
	go o.loop(runCtx, run)
	return nil
}

// Stop cancels the active poll loop, waits for it to exit, and resets elapsed
// time to zero. Safe to call at any time: before the first tick, concurrently
// with a terminal tick, or after the job has already terminated (then it is a
// no-op).
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	run := o.run
	o.run = nil
	o.mu.Unlock()
	if run == nil {
		return
	}

	run.cancel()
	<-run.done

	o.mu.Lock()
	if o.job != nil && o.job.ID == run.jobID && !o.job.Status.Terminal() {
		o.job.Elapsed = 0
	}
	o.mu.Unlock()
	o.logger.Debug(fmt.Sprintf("polling for calculation %s stopped", run.jobID))
}

// IsCalculating reports whether a poll loop is active: true from Start until a
// terminal status is recorded or Stop is called.
func (o *Orchestrator) IsCalculating() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run != nil
}

// Job returns a snapshot of the current or most recent job. False when no
// calculation has been started since the last reset.
func (o *Orchestrator) Job() (CalculationJob, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.job == nil {
		return CalculationJob{}, false
	}
	return *o.job, true
}

// Reset stops any active loop and forgets the last job.
func (o *Orchestrator) Reset() {
	o.Stop()
	o.mu.Lock()
	o.job = nil
	o.mu.Unlock()
}

func (o *Orchestrator) loop(ctx context.Context, run *pollRun) {
	defer close(run.done)
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if terminal := o.tick(ctx, run); terminal {
				return
			}
		}
	}
}

// tick advances elapsed time by exactly one interval, queries the service, and
// applies the response if the run is still current. Returns true once the loop
// must stop.
func (o *Orchestrator) tick(ctx context.Context, run *pollRun) bool {
	o.mu.Lock()
	if o.run != run {
		o.mu.Unlock()
		return true
	}
	o.job.Elapsed += o.interval
	o.mu.Unlock()

	report, err := o.service.Status(ctx, run.jobID)
	if err != nil {
		// Transient failure: the job is still alive, retry next tick.
		o.logger.Warn(fmt.Sprintf("status query for %s failed, retrying: %v", run.jobID, err))
		return false
	}

	o.mu.Lock()
	if o.run != run {
		// Superseded or stopped while the query was in flight.
		o.mu.Unlock()
		o.logger.Debug(fmt.Sprintf("discarding stale status for %s", run.jobID))
		return true
	}
	o.job.Status = report.Status
	if !report.Status.Terminal() {
		o.mu.Unlock()
		return false
	}
	o.job.Result = report.Result
	o.job.ErrorMessage = report.ErrorMessage
	job := *o.job
	o.run = nil
	o.mu.Unlock()

	if job.Status == StatusCompleted {
		o.logger.Info(fmt.Sprintf("calculation %s completed after %s", job.ID, job.Elapsed))
		o.pub.JobCompleted(job)
	} else {
		o.logger.Info(fmt.Sprintf("calculation %s failed after %s: %s", job.ID, job.Elapsed, job.ErrorMessage))
		o.pub.JobFailed(job)
	}
	return true
}
