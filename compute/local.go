package compute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santiagomed/carbo/core"
	"github.com/santiagomed/carbo/logger"
)

var (
	// ErrUnknownJob is returned for status queries on ids the backend never
	// issued.
	ErrUnknownJob = errors.New("unknown job id")
	// ErrBackendStopped rejects submissions after shutdown.
	ErrBackendStopped = errors.New("local backend is stopped")
)

// FactorCatalog resolves an emission factor id to its kgCO2e-per-unit value.
// The bool reports whether the id exists.
type FactorCatalog interface {
	FactorKgCO2e(id string) (float64, bool, error)
}

type jobRequest struct {
	id string
	ws core.WorkingSet
}

// LocalBackend runs calculations in-process on a small worker pool, so the
// wizard works without a calculation server. Jobs move Pending → InProgress →
// Completed/Failed; a configurable per-entry delay keeps the polling path
// honest.
type LocalBackend struct {
	catalog    FactorCatalog
	logger     logger.Logger
	requests   chan jobRequest
	workers    int
	workerWG   sync.WaitGroup
	shutdown   chan struct{}
	entryDelay time.Duration

	mu      sync.Mutex
	jobs    map[string]core.StatusReport
	stopped bool
}

// NewLocalBackend creates a backend with the given worker count (minimum 1)
// and per-entry delay.
func NewLocalBackend(catalog FactorCatalog, workers int, entryDelay time.Duration, log logger.Logger) *LocalBackend {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &LocalBackend{
		catalog:    catalog,
		logger:     log,
		requests:   make(chan jobRequest, 64),
		workers:    workers,
		shutdown:   make(chan struct{}),
		entryDelay: entryDelay,
		jobs:       make(map[string]core.StatusReport),
	}
}

// Start launches the worker pool.
func (b *LocalBackend) Start(ctx context.Context) {
	for i := 0; i < b.workers; i++ {
		b.workerWG.Add(1)
		go b.worker(ctx)
	}
}

// Shutdown stops accepting work and waits up to timeout for workers to drain.
func (b *LocalBackend) Shutdown(timeout time.Duration) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()
	close(b.shutdown)

	done := make(chan struct{})
	go func() {
		b.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("all calculation workers shut down gracefully")
	case <-time.After(timeout):
		b.logger.Warn("shutdown timed out, some workers may still be running")
	}
}

// Submit enqueues a calculation and returns its job id with status Pending.
func (b *LocalBackend) Submit(ctx context.Context, ws core.WorkingSet) (string, error) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return "", ErrBackendStopped
	}
	id := uuid.NewString()
	b.jobs[id] = core.StatusReport{Status: core.StatusPending}
	b.mu.Unlock()

	select {
	case b.requests <- jobRequest{id: id, ws: ws.Clone()}:
		return id, nil
	default:
		b.mu.Lock()
		delete(b.jobs, id)
		b.mu.Unlock()
		return "", errors.New("calculation queue is full")
	}
}

// Status reports the current state of a job.
func (b *LocalBackend) Status(ctx context.Context, jobID string) (core.StatusReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	report, ok := b.jobs[jobID]
	if !ok {
		return core.StatusReport{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return report, nil
}

func (b *LocalBackend) worker(ctx context.Context) {
	defer b.workerWG.Done()
	for {
		select {
		case req := <-b.requests:
			b.run(ctx, req)
		case <-ctx.Done():
			return
		case <-b.shutdown:
			return
		}
	}
}

func (b *LocalBackend) run(ctx context.Context, req jobRequest) {
	b.setStatus(req.id, core.StatusReport{Status: core.StatusInProgress})

	result := core.CalculationResult{ByCategory: make(map[core.Category]float64)}
	for _, entry := range req.ws.Entries {
		if b.entryDelay > 0 {
			select {
			case <-time.After(b.entryDelay):
			case <-ctx.Done():
				return
			case <-b.shutdown:
				return
			}
		}
		if entry.EmissionFactor == "" {
			b.fail(req.id, fmt.Sprintf("entry %q has no emission factor", entry.Name))
			return
		}
		perUnit, ok, err := b.catalog.FactorKgCO2e(entry.EmissionFactor)
		if err != nil {
			b.fail(req.id, fmt.Sprintf("factor lookup for %q: %v", entry.EmissionFactor, err))
			return
		}
		if !ok {
			b.fail(req.id, fmt.Sprintf("unknown emission factor %q", entry.EmissionFactor))
			return
		}
		kg := entry.Quantity * perUnit
		result.TotalKgCO2e += kg
		result.ByCategory[entry.Category] += kg
		result.ByEntry = append(result.ByEntry, core.EntryEmission{
			EntryID: entry.ID,
			Name:    entry.Name,
			KgCO2e:  kg,
		})
	}

	b.logger.Debug(fmt.Sprintf("job %s completed: %.3f kgCO2e", req.id, result.TotalKgCO2e))
	b.setStatus(req.id, core.StatusReport{Status: core.StatusCompleted, Result: &result})
}

func (b *LocalBackend) fail(id, msg string) {
	b.logger.Debug(fmt.Sprintf("job %s failed: %s", id, msg))
	b.setStatus(id, core.StatusReport{Status: core.StatusFailed, ErrorMessage: msg})
}

func (b *LocalBackend) setStatus(id string, report core.StatusReport) {
	b.mu.Lock()
	b.jobs[id] = report
	b.mu.Unlock()
}
