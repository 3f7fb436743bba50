// Package core implements the orchestration heart of the carbo wizard: the
// step state machine, the calculation job poller, and the undo/redo-backed
// working set.
package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Guard rejections are results, not failures; callers may ignore them.
var (
	ErrGuardRejected = errors.New("step guard rejected")
	ErrEmptyBill     = errors.New("bill of materials requires at least one entry")
	ErrNoSuchEntry   = errors.New("no such bill entry")
)

// Category classifies a bill-of-materials entry.
type Category string

const (
	CategoryMaterial  Category = "material"
	CategoryTransport Category = "transport"
	CategoryEnergy    Category = "energy"
	CategoryPackaging Category = "packaging"
	CategoryOther     Category = "other"
)

// Categories returns all categories in display order.
func Categories() []Category {
	return []Category{CategoryMaterial, CategoryTransport, CategoryEnergy, CategoryPackaging, CategoryOther}
}

// BomEntry is one line of the bill of materials. EmissionFactor holds the id
// of a catalog emission factor; empty means none chosen yet.
type BomEntry struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Quantity       float64  `json:"quantity"`
	Unit           string   `json:"unit"`
	Category       Category `json:"category"`
	EmissionFactor string   `json:"emission_factor,omitempty"`
}

// NewBomEntry returns a blank entry ready for editing.
func NewBomEntry() BomEntry {
	return BomEntry{
		ID:       uuid.NewString(),
		Quantity: 1,
		Unit:     "kg",
		Category: CategoryMaterial,
	}
}

// Complete reports whether the entry carries everything a calculation needs.
func (e BomEntry) Complete() bool {
	return e.Name != "" && e.Quantity > 0 && e.EmissionFactor != ""
}

// EntryPatch is a partial update to a BomEntry; nil fields are left untouched.
type EntryPatch struct {
	Name           *string
	Quantity       *float64
	Unit           *string
	Category       *Category
	EmissionFactor *string
}

func (p EntryPatch) apply(e *BomEntry) {
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Quantity != nil {
		e.Quantity = *p.Quantity
	}
	if p.Unit != nil {
		e.Unit = *p.Unit
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.EmissionFactor != nil {
		e.EmissionFactor = *p.EmissionFactor
	}
}

// fieldKey names the patched fields, in declaration order. Together with the
// entry id it identifies the logical field a coalescing window belongs to.
func (p EntryPatch) fieldKey() string {
	key := ""
	if p.Name != nil {
		key += "name,"
	}
	if p.Quantity != nil {
		key += "quantity,"
	}
	if p.Unit != nil {
		key += "unit,"
	}
	if p.Category != nil {
		key += "category,"
	}
	if p.EmissionFactor != nil {
		key += "factor,"
	}
	return key
}

// WorkingSet is the user's editable state: the selected product and the bill
// of materials. SelectedProduct holds a catalog product id; empty means none.
type WorkingSet struct {
	SelectedProduct string     `json:"selected_product,omitempty"`
	Entries         []BomEntry `json:"entries"`
}

// NewWorkingSet returns the initial working set. It starts with one blank
// entry so the bill is never observably empty.
func NewWorkingSet() WorkingSet {
	return WorkingSet{Entries: []BomEntry{NewBomEntry()}}
}

// Clone returns a deep copy. Snapshots handed to history or subscribers are
// always clones so later edits cannot reach back into them.
func (w WorkingSet) Clone() WorkingSet {
	out := w
	out.Entries = make([]BomEntry, len(w.Entries))
	copy(out.Entries, w.Entries)
	return out
}

// HasSelection reports whether a product has been chosen (the Select gate).
func (w WorkingSet) HasSelection() bool {
	return w.SelectedProduct != ""
}

// EntriesComplete reports whether every bill entry is fully specified (the
// Edit gate).
func (w WorkingSet) EntriesComplete() bool {
	if len(w.Entries) == 0 {
		return false
	}
	for _, e := range w.Entries {
		if !e.Complete() {
			return false
		}
	}
	return true
}

func (w WorkingSet) entryIndex(id string) int {
	for i := range w.Entries {
		if w.Entries[i].ID == id {
			return i
		}
	}
	return -1
}

// JobStatus is the lifecycle state of a calculation job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further polling can change the status.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// EntryEmission is the computed contribution of a single bill entry.
type EntryEmission struct {
	EntryID string  `json:"entry_id"`
	Name    string  `json:"name"`
	KgCO2e  float64 `json:"kg_co2e"`
}

// CalculationResult is the numeric outcome of a completed job.
type CalculationResult struct {
	TotalKgCO2e float64              `json:"total_kg_co2e"`
	ByCategory  map[Category]float64 `json:"by_category,omitempty"`
	ByEntry     []EntryEmission      `json:"by_entry,omitempty"`
}

// CalculationJob tracks one submitted calculation. Elapsed grows by exactly
// the poll interval per processed tick; it is bookkeeping, never a timeout.
type CalculationJob struct {
	ID           string
	Status       JobStatus
	Elapsed      time.Duration
	Result       *CalculationResult
	ErrorMessage string
}

// ElapsedSeconds returns the whole seconds of polling spent on the job.
func (j CalculationJob) ElapsedSeconds() int {
	return int(j.Elapsed / time.Second)
}

// StatusReport is the compute service's answer to a status query.
type StatusReport struct {
	Status       JobStatus          `json:"status"`
	Result       *CalculationResult `json:"result,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
}

// Service is the external compute collaborator: submit a working set, then
// poll the returned job id until a terminal status arrives.
type Service interface {
	Submit(ctx context.Context, ws WorkingSet) (string, error)
	Status(ctx context.Context, jobID string) (StatusReport, error)
}

// KV is the persistence collaborator for wizard state. Get reports absence
// through the bool rather than an error.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}
