package compute

import (
	"context"
	"testing"
	"time"

	"github.com/santiagomed/carbo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapCatalog is a fixed in-memory factor catalog.
type mapCatalog map[string]float64

func (c mapCatalog) FactorKgCO2e(id string) (float64, bool, error) {
	v, ok := c[id]
	return v, ok, nil
}

func testCatalog() mapCatalog {
	return mapCatalog{
		"steel-primary": 1.9,
		"road-freight":  0.12,
	}
}

func billEntry(name string, qty float64, cat core.Category, factor string) core.BomEntry {
	e := core.NewBomEntry()
	e.Name = name
	e.Quantity = qty
	e.Category = cat
	e.EmissionFactor = factor
	return e
}

func startBackend(t *testing.T, delay time.Duration) *LocalBackend {
	t.Helper()
	b := NewLocalBackend(testCatalog(), 2, delay, nil)
	b.Start(context.Background())
	t.Cleanup(func() { b.Shutdown(time.Second) })
	return b
}

func awaitTerminal(t *testing.T, b *LocalBackend, jobID string) core.StatusReport {
	t.Helper()
	var report core.StatusReport
	require.Eventually(t, func() bool {
		var err error
		report, err = b.Status(context.Background(), jobID)
		require.NoError(t, err)
		return report.Status.Terminal()
	}, 2*time.Second, time.Millisecond)
	return report
}

func TestLocalBackendComputesSum(t *testing.T) {
	b := startBackend(t, 0)

	ws := core.WorkingSet{Entries: []core.BomEntry{
		billEntry("steel body", 2, core.CategoryMaterial, "steel-primary"),
		billEntry("truck leg", 10, core.CategoryTransport, "road-freight"),
	}}
	jobID, err := b.Submit(context.Background(), ws)
	require.NoError(t, err)

	report := awaitTerminal(t, b, jobID)
	require.Equal(t, core.StatusCompleted, report.Status)
	require.NotNil(t, report.Result)
	assert.InDelta(t, 2*1.9+10*0.12, report.Result.TotalKgCO2e, 1e-9)
	assert.InDelta(t, 3.8, report.Result.ByCategory[core.CategoryMaterial], 1e-9)
	assert.InDelta(t, 1.2, report.Result.ByCategory[core.CategoryTransport], 1e-9)
	require.Len(t, report.Result.ByEntry, 2)
	assert.Equal(t, "steel body", report.Result.ByEntry[0].Name)
}

func TestLocalBackendUnknownFactorFailsJob(t *testing.T) {
	b := startBackend(t, 0)

	ws := core.WorkingSet{Entries: []core.BomEntry{
		billEntry("mystery part", 1, core.CategoryOther, "no-such-factor"),
	}}
	jobID, err := b.Submit(context.Background(), ws)
	require.NoError(t, err)

	report := awaitTerminal(t, b, jobID)
	assert.Equal(t, core.StatusFailed, report.Status)
	assert.Contains(t, report.ErrorMessage, "no-such-factor")
	assert.Nil(t, report.Result)
}

func TestLocalBackendMissingFactorFailsJob(t *testing.T) {
	b := startBackend(t, 0)

	ws := core.WorkingSet{Entries: []core.BomEntry{
		billEntry("unpicked", 1, core.CategoryMaterial, ""),
	}}
	jobID, err := b.Submit(context.Background(), ws)
	require.NoError(t, err)

	report := awaitTerminal(t, b, jobID)
	assert.Equal(t, core.StatusFailed, report.Status)
	assert.Contains(t, report.ErrorMessage, "no emission factor")
}

func TestLocalBackendReportsPendingThenProgress(t *testing.T) {
	b := startBackend(t, 50*time.Millisecond)

	ws := core.WorkingSet{Entries: []core.BomEntry{
		billEntry("steel body", 1, core.CategoryMaterial, "steel-primary"),
	}}
	jobID, err := b.Submit(context.Background(), ws)
	require.NoError(t, err)

	// The per-entry delay keeps the job observable in a non-terminal state.
	report, err := b.Status(context.Background(), jobID)
	require.NoError(t, err)
	assert.False(t, report.Status.Terminal())

	report = awaitTerminal(t, b, jobID)
	assert.Equal(t, core.StatusCompleted, report.Status)
}

func TestLocalBackendUnknownJob(t *testing.T) {
	b := startBackend(t, 0)
	_, err := b.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestLocalBackendRejectsAfterShutdown(t *testing.T) {
	b := NewLocalBackend(testCatalog(), 1, 0, nil)
	b.Start(context.Background())
	b.Shutdown(time.Second)

	_, err := b.Submit(context.Background(), core.NewWorkingSet())
	assert.ErrorIs(t, err, ErrBackendStopped)
}
