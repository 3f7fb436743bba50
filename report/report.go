// Package report archives completed calculations to disk.
package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/santiagomed/carbo/core"
	"github.com/spf13/afero"
)

// Writer persists completed calculations through an afero filesystem: one
// JSON document with the full data and one plain-text summary next to it.
type Writer struct {
	fs  afero.Fs
	dir string
	now func() time.Time
}

// NewWriter writes reports under dir on the given filesystem.
func NewWriter(fs afero.Fs, dir string) *Writer {
	return &Writer{fs: fs, dir: dir, now: time.Now}
}

// document is the JSON shape of an archived calculation.
type document struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Product     string                  `json:"product"`
	JobID       string                  `json:"job_id"`
	WorkingSet  core.WorkingSet         `json:"working_set"`
	Result      *core.CalculationResult `json:"result"`
}

// Archive writes the job's result for the given working set and returns the
// JSON document's path. Only completed jobs can be archived.
func (w *Writer) Archive(productName string, ws core.WorkingSet, job core.CalculationJob) (string, error) {
	if job.Status != core.StatusCompleted || job.Result == nil {
		return "", fmt.Errorf("job %s is not completed, nothing to archive", job.ID)
	}
	if err := w.fs.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("error creating report directory: %w", err)
	}

	stamp := w.now().Format("20060102-150405")
	base := filepath.Join(w.dir, fmt.Sprintf("footprint-%s-%s", slug(productName), stamp))

	doc := document{
		GeneratedAt: w.now(),
		Product:     productName,
		JobID:       job.ID,
		WorkingSet:  ws,
		Result:      job.Result,
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error marshaling report: %w", err)
	}
	if err := afero.WriteFile(w.fs, base+".json", raw, 0644); err != nil {
		return "", fmt.Errorf("error writing report: %w", err)
	}

	summary := w.summary(productName, ws, job)
	if err := afero.WriteFile(w.fs, base+".txt", []byte(summary), 0644); err != nil {
		return "", fmt.Errorf("error writing summary: %w", err)
	}
	return base + ".json", nil
}

func (w *Writer) summary(productName string, ws core.WorkingSet, job core.CalculationJob) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Carbon footprint: %s\n", productName)
	fmt.Fprintf(&b, "Total: %.3f kgCO2e\n\n", job.Result.TotalKgCO2e)

	if len(job.Result.ByCategory) > 0 {
		b.WriteString("By category:\n")
		for _, c := range core.Categories() {
			if v, ok := job.Result.ByCategory[c]; ok {
				fmt.Fprintf(&b, "  %-10s %.3f kgCO2e\n", c, v)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("Bill of materials:\n")
	for _, e := range ws.Entries {
		fmt.Fprintf(&b, "  %s: %g %s (%s)\n", e.Name, e.Quantity, e.Unit, e.Category)
	}
	return b.String()
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "product"
	}
	return b.String()
}
