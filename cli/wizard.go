package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/list"
	"github.com/spf13/afero"

	"github.com/santiagomed/carbo/compute"
	"github.com/santiagomed/carbo/config"
	"github.com/santiagomed/carbo/core"
	"github.com/santiagomed/carbo/logger"
	"github.com/santiagomed/carbo/report"
	"github.com/santiagomed/carbo/store"
	"github.com/santiagomed/carbo/suggest"
)

var (
	checkStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("202"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFBA08"))
	totalStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
)

// entryFields is the editing order when walking through a bill entry.
var entryFields = []string{"name", "quantity", "unit", "category", "factor"}

type suggestMsg struct {
	entryID  string
	factorID string
	err      error
}

type wizardModel struct {
	session   *core.Session
	catalog   *store.Store
	products  []store.Product
	factors   []store.EmissionFactor
	publisher *WizardPublisher
	suggester *suggest.Suggester
	reporter  *report.Writer
	logger    logger.Logger

	backend       *compute.LocalBackend
	backendCancel context.CancelFunc

	textInput textinput.Model
	spinner   spinner.Model

	cursor      int
	editEntry   string
	editField   int
	editing     bool
	calculating bool
	status      string
	reportPath  string
}

func newWizardModel(f calcFlags) (*wizardModel, error) {
	logger.Init()
	log := logger.Get()
	log.Debug("Initializing Carbo wizard")

	cfg, err := config.LoadConfig(f.config)
	if err != nil {
		return nil, err
	}
	if f.service != "" {
		cfg.ServiceURL = f.service
	}

	catalog, err := store.Open(cfg.DBPath, log)
	if err != nil {
		return nil, err
	}
	products, err := catalog.ListProducts()
	if err != nil {
		return nil, err
	}
	factors, err := catalog.ListFactors()
	if err != nil {
		return nil, err
	}

	var service core.Service
	var backend *compute.LocalBackend
	var backendCancel context.CancelFunc
	if cfg.ServiceURL != "" {
		service = compute.NewHTTPService(cfg.ServiceURL, log)
	} else {
		backend = compute.NewLocalBackend(catalog, cfg.Workers, cfg.EntryDelay, log)
		ctx, cancel := context.WithCancel(context.Background())
		backend.Start(ctx)
		backendCancel = cancel
		service = backend
	}

	publisher := NewWizardPublisher(log)
	session := core.NewSession(service, core.SessionOptions{
		HistoryDepth:   cfg.HistoryDepth,
		CoalesceWindow: cfg.CoalesceWindow,
		PollInterval:   cfg.PollInterval,
		KV:             catalog,
		Publisher:      publisher,
		Logger:         log,
	})
	if f.fresh {
		session.Reset()
	}

	var suggester *suggest.Suggester
	if cfg.OpenAIKey != "" {
		client, err := suggest.NewOpenAIClient(&suggest.Config{
			APIKey:   cfg.OpenAIKey,
			Model:    cfg.OpenAIModel,
			BatchID:  suggest.EnsureBatchID(""),
			TellmURL: cfg.TellmURL,
		}, log)
		if err != nil {
			return nil, err
		}
		suggester = suggest.NewSuggester(client)
	}

	ti := textinput.New()
	ti.CharLimit = 156
	ti.Width = 40

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("202"))

	return &wizardModel{
		session:       session,
		catalog:       catalog,
		products:      products,
		factors:       factors,
		publisher:     publisher,
		suggester:     suggester,
		reporter:      report.NewWriter(afero.NewOsFs(), cfg.ReportDir),
		logger:        log,
		backend:       backend,
		backendCancel: backendCancel,
		textInput:     ti,
		spinner:       s,
	}, nil
}

// Shutdown releases everything the model owns. Called after the program ends.
func (m *wizardModel) Shutdown() {
	m.session.Orchestrator.Stop()
	if m.backendCancel != nil {
		m.backendCancel()
	}
	if m.backend != nil {
		m.backend.Shutdown(5 * time.Second)
	}
	m.catalog.Close()
}

func (m *wizardModel) Init() tea.Cmd {
	return m.listenForOutcome
}

func (m *wizardModel) listenForOutcome() tea.Msg {
	return <-m.publisher.outcomeChan
}

func (m *wizardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case jobOutcomeMsg:
		return m.handleOutcome(msg)
	case suggestMsg:
		return m.handleSuggestion(msg)
	default:
		if m.calculating {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
	}
	if m.editing {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *wizardModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editing {
		return m.handleEditKey(msg)
	}

	switch msg.String() {
	case "ctrl+c", "q":
		m.logger.Debug("User exited the application")
		return m, tea.Quit
	case "left", "p":
		if err := m.session.Wizard.GoPrevious(); err != nil {
			m.status = "already on the first step"
		} else {
			m.cursor = 0
			m.status = ""
		}
		return m, nil
	case "right", "n":
		if err := m.session.Wizard.GoNext(); err != nil {
			m.status = "complete this step first"
		} else {
			m.cursor = 0
			m.status = ""
		}
		return m, nil
	case "u":
		if !m.session.Store.Undo() {
			m.status = "nothing to undo"
		} else {
			m.status = "undone"
		}
		return m.clampCursor(), nil
	case "r":
		if !m.session.Store.Redo() {
			m.status = "nothing to redo"
		} else {
			m.status = "redone"
		}
		return m.clampCursor(), nil
	case "ctrl+r":
		m.session.Reset()
		m.cursor = 0
		m.calculating = false
		m.reportPath = ""
		m.status = "started over"
		return m, nil
	}

	switch m.session.Wizard.State().Current {
	case core.StepSelect:
		return m.handleSelectKey(msg)
	case core.StepEdit:
		return m.handleEditStepKey(msg)
	case core.StepCalculate:
		return m.handleCalculateKey(msg)
	case core.StepResults:
		return m.handleResultsKey(msg)
	}
	return m, nil
}

func (m *wizardModel) handleSelectKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.products)-1 {
			m.cursor++
		}
	case "enter":
		if len(m.products) == 0 {
			m.status = "catalog is empty"
			return m, nil
		}
		p := m.products[m.cursor]
		m.session.Store.SetSelectedProduct(p.ID)
		if err := m.session.Wizard.CompleteCurrent(); err == nil {
			m.status = fmt.Sprintf("selected %s", p.Name)
		}
	}
	return m, nil
}

func (m *wizardModel) handleEditStepKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	entries := m.session.Store.Snapshot().Entries
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(entries)-1 {
			m.cursor++
		}
	case "a":
		m.session.Store.AddEntry()
		m.cursor = len(entries)
		m.status = "entry added"
	case "d":
		if err := m.session.Store.RemoveEntry(entries[m.cursor].ID); err != nil {
			m.status = errorStyle.Render(err.Error())
		} else {
			m.status = "entry removed"
		}
		return m.clampCursor(), nil
	case "s":
		return m, m.suggestFactor(entries[m.cursor])
	case "enter":
		m.startEditing(entries[m.cursor], 0)
		return m, textinput.Blink
	case "c":
		if err := m.session.Wizard.CompleteCurrent(); err != nil {
			m.status = "every entry needs a name, quantity, and factor"
		} else {
			m.status = "bill of materials complete"
		}
	}
	return m, nil
}

func (m *wizardModel) handleCalculateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		if m.calculating {
			return m, nil
		}
		if err := m.session.Calculate(context.Background()); err != nil {
			m.status = errorStyle.Render(fmt.Sprintf("could not start: %v", err))
			return m, nil
		}
		m.calculating = true
		m.status = ""
		return m, tea.Batch(m.spinner.Tick, m.listenForOutcome)
	case "x":
		if m.calculating {
			m.session.Orchestrator.Stop()
			m.calculating = false
			m.status = "calculation cancelled"
		}
	}
	return m, nil
}

func (m *wizardModel) handleResultsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() != "enter" || m.reportPath != "" {
		return m, nil
	}
	job, ok := m.session.Orchestrator.Job()
	if !ok {
		return m, nil
	}
	path, err := m.reporter.Archive(m.selectedProductName(), m.session.Store.Snapshot(), job)
	if err != nil {
		m.status = errorStyle.Render(fmt.Sprintf("could not save report: %v", err))
		return m, nil
	}
	m.reportPath = path
	m.status = fmt.Sprintf("report saved to %s", path)
	return m, nil
}

// startEditing focuses the text input on one field of an entry.
func (m *wizardModel) startEditing(entry core.BomEntry, field int) {
	m.editing = true
	m.editEntry = entry.ID
	m.editField = field
	m.textInput.SetValue("")
	switch entryFields[field] {
	case "name":
		m.textInput.Placeholder = entry.Name
	case "quantity":
		m.textInput.Placeholder = strconv.FormatFloat(entry.Quantity, 'f', -1, 64)
	case "unit":
		m.textInput.Placeholder = entry.Unit
	case "category":
		m.textInput.Placeholder = string(entry.Category)
	case "factor":
		m.textInput.Placeholder = entry.EmissionFactor
	}
	m.textInput.Focus()
}

func (m *wizardModel) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.editing = false
		m.textInput.Blur()
		return m, nil
	case tea.KeyEnter:
		if err := m.applyField(m.textInput.Value()); err != nil {
			m.status = errorStyle.Render(err.Error())
			return m, nil
		}
		m.status = ""
		if m.editField+1 < len(entryFields) {
			entry, ok := m.currentEditEntry()
			if !ok {
				m.editing = false
				return m, nil
			}
			m.startEditing(entry, m.editField+1)
			return m, textinput.Blink
		}
		m.editing = false
		m.textInput.Blur()
		return m, nil
	case tea.KeyCtrlC:
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// applyField parses the typed value and patches the entry. An empty value
// keeps the current one.
func (m *wizardModel) applyField(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	var patch core.EntryPatch
	switch entryFields[m.editField] {
	case "name":
		patch.Name = &value
	case "quantity":
		q, err := strconv.ParseFloat(value, 64)
		if err != nil || q <= 0 {
			return fmt.Errorf("quantity must be a positive number")
		}
		patch.Quantity = &q
	case "unit":
		patch.Unit = &value
	case "category":
		c := core.Category(strings.ToLower(value))
		valid := false
		for _, known := range core.Categories() {
			if c == known {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("category must be one of %v", core.Categories())
		}
		patch.Category = &c
	case "factor":
		found := false
		for _, f := range m.factors {
			if f.ID == value {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown factor %q (see: carbo factors)", value)
		}
		patch.EmissionFactor = &value
	}
	return m.session.Store.UpdateEntry(m.editEntry, patch)
}

func (m *wizardModel) currentEditEntry() (core.BomEntry, bool) {
	for _, e := range m.session.Store.Snapshot().Entries {
		if e.ID == m.editEntry {
			return e, true
		}
	}
	return core.BomEntry{}, false
}

func (m *wizardModel) suggestFactor(entry core.BomEntry) tea.Cmd {
	if m.suggester == nil {
		m.status = "factor suggestions need an OpenAI key (carbo config: openai_key)"
		return nil
	}
	if entry.Name == "" {
		m.status = "name the entry before asking for a suggestion"
		return nil
	}
	m.status = "asking for a factor suggestion..."
	return func() tea.Msg {
		id, err := m.suggester.SuggestFactor(context.Background(), entry, m.factors)
		return suggestMsg{entryID: entry.ID, factorID: id, err: err}
	}
}

func (m *wizardModel) handleSuggestion(msg suggestMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.status = errorStyle.Render(fmt.Sprintf("suggestion failed: %v", msg.err))
		return m, nil
	}
	if msg.factorID == "" {
		m.status = "no matching factor in the catalog"
		return m, nil
	}
	if err := m.session.Store.UpdateEntry(msg.entryID, core.EntryPatch{EmissionFactor: &msg.factorID}); err != nil {
		m.status = errorStyle.Render(err.Error())
		return m, nil
	}
	m.status = fmt.Sprintf("suggested factor: %s", msg.factorID)
	return m, nil
}

func (m *wizardModel) handleOutcome(msg jobOutcomeMsg) (tea.Model, tea.Cmd) {
	m.calculating = false
	if msg.completed {
		m.logger.Debug(fmt.Sprintf("Received completion for job %s", msg.job.ID))
		m.status = ""
		m.cursor = 0
	} else {
		m.status = errorStyle.Render(fmt.Sprintf("calculation failed: %s", msg.job.ErrorMessage))
	}
	return m, m.listenForOutcome
}

func (m *wizardModel) clampCursor() *wizardModel {
	var max int
	switch m.session.Wizard.State().Current {
	case core.StepSelect:
		max = len(m.products) - 1
	case core.StepEdit:
		max = len(m.session.Store.Snapshot().Entries) - 1
	}
	if m.cursor > max {
		m.cursor = max
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	return m
}

func (m *wizardModel) View() string {
	var b strings.Builder
	b.WriteString(m.stepList())
	b.WriteString("\n")

	switch m.session.Wizard.State().Current {
	case core.StepSelect:
		b.WriteString(m.viewSelect())
	case core.StepEdit:
		b.WriteString(m.viewEdit())
	case core.StepCalculate:
		b.WriteString(m.viewCalculate())
	case core.StepResults:
		b.WriteString(m.viewResults())
	}

	if m.status != "" {
		b.WriteString("\n" + m.status + "\n")
	}
	b.WriteString("\n" + faintStyle.Render(m.helpLine()))
	return b.String()
}

// stepList renders the four steps with checkmarks for completed ones and a
// marker on the current one.
func (m *wizardModel) stepList() string {
	st := m.session.Wizard.State()
	labels := map[core.Step]string{
		core.StepSelect:    "Select a product",
		core.StepEdit:      "Edit the bill of materials",
		core.StepCalculate: "Calculate the footprint",
		core.StepResults:   "Review the results",
	}

	enumerator := func(l list.Items, i int) string {
		step := core.Steps()[i]
		switch {
		case st.IsComplete(step):
			return checkStyle.Render("✓")
		case step == st.Current && m.calculating:
			return m.spinner.View()
		case step == st.Current:
			return cursorStyle.Render(">")
		default:
			return " "
		}
	}

	l := list.New().Enumerator(enumerator)
	for _, step := range core.Steps() {
		if step == st.Current {
			l.Item(titleStyle.Render(labels[step]))
		} else {
			l.Item(labels[step])
		}
	}
	return fmt.Sprint(l)
}

func (m *wizardModel) viewSelect() string {
	ws := m.session.Store.Snapshot()
	var b strings.Builder
	for i, p := range m.products {
		marker := "  "
		if i == m.cursor {
			marker = cursorStyle.Render("> ")
		}
		line := fmt.Sprintf("%s%s — %s", marker, p.Name, faintStyle.Render(p.Description))
		if p.ID == ws.SelectedProduct {
			line += " " + checkStyle.Render("(selected)")
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (m *wizardModel) viewEdit() string {
	ws := m.session.Store.Snapshot()
	var b strings.Builder
	for i, e := range ws.Entries {
		marker := "  "
		if i == m.cursor {
			marker = cursorStyle.Render("> ")
		}
		name := e.Name
		if name == "" {
			name = faintStyle.Render("(unnamed)")
		}
		factor := e.EmissionFactor
		if factor == "" {
			factor = faintStyle.Render("no factor")
		}
		done := " "
		if e.Complete() {
			done = checkStyle.Render("✓")
		}
		b.WriteString(fmt.Sprintf("%s%s %s: %g %s [%s] %s\n",
			marker, done, name, e.Quantity, e.Unit, e.Category, factor))
	}
	if m.editing {
		b.WriteString(fmt.Sprintf("\n%s: %s\n", entryFields[m.editField], m.textInput.View()))
		b.WriteString(faintStyle.Render("(enter to keep going, esc to stop editing)") + "\n")
	}
	// CanUndo/CanRedo instead of HistoryLen: reading the length commits a
	// pending coalesced edit, which a repaint must never do.
	var hints []string
	if m.session.Store.CanUndo() {
		hints = append(hints, "u: undo")
	}
	if m.session.Store.CanRedo() {
		hints = append(hints, "r: redo")
	}
	if len(hints) > 0 {
		b.WriteString(faintStyle.Render("\n"+strings.Join(hints, " · ")) + "\n")
	}
	return b.String()
}

func (m *wizardModel) viewCalculate() string {
	if m.calculating {
		job, _ := m.session.Orchestrator.Job()
		return fmt.Sprintf("%s Calculating... %ds elapsed\n", m.spinner.View(), job.ElapsedSeconds())
	}
	ws := m.session.Store.Snapshot()
	return fmt.Sprintf("Ready to calculate %s with %d entries.\n",
		m.selectedProductName(), len(ws.Entries))
}

func (m *wizardModel) viewResults() string {
	job, ok := m.session.Orchestrator.Job()
	if !ok || job.Result == nil {
		return "No results yet.\n"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s: %s\n\n",
		m.selectedProductName(),
		totalStyle.Render(fmt.Sprintf("%.3f kgCO2e", job.Result.TotalKgCO2e))))
	for _, c := range core.Categories() {
		if v, ok := job.Result.ByCategory[c]; ok {
			b.WriteString(fmt.Sprintf("  %-10s %.3f kgCO2e\n", c, v))
		}
	}
	if len(job.Result.ByEntry) > 0 {
		b.WriteString("\n")
		for _, e := range job.Result.ByEntry {
			b.WriteString(faintStyle.Render(fmt.Sprintf("  %s: %.3f kgCO2e\n", e.Name, e.KgCO2e)))
		}
	}
	if m.reportPath != "" {
		b.WriteString("\n" + faintStyle.Render("report: "+m.reportPath) + "\n")
	}
	return b.String()
}

func (m *wizardModel) selectedProductName() string {
	ws := m.session.Store.Snapshot()
	for _, p := range m.products {
		if p.ID == ws.SelectedProduct {
			return p.Name
		}
	}
	return "product"
}

func (m *wizardModel) helpLine() string {
	common := "n/p: steps · u: undo · r: redo · ctrl+r: start over · q: quit"
	switch m.session.Wizard.State().Current {
	case core.StepSelect:
		return "up/down: move · enter: select · " + common
	case core.StepEdit:
		return "up/down: move · enter: edit · a: add · d: delete · s: suggest factor · c: done · " + common
	case core.StepCalculate:
		return "enter: calculate · x: cancel · " + common
	case core.StepResults:
		return "enter: save report · " + common
	}
	return common
}
