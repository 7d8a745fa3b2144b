// Package review is the interactive terminal surface for working
// through undecided candidates: a scored queue, accept/decline keys,
// and immediate feedback on what each verdict triggered.
package review

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dropforge/internal/store"
	"dropforge/internal/types"
)

// deciderService is the slice of the pipeline the TUI needs.
type deciderService interface {
	ListCandidates(f store.ScoreFilter) ([]types.ScoredCandidate, error)
	Decide(ctx context.Context, candidateID string, outcome types.DecisionOutcome, actor string) (types.Decision, error)
}

// candidateItem adapts a scored candidate to list.Item.
type candidateItem struct {
	sc types.ScoredCandidate
}

func (i candidateItem) Title() string {
	return fmt.Sprintf("%.2f  %s", i.sc.Score, i.sc.Title)
}

func (i candidateItem) Description() string {
	category := i.sc.Category
	if category == "" {
		category = "uncategorized"
	}
	return fmt.Sprintf("[%s] %s • strategy v%d", category, i.sc.SourceRef, i.sc.StrategyVersion)
}

func (i candidateItem) FilterValue() string {
	return i.sc.Title + " " + i.sc.Category
}

// Model is the bubbletea model for the review queue.
type Model struct {
	svc   deciderService
	actor string
	list  list.Model
	err   error

	statusStyle lipgloss.Style
	errorStyle  lipgloss.Style
}

// NewModel builds the review model with the current undecided queue.
func NewModel(svc deciderService, actor string) (Model, error) {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Candidate Review"
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))

	m := Model{
		svc:         svc,
		actor:       actor,
		list:        l,
		statusStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		errorStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
	if err := m.reload(); err != nil {
		return Model{}, err
	}
	return m, nil
}

// reload refreshes the queue from the pipeline.
func (m *Model) reload() error {
	scored, err := m.svc.ListCandidates(store.ScoreFilter{Undecided: true})
	if err != nil {
		return err
	}
	items := make([]list.Item, 0, len(scored))
	for _, sc := range scored {
		items = append(items, candidateItem{sc: sc})
	}
	m.list.SetItems(items)
	m.list.Title = fmt.Sprintf("Candidate Review (%d pending)", len(items))
	return nil
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height-2)

	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "a":
			return m.decide(types.OutcomeAccepted)
		case "d":
			return m.decide(types.OutcomeDeclined)
		case "r":
			m.err = m.reload()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// decide applies a verdict to the selected candidate and drops it from
// the queue.
func (m Model) decide(outcome types.DecisionOutcome) (tea.Model, tea.Cmd) {
	sel, ok := m.list.SelectedItem().(candidateItem)
	if !ok {
		return m, nil
	}

	d, err := m.svc.Decide(context.Background(), sel.sc.ID, outcome, m.actor)
	if err != nil {
		m.err = err
		return m, nil
	}
	m.err = nil

	if err := m.reload(); err != nil {
		m.err = err
		return m, nil
	}

	verb := "declined"
	if d.Outcome == types.OutcomeAccepted {
		verb = "accepted, campaign launching"
	}
	cmd := m.list.NewStatusMessage(m.statusStyle.Render(fmt.Sprintf("%s %s", sel.sc.Title, verb)))
	return m, cmd
}

// View renders the queue.
func (m Model) View() string {
	help := lipgloss.NewStyle().Faint(true).Render(" • a: accept • d: decline • r: refresh • /: filter • q: quit")
	body := m.list.View()
	if m.err != nil {
		body = lipgloss.JoinVertical(lipgloss.Left, body, m.errorStyle.Render("error: "+m.err.Error()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, help)
}

// Run starts the interactive review session.
func Run(svc deciderService, actor string) error {
	m, err := NewModel(svc, actor)
	if err != nil {
		return err
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
