// Package wizard holds the interactive confirmation shown before a live
// run. Disabling dry-run is an explicit, auditable decision; the
// operator proves intent by typing the target table name.
package wizard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type confirmState int

const (
	statePrompt confirmState = iota
	stateConfirmed
	stateCancelled
)

// ConfirmModel is the Bubble Tea model for the live-run confirmation.
type ConfirmModel struct {
	table     string
	rowsShown int64
	input     textinput.Model
	state     confirmState
	attempts  int
}

// NewConfirm builds the confirmation prompt for a table. rows is the
// unexported row count from a preceding dry run, shown so the operator
// knows the blast radius.
func NewConfirm(table string, rows int64) ConfirmModel {
	ti := textinput.New()
	ti.Placeholder = table
	ti.Focus()
	ti.CharLimit = 128

	return ConfirmModel{
		table:     table,
		rowsShown: rows,
		input:     ti,
	}
}

// Init implements tea.Model.
func (m ConfirmModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.state = stateCancelled
			return m, tea.Quit

		case "enter":
			if strings.TrimSpace(m.input.Value()) == m.table {
				m.state = stateConfirmed
				return m, tea.Quit
			}
			m.attempts++
			if m.attempts >= 3 {
				m.state = stateCancelled
				return m, tea.Quit
			}
			m.input.SetValue("")
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m ConfirmModel) View() string {
	switch m.state {
	case stateConfirmed:
		return fmt.Sprintf("Live run confirmed for %s.\n", m.table)
	case stateCancelled:
		return "Live run cancelled; nothing was executed.\n"
	}

	var b strings.Builder
	b.WriteString("⚡ LIVE RUN: this will export and then DELETE rows from the hot store.\n\n")
	if m.rowsShown > 0 {
		fmt.Fprintf(&b, "   Rows currently unexported: %d\n\n", m.rowsShown)
	}
	fmt.Fprintf(&b, "Type the table name (%s) to continue, Esc to cancel:\n\n", m.table)
	b.WriteString("  " + m.input.View() + "\n")
	if m.attempts > 0 {
		fmt.Fprintf(&b, "\n  name does not match (%d/3)\n", m.attempts)
	}
	return b.String()
}

// Confirmed reports the operator's decision after the program exits.
func (m ConfirmModel) Confirmed() bool {
	return m.state == stateConfirmed
}

// RunConfirm shows the prompt and blocks for the decision.
func RunConfirm(table string, rows int64) (bool, error) {
	final, err := tea.NewProgram(NewConfirm(table, rows)).Run()
	if err != nil {
		return false, fmt.Errorf("confirmation prompt failed: %w", err)
	}
	model, ok := final.(ConfirmModel)
	if !ok {
		return false, fmt.Errorf("unexpected confirmation model type")
	}
	return model.Confirmed(), nil
}
