package wizard

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func typeString(m ConfirmModel, s string) ConfirmModel {
	for _, r := range s {
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = next.(ConfirmModel)
	}
	return m
}

func pressEnter(m ConfirmModel) ConfirmModel {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(ConfirmModel)
}

func TestConfirmRequiresExactTableName(t *testing.T) {
	m := NewConfirm("ipfix.flows", 42)

	m = typeString(m, "ipfix.flows")
	m = pressEnter(m)
	if !m.Confirmed() {
		t.Error("exact table name not accepted")
	}
}

func TestConfirmRejectsWrongName(t *testing.T) {
	m := NewConfirm("ipfix.flows", 42)

	m = typeString(m, "ipfix.sessions")
	m = pressEnter(m)
	if m.Confirmed() {
		t.Fatal("wrong table name accepted")
	}
	if m.state == stateCancelled {
		t.Error("cancelled on first wrong attempt; should allow retries")
	}
}

func TestConfirmCancelsAfterThreeAttempts(t *testing.T) {
	m := NewConfirm("ipfix.flows", 42)

	for i := 0; i < 3; i++ {
		m = typeString(m, "nope")
		m = pressEnter(m)
	}
	if m.state != stateCancelled {
		t.Error("three failed attempts did not cancel")
	}
	if m.Confirmed() {
		t.Error("cancelled prompt reports confirmed")
	}
}

func TestConfirmEscCancels(t *testing.T) {
	m := NewConfirm("ipfix.flows", 0)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(ConfirmModel)
	if m.Confirmed() {
		t.Error("Esc confirmed the run")
	}
	if m.state != stateCancelled {
		t.Error("Esc did not cancel")
	}
}

func TestViewShowsRowCount(t *testing.T) {
	m := NewConfirm("ipfix.flows", 1234)
	if !strings.Contains(m.View(), "1234") {
		t.Error("prompt does not show the batch size")
	}
	if !strings.Contains(m.View(), "ipfix.flows") {
		t.Error("prompt does not name the table")
	}
}
