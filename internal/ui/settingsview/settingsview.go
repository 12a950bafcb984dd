// Package settingsview is a terminal viewer for the settings tree that
// redraws whenever the settings change, from this process or another.
package settingsview

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/codexgui/internal/keys"
	"github.com/zjrosen/codexgui/internal/log"
	"github.com/zjrosen/codexgui/internal/pubsub"
	"github.com/zjrosen/codexgui/internal/settings"
)

// Source is the part of the settings store the viewer drives.
type Source interface {
	Path() string
	All() settings.Value
	Reset(key string) (bool, error)
	Reload() (bool, error)
}

// Model holds the viewer state.
type Model struct {
	src      Source
	listener *pubsub.ContinuousListener[settings.Change]
	keys     keys.SettingsKeyMap
	help     help.Model

	entries []settings.Entry
	cursor  int
	// changed is the key touched by the most recent change, highlighted
	// until the next one.
	changed string
	status  string
	isError bool
	palette palette

	width  int
	height int
}

// New creates a viewer over src that listens for changes on events.
func New(ctx context.Context, src Source, events pubsub.Subscriber[settings.Change]) Model {
	m := Model{
		src:      src,
		listener: pubsub.NewContinuousListener(ctx, events),
		keys:     keys.Settings,
		help:     help.New(),
	}
	m.setTree(src.All())
	return m
}

// Init starts listening for settings changes.
func (m Model) Init() tea.Cmd {
	return m.listener.Listen()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case pubsub.Event[settings.Change]:
		m.setTree(msg.Payload.Tree)
		m.changed = msg.Payload.Key
		m.isError = false
		switch {
		case msg.Type == pubsub.ReloadedEvent:
			m.status = "reloaded from disk"
		case msg.Payload.Key == "":
			m.status = "all settings reset"
		default:
			m.status = fmt.Sprintf("%s %s", msg.Payload.Key, msg.Type)
		}
		return m, m.listener.Listen()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.entries)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Top):
		m.cursor = 0
	case key.Matches(msg, m.keys.Bottom):
		m.cursor = max(len(m.entries)-1, 0)
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Reset):
		entry, ok := m.Selected()
		if !ok {
			return m, nil
		}
		changed, err := m.src.Reset(entry.Key)
		switch {
		case err != nil:
			log.ErrorErr(log.CatUI, "Reset failed", err, "key", entry.Key)
			m.status, m.isError = err.Error(), true
		case !changed:
			m.status, m.isError = entry.Key+" has no default", false
		}
	case key.Matches(msg, m.keys.Reload):
		changed, err := m.src.Reload()
		switch {
		case err != nil:
			m.status, m.isError = err.Error(), true
		case !changed:
			m.status, m.isError = "no changes on disk", false
		}
	}
	return m, nil
}

// Selected returns the entry under the cursor.
func (m Model) Selected() (settings.Entry, bool) {
	if m.cursor < 0 || m.cursor >= len(m.entries) {
		return settings.Entry{}, false
	}
	return m.entries[m.cursor], true
}

// Entries returns the rows currently shown.
func (m Model) Entries() []settings.Entry {
	return m.entries
}

// Status returns the status line text.
func (m Model) Status() string {
	return m.status
}

// setTree replaces the rows, keeping the cursor on the same key when it
// still exists.
func (m *Model) setTree(tree settings.Value) {
	var current string
	if e, ok := m.Selected(); ok {
		current = e.Key
	}
	m.entries = settings.Flatten(tree)
	m.cursor = min(m.cursor, max(len(m.entries)-1, 0))
	for i, e := range m.entries {
		if e.Key == current {
			m.cursor = i
			break
		}
	}

	theme, _ := tree.Field(settings.KeyTheme)
	name, _ := theme.AsString()
	m.palette = paletteFor(name)
}

// View renders the viewer.
func (m Model) View() string {
	st := newStyles(m.palette)

	var b strings.Builder
	b.WriteString(st.title.Render("Settings"))
	b.WriteString(" ")
	b.WriteString(st.muted.Render(m.src.Path()))
	b.WriteString("\n\n")

	keyWidth := 0
	for _, e := range m.entries {
		keyWidth = max(keyWidth, lipgloss.Width(e.Key))
	}

	start, end := m.window()
	for i := start; i < end; i++ {
		e := m.entries[i]
		indicator := "  "
		if i == m.cursor {
			indicator = st.selected.Render("> ")
		}
		k := st.key.Width(keyWidth + 2).Render(e.Key)
		if m.changed != "" && (e.Key == m.changed || strings.HasPrefix(e.Key, m.changed+".")) {
			k = st.changed.Width(keyWidth + 2).Render(e.Key)
		}
		b.WriteString(indicator + k + st.value.Render(e.Value.String()) + "\n")
	}
	if len(m.entries) == 0 {
		b.WriteString(st.muted.Render("  no settings") + "\n")
	}

	if m.status != "" {
		b.WriteString("\n")
		if m.isError {
			b.WriteString(st.errText.Render(m.status))
		} else {
			b.WriteString(st.muted.Render(m.status))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n" + m.help.View(m.keys))
	return st.box.Render(b.String())
}

// window returns the visible row range so the cursor stays on screen.
func (m Model) window() (int, int) {
	rows := len(m.entries)
	// title, blank, status, blank, help and the border
	visible := m.height - 8
	if m.height == 0 || visible >= rows {
		return 0, rows
	}
	visible = max(visible, 1)
	start := max(m.cursor-visible+1, 0)
	return start, min(start+visible, rows)
}
