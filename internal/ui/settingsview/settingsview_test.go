package settingsview

import (
	"context"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/exp/teatest"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/codexgui/internal/pubsub"
	"github.com/zjrosen/codexgui/internal/settings"
)

func newViewer(t *testing.T) (Model, *settings.Store) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	broker := pubsub.NewBroker[settings.Change]()
	t.Cleanup(broker.Close)
	store := settings.New(filepath.Join(t.TempDir(), "settings.json"), settings.WithPublisher(broker))
	require.NoError(t, store.Load())
	return New(ctx, store, broker), store
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func indexOf(m Model, key string) int {
	for i, e := range m.Entries() {
		if e.Key == key {
			return i
		}
	}
	return -1
}

func TestNew_ListsFlattenedSettings(t *testing.T) {
	m, store := newViewer(t)

	assert.Equal(t, settings.Flatten(store.All()), m.Entries())
	assert.NotEqual(t, -1, indexOf(m, settings.KeyCodexModel))
	assert.Contains(t, m.View(), settings.KeyTheme)
	assert.Contains(t, m.View(), store.Path())
}

func TestUpdate_Navigation(t *testing.T) {
	m, _ := newViewer(t)
	n := len(m.Entries())
	require.Greater(t, n, 2)

	m, _ = update(t, m, keyMsg("k"))
	e, _ := m.Selected()
	assert.Equal(t, m.Entries()[0], e, "cursor stays at the top")

	m, _ = update(t, m, keyMsg("j"))
	e, _ = m.Selected()
	assert.Equal(t, m.Entries()[1], e)

	m, _ = update(t, m, keyMsg("G"))
	e, _ = m.Selected()
	assert.Equal(t, m.Entries()[n-1], e)

	m, _ = update(t, m, keyMsg("j"))
	e, _ = m.Selected()
	assert.Equal(t, m.Entries()[n-1], e, "cursor stays at the bottom")

	m, _ = update(t, m, keyMsg("g"))
	e, _ = m.Selected()
	assert.Equal(t, m.Entries()[0], e)
}

func TestUpdate_ChangeEventRefreshes(t *testing.T) {
	m, store := newViewer(t)
	cmd := m.Init()
	require.NotNil(t, cmd)

	require.NoError(t, store.Set(settings.KeyCodexModel, settings.String("o3")))

	msg := cmd()
	ev, ok := msg.(pubsub.Event[settings.Change])
	require.True(t, ok, "expected a change event, got %T", msg)

	m, next := update(t, m, ev)
	assert.NotNil(t, next, "keeps listening")
	i := indexOf(m, settings.KeyCodexModel)
	require.NotEqual(t, -1, i)
	assert.Equal(t, settings.String("o3"), m.Entries()[i].Value)
	assert.Contains(t, m.Status(), settings.KeyCodexModel)
	assert.Contains(t, m.View(), "o3")
}

func TestUpdate_CursorFollowsKey(t *testing.T) {
	m, store := newViewer(t)
	cmd := m.Init()

	target := indexOf(m, settings.KeyTheme)
	require.NotEqual(t, -1, target)
	for range target {
		m, _ = update(t, m, keyMsg("j"))
	}

	// "a" sorts before everything else, shifting every row down by one.
	require.NoError(t, store.Set("a", settings.Bool(true)))
	m, _ = update(t, m, cmd())

	e, ok := m.Selected()
	require.True(t, ok)
	assert.Equal(t, settings.KeyTheme, e.Key)
}

func TestUpdate_ResetSelected(t *testing.T) {
	m, store := newViewer(t)
	require.NoError(t, store.Set(settings.KeyFontSize, settings.Int(20)))

	for range indexOf(m, settings.KeyFontSize) {
		m, _ = update(t, m, keyMsg("j"))
	}
	e, _ := m.Selected()
	require.Equal(t, settings.KeyFontSize, e.Key)

	m, _ = update(t, m, keyMsg("r"))
	v, ok := store.Get(settings.KeyFontSize)
	require.True(t, ok)
	def, _ := store.Defaults().Field("fontSize")
	assert.Equal(t, def, v)
	assert.Empty(t, m.Status(), "status comes from the change event")
}

func TestUpdate_ReloadWithoutChanges(t *testing.T) {
	m, _ := newViewer(t)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	assert.Equal(t, "no changes on disk", m.Status())
}

func TestUpdate_Quit(t *testing.T) {
	m, _ := newViewer(t)
	_, cmd := update(t, m, keyMsg("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestUpdate_ThemeChangesPalette(t *testing.T) {
	m, store := newViewer(t)
	cmd := m.Init()
	assert.Equal(t, darkPalette, m.palette)

	require.NoError(t, store.Set(settings.KeyTheme, settings.String("light")))
	m, _ = update(t, m, cmd())
	assert.Equal(t, lightPalette, m.palette)
}

func TestView_ScrollsToCursor(t *testing.T) {
	m, _ := newViewer(t)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 10})
	m, _ = update(t, m, keyMsg("G"))

	start, end := m.window()
	assert.Equal(t, len(m.Entries()), end)
	assert.Equal(t, 2, end-start)
	last := m.Entries()[len(m.Entries())-1]
	assert.Contains(t, m.View(), last.Key)
}

// staticSource serves a fixed tree from a fixed path so rendered output does
// not depend on the machine running the tests.
type staticSource struct {
	tree settings.Value
}

func (s staticSource) Path() string               { return "/home/dev/.config/codexgui/settings.json" }
func (s staticSource) All() settings.Value        { return s.tree }
func (s staticSource) Reset(string) (bool, error) { return false, nil }
func (s staticSource) Reload() (bool, error)      { return false, nil }

func fixtureTree(model, theme string) settings.Value {
	return settings.Mapping(map[string]settings.Value{
		"codex": settings.Mapping(map[string]settings.Value{
			"approval": settings.String("untrusted"),
			"model":    settings.String(model),
			"sandbox":  settings.String("workspace-write"),
		}),
		"fontSize": settings.Int(14),
		"terminal": settings.Mapping(map[string]settings.Value{
			"shell": settings.String("/bin/zsh"),
		}),
		"theme": settings.String(theme),
	})
}

// withProfile sets the global lipgloss color profile for the rest of the test.
func withProfile(t *testing.T, p termenv.Profile) {
	t.Helper()
	prev := lipgloss.ColorProfile()
	lipgloss.SetColorProfile(p)
	t.Cleanup(func() { lipgloss.SetColorProfile(prev) })
}

func fixtureViewer(t *testing.T, theme string) Model {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	broker := pubsub.NewBroker[settings.Change]()
	t.Cleanup(broker.Close)
	return New(ctx, staticSource{tree: fixtureTree("o1-mini", theme)}, broker)
}

func changeEvent(key, model string) pubsub.Event[settings.Change] {
	tree := fixtureTree(model, "dark")
	v, _ := tree.Field("codex")
	return pubsub.Event[settings.Change]{
		Type:    pubsub.UpdatedEvent,
		Payload: settings.Change{Key: key, Value: v, Tree: tree},
	}
}

// TestView_Golden tests the layout of the full tree.
// Run with -update flag to update golden files: go test ./internal/ui/settingsview -update
func TestView_Golden(t *testing.T) {
	withProfile(t, termenv.Ascii)
	m := fixtureViewer(t, "dark")
	teatest.RequireEqualOutput(t, []byte(m.View()))
}

// TestView_ChangedKey_Golden tests the view after a subtree change.
func TestView_ChangedKey_Golden(t *testing.T) {
	withProfile(t, termenv.Ascii)
	m := fixtureViewer(t, "dark")
	m, _ = update(t, m, changeEvent("codex", "gpt-4o"))
	teatest.RequireEqualOutput(t, []byte(m.View()))
}

// TestView_LightTheme_Golden tests the light theme layout.
func TestView_LightTheme_Golden(t *testing.T) {
	withProfile(t, termenv.Ascii)
	m := fixtureViewer(t, "light")
	teatest.RequireEqualOutput(t, []byte(m.View()))
}

// TestView_Scrolled_Golden tests a window too short for every row.
func TestView_Scrolled_Golden(t *testing.T) {
	withProfile(t, termenv.Ascii)
	m := fixtureViewer(t, "dark")
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 10})
	m, _ = update(t, m, keyMsg("G"))
	teatest.RequireEqualOutput(t, []byte(m.View()))
}

func TestView_ChangedKeyHighlight(t *testing.T) {
	withProfile(t, termenv.TrueColor)
	m := fixtureViewer(t, "dark")
	m, _ = update(t, m, changeEvent(settings.KeyCodexModel, "gpt-4o"))

	st := newStyles(darkPalette)
	width := len("codex.approval") + 2
	view := m.View()
	assert.Contains(t, view, st.changed.Width(width).Render(settings.KeyCodexModel))
	assert.Contains(t, view, st.key.Width(width).Render("codex.sandbox"))
	assert.NotContains(t, view, st.changed.Width(width).Render("codex.sandbox"))
}

func TestView_ThemeColors(t *testing.T) {
	withProfile(t, termenv.TrueColor)

	dark := fixtureViewer(t, "dark").View()
	light := fixtureViewer(t, "light").View()

	assert.Contains(t, dark, newStyles(darkPalette).title.Render("Settings"))
	assert.Contains(t, light, newStyles(lightPalette).title.Render("Settings"))
	assert.NotContains(t, light, newStyles(darkPalette).title.Render("Settings"))
}
