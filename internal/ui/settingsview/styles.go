package settingsview

import "github.com/charmbracelet/lipgloss"

// palette is the set of colors for one theme.
type palette struct {
	Title     lipgloss.Color
	Key       lipgloss.Color
	Value     lipgloss.Color
	Muted     lipgloss.Color
	Changed   lipgloss.Color
	Error     lipgloss.Color
	Border    lipgloss.Color
	Indicator lipgloss.Color
}

var (
	darkPalette = palette{
		Title:     "#CBA6F7",
		Key:       "#BBBBBB",
		Value:     "#CCCCCC",
		Muted:     "#696969",
		Changed:   "#73F59F",
		Error:     "#FF8787",
		Border:    "#8B5CF6",
		Indicator: "#FFFFFF",
	}
	lightPalette = palette{
		Title:     "#8839EF",
		Key:       "#444444",
		Value:     "#222222",
		Muted:     "#888888",
		Changed:   "#2E8B57",
		Error:     "#D20F39",
		Border:    "#7C3AED",
		Indicator: "#000000",
	}
)

// paletteFor maps the theme setting to colors. Unknown themes use dark.
func paletteFor(theme string) palette {
	if theme == "light" {
		return lightPalette
	}
	return darkPalette
}

type styles struct {
	title    lipgloss.Style
	key      lipgloss.Style
	value    lipgloss.Style
	muted    lipgloss.Style
	changed  lipgloss.Style
	errText  lipgloss.Style
	selected lipgloss.Style
	box      lipgloss.Style
}

func newStyles(p palette) styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(p.Title),
		key:      lipgloss.NewStyle().Foreground(p.Key),
		value:    lipgloss.NewStyle().Foreground(p.Value),
		muted:    lipgloss.NewStyle().Foreground(p.Muted),
		changed:  lipgloss.NewStyle().Bold(true).Foreground(p.Changed),
		errText:  lipgloss.NewStyle().Foreground(p.Error),
		selected: lipgloss.NewStyle().Bold(true).Foreground(p.Indicator),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.Border).
			Padding(0, 1),
	}
}
