package authgate

import "sync"

// ThemeMode is the active color scheme.
type ThemeMode string

const (
	ThemeLight ThemeMode = "light"
	ThemeDark  ThemeMode = "dark"
)

// Palette holds the colors screens render with.
type Palette struct {
	Background   string `json:"background"`
	Text         string `json:"text"`
	Primary      string `json:"primary"`
	Secondary    string `json:"secondary"`
	DisabledText string `json:"disabled_text"`
	SwitchTrack  string `json:"switch_track"`
	SwitchThumb  string `json:"switch_thumb"`
	Error        string `json:"error"`
	Success      string `json:"success"`
}

var palettes = map[ThemeMode]Palette{
	ThemeLight: {
		Background:   "#FFFFFF",
		Text:         "#000000",
		Primary:      "#6200EE",
		Secondary:    "#039be5",
		DisabledText: "#9E9E9E",
		SwitchTrack:  "#D1D1D6",
		SwitchThumb:  "#FFFFFF",
		Error:        "#d32f2f",
		Success:      "#4caf50",
	},
	ThemeDark: {
		Background:   "#121212",
		Text:         "#FFFFFF",
		Primary:      "#BB86FC",
		Secondary:    "#039be5",
		DisabledText: "#757575",
		SwitchTrack:  "#424242",
		SwitchThumb:  "#BB86FC",
		Error:        "#d32f2f",
		Success:      "#4caf50",
	},
}

// ParseThemeMode returns the mode for s, or false when s is not a mode.
func ParseThemeMode(s string) (ThemeMode, bool) {
	switch ThemeMode(s) {
	case ThemeLight, ThemeDark:
		return ThemeMode(s), true
	default:
		return "", false
	}
}

// ThemeSelector tracks the color scheme. It starts from the system scheme
// and is not persisted.
type ThemeSelector struct {
	mu   sync.RWMutex
	mode ThemeMode
}

// NewThemeSelector starts from system, defaulting to light when system is
// empty or unknown.
func NewThemeSelector(system string) *ThemeSelector {
	mode, ok := ParseThemeMode(system)
	if !ok {
		mode = ThemeLight
	}
	return &ThemeSelector{mode: mode}
}

func (t *ThemeSelector) Mode() ThemeMode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mode
}

// Toggle flips between light and dark and returns the new mode.
func (t *ThemeSelector) Toggle() ThemeMode {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mode == ThemeDark {
		t.mode = ThemeLight
	} else {
		t.mode = ThemeDark
	}
	return t.mode
}

// SystemChanged applies a system scheme change. It overrides a manual
// choice. Unknown values are ignored.
func (t *ThemeSelector) SystemChanged(system string) ThemeMode {
	t.mu.Lock()
	defer t.mu.Unlock()

	if mode, ok := ParseThemeMode(system); ok {
		t.mode = mode
	}
	return t.mode
}

// Colors returns the palette for the current mode.
func (t *ThemeSelector) Colors() Palette {
	return palettes[t.Mode()]
}
