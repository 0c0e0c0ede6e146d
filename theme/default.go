package theme

import (
	"fmt"

	"github.com/pterm/pterm"
)

// Theme defines the colour scheme and styling for the daemon's terminal output
type Theme struct {
	// Log level colours
	Debug *pterm.Style
	Info  *pterm.Style
	Warn  *pterm.Style
	Error *pterm.Style
	Fatal *pterm.Style

	// Component colours
	Success   *pterm.Style
	Highlight *pterm.Style
	Muted     *pterm.Style
	Accent    *pterm.Style

	// Entity colours
	Provider pterm.Color
	Session  pterm.Color
	Request  pterm.Color
	Counts   pterm.Color
	Numbers  pterm.Color

	// Breaker state colours
	BreakerClosed   pterm.Color
	BreakerOpen     pterm.Color
	BreakerHalfOpen pterm.Color
}

// Default returns the default application theme
func Default() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgGreen),
		Warn:  pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgRed, pterm.Bold),
		Fatal: pterm.NewStyle(pterm.FgWhite, pterm.BgRed, pterm.Bold),

		Success:   pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		Highlight: pterm.NewStyle(pterm.FgCyan, pterm.Bold),
		Muted:     pterm.NewStyle(pterm.FgGray),
		Accent:    pterm.NewStyle(pterm.FgMagenta),

		Provider: pterm.FgCyan,
		Session:  pterm.FgMagenta,
		Request:  pterm.FgBlue,
		Counts:   pterm.FgLightWhite,
		Numbers:  pterm.FgLightCyan,

		BreakerClosed:   pterm.FgGreen,
		BreakerOpen:     pterm.FgRed,
		BreakerHalfOpen: pterm.FgYellow,
	}
}

// Dark returns a dark theme variant
func Dark() *Theme {
	t := Default()
	t.Muted = pterm.NewStyle(pterm.FgDarkGray)
	t.Provider = pterm.FgLightCyan
	t.Session = pterm.FgLightMagenta
	return t
}

// GetTheme returns the theme for the given name, falling back to the default
func GetTheme(name string) *Theme {
	switch name {
	case "dark":
		return Dark()
	default:
		return Default()
	}
}

func ColourSplash(message ...any) string {
	return pterm.LightCyan(message...)
}

func ColourVersion(message ...any) string {
	return pterm.LightGreen(message...)
}

func StyleUrl(message ...any) string {
	return pterm.NewStyle(pterm.FgLightBlue, pterm.Underscore).Sprint(message...)
}

// Hyperlink emits an OSC-8 terminal hyperlink
func Hyperlink(uri string, text string) string {
	return fmt.Sprintf("\x1b]8;;%s\x1b\\%s\x1b]8;;\x1b\\", uri, text)
}
