package theme

import (
	"github.com/pterm/pterm"
)

// Theme defines the colour scheme and styling for the gateway's terminal
// output.
type Theme struct {
	// Log level colours
	Debug *pterm.Style
	Info  *pterm.Style
	Warn  *pterm.Style
	Error *pterm.Style

	// Component colours
	Success  *pterm.Style
	Model    *pterm.Style
	Endpoint *pterm.Style
	Muted    *pterm.Style
}

// Default returns the default gateway theme.
func Default() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgGreen),
		Warn:  pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgRed, pterm.Bold),

		Success:  pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		Model:    pterm.NewStyle(pterm.FgMagenta, pterm.Bold),
		Endpoint: pterm.NewStyle(pterm.FgCyan, pterm.Bold),
		Muted:    pterm.NewStyle(pterm.FgGray),
	}
}

// Dark returns a variant tuned for dark terminals.
func Dark() *Theme {
	t := Default()
	t.Info = pterm.NewStyle(pterm.FgLightGreen)
	t.Model = pterm.NewStyle(pterm.FgLightMagenta, pterm.Bold)
	t.Endpoint = pterm.NewStyle(pterm.FgLightCyan, pterm.Bold)
	return t
}

// GetTheme returns the theme for a configured name, defaulting when unknown.
func GetTheme(name string) *Theme {
	switch name {
	case "dark":
		return Dark()
	default:
		return Default()
	}
}

// ColourSplash colours the startup banner.
func ColourSplash(message ...any) string {
	return pterm.LightGreen(message...)
}

// ColourVersion colours version numbers in the banner.
func ColourVersion(message ...any) string {
	return pterm.LightYellow(message...)
}

// StyleUrl colours URLs and hyperlinks.
func StyleUrl(message ...any) string {
	return pterm.LightBlue(message...)
}

// Hyperlink creates an OSC-8 hyperlink in the terminal.
func Hyperlink(uri string, text string) string {
	return "\x1b]8;;" + uri + "\x07" + text + "\x1b]8;;\x07" + "\x1b[0m"
}
