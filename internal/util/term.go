package util

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// IsTerminal checks if stdout is a terminal.
func IsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// ShouldUseColors honours NO_COLOR / FORCE_COLOR conventions before falling
// back to TTY detection. See https://no-color.org/
func ShouldUseColors() bool {
	if noColor := os.Getenv("NO_COLOR"); noColor != "" {
		return false
	}
	if forceColor := os.Getenv("FORCE_COLOR"); forceColor != "" {
		return forceColor != "0"
	}
	if corralColors := os.Getenv("CORRAL_FORCE_COLORS"); corralColors != "" {
		return strings.ToLower(corralColors) == "true"
	}
	return IsTerminal()
}
