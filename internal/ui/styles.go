package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorOK     = 114 // green
	colorWarn   = 179 // amber
	colorError  = 203 // red
	colorMuted  = 245 // medium gray
)

var noColor bool

func render(color int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderOK returns s in green.
func RenderOK(s string) string { return render(colorOK, s) }

// RenderWarn returns s in amber.
func RenderWarn(s string) string { return render(colorWarn, s) }

// RenderError returns s in red.
func RenderError(s string) string { return render(colorError, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderOutcome colors a message outcome label: applied changes in green,
// dropped links in amber, undecodable messages in red and ignored
// messages in gray.
func RenderOutcome(outcome string) string {
	switch outcome {
	case "created", "updated", "inserted", "linked", "already_linked", "attributed":
		return RenderOK(outcome)
	case "asset_not_found", "permit_not_found", "unattributed":
		return RenderWarn(outcome)
	case "ignored":
		return RenderMuted(outcome)
	default:
		return RenderError(outcome)
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
