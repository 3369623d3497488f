package ui

import (
	"fmt"
	"strings"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 179 // amber
	colorError  = 203 // red
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return render(colorCmd, s) }

// RenderOK returns s in green.
func RenderOK(s string) string { return render(colorOK, s) }

// RenderWarn returns s in amber.
func RenderWarn(s string) string { return render(colorWarn, s) }

// RenderError returns s in red.
func RenderError(s string) string { return render(colorError, s) }

// RenderType colors a message type name by family: gates and tool
// proposals stand out, errors and interrupts are red, presence and
// heartbeat chatter is muted.
func RenderType(typ string) string {
	switch {
	case typ == "error", typ == "interrupt":
		return RenderError(typ)
	case strings.HasPrefix(typ, "gate."), strings.HasPrefix(typ, "tool."):
		return RenderWarn(typ)
	case strings.HasPrefix(typ, "presence."), typ == "heartbeat":
		return RenderMuted(typ)
	case strings.HasPrefix(typ, "session."), strings.HasPrefix(typ, "fork."):
		return RenderAccent(typ)
	default:
		return typ
	}
}

// RenderDecision colors an approved or rejected gate outcome.
func RenderDecision(approved bool) string {
	if approved {
		return RenderOK("approved")
	}
	return RenderError("rejected")
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// SetColor enables or disables color output globally.
func SetColor(enabled bool) {
	noColor = !enabled
}
