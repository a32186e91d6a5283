// Package printer formats CLI output. Session events get per-type coloring so
// a busy document stream stays scannable.
package printer

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/tandemcad/tandem/pkg/collab"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	// Color definitions
	green   = color.New(color.FgGreen)
	yellow  = color.New(color.FgYellow)
	red     = color.New(color.FgRed, color.Bold)
	cyan    = color.New(color.FgCyan)
	magenta = color.New(color.FgMagenta)
	faint   = color.New(color.Faint)
)

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		green.Printf("✓ %s", msg)
	} else {
		green.Print(msg)
	}
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		yellow.Printf("⚠️  %s", msg)
	} else {
		yellow.Print(msg)
	}
}

// Error creates a formatted error message with title, explanation, and suggestions
// Prints the formatted error to stderr with colors and returns a simple error for Cobra
func Error(title string, explanation string, suggestions []string) error {
	// Print title in red to stderr
	red.Fprintf(os.Stderr, "%s\n\n", title)

	// Print explanation
	fmt.Fprintf(os.Stderr, "%s\n", explanation)

	// Print suggestions
	if len(suggestions) > 0 {
		fmt.Fprintf(os.Stderr, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(os.Stderr, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(os.Stderr, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	// Return simple error for Cobra (won't be printed due to SilenceErrors)
	return fmt.Errorf("%s", title)
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	cyan.Printf("→ %s", fmt.Sprintf(format, a...))
}

// Println prints a plain message (for output that doesn't need coloring)
func Println(a ...any) {
	fmt.Println(a...)
}

// Printf prints a plain formatted message (for output that doesn't need coloring)
func Printf(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Event prints one session event as a single colored line.
func Event(event *collab.Event) {
	if event == nil {
		return
	}

	ts := event.Timestamp.Format("15:04:05")
	line := FormatEvent(event)

	faint.Printf("%s ", ts)
	switch event.Type {
	case collab.EventUserJoined, collab.EventLockGranted, collab.EventOperationApplied:
		green.Println(line)
	case collab.EventUserLeft, collab.EventLockReleased:
		yellow.Println(line)
	case collab.EventConflictQueued:
		red.Println(line)
	case collab.EventCursorMoved:
		fmt.Println(line)
	default:
		magenta.Println(line)
	}
}

// FormatEvent renders an event as a one-line summary without color.
func FormatEvent(event *collab.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-18s", event.Type)
	if event.UserID != "" {
		fmt.Fprintf(&b, " user=%s", event.UserID)
	}
	if event.ObjectID != "" {
		fmt.Fprintf(&b, " object=%s", event.ObjectID)
	}
	for _, key := range []string{"kind", "lock_type", "status", "version", "queue_position", "conflict_type"} {
		if v, ok := event.Payload[key]; ok {
			fmt.Fprintf(&b, " %s=%v", key, v)
		}
	}
	return b.String()
}

// PresenceLine renders one user's presence for the presence table.
func PresenceLine(p *collab.UserPresence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-8s %s", p.UserID, p.Status, p.Color)
	if p.CursorPosition != nil {
		fmt.Fprintf(&b, "  cursor=(%.1f, %.1f, %.1f)", p.CursorPosition.X, p.CursorPosition.Y, p.CursorPosition.Z)
	}
	if len(p.SelectedObjects) > 0 {
		fmt.Fprintf(&b, "  selected=%s", strings.Join(p.SelectedObjects, ","))
	}
	return b.String()
}

// LockLine renders one object lock for the locks table.
func LockLine(l *collab.ObjectLock) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-10s held_by=%s", l.ObjectID, l.LockType, strings.Join(l.Holders, ","))
	if l.ExpiresAt != nil {
		fmt.Fprintf(&b, "  expires=%s", l.ExpiresAt.Format("15:04:05"))
	}
	return b.String()
}
