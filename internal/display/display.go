// Package display provides terminal formatting for framelight output.
package display

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/framelight/framelight/internal/types"
)

var (
	// Styles
	Muted    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	Dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af"))
	Bold     = lipgloss.NewStyle().Bold(true)
	Success  = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	Warn     = lipgloss.NewStyle().Foreground(lipgloss.Color("#d97706"))
	ErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
)

// StatusDot returns a colored dot for an image record status.
func StatusDot(status string) string {
	switch status {
	case types.StatusProcessed:
		return Success.Render("●")
	case types.StatusPending:
		return Warn.Render("○")
	case types.StatusFailed:
		return ErrStyle.Render("✗")
	default:
		return Dim.Render("·")
	}
}

// StatusLabel returns a padded, styled status label.
func StatusLabel(status string) string {
	label := fmt.Sprintf("%-9s", strings.ToUpper(status))
	switch status {
	case types.StatusProcessed:
		return Success.Render(label)
	case types.StatusPending:
		return Warn.Render(label)
	case types.StatusFailed:
		return ErrStyle.Render(label)
	default:
		return Dim.Render(label)
	}
}

// ImageLine formats one record for the list view.
func ImageLine(rec *types.ImageRecord) string {
	id := Truncate(rec.ID, 12)
	when := Dim.Render(TimeAgo(rec.CapturedAt))
	where := ""
	if rec.Location != "" {
		where = "  " + Muted.Render(rec.Location)
	}
	return fmt.Sprintf("%s %s %s  %s%s", StatusDot(rec.Status), Bold.Render(id), StatusLabel(rec.Status), when, where)
}

// TimeAgo formats a timestamp as a relative time.
func TimeAgo(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 2 2006")
	}
}

// Truncate shortens a string to maxLen, adding ellipsis if needed.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// SuccessMsg prints a green checkmark + message.
func SuccessMsg(format string, args ...any) {
	fmt.Println(Success.Render("✓") + " " + fmt.Sprintf(format, args...))
}

// ErrorMsg prints a red X + message to stderr.
func ErrorMsg(format string, args ...any) {
	fmt.Fprintln(os.Stderr, ErrStyle.Render("✗")+" "+fmt.Sprintf(format, args...))
}

// Header prints a section header.
func Header(title string) {
	fmt.Println(Bold.Render(title))
}

// SubHeader prints a dim subsection label.
func SubHeader(title string) {
	fmt.Println(Muted.Render(title))
}
