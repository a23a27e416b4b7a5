package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/colonyops/tasksync/internal/core/styles"
	"github.com/colonyops/tasksync/internal/core/task"
)

// shortIDLen is how much of a client id is shown before a server id exists.
// It stays above the minimum prefix accepted by task lookups.
const shortIDLen = 8

// renderer styles values when writing to a terminal and leaves them plain
// otherwise, so piped output stays greppable.
type renderer struct {
	styled bool
}

func newRenderer(w io.Writer) renderer {
	f, ok := w.(*os.File)
	return renderer{styled: ok && term.IsTerminal(int(f.Fd()))}
}

func (r renderer) render(style func(...string) string, s string) string {
	if !r.styled {
		return s
	}
	return style(s)
}

func (r renderer) header(s string) string  { return r.render(styles.HeaderStyle.Render, s) }
func (r renderer) muted(s string) string   { return r.render(styles.MutedStyle.Render, s) }
func (r renderer) success(s string) string { return r.render(styles.SuccessStyle.Render, s) }
func (r renderer) warning(s string) string { return r.render(styles.WarningStyle.Render, s) }
func (r renderer) failure(s string) string { return r.render(styles.ErrorStyle.Render, s) }
func (r renderer) info(s string) string    { return r.render(styles.InfoStyle.Render, s) }

func (r renderer) status(s task.Status) string {
	switch s {
	case task.StatusCompleted:
		return r.success(string(s))
	case task.StatusInProgress:
		return r.info(string(s))
	default:
		return string(s)
	}
}

func (r renderer) syncState(s task.SyncState) string {
	switch s {
	case task.SyncPending:
		return r.warning(string(s))
	case task.SyncRejected:
		return r.failure(string(s))
	default:
		return r.muted(string(s))
	}
}

// displayID is the server id when assigned, otherwise a short client id.
func displayID(t task.Task) string {
	if t.ID != "" {
		return t.ID
	}
	if len(t.ClientID) > shortIDLen {
		return t.ClientID[:shortIDLen]
	}
	return t.ClientID
}

func ago(now, then time.Time) string {
	d := now.Sub(then).Round(time.Second)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
