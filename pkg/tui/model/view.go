package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/modoterra/logsource/pkg/core"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	stderrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	statusBarH := 2
	logPaneH := max(a.height/4, 5)
	mainH := a.height - logPaneH - statusBarH - 2
	listW := a.width*2/5 - 2
	detailW := a.width - listW - 4

	// List pane
	list := a.renderList(listW, mainH)
	listPane := a.paneBox(PaneList, " Sources ", list, listW, mainH)

	// Detail pane
	detail := a.renderDetail(detailW, mainH)
	detailPane := a.paneBox(PaneDetail, " Detail ", detail, detailW, mainH)

	// Top row
	topRow := lipgloss.JoinHorizontal(lipgloss.Top, listPane, detailPane)

	// Log pane
	logs := a.renderLogs(a.width-4, logPaneH)
	logPane := a.paneBox(PaneLogs, a.logTitle(), logs, a.width-4, logPaneH)

	// Status bar
	statusBar := a.renderStatusBar()

	return lipgloss.JoinVertical(lipgloss.Left, topRow, logPane, statusBar)
}

func (a App) paneBox(pane Pane, title, content string, w, h int) string {
	style := paneStyle
	if a.activePane == pane {
		style = activePaneStyle
	}
	return style.Width(w).Height(h).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

func (a App) renderList(w, h int) string {
	sources := a.filteredSources()
	if len(sources) == 0 {
		return dimStyle.Render("no sources")
	}

	var b strings.Builder
	maxVisible := h - 2
	start := 0
	if a.selectedIdx >= maxVisible {
		start = a.selectedIdx - maxVisible + 1
	}

	for i := start; i < len(sources) && i-start < maxVisible; i++ {
		src := sources[i]
		indicator := statusIndicator(string(src.Status))
		name := truncate(src.Name, w-6)
		line := fmt.Sprintf(" %s %-*s", indicator, w-6, name)

		if i == a.selectedIdx {
			line = selectedStyle.Width(w).Render(line)
		}
		b.WriteString(line + "\n")
	}

	if a.mode == ModeSearch {
		b.WriteString("\n" + a.search.View())
	}

	return b.String()
}

func (a App) renderDetail(w, h int) string {
	src := a.selectedSource()
	if src == nil {
		return dimStyle.Render("select a source")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Name:        %s\n", src.Name)
	fmt.Fprintf(&b, "ID:          %s\n", dimStyle.Render(src.ID))
	fmt.Fprintf(&b, "Kind:        %s\n", src.Kind)
	fmt.Fprintf(&b, "Application: %s\n", src.Application)
	fmt.Fprintf(&b, "Status:      %s\n", colorStatus(string(src.Status)))
	fmt.Fprintf(&b, "Forwarded:   %d\n", src.Forwarded)
	if src.Failed > 0 {
		fmt.Fprintf(&b, "Failed:      %s\n", statusFailed.Render(fmt.Sprint(src.Failed)))
	}
	if !src.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Started:     %s\n", src.StartedAt.Local().Format(time.DateTime))
	}
	if src.RunID != "" {
		fmt.Fprintf(&b, "Run:         %s\n", dimStyle.Render(src.RunID))
	}
	if src.LastError != "" {
		fmt.Fprintf(&b, "Error:       %s\n", statusFailed.Render(truncate(src.LastError, w-13)))
	}

	keys := make([]string, 0, len(src.Detail))
	for k := range src.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%-12s %s\n", k+":", truncate(src.Detail[k], w-13))
	}

	return b.String()
}

func (a App) renderLogs(w, h int) string {
	if len(a.logLines) == 0 {
		return dimStyle.Render("no log output")
	}

	start := 0
	if len(a.logLines) > h-1 {
		start = len(a.logLines) - h + 1
	}

	var b strings.Builder
	for i := start; i < len(a.logLines); i++ {
		b.WriteString(formatLogLine(a.logLines[i], w) + "\n")
	}
	return b.String()
}

func formatLogLine(r core.LogRecord, w int) string {
	prefix := fmt.Sprintf("%s %s ", r.Timestamp.Local().Format(time.TimeOnly), r.ApplicationID)
	line := prefix + truncate(r.Message, max(w-len(prefix), 0))
	if r.MessageType == core.STDERR {
		return stderrStyle.Render(line)
	}
	return line
}

func (a App) logTitle() string {
	title := " Logs "
	if a.followOnly != "" {
		title += dimStyle.Render("["+a.followOnly+"]") + " "
	}
	if a.logPaused {
		title += dimStyle.Render("[PAUSED]") + " "
	}
	return title
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	right := "j/k:nav tab:pane /:search s:stop t:start r:restart f:follow c:clear q:quit"
	if a.mode == ModeSearch {
		right = "enter:apply esc:cancel"
	}

	gap := a.width - len(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func statusIndicator(status string) string {
	switch status {
	case "forwarding":
		return statusRunning.Render("●")
	case "stopped":
		return statusStopped.Render("○")
	case "failed":
		return statusFailed.Render("✖")
	case "completed":
		return statusDone.Render("✔")
	default:
		return dimStyle.Render("?")
	}
}

func colorStatus(status string) string {
	switch status {
	case "forwarding":
		return statusRunning.Render(status)
	case "stopped":
		return statusStopped.Render(status)
	case "failed":
		return statusFailed.Render(status)
	case "completed":
		return statusDone.Render(status)
	default:
		return dimStyle.Render(status)
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
