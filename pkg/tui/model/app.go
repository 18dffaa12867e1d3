package model

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/transport/uds"
)

// Pane identifies which TUI pane is focused.
type Pane int

const (
	PaneList Pane = iota
	PaneDetail
	PaneLogs
)

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
)

// maxLogLines bounds the log pane buffer.
const maxLogLines = 500

// App is the root Bubble Tea model.
type App struct {
	// Connection
	client     *uds.Client
	socketPath string
	connected  bool
	events     chan tea.Msg

	// State
	sources     []core.Source
	selectedIdx int
	logLines    []core.LogRecord
	logPaused   bool
	followOnly  string // application filter, empty for all

	// UI
	activePane Pane
	mode       Mode
	search     textinput.Model
	width      int
	height     int

	statusMsg string
}

// New creates a new TUI app model.
func New(socketPath string) App {
	si := textinput.New()
	si.Placeholder = "search..."
	si.CharLimit = 64

	return App{
		socketPath: socketPath,
		search:     si,
		activePane: PaneList,
		mode:       ModeNormal,
		events:     make(chan tea.Msg, 256),
	}
}

// Init connects to the daemon.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		connectCmd(a.socketPath),
		tea.SetWindowTitle("logsource"),
	)
}

type tickMsg time.Time

type connectedMsg struct{ client *uds.Client }

type sourcesMsg struct{ sources []core.Source }

type deltaMsg struct {
	Added   []core.Source `json:"added,omitempty"`
	Updated []core.Source `json:"updated,omitempty"`
	Removed []string      `json:"removed,omitempty"`
}

type logMsg struct{ record core.LogRecord }

type disconnectedMsg struct{}

type errorMsg struct{ err error }

type actionResultMsg struct{ msg string }

func connectCmd(socketPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := uds.Dial(socketPath)
		if err != nil {
			return errorMsg{err}
		}
		return connectedMsg{client}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSourcesCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		resp, err := client.Request(ctx, uds.MethodListSources, nil)
		if err != nil {
			return errorMsg{err}
		}
		var sources []core.Source
		if err := resp.UnmarshalData(&sources); err != nil {
			return errorMsg{err}
		}
		return sourcesMsg{sources}
	}
}

func subscribeCmd(client *uds.Client, app string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var apps []string
		if app != "" {
			apps = []string{app}
		}
		if err := client.SubscribeLogs(ctx, apps...); err != nil {
			return errorMsg{err}
		}
		if app == "" {
			return actionResultMsg{msg: "following all applications"}
		}
		return actionResultMsg{msg: "following " + app}
	}
}

func actionCmd(client *uds.Client, sourceID, action string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := client.Request(ctx, uds.MethodAction, uds.ActionRequest{
			SourceID: sourceID,
			Action:   action,
		})
		if err != nil {
			return errorMsg{err}
		}
		return actionResultMsg{msg: action + " → " + sourceID}
	}
}

// waitForEvent delivers the next pushed event as a tea.Msg.
func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

// eventHandler converts server events into tea messages. Log messages are
// dropped when the channel is full.
func eventHandler(events chan<- tea.Msg) uds.EventHandler {
	return func(m uds.Message) {
		var msg tea.Msg
		switch m.Method {
		case uds.EventSourcesDelta:
			var d deltaMsg
			if err := m.UnmarshalData(&d); err != nil {
				return
			}
			msg = d
		case uds.EventLogsMessage:
			var lm uds.LogMessage
			if err := m.UnmarshalData(&lm); err != nil {
				return
			}
			msg = logMsg{record: lm.Record()}
		default:
			return
		}
		select {
		case events <- msg:
		default:
		}
	}
}

func watchClosed(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		<-client.Done()
		return disconnectedMsg{}
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case connectedMsg:
		a.client = msg.client
		a.connected = true
		a.statusMsg = "connected"
		a.client.OnEvent(eventHandler(a.events))
		return a, tea.Batch(
			tickCmd(),
			fetchSourcesCmd(a.client),
			subscribeCmd(a.client, a.followOnly),
			waitForEvent(a.events),
			watchClosed(a.client),
		)

	case disconnectedMsg:
		a.connected = false
		a.client = nil
		a.statusMsg = "disconnected from daemon"
		return a, nil

	case tickMsg:
		if a.client != nil {
			return a, tea.Batch(tickCmd(), fetchSourcesCmd(a.client))
		}
		return a, nil

	case sourcesMsg:
		a.sources = msg.sources
		a.clampSelection()
		return a, nil

	case deltaMsg:
		a.applyDelta(msg)
		return a, waitForEvent(a.events)

	case logMsg:
		a.appendLog(msg.record)
		return a, waitForEvent(a.events)

	case actionResultMsg:
		a.statusMsg = msg.msg
		return a, nil

	case errorMsg:
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.mode == ModeSearch {
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.search.SetValue("")
			a.search.Blur()
			return a, nil
		case "enter":
			a.mode = ModeNormal
			a.search.Blur()
			return a, nil
		default:
			var cmd tea.Cmd
			a.search, cmd = a.search.Update(msg)
			a.clampSelection()
			return a, cmd
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		if a.client != nil {
			a.client.Close()
		}
		return a, tea.Quit

	case "j", "down":
		if a.activePane == PaneList {
			if n := len(a.filteredSources()); n > 0 {
				a.selectedIdx = min(a.selectedIdx+1, n-1)
			}
		}
	case "k", "up":
		if a.activePane == PaneList && a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "tab":
		a.activePane = (a.activePane + 1) % 3

	case "/":
		a.mode = ModeSearch
		a.search.Focus()
		return a, textinput.Blink

	case "s":
		return a.doAction("stop")
	case "t":
		return a.doAction("start")
	case "r":
		return a.doAction("restart")

	case "f":
		// Toggle between the selected application and all applications.
		src := a.selectedSource()
		if src == nil || a.client == nil {
			return a, nil
		}
		if a.followOnly == src.Application {
			a.followOnly = ""
		} else {
			a.followOnly = src.Application
		}
		a.logLines = nil
		return a, subscribeCmd(a.client, a.followOnly)

	case "l":
		a.activePane = PaneLogs

	case "c":
		a.logLines = nil

	case " ":
		if a.activePane == PaneLogs {
			a.logPaused = !a.logPaused
		}
	}

	return a, nil
}

func (a App) doAction(action string) (tea.Model, tea.Cmd) {
	src := a.selectedSource()
	if a.client == nil || src == nil {
		return a, nil
	}
	return a, actionCmd(a.client, src.ID, action)
}

func (a *App) applyDelta(d deltaMsg) {
	byID := make(map[string]core.Source, len(a.sources))
	for _, s := range a.sources {
		byID[s.ID] = s
	}
	for _, s := range d.Added {
		byID[s.ID] = s
	}
	for _, s := range d.Updated {
		byID[s.ID] = s
	}
	for _, id := range d.Removed {
		delete(byID, id)
	}

	sources := make([]core.Source, 0, len(byID))
	for _, s := range byID {
		sources = append(sources, s)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	a.sources = sources
	a.clampSelection()
}

func (a *App) appendLog(r core.LogRecord) {
	if a.logPaused {
		return
	}
	if a.followOnly != "" && r.ApplicationID != a.followOnly {
		return
	}
	a.logLines = append(a.logLines, r)
	if len(a.logLines) > maxLogLines {
		a.logLines = a.logLines[len(a.logLines)-maxLogLines:]
	}
}

func (a *App) clampSelection() {
	if n := len(a.filteredSources()); a.selectedIdx >= n {
		a.selectedIdx = max(0, n-1)
	}
}

func (a App) filteredSources() []core.Source {
	q := strings.ToLower(a.search.Value())
	if q == "" {
		return a.sources
	}
	var filtered []core.Source
	for _, s := range a.sources {
		if strings.Contains(strings.ToLower(s.Name), q) ||
			strings.Contains(strings.ToLower(s.Application), q) ||
			strings.Contains(strings.ToLower(string(s.Kind)), q) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

func (a App) selectedSource() *core.Source {
	sources := a.filteredSources()
	if a.selectedIdx < len(sources) {
		return &sources[a.selectedIdx]
	}
	return nil
}
