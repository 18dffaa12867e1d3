package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/transport/uds"
)

func testSources() []core.Source {
	return []core.Source{
		{ID: "docker:db", Kind: core.KindDocker, Name: "db", Application: "db", Status: core.StatusForwarding},
		{ID: "exec:web", Kind: core.KindExec, Name: "web", Application: "shop", Status: core.StatusForwarding},
	}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, a App, msg tea.Msg) App {
	t.Helper()
	m, _ := a.Update(msg)
	return m.(App)
}

func TestApplyDelta(t *testing.T) {
	a := New("/tmp/none.sock")
	a.sources = testSources()
	a.selectedIdx = 1

	a = update(t, a, deltaMsg{
		Added:   []core.Source{{ID: "file:app-log", Name: "app-log", Status: core.StatusForwarding}},
		Updated: []core.Source{{ID: "docker:db", Name: "db", Status: core.StatusFailed}},
		Removed: []string{"exec:web"},
	})

	if len(a.sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(a.sources))
	}
	if a.sources[0].ID != "docker:db" || a.sources[0].Status != core.StatusFailed {
		t.Errorf("first source: got %+v", a.sources[0])
	}
	if a.sources[1].ID != "file:app-log" {
		t.Errorf("second source: got %s", a.sources[1].ID)
	}
	if a.selectedIdx != 1 {
		t.Errorf("selection: got %d", a.selectedIdx)
	}
}

func TestNavigationAndSearch(t *testing.T) {
	a := New("/tmp/none.sock")
	a = update(t, a, sourcesMsg{sources: testSources()})

	a = update(t, a, key("j"))
	a = update(t, a, key("j"))
	if got := a.selectedSource(); got == nil || got.ID != "exec:web" {
		t.Fatalf("selected: got %+v", got)
	}

	a = update(t, a, key("/"))
	if a.mode != ModeSearch {
		t.Fatal("expected search mode")
	}
	a = update(t, a, key("shop"))
	if got := a.filteredSources(); len(got) != 1 || got[0].Name != "web" {
		t.Errorf("filtered: got %+v", got)
	}
	a = update(t, a, tea.KeyMsg{Type: tea.KeyEsc})
	if a.mode != ModeNormal || len(a.filteredSources()) != 2 {
		t.Error("esc should clear the search")
	}
}

func TestLogPane(t *testing.T) {
	a := New("/tmp/none.sock")
	rec := core.LogRecord{ApplicationID: "shop", Message: "GET /", Timestamp: time.Now(), MessageType: core.STDOUT}

	a = update(t, a, logMsg{record: rec})
	if len(a.logLines) != 1 {
		t.Fatalf("got %d lines", len(a.logLines))
	}

	a.activePane = PaneLogs
	a = update(t, a, key(" "))
	a = update(t, a, logMsg{record: rec})
	if len(a.logLines) != 1 {
		t.Error("paused pane should not grow")
	}

	a = update(t, a, key(" "))
	a.followOnly = "other"
	a = update(t, a, logMsg{record: rec})
	if len(a.logLines) != 1 {
		t.Error("records for other applications should be skipped")
	}

	a = update(t, a, key("c"))
	if len(a.logLines) != 0 {
		t.Error("c should clear the pane")
	}
}

func TestLogPaneBounded(t *testing.T) {
	a := New("/tmp/none.sock")
	for i := 0; i < maxLogLines+20; i++ {
		a.appendLog(core.LogRecord{ApplicationID: "shop", Message: "x"})
	}
	if len(a.logLines) != maxLogLines {
		t.Errorf("got %d lines, want %d", len(a.logLines), maxLogLines)
	}
}

func TestEventHandler(t *testing.T) {
	events := make(chan tea.Msg, 2)
	h := eventHandler(events)

	lm, err := uds.NewLogMessage(core.NewMessage(core.LogRecord{
		ApplicationID: "shop", Message: "boom", MessageType: core.STDERR, Timestamp: time.UnixMilli(5),
	}))
	if err != nil {
		t.Fatal(err)
	}
	ev, err := uds.NewEvent(uds.EventLogsMessage, lm)
	if err != nil {
		t.Fatal(err)
	}
	h(ev)

	raw, _ := json.Marshal(map[string]any{"removed": []string{"exec:web"}})
	h(uds.Message{Type: uds.MsgTypeEvt, Method: uds.EventSourcesDelta, Data: raw})
	h(uds.Message{Type: uds.MsgTypeEvt, Method: "unknown"})

	got := (<-events).(logMsg)
	if got.record.Message != "boom" || got.record.MessageType != core.STDERR {
		t.Errorf("log event: got %+v", got.record)
	}
	delta := (<-events).(deltaMsg)
	if len(delta.Removed) != 1 {
		t.Errorf("delta event: got %+v", delta)
	}
	select {
	case m := <-events:
		t.Errorf("unexpected event %v", m)
	default:
	}
}

func TestViewRenders(t *testing.T) {
	a := New("/tmp/none.sock")
	if a.View() != "loading..." {
		t.Error("expected loading view before first resize")
	}
	a = update(t, a, tea.WindowSizeMsg{Width: 120, Height: 40})
	a = update(t, a, sourcesMsg{sources: testSources()})
	a = update(t, a, logMsg{record: core.LogRecord{ApplicationID: "db", Message: "ready", Timestamp: time.Now()}})

	out := a.View()
	for _, want := range []string{"Sources", "db", "web", "ready"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
