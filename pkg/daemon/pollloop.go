package daemon

import (
	"context"
	"log/slog"
	"maps"
	"sort"
	"time"

	"github.com/modoterra/logsource/pkg/core"
)

// PollLoop refreshes the source snapshot every interval and emits delta events.
type PollLoop struct {
	daemon   *Daemon
	interval time.Duration
	logger   *slog.Logger
}

// NewPollLoop creates a poll loop for the given daemon.
func NewPollLoop(d *Daemon, interval time.Duration, logger *slog.Logger) *PollLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollLoop{daemon: d, interval: interval, logger: logger}
}

// Run starts the poll loop. Blocks until ctx is cancelled.
func (pl *PollLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(pl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pl.tick(ctx)
		}
	}
}

func (pl *PollLoop) tick(ctx context.Context) {
	delta := pl.daemon.Refresh(ctx)
	if delta.HasChanges() {
		pl.logger.Debug("sources changed",
			"added", len(delta.Added), "updated", len(delta.Updated), "removed", len(delta.Removed))
		pl.daemon.broadcastDelta(delta)
	}
}

// Delta represents changes between snapshots.
type Delta struct {
	Added   []core.Source `json:"added,omitempty"`
	Updated []core.Source `json:"updated,omitempty"`
	Removed []string      `json:"removed,omitempty"`
}

// HasChanges returns true if the delta contains any changes.
func (d Delta) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Updated) > 0 || len(d.Removed) > 0
}

func computeDelta(old, new map[string]core.Source) Delta {
	var d Delta
	for _, src := range sortedSources(new) {
		prev, existed := old[src.ID]
		if !existed {
			d.Added = append(d.Added, src)
		} else if sourceChanged(prev, src) {
			d.Updated = append(d.Updated, src)
		}
	}
	for id := range old {
		if _, exists := new[id]; !exists {
			d.Removed = append(d.Removed, id)
		}
	}
	sort.Strings(d.Removed)
	return d
}

func sourceChanged(a, b core.Source) bool {
	return a.Status != b.Status ||
		a.RunID != b.RunID ||
		a.Forwarded != b.Forwarded ||
		a.Failed != b.Failed ||
		a.LastError != b.LastError ||
		!maps.Equal(a.Detail, b.Detail)
}

func sortedSources(m map[string]core.Source) []core.Source {
	out := make([]core.Source, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
