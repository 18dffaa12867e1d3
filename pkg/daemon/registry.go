package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/forwarder"
	"github.com/modoterra/logsource/pkg/logging"
	"github.com/modoterra/logsource/pkg/manifest"
)

// ClientFactory builds the log stream client for a manifest source.
type ClientFactory func(name string, src manifest.Source) (core.LogStreamClient, error)

type entry struct {
	id      string
	name    string
	app     string
	src     manifest.Source
	fwd     *forwarder.Forwarder
	cancel  context.CancelFunc
	runID   string
	started time.Time
	stopped bool
	lastErr string
}

// Registry runs one forwarder per manifest source. A stream that ends stays
// ended until it is started again; nothing restarts on its own.
type Registry struct {
	ctx     context.Context
	factory ClientFactory
	sink    core.Sink
	entries map[string]*entry
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewRegistry creates a registry. Forwarders run until ctx is cancelled or
// they are stopped.
func NewRegistry(ctx context.Context, factory ClientFactory, sink core.Sink, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		ctx:     ctx,
		factory: factory,
		sink:    sink,
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Load replaces the registered sources with those of m and starts them all.
// Sources that fail to start are reported in the joined error and stay
// registered as failed.
func (r *Registry) Load(m *manifest.Manifest) error {
	r.StopAll()

	r.mu.Lock()
	r.entries = make(map[string]*entry, len(m.Sources))
	for _, name := range m.SourceNames() {
		src := m.Sources[name]
		id := m.SourceID(name)
		r.entries[id] = &entry{id: id, name: name, app: src.ApplicationID(name), src: src, stopped: true}
	}
	ids := r.idsLocked()
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := r.Start(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start begins forwarding for id under a new run ID. Starting a source that
// is already forwarding is a no-op. The client is created and subscribed
// without holding the registry lock, so a slow dial does not block readers.
func (r *Registry) Start(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("source not found: %s", id)
	}
	if e.fwd != nil && !e.stopped && e.fwd.State() == forwarder.StateForwarding {
		r.mu.Unlock()
		return nil
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	runID := uuid.NewString()
	e.runID = runID
	e.started = time.Now()
	e.stopped = false
	e.lastErr = ""
	e.fwd = nil
	name, src, app := e.name, e.src, e.app
	r.mu.Unlock()

	logger := r.logger.With(logging.Source(id), logging.RunID(runID))
	ctx, cancel := context.WithCancel(r.ctx)
	fwd, err := r.subscribe(ctx, name, src, app, logger)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[id] != e || e.runID != runID || e.stopped {
		// Stopped, restarted or reloaded while subscribing.
		cancel()
		logger.Info("start superseded")
		return nil
	}
	if err != nil {
		cancel()
		e.lastErr = err.Error()
		return fmt.Errorf("%s: %w", id, err)
	}
	e.fwd = fwd
	e.cancel = cancel
	logger.Info("forwarding", logging.Application(app))
	return nil
}

func (r *Registry) subscribe(ctx context.Context, name string, src manifest.Source, app string, logger *slog.Logger) (*forwarder.Forwarder, error) {
	client, err := r.factory(name, src)
	if err != nil {
		logger.Error("create log stream client", logging.Error(err))
		return nil, err
	}
	fwd := forwarder.New(app, client, r.sink, forwarder.WithLogger(logger))
	if err := fwd.Start(ctx); err != nil {
		logger.Error("start forwarder", logging.Error(err))
		return nil, err
	}
	return fwd, nil
}

// Stop cancels the source's stream.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("source not found: %s", id)
	}
	r.stopLocked(e)
	return nil
}

// StopAll cancels every stream.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		r.stopLocked(e)
	}
}

func (r *Registry) stopLocked(e *entry) {
	if e.stopped {
		return
	}
	e.stopped = true
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	r.logger.Info("source stopped", logging.Source(e.id), logging.RunID(e.runID))
}

// Forwarder returns the current forwarder for id, if it has one.
func (r *Registry) Forwarder(id string) (*forwarder.Forwarder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || e.fwd == nil {
		return nil, false
	}
	return e.fwd, true
}

// Sources returns a snapshot of every source, sorted by ID.
func (r *Registry) Sources() []core.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.idsLocked()
	out := make([]core.Source, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.entries[id].source())
	}
	return out
}

// Source returns a snapshot of one source.
func (r *Registry) Source(id string) (core.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return core.Source{}, false
	}
	return e.source(), true
}

func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *entry) source() core.Source {
	s := core.Source{
		ID:          e.id,
		Kind:        core.SourceKind(e.src.Kind),
		Name:        e.name,
		Application: e.app,
		RunID:       e.runID,
		StartedAt:   e.started,
		LastError:   e.lastErr,
		Detail:      sourceDetail(e.src),
	}
	switch {
	case e.fwd == nil && e.lastErr != "":
		s.Status = core.StatusFailed
	case e.fwd == nil:
		s.Status = core.StatusStopped
	default:
		st := e.fwd.Stats()
		s.Forwarded = st.Forwarded
		s.Failed = st.Failed
		if st.Err != nil {
			s.LastError = st.Err.Error()
		}
		switch {
		case e.stopped:
			s.Status = core.StatusStopped
		case st.State == forwarder.StateFailed:
			s.Status = core.StatusFailed
		case st.State == forwarder.StateCompleted:
			s.Status = core.StatusCompleted
		default:
			s.Status = core.StatusForwarding
		}
	}
	return s
}

func sourceDetail(src manifest.Source) map[string]string {
	d := make(map[string]string)
	set := func(k, v string) {
		if v != "" {
			d[k] = v
		}
	}
	set("command", src.Command)
	set("dir", src.Dir)
	set("unit", src.Unit)
	set("file", src.File)
	set("container", src.Container)
	set("service", src.Service)
	set("url", src.URL)
	return d
}
