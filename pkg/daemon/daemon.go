package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/logging"
	"github.com/modoterra/logsource/pkg/manifest"
	"github.com/modoterra/logsource/pkg/manifest/presets"
	"github.com/modoterra/logsource/pkg/transport/uds"
)

// Enricher adds runtime detail to source snapshots, such as unit state.
type Enricher func(ctx context.Context, sources []core.Source) []core.Source

// Daemon is the logsourced process: it owns the socket server and the
// registry of forwarders.
type Daemon struct {
	server    *uds.Server
	registry  *Registry
	enrichers []Enricher
	manifest  *manifest.Manifest
	sources   map[string]core.Source
	mu        sync.RWMutex
	logger    *slog.Logger
}

// New creates a daemon serving on server.
func New(server *uds.Server, registry *Registry, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{
		server:   server,
		registry: registry,
		sources:  make(map[string]core.Source),
		logger:   logger,
	}
	d.registerHandlers()
	return d
}

// AddEnricher registers a snapshot enricher.
func (d *Daemon) AddEnricher(e Enricher) {
	d.enrichers = append(d.enrichers, e)
}

// Manifest returns the currently loaded manifest (may be nil).
func (d *Daemon) Manifest() *manifest.Manifest {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.manifest
}

// Registry returns the forwarder registry.
func (d *Daemon) Registry() *Registry { return d.registry }

// Server returns the underlying UDS server (for broadcasting events).
func (d *Daemon) Server() *uds.Server { return d.server }

// Run starts the socket server and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	return d.server.Start(ctx)
}

// Shutdown stops every forwarder and closes the socket.
func (d *Daemon) Shutdown() {
	d.registry.StopAll()
	d.server.Shutdown()
}

// LoadManifest loads, validates and applies the manifest at path. Compose
// services are imported before validation. Validation failures leave the
// running sources untouched and are returned as strings.
func (d *Daemon) LoadManifest(ctx context.Context, path string) (uds.LoadManifestResponse, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return uds.LoadManifestResponse{Errors: []string{err.Error()}}, err
	}
	imported, err := presets.ImportCompose(m)
	if err != nil {
		return uds.LoadManifestResponse{Errors: []string{err.Error()}}, err
	}
	if len(imported) > 0 {
		d.logger.Info("imported compose services", "services", imported)
	}

	if errs := manifest.Validate(m); len(errs) > 0 {
		strs := make([]string, len(errs))
		for i, e := range errs {
			strs[i] = e.Error()
		}
		return uds.LoadManifestResponse{Errors: strs}, fmt.Errorf("invalid manifest: %d errors", len(errs))
	}

	d.mu.Lock()
	d.manifest = m
	d.mu.Unlock()

	resp := uds.LoadManifestResponse{OK: true, Sources: len(m.Sources)}
	if err := d.registry.Load(m); err != nil {
		d.logger.Warn("some sources failed to start", logging.Error(err))
		resp.Errors = []string{err.Error()}
	}
	d.logger.Info("manifest loaded", "path", m.FilePath, "sources", len(m.Sources))
	d.Refresh(ctx)
	return resp, nil
}

// Refresh snapshots the registry, applies enrichers, stores the result and
// returns the change since the previous snapshot.
func (d *Daemon) Refresh(ctx context.Context) Delta {
	snap := d.registry.Sources()
	for _, e := range d.enrichers {
		snap = e(ctx, snap)
	}
	next := make(map[string]core.Source, len(snap))
	for _, s := range snap {
		next[s.ID] = s
	}

	d.mu.Lock()
	prev := d.sources
	d.sources = next
	d.mu.Unlock()

	return computeDelta(prev, next)
}

// Sources returns the latest snapshot sorted by ID.
func (d *Daemon) Sources() []core.Source {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedSources(d.sources)
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.MethodPing, d.handlePing)
	d.server.Handle(uds.MethodLoadManifest, d.handleLoadManifest)
	d.server.Handle(uds.MethodListSources, d.handleListSources)
	d.server.Handle(uds.MethodGetSource, d.handleGetSource)
	d.server.Handle(uds.MethodAction, d.handleAction)
}

func (d *Daemon) handlePing(_ context.Context, _ uds.Message) (any, error) {
	return uds.PingResponse{Pong: true}, nil
}

func (d *Daemon) handleLoadManifest(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.LoadManifestRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	resp, _ := d.LoadManifest(ctx, req.Path)
	return resp, nil
}

func (d *Daemon) handleListSources(_ context.Context, _ uds.Message) (any, error) {
	return d.Sources(), nil
}

func (d *Daemon) handleGetSource(_ context.Context, msg uds.Message) (any, error) {
	var req uds.GetSourceRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	d.mu.RLock()
	src, ok := d.sources[req.ID]
	d.mu.RUnlock()
	if !ok {
		if src, ok = d.registry.Source(req.ID); !ok {
			return nil, fmt.Errorf("source not found: %s", req.ID)
		}
	}
	return src, nil
}

func (d *Daemon) handleAction(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.ActionRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if _, _, err := core.ParseSourceID(req.SourceID); err != nil {
		return nil, err
	}

	var err error
	switch req.Action {
	case "start":
		err = d.registry.Start(req.SourceID)
	case "stop":
		err = d.registry.Stop(req.SourceID)
	case "restart":
		if err = d.registry.Stop(req.SourceID); err == nil {
			err = d.registry.Start(req.SourceID)
		}
	default:
		return nil, fmt.Errorf("unsupported action %q", req.Action)
	}
	if err != nil {
		return nil, err
	}

	d.logger.Info("source action", logging.Source(req.SourceID), "action", req.Action)
	if delta := d.Refresh(ctx); delta.HasChanges() {
		d.broadcastDelta(delta)
	}
	src, _ := d.registry.Source(req.SourceID)
	return src, nil
}

func (d *Daemon) broadcastDelta(delta Delta) {
	evt, err := uds.NewEvent(uds.EventSourcesDelta, delta)
	if err != nil {
		d.logger.Error("encode delta", logging.Error(err))
		return
	}
	d.server.Broadcast(evt)
}
