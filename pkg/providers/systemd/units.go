// Package systemd reports the state of the units behind journald sources.
package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/coreos/go-systemd/v22/dbus"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/logging"
)

// Detail keys added to journald sources.
const (
	DetailUnitStatus  = "unit_status"
	DetailActiveState = "active_state"
	DetailSubState    = "sub_state"
	DetailMainPID     = "main_pid"
)

// Conn is the subset of the D-Bus connection used here.
type Conn interface {
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error)
	GetUnitTypePropertiesContext(ctx context.Context, unit, unitType string) (map[string]interface{}, error)
	Close()
}

// Dialer opens a D-Bus connection.
type Dialer func(ctx context.Context) (Conn, error)

// SystemBus dials the system manager.
func SystemBus(ctx context.Context) (Conn, error) {
	return dbus.NewWithContext(ctx)
}

// UserBus dials the calling user's manager.
func UserBus(ctx context.Context) (Conn, error) {
	return dbus.NewUserConnectionContext(ctx)
}

// UnitState is the runtime state of one unit.
type UnitState struct {
	Name        string
	ActiveState string
	SubState    string
	LoadState   string
	MainPID     uint32
}

// Status maps the unit state to running, stopped, failed or unknown.
func (u UnitState) Status() string {
	switch u.ActiveState {
	case "active", "activating", "reloading":
		return "running"
	case "inactive", "deactivating":
		return "stopped"
	case "failed":
		return "failed"
	default:
		return "unknown"
	}
}

// UnitStates looks up units over D-Bus, keyed by unit name.
func UnitStates(ctx context.Context, dial Dialer, units []string) (map[string]UnitState, error) {
	conn, err := dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	statuses, err := conn.ListUnitsByNamesContext(ctx, units)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}

	out := make(map[string]UnitState, len(statuses))
	for _, u := range statuses {
		st := UnitState{
			Name:        u.Name,
			ActiveState: u.ActiveState,
			SubState:    u.SubState,
			LoadState:   u.LoadState,
		}
		if u.ActiveState == "active" {
			props, err := conn.GetUnitTypePropertiesContext(ctx, u.Name, "Service")
			if err == nil {
				if pid, ok := props["MainPID"].(uint32); ok {
					st.MainPID = pid
				}
			}
		}
		out[u.Name] = st
	}
	return out, nil
}

// Enricher adds unit state to journald sources.
type Enricher struct {
	dial   Dialer
	logger *slog.Logger
}

// NewEnricher creates an enricher using dial for each refresh.
func NewEnricher(dial Dialer, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{dial: dial, logger: logger}
}

// Enrich sets the unit detail keys on journald sources. Lookup failures
// leave the sources unchanged.
func (e *Enricher) Enrich(ctx context.Context, sources []core.Source) []core.Source {
	var units []string
	for _, s := range sources {
		if s.Kind == core.KindJournald && s.Detail["unit"] != "" {
			units = append(units, s.Detail["unit"])
		}
	}
	if len(units) == 0 {
		return sources
	}

	states, err := UnitStates(ctx, e.dial, units)
	if err != nil {
		e.logger.Debug("unit state lookup failed", logging.Error(err))
		return sources
	}
	for i, s := range sources {
		if s.Kind != core.KindJournald {
			continue
		}
		st, ok := states[s.Detail["unit"]]
		if !ok {
			continue
		}
		if s.Detail == nil {
			s.Detail = make(map[string]string)
		}
		s.Detail[DetailUnitStatus] = st.Status()
		s.Detail[DetailActiveState] = st.ActiveState
		s.Detail[DetailSubState] = st.SubState
		if st.MainPID > 0 {
			s.Detail[DetailMainPID] = strconv.FormatUint(uint64(st.MainPID), 10)
		}
		sources[i] = s
	}
	return sources
}
