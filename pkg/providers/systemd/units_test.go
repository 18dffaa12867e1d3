package systemd

import (
	"context"
	"errors"
	"testing"

	"github.com/coreos/go-systemd/v22/dbus"

	"github.com/modoterra/logsource/pkg/core"
)

type fakeConn struct {
	units  []dbus.UnitStatus
	props  map[string]map[string]interface{}
	err    error
	closed bool
}

func (c *fakeConn) ListUnitsByNamesContext(_ context.Context, names []string) ([]dbus.UnitStatus, error) {
	if c.err != nil {
		return nil, c.err
	}
	var out []dbus.UnitStatus
	for _, u := range c.units {
		for _, n := range names {
			if u.Name == n {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (c *fakeConn) GetUnitTypePropertiesContext(_ context.Context, unit, _ string) (map[string]interface{}, error) {
	return c.props[unit], nil
}

func (c *fakeConn) Close() { c.closed = true }

func dialer(c *fakeConn) Dialer {
	return func(context.Context) (Conn, error) { return c, nil }
}

func TestUnitStateStatus(t *testing.T) {
	tests := []struct {
		active string
		want   string
	}{
		{"active", "running"},
		{"activating", "running"},
		{"inactive", "stopped"},
		{"deactivating", "stopped"},
		{"failed", "failed"},
		{"bogus", "unknown"},
	}
	for _, tt := range tests {
		if got := (UnitState{ActiveState: tt.active}).Status(); got != tt.want {
			t.Errorf("Status(%q) = %q, want %q", tt.active, got, tt.want)
		}
	}
}

func TestUnitStates(t *testing.T) {
	conn := &fakeConn{
		units: []dbus.UnitStatus{
			{Name: "nginx.service", ActiveState: "active", SubState: "running", LoadState: "loaded"},
			{Name: "redis.service", ActiveState: "failed", SubState: "failed", LoadState: "loaded"},
		},
		props: map[string]map[string]interface{}{
			"nginx.service": {"MainPID": uint32(412)},
		},
	}
	states, err := UnitStates(context.Background(), dialer(conn), []string{"nginx.service", "redis.service"})
	if err != nil {
		t.Fatal(err)
	}
	if !conn.closed {
		t.Error("connection should be closed")
	}
	if got := states["nginx.service"]; got.MainPID != 412 || got.SubState != "running" {
		t.Errorf("nginx: got %+v", got)
	}
	if got := states["redis.service"]; got.Status() != "failed" || got.MainPID != 0 {
		t.Errorf("redis: got %+v", got)
	}
}

func TestEnrich(t *testing.T) {
	conn := &fakeConn{
		units: []dbus.UnitStatus{{Name: "nginx.service", ActiveState: "active", SubState: "running"}},
		props: map[string]map[string]interface{}{"nginx.service": {"MainPID": uint32(7)}},
	}
	sources := []core.Source{
		{ID: "journald:nginx", Kind: core.KindJournald, Detail: map[string]string{"unit": "nginx.service"}},
		{ID: "exec:web", Kind: core.KindExec, Detail: map[string]string{"command": "serve"}},
	}

	got := NewEnricher(dialer(conn), nil).Enrich(context.Background(), sources)
	if got[0].Detail[DetailUnitStatus] != "running" || got[0].Detail[DetailMainPID] != "7" {
		t.Errorf("journald detail: got %v", got[0].Detail)
	}
	if _, ok := got[1].Detail[DetailUnitStatus]; ok {
		t.Error("exec sources must not get unit detail")
	}
}

func TestEnrichLookupFailure(t *testing.T) {
	conn := &fakeConn{err: errors.New("no bus")}
	sources := []core.Source{
		{ID: "journald:nginx", Kind: core.KindJournald, Detail: map[string]string{"unit": "nginx.service"}},
	}
	got := NewEnricher(dialer(conn), nil).Enrich(context.Background(), sources)
	if len(got[0].Detail) != 1 {
		t.Errorf("detail should be untouched, got %v", got[0].Detail)
	}

	failing := func(context.Context) (Conn, error) { return nil, errors.New("refused") }
	if _, err := UnitStates(context.Background(), failing, []string{"x"}); err == nil {
		t.Error("expected dial error")
	}
}
