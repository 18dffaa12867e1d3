package manifest

import (
	"fmt"
	"slices"
	"strings"

	"github.com/modoterra/logsource/pkg/core"
)

// Validate checks the manifest for structural correctness.
func Validate(m *Manifest) []error {
	var errs []error

	if m.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", m.Version))
	}

	if len(m.Sources) == 0 {
		errs = append(errs, fmt.Errorf("manifest must define at least one source"))
	}

	for _, name := range m.SourceNames() {
		errs = append(errs, validateSource(name, m.Sources[name])...)
	}

	errs = append(errs, validateSink("sink", m.Sink)...)
	return errs
}

func validateSource(name string, s Source) []error {
	var errs []error
	if strings.Contains(name, ":") {
		errs = append(errs, fmt.Errorf("source %q: name must not contain ':'", name))
	}
	kind := core.SourceKind(s.Kind)
	switch {
	case kind == "":
		return append(errs, fmt.Errorf("source %q: kind is required", name))
	case !slices.Contains(core.Kinds(), kind):
		return append(errs, fmt.Errorf("source %q: unknown kind %q (want one of %s)", name, s.Kind, kindList()))
	}

	var field, value string
	switch kind {
	case core.KindExec:
		field, value = "command", s.Command
	case core.KindJournald:
		field, value = "unit", s.Unit
	case core.KindFile:
		field, value = "file", s.File
	case core.KindDocker:
		field, value = "container", s.Container
	case core.KindWebSocket:
		field, value = "url", s.URL
	}
	if value == "" {
		errs = append(errs, fmt.Errorf("source %q (%s): %s is required", name, kind, field))
	}
	return errs
}

func kindList() string {
	kinds := core.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func validateSink(path string, s Sink) []error {
	var errs []error
	switch s.Kind {
	case "", SinkUDS, SinkNATS, SinkRedis:
	case SinkMemory:
		if s.Capacity < 0 {
			errs = append(errs, fmt.Errorf("%s (memory): capacity must not be negative", path))
		}
	case SinkMulti:
		if len(s.Sinks) == 0 {
			errs = append(errs, fmt.Errorf("%s (multi): sinks is required", path))
		}
		for i, child := range s.Sinks {
			if child.Kind == SinkMulti {
				errs = append(errs, fmt.Errorf("%s.sinks[%d]: multi sinks cannot nest", path, i))
				continue
			}
			errs = append(errs, validateSink(fmt.Sprintf("%s.sinks[%d]", path, i), child)...)
		}
	default:
		errs = append(errs, fmt.Errorf("%s: unknown kind %q", path, s.Kind))
	}
	if s.MaxLen < 0 {
		errs = append(errs, fmt.Errorf("%s: max_len must not be negative", path))
	}
	return errs
}
