package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/modoterra/logsource/pkg/core"
)

// DefaultFile is the manifest name looked up in the working directory.
const DefaultFile = "logsource.yaml"

// Sink kinds.
const (
	SinkMemory = "memory"
	SinkNATS   = "nats"
	SinkRedis  = "redis"
	SinkUDS    = "uds"
	SinkMulti  = "multi"
)

// Manifest represents a logsource.yaml configuration file.
type Manifest struct {
	Version  int               `yaml:"version"           json:"version"`
	Project  string            `yaml:"project"           json:"project"`
	Root     string            `yaml:"root"              json:"root"`
	Sources  map[string]Source `yaml:"sources"           json:"sources"`
	Sink     Sink              `yaml:"sink,omitempty"    json:"sink"`
	Compose  *ComposeRef       `yaml:"compose,omitempty" json:"compose,omitempty"`
	FilePath string            `yaml:"-"                 json:"file_path,omitempty"`
}

// Source is one log source to forward. Application defaults to the source name.
type Source struct {
	Kind        string            `yaml:"kind"                  json:"kind"`
	Application string            `yaml:"application,omitempty" json:"application,omitempty"`
	Command     string            `yaml:"command,omitempty"     json:"command,omitempty"`    // exec
	Dir         string            `yaml:"dir,omitempty"         json:"dir,omitempty"`        // exec
	Env         map[string]string `yaml:"env,omitempty"         json:"env,omitempty"`        // exec
	Unit        string            `yaml:"unit,omitempty"        json:"unit,omitempty"`       // journald
	File        string            `yaml:"file,omitempty"        json:"file,omitempty"`       // file
	FromStart   bool              `yaml:"from_start,omitempty"  json:"from_start,omitempty"` // file
	Container   string            `yaml:"container,omitempty"   json:"container,omitempty"`  // docker
	Service     string            `yaml:"service,omitempty"     json:"service,omitempty"`    // docker: compose service name
	URL         string            `yaml:"url,omitempty"         json:"url,omitempty"`        // websocket
	TokenFile   string            `yaml:"token_file,omitempty"  json:"token_file,omitempty"` // websocket
}

// Sink selects where forwarded messages go.
type Sink struct {
	Kind      string `yaml:"kind,omitempty"      json:"kind,omitempty"`
	Subject   string `yaml:"subject,omitempty"   json:"subject,omitempty"`   // nats
	JetStream bool   `yaml:"jetstream,omitempty" json:"jetstream,omitempty"` // nats
	Stream    string `yaml:"stream,omitempty"    json:"stream,omitempty"`    // nats (JetStream stream) or redis (stream key)
	MaxLen    int64  `yaml:"max_len,omitempty"   json:"max_len,omitempty"`   // redis
	Capacity  int    `yaml:"capacity,omitempty"  json:"capacity,omitempty"`  // memory
	Sinks     []Sink `yaml:"sinks,omitempty"     json:"sinks,omitempty"`     // multi
}

// ComposeRef points to a compose.yml for auto-importing Docker services.
type ComposeRef struct {
	File string `yaml:"file" json:"file"`
}

// ApplicationID returns the application a source forwards for.
func (s Source) ApplicationID(name string) string {
	if s.Application != "" {
		return s.Application
	}
	return name
}

// SourceID returns the core source ID of the named source.
func (m *Manifest) SourceID(name string) string {
	return core.SourceID(core.SourceKind(m.Sources[name].Kind), name)
}

// SourceNames returns the source names in sorted order.
func (m *Manifest) SourceNames() []string {
	names := make([]string, 0, len(m.Sources))
	for name := range m.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SinkKind returns the configured sink kind, defaulting to uds.
func (m *Manifest) SinkKind() string {
	return m.Sink.KindOrDefault()
}

// KindOrDefault returns the sink kind, defaulting to uds.
func (s Sink) KindOrDefault() string {
	if s.Kind == "" {
		return SinkUDS
	}
	return s.Kind
}

// Parse decodes a manifest and expands ${root} and ${project} in source fields.
func Parse(data []byte) (*Manifest, error) {
	return parse(data, "")
}

// Load reads and parses the manifest at path. An empty root defaults to the
// manifest's directory.
func Load(path string) (*Manifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := parse(data, filepath.Dir(abs))
	if err != nil {
		return nil, err
	}
	m.FilePath = abs
	return m, nil
}

func parse(data []byte, defaultRoot string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Root == "" {
		m.Root = defaultRoot
	}
	m.interpolate()
	return &m, nil
}

// Save writes m to path.
func Save(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (m *Manifest) interpolate() {
	r := strings.NewReplacer("${root}", m.Root, "${project}", m.Project)
	for name, s := range m.Sources {
		s.Application = r.Replace(s.Application)
		s.Command = r.Replace(s.Command)
		s.Dir = r.Replace(s.Dir)
		s.Unit = r.Replace(s.Unit)
		s.File = r.Replace(s.File)
		s.Container = r.Replace(s.Container)
		s.URL = r.Replace(s.URL)
		s.TokenFile = r.Replace(s.TokenFile)
		if len(s.Env) > 0 {
			env := make(map[string]string, len(s.Env))
			for k, v := range s.Env {
				env[k] = r.Replace(v)
			}
			s.Env = env
		}
		m.Sources[name] = s
	}
	if m.Compose != nil {
		m.Compose.File = r.Replace(m.Compose.File)
	}
	m.Sink.Subject = r.Replace(m.Sink.Subject)
	m.Sink.Stream = r.Replace(m.Sink.Stream)
}
