package presets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/modoterra/logsource/pkg/manifest"
)

// ComposeFile represents a minimal Docker Compose file.
type ComposeFile struct {
	Name     string                    `yaml:"name"`
	Services map[string]ComposeService `yaml:"services"`
}

// ComposeService is a minimal service definition from a compose file.
type ComposeService struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	Labels        map[string]string `yaml:"labels"`
}

// LabelSkip on a compose service excludes it from import.
const LabelSkip = "logsource.skip"

// LabelApplication on a compose service overrides its application ID.
const LabelApplication = "logsource.application"

// ParseComposeFile reads a compose.yml and returns service definitions.
func ParseComposeFile(path string) (*ComposeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file: %w", err)
	}

	var cf ComposeFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse compose file: %w", err)
	}
	return &cf, nil
}

// ServiceNames returns the service names in sorted order.
func (cf *ComposeFile) ServiceNames() []string {
	names := make([]string, 0, len(cf.Services))
	for name := range cf.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ComposeSources returns docker sources for services not in existing. Without
// container_name, the container follows compose's <project>-<service>-1 naming;
// with no project either, the service is skipped.
func ComposeSources(cf *ComposeFile, existing map[string]manifest.Source, project string) map[string]manifest.Source {
	if cf.Name != "" {
		project = cf.Name
	}
	out := make(map[string]manifest.Source)
	for _, name := range cf.ServiceNames() {
		if _, ok := existing[name]; ok {
			continue
		}
		svc := cf.Services[name]
		if svc.Labels[LabelSkip] == "true" {
			continue
		}
		container := svc.ContainerName
		if container == "" && project != "" {
			container = fmt.Sprintf("%s-%s-1", project, name)
		}
		if container == "" {
			continue
		}
		out[name] = manifest.Source{
			Kind:        "docker",
			Application: svc.Labels[LabelApplication],
			Container:   container,
			Service:     name,
		}
	}
	return out
}

// FromCompose generates a manifest with one docker source per compose service.
// The project defaults to the compose file's directory name.
func FromCompose(path string) (*manifest.Manifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve compose file: %w", err)
	}
	cf, err := ParseComposeFile(abs)
	if err != nil {
		return nil, err
	}
	root := filepath.Dir(abs)
	m := &manifest.Manifest{
		Version: 1,
		Project: filepath.Base(root),
		Root:    root,
		Compose: &manifest.ComposeRef{File: abs},
	}
	m.Sources = ComposeSources(cf, nil, m.Project)
	if len(m.Sources) == 0 {
		return nil, fmt.Errorf("%s: no importable services", path)
	}
	return m, nil
}

// ImportCompose adds docker sources for the manifest's compose services that
// are not already defined. It returns the names it added.
func ImportCompose(m *manifest.Manifest) ([]string, error) {
	if m.Compose == nil || m.Compose.File == "" {
		return nil, nil
	}
	path := m.Compose.File
	if !filepath.IsAbs(path) && m.Root != "" {
		path = filepath.Join(m.Root, path)
	}
	cf, err := ParseComposeFile(path)
	if err != nil {
		return nil, err
	}
	if m.Sources == nil {
		m.Sources = make(map[string]manifest.Source)
	}
	added := ComposeSources(cf, m.Sources, m.Project)
	names := make([]string, 0, len(added))
	for name, src := range added {
		m.Sources[name] = src
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
