package presets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modoterra/logsource/pkg/manifest"
)

// GenerateLaravel creates a manifest forwarding the logs of a Laravel project
// at root: its artisan processes, the application log, and any detected
// system services.
func GenerateLaravel(root string) (*manifest.Manifest, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	if _, err := os.Stat(filepath.Join(absRoot, "artisan")); err != nil {
		return nil, fmt.Errorf("%s does not appear to be a Laravel project (no artisan file)", absRoot)
	}

	project := filepath.Base(absRoot)
	m := &manifest.Manifest{
		Version: 1,
		Project: project,
		Root:    absRoot,
		Sources: make(map[string]manifest.Source),
	}

	artisan := func(args string) manifest.Source {
		return manifest.Source{
			Kind:        "exec",
			Application: "${project}",
			Command:     "php artisan " + args,
			Dir:         "${root}",
		}
	}
	m.Sources["php-serve"] = artisan("serve")
	m.Sources["scheduler"] = artisan("schedule:work")
	m.Sources["queue-worker"] = artisan("queue:work")

	if data, err := os.ReadFile(filepath.Join(absRoot, "composer.lock")); err == nil {
		if strings.Contains(string(data), "laravel/reverb") {
			m.Sources["reverb"] = artisan("reverb:start")
		}
	}

	m.Sources["app-log"] = manifest.Source{
		Kind:        "file",
		Application: "${project}",
		File:        "${root}/storage/logs/laravel.log",
	}

	systemdSources := []struct {
		name  string
		units []string
	}{
		{"nginx", []string{"nginx.service"}},
		{"redis", []string{"redis.service", "redis-server.service"}},
		{"mysql", []string{"mysql.service", "mysqld.service", "mariadb.service"}},
	}
	for _, ss := range systemdSources {
		for _, unit := range ss.units {
			if unitExists(unit) {
				m.Sources[ss.name] = manifest.Source{Kind: "journald", Unit: unit}
				break
			}
		}
	}

	for _, ver := range []string{"8.4", "8.3", "8.2", "8.1", "8.0", "7.4"} {
		unit := fmt.Sprintf("php%s-fpm.service", ver)
		if unitExists(unit) {
			m.Sources["php-fpm"] = manifest.Source{Kind: "journald", Unit: unit}
			break
		}
	}

	for _, name := range []string{"compose.yml", "compose.yaml", "docker-compose.yml", "docker-compose.yaml"} {
		if _, err := os.Stat(filepath.Join(absRoot, name)); err == nil {
			m.Compose = &manifest.ComposeRef{File: "${root}/" + name}
			break
		}
	}

	return m, nil
}

// unitExists checks if a systemd unit file is installed.
func unitExists(unit string) bool {
	paths := []string{
		"/etc/systemd/system/" + unit,
		"/lib/systemd/system/" + unit,
		"/usr/lib/systemd/system/" + unit,
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}
