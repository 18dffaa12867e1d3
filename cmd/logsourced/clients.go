package main

import (
	"fmt"
	"log/slog"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/daemon"
	"github.com/modoterra/logsource/pkg/manifest"
	"github.com/modoterra/logsource/pkg/providers/logs/docker"
	execlogs "github.com/modoterra/logsource/pkg/providers/logs/exec"
	"github.com/modoterra/logsource/pkg/providers/logs/filetail"
	"github.com/modoterra/logsource/pkg/providers/logs/journald"
	"github.com/modoterra/logsource/pkg/providers/logs/websocket"
)

// newClientFactory maps a manifest source to its log stream client.
func newClientFactory(logger *slog.Logger) daemon.ClientFactory {
	return func(name string, src manifest.Source) (core.LogStreamClient, error) {
		switch core.SourceKind(src.Kind) {
		case core.KindExec:
			return execlogs.New(execlogs.Config{Command: src.Command, Dir: src.Dir, Env: src.Env}, logger), nil
		case core.KindJournald:
			return journald.New(journald.Config{Unit: src.Unit}, logger), nil
		case core.KindFile:
			return filetail.New(filetail.Config{Path: src.File, FromStart: src.FromStart}, logger), nil
		case core.KindDocker:
			return docker.New(docker.Config{Container: src.Container}, logger)
		case core.KindWebSocket:
			return websocket.New(websocket.Config{URL: src.URL, TokenFile: src.TokenFile}, logger), nil
		default:
			return nil, fmt.Errorf("source %q: unknown kind %q", name, src.Kind)
		}
	}
}
