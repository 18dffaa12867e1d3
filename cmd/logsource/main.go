package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/modoterra/logsource/internal/buildinfo"
	"github.com/modoterra/logsource/pkg/config"
	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/transport/uds"
	tuimodel "github.com/modoterra/logsource/pkg/tui/model"
)

var (
	configPath string
	socketPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "logsource",
	Short: "Forward and follow application log streams",
	Long:  "logsource is a TUI and CLI for logsourced, which forwards application log streams to a message sink.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Flags().Changed("socket") {
			return nil
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		socketPath = cfg.Socket
		return nil
	},
	SilenceUsage: true,
	RunE:         runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", config.DefaultSocket(), "daemon socket path")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(serviceCmd)
	for _, action := range []string{"start", "stop", "restart"} {
		rootCmd.AddCommand(actionCommand(action))
	}
}

// --- Root: TUI ---

func runTUI(_ *cobra.Command, _ []string) error {
	ensureDaemon()
	app := tuimodel.New(socketPath)
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func ensureDaemon() {
	if _, err := os.Stat(socketPath); err == nil {
		return
	}
	cmd := exec.Command("logsourced", "--socket", socketPath)
	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not start daemon:", err)
		return
	}
	for i := 0; i < 30; i++ {
		if _, err := os.Stat(socketPath); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "warning: daemon did not come up, continuing anyway")
}

func dialDaemon() (*uds.Client, error) {
	client, err := uds.Dial(socketPath)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon at %s: %w", socketPath, err)
	}
	return client, nil
}

func request(client *uds.Client, timeout time.Duration, method string, data, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.Request(ctx, method, data)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.UnmarshalData(out)
}

// --- Ping ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if daemon is running",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		var pong uds.PingResponse
		if err := request(client, 2*time.Second, uds.MethodPing, nil, &pong); err != nil {
			return err
		}
		if pong.Pong {
			fmt.Fprintln(cmd.OutOrStdout(), "pong ✓")
		}
		return nil
	},
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String("logsource"))
	},
}

// --- Daemon ---

var daemonManifest string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start daemon in foreground (for debugging)",
	Long:  "Normally the TUI auto-spawns the daemon. Use this to run it manually.",
	RunE: func(_ *cobra.Command, _ []string) error {
		args := []string{"--socket", socketPath}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		if daemonManifest != "" {
			args = append(args, "--manifest", daemonManifest)
		}
		cmd := exec.Command("logsourced", args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	},
}

func init() {
	daemonCmd.Flags().StringVar(&daemonManifest, "manifest", "", "path to logsource.yaml")
}

// --- Status ---

var (
	statusJSON bool
	statusApp  string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show status of all log sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		var sources []core.Source
		if err := request(client, 2*time.Second, uds.MethodListSources, nil, &sources); err != nil {
			return err
		}
		return printSources(cmd.OutOrStdout(), filterSources(sources, statusApp), statusJSON)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	statusCmd.Flags().StringVar(&statusApp, "app", "", "filter by application")
}

func filterSources(sources []core.Source, app string) []core.Source {
	if app == "" {
		return sources
	}
	var out []core.Source
	for _, s := range sources {
		if s.Application == app {
			out = append(out, s)
		}
	}
	return out
}

func printSources(w io.Writer, sources []core.Source, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sources)
	}
	if len(sources) == 0 {
		fmt.Fprintln(w, "no sources")
		return nil
	}
	fmt.Fprintf(w, "%-20s %-10s %-16s %-11s %9s %6s\n", "NAME", "KIND", "APPLICATION", "STATUS", "FORWARDED", "FAILED")
	for _, s := range sources {
		fmt.Fprintf(w, "%-20s %-10s %-16s %-11s %9d %6d\n", s.Name, s.Kind, s.Application, s.Status, s.Forwarded, s.Failed)
		if s.LastError != "" {
			fmt.Fprintf(w, "  └ %s\n", s.LastError)
		}
	}
	return nil
}

// --- Tail ---

var tailJSON bool

var tailCmd = &cobra.Command{
	Use:   "tail [application...]",
	Short: "Follow forwarded log messages",
	Long:  "Follow messages forwarded by the daemon. With no arguments every application is shown.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		lines := make(chan uds.LogMessage, 256)
		client.OnEvent(func(m uds.Message) {
			if m.Method != uds.EventLogsMessage {
				return
			}
			var lm uds.LogMessage
			if err := m.UnmarshalData(&lm); err != nil {
				return
			}
			select {
			case lines <- lm:
			default:
			}
		})

		subCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = client.SubscribeLogs(subCtx, args...)
		cancel()
		if err != nil {
			return err
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-client.Done():
				return fmt.Errorf("daemon closed the connection")
			case lm := <-lines:
				if err := printLog(out, lm, tailJSON); err != nil {
					return err
				}
			}
		}
	},
}

func init() {
	tailCmd.Flags().BoolVar(&tailJSON, "json", false, "print each message as JSON")
}

func printLog(w io.Writer, lm uds.LogMessage, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(lm)
	}
	h := lm.Headers
	_, err := fmt.Fprintf(w, "%s %s %s/%s [%s] %s\n",
		h.Timestamp.Local().Format(time.RFC3339), h.ApplicationID, h.SourceName, h.SourceID, h.MessageType, lm.Payload)
	return err
}

// --- Load ---

var loadCmd = &cobra.Command{
	Use:   "load [file]",
	Short: "Load a manifest into the running daemon",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := manifestArg(args)
		abs, err := absPath(path)
		if err != nil {
			return err
		}

		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		var resp uds.LoadManifestResponse
		if err := request(client, 30*time.Second, uds.MethodLoadManifest, uds.LoadManifestRequest{Path: abs}, &resp); err != nil {
			return err
		}
		if !resp.OK {
			return fmt.Errorf("%s rejected:\n  %s", path, strings.Join(resp.Errors, "\n  "))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: loaded %d sources\n", path, resp.Sources)
		for _, e := range resp.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "  • %s\n", e)
		}
		return nil
	},
}

// --- Start / Stop / Restart ---

func actionCommand(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <source>...",
		Short: strings.ToUpper(action[:1]) + action[1:] + " forwarding for sources by name or ID",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doAction(cmd.OutOrStdout(), action, args)
		},
	}
}

func doAction(w io.Writer, action string, names []string) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	var sources []core.Source
	if err := request(client, 2*time.Second, uds.MethodListSources, nil, &sources); err != nil {
		return err
	}

	var errs []string
	for _, name := range names {
		id, err := resolveSource(sources, name)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if err := request(client, 10*time.Second, uds.MethodAction, uds.ActionRequest{SourceID: id, Action: action}, nil); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		fmt.Fprintf(w, "%s → %s ✓\n", action, name)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// resolveSource accepts a source ID or a unique source name.
func resolveSource(sources []core.Source, name string) (string, error) {
	var matches []string
	for _, s := range sources {
		if s.ID == name {
			return s.ID, nil
		}
		if s.Name == name {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("source not found: %s", name)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("source name %q is ambiguous: %s", name, strings.Join(matches, ", "))
	}
}
