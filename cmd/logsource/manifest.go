package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/modoterra/logsource/pkg/manifest"
	"github.com/modoterra/logsource/pkg/manifest/presets"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Manage logsource.yaml manifests",
}

var (
	manifestInitRoot    string
	manifestInitOutput  string
	manifestInitCompose string
)

var manifestInitCmd = &cobra.Command{
	Use:   "init <preset>",
	Short: "Generate a logsource.yaml manifest",
	Long:  "Available presets: laravel, compose",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			m   *manifest.Manifest
			err error
		)
		switch args[0] {
		case "laravel":
			m, err = presets.GenerateLaravel(manifestInitRoot)
		case "compose":
			m, err = presets.FromCompose(filepath.Join(manifestInitRoot, manifestInitCompose))
		default:
			return fmt.Errorf("unknown preset: %s (available: laravel, compose)", args[0])
		}
		if err != nil {
			return err
		}

		if err := manifest.Save(m, manifestInitOutput); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Generated %s with %d sources\n", manifestInitOutput, len(m.Sources))
		for _, name := range m.SourceNames() {
			fmt.Fprintf(out, "  %s (%s)\n", name, m.Sources[name].Kind)
		}
		return nil
	},
}

var manifestValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a logsource.yaml manifest",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := manifestArg(args)
		m, err := manifest.Load(path)
		if err != nil {
			return err
		}
		if _, err := presets.ImportCompose(m); err != nil {
			return err
		}

		errs := manifest.Validate(m)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d sources, sink %s)\n", path, len(m.Sources), m.SinkKind())
			return nil
		}

		w := cmd.ErrOrStderr()
		fmt.Fprintf(w, "%s: %d error(s)\n", path, len(errs))
		for _, e := range errs {
			fmt.Fprintf(w, "  • %s\n", e)
		}
		return fmt.Errorf("%s is invalid", path)
	},
}

func init() {
	manifestInitCmd.Flags().StringVar(&manifestInitRoot, "root", ".", "project root directory")
	manifestInitCmd.Flags().StringVar(&manifestInitOutput, "output", manifest.DefaultFile, "output file path")
	manifestInitCmd.Flags().StringVar(&manifestInitCompose, "compose-file", "compose.yml", "compose file for the compose preset, relative to --root")
	manifestCmd.AddCommand(manifestInitCmd)
	manifestCmd.AddCommand(manifestValidateCmd)
}

func manifestArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return manifest.DefaultFile
}

func absPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return abs, nil
}
