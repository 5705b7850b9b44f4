package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"mediaforge/internal/config"
	"mediaforge/internal/preflight"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and check the mediaforge configuration",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		targetPath string
		overwrite  bool
	)
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the sample configuration",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				_, statErr := os.Stat(target)
				switch {
				case statErr == nil:
					return fmt.Errorf("%s already exists (pass --overwrite to replace it)", target)
				case !errors.Is(statErr, fs.ErrNotExist):
					return fmt.Errorf("check config path: %w", statErr)
				}
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\nSet paths.media_root before registering media.\n", target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Where to write the file (default ~/.config/mediaforge/config.toml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func initTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("determine default config path: %w", err)
		}
		return path, nil
	}
	path, err := config.ExpandPath(raw)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return path, nil
}

// newConfigValidateCommand loads the file the daemon would load and prints
// the values that shape scheduling. Failed filesystem checks are reported as
// warnings; only an unloadable config fails the command.
func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the configuration and summarize engine settings",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			source := path
			if !exists {
				source = path + " (missing; defaults used)"
			}
			mediaRoot, rootKind := cfg.Paths.MediaRoot, statusInfo
			if mediaRoot == "" {
				mediaRoot, rootKind = "not set", statusWarn
			}
			notify := "disabled"
			if cfg.Notifications.NtfyTopic != "" {
				notify = "ntfy " + cfg.Notifications.NtfyTopic
			}
			lines := []string{
				renderStatusLine("Config file", warnWhen(!exists), source, colorize),
				renderStatusLine("Database", statusInfo, cfg.DatabasePath(), colorize),
				renderStatusLine("Artifacts", statusInfo, cfg.Paths.ArtifactDir, colorize),
				renderStatusLine("Media root", rootKind, mediaRoot, colorize),
				renderStatusLine("Workers", statusInfo, fmt.Sprintf("%d (retry limit %d)", cfg.Engine.Workers, cfg.Engine.RetryLimit), colorize),
				renderStatusLine("Type caps", statusInfo, capSummary(cfg.Concurrency), colorize),
				renderStatusLine("Notifications", statusInfo, notify, colorize),
			}
			for _, check := range preflight.Failed(preflight.RunAll(cmd.Context(), cfg)) {
				lines = append(lines, renderStatusLine(check.Name, statusWarn, check.Detail, colorize))
			}
			printSection(out, "Configuration", colorize, lines)
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

// capSummary renders caps as "face-crop=2 preview=1 ..."; zero is uncapped.
func capSummary(caps map[string]int) string {
	types := make([]string, 0, len(caps))
	for jobType := range caps {
		types = append(types, jobType)
	}
	sort.Strings(types)
	parts := make([]string, 0, len(types))
	for _, jobType := range types {
		limit := fmt.Sprint(caps[jobType])
		if caps[jobType] == 0 {
			limit = "unlimited"
		}
		parts = append(parts, jobType+"="+limit)
	}
	return strings.Join(parts, " ")
}
