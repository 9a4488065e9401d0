package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/jgoldverg/blast/internal"
	"github.com/spf13/cobra"
)

const (
	targetServe = "serve"
	targetFetch = "fetch"
)

func ConfigCommand() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or initialise blast configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&target, "target", targetServe, "Which config to use: serve or fetch")
	cmd.AddCommand(configInitCommand(&target), configShowCommand(&target))
	return cmd
}

func configInitCommand(target *string) *cobra.Command {
	return &cobra.Command{
		Use:          "init",
		Short:        "Write the default config file if it does not exist yet",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := normalizeTarget(*target)
			if err != nil {
				return err
			}
			path := getConfigPath(cmd)
			if path == "" {
				path = defaultConfigPathFor(scope)
			}
			// Loading persists defaults when the file is missing.
			if _, err := loadConfigFor(scope, path); err != nil {
				return err
			}
			internal.Info("config ready", internal.Fields{
				internal.ConfigPath: path,
				"target":            scope,
			})
			return nil
		},
	}
}

func configShowCommand(target *string) *cobra.Command {
	return &cobra.Command{
		Use:          "show",
		Short:        "Print the effective config as TOML",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := normalizeTarget(*target)
			if err != nil {
				return err
			}
			cfg, err := loadConfigFor(scope, getConfigPath(cmd))
			if err != nil {
				return err
			}
			return writeTOML(cmd.OutOrStdout(), cfg)
		},
	}
}

func normalizeTarget(target string) (string, error) {
	scope := strings.ToLower(strings.TrimSpace(target))
	switch scope {
	case "", targetServe, "server":
		return targetServe, nil
	case targetFetch, "client":
		return targetFetch, nil
	default:
		return "", fmt.Errorf("--target must be either serve or fetch")
	}
}

func defaultConfigPathFor(scope string) string {
	if scope == targetFetch {
		return internal.DefaultRequesterConfigPath()
	}
	return internal.DefaultResponderConfigPath()
}

func loadConfigFor(scope, path string) (any, error) {
	if scope == targetFetch {
		cfg, err := internal.LoadRequesterConfig(path)
		if err != nil {
			return nil, fmt.Errorf("load fetch config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := internal.LoadResponderConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load serve config: %w", err)
	}
	return cfg, nil
}

func writeTOML(w io.Writer, cfg any) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
