package cli

import (
	"context"
	"strings"

	"github.com/jgoldverg/blast/internal"
	"github.com/spf13/cobra"
)

type ctxKey string

const configPathKey ctxKey = "configPath"
const logLevelKey ctxKey = "logLevel"

func NewRootCommand() *cobra.Command {
	var configPath string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "blast",
		Short: "blast moves files over UDP with NACK based recovery",
		Long:  `blast serves and fetches whole files over UDP. The server blasts every segment, the client NACKs what it lost, and the whole file is verified against an MD5 digest before it is written.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(logLevel) != "" {
				if err := internal.ConfigureLogger(logLevel); err != nil {
					internal.Warn("invalid log level flag, defaulting to info", internal.Fields{
						internal.FieldError: err.Error(),
					})
				}
			}
			ctx := context.WithValue(cmd.Context(), configPathKey, strings.TrimSpace(configPath))
			ctx = context.WithValue(ctx, logLevelKey, strings.TrimSpace(logLevel))
			cmd.SetContext(ctx)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (trace, debug, info, warn, error)")

	rootCmd.AddCommand(ServeCommand())
	rootCmd.AddCommand(FetchCommand())
	rootCmd.AddCommand(ConfigCommand())

	return rootCmd
}

func getConfigPath(cmd *cobra.Command) string {
	if v := cmd.Context().Value(configPathKey); v != nil {
		if path, ok := v.(string); ok {
			return path
		}
	}
	return ""
}

// applyLogLevel configures the logger from the config file unless the
// --log-level flag already did.
func applyLogLevel(cmd *cobra.Command, configured string) {
	if v, ok := cmd.Context().Value(logLevelKey).(string); ok && v != "" {
		return
	}
	if err := internal.ConfigureLogger(configured); err != nil {
		internal.Warn("invalid log level in config, defaulting to info", internal.Fields{
			internal.FieldError: err.Error(),
		})
	}
}
