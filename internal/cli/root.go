package cli

import (
	"os"

	"github.com/apversus/sauai/internal/config"
	"github.com/apversus/sauai/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	// resolved in PersistentPreRunE
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sauai",
		Short: "SAÚ AI: conversational health assistant",
		Long: "SAÚ AI answers health questions over Telegram, IRC and a web API, " +
			"remembering each user and their recent conversation.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			// The working directory .env comes first so it wins over the one in SAU_HOME.
			for _, f := range []string{".env", paths.EnvFile} {
				if err := config.LoadEnvFile(f); err != nil {
					return err
				}
			}
			log = newLogger("", "")
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.sauai/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console, json)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newDiagnoseCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newLogger picks the flag value first, then the configured one, then the default.
func newLogger(cfgLevel, cfgFormat string) *logging.Logger {
	level := firstNonEmpty(logLevel, cfgLevel, "info")
	format := firstNonEmpty(logFormat, cfgFormat, "console")
	return logging.NewWithFormat(os.Stderr, level, format)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
