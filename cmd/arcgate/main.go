package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Build metadata, overridden via -ldflags at release time.
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var (
	configDir string
	logLevel  string

	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:          "arcgate",
	Short:        "Authentication gateway with an SRP auth plane",
	SilenceUsage: true,
	Long: `Arcgate is a dual-plane authentication gateway: a public reverse
proxy that authenticates every request before forwarding to upstream
services, and an internal SRP-6a authentication API that issues and
manages credentials.`,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}

		log.SetLevel(level)

		return nil
	},
}

func init() {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configDir, "config-dir", "config",
		"directory holding default.toml and local.toml")
	flags.StringVar(&logLevel, "log-level", "info",
		"log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("arcgate %s (commit %s, built %s)\n",
				buildVersion, buildCommit, buildDate)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("Command failed")
	}
}
