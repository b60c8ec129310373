// Package cli implements the profz command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zoobzio/profz/config"
)

// Version information set from main.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (%s, %s)", version, commit, date)
}

var rootCmd = &cobra.Command{
	Use:   "profz",
	Short: "Call-tree timing profiler for HTTP services",
	Long: `profz records nested timing spans per request and renders them as a
report showing elapsed and unprofiled time for every span.

Profiling is activated per request with a query parameter (default __profile).
Reports are written to a directory or a Badger store.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "path to a YAML config file")
	pf.String("sink-kind", "", "report sink: dir or badger")
	pf.String("sink-dir", "", "report directory or badger data directory")
	pf.String("log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
}

// loadConfig resolves configuration, applying flags over file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	overrides := map[string]*string{
		"sink-kind": &cfg.Sink.Kind,
		"sink-dir":  &cfg.Sink.Dir,
		"log-level": &cfg.LogLevel,
		"listen":    &cfg.Listen,
		"metrics":   &cfg.MetricsAddr,
		"param":     &cfg.Param,
	}
	for name, dst := range overrides {
		f := cmd.Flags().Lookup(name)
		if f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
