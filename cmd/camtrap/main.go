package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fernwatch/camtrap/internal/monitoring"
	"github.com/fernwatch/camtrap/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "camtrap",
	Short:   "camtrap - real-time camera trap filtering daemon",
	Version: fmt.Sprintf("%s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime),
	Long: `camtrap filters a continuous camera frame stream down to animal events:
motion-vector scoring discards still frames, a priority buffer groups motion
into sequences, a detector labels them, and labelled events are assembled
with environment sensor readings and delivered to disk or a remote server.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		monitoring.Verbose = verbose
	},
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	configPath string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to JSON config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
