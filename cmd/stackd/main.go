package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				_, _ = fmt.Fprintln(os.Stderr, ee.msg)
			}
			os.Exit(ee.code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exitError carries an explicit process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func buildRoot() *cobra.Command {
	startFlags := &StartFlags{}
	statusFlags := &StatusFlags{}
	stopFlags := &StopFlags{}

	root := &cobra.Command{
		Use:   "stackd",
		Short: "Supervise a local stack of service units",
		Long: "stackd discovers unit descriptors in a directory, launches each as a\n" +
			"managed child process, monitors readiness, and performs coordinated,\n" +
			"timeout-bounded shutdown.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// --status / --stop on the root command mirror the historical
			// single-script surface.
			switch {
			case startFlags.StatusOnly:
				return runStatus(StatusFlags{ConfigPath: startFlags.ConfigPath, JSON: false})
			case startFlags.StopOnly:
				return runStop(StopFlags{ConfigPath: startFlags.ConfigPath})
			default:
				return runStart(*startFlags)
			}
		},
	}
	root.Flags().StringVar(&startFlags.ConfigPath, "config", "", "path to supervisor config (TOML)")
	root.Flags().BoolVar(&startFlags.NoUI, "no-ui", false, "skip the ui group during startup")
	root.Flags().BoolVar(&startFlags.NoObservability, "no-observability", false, "skip the telemetry group during startup")
	root.Flags().BoolVar(&startFlags.StatusOnly, "status", false, "print the system snapshot and exit")
	root.Flags().BoolVar(&startFlags.StopOnly, "stop", false, "stop a previously started stack and exit")
	root.Flags().BoolVar(&startFlags.Verbose, "verbose", false, "debug-level supervisor logging")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the system snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(*statusFlags)
		},
	}
	statusCmd.Flags().StringVar(&statusFlags.ConfigPath, "config", "", "path to supervisor config (TOML)")
	statusCmd.Flags().BoolVar(&statusFlags.JSON, "json", false, "emit the snapshot as JSON")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a previously started stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(*stopFlags)
		},
	}
	stopCmd.Flags().StringVar(&stopFlags.ConfigPath, "config", "", "path to supervisor config (TOML)")

	root.AddCommand(statusCmd, stopCmd)
	return root
}
