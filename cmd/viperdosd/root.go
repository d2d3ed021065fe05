package main

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/spf13/cobra"
)

var logLevel string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "viperdosd",
		Short: "ViperDOS kernel core, hosted as a user-space process",
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log verbosity: debug, info, or error")

	cmd.AddCommand(bootCmd())
	cmd.AddCommand(selftestCmd())
	return cmd
}

// newLogger builds the go-logr logger every subcommand logs through, so
// log verbosity is controlled uniformly by --log-level rather than each
// subcommand reinventing its own flag.
func newLogger() logr.Logger {
	verbosity := 0
	switch logLevel {
	case "debug":
		verbosity = 1
	case "error":
		verbosity = -1
	}
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			println(prefix + ": " + args)
		} else {
			println(args)
		}
	}, funcr.Options{Verbosity: verbosity})
}
