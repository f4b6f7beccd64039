package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/praxis-pm/praxis/pkg/lib/signals"
	"github.com/praxis-pm/praxis/pkg/resolver"
	"github.com/praxis-pm/praxis/pkg/version"
)

// Exit codes for the CLI contract.
const (
	exitOK        = 0
	exitUnsat     = 1
	exitFailure   = 2
	exitCancelled = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	app := newApp()
	cmd := newRootCommand(app)
	if err := cmd.ExecuteContext(signals.Context()); err != nil {
		app.logger.Error(err)
		var unsat *resolver.UnsatError
		switch {
		case errors.As(err, &unsat):
			return exitUnsat
		case errors.Is(err, context.Canceled):
			return exitCancelled
		default:
			return exitFailure
		}
	}
	return exitOK
}

func newRootCommand(app *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "praxis",
		Short:         "Declarative package manager for Debian-style repositories",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if app.debug {
				app.logger.SetLevel(logrus.DebugLevel)
			}
		},
	}

	flags := pflag.NewFlagSet("praxis", pflag.ContinueOnError)
	flags.StringVar(&app.root, "root", "/", "root directory for operation")
	flags.StringVar(&app.configRoot, "config-root", "/etc/praxis", "location of the configuration directory")
	flags.StringVar(&app.cacheRoot, "cache-root", "/var/cache/praxis", "location of the cache directory")
	flags.BoolVar(&app.debug, "debug", false, "print additional debug information")
	flags.BoolVar(&app.dryRun, "dry-run", false, "compute and print the plan without applying it")
	flags.BoolVar(&app.unpackOnly, "unpack-only", false, "unpack but do not configure packages")
	root.PersistentFlags().AddFlagSet(flags)

	root.AddCommand(
		newRefreshCommand(app),
		newExecuteCommand(app),
		newUpgradeCommand(app),
		newInstallCommand(app),
		newRemoveCommand(app),
	)
	return root
}

func newRefreshCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh local repository metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.refresh(cmd.Context())
		},
	}
}

func newExecuteCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "execute",
		Short: "Reconcile the system with the blueprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.execute(cmd.Context(), nil)
		},
	}
}

func newUpgradeCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Alias of execute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.execute(cmd.Context(), nil)
		},
	}
}

func newInstallCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "install NAME[=VERSION]...",
		Short: "Add packages to the blueprint and reconcile",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.execute(cmd.Context(), func(m *mutation) {
				m.install = args
			})
		},
	}
}

func newRemoveCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME...",
		Short: "Remove packages from the blueprint and reconcile",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.execute(cmd.Context(), func(m *mutation) {
				m.remove = args
			})
		},
	}
}

func printPlan(out *os.File, header string, lines []string) {
	fmt.Fprintln(out, header)
	for _, line := range lines {
		fmt.Fprintf(out, "  %s\n", line)
	}
}
