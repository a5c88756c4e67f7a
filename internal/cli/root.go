// Package cli is the budgettracker command tree.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// newRootCommand creates the root CLI command with all subcommands registered.
func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "budgettracker",
		Short:   "Bank statement ledger: ingest, link taxes, annotate and analyse",
		Version: Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			a.close()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "config file (default $BUDGETTRACKER_CONFIG or ~/.config/budgettracker/config.toml)")
	pf.StringVar(&a.dbPath, "db", "", "sqlite database path, overrides database.path")
	pf.StringVar(&a.stateDir, "state-dir", "", "directory for saved keys and categories (default user config dir)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level, overrides log.level")

	rootCmd.AddCommand(
		newMigrateCommand(a),
		newIngestCommand(a),
		newListCommand(a),
		newGetCommand(a),
		newUpdateCommand(a),
		newDeleteCommand(a),
		newAnnotateCommand(a),
		newStatsCommand(a),
		newForecastCommand(a),
		newDiagnoseCommand(a),
		newCategoriesCommand(a),
		newSeedCommand(a),
		newStatusCommand(a),
		newResetCommand(a),
		newKeyCommand(a),
		newConfigCommand(a),
	)
	return rootCmd
}

// Run executes the command tree with args and closes the store afterwards, even on error.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	a := &app{}
	defer a.close()
	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}
