// Command relbotctl is the relbot admin CLI: database initialization,
// ad-hoc workflow queries, token rotation, and manual retention runs.
// Structured as a cobra root command with subcommands, following
// cmd/semspec/main.go.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/c360studio/relbot/cmd/relbotctl/cmd"
)

func main() {
	root := &cobra.Command{
		Use:   "relbotctl",
		Short: "relbot admin CLI",
	}
	root.PersistentFlags().StringVar(&cmd.DBPath, "db", "relbot.db", "path to the relbot sqlite database")

	root.AddCommand(cmd.InitDBCommand())
	root.AddCommand(cmd.QueryDBCommand())
	root.AddCommand(cmd.QueryWorkflowsCommand())
	root.AddCommand(cmd.UpdateTokenCommand())
	root.AddCommand(cmd.RetentionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
