// Package cmd implements relbotctl's subcommands over pkg/sqlstore,
// pkg/configstore, and pkg/relbot/retention.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/c360studio/relbot/pkg/configstore"
	"github.com/c360studio/relbot/pkg/relbot/model"
	"github.com/c360studio/relbot/pkg/relbot/retention"
	"github.com/c360studio/relbot/pkg/sqlstore"
)

// DBPath is bound to the root command's --db persistent flag.
var DBPath string

func openStore(ctx context.Context) (*sqlstore.Store, error) {
	return sqlstore.Open(ctx, DBPath, slog.Default())
}

// InitDBCommand creates the database file and applies the schema.
func InitDBCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "create the database and apply its schema",
		RunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Println("database initialized:", DBPath)
			return nil
		},
	}
}

// QueryDBCommand prints raw counts of every table, a quick sanity check
// after init-db or a migration.
func QueryDBCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "query-db",
		Short: "print row counts for every table",
		RunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			tables := []string{"workflows", "workflow_messages", "sso_submissions", "sso_build_status", "jenkins_builds", "project_options", "app_config", "message_templates"}
			for _, t := range tables {
				var n int
				row := store.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t)
				if err := row.Scan(&n); err != nil {
					return fmt.Errorf("relbotctl: count %s: %w", t, err)
				}
				fmt.Printf("%-20s %d\n", t, n)
			}
			return nil
		},
	}
}

// QueryWorkflowsCommand prints one workflow, or a summary of recent ones
// if no id is given.
func QueryWorkflowsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "query-workflows [workflow-id]",
		Short: "show one workflow, or list recent ones",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				wf, err := store.GetWorkflow(ctx, args[0])
				if err != nil {
					return fmt.Errorf("relbotctl: %w", err)
				}
				fmt.Printf("%s  %-10s %-12s %s\n", wf.WorkflowID, wf.Status, wf.Project, wf.Username)
				return nil
			}

			rows, err := store.DB().QueryContext(ctx, `
				SELECT workflow_id, status, project, username FROM workflows
				ORDER BY timestamp DESC LIMIT 20`)
			if err != nil {
				return fmt.Errorf("relbotctl: list workflows: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var id, status, project, username string
				if err := rows.Scan(&id, &status, &project, &username); err != nil {
					return err
				}
				fmt.Printf("%s  %-10s %-12s %s\n", id, status, project, username)
			}
			return rows.Err()
		},
	}
}

// UpdateTokenCommand rotates the SSO auth token stored in app config.
func UpdateTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update-token <token>",
		Short: "update the SSO auth token",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			cs, err := configstore.New(ctx, store)
			if err != nil {
				return err
			}
			if err := cs.SetAppConfig(ctx, model.KeySSOAuthToken, args[0]); err != nil {
				return fmt.Errorf("relbotctl: update token: %w", err)
			}
			fmt.Println("token updated")
			return nil
		},
	}
}

// RetentionCommand runs the manual 60-day retention cleanup (C10).
func RetentionCommand() *cobra.Command {
	var maxAgeDays int
	cmd := &cobra.Command{
		Use:   "retention run",
		Short: "delete workflows older than the retention window",
		RunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			maxAge := retention.DefaultMaxAge
			if maxAgeDays > 0 {
				maxAge = dayDuration(maxAgeDays)
			}
			n, err := retention.Run(ctx, store, slog.Default(), maxAge)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			fmt.Printf("deleted %d workflows\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "override the default 60-day retention window")
	return cmd
}
