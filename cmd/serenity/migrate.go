package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rzpsarthak13/serenity/internal/migrate"
	"github.com/rzpsarthak13/serenity/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the database in line with the scheme file",
	Long: `Migrate compares the database catalog with the tables the scheme file
requires and applies the difference in one transaction. With --dry-run the
update is compiled and printed but rolled back.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Close()

		report, err := client.Migrate(cmd.Context(), dryRun)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if dryRun {
			fmt.Fprint(out, report.SQL)
		}
		fmt.Fprintf(out, "%d statements, applied: %t\n", report.Statements, report.Applied)
		if report.LogPath != "" {
			fmt.Fprintf(out, "log: %s\n", report.LogPath)
		}
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired sessions, orphaned files and old broadcasts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Close()
		return client.Cleanup(cmd.Context())
	},
}

var schemesCmd = &cobra.Command{
	Use:   "schemes",
	Short: "Print the tables the scheme file requires",
	Long: `Schemes prints the tables, columns, constraints, indexes and triggers
derived from the scheme file. It does not connect to the database.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(viper.GetString(keySchemes))
		if err != nil {
			return err
		}
		reg, err := storage.LoadYAML(data, storage.WithPasswordHasher(storage.SHA512Hasher{}))
		if err != nil {
			return err
		}
		migrate.Dump(cmd.OutOrStdout(), migrate.Parse(reg))
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("dry-run", false, "compile and print the update without applying it")
}
