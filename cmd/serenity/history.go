package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var historyCmd = &cobra.Command{
	Use:   "history <scheme>",
	Short: "Print change log entries of a scheme",
	Long: `History lists the change log of a delta-enabled scheme, latest first.

Example:
  serenity history users
  serenity history users --since 1700000000000000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetInt64("since")

		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Close()

		entries, err := client.History(cmd.Context(), args[0], since)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(entries)
	},
}

func init() {
	historyCmd.Flags().Int64("since", 0, "only entries newer than this time in microseconds")
}
