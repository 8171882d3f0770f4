// Package main provides the serenity command line: schema updates, session
// cleanup, change history and the broadcast listener.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rzpsarthak13/serenity/internal/metrics"
	"github.com/rzpsarthak13/serenity/pkg/serenity"
)

const (
	keyConfig      = "config"
	keySchemes     = "schemes"
	keyLogLevel    = "log_level"
	keyMetricsAddr = "metrics_addr"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "serenity",
	Short: "Serenity manages a PostgreSQL backed object store",
	Long: `Serenity keeps the database schema in line with a scheme file, cleans
up expired sessions and follows the broadcast table.

Flags can also be set through SERENITY_CONFIG, SERENITY_SCHEMES,
SERENITY_LOG_LEVEL and SERENITY_METRICS_ADDR.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(viper.GetString(keyLogLevel))
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (.yaml, .yml or .json)")
	flags.String("schemes", "schemes.yaml", "scheme definition file")
	flags.String("log-level", "info", "log level")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")

	viper.SetEnvPrefix("SERENITY")
	viper.AutomaticEnv()
	viper.BindPFlag(keyConfig, flags.Lookup("config"))
	viper.BindPFlag(keySchemes, flags.Lookup("schemes"))
	viper.BindPFlag(keyLogLevel, flags.Lookup("log-level"))
	viper.BindPFlag(keyMetricsAddr, flags.Lookup("metrics-addr"))

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(schemesCmd)
	rootCmd.AddCommand(broadcastsCmd)
	rootCmd.AddCommand(runCmd)
}

// openClient loads the config, connects and reads the scheme file.
func openClient() (*serenity.Client, error) {
	cfg, err := serenity.LoadConfig(viper.GetString(keyConfig))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var opts []serenity.Option
	if viper.GetString(keyMetricsAddr) != "" {
		opts = append(opts, serenity.WithCollector(metrics.NewCollector(nil, nil)))
	}
	client, err := serenity.NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := client.LoadSchemes(viper.GetString(keySchemes)); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
