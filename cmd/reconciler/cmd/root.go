package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"rate-reconciliation-service/cmd/reconciler/config"
	"rate-reconciliation-service/internal/store"
	"rate-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Purchase rate variance reconciliation tool",
	Long: `Reconciler finds rate variances between purchase orders, item receipts
and vendor bills, corrects receipt rates in bounded batches, marks order
variances reviewed, and posts closed-period adjustments on vendor bills.

Examples:
  reconciler seed --fixtures testdata/fixtures.yaml
  reconciler variances --kind receipt-bill --format csv --output variances.csv
  reconciler variances --kind order-bill --input export.csv --appliances-threshold 5
  reconciler apply --location 4
  reconciler adjust --vb-id VB2 --item-id GEAR --vb-rate 55 --ir-rate 50
  reconciler serve --addr 127.0.0.1:8080`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (optional)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text, json")
	flags.String("store-driver", config.DriverSQLite, "document store: sqlite, memory")
	flags.String("store-path", "./data", "directory of the sqlite document database")
	flags.String("fixtures", "", "YAML fixtures loaded into the store before the command runs")

	// Bind flags to viper
	viper.BindPFlag("verbose", flags.Lookup("verbose"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("log.format", flags.Lookup("log-format"))
	viper.BindPFlag("store.driver", flags.Lookup("store-driver"))
	viper.BindPFlag("store.path", flags.Lookup("store-path"))
	viper.BindPFlag("store.fixtures", flags.Lookup("fixtures"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// RECONCILER_GOVERNANCE_LIMIT overrides governance.limit
	viper.SetEnvPrefix("RECONCILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if viper.GetBool("verbose") {
		viper.Set("log.level", string(logger.DebugLevel))
	}
	logConfig, err := config.CreateLoggerConfig(viper.GetViper())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(4)
	}
	l, err := logger.NewLogger(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(4)
	}
	logger.SetGlobalLogger(l)
}

// openStore opens the configured document store and loads fixtures into it
// when a fixture file is configured. The returned func releases the store.
func openStore(ctx context.Context, v *viper.Viper) (store.DocumentStore, func() error, error) {
	storeConfig, err := config.CreateStoreConfig(v)
	if err != nil {
		return nil, nil, err
	}
	l := logger.GetGlobalLogger().WithComponent("cli")

	var (
		s      store.DocumentStore
		seeder store.Seeder
		closer = func() error { return nil }
	)
	switch storeConfig.Driver {
	case config.DriverMemory:
		m := store.NewMemoryStore()
		s, seeder = m, m
	default:
		sq, err := store.OpenSQLite(storeConfig.Path)
		if err != nil {
			return nil, nil, err
		}
		s, seeder, closer = sq, sq, sq.Close
	}

	if storeConfig.Fixtures != "" {
		fixtures, err := store.LoadFixtures(storeConfig.Fixtures)
		if err != nil {
			closer()
			return nil, nil, err
		}
		n, err := store.Seed(ctx, seeder, fixtures)
		if err != nil {
			closer()
			return nil, nil, err
		}
		l.WithFields(logger.Fields{"fixtures": storeConfig.Fixtures, "documents": n}).Debug("Fixtures loaded")
	}

	l.WithFields(logger.Fields{"driver": storeConfig.Driver, "path": storeConfig.Path}).Debug("Document store opened")
	return s, closer, nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
