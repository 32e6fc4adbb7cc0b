package cmd

import (
	"fmt"

	"rate-reconciliation-service/cmd/reconciler/config"
	"rate-reconciliation-service/internal/store"
	"rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// seedCmd loads YAML fixtures into the sqlite document store
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load YAML fixture documents into the document store",
	Long: `Seed writes every document of a fixture file into the sqlite store,
replacing documents with the same type and id.

Examples:
  reconciler seed --fixtures testdata/fixtures.yaml
  reconciler seed --fixtures fixtures.yaml --store-path /var/lib/reconciler`,

	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	storeConfig, err := config.CreateStoreConfig(v)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "store", nil, err)
	}
	if storeConfig.Fixtures == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "fixtures", "", fmt.Errorf("--fixtures is required"))
	}
	if storeConfig.Driver != config.DriverSQLite {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "store.driver", storeConfig.Driver,
			fmt.Errorf("seeding only persists with the sqlite driver"))
	}

	fixtures, err := store.LoadFixtures(storeConfig.Fixtures)
	if err != nil {
		return err
	}
	s, err := store.OpenSQLite(storeConfig.Path)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "open_store", err)
	}
	defer s.Close()

	l := logger.GetGlobalLogger().WithComponent("cli")
	var n int
	err = logger.TimedOperation("seed", l, func() error {
		var seedErr error
		n, seedErr = store.Seed(cmd.Context(), s, fixtures)
		return seedErr
	})
	if err != nil {
		return err
	}

	l.WithFields(logger.Fields{
		"documents": n,
		"path":      storeConfig.Path,
	}).Info("Fixtures seeded")
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d documents into %s\n", n, storeConfig.Path)
	return nil
}
