package cmd

import (
	"rate-reconciliation-service/cmd/reconciler/config"
	"rate-reconciliation-service/internal/reconciler"
	"rate-reconciliation-service/internal/search"
	"rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	applyLocation string
	noAdjust      bool
)

// applyCmd runs one autonomous rate correction pass
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Correct receipt rates to match their bills",
	Long: `Apply computes the receipt/bill variances and overwrites each receipt
line rate with its bill rate, without an operator. Store calls are charged
against the governance budget; items that would run past the safety margin
are reported as skipped.

Receipts in a closed period cannot be saved. Unless --no-adjust is given,
those variances are posted as a closed-period adjustment on the vendor bill.

Examples:
  reconciler apply
  reconciler apply --location 4 --format json
  reconciler apply --no-adjust`,

	PreRunE: func(cmd *cobra.Command, args []string) error { return validateReportFlags() },
	RunE:    runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().StringVarP(&applyLocation, "location", "l", "", "only PO lines at this location")
	applyCmd.Flags().BoolVar(&noAdjust, "no-adjust", false, "record closed-period receipts as failures instead of adjusting the bill")
	applyCmd.Flags().StringVarP(&outputFormat, "format", "f", "console", "output format: console, json, csv, xlsx")
	applyCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file path (default: stdout)")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	v := viper.GetViper()

	scheduled, err := config.CreateScheduledConfig(v, search.Filter{LocationID: applyLocation}, !noAdjust)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "apply", nil, err)
	}

	s, closeStore, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer closeStore()

	runner, err := reconciler.NewScheduledRunner(s, scheduled, logger.GetGlobalLogger())
	if err != nil {
		return err
	}
	report, err := runner.Run(ctx)
	if err != nil {
		if report != nil {
			if werr := writeReport(cmd, report); werr != nil {
				logger.GetGlobalLogger().WithError(werr).Warn("Could not write the partial run report")
			}
		}
		return err
	}
	return writeReport(cmd, report)
}
