package cmd

import (
	"fmt"
	"strings"

	"rate-reconciliation-service/cmd/reconciler/config"
	"rate-reconciliation-service/internal/adjustment"
	"rate-reconciliation-service/internal/governance"
	"rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	adjustVBID     string
	adjustItemID   string
	adjustVBRate   string
	adjustIRRate   string
	adjustVBNumber string
	adjustItemName string
)

// adjustCmd posts one closed-period adjustment
var adjustCmd = &cobra.Command{
	Use:   "adjust",
	Short: "Post a closed-period rate adjustment on a vendor bill",
	Long: `Adjust corrects a variance whose receipt sits in a closed period. The
vendor bill line is moved to the receipt rate, the difference is added back
as an offset expense so the bill total does not change, and a journal entry
moves the difference between accrued purchases and cost of goods sold.

Examples:
  reconciler adjust --vb-id VB2 --item-id GEAR --vb-rate 55 --ir-rate 50
  reconciler adjust --vb-id VB2 --item-id GEAR --vb-rate 55 --ir-rate 50 --vb-number VB-2 --item-name Gear`,

	PreRunE: func(cmd *cobra.Command, args []string) error { return validateReportFlags() },
	RunE:    runAdjust,
}

func init() {
	rootCmd.AddCommand(adjustCmd)

	flags := adjustCmd.Flags()
	flags.StringVar(&adjustVBID, "vb-id", "", "vendor bill id (required)")
	flags.StringVar(&adjustItemID, "item-id", "", "item id of the bill line (required)")
	flags.StringVar(&adjustVBRate, "vb-rate", "", "current bill rate (required)")
	flags.StringVar(&adjustIRRate, "ir-rate", "", "receipt rate the bill line moves to (required)")
	flags.StringVar(&adjustVBNumber, "vb-number", "", "bill number used in memos")
	flags.StringVar(&adjustItemName, "item-name", "", "item name used in memos")
	flags.StringVarP(&outputFormat, "format", "f", "console", "output format: console, json, csv, xlsx")
	flags.StringVarP(&outputFile, "output", "o", "", "output file path (default: stdout)")

	adjustCmd.MarkFlagRequired("vb-id")
	adjustCmd.MarkFlagRequired("item-id")
	adjustCmd.MarkFlagRequired("vb-rate")
	adjustCmd.MarkFlagRequired("ir-rate")
}

func parseRate(name, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, errors.ValidationError(errors.CodeInvalidAmount, name, raw, err)
	}
	return d, nil
}

func runAdjust(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	v := viper.GetViper()

	vbRate, err := parseRate("vb-rate", adjustVBRate)
	if err != nil {
		return err
	}
	irRate, err := parseRate("ir-rate", adjustIRRate)
	if err != nil {
		return err
	}

	adjustmentConfig, err := config.CreateAdjustmentConfig(v)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "adjustment", nil, err)
	}
	governanceConfig, err := config.CreateGovernanceConfig(v)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "governance", nil, err)
	}

	s, closeStore, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer closeStore()

	meter := governance.NewMeter(governanceConfig)
	procedure := adjustment.NewProcedure(governance.NewMeteredStore(s, meter), adjustmentConfig, logger.GetGlobalLogger())
	result, err := procedure.Run(ctx, adjustment.Request{
		VendorBillID: adjustVBID,
		ItemID:       adjustItemID,
		VBRate:       vbRate,
		IRRate:       irRate,
		VBNumber:     adjustVBNumber,
		ItemName:     adjustItemName,
	})
	if err != nil {
		return err
	}

	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "Operations used: %v, remaining budget: %d\n", meter.Usage(), meter.Remaining())
	}
	return writeReport(cmd, result)
}
