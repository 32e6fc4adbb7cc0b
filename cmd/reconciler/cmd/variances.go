package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"rate-reconciliation-service/cmd/reconciler/config"
	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/internal/parsers"
	"rate-reconciliation-service/internal/reconciler"
	"rate-reconciliation-service/internal/reporter"
	"rate-reconciliation-service/internal/search"
	"rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the variances command
var (
	varianceKind        string
	inputFile           string
	locationFilter      string
	serviceThreshold    string
	kitchenThreshold    string
	appliancesThreshold string
	outputFormat        string
	outputFile          string
	sortByVariance      bool
	maxItems            int
)

var kindAliases = map[string]models.PairKind{
	"receipt-bill": models.PairReceiptBill,
	"receipt_bill": models.PairReceiptBill,
	"order-bill":   models.PairOrderBill,
	"order_bill":   models.PairOrderBill,
}

// variancesCmd represents the variances command
var variancesCmd = &cobra.Command{
	Use:   "variances",
	Short: "List rate variances between receipts, orders and bills",
	Long: `Variances pairs purchase order lines with their receipts and bills and
reports the pairs whose rates differ.

Two matching policies are available:
- receipt-bill: receipt lines paired with bill lines of the same PO line
  in date order
- order-bill: the PO rate against its oldest bill, kept only when the
  variance clears both the absolute floor and the location's percent threshold

Rows are read from the document store, or from a CSV export with --input.

Examples:
  reconciler variances --kind receipt-bill
  reconciler variances --kind order-bill --location 4 --kitchen-threshold 5
  reconciler variances --kind order-bill --input export.csv --format xlsx --output variances.xlsx`,

	PreRunE: validateVarianceFlags,
	RunE:    runVariances,
}

func init() {
	rootCmd.AddCommand(variancesCmd)

	flags := variancesCmd.Flags()
	flags.StringVarP(&varianceKind, "kind", "k", "receipt-bill", "matching policy: receipt-bill, order-bill")
	flags.StringVarP(&inputFile, "input", "i", "", "read rows from a CSV export instead of the document store")
	flags.StringVarP(&locationFilter, "location", "l", "", "only PO lines at this location")
	flags.StringVar(&serviceThreshold, "service-threshold", "", "service bucket percent threshold override")
	flags.StringVar(&kitchenThreshold, "kitchen-threshold", "", "kitchen bucket percent threshold override")
	flags.StringVar(&appliancesThreshold, "appliances-threshold", "", "appliances bucket percent threshold override")
	addReportFlags(variancesCmd)
}

// addReportFlags registers the output flags shared by reporting commands
func addReportFlags(c *cobra.Command) {
	c.Flags().StringVarP(&outputFormat, "format", "f", "console", "output format: console, json, csv, xlsx")
	c.Flags().StringVarP(&outputFile, "output", "o", "", "output file path (default: stdout)")
	c.Flags().BoolVar(&sortByVariance, "sort", false, "sort variances by descending absolute variance")
	c.Flags().IntVar(&maxItems, "max-items", 0, "limit the number of detail rows (0 = no limit)")
}

func validateVarianceFlags(cmd *cobra.Command, args []string) error {
	if _, ok := kindAliases[strings.ToLower(varianceKind)]; !ok {
		return errors.ValidationError(errors.CodeInvalidData, "kind", varianceKind,
			fmt.Errorf("expected receipt-bill or order-bill"))
	}
	if inputFile != "" {
		if err := validateFileExists(inputFile, "input file"); err != nil {
			return err
		}
	}
	return validateReportFlags()
}

func validateReportFlags() error {
	if _, err := config.CreateReportConfig(outputFormat, sortByVariance, maxItems); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "format", outputFormat, err)
	}
	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return errors.FileError(errors.CodeFileNotFound, dir, fmt.Errorf("output directory does not exist"))
			}
		}
	}
	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}

	if info.IsDir() {
		return errors.FileError(errors.CodeFileNotFound, filePath, fmt.Errorf("%s is a directory, expected a file", description))
	}
	return nil
}

// parseOverrides turns the threshold flags into per-request overrides
func parseOverrides() (*reconciler.ThresholdOverrides, error) {
	overrides := &reconciler.ThresholdOverrides{}
	fields := []struct {
		name string
		raw  string
		dst  **decimal.Decimal
	}{
		{"service-threshold", serviceThreshold, &overrides.Service},
		{"kitchen-threshold", kitchenThreshold, &overrides.Kitchen},
		{"appliances-threshold", appliancesThreshold, &overrides.Appliances},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		d, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidAmount, f.name, f.raw, err)
		}
		*f.dst = &d
	}
	if overrides.IsZero() {
		return nil, nil
	}
	return overrides, nil
}

func runVariances(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	v := viper.GetViper()
	l := logger.GetGlobalLogger().WithComponent("cli")

	kind := kindAliases[strings.ToLower(varianceKind)]
	overrides, err := parseOverrides()
	if err != nil {
		return err
	}
	varianceConfig, err := config.CreateVarianceConfig(v)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "thresholds", nil, err)
	}

	var result *reconciler.VarianceResult
	if inputFile != "" {
		parseConfig, err := config.CreateParseConfig(v)
		if err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "input", nil, err)
		}
		rows, stats, err := parsers.NewJoinRowParser(parseConfig).ParseFile(ctx, inputFile)
		if err != nil {
			summary, ok := err.(*errors.ErrorSummary)
			if !ok {
				return err
			}
			l.WithFields(logger.Fields{"file": inputFile, "rejected": summary.Total}).Warn("Some export rows could not be read")
			if verbose {
				fmt.Fprintln(cmd.ErrOrStderr(), summary.Error())
			}
		}
		if stats != nil {
			l.WithField("stats", stats.String()).Debug("Export parsed")
		}

		service, err := reconciler.NewVarianceService(nil, varianceConfig, l)
		if err != nil {
			return err
		}
		rows = filterByLocation(rows, locationFilter)
		result, err = service.PairRows(kind, rows, overrides)
		if err != nil {
			return err
		}
	} else {
		s, closeStore, err := openStore(ctx, v)
		if err != nil {
			return err
		}
		defer closeStore()

		searchConfig, err := config.CreateSearchConfig(v)
		if err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "search", nil, err)
		}
		service, err := reconciler.NewVarianceService(search.NewAdapter(s, searchConfig, l), varianceConfig, l)
		if err != nil {
			return err
		}
		result, err = service.Variances(ctx, reconciler.VarianceRequest{
			Kind:      kind,
			Filter:    search.Filter{LocationID: locationFilter},
			Overrides: overrides,
		})
		if err != nil {
			return err
		}
	}

	l.WithFields(logger.Fields{"kind": kind, "pairs": len(result.Pairs)}).Info("Variances computed")
	return writeReport(cmd, result)
}

func filterByLocation(rows []models.RawJoinRow, location string) []models.RawJoinRow {
	if location == "" {
		return rows
	}
	kept := rows[:0]
	for _, row := range rows {
		if strings.TrimSpace(row.PO.LocationID) == location {
			kept = append(kept, row)
		}
	}
	return kept
}

// writeReport renders report to --output, or to the command's stdout
func writeReport(cmd *cobra.Command, report interface{}) error {
	reportConfig, err := config.CreateReportConfig(outputFormat, sortByVariance, maxItems)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "format", outputFormat, err)
	}
	generator, err := reporter.NewSafeReportGenerator(reportConfig, logger.GetGlobalLogger())
	if err != nil {
		return err
	}

	var output io.Writer = cmd.OutOrStdout()
	if outputFile != "" {
		file, err := os.Create(outputFile)
		if err != nil {
			return errors.FileError(errors.CodeFilePermission, outputFile, err)
		}
		defer file.Close()
		output = file
	}

	return generator.GenerateSafely(report, output)
}
