// Package reporter renders variance lists, batch summaries and adjustment
// results for operators and downstream tooling.
//
// Supported output formats:
//   - Console: aligned tables for terminal display
//   - JSON: the underlying result structures, for programmatic consumption
//   - CSV: one row per pair or record, for spreadsheet applications
//   - XLSX: a workbook with a data sheet and a summary sheet
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatXLSX})
//	err = generator.GenerateVarianceReport(result, file)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"rate-reconciliation-service/internal/adjustment"
	"rate-reconciliation-service/internal/batch"
	"rate-reconciliation-service/internal/governance"
	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/internal/reconciler"

	"github.com/xuri/excelize/v2"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// MaxItems limits console tables; 0 prints everything. Other formats
	// always carry every row.
	MaxItems int `json:"max_items"`

	// SortByVariance orders pairs by descending absolute variance instead
	// of discovery order.
	SortByVariance bool `json:"sort_by_variance"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
	JSONIndent   bool `json:"json_indent"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:       FormatConsole,
		CSVDelimiter: ',',
		CSVHeaders:   true,
		JSONIndent:   true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max items cannot be negative, got %d", c.MaxItems)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if config.CSVDelimiter == 0 {
		config.CSVDelimiter = ','
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// Config returns the generator configuration
func (rg *ReportGenerator) Config() *ReportConfig {
	return rg.config
}

// table is the format-neutral shape every report renders through
type table struct {
	title   string
	headers []string
	rows    [][]string
	summary [][2]string
	notes   []string
}

// GenerateVarianceReport writes the pairs of one query cycle
func (rg *ReportGenerator) GenerateVarianceReport(result *reconciler.VarianceResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("variance result cannot be nil")
	}
	if rg.config.Format == FormatJSON {
		return rg.writeJSON(result, writer)
	}
	return rg.render(rg.varianceTable(result), writer)
}

// GenerateSummaryReport writes the terminal summary of a batch run
func (rg *ReportGenerator) GenerateSummaryReport(summary *batch.Summary, writer io.Writer) error {
	if summary == nil {
		return fmt.Errorf("batch summary cannot be nil")
	}
	if rg.config.Format == FormatJSON {
		return rg.writeJSON(summary, writer)
	}
	return rg.render(summaryTable(summary), writer)
}

// GenerateRunReport writes the outcome of an autonomous run
func (rg *ReportGenerator) GenerateRunReport(report *reconciler.RunReport, writer io.Writer) error {
	if report == nil || report.Summary == nil {
		return fmt.Errorf("run report cannot be nil")
	}
	if rg.config.Format == FormatJSON {
		return rg.writeJSON(report, writer)
	}

	t := summaryTable(report.Summary)
	t.title = "SCHEDULED RATE CORRECTION"
	t.summary = append([][2]string{
		{"Started", report.StartedAt.Format(time.RFC3339)},
		{"Duration", report.Duration.Round(time.Millisecond).String()},
		{"Variance pairs", fmt.Sprint(report.Pairs)},
		{"Budget remaining", fmt.Sprint(report.Remaining)},
	}, t.summary...)

	ops := make([]governance.Operation, 0, len(report.Usage))
	for op := range report.Usage {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	for _, op := range ops {
		t.summary = append(t.summary, [2]string{"Operations: " + string(op), fmt.Sprint(report.Usage[op])})
	}
	return rg.render(t, writer)
}

// GenerateAdjustmentReport writes the documents touched by a closed-period adjustment
func (rg *ReportGenerator) GenerateAdjustmentReport(result *adjustment.Result, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("adjustment result cannot be nil")
	}
	if rg.config.Format == FormatJSON {
		return rg.writeJSON(result, writer)
	}
	return rg.render(&table{
		title:   "CLOSED-PERIOD ADJUSTMENT",
		headers: []string{"Vendor Bill", "Journal Entry", "Adjustment", "COGS Department", "Bill Total"},
		rows: [][]string{{
			result.VendorBillNumber,
			result.JournalNumber,
			result.Adjustment.StringFixed(models.AmountPrecision),
			result.Department,
			result.Total.StringFixed(models.AmountPrecision),
		}},
	}, writer)
}

func (rg *ReportGenerator) varianceTable(result *reconciler.VarianceResult) *table {
	pairs := append([]models.VariancePair(nil), result.Pairs...)
	if rg.config.SortByVariance {
		sort.SliceStable(pairs, func(i, j int) bool {
			return pairs[i].Variance.Abs().GreaterThan(pairs[j].Variance.Abs())
		})
	}

	t := &table{}
	if result.Kind == models.PairReceiptBill {
		t.title = "RECEIPT / BILL RATE VARIANCES"
		t.headers = []string{"PO", "Item", "Receipt", "Receipt Date", "Receipt Rate", "Bill", "Bill Date", "Bill Rate", "Variance", "Closed Period"}
		for _, p := range pairs {
			t.rows = append(t.rows, []string{
				p.PO.PONumber, p.PO.ItemName,
				p.Receipt.DocumentNumber, formatDate(p.Receipt.Date), p.EarlierRate.String(),
				p.Bill.DocumentNumber, formatDate(p.Bill.Date), p.LaterRate.String(),
				p.Variance.StringFixed(models.AmountPrecision), yesNo(p.Receipt.PeriodClosed),
			})
		}
	} else {
		t.title = "ORDER / BILL RATE VARIANCES"
		t.headers = []string{"PO", "Item", "Vendor", "Location", "Bucket", "PO Rate", "Bill", "Bill Date", "Bill Rate", "Variance", "Variance %"}
		for _, p := range pairs {
			t.rows = append(t.rows, []string{
				p.PO.PONumber, p.PO.ItemName, p.PO.VendorName, p.PO.LocationID, p.Bucket,
				p.EarlierRate.String(), p.Bill.DocumentNumber, formatDate(p.Bill.Date), p.LaterRate.String(),
				p.Variance.StringFixed(models.AmountPrecision), p.VariancePercent.StringFixed(2),
			})
		}
	}

	t.summary = [][2]string{
		{"Generated", result.GeneratedAt.Format(time.RFC3339)},
		{"Rows read", fmt.Sprint(result.RowsSeen)},
		{"Duplicate rows skipped", fmt.Sprint(result.DuplicatesSkipped)},
		{"Malformed rows dropped", fmt.Sprint(result.RowsRejected)},
		{"PO lines", fmt.Sprint(result.Stats.Groups)},
		{"Candidate pairs", fmt.Sprint(result.Stats.Candidates)},
		{"Below absolute floor", fmt.Sprint(result.Stats.BelowFloor)},
	}
	if result.Kind == models.PairOrderBill {
		t.summary = append(t.summary, [2]string{"Below percent threshold", fmt.Sprint(result.Stats.BelowPercent)})
	}
	t.summary = append(t.summary, [2]string{"Variances", fmt.Sprint(len(pairs))})
	return t
}

func summaryTable(summary *batch.Summary) *table {
	t := &table{
		title:   "BATCH SUMMARY",
		headers: []string{"Status", "Document", "Item", "Detail"},
		summary: [][2]string{
			{"Selected", fmt.Sprint(summary.Total)},
			{"Succeeded", fmt.Sprint(summary.SuccessCount)},
			{"Failed", fmt.Sprint(summary.ErrorCount)},
			{"Skipped", fmt.Sprint(summary.SkipCount)},
		},
	}
	for _, u := range summary.Updated {
		t.rows = append(t.rows, []string{"updated", u.Document, u.ItemName, u.Detail})
	}
	for _, e := range summary.Errors {
		status := "failed"
		if e.Skipped {
			status = "skipped"
		}
		t.rows = append(t.rows, []string{status, e.Document, e.ItemName, e.Reason})
	}
	t.notes = strings.Split(summary.Text(), "\n")[:1]
	return t
}

func (rg *ReportGenerator) render(t *table, writer io.Writer) error {
	switch rg.config.Format {
	case FormatConsole:
		return rg.writeConsole(t, writer)
	case FormatCSV:
		return rg.writeCSV(t, writer)
	case FormatXLSX:
		return rg.writeXLSX(t, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) writeJSON(v interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	if rg.config.JSONIndent {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON report: %w", err)
	}
	return nil
}

func (rg *ReportGenerator) writeConsole(t *table, writer io.Writer) error {
	fmt.Fprintf(writer, "%s\n\n", t.title)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	for _, kv := range t.summary {
		fmt.Fprintf(tw, "%s:\t%s\n", kv[0], kv[1])
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, note := range t.notes {
		fmt.Fprintf(writer, "%s\n", note)
	}
	fmt.Fprintf(writer, "\n")

	if len(t.rows) == 0 {
		fmt.Fprintf(writer, "No records.\n")
		return nil
	}

	rows := t.rows
	if rg.config.MaxItems > 0 && len(rows) > rg.config.MaxItems {
		rows = rows[:rg.config.MaxItems]
	}

	fmt.Fprintf(writer, "=== DETAILS ===\n")
	tw = tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(rows) < len(t.rows) {
		fmt.Fprintf(writer, "... and %d more\n", len(t.rows)-len(rows))
	}
	return nil
}

func (rg *ReportGenerator) writeCSV(t *table, writer io.Writer) error {
	w := csv.NewWriter(writer)
	w.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := w.Write(t.headers); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	}
	for _, row := range t.rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

const (
	detailSheet  = "Details"
	summarySheet = "Summary"
)

func (rg *ReportGenerator) writeXLSX(t *table, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", detailSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to add summary sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := setRow(f, detailSheet, 1, t.headers); err != nil {
		return err
	}
	if len(t.headers) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(t.headers), 1)
		if err := f.SetCellStyle(detailSheet, "A1", last, bold); err != nil {
			return fmt.Errorf("failed to style header: %w", err)
		}
		lastCol, _ := excelize.ColumnNumberToName(len(t.headers))
		if err := f.SetColWidth(detailSheet, "A", lastCol, 16); err != nil {
			return fmt.Errorf("failed to size columns: %w", err)
		}
	}
	for i, row := range t.rows {
		if err := setRow(f, detailSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := setRow(f, summarySheet, 1, []string{t.title}); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A1", "A1", bold); err != nil {
		return fmt.Errorf("failed to style title: %w", err)
	}
	for i, kv := range t.summary {
		if err := setRow(f, summarySheet, i+2, []string{kv[0], kv[1]}); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(summarySheet, "A", "B", 26); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}

	if err := f.Write(writer); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
