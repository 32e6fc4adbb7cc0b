package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"rate-reconciliation-service/internal/adjustment"
	"rate-reconciliation-service/internal/batch"
	"rate-reconciliation-service/internal/governance"
	"rate-reconciliation-service/internal/matcher"
	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/internal/reconciler"
	"rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func receiptBillResult() *reconciler.VarianceResult {
	day := func(d int) time.Time { return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC) }
	pair := func(po, ir, vb string, irRate, vbRate string, closed bool) models.VariancePair {
		earlier := decimal.RequireFromString(irRate)
		later := decimal.RequireFromString(vbRate)
		return models.VariancePair{
			Kind:        models.PairReceiptBill,
			PO:          models.POLineInfo{PONumber: po, ItemName: "Widget " + po},
			Receipt:     &models.JoinedLine{DocumentNumber: ir, Date: day(2), Rate: earlier, PeriodClosed: closed},
			Bill:        models.JoinedLine{DocumentNumber: vb, Date: day(4), Rate: later},
			EarlierRate: earlier,
			LaterRate:   later,
			Variance:    later.Sub(earlier),
		}
	}
	return &reconciler.VarianceResult{
		Kind: models.PairReceiptBill,
		Pairs: []models.VariancePair{
			pair("PO-1", "IR-1", "VB-1", "10", "11", false),
			pair("PO-2", "IR-2", "VB-2", "20", "25.5", true),
		},
		Stats:       matcher.PairingStats{Groups: 2, Candidates: 3, Included: 2, BelowFloor: 1},
		RowsSeen:    3,
		GeneratedAt: day(5),
	}
}

func batchSummary() *batch.Summary {
	return &batch.Summary{
		Kind:         batch.KindRateCorrection,
		Total:        2,
		SuccessCount: 1,
		ErrorCount:   1,
		Updated:      []batch.UpdatedRecord{{Document: "IR-1", ItemName: "Widget", Detail: "rate set to 11.00"}},
		Errors:       []batch.ErrorRecord{{Document: "IR-2", ItemName: "Gear", Reason: "period closed", Code: "closed_period"}},
	}
}

func generator(t *testing.T, config *ReportConfig) *ReportGenerator {
	t.Helper()
	g, err := NewReportGenerator(config)
	if err != nil {
		t.Fatalf("NewReportGenerator failed: %v", err)
	}
	return g
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{"default config", nil, false},
		{"valid config", DefaultReportConfig(), false},
		{"xlsx", &ReportConfig{Format: FormatXLSX}, false},
		{"invalid format", &ReportConfig{Format: "pdf"}, true},
		{"negative max items", &ReportConfig{Format: FormatConsole, MaxItems: -1}, true},
		{"quote delimiter", &ReportConfig{Format: FormatCSV, CSVDelimiter: '"'}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewReportGenerator(tt.config)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if g.Config().CSVDelimiter == 0 {
				t.Error("expected a default CSV delimiter")
			}
		})
	}
}

func TestOutputFormat_IsValid(t *testing.T) {
	for _, f := range []OutputFormat{FormatConsole, FormatJSON, FormatCSV, FormatXLSX} {
		if !f.IsValid() {
			t.Errorf("expected %s to be valid", f)
		}
	}
	if OutputFormat("xml").IsValid() {
		t.Error("expected xml to be invalid")
	}
}

func TestGenerateVarianceReport_Console(t *testing.T) {
	var buf bytes.Buffer
	if err := generator(t, nil).GenerateVarianceReport(receiptBillResult(), &buf); err != nil {
		t.Fatalf("GenerateVarianceReport failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"RECEIPT / BILL RATE VARIANCES",
		"=== SUMMARY ===",
		"Below absolute floor:",
		"=== DETAILS ===",
		"IR-2",
		"5.50",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected console output to contain %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "Below percent threshold") {
		t.Error("receipt/bill reports have no percent threshold line")
	}
}

func TestGenerateVarianceReport_ConsoleLimitsAndSorts(t *testing.T) {
	var buf bytes.Buffer
	g := generator(t, &ReportConfig{Format: FormatConsole, MaxItems: 1, SortByVariance: true})
	if err := g.GenerateVarianceReport(receiptBillResult(), &buf); err != nil {
		t.Fatalf("GenerateVarianceReport failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "PO-2") || strings.Contains(out, "IR-1") {
		t.Errorf("expected only the largest variance to be listed\n%s", out)
	}
	if !strings.Contains(out, "... and 1 more") {
		t.Errorf("expected a truncation note\n%s", out)
	}
}

func TestGenerateVarianceReport_OrderBill(t *testing.T) {
	result := &reconciler.VarianceResult{
		Kind: models.PairOrderBill,
		Pairs: []models.VariancePair{{
			Kind:            models.PairOrderBill,
			PO:              models.POLineInfo{PONumber: "PO-7", VendorName: "Acme", LocationID: "9"},
			Bill:            models.JoinedLine{DocumentNumber: "VB-7"},
			Bucket:          "appliances",
			EarlierRate:     decimal.NewFromInt(100),
			LaterRate:       decimal.NewFromInt(103),
			Variance:        decimal.NewFromInt(3),
			VariancePercent: decimal.NewFromInt(3),
		}},
	}

	var buf bytes.Buffer
	if err := generator(t, &ReportConfig{Format: FormatCSV, CSVHeaders: true}).GenerateVarianceReport(result, &buf); err != nil {
		t.Fatalf("GenerateVarianceReport failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header and one row, got %d records", len(records))
	}
	if records[0][4] != "Bucket" || records[1][4] != "appliances" || records[1][10] != "3.00" {
		t.Errorf("unexpected order/bill row %v", records[1])
	}
	if records[1][7] != "" {
		t.Errorf("expected an empty bill date, got %q", records[1][7])
	}
}

func TestGenerateVarianceReport_CSV(t *testing.T) {
	var buf bytes.Buffer
	g := generator(t, &ReportConfig{Format: FormatCSV, CSVDelimiter: ';', CSVHeaders: true})
	if err := g.GenerateVarianceReport(receiptBillResult(), &buf); err != nil {
		t.Fatalf("GenerateVarianceReport failed: %v", err)
	}

	r := csv.NewReader(&buf)
	r.Comma = ';'
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0][0] != "PO" || len(records[0]) != 10 {
		t.Errorf("unexpected header %v", records[0])
	}
	if got := records[2]; got[2] != "IR-2" || got[3] != "2025-03-02" || got[8] != "5.50" || got[9] != "yes" {
		t.Errorf("unexpected row %v", got)
	}
}

func TestGenerateVarianceReport_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := generator(t, &ReportConfig{Format: FormatJSON}).GenerateVarianceReport(receiptBillResult(), &buf); err != nil {
		t.Fatalf("GenerateVarianceReport failed: %v", err)
	}

	var decoded struct {
		Kind  string `json:"kind"`
		Pairs []struct {
			Variance string `json:"variance"`
		} `json:"pairs"`
		Stats matcher.PairingStats `json:"stats"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Kind != "receipt_bill" || len(decoded.Pairs) != 2 || decoded.Stats.BelowFloor != 1 {
		t.Errorf("unexpected decoded report %+v", decoded)
	}
	if decoded.Pairs[1].Variance != "5.5" {
		t.Errorf("expected decimal variance 5.5, got %q", decoded.Pairs[1].Variance)
	}
}

func TestGenerateVarianceReport_XLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := generator(t, &ReportConfig{Format: FormatXLSX}).GenerateVarianceReport(receiptBillResult(), &buf); err != nil {
		t.Fatalf("GenerateVarianceReport failed: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("output is not a workbook: %v", err)
	}
	defer f.Close()

	cells := map[string]string{
		detailSheet + "!A1":  "PO",
		detailSheet + "!C3":  "IR-2",
		detailSheet + "!I3":  "5.50",
		summarySheet + "!A1": "RECEIPT / BILL RATE VARIANCES",
		summarySheet + "!A2": "Generated",
	}
	for ref, want := range cells {
		parts := strings.SplitN(ref, "!", 2)
		got, err := f.GetCellValue(parts[0], parts[1])
		if err != nil {
			t.Fatalf("GetCellValue(%s) failed: %v", ref, err)
		}
		if got != want {
			t.Errorf("cell %s = %q, want %q", ref, got, want)
		}
	}

	rows, err := f.GetRows(detailSheet)
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("expected header and two pairs, got %d rows", len(rows))
	}
}

func TestGenerateSummaryReport(t *testing.T) {
	var buf bytes.Buffer
	if err := generator(t, nil).GenerateSummaryReport(batchSummary(), &buf); err != nil {
		t.Fatalf("GenerateSummaryReport failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"BATCH SUMMARY", "Updated 1 of 2 selected records. 1 failed.", "updated", "failed", "period closed"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected summary to contain %q\n%s", want, out)
		}
	}
}

func TestGenerateRunReport(t *testing.T) {
	report := &reconciler.RunReport{
		Summary:   batchSummary(),
		Pairs:     2,
		Usage:     map[governance.Operation]int{governance.OpSearch: 30, governance.OpLoad: 20},
		Remaining: 9950,
		StartedAt: time.Date(2025, 3, 5, 6, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
	}

	var buf bytes.Buffer
	if err := generator(t, nil).GenerateRunReport(report, &buf); err != nil {
		t.Fatalf("GenerateRunReport failed: %v", err)
	}

	out := buf.String()
	load := strings.Index(out, "Operations: load")
	search := strings.Index(out, "Operations: search")
	if load < 0 || search < 0 || load > search {
		t.Errorf("expected operations listed in name order\n%s", out)
	}
	if !strings.Contains(out, "9950") || !strings.Contains(out, "1.5s") {
		t.Errorf("expected remaining budget and duration\n%s", out)
	}

	if err := generator(t, nil).GenerateRunReport(&reconciler.RunReport{}, &buf); err == nil {
		t.Error("expected an error for a run report without a summary")
	}
}

func TestGenerateAdjustmentReport(t *testing.T) {
	result := &adjustment.Result{
		VendorBillNumber: "VB-2",
		JournalNumber:    "JE-000001",
		Adjustment:       decimal.NewFromInt(5),
		Department:       "20",
		Total:            decimal.NewFromInt(55),
	}

	var buf bytes.Buffer
	if err := generator(t, &ReportConfig{Format: FormatCSV}).GenerateAdjustmentReport(result, &buf); err != nil {
		t.Fatalf("GenerateAdjustmentReport failed: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "VB-2,JE-000001,5.00,20,55.00" {
		t.Errorf("unexpected CSV without headers: %q", got)
	}
}

func TestSafeReportGenerator_Validation(t *testing.T) {
	srg, err := NewSafeReportGenerator(nil, logger.Discard())
	if err != nil {
		t.Fatalf("NewSafeReportGenerator failed: %v", err)
	}

	tests := []struct {
		name   string
		report interface{}
		code   errors.ErrorCode
	}{
		{"nil report", nil, errors.CodeMissingField},
		{"typed nil", (*batch.Summary)(nil), errors.CodeMissingField},
		{"run report without summary", &reconciler.RunReport{}, errors.CodeMissingField},
		{"unsupported type", "text", errors.CodeInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := srg.GenerateSafely(tt.report, &bytes.Buffer{})
			if !errors.HasCode(err, tt.code) {
				t.Errorf("expected code %s, got %v", tt.code, err)
			}
		})
	}

	if err := srg.GenerateSafely(batchSummary(), nil); !errors.HasCode(err, errors.CodeMissingField) {
		t.Errorf("expected a missing writer error, got %v", err)
	}

	if _, err := NewSafeReportGenerator(&ReportConfig{Format: "pdf"}, logger.Discard()); !errors.HasCode(err, errors.CodeInvalidConfig) {
		t.Errorf("expected a configuration error, got %v", err)
	}
}

// zipRejectingWriter fails any write that starts a zip archive
type zipRejectingWriter struct {
	bytes.Buffer
}

func (w *zipRejectingWriter) Write(p []byte) (int, error) {
	if bytes.HasPrefix(p, []byte("PK")) {
		return 0, fmt.Errorf("device does not accept binary output")
	}
	return w.Buffer.Write(p)
}

func TestSafeReportGenerator_FormatFallback(t *testing.T) {
	srg, err := NewSafeReportGenerator(&ReportConfig{Format: FormatXLSX}, logger.Discard())
	if err != nil {
		t.Fatalf("NewSafeReportGenerator failed: %v", err)
	}

	w := &zipRejectingWriter{}
	if err := srg.GenerateSafely(receiptBillResult(), w); err != nil {
		t.Fatalf("expected the console fallback to succeed, got %v", err)
	}

	out := w.String()
	if !strings.Contains(out, "NOTE: Report generated in fallback format") || !strings.Contains(out, "=== DETAILS ===") {
		t.Errorf("expected fallback notice and console report\n%s", out)
	}
}

func TestBackupPath(t *testing.T) {
	tests := map[string]string{
		"/tmp/out/report.csv": "/tmp/out/report_backup.csv",
		"variances.xlsx":      "variances_backup.xlsx",
		"/tmp/noext":          "/tmp/noext_backup",
	}
	for in, want := range tests {
		if got := BackupPath(in); got != want {
			t.Errorf("BackupPath(%q) = %q, want %q", in, got, want)
		}
	}
}
