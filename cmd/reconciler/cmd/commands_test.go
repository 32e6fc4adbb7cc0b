package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rate-reconciliation-service/cmd/reconciler/config"
	"rate-reconciliation-service/internal/api"
	"rate-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	fixturesPath = filepath.Join("..", "..", "..", "testdata", "fixtures.yaml")
	exportPath   = filepath.Join("..", "..", "..", "testdata", "export.csv")
)

// resetFlags puts every flag of c and its children back to its default so
// consecutive executions of rootCmd do not leak values.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs the CLI with args against an in-memory store seeded from the
// shared fixtures and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"--store-driver", "memory", "--fixtures", fixturesPath, "--log-level", "error"}, args...))

	err := rootCmd.Execute()
	return out.String(), err
}

func TestVariancesCommand_Store(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		contains []string
		excludes []string
	}{
		{
			name:     "receipt bill",
			args:     []string{"variances", "--kind", "receipt-bill", "--format", "csv"},
			contains: []string{"IR-1", "IR-2", "VB-2"},
		},
		{
			name:     "order bill with appliances override",
			args:     []string{"variances", "--kind", "order-bill", "--format", "csv", "--appliances-threshold", "5"},
			contains: []string{"GEAR"},
			excludes: []string{"WIDGET"},
		},
		{
			name:     "location without lines",
			args:     []string{"variances", "--kind", "order-bill", "--location", "9"},
			contains: []string{"No records."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, s := range tt.contains {
				if !strings.Contains(out, s) {
					t.Errorf("expected output to contain %q:\n%s", s, out)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(out, s) {
					t.Errorf("expected output not to contain %q:\n%s", s, out)
				}
			}
		})
	}
}

func TestVariancesCommand_CSVExport(t *testing.T) {
	out, err := execute(t, "variances", "--kind", "order-bill", "--input", exportPath, "--format", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Kind  string            `json:"kind"`
		Pairs []json.RawMessage `json:"pairs"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if result.Kind != "order_bill" || len(result.Pairs) != 2 {
		t.Errorf("expected 2 order/bill pairs, got %s with %d", result.Kind, len(result.Pairs))
	}
}

func TestVariancesCommand_OutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "variances.xlsx")
	if _, err := execute(t, "variances", "--format", "xlsx", "--output", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("output file not written: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("PK")) {
		t.Error("expected an xlsx (zip) file")
	}
}

func TestVariancesCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code errors.ErrorCode
	}{
		{"unknown kind", []string{"variances", "--kind", "receipt-order"}, errors.CodeInvalidData},
		{"bad threshold", []string{"variances", "--kitchen-threshold", "lots"}, errors.CodeInvalidAmount},
		{"threshold out of range", []string{"variances", "--kind", "order-bill", "--service-threshold", "150"}, errors.CodeOutOfRange},
		{"missing input", []string{"variances", "--input", "/non/existent/export.csv"}, errors.CodeFileNotFound},
		{"bad format", []string{"variances", "--format", "pdf"}, errors.CodeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if !errors.HasCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestApplyCommand(t *testing.T) {
	out, err := execute(t, "apply", "--format", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var report struct {
		Summary struct {
			Total        int `json:"total"`
			SuccessCount int `json:"success_count"`
			ErrorCount   int `json:"error_count"`
		} `json:"summary"`
		Pairs int `json:"pairs"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if report.Pairs != 2 || report.Summary.SuccessCount != 2 || report.Summary.ErrorCount != 0 {
		t.Errorf("expected both variances corrected, got %+v", report)
	}
}

func TestApplyCommand_NoAdjust(t *testing.T) {
	out, err := execute(t, "apply", "--format", "json", "--no-adjust")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"success_count":1`) && !strings.Contains(out, `"success_count": 1`) {
		t.Errorf("expected only the open-period receipt corrected:\n%s", out)
	}
}

func TestAdjustCommand(t *testing.T) {
	out, err := execute(t, "adjust", "--vb-id", "VB2", "--item-id", "GEAR", "--vb-rate", "55", "--ir-rate", "50", "--format", "csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "JE-000001") || !strings.Contains(out, "5.00") {
		t.Errorf("expected journal entry JE-000001 for 5.00:\n%s", out)
	}
}

func TestAdjustCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code errors.ErrorCode
	}{
		{"bad rate", []string{"adjust", "--vb-id", "VB2", "--item-id", "GEAR", "--vb-rate", "x", "--ir-rate", "50"}, errors.CodeInvalidAmount},
		{"unknown bill", []string{"adjust", "--vb-id", "VB9", "--item-id", "GEAR", "--vb-rate", "55", "--ir-rate", "50"}, errors.CodeDocumentNotFound},
		{"unknown item", []string{"adjust", "--vb-id", "VB2", "--item-id", "BOLT", "--vb-rate", "55", "--ir-rate", "50"}, errors.CodeLineNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if !errors.HasCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestSeedCommand(t *testing.T) {
	dir := t.TempDir()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"seed", "--store-driver", "sqlite", "--store-path", dir, "--fixtures", fixturesPath, "--log-level", "error"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if !strings.Contains(out.String(), "Seeded 6 documents") {
		t.Errorf("unexpected output: %s", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "documents.db")); err != nil {
		t.Errorf("expected database file: %v", err)
	}
}

func TestSeedCommand_RequiresSQLite(t *testing.T) {
	_, err := execute(t, "seed")
	if !errors.HasCode(err, errors.CodeInvalidConfig) {
		t.Errorf("expected invalid_config for the memory driver, got %v", err)
	}
}

func TestBuildDeps(t *testing.T) {
	v := viper.New()
	v.Set("batch.rate_window", 3)
	v.Set("batch.review_window", 7)
	v.Set("governance.limit", 500)
	v.Set("governance.safety_margin", 50)
	config.SetDefaults(v)

	deps, err := buildDeps(v, api.Deps{})
	if err != nil {
		t.Fatalf("buildDeps failed: %v", err)
	}
	if deps.RateWindow != 3 || deps.ReviewWindow != 7 || deps.Governance.Limit != 500 {
		t.Errorf("unexpected deps %+v", deps)
	}

	v.Set("governance.safety_margin", 500)
	if _, err := buildDeps(v, api.Deps{}); !errors.HasCode(err, errors.CodeInvalidConfig) {
		t.Errorf("expected invalid_config, got %v", err)
	}
}

func TestCommandHelp(t *testing.T) {
	for _, c := range []*cobra.Command{variancesCmd, applyCmd, adjustCmd, serveCmd, seedCmd} {
		t.Run(c.Name(), func(t *testing.T) {
			var help bytes.Buffer
			c.SetOut(&help)
			t.Cleanup(func() { c.SetOut(nil) })
			c.Help()
			for _, section := range []string{"Usage:", "Examples:", "Flags:"} {
				if !strings.Contains(help.String(), section) {
					t.Errorf("help text should contain %q", section)
				}
			}
		})
	}
}
