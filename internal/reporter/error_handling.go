package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"rate-reconciliation-service/internal/adjustment"
	"rate-reconciliation-service/internal/batch"
	"rate-reconciliation-service/internal/reconciler"
	"rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"
)

// SafeReportGenerator validates report inputs and recovers from rendering
// failures. A failed write to a named file is retried against a sibling
// backup file; any other failure of a structured format is retried as
// console output on the same writer.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report_config", config, err).
			WithSuggestion("Check the report format and CSV delimiter")
	}
	return &SafeReportGenerator{ReportGenerator: generator, logger: log.WithComponent("reporter")}, nil
}

// GenerateSafely renders any supported report value: *reconciler.VarianceResult,
// *reconciler.RunReport, *batch.Summary or *adjustment.Result.
func (srg *SafeReportGenerator) GenerateSafely(report interface{}, writer io.Writer) error {
	log := srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": describeWriter(writer),
		"report": fmt.Sprintf("%T", report),
	})

	if err := checkReport(report, writer); err != nil {
		log.WithError(err).Error("Report rejected")
		return err
	}

	err := render(srg.ReportGenerator, report, writer)
	if err == nil {
		log.Debug("Report written")
		return nil
	}
	log.WithError(err).Warn("Report generation failed, attempting fallback")

	if path, ok := namedFile(writer); ok && isFileError(err) {
		err = srg.toBackup(report, path, err)
	} else if srg.config.Format != FormatConsole {
		err = srg.toConsole(report, writer, err)
	} else {
		err = wrapGenerationError(err)
	}
	if err != nil {
		log.WithError(err).Error("Report generation failed")
	}
	return err
}

func checkReport(report interface{}, writer io.Writer) error {
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("Provide a valid output writer")
	}

	present := false
	switch r := report.(type) {
	case *reconciler.VarianceResult:
		present = r != nil
	case *reconciler.RunReport:
		present = r != nil && r.Summary != nil
	case *batch.Summary:
		present = r != nil
	case *adjustment.Result:
		present = r != nil
	case nil:
	default:
		return errors.ValidationError(errors.CodeInvalidData, "report_type", fmt.Sprintf("%T", report), nil).
			WithSuggestion("Provide a variance result, run report, batch summary or adjustment result")
	}
	if !present {
		return errors.ValidationError(errors.CodeMissingField, "report", nil, nil).
			WithSuggestion("Provide a non-empty report value")
	}
	return nil
}

func render(rg *ReportGenerator, report interface{}, writer io.Writer) error {
	switch r := report.(type) {
	case *reconciler.VarianceResult:
		return rg.GenerateVarianceReport(r, writer)
	case *reconciler.RunReport:
		return rg.GenerateRunReport(r, writer)
	case *batch.Summary:
		return rg.GenerateSummaryReport(r, writer)
	case *adjustment.Result:
		return rg.GenerateAdjustmentReport(r, writer)
	}
	return fmt.Errorf("unsupported report type %T", report)
}

func (srg *SafeReportGenerator) toConsole(report interface{}, writer io.Writer, cause error) error {
	cfg := *srg.config
	cfg.Format = FormatConsole
	console, err := NewReportGenerator(&cfg)
	if err != nil {
		return wrapGenerationError(cause)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", cause)
	if err := render(console, report, writer); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "report_fallback",
			fmt.Errorf("primary=%v, fallback=%v", cause, err))
	}
	srg.logger.WithField("fallback_format", FormatConsole).Warn("Report written in fallback format")
	return nil
}

func (srg *SafeReportGenerator) toBackup(report interface{}, path string, cause error) error {
	backup := BackupPath(path)
	f, err := os.Create(backup)
	if err != nil {
		return wrapGenerationError(cause)
	}
	defer f.Close()

	if err := render(srg.ReportGenerator, report, f); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "report_output_fallback",
			fmt.Errorf("primary=%v, backup=%v", cause, err))
	}
	srg.logger.WithFields(logger.Fields{"original_file": path, "backup_file": backup}).
		Warn("Report saved to backup location")
	fmt.Fprintf(os.Stderr, "Warning: Could not write to %s, report saved to %s\n", path, backup)
	return nil
}

func wrapGenerationError(err error) error {
	if rerr, ok := errors.AsReconcilerError(err); ok {
		return rerr
	}
	return errors.InternalError(errors.CodeProcessingError, "report_generation", err).
		WithSuggestion("Check the output destination and report format settings")
}

// BackupPath inserts _backup before the extension of originalPath.
func BackupPath(originalPath string) string {
	ext := filepath.Ext(originalPath)
	name := strings.TrimSuffix(filepath.Base(originalPath), ext)
	return filepath.Join(filepath.Dir(originalPath), name+"_backup"+ext)
}

// namedFile reports the path of writer when it is a regular named file.
func namedFile(writer io.Writer) (string, bool) {
	f, ok := writer.(*os.File)
	if !ok || f == os.Stdout || f == os.Stderr || f.Name() == "" {
		return "", false
	}
	return f.Name(), true
}

func isFileError(err error) bool {
	if os.IsPermission(err) || os.IsNotExist(err) || os.IsExist(err) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"no space left", "file already closed", "bad file descriptor"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func describeWriter(writer io.Writer) string {
	if path, ok := namedFile(writer); ok {
		return "file:" + path
	}
	return fmt.Sprintf("writer:%T", writer)
}
