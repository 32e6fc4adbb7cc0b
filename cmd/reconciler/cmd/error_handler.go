package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"

	"github.com/spf13/viper"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
	out     io.Writer
}

// NewCLIErrorHandler creates a new CLI error handler writing to stderr
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
		out:     os.Stderr,
	}
}

// HandleError prints err and returns the process exit code for it
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	h.printFollowUp(err)

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// printFollowUp states what an aborted or half-finished adjustment left
// behind in the document store.
func (h *CLIErrorHandler) printFollowUp(err *errors.ReconcilerError) {
	switch {
	case errors.IsPartialAdjustment(err):
		fmt.Fprintf(h.out, "\nManual follow-up required: vendor bill %s is saved; post a journal entry for %s between accrued purchases and COGS.\n",
			err.ContextString("vendor_bill_id"), err.ContextString("adjustment"))
	case errors.IsInvarianceViolation(err):
		fmt.Fprintf(h.out, "\nNo documents were changed.\n")
	}
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if h.isPermissionError(err) {
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "\nRun with --verbose for more detail\n")
	}
	return 1
}

func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Verify the file path is correct (use absolute paths if needed)
• Ensure you have proper permissions to access the file`

	case errors.CategoryParse:
		return `Parse error help:
• Verify the export has the po_id, po_line_key and po_rate columns
• Check that rates are decimal numbers and dates use YYYY-MM-DD
• Ensure the file uses UTF-8 encoding`

	case errors.CategoryValidation:
		return `Validation error help:
• Check that all required fields have values
• Thresholds are percentages between 0 and 100
• Rates are decimal numbers without currency symbols`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Environment variables use the RECONCILER_ prefix, e.g. RECONCILER_GOVERNANCE_LIMIT`

	case errors.CategoryDocument:
		return `Document error help:
• Receipts in a closed period cannot be saved; use 'reconciler adjust' on the bill instead
• A revision conflict means the document changed since it was read; list the variances again
• Check that the document and line ids exist in the store`

	case errors.CategoryGovernance:
		return `Budget error help:
• The operation budget for this invocation is spent
• Run the command again to continue with the remaining records
• Raise governance.limit if single runs routinely run out`

	case errors.CategoryReconciliation:
		return `Reconciliation error help:
• A partial adjustment saved the bill but not the journal entry; post the entry by hand
• An invariance violation means the bill total would have changed and nothing was saved
• Check the bill lines and expenses for this variance`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Use 'reconciler <command> --help' for command-specific help`
	}
}

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}
