package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryDocument       ErrorCategory = "document"
	CategoryGovernance     ErrorCategory = "governance"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"

	// Parse errors
	CodeInvalidFormat       ErrorCode = "invalid_format"
	CodeMissingColumn       ErrorCode = "missing_column"
	CodeInvalidData         ErrorCode = "invalid_data"
	CodeInvalidContinuation ErrorCode = "invalid_continuation"

	// Validation errors
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeMissingField  ErrorCode = "missing_field"
	CodeOutOfRange    ErrorCode = "out_of_range"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Document store errors
	CodeDocumentNotFound ErrorCode = "document_not_found"
	CodeLineNotFound     ErrorCode = "line_not_found"
	CodeClosedPeriod     ErrorCode = "closed_period"
	CodeRevisionConflict ErrorCode = "revision_conflict"
	CodeMandatoryField   ErrorCode = "mandatory_field"

	// Governance errors
	CodeBudgetExceeded ErrorCode = "budget_exceeded"

	// Reconciliation errors
	CodeInvarianceViolation ErrorCode = "invariance_violation"
	CodePartialAdjustment   ErrorCode = "partial_adjustment"
	CodeProcessingError     ErrorCode = "processing_error"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryReconciliation, CategoryInternal:
		return 5
	case CategoryDocument:
		return 6
	case CategoryGovernance:
		return 7
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// ContextString returns a context value rendered as a string, or "" when absent.
func (e *ReconcilerError) ContextString(key string) string {
	v, ok := e.Context[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// Specific error constructors

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	return build(err, CategoryFile, code, message).
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// ParseError creates a parsing-related error
func ParseError(code ErrorCode, source string, line int, column string, value string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidFormat:
		message = fmt.Sprintf("invalid format in %s at line %d, column '%s': '%s'", source, line, column, value)
		suggestion = "check the data format and ensure it matches the expected structure"
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column '%s' in %s", column, source)
		suggestion = "verify the export has all required columns with correct headers"
	case CodeInvalidData:
		message = fmt.Sprintf("invalid data in %s at line %d, column '%s': '%s'", source, line, column, value)
		suggestion = "correct the data format or remove the invalid entry"
	default:
		message = fmt.Sprintf("parse error in %s at line %d", source, line)
		suggestion = "check the input format and data integrity"
	}

	return build(err, CategoryParse, code, message).
		WithSuggestion(suggestion).
		WithContext("source", source).
		WithContext("line", line).
		WithContext("column", column).
		WithContext("value", value)
}

// ContinuationError reports a malformed or stale continuation state. The
// whole round fails so that progress is never silently reset.
func ContinuationError(field string, value string, err error) *ReconcilerError {
	message := fmt.Sprintf("invalid continuation state in field '%s'", field)
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	return build(err, CategoryParse, CodeInvalidContinuation, message).
		WithSuggestion("restart the reconciliation from the variance list; the submitted progress could not be trusted").
		WithContext("field", field).
		WithContext("value", truncate(value, 200))
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "ensure amounts are valid decimal numbers (e.g., '12.34')"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use date format YYYY-MM-DD"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the acceptable range"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(err, CategoryValidation, code, message).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(err, CategoryConfiguration, code, message).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// DocumentNotFoundError reports a document id missing from the store.
func DocumentNotFoundError(docType, id string) *ReconcilerError {
	return New(CategoryDocument, CodeDocumentNotFound, fmt.Sprintf("%s %s not found", docType, id)).
		WithSuggestion("the document may have been deleted since the variance list was built; refresh and retry").
		WithContext("document_type", docType).
		WithContext("document_id", id)
}

// LineNotFoundError reports data drift: no line on the document matches the key
// the pairing query produced.
func LineNotFoundError(docType, id, lineKey, itemID string) *ReconcilerError {
	return New(CategoryDocument, CodeLineNotFound,
		fmt.Sprintf("no line on %s %s matches line key '%s' / item '%s'", docType, id, lineKey, itemID)).
		WithSuggestion("the document changed after the variance list was built; refresh the list instead of retrying").
		WithContext("document_type", docType).
		WithContext("document_id", id).
		WithContext("line_key", lineKey).
		WithContext("item_id", itemID)
}

// ClosedPeriodError reports a save rejected because the accounting period is locked.
func ClosedPeriodError(docType, id, period string) *ReconcilerError {
	return New(CategoryDocument, CodeClosedPeriod,
		fmt.Sprintf("%s %s is in closed accounting period %s", docType, id, period)).
		WithSuggestion("use the closed-period adjustment to post a compensating entry instead").
		WithContext("document_type", docType).
		WithContext("document_id", id).
		WithContext("period", period)
}

// RevisionConflictError reports a save of a document that changed after it was loaded.
func RevisionConflictError(docType, id string, loaded, stored int) *ReconcilerError {
	return New(CategoryDocument, CodeRevisionConflict,
		fmt.Sprintf("%s %s changed since it was loaded (revision %d, now %d)", docType, id, loaded, stored)).
		WithSuggestion("another session updated this document; refresh the variance list").
		WithContext("document_type", docType).
		WithContext("document_id", id).
		WithContext("loaded_revision", loaded).
		WithContext("stored_revision", stored)
}

// MandatoryFieldError reports a save rejected by mandatory-field validation.
func MandatoryFieldError(docType, id, field string, line int) *ReconcilerError {
	return New(CategoryDocument, CodeMandatoryField,
		fmt.Sprintf("%s %s line %d is missing mandatory field '%s'", docType, id, line, field)).
		WithContext("document_type", docType).
		WithContext("document_id", id).
		WithContext("field", field).
		WithContext("line", line)
}

// BudgetExceededError reports that the host operation quota was hit.
func BudgetExceededError(operation string, cost, remaining int) *ReconcilerError {
	return New(CategoryGovernance, CodeBudgetExceeded,
		fmt.Sprintf("operation budget exhausted: %s needs %d units, %d remaining", operation, cost, remaining)).
		WithSuggestion("the item was deferred; the next scheduled run resumes it").
		WithContext("operation", operation).
		WithContext("cost", cost).
		WithContext("remaining", remaining)
}

// InvarianceViolationError reports that a compensating edit would change a document total.
func InvarianceViolationError(docID string, before, after decimal.Decimal) *ReconcilerError {
	return New(CategoryReconciliation, CodeInvarianceViolation,
		fmt.Sprintf("vendor bill %s total would change from %s to %s", docID, before.StringFixed(2), after.StringFixed(2))).
		WithSuggestion("nothing was saved; check the line quantity and rates before adjusting manually").
		WithContext("document_id", docID).
		WithContext("total_before", before.StringFixed(2)).
		WithContext("total_after", after.StringFixed(2))
}

// PartialAdjustmentError reports a vendor bill that was corrected and saved
// without its offsetting journal entry.
func PartialAdjustmentError(vbID string, adjustment decimal.Decimal, err error) *ReconcilerError {
	return build(err, CategoryReconciliation, CodePartialAdjustment,
		fmt.Sprintf("vendor bill %s was saved but its journal entry for %s was not created", vbID, adjustment.StringFixed(2))).
		WithSuggestion("create the offsetting journal entry manually for the recorded amount").
		WithContext("vendor_bill_id", vbID).
		WithContext("adjustment", adjustment.StringFixed(2))
}

// ReconciliationError creates a reconciliation-related error
func ReconciliationError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeProcessingError:
		message = fmt.Sprintf("processing error during %s", operation)
		suggestion = "check the document store and try again"
	default:
		message = fmt.Sprintf("reconciliation error during %s", operation)
		suggestion = "review the data and configuration"
	}

	return build(err, CategoryReconciliation, code, message).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	message := fmt.Sprintf("unexpected error during %s", operation)
	return build(err, CategoryInternal, code, message).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*ReconcilerError    `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}
	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}
	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var codes []string
	for code, count := range es.ByCode {
		codes = append(codes, fmt.Sprintf("%s: %d", code, count))
	}
	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(codes, ", "))
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// Utility functions

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// HasCode reports whether any ReconcilerError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if re, ok := err.(*ReconcilerError); ok && re.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

func IsClosedPeriod(err error) bool        { return HasCode(err, CodeClosedPeriod) }
func IsBudgetExceeded(err error) bool      { return HasCode(err, CodeBudgetExceeded) }
func IsInvarianceViolation(err error) bool { return HasCode(err, CodeInvarianceViolation) }
func IsPartialAdjustment(err error) bool   { return HasCode(err, CodePartialAdjustment) }
func IsRevisionConflict(err error) bool    { return HasCode(err, CodeRevisionConflict) }
func IsContinuation(err error) bool        { return HasCode(err, CodeInvalidContinuation) }

// IsNotFound matches both a missing document and a missing line.
func IsNotFound(err error) bool {
	return HasCode(err, CodeDocumentNotFound) || HasCode(err, CodeLineNotFound)
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}
	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return Wrap(err, category, code, message)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
