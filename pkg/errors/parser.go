package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ParseContext locates a value inside an export file
type ParseContext struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   string `json:"column"`
	Value    string `json:"value"`
	Expected string `json:"expected,omitempty"`
}

// EnhancedParseError is a row-level export error. Recoverable errors drop
// the row and let the parse continue.
type EnhancedParseError struct {
	*ReconcilerError
	Context     *ParseContext `json:"context"`
	Recoverable bool          `json:"recoverable"`
}

func (e *EnhancedParseError) Error() string {
	if e.Context == nil {
		return e.ReconcilerError.Error()
	}

	var loc strings.Builder
	fmt.Fprintf(&loc, "at %s", filepath.Base(e.Context.File))
	if e.Context.Line > 0 {
		fmt.Fprintf(&loc, ":%d", e.Context.Line)
	}
	if e.Context.Column != "" {
		fmt.Fprintf(&loc, " column '%s'", e.Context.Column)
	}
	if e.Context.Expected != "" && e.Context.Value != "" {
		fmt.Fprintf(&loc, " (got %q, expected %s)", e.Context.Value, e.Context.Expected)
	}
	return e.ReconcilerError.Error() + " " + loc.String()
}

// Unwrap exposes the base error so code predicates work on parse errors.
func (e *EnhancedParseError) Unwrap() error {
	return e.ReconcilerError
}

func newRowError(code ErrorCode, ctx *ParseContext, message, suggestion string) *EnhancedParseError {
	base := New(CategoryParse, code, message).
		WithSuggestion(suggestion).
		WithContext("file", ctx.File).
		WithContext("line", ctx.Line)
	if ctx.Column != "" {
		base.WithContext("column", ctx.Column)
	}
	if ctx.Value != "" {
		base.WithContext("value", ctx.Value)
	}
	return &EnhancedParseError{ReconcilerError: base, Context: ctx, Recoverable: true}
}

// InvalidAmountError reports an unparseable rate or quantity
func InvalidAmountError(file string, line int, column string, value string) *EnhancedParseError {
	return newRowError(CodeInvalidAmount,
		&ParseContext{File: file, Line: line, Column: column, Value: value, Expected: "decimal number"},
		"invalid amount format", "export rates as plain decimals such as 1250.50")
}

// InvalidDateError reports a date in none of the accepted layouts
func InvalidDateError(file string, line int, column string, value string) *EnhancedParseError {
	return newRowError(CodeInvalidDate,
		&ParseContext{File: file, Line: line, Column: column, Value: value, Expected: "YYYY-MM-DD or MM/DD/YYYY"},
		"invalid date format", "export dates as YYYY-MM-DD")
}

// EmptyValueError reports a required identity column left blank
func EmptyValueError(file string, line int, column string) *EnhancedParseError {
	return newRowError(CodeMissingField,
		&ParseContext{File: file, Line: line, Column: column, Expected: "non-empty value"},
		"required field is empty", "every row needs its PO id and PO line key")
}

// MissingColumnError reports export headers lacking required columns. It
// stops the parse.
func MissingColumnError(file string, expectedColumns []string, actualColumns []string) *EnhancedParseError {
	present := make(map[string]bool, len(actualColumns))
	for _, col := range actualColumns {
		present[strings.ToLower(strings.TrimSpace(col))] = true
	}
	var missing []string
	for _, col := range expectedColumns {
		if !present[strings.ToLower(strings.TrimSpace(col))] {
			missing = append(missing, col)
		}
	}

	err := newRowError(CodeMissingColumn,
		&ParseContext{File: file, Line: 1, Expected: "columns: " + strings.Join(expectedColumns, ", ")},
		"missing required columns: "+strings.Join(missing, ", "), "add the missing columns to the search export")
	err.Recoverable = false
	return err
}

// ParseErrorCollector gathers row errors up to a limit
type ParseErrorCollector struct {
	errors    []*EnhancedParseError
	maxErrors int
}

// NewParseErrorCollector creates a collector; maxErrors 0 means no limit
func NewParseErrorCollector(maxErrors int) *ParseErrorCollector {
	return &ParseErrorCollector{maxErrors: maxErrors}
}

// Add records err and reports whether processing may continue.
func (c *ParseErrorCollector) Add(err *EnhancedParseError) bool {
	if err == nil {
		return true
	}

	c.errors = append(c.errors, err)
	if c.maxErrors > 0 && len(c.errors) >= c.maxErrors {
		return false
	}
	return err.Recoverable
}

func (c *ParseErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// GetSummary returns an error summary for all collected errors
func (c *ParseErrorCollector) GetSummary() *ErrorSummary {
	result := make([]*ReconcilerError, len(c.errors))
	for i, err := range c.errors {
		result[i] = err.ReconcilerError
	}
	return NewErrorSummary(result)
}
