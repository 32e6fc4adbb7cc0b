package batch

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	rerrors "rate-reconciliation-service/pkg/errors"
)

// TokenVersion is the only continuation schema this build understands
const TokenVersion = 1

// ErrorRecord describes one failed or skipped item
type ErrorRecord struct {
	Document string `json:"document"`
	ItemName string `json:"item_name"`
	Reason   string `json:"reason"`
	Code     string `json:"code,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`
}

// String returns the summary line shown to the operator
func (e ErrorRecord) String() string {
	if e.Skipped {
		return fmt.Sprintf("%s (%s): skipped, %s", e.Document, e.ItemName, e.Reason)
	}
	return fmt.Sprintf("%s (%s): %s", e.Document, e.ItemName, e.Reason)
}

// UpdatedRecord describes one successfully processed item
type UpdatedRecord struct {
	Document string `json:"document"`
	ItemName string `json:"item_name"`
	Detail   string `json:"detail,omitempty"`
}

// Token is the complete progress of a multi-round run
type Token struct {
	Version      int             `json:"version"`
	Kind         ItemKind        `json:"kind"`
	Window       int             `json:"window"`
	Selection    Selection       `json:"selection"`
	BatchIndex   int             `json:"batch_index"`
	SuccessCount int             `json:"success_count"`
	ErrorCount   int             `json:"error_count"`
	SkipCount    int             `json:"skip_count"`
	Errors       []ErrorRecord   `json:"errors"`
	Updated      []UpdatedRecord `json:"updated"`
}

// NewToken starts an empty run over a selection
func NewToken(kind ItemKind, window int, selection Selection) *Token {
	return &Token{
		Version:   TokenVersion,
		Kind:      kind,
		Window:    window,
		Selection: selection,
		Errors:    []ErrorRecord{},
		Updated:   []UpdatedRecord{},
	}
}

// Processed returns how many items earlier rounds consumed
func (t *Token) Processed() int {
	return t.SuccessCount + t.ErrorCount + t.SkipCount
}

// Validate checks the token is internally consistent
func (t *Token) Validate() error {
	fail := func(field string, value interface{}, format string, args ...interface{}) error {
		return rerrors.ContinuationError(field, fmt.Sprint(value), fmt.Errorf(format, args...))
	}

	if t.Version != TokenVersion {
		return fail("version", t.Version, "unsupported continuation version %d", t.Version)
	}
	if !t.Kind.IsValid() {
		return fail("kind", t.Kind, "unknown kind %q", t.Kind)
	}
	if t.Window <= 0 {
		return fail("window", t.Window, "window must be positive")
	}
	if len(t.Selection) == 0 {
		return fail("selection", 0, "selection is empty")
	}
	for i, item := range t.Selection {
		if item.Kind() != t.Kind {
			return fail("selection", i, "item %d is %s, expected %s", i, item.Kind(), t.Kind)
		}
	}
	if t.BatchIndex < 0 || t.SuccessCount < 0 || t.ErrorCount < 0 || t.SkipCount < 0 {
		return fail("batch_index", t.BatchIndex, "counts cannot be negative")
	}
	if t.BatchIndex*t.Window >= len(t.Selection) {
		return fail("batch_index", t.BatchIndex, "batch %d starts beyond the %d selected items", t.BatchIndex, len(t.Selection))
	}
	if t.Processed() != t.BatchIndex*t.Window {
		return fail("success_count", t.SuccessCount, "counts cover %d items but %d batches of %d were run",
			t.Processed(), t.BatchIndex, t.Window)
	}
	if len(t.Updated) != t.SuccessCount {
		return fail("updated", len(t.Updated), "%d updated records for success count %d", len(t.Updated), t.SuccessCount)
	}
	skipped := 0
	for _, e := range t.Errors {
		if e.Skipped {
			skipped++
		}
	}
	if skipped != t.SkipCount || len(t.Errors)-skipped != t.ErrorCount {
		return fail("errors", len(t.Errors), "error list does not match error count %d and skip count %d", t.ErrorCount, t.SkipCount)
	}
	return nil
}

// Encode serializes the token as base64url JSON
func (t *Token) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", rerrors.InternalError(rerrors.CodeUnexpectedError, "encode continuation", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses and validates an encoded continuation token. Any
// malformed, stale or inconsistent token is rejected as a whole.
func DecodeToken(encoded string) (*Token, error) {
	encoded = strings.TrimRight(strings.TrimSpace(encoded), "=")
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, rerrors.ContinuationError("continuation", encoded, err)
	}

	var t Token
	if err := strictUnmarshal(data, &t); err != nil {
		return nil, rerrors.ContinuationError("continuation", string(data), err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Form parameter names of the round-trip protocol
const (
	ParamContinuation    = "continuation"
	ParamSelected        = "selected_variances"
	ParamBatchIndex      = "batch_index"
	ParamSuccessCount    = "success_count"
	ParamErrorCount      = "error_count"
	ParamPreviousErrors  = "previous_errors"
	ParamPreviousUpdated = "previous_updated"
)

// Values mirrors the token into the individual continuation fields, plus the
// encoded token itself.
func (t *Token) Values() (url.Values, error) {
	encoded, err := t.Encode()
	if err != nil {
		return nil, err
	}
	errs, err := json.Marshal(t.Errors)
	if err != nil {
		return nil, rerrors.InternalError(rerrors.CodeUnexpectedError, "encode errors", err)
	}
	updated, err := json.Marshal(t.Updated)
	if err != nil {
		return nil, rerrors.InternalError(rerrors.CodeUnexpectedError, "encode updated", err)
	}

	v := url.Values{}
	v.Set(ParamContinuation, encoded)
	v.Set(ParamBatchIndex, strconv.Itoa(t.BatchIndex))
	v.Set(ParamSuccessCount, strconv.Itoa(t.SuccessCount))
	v.Set(ParamErrorCount, strconv.Itoa(t.ErrorCount))
	v.Set(ParamPreviousErrors, string(errs))
	v.Set(ParamPreviousUpdated, string(updated))
	return v, nil
}

// TokenFromValues reconstructs progress from a form submission. When the
// encoded token is present it is authoritative; otherwise the individual
// fields are read, and a submission without batch_index starts a new run.
func TokenFromValues(v url.Values, kind ItemKind, window int) (*Token, error) {
	if encoded := v.Get(ParamContinuation); encoded != "" {
		t, err := DecodeToken(encoded)
		if err != nil {
			return nil, err
		}
		if t.Kind != kind {
			return nil, rerrors.ContinuationError("kind", string(t.Kind), fmt.Errorf("expected %s", kind))
		}
		return t, nil
	}

	selection, err := ParseSelection(v.Get(ParamSelected), kind)
	if err != nil {
		return nil, err
	}
	t := NewToken(kind, window, selection)

	if v.Get(ParamBatchIndex) == "" {
		return t, nil
	}

	ints := map[string]*int{
		ParamBatchIndex:   &t.BatchIndex,
		ParamSuccessCount: &t.SuccessCount,
		ParamErrorCount:   &t.ErrorCount,
	}
	for name, dst := range ints {
		raw := v.Get(name)
		if raw == "" {
			raw = "0"
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, rerrors.ContinuationError(name, raw, err)
		}
		*dst = n
	}

	lists := map[string]interface{}{
		ParamPreviousErrors:  &t.Errors,
		ParamPreviousUpdated: &t.Updated,
	}
	for name, dst := range lists {
		raw := v.Get(name)
		if raw == "" {
			raw = "[]"
		}
		if err := strictUnmarshal([]byte(raw), dst); err != nil {
			return nil, rerrors.ContinuationError(name, raw, err)
		}
	}

	for _, e := range t.Errors {
		if e.Skipped {
			t.SkipCount++
		}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
