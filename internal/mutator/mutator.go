// Package mutator applies single-field overwrites to document lines. It is the
// only component of the reconciliation core that writes to the store.
package mutator

import (
	"context"

	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/internal/store"
	rerrors "rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"
)

// Request identifies the lines to overwrite and the value to write
type Request struct {
	DocType    models.DocumentType
	DocumentID string

	// LineKey and ItemID select lines; either may be empty but not both.
	// Every matching line is updated.
	LineKey string
	ItemID  string

	Field string
	Value interface{}
}

// Result reports what an update touched
type Result struct {
	DocumentID   string `json:"document_id"`
	LinesUpdated int    `json:"lines_updated"`
	Revision     int    `json:"revision"`
}

// Failure classes surfaced to callers
type Failure string

const (
	FailureNone         Failure = ""
	FailureClosedPeriod Failure = "closed_period"
	FailureNotFound     Failure = "not_found"
	FailureBudget       Failure = "budget_exceeded"
	FailureConflict     Failure = "revision_conflict"
	FailureOther        Failure = "other"
)

// Classify maps an update error onto its failure class
func Classify(err error) Failure {
	switch {
	case err == nil:
		return FailureNone
	case rerrors.IsClosedPeriod(err):
		return FailureClosedPeriod
	case rerrors.IsNotFound(err):
		return FailureNotFound
	case rerrors.IsBudgetExceeded(err):
		return FailureBudget
	case rerrors.IsRevisionConflict(err):
		return FailureConflict
	default:
		return FailureOther
	}
}

// Mutator loads, edits and saves documents one request at a time
type Mutator struct {
	store  store.DocumentStore
	logger logger.Logger
}

// New creates a mutator over a document store
func New(s store.DocumentStore, l logger.Logger) *Mutator {
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	return &Mutator{store: s, logger: l.WithComponent("mutator")}
}

// UpdateLineField overwrites req.Field on every matching line and saves with
// sourcing disabled and mandatory-field validation relaxed. Writing the value
// a line already holds is a redundant save, not an error.
func (m *Mutator) UpdateLineField(ctx context.Context, req Request) (*Result, error) {
	log := m.logger.WithFields(logger.Fields{
		"document_type": req.DocType,
		"document_id":   req.DocumentID,
		"field":         req.Field,
	})

	if req.LineKey == "" && req.ItemID == "" {
		return nil, rerrors.ValidationError(rerrors.CodeMissingField, "line_key", "", nil).
			WithSuggestion("provide a line key or an item id to select lines")
	}

	doc, err := m.store.Load(ctx, req.DocType, req.DocumentID)
	if err != nil {
		return nil, err
	}

	matches := doc.MatchLines(req.LineKey, req.ItemID)
	if len(matches) == 0 {
		return nil, rerrors.LineNotFoundError(string(req.DocType), req.DocumentID, req.LineKey, req.ItemID)
	}

	for _, i := range matches {
		if err := doc.SetLineField(i, req.Field, req.Value); err != nil {
			return nil, rerrors.ValidationError(rerrors.CodeInvalidData, req.Field, req.Value, err)
		}
	}

	id, err := m.store.Save(ctx, doc, store.NarrowSaveOptions())
	if err != nil {
		log.WithError(err).Debug("Save rejected")
		return nil, err
	}

	log.WithField("lines_updated", len(matches)).Debug("Line field updated")
	return &Result{DocumentID: id, LinesUpdated: len(matches), Revision: doc.Revision}, nil
}
