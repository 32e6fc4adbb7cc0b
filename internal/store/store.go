// Package store defines the document store contract the reconciliation core
// loads from and saves to, with in-memory and SQLite implementations.
package store

import (
	"context"
	"fmt"
	"strings"

	"rate-reconciliation-service/internal/models"
	rerrors "rate-reconciliation-service/pkg/errors"
)

// SaveOptions controls the side behavior of a save
type SaveOptions struct {
	// EnableSourcing lets the store re-derive dependent line fields from the
	// document header before persisting.
	EnableSourcing bool

	// IgnoreMandatoryFields skips mandatory field validation on item lines.
	IgnoreMandatoryFields bool
}

// DefaultSaveOptions mirrors an interactive save: sourcing on, validation on
func DefaultSaveOptions() SaveOptions {
	return SaveOptions{EnableSourcing: true}
}

// NarrowSaveOptions is used for single-field overwrites of already valid documents
func NarrowSaveOptions() SaveOptions {
	return SaveOptions{EnableSourcing: false, IgnoreMandatoryFields: true}
}

// DocumentStore is the external owner of purchasing documents
type DocumentStore interface {
	// Load returns a private copy of the document, or a not-found error.
	Load(ctx context.Context, docType models.DocumentType, id string) (*models.Document, error)

	// Save persists an existing document and returns its id. A save fails
	// when the stored period is closed or the stored revision moved on
	// since the document was loaded.
	Save(ctx context.Context, doc *models.Document, opts SaveOptions) (string, error)

	// Create persists a new document, assigning an id and display number
	// when they are empty.
	Create(ctx context.Context, doc *models.Document) (string, error)

	// List returns every document of a type ordered by id.
	List(ctx context.Context, docType models.DocumentType) ([]*models.Document, error)
}

// Seeder writes documents without save-time checks; used by fixtures and tests
type Seeder interface {
	Put(ctx context.Context, doc *models.Document) error
}

var numberPrefixes = map[models.DocumentType]string{
	models.TypePurchaseOrder: "PO",
	models.TypeItemReceipt:   "IR",
	models.TypeVendorBill:    "VB",
	models.TypeJournalEntry:  "JE",
}

// FormatNumber builds the display number for the n-th document of a type
func FormatNumber(docType models.DocumentType, n int) string {
	prefix, ok := numberPrefixes[docType]
	if !ok {
		prefix = strings.ToUpper(string(docType))
	}
	return fmt.Sprintf("%s-%06d", prefix, n)
}

// prepareSave applies the save-time checks shared by every implementation and
// returns the copy to persist with its revision advanced.
func prepareSave(stored, doc *models.Document, opts SaveOptions) (*models.Document, error) {
	docType := string(doc.Type)

	if stored.Period.Closed {
		return nil, rerrors.ClosedPeriodError(docType, doc.ID, stored.Period.Name)
	}
	if doc.Revision != stored.Revision {
		return nil, rerrors.RevisionConflictError(docType, doc.ID, doc.Revision, stored.Revision)
	}

	next := doc.Clone()
	if opts.EnableSourcing {
		source(next)
	}
	if !opts.IgnoreMandatoryFields {
		if err := checkMandatory(next); err != nil {
			return nil, err
		}
	}
	if err := next.Validate(); err != nil {
		return nil, rerrors.ValidationError(rerrors.CodeInvalidData, "document", doc.ID, err)
	}

	next.Revision = stored.Revision + 1
	return next, nil
}

// prepareCreate validates a new document and fills its revision
func prepareCreate(doc *models.Document) error {
	if doc.Period.Closed {
		return rerrors.ClosedPeriodError(string(doc.Type), doc.ID, doc.Period.Name)
	}
	if err := checkMandatory(doc); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return rerrors.ValidationError(rerrors.CodeInvalidData, "document", doc.ID, err)
	}
	doc.Revision = 1
	return nil
}

// source fills line fields the host would derive from the document header
func source(doc *models.Document) {
	for i := range doc.Lines {
		line := &doc.Lines[i]
		if line.Location == "" {
			line.Location = doc.LocationID
		}
		line.Amount = line.Quantity.Mul(line.Rate).Round(models.AmountPrecision)
	}
}

func checkMandatory(doc *models.Document) error {
	if doc.Type == models.TypeJournalEntry || doc.Type == models.TypePurchaseOrder {
		return nil
	}
	for i, line := range doc.Lines {
		if strings.TrimSpace(line.Department) == "" {
			return rerrors.MandatoryFieldError(string(doc.Type), doc.ID, "department", i+1)
		}
	}
	return nil
}
