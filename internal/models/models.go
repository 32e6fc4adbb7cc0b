package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentType names a record type owned by the external document store
type DocumentType string

const (
	TypePurchaseOrder DocumentType = "purchaseorder"
	TypeItemReceipt   DocumentType = "itemreceipt"
	TypeVendorBill    DocumentType = "vendorbill"
	TypeJournalEntry  DocumentType = "journalentry"
)

// String returns the string representation of DocumentType
func (t DocumentType) String() string {
	return string(t)
}

// IsValid checks if the document type is known
func (t DocumentType) IsValid() bool {
	switch t {
	case TypePurchaseOrder, TypeItemReceipt, TypeVendorBill, TypeJournalEntry:
		return true
	default:
		return false
	}
}

// Line fields the Record Mutator may overwrite.
const (
	FieldRate                 = "rate"
	FieldRateVarianceReviewed = "rate_variance_reviewed"
)

// AmountPrecision is the currency scale used for line amounts and totals.
const AmountPrecision = 2

// Period is the accounting period a transaction posts into
type Period struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Closed bool   `json:"closed" yaml:"closed"`
}

// Line is one entry of a document's item sublist
type Line struct {
	LineKey      string          `json:"line_key" yaml:"line_key"`
	OrderLineKey string          `json:"order_line_key,omitempty" yaml:"order_line_key"`
	ItemID       string          `json:"item_id" yaml:"item_id"`
	ItemName     string          `json:"item_name" yaml:"item_name"`
	Quantity     decimal.Decimal `json:"quantity" yaml:"quantity"`
	Rate         decimal.Decimal `json:"rate" yaml:"rate"`
	Amount       decimal.Decimal `json:"amount" yaml:"amount"`
	Department   string          `json:"department,omitempty" yaml:"department"`
	Location     string          `json:"location,omitempty" yaml:"location"`

	// RateVarianceReviewed is the review-completion marker on PO lines.
	RateVarianceReviewed bool `json:"rate_variance_reviewed,omitempty" yaml:"rate_variance_reviewed"`
}

// SetRate overwrites the rate and recomputes the extended amount
func (l *Line) SetRate(rate decimal.Decimal) {
	l.Rate = rate
	l.Amount = l.Quantity.Mul(rate).Round(AmountPrecision)
}

// ExpenseLine is one entry of a vendor bill's expense sublist
type ExpenseLine struct {
	Account    string          `json:"account" yaml:"account"`
	Amount     decimal.Decimal `json:"amount" yaml:"amount"`
	Memo       string          `json:"memo,omitempty" yaml:"memo"`
	Department string          `json:"department,omitempty" yaml:"department"`
}

// JournalLine is one debit or credit line of a journal entry
type JournalLine struct {
	Account    string          `json:"account" yaml:"account"`
	Debit      decimal.Decimal `json:"debit" yaml:"debit"`
	Credit     decimal.Decimal `json:"credit" yaml:"credit"`
	Department string          `json:"department,omitempty" yaml:"department"`
	Memo       string          `json:"memo,omitempty" yaml:"memo"`
}

// Document is an externally owned financial record: a purchase order,
// item receipt, vendor bill or journal entry.
type Document struct {
	Type        DocumentType `json:"type" yaml:"type"`
	ID          string       `json:"id" yaml:"id"`
	Number      string       `json:"number" yaml:"number"`
	Date        time.Time    `json:"date" yaml:"date"`
	VendorID    string       `json:"vendor_id,omitempty" yaml:"vendor_id"`
	VendorName  string       `json:"vendor_name,omitempty" yaml:"vendor_name"`
	LocationID  string       `json:"location_id,omitempty" yaml:"location_id"`
	CreatedFrom string       `json:"created_from,omitempty" yaml:"created_from"`
	Memo        string       `json:"memo,omitempty" yaml:"memo"`
	Period      Period       `json:"period" yaml:"period"`

	Lines        []Line        `json:"lines,omitempty" yaml:"lines"`
	Expenses     []ExpenseLine `json:"expenses,omitempty" yaml:"expenses"`
	JournalLines []JournalLine `json:"journal_lines,omitempty" yaml:"journal_lines"`

	// Revision is maintained by the store and compared on save.
	Revision int `json:"revision" yaml:"-"`
}

// Validate performs basic validation on the Document
func (d *Document) Validate() error {
	if !d.Type.IsValid() {
		return fmt.Errorf("invalid document type: %s", d.Type)
	}
	if strings.TrimSpace(d.ID) == "" && d.Type != TypeJournalEntry {
		return fmt.Errorf("%s id cannot be empty", d.Type)
	}
	seen := make(map[string]bool, len(d.Lines))
	for i, line := range d.Lines {
		if strings.TrimSpace(line.LineKey) == "" {
			return fmt.Errorf("%s %s line %d has no line key", d.Type, d.ID, i+1)
		}
		if seen[line.LineKey] {
			return fmt.Errorf("%s %s has duplicate line key %s", d.Type, d.ID, line.LineKey)
		}
		seen[line.LineKey] = true
	}
	return nil
}

// Total returns the document total: item line amounts plus expense amounts
func (d *Document) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range d.Lines {
		total = total.Add(line.Amount)
	}
	for _, exp := range d.Expenses {
		total = total.Add(exp.Amount)
	}
	return total
}

// Clone returns a deep copy so stores never share line slices with callers
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Lines = append([]Line(nil), d.Lines...)
	c.Expenses = append([]ExpenseLine(nil), d.Expenses...)
	c.JournalLines = append([]JournalLine(nil), d.JournalLines...)
	return &c
}

// MatchLines returns the indexes of lines matching lineKey and/or itemID.
// An empty criterion matches anything; both empty matches nothing.
func (d *Document) MatchLines(lineKey, itemID string) []int {
	if lineKey == "" && itemID == "" {
		return nil
	}
	var idx []int
	for i, line := range d.Lines {
		if lineKey != "" && line.LineKey != lineKey {
			continue
		}
		if itemID != "" && line.ItemID != itemID {
			continue
		}
		idx = append(idx, i)
	}
	return idx
}

// SetLineField overwrites one field of line i. value must be a
// decimal.Decimal for rate and a bool for the reviewed marker.
func (d *Document) SetLineField(i int, field string, value interface{}) error {
	if i < 0 || i >= len(d.Lines) {
		return fmt.Errorf("line index %d out of range", i)
	}
	line := &d.Lines[i]

	switch field {
	case FieldRate:
		rate, ok := value.(decimal.Decimal)
		if !ok {
			return fmt.Errorf("field %s expects a decimal value, got %T", field, value)
		}
		line.SetRate(rate)
	case FieldRateVarianceReviewed:
		reviewed, ok := value.(bool)
		if !ok {
			return fmt.Errorf("field %s expects a bool value, got %T", field, value)
		}
		line.RateVarianceReviewed = reviewed
	default:
		return fmt.Errorf("unsupported line field: %s", field)
	}
	return nil
}

// String returns a string representation of the Document
func (d *Document) String() string {
	return fmt.Sprintf("%s{ID: %s, Number: %s, Lines: %d, Total: %s}",
		d.Type, d.ID, d.Number, len(d.Lines), d.Total().StringFixed(AmountPrecision))
}
