package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// JoinedLine is the receipt or bill side of a raw join row
type JoinedLine struct {
	DocumentID     string          `json:"document_id"`
	DocumentNumber string          `json:"document_number"`
	LineKey        string          `json:"line_key"`
	Date           time.Time       `json:"date"`
	Quantity       decimal.Decimal `json:"quantity"`
	Rate           decimal.Decimal `json:"rate"`

	// PeriodClosed is only populated for item receipt lines.
	PeriodClosed bool `json:"period_closed,omitempty"`
}

// POLineInfo is the canonical purchase order line identity carried by a group
type POLineInfo struct {
	POID       string          `json:"po_id"`
	PONumber   string          `json:"po_number"`
	PODate     time.Time       `json:"po_date"`
	LineKey    string          `json:"po_line_key"`
	Rate       decimal.Decimal `json:"po_rate"`
	Quantity   decimal.Decimal `json:"po_quantity"`
	ItemID     string          `json:"item_id"`
	ItemName   string          `json:"item_name"`
	VendorID   string          `json:"vendor_id"`
	VendorName string          `json:"vendor_name"`
	LocationID string          `json:"location_id"`
}

// RawJoinRow is one (PO line, IR line-or-absent, VB line-or-absent) combination.
// Rows are produced fresh per query and never modified.
type RawJoinRow struct {
	PO      POLineInfo  `json:"po"`
	Receipt *JoinedLine `json:"receipt,omitempty"`
	Bill    *JoinedLine `json:"bill,omitempty"`
}

// Validate checks that the row identifies a PO line
func (r *RawJoinRow) Validate() error {
	if r.PO.LineKey == "" {
		return fmt.Errorf("raw join row has no PO line key")
	}
	if r.Receipt != nil && r.Receipt.LineKey == "" {
		return fmt.Errorf("PO line %s: receipt side has no line key", r.PO.LineKey)
	}
	if r.Bill != nil && r.Bill.LineKey == "" {
		return fmt.Errorf("PO line %s: bill side has no line key", r.PO.LineKey)
	}
	return nil
}

// PairKind distinguishes the two matching policies
type PairKind string

const (
	// PairReceiptBill pairs item receipt lines with vendor bill lines positionally.
	PairReceiptBill PairKind = "receipt_bill"
	// PairOrderBill anchors on the PO line and pairs it with its oldest bill.
	PairOrderBill PairKind = "order_bill"
)

// VariancePair is the unit of work offered to the operator. Pairs are
// recomputed on every query and never persisted.
type VariancePair struct {
	Kind PairKind   `json:"kind"`
	PO   POLineInfo `json:"po"`

	// Receipt is set for receipt/bill pairs only.
	Receipt *JoinedLine `json:"receipt,omitempty"`
	Bill    JoinedLine  `json:"bill"`

	EarlierRate     decimal.Decimal `json:"earlier_rate"`
	LaterRate       decimal.Decimal `json:"later_rate"`
	Variance        decimal.Decimal `json:"variance"`
	VariancePercent decimal.Decimal `json:"variance_percent"`

	// Bucket is the location threshold bucket for order/bill pairs.
	Bucket string `json:"bucket,omitempty"`
}

// Key identifies the pair within one query cycle
func (p *VariancePair) Key() string {
	if p.Receipt != nil {
		return fmt.Sprintf("%s:%s:%s", p.PO.LineKey, p.Receipt.LineKey, p.Bill.LineKey)
	}
	return fmt.Sprintf("%s:%s", p.PO.LineKey, p.Bill.LineKey)
}

// String returns a string representation of the pair
func (p *VariancePair) String() string {
	if p.Receipt != nil {
		return fmt.Sprintf("%s %s: IR %s @ %s vs VB %s @ %s (variance %s)",
			p.PO.PONumber, p.PO.ItemName, p.Receipt.DocumentNumber, p.EarlierRate.String(),
			p.Bill.DocumentNumber, p.LaterRate.String(), p.Variance.StringFixed(AmountPrecision))
	}
	return fmt.Sprintf("%s %s: PO @ %s vs VB %s @ %s (variance %s, %s%%)",
		p.PO.PONumber, p.PO.ItemName, p.EarlierRate.String(), p.Bill.DocumentNumber,
		p.LaterRate.String(), p.Variance.StringFixed(AmountPrecision), p.VariancePercent.StringFixed(2))
}
