// Package search produces raw join rows across purchase orders, item receipts
// and vendor bills, the way the host's saved search joins them.
package search

import (
	"context"
	"fmt"
	"time"

	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/internal/store"
	"rate-reconciliation-service/pkg/logger"
)

// Filter narrows a search
type Filter struct {
	// LocationID keeps only PO lines at this location when set.
	LocationID string
}

// Config holds the fixed search criteria
type Config struct {
	// PostingDateFloor excludes bills dated before it from the order/bill search.
	PostingDateFloor time.Time `json:"posting_date_floor"`
}

// DefaultConfig returns the standard search criteria
func DefaultConfig() *Config {
	return &Config{PostingDateFloor: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Adapter runs joined searches against a document store
type Adapter struct {
	store  store.DocumentStore
	config *Config
	logger logger.Logger
}

// NewAdapter creates a search adapter
func NewAdapter(s store.DocumentStore, config *Config, l logger.Logger) *Adapter {
	if config == nil {
		config = DefaultConfig()
	}
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	return &Adapter{store: s, config: config, logger: l.WithComponent("search")}
}

type linkKey struct {
	poID    string
	lineKey string
}

type linkIndex map[linkKey][]*models.JoinedLine

func (a *Adapter) index(ctx context.Context, docType models.DocumentType, keep func(*models.Document) bool) (linkIndex, error) {
	docs, err := a.store.List(ctx, docType)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", docType, err)
	}

	idx := make(linkIndex)
	for _, doc := range docs {
		if doc.CreatedFrom == "" || (keep != nil && !keep(doc)) {
			continue
		}
		for _, line := range doc.Lines {
			if line.OrderLineKey == "" {
				continue
			}
			key := linkKey{doc.CreatedFrom, line.OrderLineKey}
			idx[key] = append(idx[key], &models.JoinedLine{
				DocumentID:     doc.ID,
				DocumentNumber: doc.Number,
				LineKey:        line.LineKey,
				Date:           doc.Date,
				Quantity:       line.Quantity,
				Rate:           line.Rate,
				PeriodClosed:   docType == models.TypeItemReceipt && doc.Period.Closed,
			})
		}
	}
	return idx, nil
}

func (a *Adapter) poLines(ctx context.Context, filter Filter, keep func(models.Line) bool) ([]models.POLineInfo, error) {
	orders, err := a.store.List(ctx, models.TypePurchaseOrder)
	if err != nil {
		return nil, fmt.Errorf("listing purchase orders: %w", err)
	}

	var infos []models.POLineInfo
	for _, po := range orders {
		for _, line := range po.Lines {
			location := line.Location
			if location == "" {
				location = po.LocationID
			}
			if filter.LocationID != "" && location != filter.LocationID {
				continue
			}
			if keep != nil && !keep(line) {
				continue
			}
			infos = append(infos, models.POLineInfo{
				POID:       po.ID,
				PONumber:   po.Number,
				PODate:     po.Date,
				LineKey:    line.LineKey,
				Rate:       line.Rate,
				Quantity:   line.Quantity,
				ItemID:     line.ItemID,
				ItemName:   line.ItemName,
				VendorID:   po.VendorID,
				VendorName: po.VendorName,
				LocationID: location,
			})
		}
	}
	return infos, nil
}

// SearchReceiptBillRows returns one row per (PO line, receipt line or none,
// bill line or none), the Cartesian expansion a relational join produces.
func (a *Adapter) SearchReceiptBillRows(ctx context.Context, filter Filter) ([]models.RawJoinRow, error) {
	lines, err := a.poLines(ctx, filter, nil)
	if err != nil {
		return nil, err
	}
	receipts, err := a.index(ctx, models.TypeItemReceipt, nil)
	if err != nil {
		return nil, err
	}
	bills, err := a.index(ctx, models.TypeVendorBill, nil)
	if err != nil {
		return nil, err
	}

	var rows []models.RawJoinRow
	for _, info := range lines {
		key := linkKey{info.POID, info.LineKey}
		rows = append(rows, expand(info, receipts[key], bills[key])...)
	}

	a.logger.WithFields(logger.Fields{"po_lines": len(lines), "rows": len(rows), "location": filter.LocationID}).
		Debug("Receipt/bill search completed")
	return rows, nil
}

// SearchOrderBillRows returns (PO line, bill line or none) rows for PO lines
// not yet reviewed and bills dated on or after the posting date floor.
func (a *Adapter) SearchOrderBillRows(ctx context.Context, filter Filter) ([]models.RawJoinRow, error) {
	lines, err := a.poLines(ctx, filter, func(l models.Line) bool { return !l.RateVarianceReviewed })
	if err != nil {
		return nil, err
	}
	floor := a.config.PostingDateFloor
	bills, err := a.index(ctx, models.TypeVendorBill, func(d *models.Document) bool { return !d.Date.Before(floor) })
	if err != nil {
		return nil, err
	}

	var rows []models.RawJoinRow
	for _, info := range lines {
		rows = append(rows, expand(info, nil, bills[linkKey{info.POID, info.LineKey}])...)
	}

	a.logger.WithFields(logger.Fields{"po_lines": len(lines), "rows": len(rows), "location": filter.LocationID}).
		Debug("Order/bill search completed")
	return rows, nil
}

func expand(info models.POLineInfo, receipts, bills []*models.JoinedLine) []models.RawJoinRow {
	if len(receipts) == 0 {
		receipts = []*models.JoinedLine{nil}
	}
	if len(bills) == 0 {
		bills = []*models.JoinedLine{nil}
	}
	rows := make([]models.RawJoinRow, 0, len(receipts)*len(bills))
	for _, r := range receipts {
		for _, b := range bills {
			rows = append(rows, models.RawJoinRow{PO: info, Receipt: copyLine(r), Bill: copyLine(b)})
		}
	}
	return rows
}

func copyLine(l *models.JoinedLine) *models.JoinedLine {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}
