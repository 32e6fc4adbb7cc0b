package search

import (
	"context"
	"testing"
	"time"

	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/internal/store"
	"rate-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

func date(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

func line(key, orderLine, item string, rate int64) models.Line {
	return models.Line{
		LineKey: key, OrderLineKey: orderLine, ItemID: item, ItemName: item,
		Quantity: decimal.NewFromInt(1), Rate: decimal.NewFromInt(rate), Amount: decimal.NewFromInt(rate), Department: "10",
	}
}

func seed(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	docs := []*models.Document{
		{Type: models.TypePurchaseOrder, ID: "PO1", Number: "PO-1", Date: date(1, 2), LocationID: "4", VendorID: "V1",
			Lines: []models.Line{line("PO1-1", "", "WIDGET", 100), line("PO1-2", "", "BOLT", 2)}},
		{Type: models.TypePurchaseOrder, ID: "PO2", Number: "PO-2", Date: date(1, 3), LocationID: "7",
			Lines: []models.Line{line("PO2-1", "", "GEAR", 50)}},
		{Type: models.TypeItemReceipt, ID: "IR1", Number: "IR-1", Date: date(1, 5), CreatedFrom: "PO1",
			Period: models.Period{Name: "Jan", Closed: true},
			Lines:  []models.Line{line("IR1-1", "PO1-1", "WIDGET", 100)}},
		{Type: models.TypeItemReceipt, ID: "IR2", Number: "IR-2", Date: date(1, 8), CreatedFrom: "PO1",
			Lines: []models.Line{line("IR2-1", "PO1-1", "WIDGET", 100)}},
		{Type: models.TypeVendorBill, ID: "VB1", Number: "VB-1", Date: date(1, 9), CreatedFrom: "PO1",
			Lines: []models.Line{line("VB1-1", "PO1-1", "WIDGET", 104), line("VB1-2", "PO1-2", "BOLT", 3)}},
		{Type: models.TypeVendorBill, ID: "VB0", Number: "VB-0", Date: time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC), CreatedFrom: "PO2",
			Lines: []models.Line{line("VB0-1", "PO2-1", "GEAR", 60)}},
	}
	for _, d := range docs {
		if err := s.Put(context.Background(), d); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestSearchReceiptBillRows(t *testing.T) {
	adapter := NewAdapter(seed(t), nil, logger.Discard())

	rows, err := adapter.SearchReceiptBillRows(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	// PO1-1: 2 receipts x 1 bill, PO1-2: no receipt x 1 bill, PO2-1: no receipt x 1 bill
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	if rows[0].PO.LineKey != "PO1-1" || rows[0].Receipt.DocumentID != "IR1" || !rows[0].Receipt.PeriodClosed {
		t.Errorf("unexpected first row %+v", rows[0])
	}
	if rows[1].Receipt.DocumentID != "IR2" || rows[1].Receipt.PeriodClosed {
		t.Errorf("unexpected second row %+v", rows[1])
	}
	if rows[2].Receipt != nil || rows[2].Bill.DocumentID != "VB1" || rows[2].Bill.LineKey != "VB1-2" {
		t.Errorf("expected a bill-only row for PO1-2, got %+v", rows[2])
	}
	if rows[0].PO.LocationID != "4" {
		t.Errorf("expected header location on PO line, got %q", rows[0].PO.LocationID)
	}
}

func TestSearchReceiptBillRows_LocationFilter(t *testing.T) {
	adapter := NewAdapter(seed(t), nil, logger.Discard())

	rows, err := adapter.SearchReceiptBillRows(context.Background(), Filter{LocationID: "7"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].PO.POID != "PO2" {
		t.Errorf("expected only PO2 rows, got %+v", rows)
	}
}

func TestSearchOrderBillRows(t *testing.T) {
	ctx := context.Background()
	s := seed(t)
	adapter := NewAdapter(s, DefaultConfig(), logger.Discard())

	rows, err := adapter.SearchOrderBillRows(ctx, Filter{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Receipt != nil {
			t.Errorf("expected no receipt side, got %+v", row.Receipt)
		}
	}
	if rows[2].PO.LineKey != "PO2-1" || rows[2].Bill != nil {
		t.Errorf("expected bill before the posting floor to be dropped, got %+v", rows[2])
	}

	po, _ := s.Load(ctx, models.TypePurchaseOrder, "PO1")
	po.Lines[0].RateVarianceReviewed = true
	if _, err := s.Save(ctx, po, store.NarrowSaveOptions()); err != nil {
		t.Fatal(err)
	}

	rows, err = adapter.SearchOrderBillRows(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].PO.LineKey != "PO1-2" {
		t.Errorf("expected reviewed line excluded, got %d rows", len(rows))
	}
}
