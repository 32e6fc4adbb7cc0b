package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"rate-reconciliation-service/internal/models"
	rerrors "rate-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

type testStore interface {
	DocumentStore
	Seeder
}

func openStores(t *testing.T) map[string]testStore {
	t.Helper()
	sqlite, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]testStore{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func testBill(id string, closed bool) *models.Document {
	return &models.Document{
		Type:       models.TypeVendorBill,
		ID:         id,
		Number:     "VB-" + id,
		Date:       time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		LocationID: "3",
		Period:     models.Period{ID: "P2502", Name: "Feb 2025", Closed: closed},
		Lines: []models.Line{
			{LineKey: id + "-1", ItemID: "WIDGET", Quantity: decimal.NewFromInt(2), Rate: decimal.NewFromInt(105), Amount: decimal.NewFromInt(210), Department: "10"},
		},
	}
}

func TestStore_LoadSaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(ctx, testBill("VB1", false)); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			doc, err := s.Load(ctx, models.TypeVendorBill, "VB1")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if doc.Revision != 1 {
				t.Errorf("expected revision 1, got %d", doc.Revision)
			}

			doc.Lines[0].SetRate(decimal.NewFromInt(100))
			id, err := s.Save(ctx, doc, NarrowSaveOptions())
			if err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			if id != "VB1" {
				t.Errorf("expected id VB1, got %s", id)
			}
			if doc.Revision != 2 {
				t.Errorf("expected caller revision to advance to 2, got %d", doc.Revision)
			}

			reloaded, err := s.Load(ctx, models.TypeVendorBill, "VB1")
			if err != nil {
				t.Fatalf("reload failed: %v", err)
			}
			if !reloaded.Lines[0].Rate.Equal(decimal.NewFromInt(100)) {
				t.Errorf("expected persisted rate 100, got %s", reloaded.Lines[0].Rate)
			}
			if !reloaded.Total().Equal(decimal.NewFromInt(200)) {
				t.Errorf("expected total 200, got %s", reloaded.Total())
			}
		})
	}
}

func TestStore_LoadMissing(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(ctx, models.TypeItemReceipt, "nope")
			if !rerrors.IsNotFound(err) {
				t.Errorf("expected not found error, got %v", err)
			}
			_, err = s.Save(ctx, testBill("ghost", false), NarrowSaveOptions())
			if !rerrors.IsNotFound(err) {
				t.Errorf("expected not found on save, got %v", err)
			}
		})
	}
}

func TestStore_SaveRejections(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(ctx, testBill("OPEN", false)); err != nil {
				t.Fatal(err)
			}
			if err := s.Put(ctx, testBill("LOCKED", true)); err != nil {
				t.Fatal(err)
			}

			locked, _ := s.Load(ctx, models.TypeVendorBill, "LOCKED")
			if _, err := s.Save(ctx, locked, NarrowSaveOptions()); !rerrors.IsClosedPeriod(err) {
				t.Errorf("expected closed period error, got %v", err)
			}

			first, _ := s.Load(ctx, models.TypeVendorBill, "OPEN")
			second, _ := s.Load(ctx, models.TypeVendorBill, "OPEN")
			if _, err := s.Save(ctx, first, NarrowSaveOptions()); err != nil {
				t.Fatalf("first save failed: %v", err)
			}
			if _, err := s.Save(ctx, second, NarrowSaveOptions()); !rerrors.IsRevisionConflict(err) {
				t.Errorf("expected revision conflict on stale save, got %v", err)
			}

			fresh, _ := s.Load(ctx, models.TypeVendorBill, "OPEN")
			fresh.Lines[0].Department = ""
			if _, err := s.Save(ctx, fresh, SaveOptions{}); !rerrors.HasCode(err, rerrors.CodeMandatoryField) {
				t.Errorf("expected mandatory field error, got %v", err)
			}
			if _, err := s.Save(ctx, fresh, NarrowSaveOptions()); err != nil {
				t.Errorf("expected relaxed save to pass, got %v", err)
			}
		})
	}
}

func TestStore_SourcingFillsLineLocation(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(ctx, testBill("VB1", false)); err != nil {
				t.Fatal(err)
			}

			doc, _ := s.Load(ctx, models.TypeVendorBill, "VB1")
			if _, err := s.Save(ctx, doc, NarrowSaveOptions()); err != nil {
				t.Fatal(err)
			}
			narrow, _ := s.Load(ctx, models.TypeVendorBill, "VB1")
			if narrow.Lines[0].Location != "" {
				t.Errorf("expected narrow save to leave location empty, got %q", narrow.Lines[0].Location)
			}

			if _, err := s.Save(ctx, narrow, DefaultSaveOptions()); err != nil {
				t.Fatal(err)
			}
			sourced, _ := s.Load(ctx, models.TypeVendorBill, "VB1")
			if sourced.Lines[0].Location != "3" {
				t.Errorf("expected sourced location 3, got %q", sourced.Lines[0].Location)
			}
		})
	}
}

func TestStore_CreateAssignsIdentity(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			var numbers []string
			for i := 0; i < 2; i++ {
				je := &models.Document{
					Type: models.TypeJournalEntry,
					Date: time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC),
					JournalLines: []models.JournalLine{
						{Account: "2100", Debit: decimal.NewFromInt(5)},
						{Account: "5000", Credit: decimal.NewFromInt(5)},
					},
				}
				id, err := s.Create(ctx, je)
				if err != nil {
					t.Fatalf("Create failed: %v", err)
				}
				if len(id) != 36 {
					t.Errorf("expected uuid id, got %q", id)
				}
				numbers = append(numbers, je.Number)
			}
			if numbers[0] != "JE-000001" || numbers[1] != "JE-000002" {
				t.Errorf("unexpected numbers %v", numbers)
			}

			list, err := s.List(ctx, models.TypeJournalEntry)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(list) != 2 {
				t.Errorf("expected 2 journal entries, got %d", len(list))
			}

			closed := &models.Document{Type: models.TypeJournalEntry, Period: models.Period{Name: "Dec 2024", Closed: true}}
			if _, err := s.Create(ctx, closed); !rerrors.IsClosedPeriod(err) {
				t.Errorf("expected closed period on create, got %v", err)
			}
		})
	}
}

func TestStore_LoadReturnsPrivateCopy(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(ctx, testBill("VB1", false)); err != nil {
				t.Fatal(err)
			}
			doc, _ := s.Load(ctx, models.TypeVendorBill, "VB1")
			doc.Lines[0].SetRate(decimal.NewFromInt(1))

			again, _ := s.Load(ctx, models.TypeVendorBill, "VB1")
			if !again.Lines[0].Rate.Equal(decimal.NewFromInt(105)) {
				t.Errorf("expected unsaved edit to stay private, got %s", again.Lines[0].Rate)
			}
		})
	}
}

func TestSQLiteMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) || len(v1) == 0 {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

const fixtureYAML = `
documents:
  - type: purchaseorder
    id: PO1
    number: PO-1
    date: 2025-01-05
    vendor_id: V1
    location_id: "3"
    period: {id: P2501, name: Jan 2025}
    lines:
      - {line_key: PO1-1, item_id: WIDGET, item_name: Widget, quantity: 2, rate: 100, amount: 200}
  - type: itemreceipt
    id: IR1
    number: IR-1
    date: 2025-01-10
    created_from: PO1
    period: {id: P2501, name: Jan 2025, closed: true}
    lines:
      - {line_key: IR1-1, order_line_key: PO1-1, item_id: WIDGET, quantity: 2, rate: 100.5, amount: 201, department: "10"}
`

func TestDecodeFixturesAndSeed(t *testing.T) {
	fixtures, err := DecodeFixtures(strings.NewReader(fixtureYAML))
	if err != nil {
		t.Fatalf("DecodeFixtures failed: %v", err)
	}
	if len(fixtures.Documents) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(fixtures.Documents))
	}

	ir := fixtures.Documents[1]
	if !ir.Period.Closed {
		t.Error("expected receipt period closed")
	}
	if !ir.Lines[0].Rate.Equal(decimal.NewFromFloat(100.5)) {
		t.Errorf("expected rate 100.5, got %s", ir.Lines[0].Rate)
	}
	if ir.Date.Day() != 10 {
		t.Errorf("expected date to decode, got %v", ir.Date)
	}

	s := NewMemoryStore()
	n, err := Seed(context.Background(), s, fixtures)
	if err != nil || n != 2 {
		t.Fatalf("Seed() = %d, %v", n, err)
	}
	if _, err := s.Load(context.Background(), models.TypeItemReceipt, "IR1"); err != nil {
		t.Errorf("expected seeded receipt, got %v", err)
	}
}

func TestDecodeFixtures_Invalid(t *testing.T) {
	bad := "documents:\n  - type: invoice\n    id: X\n"
	if _, err := DecodeFixtures(strings.NewReader(bad)); err == nil {
		t.Error("expected unknown document type to fail")
	}
	if _, err := DecodeFixtures(strings.NewReader("documents: [")); err == nil {
		t.Error("expected malformed YAML to fail")
	}
}
