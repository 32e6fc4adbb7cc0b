package mutator

import (
	"context"
	"testing"
	"time"

	"rate-reconciliation-service/internal/governance"
	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/internal/store"
	rerrors "rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

func seedReceipt(t *testing.T, s *store.MemoryStore, id string, closed bool) {
	t.Helper()
	doc := &models.Document{
		Type:   models.TypeItemReceipt,
		ID:     id,
		Number: "IR-" + id,
		Date:   time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Period: models.Period{ID: "P1", Name: "Jan 2025", Closed: closed},
		Lines: []models.Line{
			{LineKey: id + "-1", OrderLineKey: "PO1-1", ItemID: "WIDGET", Quantity: decimal.NewFromInt(2), Rate: decimal.NewFromInt(10), Amount: decimal.NewFromInt(20)},
			{LineKey: id + "-2", OrderLineKey: "PO1-2", ItemID: "BOLT", Quantity: decimal.NewFromInt(4), Rate: decimal.NewFromInt(1), Amount: decimal.NewFromInt(4)},
			{LineKey: id + "-3", OrderLineKey: "PO1-1", ItemID: "WIDGET", Quantity: decimal.NewFromInt(1), Rate: decimal.NewFromInt(10), Amount: decimal.NewFromInt(10)},
		},
	}
	if err := s.Put(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
}

func rateRequest(id string, rate int64) Request {
	return Request{
		DocType:    models.TypeItemReceipt,
		DocumentID: id,
		ItemID:     "WIDGET",
		Field:      models.FieldRate,
		Value:      decimal.NewFromInt(rate),
	}
}

func TestUpdateLineField_UpdatesAllMatchingLines(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedReceipt(t, s, "IR1", false)
	m := New(s, logger.Discard())

	result, err := m.UpdateLineField(ctx, rateRequest("IR1", 12))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.LinesUpdated != 2 {
		t.Errorf("expected both WIDGET lines updated, got %d", result.LinesUpdated)
	}

	doc, _ := s.Load(ctx, models.TypeItemReceipt, "IR1")
	for _, line := range doc.Lines {
		want := decimal.NewFromInt(12)
		if line.ItemID == "BOLT" {
			want = decimal.NewFromInt(1)
		}
		if !line.Rate.Equal(want) {
			t.Errorf("line %s rate = %s, want %s", line.LineKey, line.Rate, want)
		}
	}
}

func TestUpdateLineField_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedReceipt(t, s, "IR1", false)
	m := New(s, logger.Discard())

	if _, err := m.UpdateLineField(ctx, rateRequest("IR1", 12)); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	before, _ := s.Load(ctx, models.TypeItemReceipt, "IR1")

	if _, err := m.UpdateLineField(ctx, rateRequest("IR1", 12)); err != nil {
		t.Fatalf("repeat update failed: %v", err)
	}
	after, _ := s.Load(ctx, models.TypeItemReceipt, "IR1")

	for i := range before.Lines {
		if !before.Lines[i].Rate.Equal(after.Lines[i].Rate) || !before.Lines[i].Amount.Equal(after.Lines[i].Amount) {
			t.Errorf("line %d changed on repeat: %s -> %s", i, before.Lines[i].Rate, after.Lines[i].Rate)
		}
	}
	if s.SaveCount() != 2 {
		t.Errorf("expected the repeat to cost one redundant save, got %d saves", s.SaveCount())
	}
}

func TestUpdateLineField_ReviewedMarkerByLineKey(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedReceipt(t, s, "IR1", false)
	m := New(s, logger.Discard())

	_, err := m.UpdateLineField(ctx, Request{
		DocType: models.TypeItemReceipt, DocumentID: "IR1", LineKey: "IR1-2",
		Field: models.FieldRateVarianceReviewed, Value: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc, _ := s.Load(ctx, models.TypeItemReceipt, "IR1")
	if !doc.Lines[1].RateVarianceReviewed || doc.Lines[0].RateVarianceReviewed {
		t.Error("expected only line IR1-2 to be marked reviewed")
	}
}

func TestUpdateLineField_FailureClassification(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedReceipt(t, s, "OPEN", false)
	seedReceipt(t, s, "LOCKED", true)

	tests := []struct {
		name  string
		store store.DocumentStore
		req   Request
		want  Failure
	}{
		{"closed period", s, rateRequest("LOCKED", 12), FailureClosedPeriod},
		{"missing document", s, rateRequest("GONE", 12), FailureNotFound},
		{"item drift", s, Request{DocType: models.TypeItemReceipt, DocumentID: "OPEN", ItemID: "GADGET", Field: models.FieldRate, Value: decimal.NewFromInt(1)}, FailureNotFound},
		{"budget", governance.NewMeteredStore(s, governance.NewMeter(&governance.Config{Limit: 15, LoadCost: 10, SaveCost: 20})), rateRequest("OPEN", 12), FailureBudget},
		{"bad value type", s, Request{DocType: models.TypeItemReceipt, DocumentID: "OPEN", ItemID: "WIDGET", Field: models.FieldRate, Value: "12"}, FailureOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.store, logger.Discard()).UpdateLineField(ctx, tt.req)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := Classify(err); got != tt.want {
				t.Errorf("Classify() = %q, want %q (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestUpdateLineField_RequiresSelector(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := New(s, logger.Discard()).UpdateLineField(context.Background(), Request{
		DocType: models.TypeItemReceipt, DocumentID: "IR1", Field: models.FieldRate, Value: decimal.NewFromInt(1),
	})
	if !rerrors.HasCode(err, rerrors.CodeMissingField) {
		t.Errorf("expected missing field error, got %v", err)
	}
}
