package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func createTestReceipt() *Document {
	return &Document{
		Type:   TypeItemReceipt,
		ID:     "IR100",
		Number: "IR-100",
		Date:   time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Period: Period{ID: "P2501", Name: "Jan 2025"},
		Lines: []Line{
			{LineKey: "IR100-1", ItemID: "WIDGET", Quantity: decimal.NewFromInt(2), Rate: decimal.NewFromInt(10), Amount: decimal.NewFromInt(20), Department: "10"},
			{LineKey: "IR100-2", ItemID: "BOLT", Quantity: decimal.NewFromInt(5), Rate: decimal.NewFromFloat(1.5), Amount: decimal.NewFromFloat(7.5), Department: "10"},
			{LineKey: "IR100-3", ItemID: "WIDGET", Quantity: decimal.NewFromInt(1), Rate: decimal.NewFromInt(10), Amount: decimal.NewFromInt(10), Department: "10"},
		},
	}
}

func TestDocumentType_IsValid(t *testing.T) {
	tests := []struct {
		docType DocumentType
		valid   bool
	}{
		{TypePurchaseOrder, true},
		{TypeItemReceipt, true},
		{TypeVendorBill, true},
		{TypeJournalEntry, true},
		{DocumentType("salesorder"), false},
		{DocumentType(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.docType), func(t *testing.T) {
			if got := tt.docType.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestDocument_Validate(t *testing.T) {
	doc := createTestReceipt()
	if err := doc.Validate(); err != nil {
		t.Fatalf("expected valid document, got %v", err)
	}

	dup := createTestReceipt()
	dup.Lines[2].LineKey = "IR100-1"
	if err := dup.Validate(); err == nil {
		t.Error("expected duplicate line key to fail validation")
	}

	noKey := createTestReceipt()
	noKey.Lines[0].LineKey = ""
	if err := noKey.Validate(); err == nil {
		t.Error("expected missing line key to fail validation")
	}

	noID := createTestReceipt()
	noID.ID = ""
	if err := noID.Validate(); err == nil {
		t.Error("expected missing id to fail validation")
	}
}

func TestDocument_Total(t *testing.T) {
	doc := createTestReceipt()
	doc.Expenses = append(doc.Expenses, ExpenseLine{Account: "5890", Amount: decimal.NewFromFloat(-2.5)})

	if !doc.Total().Equal(decimal.NewFromInt(35)) {
		t.Errorf("expected total 35, got %s", doc.Total())
	}
}

func TestDocument_MatchLines(t *testing.T) {
	doc := createTestReceipt()

	tests := []struct {
		name    string
		lineKey string
		itemID  string
		want    []int
	}{
		{"all lines of an item", "", "WIDGET", []int{0, 2}},
		{"by line key", "IR100-2", "", []int{1}},
		{"key and item agree", "IR100-3", "WIDGET", []int{2}},
		{"key and item disagree", "IR100-2", "WIDGET", nil},
		{"unknown item", "", "GADGET", nil},
		{"no criteria", "", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := doc.MatchLines(tt.lineKey, tt.itemID)
			if len(got) != len(tt.want) {
				t.Fatalf("MatchLines() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("MatchLines()[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDocument_SetLineField(t *testing.T) {
	doc := createTestReceipt()

	if err := doc.SetLineField(0, FieldRate, decimal.NewFromInt(12)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !doc.Lines[0].Amount.Equal(decimal.NewFromInt(24)) {
		t.Errorf("expected amount to follow the rate, got %s", doc.Lines[0].Amount)
	}

	if err := doc.SetLineField(1, FieldRateVarianceReviewed, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !doc.Lines[1].RateVarianceReviewed {
		t.Error("expected reviewed marker to be set")
	}

	if err := doc.SetLineField(0, FieldRate, "12"); err == nil {
		t.Error("expected type mismatch to fail")
	}
	if err := doc.SetLineField(0, "memo", "x"); err == nil {
		t.Error("expected unsupported field to fail")
	}
	if err := doc.SetLineField(9, FieldRate, decimal.NewFromInt(1)); err == nil {
		t.Error("expected out of range index to fail")
	}
}

func TestDocument_CloneIsDeep(t *testing.T) {
	doc := createTestReceipt()
	clone := doc.Clone()

	clone.Lines[0].SetRate(decimal.NewFromInt(99))
	if doc.Lines[0].Rate.Equal(decimal.NewFromInt(99)) {
		t.Error("expected clone to own its lines")
	}

	var nilDoc *Document
	if nilDoc.Clone() != nil {
		t.Error("expected nil clone of nil document")
	}
}

func TestDocument_JSONPreservesDecimals(t *testing.T) {
	doc := createTestReceipt()

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded Document
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !decoded.Lines[1].Rate.Equal(decimal.NewFromFloat(1.5)) {
		t.Errorf("expected rate 1.5, got %s", decoded.Lines[1].Rate)
	}
	if !decoded.Total().Equal(doc.Total()) {
		t.Errorf("expected total %s, got %s", doc.Total(), decoded.Total())
	}
}

func TestRawJoinRow_Validate(t *testing.T) {
	row := RawJoinRow{PO: POLineInfo{LineKey: "L1"}, Receipt: &JoinedLine{LineKey: "IR1-1"}}
	if err := row.Validate(); err != nil {
		t.Errorf("expected valid row, got %v", err)
	}

	if err := (&RawJoinRow{}).Validate(); err == nil {
		t.Error("expected missing PO line key to fail")
	}

	bad := RawJoinRow{PO: POLineInfo{LineKey: "L1"}, Bill: &JoinedLine{}}
	if err := bad.Validate(); err == nil {
		t.Error("expected bill side without line key to fail")
	}
}

func TestVariancePair_Key(t *testing.T) {
	receiptPair := VariancePair{
		Kind:    PairReceiptBill,
		PO:      POLineInfo{LineKey: "L1"},
		Receipt: &JoinedLine{LineKey: "IR1-1"},
		Bill:    JoinedLine{LineKey: "VB1-1"},
	}
	if receiptPair.Key() != "L1:IR1-1:VB1-1" {
		t.Errorf("unexpected key %s", receiptPair.Key())
	}

	orderPair := VariancePair{Kind: PairOrderBill, PO: POLineInfo{LineKey: "L1"}, Bill: JoinedLine{LineKey: "VB1-1"}}
	if orderPair.Key() != "L1:VB1-1" {
		t.Errorf("unexpected key %s", orderPair.Key())
	}
}
