package reconciler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"rate-reconciliation-service/internal/matcher"
	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/internal/search"
	"rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

type fakeSource struct {
	receiptBill []models.RawJoinRow
	orderBill   []models.RawJoinRow
	err         error
	filters     []search.Filter
}

func (f *fakeSource) SearchReceiptBillRows(ctx context.Context, filter search.Filter) ([]models.RawJoinRow, error) {
	f.filters = append(f.filters, filter)
	return f.receiptBill, f.err
}

func (f *fakeSource) SearchOrderBillRows(ctx context.Context, filter search.Filter) ([]models.RawJoinRow, error) {
	f.filters = append(f.filters, filter)
	return f.orderBill, f.err
}

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func side(id string, d int, rate string) *models.JoinedLine {
	return &models.JoinedLine{
		DocumentID:     id,
		DocumentNumber: id,
		LineKey:        id + "-1",
		Date:           day(d),
		Quantity:       decimal.NewFromInt(1),
		Rate:           decimal.RequireFromString(rate),
	}
}

func poInfo(key, rate, location string) models.POLineInfo {
	return models.POLineInfo{
		POID:       "PO-" + key,
		PONumber:   "PO-" + key,
		LineKey:    key,
		Rate:       decimal.RequireFromString(rate),
		ItemID:     "ITEM-" + key,
		ItemName:   "Item " + key,
		LocationID: location,
	}
}

func newService(t *testing.T, source RowSource) *VarianceService {
	t.Helper()
	service, err := NewVarianceService(source, nil, logger.Discard())
	if err != nil {
		t.Fatalf("NewVarianceService failed: %v", err)
	}
	return service
}

func TestVariances_ReceiptBillEndToEnd(t *testing.T) {
	source := &fakeSource{receiptBill: []models.RawJoinRow{
		{PO: poInfo("L1", "10", ""), Receipt: side("IR1", 1, "10"), Bill: side("VB1", 2, "12")},
	}}
	service := newService(t, source)

	result, err := service.Variances(context.Background(), VarianceRequest{
		Kind:   models.PairReceiptBill,
		Filter: search.Filter{LocationID: "4"},
	})
	if err != nil {
		t.Fatalf("Variances failed: %v", err)
	}

	if result.Stats.Groups != 1 || len(result.Pairs) != 1 {
		t.Fatalf("Expected one group and one pair, got %+v", result.Stats)
	}
	if !result.Pairs[0].Variance.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Expected variance 2.00, got %s", result.Pairs[0].Variance)
	}
	if len(source.filters) != 1 || source.filters[0].LocationID != "4" {
		t.Errorf("Expected the location filter to reach the source, got %+v", source.filters)
	}
}

func TestVariances_OrderBillThresholdOverrides(t *testing.T) {
	source := &fakeSource{orderBill: []models.RawJoinRow{
		{PO: poInfo("L1", "100", "9"), Bill: side("VB1", 2, "101")},
		{PO: poInfo("L2", "100", "9"), Bill: side("VB2", 2, "103")},
	}}
	service := newService(t, source)

	tests := []struct {
		name      string
		overrides *ThresholdOverrides
		wantLines []string
	}{
		{"configured 2%", nil, []string{"L2"}},
		{"lowered appliances threshold", &ThresholdOverrides{Appliances: decPtr("0.5")}, []string{"L1", "L2"}},
		{"raised appliances threshold", &ThresholdOverrides{Appliances: decPtr("5")}, nil},
		{"service override does not apply to appliances", &ThresholdOverrides{Service: decPtr("0")}, []string{"L2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := service.Variances(context.Background(), VarianceRequest{Kind: models.PairOrderBill, Overrides: tt.overrides})
			if err != nil {
				t.Fatalf("Variances failed: %v", err)
			}
			var got []string
			for _, p := range result.Pairs {
				got = append(got, p.PO.LineKey)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.wantLines) {
				t.Errorf("Expected lines %v, got %v", tt.wantLines, got)
			}
		})
	}

	if !service.Thresholds().AppliancesPercent.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Overrides must not change the configured thresholds, got %s", service.Thresholds().AppliancesPercent)
	}
}

func TestPairRows_DropsMalformedRowsAndCountsDuplicates(t *testing.T) {
	service := newService(t, nil)
	rows := []models.RawJoinRow{
		{PO: poInfo("L1", "10", ""), Receipt: side("IR1", 1, "10"), Bill: side("VB1", 3, "11")},
		{PO: poInfo("L1", "10", ""), Receipt: side("IR1", 1, "10"), Bill: side("VB2", 4, "12")},
		{PO: poInfo("L1", "10", ""), Receipt: side("IR2", 2, "10"), Bill: side("VB1", 3, "11")},
		{PO: poInfo("L1", "10", ""), Receipt: side("IR2", 2, "10"), Bill: side("VB2", 4, "12")},
		{PO: poInfo("L2", "10", ""), Receipt: &models.JoinedLine{DocumentID: "IR9"}},
	}

	result, err := service.PairRows(models.PairReceiptBill, rows, nil)
	if err != nil {
		t.Fatalf("PairRows failed: %v", err)
	}
	if result.RowsRejected != 1 {
		t.Errorf("Expected 1 rejected row, got %d", result.RowsRejected)
	}
	if result.RowsSeen != 4 || result.DuplicatesSkipped != 4 {
		t.Errorf("Expected 4 rows seen and 4 duplicates, got %d and %d", result.RowsSeen, result.DuplicatesSkipped)
	}
	if len(result.Pairs) != 2 {
		t.Fatalf("Expected 2 positional pairs, got %d", len(result.Pairs))
	}
	if result.Pairs[0].Receipt.DocumentID != "IR1" || result.Pairs[0].Bill.DocumentID != "VB1" ||
		result.Pairs[1].Receipt.DocumentID != "IR2" || result.Pairs[1].Bill.DocumentID != "VB2" {
		t.Errorf("Expected oldest-to-oldest pairing, got %s / %s", result.Pairs[0].String(), result.Pairs[1].String())
	}
}

func TestPairRows_EmptyInput(t *testing.T) {
	result, err := newService(t, nil).PairRows(models.PairOrderBill, nil, nil)
	if err != nil {
		t.Fatalf("PairRows failed: %v", err)
	}
	if result.Pairs == nil || len(result.Pairs) != 0 {
		t.Errorf("Expected an empty, non-nil pair list, got %#v", result.Pairs)
	}
}

func TestVariances_Errors(t *testing.T) {
	t.Run("unknown kind", func(t *testing.T) {
		_, err := newService(t, &fakeSource{}).Variances(context.Background(), VarianceRequest{Kind: "other"})
		if !errors.HasCode(err, errors.CodeInvalidData) {
			t.Errorf("Expected invalid data error, got %v", err)
		}
	})

	t.Run("search failure", func(t *testing.T) {
		source := &fakeSource{err: fmt.Errorf("connection reset")}
		_, err := newService(t, source).Variances(context.Background(), VarianceRequest{Kind: models.PairReceiptBill})
		if !errors.HasCode(err, errors.CodeProcessingError) {
			t.Errorf("Expected processing error, got %v", err)
		}
	})

	t.Run("budget exhausted during search", func(t *testing.T) {
		source := &fakeSource{err: errors.BudgetExceededError("search", 10, 5)}
		_, err := newService(t, source).Variances(context.Background(), VarianceRequest{Kind: models.PairOrderBill})
		if !errors.IsBudgetExceeded(err) {
			t.Errorf("Expected the budget error to survive, got %v", err)
		}
	})

	t.Run("no source", func(t *testing.T) {
		_, err := newService(t, nil).Variances(context.Background(), VarianceRequest{Kind: models.PairOrderBill})
		if !errors.HasCode(err, errors.CodeMissingConfig) {
			t.Errorf("Expected missing config error, got %v", err)
		}
	})

	t.Run("negative override", func(t *testing.T) {
		_, err := newService(t, nil).PairRows(models.PairOrderBill, nil, &ThresholdOverrides{Kitchen: decPtr("-1")})
		if !errors.HasCode(err, errors.CodeOutOfRange) {
			t.Errorf("Expected out of range error, got %v", err)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		config := &Config{Thresholds: matcher.DefaultThresholdConfig()}
		config.Thresholds.AbsoluteFloor = decimal.NewFromInt(-1)
		if _, err := NewVarianceService(nil, config, logger.Discard()); err == nil {
			t.Error("Expected invalid configuration to be rejected")
		}
	})
}

func TestThresholdOverrides(t *testing.T) {
	var none *ThresholdOverrides
	if !none.IsZero() || !(&ThresholdOverrides{}).IsZero() {
		t.Error("Expected nil and empty overrides to be zero")
	}

	base := matcher.DefaultThresholdConfig()
	out := (&ThresholdOverrides{Kitchen: decPtr("7.5")}).Apply(base)
	if !out.KitchenPercent.Equal(decimal.RequireFromString("7.5")) || !out.ServicePercent.Equal(base.ServicePercent) {
		t.Errorf("Unexpected applied thresholds %+v", out)
	}
	if out == base {
		t.Error("Apply must return a copy")
	}
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
