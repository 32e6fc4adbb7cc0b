package reconciler

import (
	"context"
	"fmt"

	"rate-reconciliation-service/internal/adjustment"
	"rate-reconciliation-service/internal/batch"
	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/internal/mutator"
	"rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"
)

// RateCorrectionSelection turns receipt/bill pairs into rate corrections that
// move each receipt to its bill's rate. Pairs correcting the same receipt
// item are collapsed, since the mutator updates every matching line at once.
func RateCorrectionSelection(pairs []models.VariancePair) (batch.Selection, map[string]models.VariancePair) {
	selection := batch.Selection{}
	byKey := make(map[string]models.VariancePair)

	for _, pair := range pairs {
		if pair.Receipt == nil {
			continue
		}
		item := batch.RateCorrection{
			IRID:     pair.Receipt.DocumentID,
			POLineID: pair.PO.LineKey,
			NewRate:  pair.Bill.Rate,
			IRNumber: pair.Receipt.DocumentNumber,
			ItemName: pair.PO.ItemName,
			ItemID:   pair.PO.ItemID,
		}
		if _, dup := byKey[item.Key()]; dup {
			continue
		}
		byKey[item.Key()] = pair
		selection = append(selection, item)
	}
	return selection, byKey
}

// MarkReviewedSelection turns order/bill pairs into review markers
func MarkReviewedSelection(pairs []models.VariancePair) batch.Selection {
	selection := batch.Selection{}
	seen := make(map[string]bool)

	for _, pair := range pairs {
		item := batch.MarkReviewed{
			POID:     pair.PO.POID,
			POLineID: pair.PO.LineKey,
			PONumber: pair.PO.PONumber,
			ItemName: pair.PO.ItemName,
			ItemID:   pair.PO.ItemID,
		}
		if seen[item.Key()] {
			continue
		}
		seen[item.Key()] = true
		selection = append(selection, item)
	}
	return selection
}

// RateCorrectionProcessor writes the bill rate onto every receipt line of the
// item. When an adjuster and the originating pair are known, a closed-period
// rejection is routed to the closed-period adjustment of the bill instead.
type RateCorrectionProcessor struct {
	mutator  *mutator.Mutator
	adjuster *adjustment.Procedure
	pairs    map[string]models.VariancePair
	logger   logger.Logger
}

// NewRateCorrectionProcessor creates a processor. adjuster and pairs may be nil.
func NewRateCorrectionProcessor(m *mutator.Mutator, adjuster *adjustment.Procedure, pairs map[string]models.VariancePair, l logger.Logger) *RateCorrectionProcessor {
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	return &RateCorrectionProcessor{
		mutator:  m,
		adjuster: adjuster,
		pairs:    pairs,
		logger:   l.WithComponent("rate_correction"),
	}
}

// Process implements batch.Processor
func (p *RateCorrectionProcessor) Process(ctx context.Context, item batch.Item) (batch.UpdatedRecord, error) {
	rc, ok := item.(batch.RateCorrection)
	if !ok {
		return batch.UpdatedRecord{}, errors.InternalError(errors.CodeUnexpectedError, "rate correction",
			fmt.Errorf("unexpected item kind %s", item.Kind()))
	}

	_, err := p.mutator.UpdateLineField(ctx, mutator.Request{
		DocType:    models.TypeItemReceipt,
		DocumentID: rc.IRID,
		ItemID:     rc.ItemID,
		Field:      models.FieldRate,
		Value:      rc.NewRate,
	})
	if err == nil {
		return batch.UpdatedRecord{
			Document: rc.IRNumber,
			ItemName: rc.ItemName,
			Detail:   fmt.Sprintf("rate set to %s", rc.NewRate.StringFixed(models.AmountPrecision)),
		}, nil
	}

	if !errors.IsClosedPeriod(err) || p.adjuster == nil {
		return batch.UpdatedRecord{}, err
	}
	pair, found := p.pairs[rc.Key()]
	if !found {
		return batch.UpdatedRecord{}, err
	}

	p.logger.WithFields(logger.Fields{
		"ir_id":   rc.IRID,
		"vb_id":   pair.Bill.DocumentID,
		"item_id": rc.ItemID,
	}).Info("Receipt period closed; adjusting the bill instead")

	result, aerr := p.adjuster.Run(ctx, adjustment.Request{
		VendorBillID: pair.Bill.DocumentID,
		ItemID:       rc.ItemID,
		VBRate:       pair.Bill.Rate,
		IRRate:       pair.Receipt.Rate,
		VBNumber:     pair.Bill.DocumentNumber,
		ItemName:     rc.ItemName,
	})
	if aerr != nil {
		return batch.UpdatedRecord{}, aerr
	}
	return batch.UpdatedRecord{
		Document: result.VendorBillNumber,
		ItemName: rc.ItemName,
		Detail: fmt.Sprintf("closed period adjustment %s for %s",
			result.JournalNumber, result.Adjustment.StringFixed(models.AmountPrecision)),
	}, nil
}

// MarkReviewedProcessor sets the review marker on a purchase order line
type MarkReviewedProcessor struct {
	mutator *mutator.Mutator
}

// NewMarkReviewedProcessor creates a processor for review markers
func NewMarkReviewedProcessor(m *mutator.Mutator) *MarkReviewedProcessor {
	return &MarkReviewedProcessor{mutator: m}
}

// Process implements batch.Processor
func (p *MarkReviewedProcessor) Process(ctx context.Context, item batch.Item) (batch.UpdatedRecord, error) {
	mr, ok := item.(batch.MarkReviewed)
	if !ok {
		return batch.UpdatedRecord{}, errors.InternalError(errors.CodeUnexpectedError, "mark reviewed",
			fmt.Errorf("unexpected item kind %s", item.Kind()))
	}

	req := mutator.Request{
		DocType:    models.TypePurchaseOrder,
		DocumentID: mr.POID,
		LineKey:    mr.POLineID,
		Field:      models.FieldRateVarianceReviewed,
		Value:      true,
	}
	if req.LineKey == "" {
		req.ItemID = mr.ItemID
	}
	if _, err := p.mutator.UpdateLineField(ctx, req); err != nil {
		return batch.UpdatedRecord{}, err
	}
	return batch.UpdatedRecord{Document: mr.PONumber, ItemName: mr.ItemName, Detail: "marked reviewed"}, nil
}
