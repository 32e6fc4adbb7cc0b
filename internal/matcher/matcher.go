package matcher

import (
	"sort"

	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PairingEngine applies the matching policies and thresholds to grouped rows
type PairingEngine struct {
	Config *ThresholdConfig
	logger logger.Logger
}

// PairingStats summarises one pairing pass over a group index
type PairingStats struct {
	Groups         int `json:"groups"`
	Candidates     int `json:"candidates"`
	Included       int `json:"included"`
	BelowFloor     int `json:"below_floor"`
	BelowPercent   int `json:"below_percent"`
	UnpairedGroups int `json:"unpaired_groups"`
}

// NewPairingEngine creates a pairing engine with the specified thresholds
func NewPairingEngine(config *ThresholdConfig) *PairingEngine {
	if config == nil {
		config = DefaultThresholdConfig()
	}
	return &PairingEngine{
		Config: config,
		logger: logger.WithComponent("matcher"),
	}
}

// WithLogger replaces the engine's logger
func (pe *PairingEngine) WithLogger(l logger.Logger) *PairingEngine {
	pe.logger = l.WithComponent("matcher")
	return pe
}

// PairReceiptBill runs positional oldest-to-oldest pairing over every group
func (pe *PairingEngine) PairReceiptBill(index *GroupIndex) ([]models.VariancePair, PairingStats) {
	stats := PairingStats{Groups: index.Len()}
	var pairs []models.VariancePair

	for _, group := range index.Groups() {
		candidates := pe.receiptBillCandidates(group)
		if len(candidates) == 0 {
			stats.UnpairedGroups++
			continue
		}
		for _, pair := range candidates {
			stats.Candidates++
			if !pe.Config.MeetsFloor(pair.Variance) {
				stats.BelowFloor++
				continue
			}
			stats.Included++
			pairs = append(pairs, pair)
		}
	}

	pe.logger.WithFields(logger.Fields{
		"policy":     models.PairReceiptBill,
		"groups":     stats.Groups,
		"candidates": stats.Candidates,
		"included":   stats.Included,
	}).Debug("Pairing completed")

	return pairs, stats
}

// PairOrderBill pairs each PO line with its oldest bill and applies the location threshold
func (pe *PairingEngine) PairOrderBill(index *GroupIndex) ([]models.VariancePair, PairingStats) {
	stats := PairingStats{Groups: index.Len()}
	var pairs []models.VariancePair

	for _, group := range index.Groups() {
		pair, ok := pe.orderBillCandidate(group)
		if !ok {
			stats.UnpairedGroups++
			continue
		}
		stats.Candidates++
		if !pe.Config.MeetsFloor(pair.Variance) {
			stats.BelowFloor++
			continue
		}
		threshold := pe.Config.PercentFor(Bucket(pair.Bucket))
		if pair.VariancePercent.Abs().LessThan(threshold) {
			stats.BelowPercent++
			continue
		}
		stats.Included++
		pairs = append(pairs, pair)
	}

	pe.logger.WithFields(logger.Fields{
		"policy":     models.PairOrderBill,
		"groups":     stats.Groups,
		"candidates": stats.Candidates,
		"included":   stats.Included,
	}).Debug("Pairing completed")

	return pairs, stats
}

// receiptBillCandidates returns min(len(receipts), len(bills)) unfiltered pairs
func (pe *PairingEngine) receiptBillCandidates(group *POLineGroup) []models.VariancePair {
	receipts := sortedByDate(group.Receipts)
	bills := sortedByDate(group.Bills)

	n := len(receipts)
	if len(bills) < n {
		n = len(bills)
	}

	pairs := make([]models.VariancePair, 0, n)
	for i := 0; i < n; i++ {
		receipt := receipts[i]
		bill := bills[i]
		pairs = append(pairs, models.VariancePair{
			Kind:            models.PairReceiptBill,
			PO:              group.Info,
			Receipt:         &receipt,
			Bill:            bill,
			EarlierRate:     receipt.Rate,
			LaterRate:       bill.Rate,
			Variance:        bill.Rate.Sub(receipt.Rate),
			VariancePercent: PercentVariance(bill.Rate.Sub(receipt.Rate), receipt.Rate),
		})
	}
	return pairs
}

func (pe *PairingEngine) orderBillCandidate(group *POLineGroup) (models.VariancePair, bool) {
	if len(group.Bills) == 0 {
		return models.VariancePair{}, false
	}
	oldest := sortedByDate(group.Bills)[0]
	variance := oldest.Rate.Sub(group.Info.Rate)

	return models.VariancePair{
		Kind:            models.PairOrderBill,
		PO:              group.Info,
		Bill:            oldest,
		EarlierRate:     group.Info.Rate,
		LaterRate:       oldest.Rate,
		Variance:        variance,
		VariancePercent: PercentVariance(variance, group.Info.Rate),
		Bucket:          pe.Config.Classify(group.Info.LocationID).String(),
	}, true
}

// PercentVariance returns variance / base * 100, or zero when base is zero
func PercentVariance(variance, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return variance.Div(base).Mul(hundred)
}

// sortedByDate returns a date-ascending copy; equal dates keep discovery order
func sortedByDate(lines []models.JoinedLine) []models.JoinedLine {
	out := append([]models.JoinedLine(nil), lines...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}
