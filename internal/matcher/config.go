// Package matcher groups raw join rows by purchase order line and pairs the
// competing documents of each group into variance pairs.
//
// Two matching policies are supported:
//   - Receipt/bill: receipts and bills are sorted by date and paired
//     positionally, oldest with oldest. Leftovers on the longer side
//     produce no pair.
//   - Order/bill: the PO line is the anchor and is paired only with its
//     oldest bill.
//
// Both policies require the absolute rate difference to reach a floor. The
// order/bill policy additionally requires the percent variance to reach the
// threshold of the PO line's location bucket.
//
// Example usage:
//
//	config := matcher.DefaultThresholdConfig()
//	config.ServiceLocation = "4"
//
//	groups := matcher.GroupRows(rows)
//	engine := matcher.NewPairingEngine(config)
//	pairs := engine.PairReceiptBill(groups)
package matcher

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Bucket names the location classes used by the percent threshold
type Bucket string

const (
	// BucketService is the configured service location (location A).
	BucketService Bucket = "service"
	// BucketKitchen is the configured kitchen location (location B).
	BucketKitchen Bucket = "kitchen"
	// BucketAppliances is the default bucket for every other location.
	BucketAppliances Bucket = "appliances"
)

// String returns the string representation of Bucket
func (b Bucket) String() string {
	return string(b)
}

// ThresholdConfig holds the inclusion thresholds for variance pairs.
// Percent values are expressed in percent (2.0 means 2%).
type ThresholdConfig struct {
	// AbsoluteFloor is the minimum absolute rate difference, inclusive.
	AbsoluteFloor decimal.Decimal `json:"absolute_floor"`

	ServicePercent    decimal.Decimal `json:"service_percent"`
	KitchenPercent    decimal.Decimal `json:"kitchen_percent"`
	AppliancesPercent decimal.Decimal `json:"appliances_percent"`

	// ServiceLocation and KitchenLocation are the location ids classified
	// into the service and kitchen buckets. Empty ids never match.
	ServiceLocation string `json:"service_location"`
	KitchenLocation string `json:"kitchen_location"`
}

// DefaultThresholdConfig returns the standard thresholds: a $0.01 floor and 2% per bucket
func DefaultThresholdConfig() *ThresholdConfig {
	return &ThresholdConfig{
		AbsoluteFloor:     decimal.NewFromFloat(0.01),
		ServicePercent:    decimal.NewFromInt(2),
		KitchenPercent:    decimal.NewFromInt(2),
		AppliancesPercent: decimal.NewFromInt(2),
	}
}

// Validate checks if the threshold configuration is valid
func (tc *ThresholdConfig) Validate() error {
	if tc.AbsoluteFloor.IsNegative() {
		return fmt.Errorf("absolute floor cannot be negative: %s", tc.AbsoluteFloor)
	}

	percents := map[Bucket]decimal.Decimal{
		BucketService:    tc.ServicePercent,
		BucketKitchen:    tc.KitchenPercent,
		BucketAppliances: tc.AppliancesPercent,
	}
	for bucket, pct := range percents {
		if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%s threshold must be between 0 and 100: %s", bucket, pct)
		}
	}

	if tc.ServiceLocation != "" && tc.ServiceLocation == tc.KitchenLocation {
		return fmt.Errorf("service and kitchen buckets cannot share location %s", tc.ServiceLocation)
	}

	return nil
}

// Classify maps a location id onto its threshold bucket
func (tc *ThresholdConfig) Classify(locationID string) Bucket {
	loc := strings.TrimSpace(locationID)
	switch {
	case loc == "":
		return BucketAppliances
	case loc == tc.ServiceLocation:
		return BucketService
	case loc == tc.KitchenLocation:
		return BucketKitchen
	default:
		return BucketAppliances
	}
}

// PercentFor returns the percent threshold of a bucket
func (tc *ThresholdConfig) PercentFor(bucket Bucket) decimal.Decimal {
	switch bucket {
	case BucketService:
		return tc.ServicePercent
	case BucketKitchen:
		return tc.KitchenPercent
	default:
		return tc.AppliancesPercent
	}
}

// MeetsFloor reports whether abs(variance) reaches the absolute floor
func (tc *ThresholdConfig) MeetsFloor(variance decimal.Decimal) bool {
	return variance.Abs().GreaterThanOrEqual(tc.AbsoluteFloor)
}
