package reconciler

import (
	"context"
	"fmt"
	"time"

	"rate-reconciliation-service/internal/matcher"
	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/internal/search"
	"rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// RowSource produces raw join rows for both matching policies
type RowSource interface {
	SearchReceiptBillRows(ctx context.Context, filter search.Filter) ([]models.RawJoinRow, error)
	SearchOrderBillRows(ctx context.Context, filter search.Filter) ([]models.RawJoinRow, error)
}

// Config holds configuration options for the variance service
type Config struct {
	Thresholds *matcher.ThresholdConfig `json:"thresholds"`
}

// DefaultConfig returns a default configuration for the variance service
func DefaultConfig() *Config {
	return &Config{Thresholds: matcher.DefaultThresholdConfig()}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Thresholds == nil {
		return fmt.Errorf("threshold configuration is required")
	}
	return c.Thresholds.Validate()
}

// ThresholdOverrides replaces individual bucket percentages for one request.
// Nil fields keep the configured value.
type ThresholdOverrides struct {
	Service    *decimal.Decimal `json:"service,omitempty"`
	Kitchen    *decimal.Decimal `json:"kitchen,omitempty"`
	Appliances *decimal.Decimal `json:"appliances,omitempty"`
}

// IsZero reports whether no override is set
func (o *ThresholdOverrides) IsZero() bool {
	return o == nil || (o.Service == nil && o.Kitchen == nil && o.Appliances == nil)
}

// Apply returns a copy of base with the overrides applied
func (o *ThresholdOverrides) Apply(base *matcher.ThresholdConfig) *matcher.ThresholdConfig {
	out := *base
	if o == nil {
		return &out
	}
	if o.Service != nil {
		out.ServicePercent = *o.Service
	}
	if o.Kitchen != nil {
		out.KitchenPercent = *o.Kitchen
	}
	if o.Appliances != nil {
		out.AppliancesPercent = *o.Appliances
	}
	return &out
}

// VarianceRequest represents a request for variance pairs
type VarianceRequest struct {
	Kind      models.PairKind
	Filter    search.Filter
	Overrides *ThresholdOverrides
}

// Validate validates the variance request
func (r *VarianceRequest) Validate() error {
	switch r.Kind {
	case models.PairReceiptBill, models.PairOrderBill:
		return nil
	default:
		return errors.ValidationError(errors.CodeInvalidData, "kind", string(r.Kind),
			fmt.Errorf("expected %s or %s", models.PairReceiptBill, models.PairOrderBill))
	}
}

// VarianceResult contains the pairs of one query cycle
type VarianceResult struct {
	Kind       models.PairKind          `json:"kind"`
	Pairs      []models.VariancePair    `json:"pairs"`
	Stats      matcher.PairingStats     `json:"stats"`
	Thresholds *matcher.ThresholdConfig `json:"thresholds"`

	RowsSeen          int `json:"rows_seen"`
	RowsRejected      int `json:"rows_rejected"`
	DuplicatesSkipped int `json:"duplicates_skipped"`

	GeneratedAt time.Time     `json:"generated_at"`
	Duration    time.Duration `json:"duration"`
}

// VarianceService runs search, grouping and pairing as one query cycle
type VarianceService struct {
	source RowSource
	config *Config
	logger logger.Logger
}

// NewVarianceService creates a new variance service
func NewVarianceService(source RowSource, config *Config, l logger.Logger) (*VarianceService, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "thresholds", config.Thresholds, err)
	}
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	return &VarianceService{
		source: source,
		config: config,
		logger: l.WithComponent("variance_service"),
	}, nil
}

// Thresholds returns the configured thresholds
func (s *VarianceService) Thresholds() *matcher.ThresholdConfig {
	return s.config.Thresholds
}

// Variances searches, groups and pairs rows for one matching policy
func (s *VarianceService) Variances(ctx context.Context, req VarianceRequest) (*VarianceResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.source == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "row_source", nil,
			fmt.Errorf("variance service has no row source"))
	}

	var (
		rows []models.RawJoinRow
		err  error
	)
	switch req.Kind {
	case models.PairReceiptBill:
		rows, err = s.source.SearchReceiptBillRows(ctx, req.Filter)
	case models.PairOrderBill:
		rows, err = s.source.SearchOrderBillRows(ctx, req.Filter)
	}
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeProcessingError, "variance search failed")
	}

	return s.PairRows(req.Kind, rows, req.Overrides)
}

// PairRows groups and pairs rows obtained elsewhere, such as a CSV export
func (s *VarianceService) PairRows(kind models.PairKind, rows []models.RawJoinRow, overrides *ThresholdOverrides) (*VarianceResult, error) {
	req := VarianceRequest{Kind: kind}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	thresholds := overrides.Apply(s.config.Thresholds)
	if err := thresholds.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "thresholds", thresholds, err)
	}

	valid, rejected := s.filterRows(rows)
	index := matcher.GroupRows(valid)
	engine := matcher.NewPairingEngine(thresholds).WithLogger(s.logger)

	var (
		pairs []models.VariancePair
		stats matcher.PairingStats
	)
	if kind == models.PairReceiptBill {
		pairs, stats = engine.PairReceiptBill(index)
	} else {
		pairs, stats = engine.PairOrderBill(index)
	}
	if pairs == nil {
		pairs = []models.VariancePair{}
	}

	result := &VarianceResult{
		Kind:              kind,
		Pairs:             pairs,
		Stats:             stats,
		Thresholds:        thresholds,
		RowsSeen:          index.RowsSeen,
		RowsRejected:      rejected,
		DuplicatesSkipped: index.DuplicatesSkipped,
		GeneratedAt:       start,
		Duration:          time.Since(start),
	}

	s.logger.WithFields(logger.Fields{
		"kind":               kind,
		"rows":               len(rows),
		"rows_rejected":      rejected,
		"groups":             stats.Groups,
		"duplicates_skipped": index.DuplicatesSkipped,
		"pairs":              len(pairs),
	}).Info("Variance query completed")

	return result, nil
}

func (s *VarianceService) filterRows(rows []models.RawJoinRow) ([]models.RawJoinRow, int) {
	valid := make([]models.RawJoinRow, 0, len(rows))
	rejected := 0
	for i := range rows {
		if err := rows[i].Validate(); err != nil {
			rejected++
			s.logger.WithError(err).WithField("row", i).Warn("Dropping malformed join row")
			continue
		}
		valid = append(valid, rows[i])
	}
	return valid, rejected
}
