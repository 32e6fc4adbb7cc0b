package reconciler

import (
	"context"
	"fmt"
	"time"

	"rate-reconciliation-service/internal/adjustment"
	"rate-reconciliation-service/internal/batch"
	"rate-reconciliation-service/internal/governance"
	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/internal/mutator"
	"rate-reconciliation-service/internal/search"
	"rate-reconciliation-service/internal/store"
	"rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"
)

// ScheduledConfig configures an autonomous correction run
type ScheduledConfig struct {
	Variance   *Config            `json:"variance"`
	Search     *search.Config     `json:"search"`
	Governance *governance.Config `json:"governance"`
	Adjustment *adjustment.Config `json:"adjustment"`
	Filter     search.Filter      `json:"filter"`
	Window     int                `json:"window"`

	// AdjustClosedPeriods routes closed-period receipts to the bill adjustment.
	AdjustClosedPeriods bool `json:"adjust_closed_periods"`
}

// DefaultScheduledConfig returns the standard autonomous run settings
func DefaultScheduledConfig() *ScheduledConfig {
	return &ScheduledConfig{
		Variance:            DefaultConfig(),
		Search:              search.DefaultConfig(),
		Governance:          governance.DefaultConfig(),
		Adjustment:          adjustment.DefaultConfig(),
		Window:              batch.DefaultRateWindow,
		AdjustClosedPeriods: true,
	}
}

// Validate validates the scheduled run configuration
func (c *ScheduledConfig) Validate() error {
	if c.Variance == nil || c.Search == nil || c.Governance == nil || c.Adjustment == nil {
		return fmt.Errorf("variance, search, governance and adjustment configuration are required")
	}
	if err := c.Variance.Validate(); err != nil {
		return err
	}
	if err := c.Governance.Validate(); err != nil {
		return err
	}
	if err := c.Adjustment.Validate(); err != nil {
		return err
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive: %d", c.Window)
	}
	return nil
}

// RunReport is the outcome of one autonomous run
type RunReport struct {
	Summary   *batch.Summary               `json:"summary"`
	Pairs     int                          `json:"pairs"`
	Usage     map[governance.Operation]int `json:"usage"`
	Remaining int                          `json:"remaining"`
	StartedAt time.Time                    `json:"started_at"`
	Duration  time.Duration                `json:"duration"`
}

// ScheduledRunner corrects receipt rates without an operator. Every store
// call is charged to a fresh operation budget; once the budget falls below
// the safety margin the remaining items are recorded as skipped.
type ScheduledRunner struct {
	store  store.DocumentStore
	config *ScheduledConfig
	logger logger.Logger
}

// NewScheduledRunner creates a runner over a document store
func NewScheduledRunner(s store.DocumentStore, config *ScheduledConfig, l logger.Logger) (*ScheduledRunner, error) {
	if config == nil {
		config = DefaultScheduledConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	return &ScheduledRunner{store: s, config: config, logger: l.WithComponent("scheduled_runner")}, nil
}

// Run performs one autonomous pass. A run interrupted by ctx returns the
// report of the items finished so far together with the error.
func (r *ScheduledRunner) Run(ctx context.Context) (*RunReport, error) {
	started := time.Now()
	op := logger.NewOperationLogger("scheduled_rate_correction", r.logger)

	meter := governance.NewMeter(r.config.Governance)
	metered := governance.NewMeteredStore(r.store, meter)

	op.Step("search")
	service, err := NewVarianceService(search.NewAdapter(metered, r.config.Search, r.logger), r.config.Variance, r.logger)
	if err != nil {
		op.Error(err, "Scheduled run failed")
		return nil, err
	}
	result, err := service.Variances(ctx, VarianceRequest{Kind: models.PairReceiptBill, Filter: r.config.Filter})
	if err != nil {
		op.Error(err, "Scheduled run failed")
		return nil, err
	}

	selection, pairs := RateCorrectionSelection(result.Pairs)
	report := &RunReport{Pairs: len(result.Pairs), StartedAt: started}
	if len(selection) == 0 {
		report.Summary = &batch.Summary{Kind: batch.KindRateCorrection, Errors: []batch.ErrorRecord{}, Updated: []batch.UpdatedRecord{}}
		r.finish(report, meter, started)
		op.Success("Scheduled run found nothing to correct")
		return report, nil
	}

	var adjuster *adjustment.Procedure
	if r.config.AdjustClosedPeriods {
		adjuster = adjustment.NewProcedure(metered, r.config.Adjustment, r.logger)
	}

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "scheduled_rate_correction",
		Total:     int64(len(selection)),
		Logger:    r.logger,
	})
	inner := NewRateCorrectionProcessor(mutator.New(metered, r.logger), adjuster, pairs, r.logger)
	processor := batch.ProcessorFunc(func(ctx context.Context, item batch.Item) (batch.UpdatedRecord, error) {
		defer tracker.Increment()
		return inner.Process(ctx, item)
	})

	op.Step("correct")
	driver := batch.NewDriver(batch.KindRateCorrection, batch.Config{
		Window:       r.config.Window,
		Budget:       meter,
		SafetyMargin: r.config.Governance.SafetyMargin,
	}, processor, r.logger)

	summary, err := driver.RunAll(ctx, selection)
	tracker.Complete()
	if err != nil {
		op.Error(err, "Scheduled run failed")
		if _, ok := errors.AsReconcilerError(err); !ok {
			err = errors.ReconciliationError(errors.CodeProcessingError, "scheduled_rate_correction", err)
		}
		if summary == nil {
			return nil, err
		}
		report.Summary = summary
		r.finish(report, meter, started)
		return report, err
	}

	report.Summary = summary
	r.finish(report, meter, started)
	op.WithField("success_count", summary.SuccessCount).
		WithField("error_count", summary.ErrorCount).
		WithField("skip_count", summary.SkipCount).
		Success("Scheduled run completed")
	return report, nil
}

func (r *ScheduledRunner) finish(report *RunReport, meter *governance.Meter, started time.Time) {
	report.Usage = meter.Usage()
	report.Remaining = meter.Remaining()
	report.Duration = time.Since(started)
}
