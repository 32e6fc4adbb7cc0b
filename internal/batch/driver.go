package batch

import (
	"context"
	"fmt"
	"strings"

	rerrors "rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"
)

// Default window sizes reflect the estimated per-item operation cost.
const (
	DefaultRateWindow   = 5
	DefaultReviewWindow = 10
)

// SkipReasonGovernance is recorded for items left unprocessed by the budget check
const SkipReasonGovernance = "governance limit"

// Processor applies one item. Returned errors are recorded against the item
// and never stop the round.
type Processor interface {
	Process(ctx context.Context, item Item) (UpdatedRecord, error)
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(ctx context.Context, item Item) (UpdatedRecord, error)

// Process calls f(ctx, item)
func (f ProcessorFunc) Process(ctx context.Context, item Item) (UpdatedRecord, error) {
	return f(ctx, item)
}

// Budget is consulted before each item when a driver runs under an operation budget
type Budget interface {
	Below(margin int) bool
}

// Config configures a driver
type Config struct {
	Window int `json:"window"`

	// Budget and SafetyMargin are optional; when Budget is set, a round
	// stops as soon as Budget.Below(SafetyMargin) and every remaining item
	// of the selection is recorded as skipped.
	Budget       Budget `json:"-"`
	SafetyMargin int    `json:"safety_margin"`
}

// Validate checks if the driver configuration is valid
func (c *Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("batch window must be positive: %d", c.Window)
	}
	if c.SafetyMargin < 0 {
		return fmt.Errorf("safety margin cannot be negative: %d", c.SafetyMargin)
	}
	return nil
}

// Round is the outcome of one invocation. An interrupted round ends at the
// first unprocessed item; its Token tallies the items finished before the
// interruption but keeps the input BatchIndex.
type Round struct {
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Complete    bool   `json:"complete"`
	Interrupted bool   `json:"interrupted,omitempty"`
	Token       *Token `json:"-"`
}

// Driver processes one window of a selection per call
type Driver struct {
	kind      ItemKind
	config    Config
	processor Processor
	logger    logger.Logger
}

// NewDriver creates a driver for one item kind
func NewDriver(kind ItemKind, config Config, processor Processor, l logger.Logger) *Driver {
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	return &Driver{
		kind:      kind,
		config:    config,
		processor: processor,
		logger:    l.WithComponent("batch").WithField("kind", kind),
	}
}

// Start creates the token of a new run
func (d *Driver) Start(selection Selection) (*Token, error) {
	t := NewToken(d.kind, d.config.Window, selection)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// RunRound processes the window at t.BatchIndex and returns the advanced
// token. The input token is not modified, so a failed round can be retried
// from the same state. When ctx ends mid-window the interrupted round is
// returned together with the context error.
func (d *Driver) RunRound(ctx context.Context, t *Token) (*Round, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.Kind != d.kind {
		return nil, rerrors.ContinuationError("kind", string(t.Kind), fmt.Errorf("expected %s", d.kind))
	}

	next := t.clone()
	total := len(next.Selection)
	start := next.BatchIndex * next.Window
	end := start + next.Window
	if end > total {
		end = total
	}

	log := d.logger.WithFields(logger.Fields{"batch_index": next.BatchIndex, "start": start, "end": end, "total": total})
	log.Debug("Batch round started")

	for i := start; i < end; i++ {
		if d.config.Budget != nil && d.config.Budget.Below(d.config.SafetyMargin) {
			skipped := d.skipRemaining(next, i)
			log.WithField("skipped", skipped).Warn("Operation budget below safety margin; remaining items skipped")
			next.BatchIndex++
			return &Round{Start: start, End: total, Complete: true, Token: next}, nil
		}
		if err := ctx.Err(); err != nil {
			log.WithError(err).WithField("processed", i-start).Warn("Batch round interrupted")
			return &Round{Start: start, End: i, Interrupted: true, Token: next}, err
		}

		item := next.Selection[i]
		updated, err := d.process(ctx, item)
		if err != nil {
			next.ErrorCount++
			next.Errors = append(next.Errors, errorRecord(item, err))
			doc, name := item.Label()
			log.WithError(err).WithFields(logger.Fields{"document": doc, "item": name}).Warn("Item failed")
			continue
		}
		next.SuccessCount++
		next.Updated = append(next.Updated, updated)
	}

	next.BatchIndex++
	round := &Round{Start: start, End: end, Complete: end >= total, Token: next}
	log.WithFields(logger.Fields{
		"success_count": next.SuccessCount,
		"error_count":   next.ErrorCount,
		"complete":      round.Complete,
	}).Debug("Batch round finished")
	return round, nil
}

// RunAll runs rounds until the selection is consumed; used by the autonomous
// variant. An interrupted run returns the summary of the items finished so far
// along with the error.
func (d *Driver) RunAll(ctx context.Context, selection Selection) (*Summary, error) {
	t, err := d.Start(selection)
	if err != nil {
		return nil, err
	}
	for {
		round, err := d.RunRound(ctx, t)
		if err != nil {
			if round != nil {
				return NewSummary(round.Token), err
			}
			return nil, err
		}
		if round.Complete {
			return NewSummary(round.Token), nil
		}
		t = round.Token
	}
}

// process isolates one item so a panic is recorded like any other failure
func (d *Driver) process(ctx context.Context, item Item) (rec UpdatedRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = rerrors.InternalError(rerrors.CodeUnexpectedError, "process item", fmt.Errorf("panic: %v", r))
		}
	}()
	return d.processor.Process(ctx, item)
}

func (d *Driver) skipRemaining(t *Token, from int) int {
	n := 0
	for _, item := range t.Selection[from:] {
		doc, name := item.Label()
		t.Errors = append(t.Errors, ErrorRecord{
			Document: doc,
			ItemName: name,
			Reason:   SkipReasonGovernance,
			Code:     string(rerrors.CodeBudgetExceeded),
			Skipped:  true,
		})
		t.SkipCount++
		n++
	}
	return n
}

func errorRecord(item Item, err error) ErrorRecord {
	doc, name := item.Label()
	rec := ErrorRecord{Document: doc, ItemName: name, Reason: err.Error()}
	if rerr, ok := rerrors.AsReconcilerError(err); ok {
		rec.Code = string(rerr.Code)
		rec.Reason = rerr.Message
	}
	return rec
}

func (t *Token) clone() *Token {
	c := *t
	c.Selection = append(Selection(nil), t.Selection...)
	c.Errors = append([]ErrorRecord{}, t.Errors...)
	c.Updated = append([]UpdatedRecord{}, t.Updated...)
	return &c
}

// Summary is the terminal report of a run
type Summary struct {
	Kind         ItemKind        `json:"kind"`
	Total        int             `json:"total"`
	SuccessCount int             `json:"success_count"`
	ErrorCount   int             `json:"error_count"`
	SkipCount    int             `json:"skip_count"`
	Errors       []ErrorRecord   `json:"errors"`
	Updated      []UpdatedRecord `json:"updated_records"`
}

// NewSummary builds the terminal report from a finished token
func NewSummary(t *Token) *Summary {
	return &Summary{
		Kind:         t.Kind,
		Total:        len(t.Selection),
		SuccessCount: t.SuccessCount,
		ErrorCount:   t.ErrorCount,
		SkipCount:    t.SkipCount,
		Errors:       t.Errors,
		Updated:      t.Updated,
	}
}

// Text renders the human-readable summary shown on terminal pages
func (s *Summary) Text() string {
	verb := "Updated"
	if s.Kind == KindMarkReviewed {
		verb = "Marked reviewed"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %d of %d selected records.", verb, s.SuccessCount, s.Total)
	if s.ErrorCount > 0 {
		fmt.Fprintf(&b, " %d failed.", s.ErrorCount)
	}
	if s.SkipCount > 0 {
		fmt.Fprintf(&b, " %d skipped (%s).", s.SkipCount, SkipReasonGovernance)
	}
	for _, e := range s.Errors {
		b.WriteString("\n  - ")
		b.WriteString(e.String())
	}
	return b.String()
}

// ProgressText renders the processing page message for an unfinished run
func ProgressText(round *Round) string {
	return fmt.Sprintf("Processed %d of %d selected records (%d succeeded, %d failed). Continuing...",
		round.End, len(round.Token.Selection), round.Token.SuccessCount, round.Token.ErrorCount)
}
