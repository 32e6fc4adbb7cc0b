// Package adjustment corrects a vendor bill whose matching item receipt sits in
// a closed accounting period. Instead of editing the locked receipt it moves the
// bill line to the receipt rate, books the difference to an offset expense line
// so the bill total is unchanged, and posts a balancing journal entry.
package adjustment

import (
	"context"
	"fmt"
	"time"

	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/internal/store"
	rerrors "rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Config holds the fixed accounts and department mapping
type Config struct {
	OffsetAccount           string          `json:"offset_account"`
	AccruedPurchasesAccount string          `json:"accrued_purchases_account"`
	COGSAccount             string          `json:"cogs_account"`
	KnownDepartments        []string        `json:"known_departments"`
	DefaultDepartment       string          `json:"default_department"`
	Tolerance               decimal.Decimal `json:"tolerance"`
}

// DefaultConfig returns the standard account layout
func DefaultConfig() *Config {
	return &Config{
		OffsetAccount:           "5890",
		AccruedPurchasesAccount: "2105",
		COGSAccount:             "5000",
		KnownDepartments:        []string{"10", "20"},
		DefaultDepartment:       "10",
		Tolerance:               decimal.NewFromFloat(0.01),
	}
}

// Validate checks if the adjustment configuration is valid
func (c *Config) Validate() error {
	if c.OffsetAccount == "" || c.AccruedPurchasesAccount == "" || c.COGSAccount == "" {
		return fmt.Errorf("offset, accrued purchases and COGS accounts are required")
	}
	if c.AccruedPurchasesAccount == c.COGSAccount {
		return fmt.Errorf("accrued purchases and COGS accounts must differ: %s", c.COGSAccount)
	}
	if c.DefaultDepartment == "" {
		return fmt.Errorf("default department is required")
	}
	if c.Tolerance.IsNegative() {
		return fmt.Errorf("tolerance cannot be negative: %s", c.Tolerance)
	}
	return nil
}

// MapDepartment returns the COGS department for a bill line department
func (c *Config) MapDepartment(department string) string {
	for _, known := range c.KnownDepartments {
		if department == known {
			return department
		}
	}
	return c.DefaultDepartment
}

// Request describes one closed-period correction
type Request struct {
	VendorBillID string          `json:"vb_id"`
	ItemID       string          `json:"item_id"`
	VBRate       decimal.Decimal `json:"vb_rate"`
	IRRate       decimal.Decimal `json:"ir_rate"`
	VBNumber     string          `json:"vb_number"`
	ItemName     string          `json:"item_name"`
}

// Validate checks the request carries what the procedure needs
func (r *Request) Validate() error {
	if r.VendorBillID == "" {
		return rerrors.ValidationError(rerrors.CodeMissingField, "vb_id", "", nil)
	}
	if r.ItemID == "" {
		return rerrors.ValidationError(rerrors.CodeMissingField, "item_id", "", nil)
	}
	if r.IRRate.IsNegative() {
		return rerrors.ValidationError(rerrors.CodeInvalidAmount, "ir_rate", r.IRRate.String(), nil)
	}
	return nil
}

// Result reports the documents touched by a completed adjustment
type Result struct {
	VendorBillID     string          `json:"vb_id"`
	VendorBillNumber string          `json:"vb_number"`
	JournalEntryID   string          `json:"je_id"`
	JournalNumber    string          `json:"je_number"`
	Adjustment       decimal.Decimal `json:"adjustment_amount"`
	Department       string          `json:"cogs_department"`
	Total            decimal.Decimal `json:"vb_total"`
}

// Procedure runs the closed-period adjustment against a document store
type Procedure struct {
	store  store.DocumentStore
	config *Config
	logger logger.Logger
	now    func() time.Time
}

// NewProcedure creates a procedure with the given accounts
func NewProcedure(s store.DocumentStore, config *Config, l logger.Logger) *Procedure {
	if config == nil {
		config = DefaultConfig()
	}
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	return &Procedure{
		store:  s,
		config: config,
		logger: l.WithComponent("adjustment"),
		now:    time.Now,
	}
}

// Run executes the eight steps in order. Nothing is saved unless the bill
// total survives the edit. A journal entry failure after the bill was saved
// is reported as a partial adjustment carrying the saved bill id.
func (p *Procedure) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	op := logger.NewOperationLogger("closed_period_adjustment", p.logger).
		WithField("vb_id", req.VendorBillID).
		WithField("item_id", req.ItemID)

	// 1. anchor
	bill, err := p.store.Load(ctx, models.TypeVendorBill, req.VendorBillID)
	if err != nil {
		op.Error(err, "Loading vendor bill failed")
		return nil, err
	}
	anchor := bill.Total()
	op.Step("anchored")

	// 2. move the item line to the receipt rate
	matches := bill.MatchLines("", req.ItemID)
	if len(matches) == 0 {
		err := rerrors.LineNotFoundError(string(models.TypeVendorBill), req.VendorBillID, "", req.ItemID)
		op.Error(err, "Item not on vendor bill")
		return nil, err
	}
	line := &bill.Lines[matches[0]]
	department := line.Department
	oldRate := req.VBRate
	if oldRate.IsZero() {
		oldRate = line.Rate
	}
	line.SetRate(req.IRRate)
	op.Step("rate_updated")

	// 3. signed adjustment
	adjustment := oldRate.Sub(req.IRRate)

	// 4. offset expense line
	bill.Expenses = append(bill.Expenses, models.ExpenseLine{
		Account:    p.config.OffsetAccount,
		Amount:     adjustment.Round(models.AmountPrecision),
		Department: department,
		Memo: fmt.Sprintf("Rate variance adjustment for %s: VB rate %s, IR rate %s, diff %s",
			displayName(req), oldRate.String(), req.IRRate.String(), adjustment.StringFixed(models.AmountPrecision)),
	})
	op.Step("expense_added")

	// 5. invariance
	after := bill.Total()
	if after.Sub(anchor).Abs().GreaterThan(p.config.Tolerance) {
		err := rerrors.InvarianceViolationError(req.VendorBillID, anchor, after)
		op.Error(err, "Vendor bill total drifted; adjustment aborted")
		return nil, err
	}

	// 6. save the bill
	if _, err := p.store.Save(ctx, bill, store.NarrowSaveOptions()); err != nil {
		op.Error(err, "Saving vendor bill failed")
		return nil, err
	}
	op.Step("vendor_bill_saved")

	// 7. balancing journal entry
	cogsDepartment := p.config.MapDepartment(department)
	je := p.buildJournalEntry(bill, req, adjustment, department, cogsDepartment)

	// 8. save it
	jeID, err := p.store.Create(ctx, je)
	if err != nil {
		perr := rerrors.PartialAdjustmentError(req.VendorBillID, adjustment, err)
		op.Error(perr, "Journal entry failed after vendor bill was saved")
		return nil, perr
	}

	op.WithField("je_number", je.Number).
		WithField("adjustment", adjustment.StringFixed(models.AmountPrecision)).
		Success("Closed-period adjustment posted")

	return &Result{
		VendorBillID:     bill.ID,
		VendorBillNumber: bill.Number,
		JournalEntryID:   jeID,
		JournalNumber:    je.Number,
		Adjustment:       adjustment.Round(models.AmountPrecision),
		Department:       cogsDepartment,
		Total:            after,
	}, nil
}

// buildJournalEntry offsets the adjustment between accrued purchases and COGS.
// A positive adjustment (bill rate above receipt rate) debits accrued purchases
// and credits COGS; a negative one reverses the sides.
func (p *Procedure) buildJournalEntry(bill *models.Document, req Request, adjustment decimal.Decimal, department, cogsDepartment string) *models.Document {
	amount := adjustment.Abs().Round(models.AmountPrecision)
	memo := fmt.Sprintf("Closed-period rate adjustment %s / %s", bill.Number, displayName(req))

	accrued := models.JournalLine{Account: p.config.AccruedPurchasesAccount, Department: department, Memo: memo}
	cogs := models.JournalLine{Account: p.config.COGSAccount, Department: cogsDepartment, Memo: memo}
	if adjustment.IsPositive() {
		accrued.Debit, cogs.Credit = amount, amount
	} else {
		cogs.Debit, accrued.Credit = amount, amount
	}

	return &models.Document{
		Type:         models.TypeJournalEntry,
		Date:         p.now().UTC().Truncate(24 * time.Hour),
		VendorID:     bill.VendorID,
		VendorName:   bill.VendorName,
		Memo:         memo,
		JournalLines: []models.JournalLine{accrued, cogs},
	}
}

func displayName(req Request) string {
	if req.ItemName != "" {
		return req.ItemName
	}
	return req.ItemID
}
