package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"rate-reconciliation-service/internal/adjustment"
	"rate-reconciliation-service/internal/batch"
	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/internal/mutator"
	"rate-reconciliation-service/internal/reconciler"
	"rate-reconciliation-service/internal/search"
	rerrors "rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Query and form parameters of the page protocol
const (
	ParamProcessing          = "processing"
	ParamUpdateSuccess       = "updateSuccess"
	ParamAdjustmentSuccess   = "adjustmentSuccess"
	ParamError               = "error"
	ParamErrorCode           = "errorCode"
	ParamLocationFilter      = "location_filter"
	ParamServiceThreshold    = "service_threshold"
	ParamKitchenThreshold    = "kitchen_threshold"
	ParamAppliancesThreshold = "appliances_threshold"

	ParamSuccessCount   = "successCount"
	ParamErrorCount     = "errorCount"
	ParamSkipCount      = "skipCount"
	ParamErrors         = "errors"
	ParamUpdatedRecords = "updatedRecords"

	ParamJENumber         = "jeNumber"
	ParamAdjustmentAmount = "adjustmentAmount"

	ParamAction           = "action"
	ActionClosedPeriod    = "closed_period_adjustment"
	ParamVendorBillID     = "vb_id"
	ParamItemID           = "item_id"
	ParamVendorBillRate   = "vb_rate"
	ParamItemReceiptRate  = "ir_rate"
	ParamVendorBillNumber = "vb_number"
	ParamItemName         = "item_name"
)

func handleGetPage(deps Deps, v variant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := &Page{Kind: v.pairKind}

		if ok, present := flag(q, ParamAdjustmentSuccess); present {
			renderAdjustment(w, page, q, ok)
			return
		}

		if msg := q.Get(ParamError); msg != "" {
			page.Mode = ModeError
			page.Error = &PageError{Message: msg, Code: q.Get(ParamErrorCode)}
			writeJSON(w, http.StatusOK, page)
			return
		}

		if on, _ := flag(q, ParamProcessing); on {
			t, err := batch.TokenFromValues(q, v.itemKind, v.window)
			if err != nil {
				writeError(w, page, err)
				return
			}
			page.Mode = ModeProcessing
			page.Message = batch.ProgressText(&batch.Round{End: t.Processed(), Token: t})
			page.Continuation = flatten(q)
			delete(page.Continuation, ParamProcessing)
			writeJSON(w, http.StatusOK, page)
			return
		}

		if on, _ := flag(q, ParamUpdateSuccess); on {
			summary, err := summaryFromQuery(q, v.itemKind)
			if err != nil {
				writeError(w, page, err)
				return
			}
			page.Mode = ModeUpdateSuccess
			page.Summary = summary
			page.Message = summary.Text()
			writeJSON(w, http.StatusOK, page)
			return
		}

		handleList(deps, v, page, w, r)
	}
}

// renderAdjustment shows the terminal state of a closed-period action. A
// failed action keeps the bill and item identity next to the reason.
func renderAdjustment(w http.ResponseWriter, page *Page, q url.Values, ok bool) {
	out := &AdjustmentOutcome{
		Success:          ok,
		VendorBillNumber: q.Get(ParamVendorBillNumber),
		ItemName:         q.Get(ParamItemName),
		JournalNumber:    q.Get(ParamJENumber),
		Amount:           q.Get(ParamAdjustmentAmount),
	}
	page.Adjustment = out

	if ok {
		page.Mode = ModeAdjustmentSuccess
		page.Message = fmt.Sprintf("Closed period adjustment posted for %s (%s): journal entry %s for %s.",
			out.VendorBillNumber, out.ItemName, out.JournalNumber, out.Amount)
		writeJSON(w, http.StatusOK, page)
		return
	}

	out.Reason = q.Get(ParamError)
	out.ErrorCode = q.Get(ParamErrorCode)
	if out.Reason != "" {
		page.Error = &PageError{Message: out.Reason, Code: out.ErrorCode}
	}
	page.Mode = ModeAdjustmentFailed
	page.Message = fmt.Sprintf("Closed period adjustment failed for %s (%s)", out.VendorBillNumber, out.ItemName)
	if out.Reason != "" {
		page.Message += ": " + out.Reason
	}
	page.Message += "."
	writeJSON(w, http.StatusOK, page)
}

func handleList(deps Deps, v variant, page *Page, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	overrides, err := thresholdOverrides(q)
	if err != nil {
		writeError(w, page, err)
		return
	}

	sess := newSession(deps)
	service, err := reconciler.NewVarianceService(search.NewAdapter(sess.store, deps.Search, deps.Logger), deps.Variance, deps.Logger)
	if err != nil {
		writeError(w, page, err)
		return
	}
	result, err := service.Variances(r.Context(), reconciler.VarianceRequest{
		Kind:      v.pairKind,
		Filter:    search.Filter{LocationID: q.Get(ParamLocationFilter)},
		Overrides: overrides,
	})
	if err != nil {
		deps.Logger.WithError(err).WithField("kind", v.pairKind).Error("Variance search failed")
		writeError(w, page, err)
		return
	}

	page.Mode = ModeList
	page.Variances = result
	if v.itemKind == batch.KindRateCorrection {
		page.Selection, _ = reconciler.RateCorrectionSelection(result.Pairs)
	} else {
		page.Selection = reconciler.MarkReviewedSelection(result.Pairs)
	}
	page.Message = fmt.Sprintf("%d variances found.", len(result.Pairs))
	writeJSON(w, http.StatusOK, page)
}

func writeError(w http.ResponseWriter, page *Page, err error) {
	page.Mode = ModeError
	page.Error = pageError(err)
	writeJSON(w, statusFor(err), page)
}

func thresholdOverrides(q url.Values) (*reconciler.ThresholdOverrides, error) {
	o := &reconciler.ThresholdOverrides{}
	fields := []struct {
		name string
		dst  **decimal.Decimal
	}{
		{ParamServiceThreshold, &o.Service},
		{ParamKitchenThreshold, &o.Kitchen},
		{ParamAppliancesThreshold, &o.Appliances},
	}
	for _, f := range fields {
		raw := q.Get(f.name)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, rerrors.ValidationError(rerrors.CodeInvalidAmount, f.name, raw, err)
		}
		*f.dst = &d
	}
	if o.IsZero() {
		return nil, nil
	}
	return o, nil
}

// summaryFromQuery rebuilds the terminal summary from the redirect fields
func summaryFromQuery(q url.Values, kind batch.ItemKind) (*batch.Summary, error) {
	s := &batch.Summary{Kind: kind, Errors: []batch.ErrorRecord{}, Updated: []batch.UpdatedRecord{}}

	var err error
	if s.SuccessCount, err = atoi(q, ParamSuccessCount); err != nil {
		return nil, err
	}
	if s.ErrorCount, err = atoi(q, ParamErrorCount); err != nil {
		return nil, err
	}
	if s.SkipCount, err = atoi(q, ParamSkipCount); err != nil {
		return nil, err
	}
	if raw := q.Get(ParamErrors); raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.Errors); err != nil {
			return nil, rerrors.ContinuationError(ParamErrors, raw, err)
		}
	}
	if raw := q.Get(ParamUpdatedRecords); raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.Updated); err != nil {
			return nil, rerrors.ContinuationError(ParamUpdatedRecords, raw, err)
		}
	}
	s.Total = s.SuccessCount + s.ErrorCount + s.SkipCount
	return s, nil
}

func handlePost(deps Deps, v variant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
		if err := r.ParseForm(); err != nil {
			redirect(w, r, v.path, errorValues(rerrors.ValidationError(rerrors.CodeInvalidFormat, "form", "", err)))
			return
		}

		if r.PostForm.Get(ParamAction) == ActionClosedPeriod {
			if v.itemKind != batch.KindRateCorrection {
				redirect(w, r, v.path, errorValues(rerrors.ValidationError(rerrors.CodeInvalidData, ParamAction, ActionClosedPeriod,
					fmt.Errorf("closed period adjustments apply to receipt/bill variances only"))))
				return
			}
			handleAdjustment(deps, v, w, r)
			return
		}

		handleBatchRound(deps, v, w, r)
	}
}

func handleBatchRound(deps Deps, v variant, w http.ResponseWriter, r *http.Request) {
	log := deps.Logger.WithField("kind", v.itemKind)

	token, err := batch.TokenFromValues(r.PostForm, v.itemKind, v.window)
	if err != nil {
		if rerrors.IsContinuation(err) {
			log.WithError(err).Warn("Rejected continuation state")
		} else {
			log.WithError(err).Error("Unreadable batch submission")
		}
		redirect(w, r, v.path, errorValues(err))
		return
	}

	sess := newSession(deps)
	m := mutator.New(sess.store, deps.Logger)
	var processor batch.Processor
	if v.itemKind == batch.KindRateCorrection {
		processor = reconciler.NewRateCorrectionProcessor(m, nil, nil, deps.Logger)
	} else {
		processor = reconciler.NewMarkReviewedProcessor(m)
	}

	driver := batch.NewDriver(v.itemKind, batch.Config{
		Window:       v.window,
		Budget:       sess.meter,
		SafetyMargin: deps.Governance.SafetyMargin,
	}, processor, deps.Logger)

	round, err := driver.RunRound(r.Context(), token)
	if err != nil {
		if round != nil {
			log = log.WithFields(logger.Fields{
				"processed":     round.End - round.Start,
				"success_count": round.Token.SuccessCount,
				"error_count":   round.Token.ErrorCount,
			})
		}
		log.WithError(err).Error("Batch round failed")
		redirect(w, r, v.path, errorValues(err))
		return
	}

	if !round.Complete {
		values, err := round.Token.Values()
		if err != nil {
			redirect(w, r, v.path, errorValues(err))
			return
		}
		values.Set(ParamProcessing, "T")
		redirect(w, r, v.path, values)
		return
	}

	summary := batch.NewSummary(round.Token)
	errs, _ := json.Marshal(summary.Errors)
	updated, _ := json.Marshal(summary.Updated)

	values := url.Values{}
	values.Set(ParamUpdateSuccess, "T")
	values.Set(ParamSuccessCount, strconv.Itoa(summary.SuccessCount))
	values.Set(ParamErrorCount, strconv.Itoa(summary.ErrorCount))
	values.Set(ParamSkipCount, strconv.Itoa(summary.SkipCount))
	values.Set(ParamErrors, string(errs))
	values.Set(ParamUpdatedRecords, string(updated))

	log.WithFields(logger.Fields{
		"success_count": summary.SuccessCount,
		"error_count":   summary.ErrorCount,
		"skip_count":    summary.SkipCount,
	}).Info("Batch run completed")
	redirect(w, r, v.path, values)
}

func handleAdjustment(deps Deps, v variant, w http.ResponseWriter, r *http.Request) {
	form := r.PostForm
	req := adjustment.Request{
		VendorBillID: form.Get(ParamVendorBillID),
		ItemID:       form.Get(ParamItemID),
		VBNumber:     form.Get(ParamVendorBillNumber),
		ItemName:     form.Get(ParamItemName),
	}

	values := url.Values{}
	values.Set(ParamVendorBillNumber, req.VBNumber)
	values.Set(ParamItemName, req.ItemName)
	fail := func(err error) {
		deps.Logger.WithError(err).WithFields(logger.Fields{
			"vb_id":   req.VendorBillID,
			"item_id": req.ItemID,
		}).Error("Closed period adjustment failed")
		for k, vals := range errorValues(err) {
			values[k] = vals
		}
		values.Set(ParamAdjustmentSuccess, "F")
		redirect(w, r, v.path, values)
	}

	rates := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{ParamVendorBillRate, &req.VBRate},
		{ParamItemReceiptRate, &req.IRRate},
	}
	for _, rate := range rates {
		d, err := decimal.NewFromString(form.Get(rate.name))
		if err != nil {
			fail(rerrors.ValidationError(rerrors.CodeInvalidAmount, rate.name, form.Get(rate.name), err))
			return
		}
		*rate.dst = d
	}

	sess := newSession(deps)
	result, err := adjustment.NewProcedure(sess.store, deps.Adjustment, deps.Logger).Run(r.Context(), req)
	if err != nil {
		fail(err)
		return
	}

	values.Set(ParamAdjustmentSuccess, "T")
	values.Set(ParamJENumber, result.JournalNumber)
	values.Set(ParamAdjustmentAmount, result.Adjustment.StringFixed(models.AmountPrecision))
	if result.VendorBillNumber != "" {
		values.Set(ParamVendorBillNumber, result.VendorBillNumber)
	}
	redirect(w, r, v.path, values)
}
