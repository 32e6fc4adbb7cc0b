// Package api exposes the variance pages over HTTP. Each page follows the
// same round trip: GET renders a JSON page model for the requested mode,
// POST performs one bounded unit of work and answers 303 See Other with the
// parameters of the next page.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"rate-reconciliation-service/internal/adjustment"
	"rate-reconciliation-service/internal/batch"
	"rate-reconciliation-service/internal/governance"
	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/internal/reconciler"
	"rate-reconciliation-service/internal/search"
	"rate-reconciliation-service/internal/store"
	rerrors "rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"

	"github.com/go-chi/chi/v5"
)

const maxFormSize = 1 << 20

const (
	PathReceiptBill = "/variances/receipt-bill"
	PathOrderBill   = "/variances/order-bill"
)

// Deps holds everything the handlers need. Each request gets its own
// operation budget built from Governance.
type Deps struct {
	Store      store.DocumentStore
	Variance   *reconciler.Config
	Search     *search.Config
	Governance *governance.Config
	Adjustment *adjustment.Config

	RateWindow   int
	ReviewWindow int

	Logger logger.Logger
}

func (d *Deps) defaults() {
	if d.Variance == nil {
		d.Variance = reconciler.DefaultConfig()
	}
	if d.Search == nil {
		d.Search = search.DefaultConfig()
	}
	if d.Governance == nil {
		d.Governance = governance.DefaultConfig()
	}
	if d.Adjustment == nil {
		d.Adjustment = adjustment.DefaultConfig()
	}
	if d.RateWindow <= 0 {
		d.RateWindow = batch.DefaultRateWindow
	}
	if d.ReviewWindow <= 0 {
		d.ReviewWindow = batch.DefaultReviewWindow
	}
	if d.Logger == nil {
		d.Logger = logger.GetGlobalLogger()
	}
	d.Logger = d.Logger.WithComponent("api")
}

// variant binds a page to its pair kind and batch item kind
type variant struct {
	path     string
	pairKind models.PairKind
	itemKind batch.ItemKind
	window   int
}

// NewHandler builds the router for both variance pages
func NewHandler(deps Deps) http.Handler {
	deps.defaults()

	receiptBill := variant{PathReceiptBill, models.PairReceiptBill, batch.KindRateCorrection, deps.RateWindow}
	orderBill := variant{PathOrderBill, models.PairOrderBill, batch.KindMarkReviewed, deps.ReviewWindow}

	r := chi.NewRouter()
	r.Use(requestLogger(deps.Logger))

	r.Get("/health", handleHealth)
	r.Get(receiptBill.path, handleGetPage(deps, receiptBill))
	r.Post(receiptBill.path, handlePost(deps, receiptBill))
	r.Get(orderBill.path, handleGetPage(deps, orderBill))
	r.Post(orderBill.path, handlePost(deps, orderBill))

	return r
}

func requestLogger(l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			l.WithFields(logger.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start).String(),
			}).Debug("Request handled")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// session is the per-request view of the store, charged to a fresh budget
type session struct {
	meter *governance.Meter
	store store.DocumentStore
}

func newSession(deps Deps) *session {
	meter := governance.NewMeter(deps.Governance)
	return &session{meter: meter, store: governance.NewMeteredStore(deps.Store, meter)}
}

// Page modes
const (
	ModeList              = "list"
	ModeProcessing        = "processing"
	ModeUpdateSuccess     = "update_success"
	ModeAdjustmentSuccess = "adjustment_success"
	ModeAdjustmentFailed  = "adjustment_failed"
	ModeError             = "error"
)

// Page is the model rendered for every GET
type Page struct {
	Mode    string          `json:"mode"`
	Kind    models.PairKind `json:"kind"`
	Message string          `json:"message,omitempty"`

	Variances *reconciler.VarianceResult `json:"variances,omitempty"`
	Selection batch.Selection            `json:"selection,omitempty"`

	// Continuation carries the fields to post back while a run is in progress.
	Continuation map[string]string `json:"continuation,omitempty"`

	Summary    *batch.Summary     `json:"summary,omitempty"`
	Adjustment *AdjustmentOutcome `json:"adjustment,omitempty"`
	Error      *PageError         `json:"error,omitempty"`
}

// AdjustmentOutcome is the terminal state of a closed-period action
type AdjustmentOutcome struct {
	Success          bool   `json:"success"`
	VendorBillNumber string `json:"vb_number,omitempty"`
	ItemName         string `json:"item_name,omitempty"`
	JournalNumber    string `json:"je_number,omitempty"`
	Amount           string `json:"adjustment_amount,omitempty"`
	Reason           string `json:"reason,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
}

// PageError is a page-level failure
type PageError struct {
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func pageError(err error) *PageError {
	pe := &PageError{Message: err.Error()}
	if re, ok := rerrors.AsReconcilerError(err); ok {
		pe.Message = re.Message
		pe.Code = string(re.Code)
		pe.Suggestion = re.Suggestion
	}
	return pe
}

func statusFor(err error) int {
	re, ok := rerrors.AsReconcilerError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if rerrors.IsContinuation(err) {
		return http.StatusBadRequest
	}
	switch re.Category {
	case rerrors.CategoryValidation, rerrors.CategoryParse:
		return http.StatusBadRequest
	case rerrors.CategoryGovernance:
		return http.StatusServiceUnavailable
	}
	if rerrors.IsNotFound(err) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func redirect(w http.ResponseWriter, r *http.Request, path string, v url.Values) {
	http.Redirect(w, r, path+"?"+v.Encode(), http.StatusSeeOther)
}

// flag reads a T/F style query flag
func flag(v url.Values, name string) (value bool, present bool) {
	raw := v.Get(name)
	if raw == "" {
		return false, false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, true
	}
	return b, true
}

func flatten(v url.Values) map[string]string {
	out := make(map[string]string, len(v))
	for k := range v {
		out[k] = v.Get(k)
	}
	return out
}

func errorValues(err error) url.Values {
	v := url.Values{}
	pe := pageError(err)
	v.Set(ParamError, pe.Message)
	if pe.Code != "" {
		v.Set(ParamErrorCode, pe.Code)
	}
	return v
}

func atoi(v url.Values, name string) (int, error) {
	raw := v.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, rerrors.ValidationError(rerrors.CodeInvalidData, name, raw, fmt.Errorf("not a count"))
	}
	return n, nil
}
