// Package batch drives a selected list of corrections through bounded rounds.
// Progress between rounds lives entirely in a continuation token echoed back
// by the client, so a round can be retried or resumed by any server.
package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	rerrors "rate-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// ItemKind tags the selection item variants
type ItemKind string

const (
	KindRateCorrection ItemKind = "rate_correction"
	KindMarkReviewed   ItemKind = "mark_reviewed"
)

// IsValid checks if the item kind is known
func (k ItemKind) IsValid() bool {
	return k == KindRateCorrection || k == KindMarkReviewed
}

// Item is one selected unit of work
type Item interface {
	Kind() ItemKind
	// Key identifies the item within a selection.
	Key() string
	// Label is the human-readable identity used in summaries.
	Label() (document, itemName string)
	validate() error
}

// RateCorrection sets an item receipt's rate to the bill rate
type RateCorrection struct {
	IRID     string          `json:"ir_id"`
	POLineID string          `json:"po_line_id"`
	NewRate  decimal.Decimal `json:"new_rate"`
	IRNumber string          `json:"ir_number"`
	ItemName string          `json:"item_name"`
	ItemID   string          `json:"item_id"`
}

func (r RateCorrection) Kind() ItemKind { return KindRateCorrection }

func (r RateCorrection) Key() string { return r.IRID + ":" + r.POLineID + ":" + r.ItemID }

func (r RateCorrection) Label() (string, string) { return r.IRNumber, r.ItemName }

func (r RateCorrection) validate() error {
	switch {
	case r.IRID == "":
		return fmt.Errorf("ir_id is required")
	case r.ItemID == "":
		return fmt.Errorf("item_id is required")
	case r.NewRate.IsNegative():
		return fmt.Errorf("new_rate cannot be negative: %s", r.NewRate)
	}
	return nil
}

// MarkReviewed sets the review marker on a purchase order line
type MarkReviewed struct {
	POID     string `json:"po_id"`
	POLineID string `json:"po_line_id"`
	PONumber string `json:"po_number"`
	ItemName string `json:"item_name"`
	ItemID   string `json:"item_id"`
}

func (m MarkReviewed) Kind() ItemKind { return KindMarkReviewed }

func (m MarkReviewed) Key() string { return m.POID + ":" + m.POLineID }

func (m MarkReviewed) Label() (string, string) { return m.PONumber, m.ItemName }

func (m MarkReviewed) validate() error {
	switch {
	case m.POID == "":
		return fmt.Errorf("po_id is required")
	case m.POLineID == "" && m.ItemID == "":
		return fmt.Errorf("po_line_id or item_id is required")
	}
	return nil
}

type rateCorrectionWire struct {
	Kind ItemKind `json:"kind"`
	RateCorrection
}

type markReviewedWire struct {
	Kind ItemKind `json:"kind"`
	MarkReviewed
}

// Selection is an ordered list of items of a single kind
type Selection []Item

// MarshalJSON encodes the selection as an array of kind-tagged objects
func (s Selection) MarshalJSON() ([]byte, error) {
	out := make([]interface{}, 0, len(s))
	for _, item := range s {
		switch v := item.(type) {
		case RateCorrection:
			out = append(out, rateCorrectionWire{Kind: KindRateCorrection, RateCorrection: v})
		case MarkReviewed:
			out = append(out, markReviewedWire{Kind: KindMarkReviewed, MarkReviewed: v})
		default:
			return nil, fmt.Errorf("unsupported selection item %T", item)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes kind-tagged objects strictly
func (s *Selection) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	items := make(Selection, 0, len(raw))
	for i, msg := range raw {
		item, err := decodeItem(msg)
		if err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, item)
	}
	*s = items
	return nil
}

func decodeItem(msg json.RawMessage) (Item, error) {
	var head struct {
		Kind ItemKind `json:"kind"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		return nil, err
	}

	var item Item
	switch head.Kind {
	case KindRateCorrection:
		var w rateCorrectionWire
		if err := strictUnmarshal(msg, &w); err != nil {
			return nil, err
		}
		item = w.RateCorrection
	case KindMarkReviewed:
		var w markReviewedWire
		if err := strictUnmarshal(msg, &w); err != nil {
			return nil, err
		}
		item = w.MarkReviewed
	default:
		return nil, fmt.Errorf("unknown item kind %q", head.Kind)
	}

	if err := item.validate(); err != nil {
		return nil, err
	}
	return item, nil
}

func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

// ParseSelection decodes the selected_variances parameter. A JSON array is
// the primary encoding; comma-joined pipe tuples are accepted for older
// clients. Every item must be of the expected kind.
func ParseSelection(raw string, kind ItemKind) (Selection, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, rerrors.ContinuationError("selected_variances", raw, fmt.Errorf("no items selected"))
	}

	var sel Selection
	if strings.HasPrefix(raw, "[") {
		if err := sel.UnmarshalJSON([]byte(raw)); err != nil {
			return nil, rerrors.ContinuationError("selected_variances", raw, err)
		}
	} else {
		var err error
		if sel, err = parseLegacyTuples(raw, kind); err != nil {
			return nil, rerrors.ContinuationError("selected_variances", raw, err)
		}
	}

	for i, item := range sel {
		if item.Kind() != kind {
			return nil, rerrors.ContinuationError("selected_variances", raw,
				fmt.Errorf("item %d is %s, expected %s", i, item.Kind(), kind))
		}
	}
	return sel, nil
}

// legacy field orders:
//
//	rate_correction: irId|poLineId|newRate|irNumber|itemName|itemId
//	mark_reviewed:   poId|poLineId|poNumber|itemName|itemId
func parseLegacyTuples(raw string, kind ItemKind) (Selection, error) {
	var sel Selection
	for i, tuple := range strings.Split(raw, ",") {
		fields := strings.Split(strings.TrimSpace(tuple), "|")

		var item Item
		switch kind {
		case KindRateCorrection:
			if len(fields) != 6 {
				return nil, fmt.Errorf("tuple %d has %d fields, expected 6", i, len(fields))
			}
			rate, err := decimal.NewFromString(fields[2])
			if err != nil {
				return nil, fmt.Errorf("tuple %d: invalid rate %q", i, fields[2])
			}
			item = RateCorrection{IRID: fields[0], POLineID: fields[1], NewRate: rate, IRNumber: fields[3], ItemName: fields[4], ItemID: fields[5]}
		case KindMarkReviewed:
			if len(fields) != 5 {
				return nil, fmt.Errorf("tuple %d has %d fields, expected 5", i, len(fields))
			}
			item = MarkReviewed{POID: fields[0], POLineID: fields[1], PONumber: fields[2], ItemName: fields[3], ItemID: fields[4]}
		default:
			return nil, fmt.Errorf("unknown item kind %q", kind)
		}

		if err := item.validate(); err != nil {
			return nil, fmt.Errorf("tuple %d: %w", i, err)
		}
		sel = append(sel, item)
	}
	return sel, nil
}
