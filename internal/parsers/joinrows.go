package parsers

import (
	"context"
	"io"
	"strings"
	"time"

	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Column names of a joined saved-search export
const (
	ColPOID           = "po_id"
	ColPONumber       = "po_number"
	ColPODate         = "po_date"
	ColPOLineKey      = "po_line_key"
	ColPORate         = "po_rate"
	ColPOQuantity     = "po_quantity"
	ColItemID         = "item_id"
	ColItemName       = "item_name"
	ColVendorID       = "vendor_id"
	ColVendorName     = "vendor_name"
	ColLocationID     = "location_id"
	ColIRID           = "ir_id"
	ColIRNumber       = "ir_number"
	ColIRLineKey      = "ir_line_key"
	ColIRDate         = "ir_date"
	ColIRQuantity     = "ir_quantity"
	ColIRRate         = "ir_rate"
	ColIRPeriodClosed = "ir_period_closed"
	ColVBID           = "vb_id"
	ColVBNumber       = "vb_number"
	ColVBLineKey      = "vb_line_key"
	ColVBDate         = "vb_date"
	ColVBQuantity     = "vb_quantity"
	ColVBRate         = "vb_rate"
)

// RequiredColumns must be present in every export
var RequiredColumns = []string{ColPOID, ColPOLineKey, ColPORate}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	time.RFC3339,
}

// JoinRowParser reads raw join rows from a CSV export. A receipt side is
// present when ir_line_key is non-empty, a bill side when vb_line_key is.
type JoinRowParser struct {
	*BaseParser
}

// NewJoinRowParser creates a parser for joined saved-search exports
func NewJoinRowParser(config *ParseConfig) *JoinRowParser {
	base := NewBaseParser(config)
	base.logger = base.logger.WithComponent("join_row_parser")
	return &JoinRowParser{BaseParser: base}
}

// ParseFile reads every row of the export at filePath
func (p *JoinRowParser) ParseFile(ctx context.Context, filePath string) ([]models.RawJoinRow, *ParseStats, error) {
	file, err := p.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()
	return p.Parse(ctx, file, filePath)
}

// Parse reads every row from r. Row-level problems are collected; when any
// are found the rows parsed so far are returned together with an
// ErrorSummary describing the rejects.
func (p *JoinRowParser) Parse(ctx context.Context, r io.Reader, source string) ([]models.RawJoinRow, *ParseStats, error) {
	cur := p.newCursor(ctx, r, source)
	stats := &ParseStats{Source: source}

	if err := cur.readHeader(RequiredColumns); err != nil {
		p.logger.WithError(err).WithField("source", source).Error("Export header rejected")
		return nil, stats, err
	}

	collector := errors.NewParseErrorCollector(p.config.MaxErrors)
	var rows []models.RawJoinRow

	for {
		record, err := cur.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			stats.LinesRead = cur.line
			return rows, stats, err
		}

		row, perr := p.parseRow(record, cur)
		if perr != nil {
			stats.RowsRejected++
			if !collector.Add(perr) {
				break
			}
			continue
		}
		rows = append(rows, row)
		stats.RowsParsed++
	}
	stats.LinesRead = cur.line

	p.logger.WithFields(logger.Fields{
		"source":   source,
		"parsed":   stats.RowsParsed,
		"rejected": stats.RowsRejected,
	}).Info("Parsed join row export")

	if collector.HasErrors() {
		return rows, stats, collector.GetSummary()
	}
	return rows, stats, nil
}

func (p *JoinRowParser) parseRow(record []string, cur *cursor) (models.RawJoinRow, *errors.EnhancedParseError) {
	field := func(col string) string { return cur.value(record, col) }
	var firstErr *errors.EnhancedParseError

	amount := func(col string, required bool) decimal.Decimal {
		raw := field(col)
		if raw == "" {
			if required && firstErr == nil {
				firstErr = errors.EmptyValueError(cur.source, cur.line, col)
			}
			return decimal.Zero
		}
		d, err := parseAmount(raw)
		if err != nil && firstErr == nil {
			firstErr = errors.InvalidAmountError(cur.source, cur.line, col, raw)
		}
		return d
	}
	date := func(col string) time.Time {
		raw := field(col)
		if raw == "" {
			return time.Time{}
		}
		t, ok := parseDate(raw)
		if !ok && firstErr == nil {
			firstErr = errors.InvalidDateError(cur.source, cur.line, col, raw)
		}
		return t
	}

	row := models.RawJoinRow{
		PO: models.POLineInfo{
			POID:       field(ColPOID),
			PONumber:   field(ColPONumber),
			PODate:     date(ColPODate),
			LineKey:    field(ColPOLineKey),
			Rate:       amount(ColPORate, true),
			Quantity:   amount(ColPOQuantity, false),
			ItemID:     field(ColItemID),
			ItemName:   field(ColItemName),
			VendorID:   field(ColVendorID),
			VendorName: field(ColVendorName),
			LocationID: field(ColLocationID),
		},
	}
	if row.PO.POID == "" && firstErr == nil {
		firstErr = errors.EmptyValueError(cur.source, cur.line, ColPOID)
	}
	if row.PO.LineKey == "" && firstErr == nil {
		firstErr = errors.EmptyValueError(cur.source, cur.line, ColPOLineKey)
	}

	if key := field(ColIRLineKey); key != "" {
		row.Receipt = &models.JoinedLine{
			DocumentID:     field(ColIRID),
			DocumentNumber: field(ColIRNumber),
			LineKey:        key,
			Date:           date(ColIRDate),
			Quantity:       amount(ColIRQuantity, false),
			Rate:           amount(ColIRRate, true),
			PeriodClosed:   parseFlag(field(ColIRPeriodClosed)),
		}
	}
	if key := field(ColVBLineKey); key != "" {
		row.Bill = &models.JoinedLine{
			DocumentID:     field(ColVBID),
			DocumentNumber: field(ColVBNumber),
			LineKey:        key,
			Date:           date(ColVBDate),
			Quantity:       amount(ColVBQuantity, false),
			Rate:           amount(ColVBRate, true),
		}
	}

	if firstErr != nil {
		return models.RawJoinRow{}, firstErr
	}
	return row, nil
}

// parseAmount accepts plain decimals, optionally with a currency symbol or
// thousands separators
func parseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(raw)
	return decimal.NewFromString(cleaned)
}

func parseDate(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseFlag reads the host's checkbox export values
func parseFlag(raw string) bool {
	switch strings.ToLower(raw) {
	case "t", "true", "yes", "y", "1":
		return true
	}
	return false
}
