// Package parsers reads exported saved-search results from CSV files.
//
// The host's joined search can be exported as one CSV row per
// (PO line, item receipt line, vendor bill line) combination. Reading the
// export back yields the same raw join rows the live search adapter
// produces, so grouping and pairing can run offline against a file.
//
// Example usage:
//
//	parser := NewJoinRowParser(nil)
//	rows, stats, err := parser.ParseFile(ctx, "variances.csv")
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"
)

// encodingCheckLines is how many leading lines OpenFile checks for UTF-8.
const encodingCheckLines = 100

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	Delimiter        rune `json:"delimiter"`
	Comment          rune `json:"comment"`
	TrimLeadingSpace bool `json:"trim_leading_space"`
	SkipEmptyRows    bool `json:"skip_empty_rows"`
	ValidateEncoding bool `json:"validate_encoding"`

	// MaxErrors stops parsing after this many bad rows; 0 collects them all.
	MaxErrors int `json:"max_errors"`
}

func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		ValidateEncoding: true,
		MaxErrors:        50,
	}
}

func (c *ParseConfig) Validate() error {
	switch c.Delimiter {
	case 0, '\n', '\r', '"':
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	if c.Comment == c.Delimiter {
		return fmt.Errorf("comment character cannot equal the delimiter")
	}
	if c.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative: %d", c.MaxErrors)
	}
	return nil
}

// BaseParser opens export files and walks their records
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &BaseParser{config: config, logger: logger.WithComponent("parser")}
}

// OpenFile opens filePath, rejecting files whose leading lines are not UTF-8
// when encoding validation is on.
func (bp *BaseParser) OpenFile(filePath string) (*os.File, error) {
	file, err := os.Open(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open export")
		code := errors.CodeInvalidFormat
		if os.IsNotExist(err) {
			code = errors.CodeFileNotFound
		} else if os.IsPermission(err) {
			code = errors.CodeFilePermission
		}
		return nil, errors.FileError(code, filePath, err)
	}
	if !bp.config.ValidateEncoding {
		return file, nil
	}

	if err := checkUTF8(file, filePath); err != nil {
		file.Close()
		return nil, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, errors.FileError(errors.CodeInvalidFormat, filePath, err)
	}
	return file, nil
}

func checkUTF8(r io.Reader, filePath string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; line <= encodingCheckLines && scanner.Scan(); line++ {
		if utf8.Valid(scanner.Bytes()) {
			continue
		}
		return errors.ParseError(errors.CodeInvalidFormat, filePath, line, "encoding", "",
			fmt.Errorf("invalid UTF-8 encoding detected")).
			WithSuggestion("Save the export in UTF-8 encoding and try again")
	}
	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeInvalidFormat, filePath, err)
	}
	return nil
}

// cursor walks the records of one export, tracking the current line and
// the header positions.
type cursor struct {
	ctx       context.Context
	reader    *csv.Reader
	source    string
	line      int
	headers   []string
	positions map[string]int
	skipEmpty bool
}

func (bp *BaseParser) newCursor(ctx context.Context, r io.Reader, source string) *cursor {
	if ctx == nil {
		ctx = context.Background()
	}
	reader := csv.NewReader(r)
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1

	return &cursor{
		ctx:       ctx,
		reader:    reader,
		source:    source,
		positions: map[string]int{},
		skipEmpty: bp.config.SkipEmptyRows,
	}
}

// readHeader consumes the header row. Names are matched case-insensitively
// and the first occurrence of a duplicate wins.
func (c *cursor) readHeader(required []string) error {
	headers, err := c.reader.Read()
	if err == io.EOF {
		return errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
			WithSuggestion("Ensure the export contains a header and data rows")
	}
	if err != nil {
		return errors.ParseError(errors.CodeInvalidFormat, c.source, 1, "headers", "", err).
			WithSuggestion("Check the export is a valid CSV file")
	}
	c.line++

	c.headers = make([]string, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		c.headers[i] = h
		key := strings.ToLower(h)
		if _, seen := c.positions[key]; !seen {
			c.positions[key] = i
		}
	}

	for _, name := range required {
		if _, ok := c.positions[strings.ToLower(name)]; !ok {
			return errors.MissingColumnError(c.source, required, c.headers)
		}
	}
	return nil
}

// next returns the next record, skipping blank ones when configured, and
// io.EOF at the end of input.
func (c *cursor) next() ([]string, error) {
	for {
		if err := c.ctx.Err(); err != nil {
			return nil, err
		}
		record, err := c.reader.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		c.line++
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidFormat, c.source, c.line, "", "", err)
		}
		if c.skipEmpty && blank(record) {
			continue
		}
		return record, nil
	}
}

// value is the trimmed cell of column in record, "" when absent.
func (c *cursor) value(record []string, column string) string {
	i, ok := c.positions[strings.ToLower(column)]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func blank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// ParseStats counts what a parse consumed
type ParseStats struct {
	Source       string `json:"source"`
	LinesRead    int    `json:"lines_read"`
	RowsParsed   int    `json:"rows_parsed"`
	RowsRejected int    `json:"rows_rejected"`
}

func (ps ParseStats) String() string {
	return fmt.Sprintf("%s: %d lines read, %d rows parsed, %d rejected",
		ps.Source, ps.LinesRead, ps.RowsParsed, ps.RowsRejected)
}
