package statement

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bankanalyzer/bank-analyzer/pkg/api"
)

// Statement is the outcome of parsing one file.
type Statement struct {
	Path         string
	Bank         string
	Encoding     string
	Transactions []*api.Transaction
	RowErrors    []*RowError
}

// Parser detects and parses statement files. Row failures are collected on
// the Statement and never abort the file.
type Parser struct {
	detector *Detector
	logger   *slog.Logger
}

// NewParser creates a parser backed by the given detector.
func NewParser(detector *Detector, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	if detector == nil {
		detector = NewDetector(nil, logger)
	}
	return &Parser{detector: detector, logger: logger}
}

// Detector returns the detector used by the parser.
func (p *Parser) Detector() *Detector {
	return p.detector
}

// ParseFile reads, detects and parses the file at path.
func (p *Parser) ParseFile(path string) (*Statement, error) {
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading statement: %w", err)
	}

	return p.Parse(path, data)
}

// Parse detects the format of data and parses every row.
func (p *Parser) Parse(path string, data []byte) (*Statement, error) {
	desc, err := p.detector.Detect(path, data)
	if err != nil {
		return nil, err
	}
	return p.ParseWith(desc, path, data)
}

// ParseWith parses data using a known descriptor.
func (p *Parser) ParseWith(desc *Descriptor, path string, data []byte) (*Statement, error) {
	source := filepath.Base(path)

	text, encoding, err := Decode(data, desc.Encoding, desc.FallbackEncoding)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", source, err)
	}

	st := &Statement{
		Path:     path,
		Bank:     desc.Name,
		Encoding: encoding,
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = desc.Delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	for skipped := 0; skipped < desc.SkipRows; skipped++ {
		if _, err := r.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Header rows are not data; a malformed one is still skipped.
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return nil, fmt.Errorf("reading header of %s: %w", source, err)
			}
		}
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return nil, fmt.Errorf("reading %s: %w", source, err)
			}
			st.addRowError(p.logger, source, newRowError(pe.StartLine, ErrMalformedRow, pe.Err.Error()))
			continue
		}

		row, _ := r.FieldPos(0)
		txn, err := desc.ParseRow(record, row, source)
		if err != nil {
			var rowErr *RowError
			if !errors.As(err, &rowErr) {
				rowErr = newRowError(row, err, err.Error())
			}
			st.addRowError(p.logger, source, rowErr)
			continue
		}
		if txn == nil {
			continue
		}
		st.Transactions = append(st.Transactions, txn)
	}

	p.logger.Info("parsed statement",
		"file", source,
		"bank", desc.Name,
		"encoding", encoding,
		"transactions", len(st.Transactions),
		"skipped", len(st.RowErrors),
	)
	return st, nil
}

func (st *Statement) addRowError(logger *slog.Logger, source string, rowErr *RowError) {
	st.RowErrors = append(st.RowErrors, rowErr)
	logger.Warn("skipping row", "file", source, "row", rowErr.Row, "error", rowErr.Reason)
}
