package statement

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/bankanalyzer/bank-analyzer/pkg/api"
)

// Probe is a cheap structural check on one header line.
type Probe struct {
	// Line is the 0-based line index inspected.
	Line int
	// Contains must appear in that line.
	Contains string
}

// Matches reports whether the probe holds for the given leading lines.
func (p Probe) Matches(lines []string) bool {
	if p.Line < 0 || p.Line >= len(lines) {
		return false
	}
	return strings.Contains(lines[p.Line], p.Contains)
}

// Columns maps semantic roles to 0-based field indexes.
type Columns struct {
	Date     int
	Amount   int
	Currency int
}

// DescriptionPart contributes one column to the narrative, with an optional label.
type DescriptionPart struct {
	Column int
	Label  string
}

// DescriptionSpec says how the narrative text is assembled from a row.
type DescriptionSpec struct {
	Parts     []DescriptionPart
	Separator string
	// StripLabel is removed from each part before it is joined.
	StripLabel *regexp.Regexp
}

// CounterpartyRule is one counterparty extraction attempt. Rules are tried in
// declared order and the first one producing a candidate wins.
type CounterpartyRule struct {
	Name    string
	Columns []int
	// Pattern selects the candidate from a column (group 1 if present).
	// A nil pattern takes the whole column.
	Pattern *regexp.Regexp
	// SkipPrefixes excludes columns carrying purely technical data.
	SkipPrefixes []string
	// Remove is stripped from the candidate, in order.
	Remove []*regexp.Regexp
	// Cut truncates the candidate at the first match.
	Cut *regexp.Regexp
	// MaxWords keeps at most that many words when positive.
	MaxWords int
	// MinLength is the minimum rune count of an accepted candidate.
	MinLength int
}

// Extract applies the rule to a row.
func (r CounterpartyRule) Extract(fields []string) (string, bool) {
	for _, col := range r.Columns {
		if col < 0 || col >= len(fields) {
			continue
		}
		text := strings.TrimSpace(fields[col])
		if text == "" || hasAnyPrefix(text, r.SkipPrefixes) {
			continue
		}

		if r.Pattern != nil {
			m := r.Pattern.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			text = m[0]
			if len(m) > 1 {
				text = m[1]
			}
		}

		text = NormalizeSpace(text)
		for _, re := range r.Remove {
			text = re.ReplaceAllString(text, "")
		}
		if r.Cut != nil {
			if loc := r.Cut.FindStringIndex(text); loc != nil {
				text = text[:loc[0]]
			}
		}
		if r.MaxWords > 0 {
			if words := strings.Fields(text); len(words) > r.MaxWords {
				text = strings.Join(words[:r.MaxWords], " ")
			}
		}

		text = NormalizeSpace(text)
		if text != "" && utf8.RuneCountInString(text) >= max(r.MinLength, 1) {
			return text, true
		}
	}
	return "", false
}

// Descriptor is the immutable description of one bank's CSV dialect.
type Descriptor struct {
	// Name is recorded as the transaction's source bank.
	Name             string
	Encoding         string
	FallbackEncoding string
	Delimiter        rune
	// SkipRows is the number of metadata and header rows before data.
	SkipRows   int
	MinColumns int
	Columns    Columns
	// DateLayouts are tried in order.
	DateLayouts      []string
	DecimalSeparator rune
	DefaultCurrency  string
	Description      DescriptionSpec
	Counterparty     []CounterpartyRule
	// Probes match when any one of them holds.
	Probes []Probe
}

// Matches reports whether the header lines belong to this dialect.
func (d *Descriptor) Matches(lines []string) bool {
	for _, p := range d.Probes {
		if p.Matches(lines) {
			return true
		}
	}
	return false
}

// probeDepth is the number of leading lines the probes need.
func (d *Descriptor) probeDepth() int {
	depth := 0
	for _, p := range d.Probes {
		depth = max(depth, p.Line+1)
	}
	return depth
}

// ParseRow turns one delimited row into a transaction. row is the 1-based
// line number used in errors. Blank rows yield (nil, nil).
func (d *Descriptor) ParseRow(fields []string, row int, source string) (*api.Transaction, error) {
	if isBlank(fields) {
		return nil, nil
	}
	if len(fields) < d.MinColumns {
		return nil, newRowError(row, ErrTooFewColumns,
			fmt.Sprintf("too few columns: got %d, want at least %d", len(fields), d.MinColumns))
	}

	rawDate := field(fields, d.Columns.Date)
	date, err := d.parseDate(rawDate)
	if err != nil {
		return nil, newRowError(row, ErrInvalidDate, fmt.Sprintf("invalid date %q", rawDate))
	}

	rawAmount := field(fields, d.Columns.Amount)
	amount, err := d.parseAmount(rawAmount)
	if err != nil {
		return nil, newRowError(row, ErrInvalidAmount, fmt.Sprintf("invalid amount %q", rawAmount))
	}

	currency := field(fields, d.Columns.Currency)
	if currency == "" {
		currency = d.DefaultCurrency
	}

	txn := api.NewTransaction(date, d.description(fields), d.counterparty(fields), amount, currency)
	txn.SourceBank = d.Name
	txn.SourceFile = source
	return txn, nil
}

func (d *Descriptor) parseDate(s string) (civil.Date, error) {
	var lastErr error
	for _, layout := range d.DateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return civil.DateOf(t), nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no date layout configured")
	}
	return civil.Date{}, lastErr
}

var dotGrouped = regexp.MustCompile(`^[+-]?\d{1,3}(?:\.\d{3})+$`)

// parseAmount parses a signed amount exactly. Whitespace and the thousands
// separator implied by DecimalSeparator are dropped.
func (d *Descriptor) parseAmount(s string) (decimal.Decimal, error) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	switch d.DecimalSeparator {
	case ',':
		// A dot is grouping next to a comma or before three-digit groups,
		// otherwise it is the decimal mark.
		if strings.Contains(clean, ",") || dotGrouped.MatchString(clean) {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.ReplaceAll(clean, ",", ".")
		}
	default:
		// A lone comma is read as the decimal mark.
		if strings.Contains(clean, ".") {
			clean = strings.ReplaceAll(clean, ",", "")
		} else {
			clean = strings.ReplaceAll(clean, ",", ".")
		}
	}

	clean = strings.TrimPrefix(clean, "+")
	if clean == "" {
		return decimal.Decimal{}, errors.New("empty amount")
	}
	return decimal.NewFromString(clean)
}

func (d *Descriptor) description(fields []string) string {
	spec := d.Description
	parts := make([]string, 0, len(spec.Parts))
	for _, p := range spec.Parts {
		text := field(fields, p.Column)
		if spec.StripLabel != nil {
			text = strings.TrimSpace(spec.StripLabel.ReplaceAllString(text, ""))
		}
		if text == "" {
			continue
		}
		parts = append(parts, p.Label+text)
	}
	return NormalizeSpace(strings.Join(parts, spec.Separator))
}

func (d *Descriptor) counterparty(fields []string) string {
	for _, rule := range d.Counterparty {
		if name, ok := rule.Extract(fields); ok {
			return name
		}
	}
	return api.UnknownCounterparty
}

// NormalizeSpace collapses runs of whitespace and trims the result.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func field(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
