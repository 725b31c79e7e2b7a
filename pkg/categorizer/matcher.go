package categorizer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bankanalyzer/bank-analyzer/pkg/api"
)

var (
	// ErrInvalidPattern is matched by every InvalidPatternError.
	ErrInvalidPattern = errors.New("invalid rule pattern")
	// ErrInvalidRule is returned for rules with an unknown field or match type
	// or a missing pattern or category.
	ErrInvalidRule = errors.New("invalid rule")
)

// InvalidPatternError names the rule whose regular expression failed to compile.
type InvalidPatternError struct {
	Rule    string
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("rule %q: invalid pattern %q: %v", e.Rule, e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

// Is reports ErrInvalidPattern as a match.
func (e *InvalidPatternError) Is(target error) bool { return target == ErrInvalidPattern }

// Field names a transaction field a rule matches against.
type Field string

const (
	FieldCounterparty Field = "counterparty"
	FieldDescription  Field = "description"
)

// MatchType selects how the pattern is compared with the field value.
type MatchType string

const (
	MatchContains   MatchType = "contains"
	MatchExact      MatchType = "exact"
	MatchStartsWith MatchType = "startswith"
	MatchEndsWith   MatchType = "endswith"
	MatchRegex      MatchType = "regex"
)

type matcher struct {
	field         Field
	matchType     MatchType
	pattern       string
	caseSensitive bool
	re            *regexp.Regexp
}

func newMatcher(name, pattern, field, matchType string, caseSensitive bool) (matcher, error) {
	m := matcher{
		field:         Field(strings.ToLower(field)),
		matchType:     MatchType(strings.ToLower(matchType)),
		caseSensitive: caseSensitive,
	}
	if m.field == "" {
		m.field = FieldCounterparty
	}
	if m.matchType == "" {
		m.matchType = MatchContains
	}

	if pattern == "" {
		return matcher{}, fmt.Errorf("%w %q: empty pattern", ErrInvalidRule, name)
	}
	switch m.field {
	case FieldCounterparty, FieldDescription:
	default:
		return matcher{}, fmt.Errorf("%w %q: unknown field %q", ErrInvalidRule, name, field)
	}

	switch m.matchType {
	case MatchContains, MatchExact, MatchStartsWith, MatchEndsWith:
		m.pattern = pattern
		if !caseSensitive {
			m.pattern = strings.ToLower(pattern)
		}
	case MatchRegex:
		expr := pattern
		if !caseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return matcher{}, &InvalidPatternError{Rule: name, Pattern: pattern, Err: err}
		}
		m.pattern = pattern
		m.re = re
	default:
		return matcher{}, fmt.Errorf("%w %q: unknown match type %q", ErrInvalidRule, name, matchType)
	}

	return m, nil
}

func (m matcher) value(t *api.Transaction) string {
	if m.field == FieldDescription {
		return t.Description
	}
	return t.Counterparty
}

func (m matcher) match(t *api.Transaction) bool {
	v := m.value(t)
	if m.re != nil {
		return m.re.MatchString(v)
	}
	if !m.caseSensitive {
		v = strings.ToLower(v)
	}

	switch m.matchType {
	case MatchExact:
		return v == m.pattern
	case MatchStartsWith:
		return strings.HasPrefix(v, m.pattern)
	case MatchEndsWith:
		return strings.HasSuffix(v, m.pattern)
	default:
		return strings.Contains(v, m.pattern)
	}
}
