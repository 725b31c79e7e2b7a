// Package api defines the core interfaces and data structures for bank-analyzer.
package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Sentinel values used when extraction or categorization comes up empty.
const (
	UnknownCounterparty = "Unknown"
	OtherCategory       = "Other"
	UnassignedCategory  = "Unassigned"
)

// idLength is the number of hex characters kept from the content hash.
const idLength = 16

// TransactionType tells whether money left or entered the account.
type TransactionType string

const (
	Expense TransactionType = "expense"
	Income  TransactionType = "income"
)

// Category is a (main, sub) pair from the taxonomy.
type Category struct {
	Main string `json:"category_main"`
	Sub  string `json:"category_sub"`
}

// Unassigned is the pair returned when no rule matches.
var Unassigned = Category{Main: OtherCategory, Sub: UnassignedCategory}

// IsUnassigned reports whether the subcategory is the unassigned sentinel.
func (c Category) IsUnassigned() bool {
	return c.Sub == UnassignedCategory
}

func (c Category) String() string {
	return c.Main + " / " + c.Sub
}

// Transaction is a single normalized statement entry.
type Transaction struct {
	ID           string          `json:"id"`
	Date         civil.Date      `json:"date"`
	Description  string          `json:"description"`
	Counterparty string          `json:"counterparty"`
	// Amount is always non-negative; Type carries the sign.
	Amount         decimal.Decimal `json:"amount"`
	Type           TransactionType `json:"transaction_type"`
	Currency       string          `json:"currency"`
	CategoryMain   string          `json:"category_main,omitempty"`
	CategorySub    string          `json:"category_sub,omitempty"`
	ManualOverride bool            `json:"manual_override"`
	SourceBank     string          `json:"source_bank"`
	SourceFile     string          `json:"source_file"`
}

// TransactionID derives the stable identifier for a (date, description, amount) triple.
// The date is hashed as a midnight timestamp and the amount in its two-decimal
// form, which keeps ids compatible with override logs written by earlier
// releases for two-decimal statement amounts.
func TransactionID(date civil.Date, description string, amount decimal.Decimal) string {
	sum := sha256.Sum256([]byte(date.String() + "T00:00:00" + description + amount.StringFixed(2)))
	return hex.EncodeToString(sum[:])[:idLength]
}

// NewTransaction builds a transaction from a signed amount and fills in its ID.
func NewTransaction(date civil.Date, description, counterparty string, signed decimal.Decimal, currency string) *Transaction {
	typ := Income
	if signed.IsNegative() {
		typ = Expense
	}
	if counterparty == "" {
		counterparty = UnknownCounterparty
	}
	amount := signed.Abs()

	return &Transaction{
		ID:           TransactionID(date, description, amount),
		Date:         date,
		Description:  description,
		Counterparty: counterparty,
		Amount:       amount,
		Type:         typ,
		Currency:     currency,
	}
}

// Category returns the assigned category pair.
func (t *Transaction) Category() Category {
	return Category{Main: t.CategoryMain, Sub: t.CategorySub}
}

// SetCategory attaches a category pair, recording whether it was forced manually.
func (t *Transaction) SetCategory(c Category, manual bool) {
	t.CategoryMain = c.Main
	t.CategorySub = c.Sub
	t.ManualOverride = manual
}

// Signed returns the amount with its sign restored (negative for expenses).
func (t *Transaction) Signed() decimal.Decimal {
	if t.Type == Expense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Writer consumes categorized transactions from a channel and writes them to a destination.
type Writer interface {
	Write(ctx context.Context, in <-chan *Transaction) error
}

// RuleConfig is one categorization rule as it appears in a rules file.
type RuleConfig struct {
	Name          string `koanf:"name" yaml:"name" json:"name"`
	Pattern       string `koanf:"pattern" yaml:"pattern" json:"pattern"`
	Field         string `koanf:"field" yaml:"field" json:"field"`
	MatchType     string `koanf:"match_type" yaml:"match_type" json:"match_type"`
	CaseSensitive bool   `koanf:"case_sensitive" yaml:"case_sensitive" json:"case_sensitive"`
	Priority      int    `koanf:"priority" yaml:"priority" json:"priority"`
	CategoryMain  string `koanf:"category_main" yaml:"category_main" json:"category_main"`
	CategorySub   string `koanf:"category_sub" yaml:"category_sub" json:"category_sub"`
}

// ExcludeConfig drops matching transactions before aggregation.
type ExcludeConfig struct {
	Name          string `koanf:"name" yaml:"name" json:"name"`
	Pattern       string `koanf:"pattern" yaml:"pattern" json:"pattern"`
	Field         string `koanf:"field" yaml:"field" json:"field"`
	MatchType     string `koanf:"match_type" yaml:"match_type" json:"match_type"`
	CaseSensitive bool   `koanf:"case_sensitive" yaml:"case_sensitive" json:"case_sensitive"`
	Reason        string `koanf:"reason" yaml:"reason" json:"reason"`
}

// TaxonomyEntry is one main category with its allowed subcategories.
type TaxonomyEntry struct {
	Name          string   `koanf:"name" yaml:"name" json:"name"`
	Subcategories []string `koanf:"subcategories" yaml:"subcategories" json:"subcategories"`
}

// Override is one record of the persisted override log.
type Override struct {
	TransactionID string `yaml:"transaction_id" json:"transaction_id"`
	CategoryMain  string `yaml:"category_main" json:"category_main"`
	CategorySub   string `yaml:"category_sub" json:"category_sub"`
	Note          string `yaml:"note,omitempty" json:"note,omitempty"`
	DateAdded     string `yaml:"date_added" json:"date_added"`
}

// Category returns the forced category pair.
func (o Override) Category() Category {
	return Category{Main: o.CategoryMain, Sub: o.CategorySub}
}
