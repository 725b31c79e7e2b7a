package report

import (
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/bankanalyzer/bank-analyzer/pkg/aggregator"
	"github.com/bankanalyzer/bank-analyzer/pkg/api"
)

// Options controls document construction.
type Options struct {
	// IncludeTransactions embeds each month bucket's transactions.
	IncludeTransactions bool
	RunID               string
	Now                 func() time.Time
}

// Document is the JSON form of an aggregation result. Amounts become
// floats only here.
type Document struct {
	GeneratedAt        string             `json:"generated_at"`
	RunID              string             `json:"run_id,omitempty"`
	Summary            aggregator.Summary `json:"summary"`
	Years              map[string]YearDoc `json:"years"`
	Uncategorized      []TransactionDoc   `json:"uncategorized"`
	UncategorizedCount int                `json:"uncategorized_count"`
}

// YearDoc is one year of a Document.
type YearDoc struct {
	TotalYear        float64                        `json:"total_year"`
	TotalYearIncome  float64                        `json:"total_year_income"`
	TotalYearExpense float64                        `json:"total_year_expense"`
	Months           map[string]MonthDoc            `json:"months"`
	Categories       map[string]map[string]TotalDoc `json:"categories"`
}

// MonthDoc is one month of a YearDoc.
type MonthDoc struct {
	Total        float64                        `json:"total"`
	TotalIncome  float64                        `json:"total_income"`
	TotalExpense float64                        `json:"total_expense"`
	Categories   map[string]map[string]TotalDoc `json:"categories"`
}

// TotalDoc is a subtotal, optionally with its transactions.
type TotalDoc struct {
	Total        float64          `json:"total"`
	Count        int              `json:"count"`
	Transactions []TransactionDoc `json:"transactions,omitempty"`
}

// TransactionDoc is the JSON form of a transaction.
type TransactionDoc struct {
	ID              string  `json:"id"`
	Date            string  `json:"date"`
	Description     string  `json:"description"`
	Counterparty    string  `json:"counterparty"`
	Amount          float64 `json:"amount"`
	TransactionType string  `json:"transaction_type"`
	Currency        string  `json:"currency"`
	CategoryMain    string  `json:"category_main"`
	CategorySub     string  `json:"category_sub"`
	ManualOverride  bool    `json:"manual_override"`
	SourceBank      string  `json:"source_bank"`
	SourceFile      string  `json:"source_file,omitempty"`
}

// NewDocument converts r. Years and months are keyed by their decimal number.
func NewDocument(r *aggregator.Result, opts Options) Document {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	doc := Document{
		GeneratedAt:        now().Format(time.RFC3339),
		RunID:              opts.RunID,
		Summary:            r.Summary,
		Years:              make(map[string]YearDoc, len(r.Years)),
		Uncategorized:      TransactionDocs(r.Uncategorized),
		UncategorizedCount: len(r.Uncategorized),
	}

	for year, y := range r.Years {
		yd := YearDoc{
			TotalYear:        toFloat(y.Total),
			TotalYearIncome:  toFloat(y.TotalIncome),
			TotalYearExpense: toFloat(y.TotalExpense),
			Months:           make(map[string]MonthDoc, len(y.Months)),
			Categories:       make(map[string]map[string]TotalDoc, len(y.Categories)),
		}
		for main, subs := range y.Categories {
			yd.Categories[main] = make(map[string]TotalDoc, len(subs))
			for sub, st := range subs {
				yd.Categories[main][sub] = TotalDoc{Total: toFloat(st.Total), Count: st.Count}
			}
		}

		for month, m := range y.Months {
			md := MonthDoc{
				Total:        toFloat(m.Total),
				TotalIncome:  toFloat(m.TotalIncome),
				TotalExpense: toFloat(m.TotalExpense),
				Categories:   make(map[string]map[string]TotalDoc, len(m.Categories)),
			}
			for main, subs := range m.Categories {
				md.Categories[main] = make(map[string]TotalDoc, len(subs))
				for sub, b := range subs {
					td := TotalDoc{Total: toFloat(b.Total), Count: b.Count}
					if opts.IncludeTransactions {
						td.Transactions = TransactionDocs(b.Transactions)
					}
					md.Categories[main][sub] = td
				}
			}
			yd.Months[strconv.Itoa(month)] = md
		}
		doc.Years[strconv.Itoa(year)] = yd
	}

	return doc
}

// Result rebuilds an aggregation result from the document. Totals and counts
// survive the trip; transactions only if they were included.
func (d Document) Result() (*aggregator.Result, error) {
	r := aggregator.NewResult()
	r.Summary = d.Summary

	for yearKey, yd := range d.Years {
		year, err := strconv.Atoi(yearKey)
		if err != nil {
			return nil, fmt.Errorf("invalid year key %q: %w", yearKey, err)
		}
		y := r.Year(year)
		y.Total = fromFloat(yd.TotalYear)
		y.TotalIncome = fromFloat(yd.TotalYearIncome)
		y.TotalExpense = fromFloat(yd.TotalYearExpense)

		for main, subs := range yd.Categories {
			for sub, td := range subs {
				st := y.Subtotal(main, sub)
				st.Total = fromFloat(td.Total)
				st.Count = td.Count
			}
		}

		for monthKey, md := range yd.Months {
			month, err := strconv.Atoi(monthKey)
			if err != nil || month < 1 || month > 12 {
				return nil, fmt.Errorf("invalid month key %q in year %d", monthKey, year)
			}
			m := y.Month(month)
			m.Total = fromFloat(md.Total)
			m.TotalIncome = fromFloat(md.TotalIncome)
			m.TotalExpense = fromFloat(md.TotalExpense)

			for main, subs := range md.Categories {
				for sub, td := range subs {
					b := m.Bucket(main, sub)
					b.Total = fromFloat(td.Total)
					b.Count = td.Count
					for _, txd := range td.Transactions {
						t, err := txd.Transaction()
						if err != nil {
							return nil, err
						}
						b.Transactions = append(b.Transactions, t)
					}
				}
			}
		}
	}

	for _, txd := range d.Uncategorized {
		t, err := txd.Transaction()
		if err != nil {
			return nil, err
		}
		r.Uncategorized = append(r.Uncategorized, t)
	}

	return r, nil
}

// TransactionDocs converts txns, preserving order.
func TransactionDocs(txns []*api.Transaction) []TransactionDoc {
	out := make([]TransactionDoc, 0, len(txns))
	for _, t := range txns {
		out = append(out, TransactionDoc{
			ID:              t.ID,
			Date:            t.Date.String(),
			Description:     t.Description,
			Counterparty:    t.Counterparty,
			Amount:          toFloat(t.Amount),
			TransactionType: string(t.Type),
			Currency:        t.Currency,
			CategoryMain:    t.CategoryMain,
			CategorySub:     t.CategorySub,
			ManualOverride:  t.ManualOverride,
			SourceBank:      t.SourceBank,
			SourceFile:      t.SourceFile,
		})
	}
	return out
}

// Transaction converts the document form back.
func (td TransactionDoc) Transaction() (*api.Transaction, error) {
	date, err := civil.ParseDate(td.Date)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: invalid date: %w", td.ID, err)
	}
	return &api.Transaction{
		ID:             td.ID,
		Date:           date,
		Description:    td.Description,
		Counterparty:   td.Counterparty,
		Amount:         fromFloat(td.Amount),
		Type:           api.TransactionType(td.TransactionType),
		Currency:       td.Currency,
		CategoryMain:   td.CategoryMain,
		CategorySub:    td.CategorySub,
		ManualOverride: td.ManualOverride,
		SourceBank:     td.SourceBank,
		SourceFile:     td.SourceFile,
	}, nil
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

func fromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}
