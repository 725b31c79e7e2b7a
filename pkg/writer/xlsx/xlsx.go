// Package xlsx exports an aggregation result to a multi-sheet workbook: one
// sheet per year, an uncategorized sheet and an all-transactions sheet.
package xlsx

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/bankanalyzer/bank-analyzer/pkg/aggregator"
	"github.com/bankanalyzer/bank-analyzer/pkg/api"
	"github.com/bankanalyzer/bank-analyzer/pkg/report"
)

// Sheet and column labels.
const (
	UncategorizedSheet = "Nieprzypisane"
	AllSheet           = "Wszystkie transakcje"

	categoryLabel     = "Kategoria"
	yearTotalLabel    = "SUMA ROCZNA"
	monthlyTotalLabel = "SUMA MIESIĘCZNA"
	subIndent         = "  "
	descriptionLimit  = 100
	headerRow         = 3
)

// MonthNames are the short month column headers.
var MonthNames = [12]string{"Sty", "Lut", "Mar", "Kwi", "Maj", "Cze", "Lip", "Sie", "Wrz", "Paź", "Lis", "Gru"}

// YearSheet names the sheet of one year.
func YearSheet(year int) string {
	return "Rok " + strconv.Itoa(year)
}

// Config holds configuration for the workbook writer.
type Config struct {
	// FilePath is the output workbook.
	FilePath string
	// CategoryOrder lists main categories to place first on year sheets.
	CategoryOrder []string
	// Now defaults to time.Now; it stamps backup names.
	Now func() time.Time
}

// Writer exports workbooks.
type Writer struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a workbook writer.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		return nil, errors.New("xlsx writer: file path is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Writer{cfg: cfg, logger: logger}, nil
}

// Export writes r to the configured path. An existing file is first renamed
// to a timestamped backup, whose path is returned (empty if there was none).
func (w *Writer) Export(r *aggregator.Result) (string, error) {
	backup, err := w.backup()
	if err != nil {
		return "", err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			w.logger.Warn("closing workbook", "error", err)
		}
	}()

	st, err := newStyles(f)
	if err != nil {
		return backup, err
	}

	for _, layout := range report.BuildAll(r, w.cfg.CategoryOrder) {
		if err := writeYear(f, st, layout); err != nil {
			return backup, fmt.Errorf("writing year %d: %w", layout.Year, err)
		}
	}
	if err := writeUncategorized(f, st, r.Uncategorized); err != nil {
		return backup, fmt.Errorf("writing uncategorized sheet: %w", err)
	}
	if err := writeAll(f, st, r.All); err != nil {
		return backup, fmt.Errorf("writing transactions sheet: %w", err)
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		return backup, fmt.Errorf("removing default sheet: %w", err)
	}
	f.SetActiveSheet(0)

	if err := f.SaveAs(w.cfg.FilePath); err != nil {
		return backup, fmt.Errorf("saving workbook: %w", err)
	}

	w.logger.Info("wrote workbook",
		"file", w.cfg.FilePath,
		"years", len(r.Years),
		"uncategorized", len(r.Uncategorized),
		"backup", backup,
	)
	return backup, nil
}

func (w *Writer) backup() (string, error) {
	if _, err := os.Stat(w.cfg.FilePath); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("stat workbook: %w", err)
	}

	base := strings.TrimSuffix(w.cfg.FilePath, ".xlsx")
	target := base + ".backup_" + w.cfg.Now().Format("20060102_150405") + ".xlsx"
	if err := os.Rename(w.cfg.FilePath, target); err != nil {
		return "", fmt.Errorf("backing up workbook: %w", err)
	}
	return target, nil
}

type styles struct {
	title, header, category, amount, categoryAmount, total, totalAmount int
	uncatHeader, zebra, zebraAmount                                     int
}

func newStyles(f *excelize.File) (styles, error) {
	var st styles
	defs := []struct {
		dst   *int
		style *excelize.Style
	}{
		{&st.title, &excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}}},
		{&st.header, &excelize.Style{Font: &excelize.Font{Bold: true}, Fill: solid("CCCCCC")}},
		{&st.category, &excelize.Style{Font: &excelize.Font{Bold: true}}},
		{&st.amount, &excelize.Style{NumFmt: 4}},
		{&st.categoryAmount, &excelize.Style{Font: &excelize.Font{Bold: true}, NumFmt: 4}},
		{&st.total, &excelize.Style{Font: &excelize.Font{Bold: true}, Fill: solid("E0E0E0")}},
		{&st.totalAmount, &excelize.Style{Font: &excelize.Font{Bold: true}, Fill: solid("E0E0E0"), NumFmt: 4}},
		{&st.uncatHeader, &excelize.Style{Font: &excelize.Font{Bold: true}, Fill: solid("FFCCCC")}},
		{&st.zebra, &excelize.Style{Fill: solid("F0F0F0")}},
		{&st.zebraAmount, &excelize.Style{Fill: solid("F0F0F0"), NumFmt: 4}},
	}
	for _, d := range defs {
		id, err := f.NewStyle(d.style)
		if err != nil {
			return st, fmt.Errorf("creating style: %w", err)
		}
		*d.dst = id
	}
	return st, nil
}

func solid(color string) excelize.Fill {
	return excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}}
}

func writeYear(f *excelize.File, st styles, layout report.Layout) error {
	sheet := YearSheet(layout.Year)
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	if err := f.SetCellValue(sheet, "A1", fmt.Sprintf("Wydatki - Rok %d", layout.Year)); err != nil {
		return err
	}
	if err := f.MergeCell(sheet, "A1", "N1"); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "A1", st.title); err != nil {
		return err
	}

	header := []any{categoryLabel}
	for _, m := range MonthNames {
		header = append(header, m)
	}
	header = append(header, yearTotalLabel)
	if err := setRow(f, sheet, headerRow, header, st.header, st.header); err != nil {
		return err
	}

	row := headerRow + 1
	for _, r := range layout.Rows {
		if r.Kind == report.MonthlyTotalRow {
			continue
		}
		label, labelStyle, amountStyle := r.Main, st.category, st.categoryAmount
		if r.Kind == report.SubcategoryRow {
			label, labelStyle, amountStyle = subIndent+r.Sub, 0, st.amount
		}
		if err := setRow(f, sheet, row, amountCells(label, r, true), labelStyle, amountStyle); err != nil {
			return err
		}
		row++
	}

	row++
	total := layout.MonthlyTotal()
	if err := setRow(f, sheet, row, amountCells(monthlyTotalLabel, total, false), st.total, st.totalAmount); err != nil {
		return err
	}

	if err := f.SetColWidth(sheet, "A", "A", 35); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "B", "N", 12); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		XSplit:      1,
		YSplit:      headerRow,
		TopLeftCell: "B4",
		ActivePane:  "bottomRight",
	})
}

// amountCells renders a layout row; nil cells stay empty.
func amountCells(label string, r report.Row, skipZero bool) []any {
	cells := make([]any, 0, 14)
	cells = append(cells, label)
	for _, v := range r.Months {
		cells = append(cells, amountCell(v.InexactFloat64(), skipZero))
	}
	return append(cells, amountCell(r.Total.InexactFloat64(), skipZero))
}

func amountCell(v float64, skipZero bool) any {
	if skipZero && v == 0 {
		return nil
	}
	return v
}

// setRow writes cells from column A; the first cell gets labelStyle, the rest
// valueStyle. A zero style id leaves the default.
func setRow(f *excelize.File, sheet string, row int, cells []any, labelStyle, valueStyle int) error {
	for i, v := range cells {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if v != nil {
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
		style := valueStyle
		if i == 0 {
			style = labelStyle
		}
		if style != 0 {
			if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeUncategorized(f *excelize.File, st styles, txns []*api.Transaction) error {
	if _, err := f.NewSheet(UncategorizedSheet); err != nil {
		return err
	}
	header := []any{"Data", "Kontrahent", "Opis", "Kwota", "Bank", "ID"}
	if err := setRow(f, UncategorizedSheet, 1, header, st.uncatHeader, st.uncatHeader); err != nil {
		return err
	}

	for i, t := range txns {
		cells := []any{
			t.Date.String(),
			t.Counterparty,
			truncate(t.Description, descriptionLimit),
			t.Signed().InexactFloat64(),
			t.SourceBank,
			t.ID,
		}
		if err := f.SetSheetRow(UncategorizedSheet, cellName(1, i+2), &cells); err != nil {
			return err
		}
		if err := f.SetCellStyle(UncategorizedSheet, cellName(4, i+2), cellName(4, i+2), st.amount); err != nil {
			return err
		}
	}

	if err := setWidths(f, UncategorizedSheet, []float64{12, 30, 60, 12, 12, 18}); err != nil {
		return err
	}
	return f.AutoFilter(UncategorizedSheet, "A1:"+cellName(len(header), max(len(txns)+1, 2)), nil)
}

func writeAll(f *excelize.File, st styles, txns []*api.Transaction) error {
	if _, err := f.NewSheet(AllSheet); err != nil {
		return err
	}
	header := []any{"Data", "Kontrahent", "Opis", "Kwota", "Kategoria", "Podkategoria", "Bank", "ID"}
	if err := setRow(f, AllSheet, 1, header, st.header, st.header); err != nil {
		return err
	}

	sorted := SortedByDateDesc(txns)
	for i, t := range sorted {
		row := i + 2
		cat := t.Category()
		cells := []any{
			t.Date.String(),
			t.Counterparty,
			truncate(t.Description, descriptionLimit),
			t.Signed().InexactFloat64(),
			cat.Main,
			cat.Sub,
			t.SourceBank,
			t.ID,
		}
		if err := f.SetSheetRow(AllSheet, cellName(1, row), &cells); err != nil {
			return err
		}

		labelStyle, amountStyle := 0, st.amount
		if i%2 == 1 {
			labelStyle, amountStyle = st.zebra, st.zebraAmount
		}
		if labelStyle != 0 {
			if err := f.SetCellStyle(AllSheet, cellName(1, row), cellName(len(header), row), labelStyle); err != nil {
				return err
			}
		}
		if err := f.SetCellStyle(AllSheet, cellName(4, row), cellName(4, row), amountStyle); err != nil {
			return err
		}
	}

	if err := setWidths(f, AllSheet, []float64{12, 30, 60, 12, 20, 20, 12, 18}); err != nil {
		return err
	}
	return f.AutoFilter(AllSheet, "A1:"+cellName(len(header), max(len(sorted)+1, 2)), nil)
}

// SortedByDateDesc returns a copy of txns, newest first. Equal dates keep
// their input order.
func SortedByDateDesc(txns []*api.Transaction) []*api.Transaction {
	out := slices.Clone(txns)
	slices.SortStableFunc(out, func(a, b *api.Transaction) int {
		switch {
		case a.Date.After(b.Date):
			return -1
		case a.Date.Before(b.Date):
			return 1
		}
		return 0
	})
	return out
}

func setWidths(f *excelize.File, sheet string, widths []float64) error {
	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, col, col, width); err != nil {
			return err
		}
	}
	return nil
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
