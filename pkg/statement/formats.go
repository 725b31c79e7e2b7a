package statement

import "regexp"

var (
	pkoLabel = regexp.MustCompile(`(?i)^(?:Tytu[łl]|Title|Lokalizacja|Location|Nazwa odbiorcy|Recipient name|` +
		`Adres|Address|Rachunek odbiorcy|Recipient account|Data wykonania|Execution date|` +
		`Oryginalna kwota|Original amount|Numer karty|Card number|Numer telefonu|Phone number|` +
		`Operacja|Operation|Numer referencyjny|Reference number):\s*`)

	pkoRecipient = regexp.MustCompile(`(?i)(?:Nazwa odbiorcy|Recipient name):\s*(.+)`)
	pkoAddress   = regexp.MustCompile(`(?i)(?:Adres|Address):\s*(.+?)\s*(?:Miasto:|City:|Kraj:|Country:|$)`)
	pkoTitle     = regexp.MustCompile(`(?i)^(?:Tytu[łl]|Title):\s*`)
	pkoCut       = regexp.MustCompile(`,\s+|\s+\d{2}`)

	aliorCountry = regexp.MustCompile(`(?i)^(.+?)\s+PL\s*$`)

	cardSuffix = regexp.MustCompile(`\s+K\.\d+`)
	isoDate    = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	dmyDate    = regexp.MustCompile(`\d{2}[-.]\d{2}[-.]\d{4}`)
)

var pkoNarrative = []int{6, 7, 8, 9, 10, 11}

// PKO is the PKO BP export: comma separated, one header row, ISO dates.
var PKO = &Descriptor{
	Name:             "PKO",
	Encoding:         "windows-1250",
	FallbackEncoding: "utf-8",
	Delimiter:        ',',
	SkipRows:         1,
	MinColumns:       6,
	Columns:          Columns{Date: 0, Amount: 3, Currency: 4},
	DateLayouts:      []string{"2006-01-02"},
	DecimalSeparator: '.',
	DefaultCurrency:  "PLN",
	Description: DescriptionSpec{
		Parts: []DescriptionPart{
			{Column: 6}, {Column: 7}, {Column: 8}, {Column: 9}, {Column: 10}, {Column: 11},
		},
		Separator:  " ",
		StripLabel: pkoLabel,
	},
	Counterparty: []CounterpartyRule{
		{Name: "recipient", Columns: pkoNarrative, Pattern: pkoRecipient, MinLength: 1},
		{Name: "address", Columns: pkoNarrative, Pattern: pkoAddress, Remove: []*regexp.Regexp{cardSuffix}, MinLength: 3},
		{
			Name:    "narrative",
			Columns: pkoNarrative,
			SkipPrefixes: []string{
				"Data", "Oryginalna", "Numer", "Operacja",
				"Date", "Original", "Card number", "Phone number", "Reference number", "Operation",
			},
			Remove:    []*regexp.Regexp{pkoTitle},
			Cut:       pkoCut,
			MinLength: 3,
		},
	},
	Probes: []Probe{
		{Line: 0, Contains: "Data operacji"},
		{Line: 0, Contains: "Operation date"},
	},
}

// Alior is the Alior Bank export: semicolon separated, a metadata line
// followed by the header, day-first dates and decimal commas.
var Alior = &Descriptor{
	Name:             "ALIOR",
	Encoding:         "windows-1250",
	FallbackEncoding: "utf-8",
	Delimiter:        ';',
	SkipRows:         2,
	MinColumns:       7,
	Columns:          Columns{Date: 0, Amount: 5, Currency: 6},
	DateLayouts:      []string{"02-01-2006", "02.01.2006"},
	DecimalSeparator: ',',
	DefaultCurrency:  "PLN",
	Description: DescriptionSpec{
		Parts: []DescriptionPart{
			{Column: 2, Label: "Od: "},
			{Column: 3, Label: "Do: "},
			{Column: 4},
		},
		Separator: " | ",
	},
	Counterparty: []CounterpartyRule{
		{Name: "sender", Columns: []int{2}, MinLength: 1},
		{Name: "recipient", Columns: []int{3}, MinLength: 1},
		{Name: "country-suffix", Columns: []int{4}, Pattern: aliorCountry, MinLength: 1},
		{
			Name:      "leading-words",
			Columns:   []int{4},
			Remove:    []*regexp.Regexp{cardSuffix, isoDate, dmyDate},
			MaxWords:  3,
			MinLength: 3,
		},
	},
	Probes: []Probe{
		// Probe tokens stay ASCII so they survive any 8-bit decoding.
		{Line: 1, Contains: "Data transakcji;Data ksi"},
		{Line: 1, Contains: "Transaction date;Posting date"},
	},
}

// Builtin returns the built-in descriptors in probe order. PKO is probed
// before Alior.
func Builtin() []*Descriptor {
	return []*Descriptor{PKO, Alior}
}
