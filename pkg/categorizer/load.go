package categorizer

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/bankanalyzer/bank-analyzer/pkg/api"
)

// LoadFile reads a YAML rules file with rules, exclude and categories keys.
func LoadFile(path string) (RuleSet, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return RuleSet{}, fmt.Errorf("loading rules file %s: %w", path, err)
	}
	return unmarshal(k)
}

// LoadBytes parses YAML rules content, typically an embedded default.
func LoadBytes(data []byte) (RuleSet, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return RuleSet{}, fmt.Errorf("loading rules: %w", err)
	}
	return unmarshal(k)
}

func unmarshal(k *koanf.Koanf) (RuleSet, error) {
	var set RuleSet
	if err := k.UnmarshalWithConf("", &set, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return RuleSet{}, fmt.Errorf("unmarshaling rules: %w", err)
	}
	return set, nil
}

// TaxonomyWarning is a rule whose category pair is absent from the taxonomy.
type TaxonomyWarning struct {
	Rule     string
	Category api.Category
}

// ValidateTaxonomy lists rules pointing at unknown categories. An empty
// taxonomy disables the check.
func ValidateTaxonomy(rules []api.RuleConfig, taxonomy []api.TaxonomyEntry) []TaxonomyWarning {
	if len(taxonomy) == 0 {
		return nil
	}

	known := make(map[string]map[string]bool, len(taxonomy))
	for _, entry := range taxonomy {
		subs := make(map[string]bool, len(entry.Subcategories))
		for _, s := range entry.Subcategories {
			subs[s] = true
		}
		known[entry.Name] = subs
	}

	var warnings []TaxonomyWarning
	for i, r := range rules {
		subs, ok := known[r.CategoryMain]
		if ok && (len(subs) == 0 || subs[r.CategorySub]) {
			continue
		}
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i+1)
		}
		warnings = append(warnings, TaxonomyWarning{
			Rule:     name,
			Category: api.Category{Main: r.CategoryMain, Sub: r.CategorySub},
		})
	}
	return warnings
}
