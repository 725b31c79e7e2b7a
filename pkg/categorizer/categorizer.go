// Package categorizer assigns (main, sub) categories to transactions using an
// ordered, priority-sorted rule set.
package categorizer

import (
	"cmp"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/bankanalyzer/bank-analyzer/pkg/api"
)

// noMatch marks a cached miss.
const noMatch = -1

// RuleSet is the content of a rules file.
type RuleSet struct {
	Rules      []api.RuleConfig    `koanf:"rules"`
	Exclude    []api.ExcludeConfig `koanf:"exclude"`
	Categories []api.TaxonomyEntry `koanf:"categories"`
}

type rule struct {
	name     string
	priority int
	category api.Category
	matcher
}

type exclusion struct {
	name   string
	reason string
	matcher
}

// Engine evaluates rules in descending priority order, ties keeping their
// declared order. Results are memoized by (counterparty, description).
type Engine struct {
	mu           sync.Mutex
	configs      []api.RuleConfig
	rules        []rule
	excludes     []exclusion
	cache        map[string]int
	stats        map[string]int
	excludeStats map[string]int
	logger       *slog.Logger
}

// New creates an engine and loads the rule set. Any invalid rule fails the
// whole load. Categories referenced by rules but missing from a non-empty
// taxonomy are logged as warnings.
func New(set RuleSet, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cache:        make(map[string]int),
		stats:        make(map[string]int),
		excludeStats: make(map[string]int),
		logger:       logger,
	}
	if err := e.Load(set.Rules); err != nil {
		return nil, err
	}
	if err := e.LoadExclusions(set.Exclude); err != nil {
		return nil, err
	}

	for _, w := range ValidateTaxonomy(set.Rules, set.Categories) {
		logger.Warn("rule references unknown category", "rule", w.Rule, "category", w.Category.String())
	}
	return e, nil
}

// Load replaces the rule list. Rules are stable-sorted by descending priority
// and regex patterns are compiled up front.
func (e *Engine) Load(configs []api.RuleConfig) error {
	compiled, err := compileRules(configs)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = slices.Clone(configs)
	e.rules = compiled
	clear(e.cache)

	e.logger.Info("loaded categorization rules", "count", len(compiled))
	return nil
}

// LoadExclusions replaces the exclusion list.
func (e *Engine) LoadExclusions(configs []api.ExcludeConfig) error {
	excludes := make([]exclusion, 0, len(configs))
	for i, cfg := range configs {
		name := cfg.Name
		if name == "" {
			name = fmt.Sprintf("exclude-%d", i+1)
		}
		m, err := newMatcher(name, cfg.Pattern, cfg.Field, cfg.MatchType, cfg.CaseSensitive)
		if err != nil {
			return err
		}
		excludes = append(excludes, exclusion{name: name, reason: cfg.Reason, matcher: m})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.excludes = excludes
	return nil
}

// AddRule appends a rule, re-sorts and clears the cache.
func (e *Engine) AddRule(cfg api.RuleConfig) error {
	e.mu.Lock()
	configs := append(slices.Clone(e.configs), cfg)
	e.mu.Unlock()

	return e.Load(configs)
}

func compileRules(configs []api.RuleConfig) ([]rule, error) {
	rules := make([]rule, 0, len(configs))
	for i, cfg := range configs {
		name := cfg.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i+1)
		}
		if cfg.CategoryMain == "" || cfg.CategorySub == "" {
			return nil, fmt.Errorf("%w %q: category_main and category_sub are required", ErrInvalidRule, name)
		}

		m, err := newMatcher(name, cfg.Pattern, cfg.Field, cfg.MatchType, cfg.CaseSensitive)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule{
			name:     name,
			priority: cfg.Priority,
			category: api.Category{Main: cfg.CategoryMain, Sub: cfg.CategorySub},
			matcher:  m,
		})
	}

	slices.SortStableFunc(rules, func(a, b rule) int {
		return cmp.Compare(b.priority, a.priority)
	})
	return rules, nil
}

// Categorize returns the category of the first matching rule, or the
// unassigned sentinel pair.
func (e *Engine) Categorize(t *api.Transaction) api.Category {
	c, _, _ := e.Match(t)
	return c
}

// Match is Categorize that also reports which rule matched.
func (e *Engine) Match(t *api.Transaction) (api.Category, string, bool) {
	key := t.Counterparty + "\x00" + t.Description

	e.mu.Lock()
	defer e.mu.Unlock()

	idx, ok := e.cache[key]
	if !ok {
		idx = noMatch
		for i := range e.rules {
			if e.rules[i].match(t) {
				idx = i
				break
			}
		}
		e.cache[key] = idx
	}

	if idx == noMatch {
		return api.Unassigned, "", false
	}

	r := e.rules[idx]
	e.stats[r.name]++
	return r.category, r.name, true
}

// ShouldExclude reports whether the transaction matches an exclusion rule,
// and the rule's reason.
func (e *Engine) ShouldExclude(t *api.Transaction) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, x := range e.excludes {
		if x.match(t) {
			e.excludeStats[x.name]++
			return true, x.reason
		}
	}
	return false, ""
}

// ClearCache drops all memoized results.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.cache)
}

// Stats returns how many transactions each rule has matched.
func (e *Engine) Stats() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.stats)
}

// ExcludeStats returns how many transactions each exclusion rule has dropped.
func (e *Engine) ExcludeStats() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.excludeStats)
}

// Len returns the number of loaded rules.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rules)
}

// RuleNames returns the rule names in evaluation order.
func (e *Engine) RuleNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.name
	}
	return names
}
