package alerting

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"ratewatch/internal/storage"
)

// RuleSeed is one entry of the rules file. Either min/max or operator/threshold is set.
type RuleSeed struct {
	CurrencyType string   `yaml:"currency_type"`
	Currency     string   `yaml:"currency,omitempty"`
	Min          *string  `yaml:"min,omitempty"`
	Max          *string  `yaml:"max,omitempty"`
	Operator     string   `yaml:"operator,omitempty"`
	Threshold    *string  `yaml:"threshold,omitempty"`
	Notifiers    []string `yaml:"notifiers"`
}

type rulesDocument struct {
	Rules []RuleSeed `yaml:"rules"`
}

// LoadRulesFile reads seeds from a YAML file.
func LoadRulesFile(path string) ([]RuleSeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules file: %w", err)
	}
	defer f.Close()

	seeds, err := ParseRules(f)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return seeds, nil
}

// ParseRules decodes a rules document. An empty document yields no seeds.
func ParseRules(r io.Reader) ([]RuleSeed, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc rulesDocument
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	return doc.Rules, nil
}

// ApplySeeds registers every seed on engine, resolving notifier names through registry.
// Nothing is registered unless every seed is valid.
func ApplySeeds(engine *Engine, seeds []RuleSeed, registry map[string]Notifier) ([]Rule, error) {
	type planned struct {
		req       *ThresholdRequest
		rule      *Rule
		notifiers []Notifier
	}

	plans := make([]planned, 0, len(seeds))
	for i, seed := range seeds {
		notifiers, err := resolveNotifiers(seed.Notifiers, registry)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}

		if seed.Operator != "" {
			rule, err := seed.rule()
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i+1, err)
			}
			plans = append(plans, planned{rule: &rule, notifiers: notifiers})
			continue
		}

		req, err := seed.thresholdRequest()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		plans = append(plans, planned{req: &req, notifiers: notifiers})
	}

	var added []Rule
	for _, p := range plans {
		if p.rule != nil {
			rule, err := engine.AddRule(*p.rule, p.notifiers...)
			if err != nil {
				return added, err
			}
			added = append(added, rule)
			continue
		}
		rules, err := engine.AddThresholds(*p.req, p.notifiers...)
		if err != nil {
			return added, err
		}
		added = append(added, rules...)
	}
	return added, nil
}

func (s RuleSeed) thresholdRequest() (ThresholdRequest, error) {
	if _, err := storage.ParseField(s.CurrencyType); err != nil {
		return ThresholdRequest{}, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	if s.Min == nil && s.Max == nil {
		return ThresholdRequest{}, fmt.Errorf("%w: min, max or operator/threshold is required", ErrInvalidRule)
	}
	if s.Threshold != nil {
		return ThresholdRequest{}, fmt.Errorf("%w: threshold needs an operator and cannot be combined with min/max", ErrInvalidRule)
	}

	req := ThresholdRequest{CurrencyType: s.CurrencyType, Currency: s.Currency}
	if s.Min != nil {
		v, err := parseThreshold("min", *s.Min)
		if err != nil {
			return ThresholdRequest{}, err
		}
		req.Min = &v
	}
	if s.Max != nil {
		v, err := parseThreshold("max", *s.Max)
		if err != nil {
			return ThresholdRequest{}, err
		}
		req.Max = &v
	}
	return req, nil
}

func (s RuleSeed) rule() (Rule, error) {
	field, err := storage.ParseField(s.CurrencyType)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	if s.Min != nil || s.Max != nil {
		return Rule{}, fmt.Errorf("%w: operator/threshold cannot be combined with min/max", ErrInvalidRule)
	}
	op, err := ParseOperator(s.Operator)
	if err != nil {
		return Rule{}, err
	}
	if s.Threshold == nil {
		return Rule{}, fmt.Errorf("%w: operator %s needs a threshold", ErrInvalidRule, op)
	}
	threshold, err := parseThreshold("threshold", *s.Threshold)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Currency: s.Currency, Field: field, Operator: op, Threshold: threshold}, nil
}

func parseThreshold(name, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s %q is not a number", ErrInvalidRule, name, raw)
	}
	return v, nil
}

func resolveNotifiers(names []string, registry map[string]Notifier) ([]Notifier, error) {
	out := make([]Notifier, 0, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		n, ok := registry[key]
		if !ok {
			return nil, fmt.Errorf("%w: unknown or disabled notifier %q", ErrInvalidRule, name)
		}
		out = append(out, n)
	}
	return out, nil
}
