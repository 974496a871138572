package alerting

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"ratewatch/internal/storage"
)

// Operator is a threshold comparison.
type Operator string

const (
	OpLT Operator = "<"
	OpLE Operator = "<="
	OpEQ Operator = "="
	OpGT Operator = ">"
	OpGE Operator = ">="
)

// ParseOperator accepts the symbol or the short name (lt, le, eq, gt, ge).
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "<", "lt":
		return OpLT, nil
	case "<=", "le":
		return OpLE, nil
	case "=", "==", "eq":
		return OpEQ, nil
	case ">", "gt":
		return OpGT, nil
	case ">=", "ge":
		return OpGE, nil
	default:
		return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, s)
	}
}

// Compare applies op to observed and threshold. Unknown operators never match.
// EQ is exact decimal equality.
func Compare(op Operator, observed, threshold decimal.Decimal) bool {
	c := observed.Cmp(threshold)
	switch op {
	case OpLT:
		return c < 0
	case OpLE:
		return c <= 0
	case OpEQ:
		return c == 0
	case OpGT:
		return c > 0
	case OpGE:
		return c >= 0
	default:
		return false
	}
}

// Rule is a standing threshold condition.
type Rule struct {
	ID        int64
	Currency  string
	Field     storage.Field
	Operator  Operator
	Threshold decimal.Decimal
	Notifiers []Notifier
}

// RuleView is the listing shape handed to external callers.
type RuleView struct {
	ID            int64    `json:"id"`
	Currency      string   `json:"currency"`
	CurrencyType  string   `json:"currency_type"`
	Threshold     string   `json:"threshold"`
	Operator      string   `json:"operator"`
	NotifierNames []string `json:"notifier_names"`
}

// ThresholdRequest asks for one rule per provided bound.
type ThresholdRequest struct {
	Min          *decimal.Decimal `json:"min,omitempty" yaml:"min,omitempty"`
	Max          *decimal.Decimal `json:"max,omitempty" yaml:"max,omitempty"`
	CurrencyType string           `json:"currency_type" yaml:"currency_type"`
	Currency     string           `json:"currency,omitempty" yaml:"currency,omitempty"`
}

// Result counts what one Evaluate call did.
type Result struct {
	Triggered int
	Sent      int
	Failed    int
}

// Engine holds the rule registry. Evaluate takes the read lock; mutations take the write lock.
type Engine struct {
	mu       sync.RWMutex
	rules    []*Rule
	nextID   int64
	currency string
	logger   zerolog.Logger
}

// NewEngine builds an empty engine. currency labels rules that do not set one.
func NewEngine(currency string, logger zerolog.Logger) *Engine {
	if currency = strings.TrimSpace(currency); currency == "" {
		currency = "USDT"
	}
	return &Engine{
		currency: currency,
		logger:   logger.With().Str("component", "alert_engine").Logger(),
	}
}

// AddRule registers rule with the given notifiers and returns it with its new id.
func (e *Engine) AddRule(rule Rule, notifiers ...Notifier) (Rule, error) {
	if !rule.Field.Valid() {
		return Rule{}, fmt.Errorf("%w: field must be buy or sell, got %q", ErrInvalidRule, rule.Field)
	}
	if _, err := ParseOperator(string(rule.Operator)); err != nil {
		return Rule{}, err
	}
	if strings.TrimSpace(rule.Currency) == "" {
		rule.Currency = e.currency
	}
	rule.Notifiers = dedupeNotifiers(append(append([]Notifier(nil), rule.Notifiers...), notifiers...))

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	rule.ID = e.nextID
	stored := rule
	e.rules = append(e.rules, &stored)

	e.logger.Info().
		Int64("rule_id", rule.ID).
		Str("field", string(rule.Field)).
		Str("operator", string(rule.Operator)).
		Str("threshold", rule.Threshold.String()).
		Strs("notifiers", notifierNames(rule.Notifiers)).
		Msg("rule added")
	return copyRule(&stored), nil
}

// AddThresholds turns a min/max request into rules: min fires below the bound (LT),
// max fires above it (GT).
func (e *Engine) AddThresholds(req ThresholdRequest, notifiers ...Notifier) ([]Rule, error) {
	field, err := storage.ParseField(req.CurrencyType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	if req.Min == nil && req.Max == nil {
		return nil, fmt.Errorf("%w: at least one of min or max is required", ErrInvalidRule)
	}

	var added []Rule
	if req.Min != nil {
		rule, err := e.AddRule(Rule{Currency: req.Currency, Field: field, Operator: OpLT, Threshold: *req.Min}, notifiers...)
		if err != nil {
			return nil, err
		}
		added = append(added, rule)
	}
	if req.Max != nil {
		rule, err := e.AddRule(Rule{Currency: req.Currency, Field: field, Operator: OpGT, Threshold: *req.Max}, notifiers...)
		if err != nil {
			return added, err
		}
		added = append(added, rule)
	}
	return added, nil
}

// Evaluate checks every rule against sample in id order and notifies the attached
// channels of each satisfied rule. Channel failures are logged and counted.
func (e *Engine) Evaluate(ctx context.Context, sample storage.Sample) Result {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var res Result
	for _, rule := range e.rules {
		observed := sample.Value(rule.Field)
		if !Compare(rule.Operator, observed, rule.Threshold) {
			continue
		}
		res.Triggered++

		logger := e.logger.With().
			Int64("rule_id", rule.ID).
			Str("field", string(rule.Field)).
			Str("observed", observed.String()).
			Logger()

		if len(rule.Notifiers) == 0 {
			logger.Debug().Msg("rule satisfied; no notifiers attached")
			continue
		}

		message := renderMessage(rule, observed, sample)
		for _, n := range rule.Notifiers {
			if err := n.Send(ctx, message); err != nil {
				res.Failed++
				logger.Error().Err(err).Str("notifier", n.Name()).Msg("告警发送失败")
				continue
			}
			res.Sent++
		}
	}
	return res
}

// Rules lists the registry in id order.
func (e *Engine) Rules() []RuleView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return lo.Map(e.rules, func(r *Rule, _ int) RuleView {
		return RuleView{
			ID:            r.ID,
			Currency:      r.Currency,
			CurrencyType:  string(r.Field),
			Threshold:     r.Threshold.String(),
			Operator:      string(r.Operator),
			NotifierNames: notifierNames(r.Notifiers),
		}
	})
}

// Rule returns a copy of the rule with the given id.
func (e *Engine) Rule(id int64) (Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rule, ok := lo.Find(e.rules, func(r *Rule) bool { return r.ID == id })
	if !ok {
		return Rule{}, fmt.Errorf("%w: %d", ErrRuleNotFound, id)
	}
	return copyRule(rule), nil
}

// DeleteRule removes one rule. An unknown id leaves the registry untouched.
func (e *Engine) DeleteRule(id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, idx, ok := lo.FindIndexOf(e.rules, func(r *Rule) bool { return r.ID == id })
	if !ok {
		return fmt.Errorf("%w: %d", ErrRuleNotFound, id)
	}
	e.rules = append(e.rules[:idx:idx], e.rules[idx+1:]...)

	e.logger.Info().Int64("rule_id", id).Msg("rule deleted")
	return nil
}

// DeleteAll clears the registry. Ids keep counting from where they were.
func (e *Engine) DeleteAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.rules)
	e.rules = nil
	e.logger.Info().Int("removed", n).Msg("all rules deleted")
}

// AttachNotifier adds n to a rule unless a notifier with the same name is already there.
func (e *Engine) AttachNotifier(id int64, n Notifier) error {
	if n == nil {
		return fmt.Errorf("%w: nil notifier", ErrInvalidRule)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := lo.Find(e.rules, func(r *Rule) bool { return r.ID == id })
	if !ok {
		return fmt.Errorf("%w: %d", ErrRuleNotFound, id)
	}
	rule.Notifiers = dedupeNotifiers(append(rule.Notifiers, n))
	return nil
}

// DetachNotifier removes the named notifier from a rule. Detaching an absent name is a no-op.
func (e *Engine) DetachNotifier(id int64, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := lo.Find(e.rules, func(r *Rule) bool { return r.ID == id })
	if !ok {
		return fmt.Errorf("%w: %d", ErrRuleNotFound, id)
	}
	rule.Notifiers = lo.Reject(rule.Notifiers, func(n Notifier, _ int) bool { return n.Name() == name })
	return nil
}

func renderMessage(rule *Rule, observed decimal.Decimal, sample storage.Sample) string {
	return fmt.Sprintf("[ratewatch] %s %s %s %s %s (rule #%d, %s at %s UTC)",
		rule.Currency,
		rule.Field,
		observed.String(),
		rule.Operator,
		rule.Threshold.String(),
		rule.ID,
		sample.Source,
		sample.Timestamp.UTC().Format("2006-01-02 15:04:05"),
	)
}

func dedupeNotifiers(notifiers []Notifier) []Notifier {
	notifiers = lo.Filter(notifiers, func(n Notifier, _ int) bool { return n != nil })
	return lo.UniqBy(notifiers, func(n Notifier) string { return n.Name() })
}

func notifierNames(notifiers []Notifier) []string {
	return lo.Map(notifiers, func(n Notifier, _ int) string { return n.Name() })
}

func copyRule(r *Rule) Rule {
	out := *r
	out.Notifiers = append([]Notifier(nil), r.Notifiers...)
	return out
}
