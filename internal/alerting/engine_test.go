package alerting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratewatch/internal/storage"
)

type recordingNotifier struct {
	name string
	err  error

	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Send(_ context.Context, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return r.err
}

func (r *recordingNotifier) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func quote(buy, sell string) storage.Sample {
	return storage.Sample{
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Source:    "buenbit",
		Buy:       dec(buy),
		Sell:      dec(sell),
	}
}

func newTestEngine() *Engine {
	return NewEngine("USDT", zerolog.Nop())
}

func TestCompareTable(t *testing.T) {
	cases := []struct {
		op        Operator
		observed  string
		threshold string
		want      bool
	}{
		{OpLT, "90", "100", true},
		{OpLT, "100", "100", false},
		{OpLE, "100", "100", true},
		{OpLE, "100.01", "100", false},
		{OpEQ, "100.0", "100", true},
		{OpEQ, "100.0001", "100", false},
		{OpGT, "110", "100", true},
		{OpGT, "100", "100", false},
		{OpGE, "100", "100", true},
		{OpGE, "99.99", "100", false},
		{Operator("!="), "1", "2", false},
		{Operator(""), "1", "1", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Compare(tc.op, dec(tc.observed), dec(tc.threshold)),
			"%s %s %s", tc.observed, tc.op, tc.threshold)
	}
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator(" GE ")
	require.NoError(t, err)
	assert.Equal(t, OpGE, op)

	op, err = ParseOperator("<")
	require.NoError(t, err)
	assert.Equal(t, OpLT, op)

	_, err = ParseOperator("~")
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestLessThanRuleOnSell(t *testing.T) {
	engine := newTestEngine()
	a := &recordingNotifier{name: "a"}
	b := &recordingNotifier{name: "b"}

	_, err := engine.AddRule(Rule{Field: storage.FieldSell, Operator: OpLT, Threshold: dec("100")}, a, b)
	require.NoError(t, err)

	res := engine.Evaluate(context.Background(), quote("95", "90"))
	assert.Equal(t, Result{Triggered: 1, Sent: 2}, res)
	assert.Len(t, a.sent(), 1)
	assert.Len(t, b.sent(), 1)

	res = engine.Evaluate(context.Background(), quote("95", "110"))
	assert.Equal(t, Result{}, res)
	assert.Len(t, a.sent(), 1)
	assert.Len(t, b.sent(), 1)
}

func TestRepeatedEvaluationNotifiesEachCycle(t *testing.T) {
	engine := newTestEngine()
	n := &recordingNotifier{name: "console"}
	_, err := engine.AddRule(Rule{Field: storage.FieldBuy, Operator: OpGE, Threshold: dec("10")}, n)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		engine.Evaluate(context.Background(), quote("11", "9"))
	}
	assert.Len(t, n.sent(), 3)
}

func TestRuleIDsAreSequentialAndNeverReused(t *testing.T) {
	engine := newTestEngine()

	r1, err := engine.AddRule(Rule{Field: storage.FieldBuy, Operator: OpGT, Threshold: dec("1")})
	require.NoError(t, err)
	r2, err := engine.AddRule(Rule{Field: storage.FieldBuy, Operator: OpGT, Threshold: dec("2")})
	require.NoError(t, err)
	assert.EqualValues(t, 1, r1.ID)
	assert.EqualValues(t, 2, r2.ID)

	require.NoError(t, engine.DeleteRule(r2.ID))
	engine.DeleteAll()

	r3, err := engine.AddRule(Rule{Field: storage.FieldSell, Operator: OpLT, Threshold: dec("3")})
	require.NoError(t, err)
	assert.EqualValues(t, 3, r3.ID)
	assert.Equal(t, "USDT", r3.Currency)
}

func TestDeleteRule(t *testing.T) {
	engine := newTestEngine()
	n := &recordingNotifier{name: "console"}

	keep, err := engine.AddRule(Rule{Field: storage.FieldSell, Operator: OpGT, Threshold: dec("200")}, n)
	require.NoError(t, err)
	drop, err := engine.AddRule(Rule{Field: storage.FieldSell, Operator: OpGT, Threshold: dec("100")}, n)
	require.NoError(t, err)

	require.NoError(t, engine.DeleteRule(drop.ID))

	views := engine.Rules()
	require.Len(t, views, 1)
	assert.Equal(t, keep.ID, views[0].ID)

	res := engine.Evaluate(context.Background(), quote("150", "150"))
	assert.Zero(t, res.Triggered)
	assert.Empty(t, n.sent())

	before := engine.Rules()
	err = engine.DeleteRule(drop.ID)
	assert.ErrorIs(t, err, ErrRuleNotFound)
	err = engine.DeleteRule(999)
	assert.ErrorIs(t, err, ErrRuleNotFound)
	assert.Equal(t, before, engine.Rules())
}

func TestNotifierFailureIsolation(t *testing.T) {
	engine := newTestEngine()
	broken := &recordingNotifier{name: "telegram", err: errors.New("boom")}
	first := &recordingNotifier{name: "console"}
	second := &recordingNotifier{name: "audit"}

	_, err := engine.AddRule(Rule{Field: storage.FieldSell, Operator: OpLT, Threshold: dec("100")}, broken, first)
	require.NoError(t, err)
	_, err = engine.AddRule(Rule{Field: storage.FieldBuy, Operator: OpGT, Threshold: dec("50")}, broken, second)
	require.NoError(t, err)

	res := engine.Evaluate(context.Background(), quote("60", "90"))

	assert.Equal(t, Result{Triggered: 2, Sent: 2, Failed: 2}, res)
	assert.Len(t, broken.sent(), 2)
	assert.Len(t, first.sent(), 1)
	assert.Len(t, second.sent(), 1)
}

func TestRuleWithoutNotifiers(t *testing.T) {
	engine := newTestEngine()
	_, err := engine.AddRule(Rule{Field: storage.FieldBuy, Operator: OpGT, Threshold: dec("1")})
	require.NoError(t, err)

	res := engine.Evaluate(context.Background(), quote("2", "2"))
	assert.Equal(t, Result{Triggered: 1}, res)
}

func TestAddRuleRejectsInvalid(t *testing.T) {
	engine := newTestEngine()

	_, err := engine.AddRule(Rule{Field: "mid", Operator: OpGT, Threshold: dec("1")})
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = engine.AddRule(Rule{Field: storage.FieldBuy, Operator: "!=", Threshold: dec("1")})
	assert.ErrorIs(t, err, ErrInvalidRule)

	assert.Empty(t, engine.Rules())
}

func TestAddThresholdsMapsMinToLTAndMaxToGT(t *testing.T) {
	engine := newTestEngine()
	n := &recordingNotifier{name: "console"}

	rules, err := engine.AddThresholds(ThresholdRequest{Min: decPtr("950"), Max: decPtr("1100"), CurrencyType: "SELL"}, n)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, OpLT, rules[0].Operator)
	assert.True(t, rules[0].Threshold.Equal(dec("950")))
	assert.Equal(t, OpGT, rules[1].Operator)
	assert.True(t, rules[1].Threshold.Equal(dec("1100")))

	views := engine.Rules()
	require.Len(t, views, 2)
	assert.Equal(t, RuleView{
		ID:            1,
		Currency:      "USDT",
		CurrencyType:  "sell",
		Threshold:     "950",
		Operator:      "<",
		NotifierNames: []string{"console"},
	}, views[0])

	only, err := engine.AddThresholds(ThresholdRequest{Max: decPtr("5"), CurrencyType: "buy"})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, OpGT, only[0].Operator)

	_, err = engine.AddThresholds(ThresholdRequest{CurrencyType: "buy"})
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = engine.AddThresholds(ThresholdRequest{Min: decPtr("1"), CurrencyType: "usd"})
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestAttachAndDetachNotifier(t *testing.T) {
	engine := newTestEngine()
	console := &recordingNotifier{name: "console"}
	telegram := &recordingNotifier{name: "telegram"}

	rule, err := engine.AddRule(Rule{Field: storage.FieldBuy, Operator: OpGT, Threshold: dec("1")}, console, console)
	require.NoError(t, err)
	assert.Len(t, rule.Notifiers, 1, "duplicate names collapse")

	require.NoError(t, engine.AttachNotifier(rule.ID, telegram))
	require.NoError(t, engine.AttachNotifier(rule.ID, telegram))
	assert.Equal(t, []string{"console", "telegram"}, engine.Rules()[0].NotifierNames)

	require.NoError(t, engine.DetachNotifier(rule.ID, "console"))
	assert.Equal(t, []string{"telegram"}, engine.Rules()[0].NotifierNames)

	assert.ErrorIs(t, engine.AttachNotifier(42, telegram), ErrRuleNotFound)
	assert.ErrorIs(t, engine.DetachNotifier(42, "telegram"), ErrRuleNotFound)

	engine.Evaluate(context.Background(), quote("2", "2"))
	assert.Empty(t, console.sent())
	assert.Len(t, telegram.sent(), 1)
}

func TestEndToEndLatestSampleNotifiesObservedValue(t *testing.T) {
	ctx := context.Background()
	store, err := storage.OpenSQLite(ctx, t.TempDir()+"/ratewatch.db", time.Second)
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC()
	require.NoError(t, store.Insert(ctx, storage.Sample{Timestamp: now.Add(-time.Minute), Source: "buenbit", Buy: dec("100"), Sell: dec("98")}))
	require.NoError(t, store.Insert(ctx, storage.Sample{Timestamp: now, Source: "buenbit", Buy: dec("105"), Sell: dec("103")}))

	engine := newTestEngine()
	n := &recordingNotifier{name: "console"}
	_, err = engine.AddRule(Rule{Field: storage.FieldSell, Operator: OpGT, Threshold: dec("100")}, n)
	require.NoError(t, err)

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	res := engine.Evaluate(ctx, latest)

	assert.Equal(t, 1, res.Sent)
	msgs := n.sent()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "sell 103")
	assert.Contains(t, msgs[0], "USDT")
}

func TestEvaluateConcurrentWithMutations(t *testing.T) {
	engine := newTestEngine()
	n := &recordingNotifier{name: "console"}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				rule, err := engine.AddRule(Rule{Field: storage.FieldBuy, Operator: OpGT, Threshold: dec("1")}, n)
				if err == nil && j%2 == 0 {
					_ = engine.DeleteRule(rule.ID)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				engine.Evaluate(context.Background(), quote("2", "2"))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, engine.Rules(), 100)
	for _, msg := range n.sent() {
		assert.True(t, strings.HasPrefix(msg, "[ratewatch] USDT buy 2 > 1"), msg)
	}
}
