package alerting

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `
rules:
  - currency_type: sell
    min: 950
    max: "1100.5"
    notifiers: [console, Telegram]
  - currency_type: buy
    operator: ">="
    threshold: 1200
    currency: USDC
    notifiers: []
`

func TestParseAndApplySeeds(t *testing.T) {
	seeds, err := ParseRules(strings.NewReader(seedYAML))
	require.NoError(t, err)
	require.Len(t, seeds, 2)

	engine := newTestEngine()
	registry := map[string]Notifier{
		"console":  &recordingNotifier{name: "console"},
		"telegram": &recordingNotifier{name: "telegram"},
	}

	added, err := ApplySeeds(engine, seeds, registry)
	require.NoError(t, err)
	require.Len(t, added, 3)

	views := engine.Rules()
	require.Len(t, views, 3)
	assert.Equal(t, "<", views[0].Operator)
	assert.Equal(t, "950", views[0].Threshold)
	assert.Equal(t, ">", views[1].Operator)
	assert.Equal(t, "1100.5", views[1].Threshold)
	assert.Equal(t, []string{"console", "telegram"}, views[1].NotifierNames)
	assert.Equal(t, ">=", views[2].Operator)
	assert.Equal(t, "USDC", views[2].Currency)
	assert.Empty(t, views[2].NotifierNames)
}

func TestApplySeedsUnknownNotifierRegistersNothing(t *testing.T) {
	seeds, err := ParseRules(strings.NewReader(`
rules:
  - currency_type: sell
    min: 1
    notifiers: [console]
  - currency_type: sell
    max: 2
    notifiers: [email]
`))
	require.NoError(t, err)

	engine := newTestEngine()
	_, err = ApplySeeds(engine, seeds, map[string]Notifier{"console": &recordingNotifier{name: "console"}})
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.Contains(t, err.Error(), "email")
	assert.Empty(t, engine.Rules())
}

func TestParseRulesRejectsBadInput(t *testing.T) {
	_, err := ParseRules(strings.NewReader("rules:\n  - currency_type: sell\n    minimum: 3\n"))
	assert.ErrorIs(t, err, ErrInvalidRule, "unknown keys are rejected")

	seeds, err := ParseRules(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, seeds)

	seeds, err = ParseRules(strings.NewReader("rules:\n  - currency_type: sell\n    min: abc\n"))
	require.NoError(t, err)
	_, err = ApplySeeds(newTestEngine(), seeds, nil)
	assert.ErrorIs(t, err, ErrInvalidRule)

	seeds, err = ParseRules(strings.NewReader("rules:\n  - currency_type: sell\n    operator: gt\n"))
	require.NoError(t, err)
	_, err = ApplySeeds(newTestEngine(), seeds, nil)
	assert.ErrorIs(t, err, ErrInvalidRule, "operator without threshold")
}

func TestApplySeedsRejectsMixedForms(t *testing.T) {
	cases := map[string]string{
		"operator with min":          "rules:\n  - currency_type: sell\n    operator: gt\n    threshold: 5\n    min: 1\n",
		"operator with max":          "rules:\n  - currency_type: buy\n    operator: \"<\"\n    threshold: 5\n    max: 9\n",
		"threshold without operator": "rules:\n  - currency_type: sell\n    min: 1\n    threshold: 5\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			seeds, err := ParseRules(strings.NewReader(body))
			require.NoError(t, err)

			engine := newTestEngine()
			_, err = ApplySeeds(engine, seeds, nil)
			assert.ErrorIs(t, err, ErrInvalidRule)
			assert.Empty(t, engine.Rules())
		})
	}
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o644))

	seeds, err := LoadRulesFile(path)
	require.NoError(t, err)
	assert.Len(t, seeds, 2)

	_, err = LoadRulesFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
