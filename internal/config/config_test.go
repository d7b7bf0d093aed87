package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  mode: paper
`))
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.App.Mode)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "https://api.upbit.com", cfg.Upbit.BaseURL)
	assert.Equal(t, "1m", cfg.Engine.Interval)
	assert.Equal(t, 200, cfg.Engine.CandleCount)
	assert.Equal(t, 0.01, cfg.Risk.RiskPerTradePct)
	assert.Equal(t, 0.97, cfg.Exit.StopLossThreshold)
	assert.Equal(t, 1_000_000.0, cfg.Paper.InitialKRW)
	assert.True(t, cfg.Stream.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  mode: live
  log_level: debug
upbit:
  access_key: ak
  secret_key: sk
engine:
  interval: 15m
  candle_count: 120
risk:
  risk_per_trade_pct: 0.02
  correlation_groups:
    KRW-BTC: majors
    KRW-ETH: majors
strategy:
  stop_mode: conservative
  supports_r_multiples: true
`))
	require.NoError(t, err)

	assert.Equal(t, "15m", cfg.Engine.Interval)
	assert.Equal(t, 120, cfg.Engine.CandleCount)
	assert.Equal(t, 0.02, cfg.Risk.RiskPerTradePct)
	assert.Equal(t, "majors", cfg.Risk.CorrelationGroups["KRW-ETH"])
	assert.Equal(t, "conservative", cfg.StrategyParams().StopMode)
	assert.True(t, cfg.ExitPolicyConfig().SupportsRMultiples,
		"capability flag flows from strategy into the exit policy")
}

func TestLiveModeRequiresKeys(t *testing.T) {
	_, err := Load(writeConfig(t, `
app:
  mode: live
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_key")
}

func TestInvalidValuesRejected(t *testing.T) {
	cases := map[string]string{
		"bad mode": `
app:
  mode: dry
`,
		"bad interval": `
app:
  mode: paper
engine:
  interval: fast
`,
		"bad exit mode": `
app:
  mode: paper
exit:
  exit_mode: magic
`,
		"risk too high": `
app:
  mode: paper
risk:
  risk_per_trade_pct: 0.5
`,
		"telegram missing token": `
app:
  mode: paper
notify:
  telegram:
    enabled: true
`,
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		assert.Error(t, err, name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}

func TestConfigMappings(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  mode: paper
universe:
  excluded_keywords: ["USDT", "BTC"]
  watch_limit: 5
`))
	require.NoError(t, err)

	uc := cfg.UniverseBuilderConfig()
	assert.Equal(t, []string{"USDT", "BTC"}, uc.ExcludedKeywords)
	assert.Equal(t, 5, uc.WatchLimit)

	rc := cfg.RiskManagerConfig()
	assert.Equal(t, 5000.0, rc.MinOrderKRW)

	pc := cfg.ExitPolicyConfig()
	assert.Equal(t, 0.02, pc.TrailingStopPct)
	assert.Equal(t, 0.5, pc.PartialTakeProfitRatio)
}
