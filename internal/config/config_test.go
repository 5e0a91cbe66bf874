package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: fxreport\n"))
	require.NoError(t, err)

	assert.Equal(t, "USD", cfg.Rates.Base)
	assert.Equal(t, []string{"EUR", "GBP", "JPY", "CNY", "VND"}, cfg.Rates.Symbols)
	assert.Equal(t, 15*time.Second, cfg.Rates.RequestTimeout)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "max_deviation_%s.csv", cfg.Report.FilePattern)
	assert.Empty(t, cfg.Notifier.Channels)

	at, err := cfg.Scheduler.RunAtClock()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, at)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	t.Setenv("FXREPORT_RATES_SYMBOLS", "eur, jpy,EUR")
	t.Setenv("FXREPORT_NOTIFIER_TELEGRAM_BOT_TOKEN", "token")

	path := writeConfig(t, `
rates:
  base: usd
database:
  driver: sqlite
  dsn: ":memory:"
notifier:
  channels: [Telegram]
  telegram:
    chat_id: "42"
scheduler:
  run_at: "06:30"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "USD", cfg.Rates.Base)
	assert.Equal(t, []string{"EUR", "JPY"}, cfg.Rates.Symbols)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, []string{"telegram"}, cfg.Notifier.Channels)
	assert.Equal(t, "token", cfg.Notifier.Telegram.BotToken)

	at, err := cfg.Scheduler.RunAtClock()
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour+30*time.Minute, at)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad base":          "rates:\n  base: DOLLAR\n",
		"bad symbol":        "rates:\n  symbols: [EURO]\n",
		"telegram no token": "notifier:\n  channels: [telegram]\n",
		"kafka no brokers":  "notifier:\n  channels: [kafka]\n",
		"unknown channel":   "notifier:\n  channels: [pigeon]\n",
		"bad run_at":        "scheduler:\n  run_at: \"25:99\"\n",
		"bad start date":    "scheduler:\n  start_date: \"2024/09/01\"\n",
		"bad driver":        "database:\n  driver: mysql\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
