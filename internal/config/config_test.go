package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "ireps.json5"), filepath.Join(dir, ".env"))
	require.NoError(t, err)

	require.Equal(t, 20*time.Hour, cfg.Login.SessionMaxAge.Std())
	require.Equal(t, 24*time.Hour, cfg.Login.OtpReuseWindow.Std())
	require.Equal(t, 2, cfg.Login.QuotaLimit)
	require.Equal(t, 90*time.Second, cfg.Login.OtpTimeout.Std())
	require.Equal(t, []int{6, 13, 19}, cfg.Schedule.Hours)
	require.Equal(t, filepath.Join("data", "tenders_memory.json"), cfg.MemoryFile)
	require.Equal(t, filepath.Join("data", "otp_cache.json"), cfg.OtpCacheFile)
	require.Equal(t, filepath.Join("data", "history.db"), cfg.History.File)
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "ireps.json5")
	require.NoError(t, os.WriteFile(configPath, []byte(`{
		data_dir: "/var/lib/ireps",
		login: { otp_timeout: '2m', captcha_retries: 5 },
		scrape: { min_delay: 1, max_delay: "3s", max_tenders: 10 },
	}`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ireps.local.json5"), []byte(`{
		scrape: { max_tenders: 25 },
	}`), 0600))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("IREPS_MOBILE=9876543210\nFLASK_PORT=6060\nWEBHOOK_SECRET=from-dotenv\n"), 0600))
	t.Setenv("WEBHOOK_SECRET", "from-process")

	cfg, err := Load(configPath, envPath)
	require.NoError(t, err)

	require.Equal(t, 2*time.Minute, cfg.Login.OtpTimeout.Std())
	require.Equal(t, 5, cfg.Login.CaptchaRetries)
	require.Equal(t, 2, cfg.Login.MaxAttempts)
	require.Equal(t, time.Second, cfg.Scrape.MinDelay.Std())
	require.Equal(t, 3*time.Second, cfg.Scrape.MaxDelay.Std())
	require.Equal(t, 25, cfg.Scrape.MaxTenders)
	require.Equal(t, "9876543210", cfg.Login.Mobile)
	require.Equal(t, 6060, cfg.Webhook.Port)
	require.Equal(t, "from-process", cfg.Webhook.Secret)
	require.Equal(t, filepath.Join("/var/lib/ireps", "tenders_memory.json"), cfg.MemoryFile)
}

func TestLoadInvalidPort(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WEBHOOK_PORT", "fifty")
	_, err := Load("", filepath.Join(dir, ".env"))
	require.Error(t, err)
}

func TestValidateLogin(t *testing.T) {
	cfg := Defaults()
	err := cfg.ValidateLogin()
	require.ErrorContains(t, err, "IREPS_MOBILE")
	require.ErrorContains(t, err, "TWOCAPTCHA_API_KEY")

	cfg.Login.Mobile = "9876543210"
	cfg.Login.CaptchaApiKey = "key"
	require.NoError(t, cfg.ValidateLogin())

	cfg.Scrape.MaxDelay = Duration(time.Second)
	require.ErrorContains(t, cfg.ValidateLogin(), "max_delay")
}
