// Package config loads the scraper's configuration: built-in defaults, then
// ireps.json5 and ireps.local.json5, then the .env file and the process
// environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"ireps-scraper/lib/configutil"
	configlibsql "ireps-scraper/lib/configutil/libsql"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Duration is a time.Duration written as a string like "20h" or "90s".
// A bare number is read as seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if len(text) >= 2 && (text[0] == '"' || text[0] == '\'') && text[len(text)-1] == text[0] {
		parsed, err := time.ParseDuration(text[1 : len(text)-1])
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	seconds, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %s", text)
	}
	*d = Duration(seconds * float64(time.Second))
	return nil
}

type Login struct {
	Mobile         string `json:"mobile"`
	CaptchaApiKey  string `json:"captcha_api_key"`
	CaptchaBaseUrl string `json:"captcha_base_url"`

	SessionMaxAge  Duration `json:"session_max_age"`
	OtpReuseWindow Duration `json:"otp_reuse_window"`
	QuotaWindow    Duration `json:"quota_window"`
	QuotaLimit     int      `json:"quota_limit"`
	MaxAttempts    int      `json:"max_attempts"`
	CaptchaRetries int      `json:"captcha_retries"`
	OtpTimeout     Duration `json:"otp_timeout"`
}

type Scrape struct {
	BaseUrl           string   `json:"base_url"`
	MinDelay          Duration `json:"min_delay"`
	MaxDelay          Duration `json:"max_delay"`
	MaxRetries        int      `json:"max_retries"`
	WorkArea          string   `json:"work_area"`
	MaxTenders        int      `json:"max_tenders"`
	RequestsPerSecond float64  `json:"requests_per_second"`
}

type Webhook struct {
	Port   int    `json:"port"`
	Secret string `json:"secret"`
}

type Email struct {
	SmtpHost string   `json:"smtp_host"`
	SmtpPort int      `json:"smtp_port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

type Notify struct {
	HealthWebhookUrl string `json:"health_webhook_url"`
	Email            Email  `json:"email"`
}

type Schedule struct {
	Hours    []int  `json:"hours"`
	Timezone string `json:"timezone"`
}

type Config struct {
	DataDir      string `json:"data_dir"`
	SessionFile  string `json:"session_file"`
	OtpCacheFile string `json:"otp_cache_file"`
	MemoryFile   string `json:"memory_file"`

	History  configlibsql.Struct `json:"history"`
	Login    Login               `json:"login"`
	Scrape   Scrape              `json:"scrape"`
	Webhook  Webhook             `json:"webhook"`
	Notify   Notify              `json:"notify"`
	Schedule Schedule            `json:"schedule"`
}

func Defaults() Config {
	return Config{
		DataDir:     "data",
		SessionFile: filepath.Join("session", "ireps_session.json"),
		Login: Login{
			CaptchaBaseUrl: "https://2captcha.com",
			SessionMaxAge:  Duration(20 * time.Hour),
			OtpReuseWindow: Duration(24 * time.Hour),
			QuotaWindow:    Duration(time.Hour),
			QuotaLimit:     2,
			MaxAttempts:    2,
			CaptchaRetries: 3,
			OtpTimeout:     Duration(90 * time.Second),
		},
		Scrape: Scrape{
			BaseUrl:           "https://www.ireps.gov.in",
			MinDelay:          Duration(2 * time.Second),
			MaxDelay:          Duration(4 * time.Second),
			MaxRetries:        3,
			WorkArea:          "Works",
			RequestsPerSecond: 2,
		},
		Webhook: Webhook{
			Port: 5050,
		},
		Notify: Notify{
			Email: Email{SmtpPort: 587},
		},
		Schedule: Schedule{
			Hours:    []int{6, 13, 19},
			Timezone: "Asia/Kolkata",
		},
	}
}

// Load reads the configuration file at path (a missing file is fine), then the
// dotenv file at envFile (also optional), then the process environment.
func Load(path, envFile string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		_, err := configutil.Layer(&cfg, path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	env := map[string]string{}
	if envFile != "" {
		dotenv, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", envFile, err)
		}
		for k, v := range dotenv {
			env[k] = v
		}
	}
	lookup := func(key string) (string, bool) {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
		value, ok := env[key]
		return value, ok
	}
	err := cfg.applyEnv(lookup)
	if err != nil {
		return Config{}, err
	}

	cfg.fillPaths()
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(target *string, keys ...string) {
		for _, key := range keys {
			if value, ok := lookup(key); ok && value != "" {
				*target = value
				return
			}
		}
	}
	str(&c.Login.Mobile, "IREPS_MOBILE")
	str(&c.Login.CaptchaApiKey, "TWOCAPTCHA_API_KEY")
	str(&c.Webhook.Secret, "WEBHOOK_SECRET", "FLASK_SECRET")
	str(&c.Notify.HealthWebhookUrl, "HEALTH_WEBHOOK_URL")
	str(&c.DataDir, "DATA_DIR")
	str(&c.SessionFile, "SESSION_FILE")

	var port string
	str(&port, "WEBHOOK_PORT", "FLASK_PORT")
	if port != "" {
		parsed, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid webhook port %q: %w", port, err)
		}
		c.Webhook.Port = parsed
	}
	return nil
}

func (c *Config) fillPaths() {
	if c.OtpCacheFile == "" {
		c.OtpCacheFile = filepath.Join(c.DataDir, "otp_cache.json")
	}
	if c.MemoryFile == "" {
		c.MemoryFile = filepath.Join(c.DataDir, "tenders_memory.json")
	}
	if c.History.File == "" && c.History.Url == "" {
		c.History.File = filepath.Join(c.DataDir, "history.db")
	}
}

// ValidateLogin reports every value missing for a full login.
func (c Config) ValidateLogin() error {
	var errs []error
	if c.Login.Mobile == "" {
		errs = append(errs, fmt.Errorf("login.mobile (IREPS_MOBILE) is not set"))
	}
	if c.Login.CaptchaApiKey == "" {
		errs = append(errs, fmt.Errorf("login.captcha_api_key (TWOCAPTCHA_API_KEY) is not set"))
	}
	if c.Login.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("login.max_attempts must be positive"))
	}
	if c.Login.CaptchaRetries <= 0 {
		errs = append(errs, fmt.Errorf("login.captcha_retries must be positive"))
	}
	if c.Scrape.MaxDelay < c.Scrape.MinDelay {
		errs = append(errs, fmt.Errorf("scrape.max_delay is smaller than scrape.min_delay"))
	}
	return errors.Join(errs...)
}
