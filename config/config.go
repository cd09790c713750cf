// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"bitwise74/captcha-gateway/validators"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
)

var (
	AdminToken     = pflag.Bool("admin-token", false, "Prints a signed admin token and exits")
	validLogLevels = []string{"debug", "info", "warn", "error", "fatal"}
)

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that.
func Setup() error {
	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)

	return Load()
}

// Load sets the defaults, reads config.toml and the environment and
// validates the result. A missing config file is fine, everything can be
// set through the environment (UPSTREAM_BASE_URL for upstream.base_url)
func Load() error {
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	//
	// Defaults
	//
	v.SetDefault("app.log_level", "info")

	v.SetDefault("host.port", 8080)
	v.SetDefault("host.cors", "*")
	v.SetDefault("host.ssl.enabled", false)

	v.SetDefault("db.dsn", "database.db")

	v.SetDefault("upstream.base_url", "https://api.captchasonic.com")
	v.SetDefault("upstream.timeout", "10s")
	v.SetDefault("upstream.api_key", "")

	v.SetDefault("settings.app_version", "")
	v.SetDefault("settings.free_trial", false)

	v.SetDefault("security.rate_limit", 10)
	v.SetDefault("security.jwt_secret", "")

	v.SetDefault("cloudflare.turnstile.enabled", false)

	v.SetDefault("cache.redis_url", "")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.region", "auto")

	v.SetDefault("jobs.key_expiry_schedule", "@every 10m")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(v.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file, %w", err)
		}

		fmt.Println("[WARNING]: config.toml not found, using defaults and environment variables")
	}

	return Validate()
}

// Validate checks the currently loaded values
func Validate() error {
	if !slices.Contains(validLogLevels, v.GetString("app.log_level")) {
		return errors.New("invalid log level provided")
	}

	if v.GetInt("host.port") <= 0 {
		return errors.New("invalid port provided")
	}

	if v.GetBool("host.ssl.enabled") {
		if v.GetString("host.ssl.certificate_path") == "" {
			return errors.New("no ssl certificate path provided")
		}

		if v.GetString("host.ssl.certificate_key_path") == "" {
			return errors.New("no ssl certificate key path provided")
		}
	}

	if v.GetString("db.dsn") == "" {
		return errors.New("db.dsn can't be empty")
	}

	if v.GetString("upstream.base_url") == "" {
		return errors.New("upstream.base_url can't be empty")
	}

	if v.GetDuration("upstream.timeout") <= 0 {
		return errors.New("upstream.timeout must be a positive duration")
	}

	if v.GetInt("security.rate_limit") < 0 {
		return errors.New("security.rate_limit can't be negative")
	}

	if v.GetString("upstream.api_key") == "" {
		fmt.Println("[WARNING]: upstream.api_key is empty, new settings will be created without a solver key")
	}

	if v.GetString("security.jwt_secret") == "" {
		fmt.Println("[WARNING]: security.jwt_secret is empty, admin endpoints are disabled")
	}

	if !v.GetBool("cloudflare.turnstile.enabled") {
		fmt.Println("[WARNING]: Cloudflare's turnstile is disabled. Key binding won't be guarded against bots")
	} else {
		if v.GetString("cloudflare.turnstile.secret_token") == "" {
			return errors.New("turnstile secret token is missing")
		}
	}

	if e := v.GetString("setup.admin_email"); e != "" {
		if err := validators.AdminEmailValidator(e); err != nil {
			return fmt.Errorf("setup.admin_email: %w", err)
		}
	}

	if v.GetBool("archive.enabled") {
		if v.GetString("archive.bucket") == "" {
			return errors.New("archive bucket can't be empty")
		}
		if v.GetString("archive.access_key_id") == "" {
			return errors.New("archive access key id can't be empty")
		}
		if v.GetString("archive.secret_access_key") == "" {
			return errors.New("archive secret access key can't be empty")
		}
	}

	return nil
}
