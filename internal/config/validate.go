package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"pushbridge/pkg/vapid"
)

// Defaults applied when fields are omitted.
const (
	DefaultAppName      = "pushbridge"
	DefaultScriptPath   = "/sw.js"
	DefaultDefaultTitle = "Pushbridge"
	DefaultIconPath     = "/static/icons/icon-192.png"
	DefaultBadgePath    = "/static/icons/badge-72.png"
	DefaultFallbackURL  = "/portal"
	DefaultReceiverAddr = "127.0.0.1:8423"
	DefaultProfilePath  = "./pushbridge.db"
	DefaultAPITimeout   = "30s"
)

// ApplyDefaults fills omitted fields in place. Validate assumes defaults
// have been applied.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.App.Name) == "" {
		cfg.App.Name = DefaultAppName
	}
	if strings.TrimSpace(cfg.Worker.ScriptPath) == "" {
		cfg.Worker.ScriptPath = DefaultScriptPath
	}
	if strings.TrimSpace(cfg.Worker.DefaultTitle) == "" {
		cfg.Worker.DefaultTitle = DefaultDefaultTitle
	}
	if strings.TrimSpace(cfg.Worker.IconPath) == "" {
		cfg.Worker.IconPath = DefaultIconPath
	}
	if strings.TrimSpace(cfg.Worker.BadgePath) == "" {
		cfg.Worker.BadgePath = DefaultBadgePath
	}
	if strings.TrimSpace(cfg.Worker.FallbackURL) == "" {
		cfg.Worker.FallbackURL = DefaultFallbackURL
	}
	if strings.TrimSpace(cfg.Receiver.Addr) == "" {
		cfg.Receiver.Addr = DefaultReceiverAddr
	}
	if strings.TrimSpace(cfg.Receiver.ProfilePath) == "" {
		cfg.Receiver.ProfilePath = DefaultProfilePath
	}
	if strings.TrimSpace(cfg.Server.Timeout) == "" {
		cfg.Server.Timeout = DefaultAPITimeout
	}
}

// Validate checks the config for mistakes that would only surface later as
// confusing runtime failures. It is also installed as the Watch() validator
// so a bad edit never replaces a working config.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	base := strings.TrimSpace(cfg.Server.BaseURL)
	if base == "" {
		return fmt.Errorf("server.base_url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("server.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.base_url: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("server.base_url: missing host")
	}

	if key := strings.TrimSpace(cfg.Server.VapidPublicKey); key != "" {
		if _, err := vapid.DecodePublicKey(key); err != nil {
			return fmt.Errorf("server.vapid_public_key: %w", err)
		}
	}

	if _, err := ParseDurationField("server.timeout", cfg.Server.Timeout); err != nil {
		return err
	}

	if sp := strings.TrimSpace(cfg.Worker.ScriptPath); !strings.HasPrefix(sp, "/") {
		return fmt.Errorf("worker.script_path must start with /, got %q", sp)
	}

	switch lv := strings.ToLower(strings.TrimSpace(cfg.Logging.Level)); lv {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", lv)
	}

	for _, f := range []struct{ name, raw string }{
		{"pprof.read_timeout", cfg.Pprof.ReadTimeout},
		{"pprof.write_timeout", cfg.Pprof.WriteTimeout},
		{"pprof.idle_timeout", cfg.Pprof.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.name, f.raw); err != nil {
			return err
		}
	}

	return nil
}
