package config

import (
	"sort"
	"strings"

	logx "pushbridge/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (pprof token) are reported only as
// set/unset; the VAPID public key is public by definition and logged trimmed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.App.Name) != strings.TrimSpace(newCfg.App.Name) ||
		oldCfg.App.AutoEnable != newCfg.App.AutoEnable {
		changed = append(changed, "app")
		attrs = append(attrs,
			logx.String("app.name", strings.TrimSpace(newCfg.App.Name)),
			logx.Bool("app.auto_enable", newCfg.App.AutoEnable),
		)
	}

	if strings.TrimSpace(oldCfg.Server.BaseURL) != strings.TrimSpace(newCfg.Server.BaseURL) ||
		strings.TrimSpace(oldCfg.Server.VapidPublicKey) != strings.TrimSpace(newCfg.Server.VapidPublicKey) ||
		strings.TrimSpace(oldCfg.Server.Timeout) != strings.TrimSpace(newCfg.Server.Timeout) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.base_url", strings.TrimSpace(newCfg.Server.BaseURL)),
			logx.Bool("server.vapid_key_set", strings.TrimSpace(newCfg.Server.VapidPublicKey) != ""),
			logx.String("server.timeout", strings.TrimSpace(newCfg.Server.Timeout)),
		)
	}

	if oldCfg.Worker != newCfg.Worker {
		changed = append(changed, "worker")
		attrs = append(attrs,
			logx.String("worker.script_path", strings.TrimSpace(newCfg.Worker.ScriptPath)),
			logx.String("worker.default_title", strings.TrimSpace(newCfg.Worker.DefaultTitle)),
			logx.String("worker.fallback_url", strings.TrimSpace(newCfg.Worker.FallbackURL)),
		)
	}

	if oldCfg.Receiver != newCfg.Receiver {
		changed = append(changed, "receiver")
		attrs = append(attrs,
			logx.String("receiver.addr", strings.TrimSpace(newCfg.Receiver.Addr)),
			logx.Bool("receiver.profile_path_set", strings.TrimSpace(newCfg.Receiver.ProfilePath) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Pprof (never log token)
	if oldCfg.Pprof.Enabled != newCfg.Pprof.Enabled ||
		strings.TrimSpace(oldCfg.Pprof.Addr) != strings.TrimSpace(newCfg.Pprof.Addr) ||
		strings.TrimSpace(oldCfg.Pprof.Prefix) != strings.TrimSpace(newCfg.Pprof.Prefix) ||
		oldCfg.Pprof.AllowInsecure != newCfg.Pprof.AllowInsecure ||
		strings.TrimSpace(oldCfg.Pprof.ReadTimeout) != strings.TrimSpace(newCfg.Pprof.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.WriteTimeout) != strings.TrimSpace(newCfg.Pprof.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.IdleTimeout) != strings.TrimSpace(newCfg.Pprof.IdleTimeout) ||
		oldCfg.Pprof.MutexProfileFraction != newCfg.Pprof.MutexProfileFraction ||
		oldCfg.Pprof.BlockProfileRate != newCfg.Pprof.BlockProfileRate ||
		oldCfg.Pprof.MemProfileRate != newCfg.Pprof.MemProfileRate ||
		(strings.TrimSpace(oldCfg.Pprof.Token) != "") != (strings.TrimSpace(newCfg.Pprof.Token) != "") {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
