package config

type Config struct {
	// App identifies this host to the desktop notification daemon and log files.
	App AppConfig `json:"app"`

	// Server points at the push backend that stores subscriptions and sends
	// notifications.
	Server ServerConfig `json:"server"`

	// Worker configures the background notification handler.
	Worker WorkerConfig `json:"worker"`

	// Receiver configures the local push endpoint that stands in for the
	// browser push service.
	Receiver ReceiverConfig `json:"receiver"`

	Logging LoggingConfig `json:"logging"`
	Pprof   PprofConfig   `json:"pprof,omitempty"`
}

type AppConfig struct {
	// Name is used as the notification app name and the desktop-entry hint.
	Name string `json:"name"`

	// AutoEnable turns push on at startup without waiting for an explicit
	// enable call. Permission is still requested through the platform.
	AutoEnable bool `json:"auto_enable"`
}

type ServerConfig struct {
	// BaseURL is the push backend origin, e.g. "https://portal.example.com".
	BaseURL string `json:"base_url"`

	// VapidPublicKey is the server's application key, base64url encoded
	// (padded or unpadded). It must decode to a 65-byte uncompressed P-256
	// point.
	VapidPublicKey string `json:"vapid_public_key"`

	// Timeout is a Go duration string for server API calls (e.g. "30s").
	Timeout string `json:"timeout,omitempty"`
}

type WorkerConfig struct {
	// ScriptPath is the worker script URL registered with the platform.
	ScriptPath string `json:"script_path"`

	// DefaultTitle is shown when a push payload carries no title.
	DefaultTitle string `json:"default_title,omitempty"`

	IconPath  string `json:"icon_path,omitempty"`
	BadgePath string `json:"badge_path,omitempty"`

	// FallbackURL is opened on notification click when the payload carries
	// no url of its own.
	FallbackURL string `json:"fallback_url,omitempty"`
}

type ReceiverConfig struct {
	// Addr is the listen address for incoming push deliveries,
	// e.g. "127.0.0.1:8423". Prefer loopback; the endpoint accepts
	// encrypted payloads addressed to this host only.
	Addr string `json:"addr,omitempty"`

	// ProfilePath is the sqlite file holding keys and the current
	// subscription across restarts.
	ProfilePath string `json:"profile_path,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}
