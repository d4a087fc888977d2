package config

import "time"

// Backend names accepted in configuration.
const (
	BackendTAS = "tas"
	BackendZK  = "zk"
)

// Config holds client configuration values.
type Config struct {
	// ServerAddr is the lobby server endpoint, host:port or a ws:// URL.
	ServerAddr string `mapstructure:"server_addr" yaml:"server_addr"`
	// Backend selects the wire protocol: "tas" (line) or "zk" (json).
	Backend string `mapstructure:"backend" yaml:"backend"`

	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	DatabasePath  string `mapstructure:"database_path" yaml:"database_path"`
	TranscriptDir string `mapstructure:"transcript_dir" yaml:"transcript_dir"`

	// HTTPAddr is where the local UI bridge listens.
	HTTPAddr string `mapstructure:"http_addr" yaml:"http_addr"`

	ReconnectDelay  time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		ServerAddr:      "lobby.springrts.com:8200",
		Backend:         BackendTAS,
		LogLevel:        "info",
		DatabasePath:    "weblobby.db",
		TranscriptDir:   "logs",
		HTTPAddr:        "127.0.0.1:8220",
		ReconnectDelay:  5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}
