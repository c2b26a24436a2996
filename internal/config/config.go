package config

import "time"

// Config is the root configuration shared by the topicmux binaries.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	RPC           RPCConfig           `yaml:"rpc"`
	Recorder      RecorderConfig      `yaml:"recorder"`
	Database      DBConfig            `yaml:"database"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig holds connection settings for the topic server.
type ServerConfig struct {
	URL                string        `yaml:"url"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	StaleTimeout       time.Duration `yaml:"stale_timeout"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectTries  int           `yaml:"max_reconnect_tries"`
}

// SubscriptionsConfig declares always-on topics and scroll-feed caps.
type SubscriptionsConfig struct {
	// Defaults are implicitly always subscribed and never unsubscribed.
	Defaults []string `yaml:"defaults"`

	// Scroll maps topic names to the maximum retained element count for
	// append-only feeds (e.g. log lines).
	Scroll map[string]int `yaml:"scroll"`
}

// RPCConfig holds default per-call timers.
type RPCConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	PendingDelay time.Duration `yaml:"pending_delay"`
}

// RecorderConfig holds settings for the topic recorder service.
type RecorderConfig struct {
	// Topics to subscribe and persist.
	Topics []string `yaml:"topics"`

	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`

	// SnapshotInterval is how often full topic snapshots are persisted in
	// addition to per-update rows. 0 disables interval snapshots.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// DBConfig holds the PostgreSQL connection for the recorder.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
