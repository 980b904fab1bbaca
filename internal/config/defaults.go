package config

const (
	// Filesystem paths
	DefaultConfigPath = "/etc/apkhub/config.yml"
	DefaultDataDir    = "/var/lib/apkhub"

	// Service defaults
	DefaultBindAddress = "127.0.0.1"
	DefaultPort        = 8000

	// Rate limits (requests per client per minute)
	DefaultRatePerMinute    = 60
	DefaultAPKRatePerMinute = 30

	// Sweep interval
	DefaultIntervalHours = 6
)
