package config

import "time"

// RestartBackoffConfig groups the restart-backoff fields of Config (§4.6):
// min(base * 2^k, cap), k = consecutive-failure count for that profile. The
// Supervisor takes these values through its own supervisor.Config; nothing
// in this module reads RestartBackoffConfig.
type RestartBackoffConfig struct {
	Base time.Duration
	Cap  time.Duration
}

// GetRestartBackoffConfig returns the Supervisor restart-backoff shape derived
// from Config.
func (c Config) GetRestartBackoffConfig() RestartBackoffConfig {
	return RestartBackoffConfig{Base: c.RestartBackoffBase, Cap: c.RestartBackoffCap}
}
