package risk

import (
	"fmt"
	"sync/atomic"
)

// ConfigSource supplies the gate's thresholds.
type ConfigSource interface {
	Current() Config
}

// Static is a fixed configuration.
type Static Config

// Current implements ConfigSource.
func (s Static) Current() Config { return Config(s) }

// Reloadable holds a configuration that can be swapped while the engine is
// running. Each Evaluate sees one complete Config, old or new.
type Reloadable struct {
	cur atomic.Pointer[Config]
}

// NewReloadable validates and installs the initial configuration.
func NewReloadable(cfg Config) (*Reloadable, error) {
	r := &Reloadable{}
	if err := r.Store(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// Current implements ConfigSource.
func (r *Reloadable) Current() Config {
	return *r.cur.Load()
}

// Store replaces the configuration. An invalid configuration is rejected
// and the previous one stays in force.
func (r *Reloadable) Store(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("risk: invalid config: %w", err)
	}
	r.cur.Store(&cfg)
	return nil
}

var (
	_ ConfigSource = Static{}
	_ ConfigSource = (*Reloadable)(nil)
)
