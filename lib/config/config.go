// Package config defines per-target pool configuration and daemon
// configuration, with TOML persistence for both.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	apperrors "github.com/go-mcpgw/mcpool/lib/errors"
	"github.com/go-mcpgw/mcpool/lib/strategy"
)

// Default pool configuration values
const (
	DefaultMinSize              = 1
	DefaultMaxSize              = 10
	DefaultTargetSize           = 3
	DefaultAcquireTimeout       = 30 * time.Second
	DefaultMaxIdleTime          = 5 * time.Minute
	DefaultMaxLifetime          = time.Hour
	DefaultHealthCheckInterval  = 30 * time.Second
	DefaultRebalanceInterval    = time.Minute
	DefaultHealthCheckThreshold = 0.8
)

// Pool holds the configuration for one backend target's session pool.
type Pool struct {
	// Enabled controls whether sessions are pooled at all. When false the
	// strategy is forced to none and every acquisition is a fresh session.
	Enabled bool `toml:"enabled" json:"enabled"`
	// Strategy selects how available sessions are picked
	// (round_robin, least_connections, sticky, weighted, none).
	Strategy string `toml:"strategy" json:"strategy"`
	// MinSize is the minimum number of live sessions the pool maintains.
	MinSize int `toml:"min_size" json:"min_size"`
	// MaxSize is the hard upper bound on live sessions.
	MaxSize int `toml:"max_size" json:"max_size"`
	// TargetSize is the steady-state size the pool warms up and resets to.
	TargetSize int `toml:"target_size" json:"target_size"`
	// AcquireTimeout bounds how long an acquire call may wait for a session.
	AcquireTimeout time.Duration `toml:"acquire_timeout" json:"acquire_timeout"`
	// MaxIdleTime is how long an unused session survives before eviction.
	// It also bounds sticky affinity bindings.
	MaxIdleTime time.Duration `toml:"max_idle_time" json:"max_idle_time"`
	// MaxLifetime recycles sessions older than this regardless of use.
	// Zero disables age-based recycling.
	MaxLifetime time.Duration `toml:"max_lifetime" json:"max_lifetime"`
	// AutoScale enables utilization-driven resizing between MinSize and MaxSize.
	AutoScale bool `toml:"auto_scale" json:"auto_scale"`
	// HealthCheckThreshold is the success-rate fraction below which the
	// pool is reported degraded (unhealthy below half of it).
	HealthCheckThreshold float64 `toml:"health_check_threshold" json:"health_check_threshold"`
	// HealthCheckInterval is how often the health monitor runs.
	HealthCheckInterval time.Duration `toml:"health_check_interval" json:"health_check_interval"`
	// RebalanceInterval is how often the auto-scaler runs.
	RebalanceInterval time.Duration `toml:"rebalance_interval" json:"rebalance_interval"`
	// PrePing probes a session before handing it out when the factory
	// supports pinging. Failed probes evict the session.
	PrePing bool `toml:"pre_ping" json:"pre_ping"`
}

// DefaultPool returns a pool configuration with sensible defaults.
func DefaultPool() Pool {
	return Pool{
		Enabled:              true,
		Strategy:             string(strategy.RoundRobin),
		MinSize:              DefaultMinSize,
		MaxSize:              DefaultMaxSize,
		TargetSize:           DefaultTargetSize,
		AcquireTimeout:       DefaultAcquireTimeout,
		MaxIdleTime:          DefaultMaxIdleTime,
		MaxLifetime:          DefaultMaxLifetime,
		AutoScale:            true,
		HealthCheckThreshold: DefaultHealthCheckThreshold,
		HealthCheckInterval:  DefaultHealthCheckInterval,
		RebalanceInterval:    DefaultRebalanceInterval,
	}
}

// Validate checks the pool configuration for errors. Violated size bounds
// and malformed strategies are rejected before any state change is applied.
func (p *Pool) Validate() error {
	if _, err := strategy.Parse(p.Strategy); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfigValidation, err)
	}
	if p.MinSize < 0 {
		return fmt.Errorf("%w: min_size must not be negative", apperrors.ErrConfigValidation)
	}
	if p.MaxSize < 1 {
		return fmt.Errorf("%w: max_size must be at least 1", apperrors.ErrConfigValidation)
	}
	if p.Enabled {
		if p.MinSize > p.TargetSize || p.TargetSize > p.MaxSize {
			return fmt.Errorf("%w: require min_size <= target_size <= max_size, got %d/%d/%d",
				apperrors.ErrConfigValidation, p.MinSize, p.TargetSize, p.MaxSize)
		}
	}
	if p.AcquireTimeout <= 0 {
		return fmt.Errorf("%w: acquire_timeout must be positive", apperrors.ErrConfigValidation)
	}
	if p.MaxIdleTime <= 0 {
		return fmt.Errorf("%w: max_idle_time must be positive", apperrors.ErrConfigValidation)
	}
	if p.MaxLifetime < 0 {
		return fmt.Errorf("%w: max_lifetime must not be negative", apperrors.ErrConfigValidation)
	}
	if p.HealthCheckThreshold <= 0 || p.HealthCheckThreshold > 1 {
		return fmt.Errorf("%w: health_check_threshold must be in (0, 1]", apperrors.ErrConfigValidation)
	}
	if p.HealthCheckInterval <= 0 {
		return fmt.Errorf("%w: health_check_interval must be positive", apperrors.ErrConfigValidation)
	}
	if p.RebalanceInterval <= 0 {
		return fmt.Errorf("%w: rebalance_interval must be positive", apperrors.ErrConfigValidation)
	}
	return nil
}

// Normalize applies derived rules after validation: a disabled pool always
// runs the none strategy.
func (p *Pool) Normalize() {
	if !p.Enabled {
		p.Strategy = string(strategy.None)
	}
}

// StrategyKind returns the parsed strategy kind. Call Validate first;
// an unparseable strategy falls back to round_robin here.
func (p *Pool) StrategyKind() strategy.Kind {
	k, err := strategy.Parse(p.Strategy)
	if err != nil {
		return strategy.RoundRobin
	}
	return k
}

// Store persists per-target pool configuration.
type Store interface {
	// Load returns the stored configuration for a target, or
	// (nil, nil) when the target has no stored configuration.
	Load(target string) (*Pool, error)
	// Save persists the configuration for a target.
	Save(target string, cfg Pool) error
}

// FileStore keeps one TOML file per target under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed config store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// path maps a target id to a file name, escaping path separators so
// targets like "tenant/server" stay inside the store directory.
func (f *FileStore) path(target string) string {
	safe := make([]rune, 0, len(target))
	for _, r := range target {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			safe = append(safe, r)
		default:
			safe = append(safe, '_')
		}
	}
	return filepath.Join(f.dir, string(safe)+".toml")
}

// Load implements Store.
func (f *FileStore) Load(target string) (*Pool, error) {
	data, err := os.ReadFile(f.path(target))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading pool config: %w", err)
	}

	cfg := DefaultPool()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing pool config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save implements Store.
func (f *FileStore) Save(target string, cfg Pool) error {
	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling pool config: %w", err)
	}

	if err := os.WriteFile(f.path(target), data, 0600); err != nil {
		return fmt.Errorf("writing pool config: %w", err)
	}
	return nil
}
