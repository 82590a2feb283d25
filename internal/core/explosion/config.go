package explosion

import (
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/blastcore/internal/core/voxel/cache"
	"github.com/zeusync/blastcore/internal/core/voxel/trace"
)

// DamageFormula selects how entity damage is derived in the applier.
type DamageFormula string

const (
	// DamageVanilla falls off quadratically with distance only.
	DamageVanilla DamageFormula = "vanilla"
	// DamageImpact scales with the computed knockback magnitude.
	DamageImpact DamageFormula = "impact"
)

type Config struct {
	CacheExpiryTicks int64 `yaml:"cache_expiry_ticks" json:"cache_expiry_ticks"`
	// CacheShards is the lock stripe count used when calculations run concurrently.
	CacheShards        int     `yaml:"cache_shards" json:"cache_shards"`
	CollisionThreshold float32 `yaml:"collision_threshold" json:"collision_threshold"`
	// MaxPower bounds accepted explosion power. Snapshot size and ray length grow
	// with power and both run on the world loop.
	MaxPower float64 `yaml:"max_power" json:"max_power"`

	Damage      DamageFormula `yaml:"damage" json:"damage"`
	VanillaFire bool          `yaml:"vanilla_fire" json:"vanilla_fire"`

	LandProtection  bool `yaml:"land_protection" json:"land_protection"`
	LockProtection  bool `yaml:"lock_protection" json:"lock_protection"`
	EntityShielding bool `yaml:"entity_shielding" json:"entity_shielding"`
	FullRaycast     bool `yaml:"full_raycast" json:"full_raycast"`

	// Strategy is one of "auto", "scalar" or "vectorized".
	Strategy string `yaml:"strategy" json:"strategy"`

	PoolSize    int           `yaml:"pool_size" json:"pool_size"`
	Workers     int           `yaml:"workers" json:"workers"`
	CalcTimeout time.Duration `yaml:"calc_timeout" json:"calc_timeout"`

	Batching     bool `yaml:"batching" json:"batching"`
	MaxBatchSize int  `yaml:"max_batch_size" json:"max_batch_size"`

	Debug bool `yaml:"debug" json:"debug"`
}

// DefaultMaxPower covers the strongest vanilla sources with headroom.
const DefaultMaxPower = 16

func DefaultConfig() Config {
	return Config{
		CacheExpiryTicks:   cache.DefaultExpiry,
		CacheShards:        cache.DefaultShards,
		CollisionThreshold: trace.DefaultThreshold,
		MaxPower:           DefaultMaxPower,
		Damage:             DamageVanilla,
		VanillaFire:        true,
		LandProtection:     true,
		LockProtection:     false,
		EntityShielding:    false,
		FullRaycast:        false,
		Strategy:           StrategyAuto,
		PoolSize:           16,
		Workers:            2,
		CalcTimeout:        2 * time.Millisecond,
		Batching:           true,
		MaxBatchSize:       64,
	}
}

func (c Config) Validate() error {
	if c.CacheExpiryTicks <= 0 {
		return errors.Errorf("cache_expiry_ticks must be positive, got %d", c.CacheExpiryTicks)
	}
	if c.CollisionThreshold < 0 {
		return errors.Errorf("collision_threshold must not be negative, got %v", c.CollisionThreshold)
	}
	if c.MaxPower <= 0 || c.MaxPower > 1024 {
		return errors.Errorf("max_power must be in (0, 1024], got %v", c.MaxPower)
	}
	switch c.Damage {
	case DamageVanilla, DamageImpact:
	default:
		return errors.Errorf("damage must be %q or %q, got %q", DamageVanilla, DamageImpact, c.Damage)
	}
	switch c.Strategy {
	case StrategyAuto, StrategyScalarName, StrategyVectorizedName:
	default:
		return errors.Errorf("unknown strategy %q", c.Strategy)
	}
	if c.PoolSize < 0 {
		return errors.Errorf("pool_size must not be negative, got %d", c.PoolSize)
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.CalcTimeout <= 0 {
		return errors.Errorf("calc_timeout must be positive, got %s", c.CalcTimeout)
	}
	if c.Batching && c.MaxBatchSize < 2 {
		return errors.Errorf("max_batch_size must be at least 2 when batching, got %d", c.MaxBatchSize)
	}
	return nil
}
