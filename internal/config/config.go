// Package config loads the blastcore server configuration from YAML.
package config

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/blastcore/internal/core/explosion"
	"github.com/zeusync/blastcore/internal/core/observability/log"
	"github.com/zeusync/blastcore/internal/core/voxel/memworld"
	"github.com/zeusync/blastcore/internal/server"
)

type Config struct {
	Log       log.Options       `yaml:"log"`
	Explosion explosion.Config  `yaml:"explosion"`
	Server    server.Config     `yaml:"server"`
	Worlds    []memworld.Config `yaml:"worlds"`
	// TickInterval is the period of the world clock driving batch flushes.
	TickInterval time.Duration `yaml:"tick_interval"`
}

func Default() Config {
	return Config{
		Log:          log.DefaultOptions(),
		Explosion:    explosion.DefaultConfig(),
		Server:       server.DefaultServerConfig(),
		Worlds:       []memworld.Config{memworld.DefaultConfig()},
		TickInterval: 50 * time.Millisecond,
	}
}

// LoadYAML decodes r over the defaults. Unknown keys are rejected.
func LoadYAML(r io.Reader) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "decode config")
	}

	cfg.fillWorlds()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "open config")
	}
	defer f.Close()

	cfg, err := LoadYAML(f)
	if err != nil {
		return Config{}, errors.Wrapf(err, "load %s", path)
	}
	return cfg, nil
}

// fillWorlds gives partially specified worlds the default height and queue.
func (c *Config) fillWorlds() {
	d := memworld.DefaultConfig()
	for i := range c.Worlds {
		w := &c.Worlds[i]
		if w.MinY == 0 && w.MaxY == 0 {
			w.MinY, w.MaxY = d.MinY, d.MaxY
		}
		if w.QueueSize <= 0 {
			w.QueueSize = d.QueueSize
		}
	}
}

func (c Config) Validate() error {
	if err := c.Explosion.Validate(); err != nil {
		return errors.Wrap(err, "explosion")
	}
	if err := c.Server.Validate(); err != nil {
		return errors.Wrap(err, "server")
	}
	if c.TickInterval <= 0 {
		return errors.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if len(c.Worlds) == 0 {
		return errors.New("at least one world is required")
	}

	seen := make(map[string]struct{}, len(c.Worlds))
	for _, w := range c.Worlds {
		if w.Name == "" {
			return errors.New("world name is empty")
		}
		if _, dup := seen[w.Name]; dup {
			return errors.Errorf("world %q is declared twice", w.Name)
		}
		seen[w.Name] = struct{}{}
		if w.MaxY <= w.MinY {
			return errors.Errorf("world %q: max_y %d must exceed min_y %d", w.Name, w.MaxY, w.MinY)
		}
	}
	return nil
}
