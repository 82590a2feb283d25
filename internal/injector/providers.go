package injector

import (
	"github.com/google/wire"
	"github.com/pkg/errors"

	"github.com/zeusync/blastcore/internal/app"
	"github.com/zeusync/blastcore/internal/config"
	"github.com/zeusync/blastcore/internal/core/events/bus"
	"github.com/zeusync/blastcore/internal/core/explosion"
	"github.com/zeusync/blastcore/internal/core/observability/log"
	"github.com/zeusync/blastcore/internal/core/voxel/memworld"
	"github.com/zeusync/blastcore/internal/server"
)

var ProviderSet = wire.NewSet(
	wire.FieldsOf(new(config.Config), "Log", "Server"),
	ProvideLogger,
	ProvideEventBus,
	ProvideWorlds,
	ProvideRegistry,
	ProvideServer,
	wire.Bind(new(server.Worlds), new(*explosion.Registry)),
	wire.Struct(new(app.App), "*"),
)

// ProvideLogger builds the process logger. The cleanup flushes it.
func ProvideLogger(opts log.Options) (log.Log, func(), error) {
	logger, err := log.New(opts)
	if err != nil {
		return nil, nil, errors.Wrap(err, "build logger")
	}
	return logger, func() { _ = logger.Sync() }, nil
}

func ProvideEventBus() bus.EventBus {
	return bus.New()
}

// ProvideWorlds builds one in-memory world per configured world. The cleanup
// closes them.
func ProvideWorlds(cfg config.Config, logger log.Log) ([]*memworld.World, func()) {
	worlds := make([]*memworld.World, 0, len(cfg.Worlds))
	for _, wc := range cfg.Worlds {
		worlds = append(worlds, memworld.New(wc, logger))
	}
	return worlds, func() {
		for _, w := range worlds {
			w.Close()
		}
	}
}

// ProvideRegistry gives every world its own engine. Engines share the event bus.
func ProvideRegistry(cfg config.Config, worlds []*memworld.World, events bus.EventBus, logger log.Log) (*explosion.Registry, error) {
	registry := explosion.NewRegistry()
	for _, w := range worlds {
		engine, err := explosion.NewEngine(w, cfg.Explosion,
			explosion.WithLogger(logger),
			explosion.WithEventBus(events),
			explosion.WithWorldName(w.Name()),
		)
		if err != nil {
			return nil, errors.Wrapf(err, "engine for world %s", w.Name())
		}
		if err := registry.Register(explosion.NewSession(w.Name(), w, engine)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func ProvideServer(conf server.Config, worlds server.Worlds, events bus.EventBus, logger log.Log) *server.Server {
	return server.NewServer(conf, worlds, events, logger)
}
