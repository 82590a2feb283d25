// Package app runs the world loops, the world clock and the server as one unit.
package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/blastcore/internal/config"
	"github.com/zeusync/blastcore/internal/core/events/bus"
	"github.com/zeusync/blastcore/internal/core/explosion"
	"github.com/zeusync/blastcore/internal/core/observability/log"
	"github.com/zeusync/blastcore/internal/core/voxel/memworld"
	"github.com/zeusync/blastcore/internal/server"
)

type App struct {
	Config   config.Config
	Logger   log.Log
	Events   bus.EventBus
	Worlds   []*memworld.World
	Registry *explosion.Registry
	Server   *server.Server
}

// Run serves until ctx is done, then stops the server, closes every engine on
// its own loop and finally stops the loops.
func (a *App) Run(ctx context.Context) error {
	logger := a.Logger.Named("app")

	loopCtx, stopLoops := context.WithCancel(context.Background())
	defer stopLoops()

	loops, _ := errgroup.WithContext(loopCtx)
	for _, w := range a.Worlds {
		w := w
		loops.Go(func() error {
			if err := w.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
				return errors.Wrapf(err, "world %s", w.Name())
			}
			return nil
		})
	}

	if err := a.Server.Start(ctx); err != nil {
		a.shutdown(logger, stopLoops)
		_ = loops.Wait()
		return errors.Wrap(err, "start server")
	}
	logger.Info("blastcore running",
		log.String("addr", a.Server.Addr()),
		log.Int("worlds", len(a.Worlds)),
		log.Duration("tick", a.Config.TickInterval))

	ticker := time.NewTicker(a.Config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown(logger, stopLoops)
			return loops.Wait()
		case <-ticker.C:
			a.tick(ctx, logger)
		}
	}
}

// tick advances every world clock and flushes the batches of the previous tick.
func (a *App) tick(ctx context.Context, logger log.Log) {
	ctx, cancel := context.WithTimeout(ctx, a.Config.TickInterval)
	defer cancel()

	for _, w := range a.Worlds {
		tick := w.Tick()
		session, ok := a.Registry.Get(w.Name())
		if !ok {
			continue
		}
		reports, err := session.Tick(ctx)
		if err != nil {
			logger.Warn("world tick failed", log.String("world", w.Name()), log.Int64("tick", tick), log.Error(err))
			continue
		}
		if len(reports) > 0 {
			logger.Debug("batches applied", log.String("world", w.Name()), log.Int64("tick", tick), log.Int("reports", len(reports)))
		}
	}
}

func (a *App) shutdown(logger log.Log, stopLoops context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout+time.Second)
	defer cancel()

	if err := a.Server.Close(); err != nil {
		logger.Warn("server close failed", log.Error(err))
	}
	if err := a.Registry.Close(ctx); err != nil {
		logger.Warn("engine close failed", log.Error(err))
	}

	stopLoops()
	for _, w := range a.Worlds {
		w.Close()
	}
	logger.Info("blastcore stopped")
}
