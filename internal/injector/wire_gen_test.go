package injector

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/blastcore/internal/config"
	"github.com/zeusync/blastcore/internal/core/observability/log"
	"github.com/zeusync/blastcore/internal/core/voxel"
	"github.com/zeusync/blastcore/internal/core/voxel/memworld"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Log.Level = log.LevelError
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.TickInterval = 5 * time.Millisecond
	cfg.Worlds = []memworld.Config{
		{Name: "overworld", MinY: 0, MaxY: 255, Seed: 1},
		{Name: "nether", MinY: 0, MaxY: 127, Seed: 2},
	}
	return cfg
}

func TestInitializeApp(t *testing.T) {
	a, cleanup, err := InitializeApp(testConfig())
	require.NoError(t, err)
	defer cleanup()

	require.Len(t, a.Worlds, 2)
	require.Equal(t, []string{"nether", "overworld"}, a.Registry.Names())
	require.NotNil(t, a.Server)
}

func TestInitializeAppRejectsBadEngineConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Explosion.Damage = "loud"
	_, _, err := InitializeApp(cfg)
	require.Error(t, err)
}

func TestAppRun(t *testing.T) {
	a, cleanup, err := InitializeApp(testConfig())
	require.NoError(t, err)
	defer cleanup()

	overworld := a.Worlds[0]
	overworld.Fill(voxel.P(-2, 63, -2), voxel.P(2, 63, 2), voxel.Dirt)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.Server.GetStats().Running }, 5*time.Second, time.Millisecond)

	resp, err := http.Post("http://"+a.Server.Addr()+"/queue", "application/json",
		strings.NewReader(`{"world":"overworld","center":[0.5,64.5,0.5],"power":2}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// The clock flushes the queued explosion on a later tick.
	require.Eventually(t, func() bool {
		return overworld.Material(voxel.P(0, 63, 0)) == voxel.Air
	}, 5*time.Second, time.Millisecond)
	require.Positive(t, overworld.CurrentTick())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}

	require.False(t, a.Server.GetStats().Running)
	session, ok := a.Registry.Get("overworld")
	require.False(t, ok, "registry should be emptied on shutdown: %v", session)
}
