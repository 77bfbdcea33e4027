package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aaronlmathis/tsinsight/internal/config"
	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

func TestBuildDependenciesMemory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, cleanup, err := buildDependencies(ctx, zaptest.NewLogger(t), config.Default())
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, deps.Source)
	require.NotNil(t, deps.Store)
	assert.Nil(t, deps.Ready)

	// The composed source reads through the in-memory store
	deps.Store.SetMembers("shop/web", []string{"shop/web-1"})
	deps.Store.Append("shop/web-1", timeseries.MetricRPS, timeseries.NewPoint(time.Now(), 1))

	members, err := deps.Source.Members(ctx, "shop/web")
	require.NoError(t, err)
	assert.Equal(t, []string{"shop/web-1"}, members)

	s, err := deps.Source.Series(ctx, "shop/web-1", timeseries.MetricRPS)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestBuildDependenciesSQLiteCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Default()
	cfg.Source.Kind = config.SourceSQLite
	cfg.Source.SQLite.Path = filepath.Join(t.TempDir(), "samples.db")

	deps, cleanup, err := buildDependencies(ctx, zaptest.NewLogger(t), cfg)
	require.NoError(t, err)
	require.NotNil(t, deps.Ready)
	assert.NoError(t, deps.Ready(ctx))

	cleanup()
	assert.Error(t, deps.Ready(ctx), "cleanup must close the SQLite store")
}

func TestBuildDependenciesKubernetesError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Default()
	cfg.Kubernetes.Enabled = true
	cfg.Kubernetes.Mode = "kubeconfig"
	cfg.Kubernetes.KubeconfigPath = filepath.Join(t.TempDir(), "missing-kubeconfig")

	_, cleanup, err := buildDependencies(ctx, zaptest.NewLogger(t), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create Kubernetes clients")
	require.NotNil(t, cleanup)
	cleanup()
}

func TestRunReturnsListenError(t *testing.T) {
	cfg := config.Default()
	cfg.Source.Kind = config.SourceSQLite
	cfg.Source.SQLite.Path = filepath.Join(t.TempDir(), "samples.db")
	cfg.Server.Addr = "127.0.0.1:-1"

	done := make(chan error, 1)
	go func() { done <- run(zaptest.NewLogger(t), cfg) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server failed")
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after the listener failed")
	}
}
