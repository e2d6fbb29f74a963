package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()

	m, err := NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return m, mr
}

func TestNewManager_ConnectFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 200 * time.Millisecond

	_, err := NewManager(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestSetGet(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestGet_Miss(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Get(context.Background(), "absent")
	assert.True(t, IsCacheMiss(err))
}

func TestSetGetJSON(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	type snapshot struct {
		NodeID string `json:"node_id"`
		Active uint32 `json:"active"`
	}

	in := []snapshot{{NodeID: "n1", Active: 3}, {NodeID: "n2", Active: 0}}
	require.NoError(t, m.SetJSON(ctx, "dashboard:nodes", in, time.Minute))

	var out []snapshot
	require.NoError(t, m.GetJSON(ctx, "dashboard:nodes", &out))
	assert.Equal(t, in, out)
}

func TestGetJSON_Miss(t *testing.T) {
	m, _ := newTestManager(t)

	var out map[string]any
	err := m.GetJSON(context.Background(), "absent", &out)
	assert.True(t, IsCacheMiss(err))
}

func TestExpiry(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", 5*time.Second))

	mr.FastForward(10 * time.Second)

	_, err := m.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestDelete(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", "1", 0))
	require.NoError(t, m.Set(ctx, "b", "2", 0))
	require.NoError(t, m.Delete(ctx, "a", "b"))

	n, err := m.Exists(ctx, "a", "b")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDelete_NoKeys(t *testing.T) {
	m, _ := newTestManager(t)
	assert.NoError(t, m.Delete(context.Background()))
}

func TestPingAndClose(t *testing.T) {
	m, _ := newTestManager(t)

	assert.NoError(t, m.Ping(context.Background()))
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}
