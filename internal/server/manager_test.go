package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func testConfig(addr string) Config {
	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestManager_StartServesAndShutsDown(t *testing.T) {
	addr := freeAddr(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "pong")
	})

	m := NewManager(mux, testConfig(addr), zap.NewNop())
	require.NoError(t, m.Start())

	resp, err := http.Get("http://" + addr + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))
	assert.True(t, m.IsRunning())

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
}

func TestManager_StartTwiceFails(t *testing.T) {
	addr := freeAddr(t)

	m := NewManager(http.NewServeMux(), testConfig(addr), zap.NewNop())
	require.NoError(t, m.Start())
	defer m.Shutdown(context.Background())

	assert.Error(t, m.Start())
}

func TestManager_BindFailureIsSynchronous(t *testing.T) {
	addr := freeAddr(t)

	first := NewManager(http.NewServeMux(), testConfig(addr), zap.NewNop())
	require.NoError(t, first.Start())
	defer first.Shutdown(context.Background())

	second := NewManager(http.NewServeMux(), testConfig(addr), zap.NewNop())
	assert.Error(t, second.Start())
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	addr := freeAddr(t)

	m := NewManager(http.NewServeMux(), testConfig(addr), zap.NewNop())
	require.NoError(t, m.Start())

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_StartAfterCloseFails(t *testing.T) {
	addr := freeAddr(t)

	m := NewManager(http.NewServeMux(), testConfig(addr), zap.NewNop())
	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))

	assert.Error(t, m.Start())
}

func TestManager_Addr(t *testing.T) {
	cfg := testConfig("127.0.0.1:18080")
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())
	assert.Equal(t, "127.0.0.1:18080", m.Addr())
}
