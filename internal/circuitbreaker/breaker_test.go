package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *Config {
	return &Config{
		Threshold:        3,
		ResetTimeout:     20 * time.Millisecond,
		HalfOpenMaxCalls: 2,
	}
}

func TestCall_PassesThroughWhenClosed(t *testing.T) {
	b := New(testConfig(), zap.NewNop())

	err := b.Call(context.Background(), func() error { return nil })

	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestCall_OpensAfterThresholdFailures(t *testing.T) {
	b := New(testConfig(), zap.NewNop())
	boom := errors.New("node unreachable")

	for i := 0; i < 3; i++ {
		err := b.Call(context.Background(), func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, StateOpen, b.State())

	calls := 0
	err := b.Call(context.Background(), func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls)
}

func TestCall_HalfOpenRecovery(t *testing.T) {
	b := New(testConfig(), zap.NewNop())
	boom := errors.New("down")

	for i := 0; i < 3; i++ {
		_ = b.Call(context.Background(), func() error { return boom })
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	err := b.Call(context.Background(), func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestCall_HalfOpenFailureReopens(t *testing.T) {
	b := New(testConfig(), zap.NewNop())
	boom := errors.New("down")

	for i := 0; i < 3; i++ {
		_ = b.Call(context.Background(), func() error { return boom })
	}
	time.Sleep(30 * time.Millisecond)

	err := b.Call(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateOpen, b.State())
}

func TestCall_SuccessResetsFailureCount(t *testing.T) {
	b := New(testConfig(), zap.NewNop())
	boom := errors.New("flaky")

	_ = b.Call(context.Background(), func() error { return boom })
	_ = b.Call(context.Background(), func() error { return boom })
	require.NoError(t, b.Call(context.Background(), func() error { return nil }))

	// Two more failures must not trip a threshold of three.
	_ = b.Call(context.Background(), func() error { return boom })
	_ = b.Call(context.Background(), func() error { return boom })
	assert.Equal(t, StateClosed, b.State())
}

func TestCall_CancelledContextDoesNotCountAgainstNode(t *testing.T) {
	b := New(testConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		err := b.Call(ctx, func() error { return errors.New("never runs") })
		assert.ErrorIs(t, err, context.Canceled)
	}

	assert.Equal(t, StateClosed, b.State())
}

func TestReset(t *testing.T) {
	b := New(testConfig(), zap.NewNop())
	boom := errors.New("down")

	for i := 0; i < 3; i++ {
		_ = b.Call(context.Background(), func() error { return boom })
	}
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Call(context.Background(), func() error { return nil }))
}

func TestOnStateChangeCallback(t *testing.T) {
	transitions := make(chan [2]State, 8)
	cfg := testConfig()
	cfg.OnStateChange = func(from, to State) {
		transitions <- [2]State{from, to}
	}
	b := New(cfg, zap.NewNop())

	for i := 0; i < 3; i++ {
		_ = b.Call(context.Background(), func() error { return errors.New("down") })
	}

	select {
	case tr := <-transitions:
		assert.Equal(t, StateClosed, tr[0])
		assert.Equal(t, StateOpen, tr[1])
	case <-time.After(time.Second):
		t.Fatal("no state change observed")
	}
}
