package tlsutil

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()

	assert.EqualValues(t, tls.VersionTLS12, cfg.MinVersion)
	require.NotEmpty(t, cfg.CipherSuites)

	// AEAD-only: no CBC suites may appear.
	for _, suite := range cfg.CipherSuites {
		assert.NotContains(t, tls.CipherSuiteName(suite), "CBC")
	}
}

func TestSecureTransport(t *testing.T) {
	tr := SecureTransport()

	require.NotNil(t, tr.TLSClientConfig)
	assert.EqualValues(t, tls.VersionTLS12, tr.TLSClientConfig.MinVersion)
	assert.True(t, tr.ForceAttemptHTTP2)
}

func TestSecureHTTPClient(t *testing.T) {
	c := SecureHTTPClient(7 * time.Second)

	assert.Equal(t, 7*time.Second, c.Timeout)
	require.NotNil(t, c.Transport)
}
