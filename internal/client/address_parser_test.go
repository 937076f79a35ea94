package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "poolnet/internal/core/errors"
)

func TestParsePoolAddress(t *testing.T) {
	tests := []struct {
		uri      string
		host     string
		port     uint16
		pool     string
		security Security
	}{
		{"tcp://localhost/pool", "localhost", 65456, "pool", Insecure},
		{"tcp://localhost:1234/pool", "localhost", 1234, "pool", Insecure},
		{"tcpo://10.0.0.1:0x10/a/b", "10.0.0.1", 16, "a/b", Opportunistic},
		{"tcps://example.com:010/p", "example.com", 8, "p", Secure},
		{"tcp://[::1]:99/p", "::1", 99, "p", Insecure},
		{"tcp://[fe80::1]/p", "fe80::1", 65456, "p", Insecure},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			a, err := ParsePoolAddress(tt.uri, false)
			require.NoError(t, err)
			assert.Equal(t, tt.host, a.Host)
			assert.Equal(t, tt.port, a.Port)
			assert.Equal(t, tt.pool, a.Pool)
			assert.Equal(t, tt.security, a.Security)
		})
	}
}

func TestParsePoolAddress_Errors(t *testing.T) {
	for _, uri := range []string{
		"localhost/pool",
		"http://localhost/pool",
		"tcp://localhost",
		"tcp:///pool",
		"tcp://localhost:/pool",
		"tcp://localhost/",
		"tcp://localhost:70000/pool",
		"tcp://localhost:12ab/pool",
		"tcp://[::1/pool",
		"tcp://[::1]x/pool",
	} {
		t.Run(uri, func(t *testing.T) {
			_, err := ParsePoolAddress(uri, false)
			require.Error(t, err)
			assert.Equal(t, coreerrors.CodePoolnameBadth, coreerrors.GetCode(err))
			assert.Equal(t, coreerrors.CategoryAddress, coreerrors.CategoryFor(err))
		})
	}
}

func TestParsePoolAddress_EmptyPoolAllowed(t *testing.T) {
	a, err := ParsePoolAddress("tcp://localhost:1234/", true)
	require.NoError(t, err)
	assert.Empty(t, a.Pool)
	assert.Equal(t, "localhost:1234", a.HostPort())
}

func TestPoolAddress_String(t *testing.T) {
	a, err := ParsePoolAddress("tcpo://[::1]:0x20/x", false)
	require.NoError(t, err)
	assert.Equal(t, "tcpo://[::1]:32/x", a.String())
	assert.Equal(t, "[::1]:0x20", a.HostPort())

	b, err := ParsePoolAddress("tcps://[::1]:32/y", false)
	require.NoError(t, err)
	assert.True(t, a.SameServer(b))
}

func TestSecurity_Scheme(t *testing.T) {
	assert.Equal(t, "tcp", Insecure.Scheme())
	assert.Equal(t, "tcpo", Opportunistic.Scheme())
	assert.Equal(t, "tcps", Secure.Scheme())
	assert.Equal(t, "secure", Secure.String())
}
