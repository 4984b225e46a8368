package hostport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConnectTarget_Port443IsTLS(t *testing.T) {
	hp, err := ParseConnectTarget("example.com:443")
	require.NoError(t, err)
	require.True(t, hp.TLS)
	require.EqualValues(t, 443, hp.Port)
}

func TestParseConnectTarget_Port80IsNotTLS(t *testing.T) {
	hp, err := ParseConnectTarget("example.com:80")
	require.NoError(t, err)
	require.False(t, hp.TLS)
	require.EqualValues(t, 80, hp.Port)
}

func TestParseConnectTarget_IPv6Bracketed(t *testing.T) {
	hp, err := ParseConnectTarget("[::1]:8443")
	require.NoError(t, err)
	require.Equal(t, "::1", hp.Host)
	require.EqualValues(t, 8443, hp.Port)
}

func TestParseAbsoluteURI_HTTPSDefaultPort(t *testing.T) {
	hp, err := ParseAbsoluteURI("https://example.com/path")
	require.NoError(t, err)
	require.EqualValues(t, 443, hp.Port)
	require.True(t, hp.TLS)
}

func TestParseAbsoluteURI_HTTPDefaultPort(t *testing.T) {
	hp, err := ParseAbsoluteURI("http://example.com/path")
	require.NoError(t, err)
	require.EqualValues(t, 80, hp.Port)
	require.False(t, hp.TLS)
}

func TestFromOriginForm_RequiresHost(t *testing.T) {
	_, err := FromOriginForm("")
	require.Error(t, err)
}

func TestFromOriginForm_WithPort(t *testing.T) {
	hp, err := FromOriginForm("example.com:8080")
	require.NoError(t, err)
	require.EqualValues(t, 8080, hp.Port)
	require.False(t, hp.TLS)
}
