package forwarding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunneld/tunneld/internal/model"
)

func TestParseThreePart(t *testing.T) {
	spec, err := Parse("8080:127.0.0.1:9000", model.ForwardLocal)
	require.NoError(t, err)
	assert.Equal(t, "", spec.BindAddr)
	assert.Equal(t, 8080, spec.LocalPort)
	assert.Equal(t, "127.0.0.1", spec.RemoteHost)
	assert.Equal(t, 9000, spec.RemotePort)
	assert.Equal(t, model.ForwardLocal, spec.Mode)
}

func TestParseFourPart(t *testing.T) {
	spec, err := Parse("0.0.0.0:8080:192.168.1.10:9000", model.ForwardRemote)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", spec.BindAddr)
	assert.Equal(t, 8080, spec.LocalPort)
	assert.Equal(t, "192.168.1.10", spec.RemoteHost)
	assert.Equal(t, 9000, spec.RemotePort)
}

func TestParseIPv6Bind(t *testing.T) {
	spec, err := Parse("[::1]:8080:localhost:80", model.ForwardLocal)
	require.NoError(t, err)
	assert.Equal(t, "[::1]", spec.BindAddr)
	assert.Equal(t, 8080, spec.LocalPort)
	assert.Equal(t, "localhost", spec.RemoteHost)
	assert.Equal(t, 80, spec.RemotePort)
}

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []string{"8080:127.0.0.1:9000", "0.0.0.0:8080:192.168.1.10:9000"} {
		spec, err := Parse(s, model.ForwardLocal)
		require.NoError(t, err)
		assert.Equal(t, s, spec.Arg())
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"invalid",
		"8080:host",
		"notaport:host:9000",
		"8080:host:notaport",
		"8080::9000",
		"0:host:9000",
		"8080:host:70000",
	}
	for _, s := range cases {
		_, err := Parse(s, model.ForwardLocal)
		assert.Errorf(t, err, "expected error for %q", s)
	}
}

func TestParseAllStopsAtFirstError(t *testing.T) {
	specs, err := ParseAll([]string{"8080:db:5432", "9090:cache:6379"}, model.ForwardLocal)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	_, err = ParseAll([]string{"8080:db:5432", "bad"}, model.ForwardLocal)
	require.Error(t, err)
}
