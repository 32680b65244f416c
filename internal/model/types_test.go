package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForwardingSpecArg(t *testing.T) {
	spec := ForwardingSpec{Mode: ForwardLocal, LocalPort: 8080, RemoteHost: "db", RemotePort: 5432}
	assert.Equal(t, "8080:db:5432", spec.Arg())

	spec.BindAddr = "0.0.0.0"
	assert.Equal(t, "0.0.0.0:8080:db:5432", spec.Arg())
}

func TestBindEndpointDefaultsToLoopback(t *testing.T) {
	spec := ForwardingSpec{Mode: ForwardLocal, LocalPort: 8080, RemoteHost: "db", RemotePort: 5432}
	assert.Equal(t, "127.0.0.1:8080", spec.BindEndpoint())

	spec.BindAddr = "0.0.0.0"
	assert.Equal(t, "0.0.0.0:8080", spec.BindEndpoint())
}

func TestProbeEndpointPerMode(t *testing.T) {
	local := ForwardingSpec{Mode: ForwardLocal, LocalPort: 8080, RemoteHost: "db", RemotePort: 5432}
	assert.Equal(t, "127.0.0.1:8080", local.ProbeEndpoint())

	// For a -R forward the listener lives on the SSH server; the side this
	// machine owns is the endpoint the tunnel forwards into.
	remote := ForwardingSpec{Mode: ForwardRemote, LocalPort: 8080, RemoteHost: "127.0.0.1", RemotePort: 9000}
	assert.Equal(t, "127.0.0.1:9000", remote.ProbeEndpoint())
}

func TestModeFlag(t *testing.T) {
	assert.Equal(t, "-L", ForwardLocal.Flag())
	assert.Equal(t, "-R", ForwardRemote.Flag())
}

func TestRemoteTarget(t *testing.T) {
	assert.Equal(t, "deploy@bastion", Remote{Host: "bastion", User: "deploy"}.Target())
	assert.Equal(t, "bastion", Remote{Host: "bastion"}.Target())
}
