package tunnel

import (
	"context"

	"github.com/tunneld/tunneld/internal/model"
	"github.com/tunneld/tunneld/internal/sshclient"
)

// SSHStarter adapts sshclient.Client to the ProcessStarter contract.
type SSHStarter struct {
	client *sshclient.Client
}

func NewSSHStarter(client *sshclient.Client) *SSHStarter {
	return &SSHStarter{client: client}
}

func (s *SSHStarter) Start(ctx context.Context, spec model.ForwardingSpec) (Process, error) {
	proc, err := s.client.Start(ctx, spec)
	if err != nil {
		return nil, err
	}
	return proc, nil
}
