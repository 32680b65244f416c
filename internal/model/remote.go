package model

import "fmt"

// Remote identifies the SSH endpoint every tunnel is established through.
type Remote struct {
	Host         string `json:"host"`
	Port         int    `json:"port,omitempty"`
	User         string `json:"user"`
	IdentityFile string `json:"identity_file,omitempty"`
}

// Target returns the user@host destination argument for ssh.
func (r Remote) Target() string {
	if r.User == "" {
		return r.Host
	}
	return fmt.Sprintf("%s@%s", r.User, r.Host)
}
