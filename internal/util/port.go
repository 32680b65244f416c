package util

import "fmt"

const (
	MinPort = 1
	MaxPort = 65535
)

// ValidatePort checks if port is in valid range (1-65535).
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("port %d out of range (must be %d-%d)", port, MinPort, MaxPort)
	}
	return nil
}

// PrivilegedPort reports whether binding port requires elevated privileges on
// most systems. Used by doctor to warn before a tunnel start fails at spawn.
func PrivilegedPort(port int) bool {
	return port > 0 && port < 1024
}
