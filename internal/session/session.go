package session

import (
	"context"
	"fmt"
)

// Session is the secure channel to a provisioned node: remote command
// execution and file transfer. Connect must be called before Execute or
// SendFile; the key path must point at the private credential populated by
// the backend.
type Session interface {
	Connect(ctx context.Context, addr, keyPath string) error
	Execute(ctx context.Context, command string) (string, error)
	SendFile(ctx context.Context, localPath, remotePath string) error
	Close() error
}

// ConnectivityError reports a failure to establish the channel.
type ConnectivityError struct {
	Addr string
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("unable to reach %s: %v", e.Addr, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// RemoteExecutionError reports a pushed command exiting nonzero.
type RemoteExecutionError struct {
	Command string
	Output  string
	Status  int
	Err     error
}

func (e *RemoteExecutionError) Error() string {
	return fmt.Sprintf("remote command exited %d: %s", e.Status, e.Command)
}

func (e *RemoteExecutionError) Unwrap() error {
	return e.Err
}
