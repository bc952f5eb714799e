package cloud

import (
	"context"

	"github.com/pkg/errors"

	"fognode/internal/instance"
)

type remote struct {
	addr    string
	keyPath string
}

// NewRemote wraps an already-reachable host as a backend. Create only
// populates the record and marks it ready; no resources are allocated and
// nothing touches the network.
func NewRemote(addr, keyPath string) (Backend, error) {
	if addr == "" {
		return nil, errors.New("remote backend needs an address")
	}

	if keyPath == "" {
		return nil, errors.New("remote backend needs a key path")
	}

	return &remote{addr: addr, keyPath: keyPath}, nil
}

func (r *remote) Create(ctx context.Context, rec *instance.Record) error {
	rec.SetSSHKeyPath(r.keyPath)

	if err := rec.SetPublicIP(r.addr); err != nil {
		return &ProvisioningError{Step: "assign address", Err: err}
	}

	// the machine is assumed established, nothing to wait for
	rec.Ready().Set(true)
	return nil
}
