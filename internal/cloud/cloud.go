package cloud

import (
	"context"
	"fmt"

	"fognode/internal/instance"
)

// Backend allocates the machine behind a record. On success the record has a
// public address and an ssh key path; on failure it keeps whatever partial
// state existed, for inspection. There is no automatic rollback of partially
// created cloud resources.
type Backend interface {
	Create(ctx context.Context, rec *instance.Record) error
}

// ProvisioningError reports which sub-step of resource creation failed.
type ProvisioningError struct {
	Step string
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed at %s: %v", e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}
