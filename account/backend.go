package account

import "context"

// Backend is the storage port for owner records. Implementations must return
// [ErrOwnerNotFound] from Load when no record exists and must treat Delete of
// a missing owner as success.
type Backend interface {
	Load(ctx context.Context, ownerID string) (*Owner, error)
	Save(ctx context.Context, owner *Owner) error
	Delete(ctx context.Context, ownerID string) error
}
