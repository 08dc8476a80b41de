package session

import (
	"context"
	"errors"

	"github.com/jun/gophvault/internal/model"
)

var (
	// ErrLeaseHeld is returned when another holder owns an unexpired lease.
	ErrLeaseHeld = errors.New("account is leased by another device")

	// ErrLeaseNotOwned is returned when renewing or releasing a lease the
	// caller does not hold.
	ErrLeaseNotOwned = errors.New("lease not found or not owned by holder")
)

// Locker manages short exclusive leases on an account. A lease serializes
// account-wide writes such as a password change across devices.
type Locker interface {
	// Acquire takes the lease for holderID.
	Acquire(ctx context.Context, accountID, holderID string) (*model.AccountLease, error)

	// Renew extends the lease TTL if holderID owns it.
	Renew(ctx context.Context, accountID, holderID string) (*model.AccountLease, error)

	// Release removes the lease if holderID owns it.
	Release(ctx context.Context, accountID, holderID string) error

	// Status returns the current unexpired lease, or nil.
	Status(ctx context.Context, accountID string) (*model.AccountLease, error)
}

// WithLease runs fn while holding the account lease. The lease is released
// when fn returns, whatever its result.
func WithLease(ctx context.Context, l Locker, accountID, holderID string, fn func(context.Context) error) error {
	if l == nil {
		return fn(ctx)
	}
	if _, err := l.Acquire(ctx, accountID, holderID); err != nil {
		return err
	}
	err := fn(ctx)
	if relErr := l.Release(context.WithoutCancel(ctx), accountID, holderID); relErr != nil && err == nil {
		err = relErr
	}
	return err
}
