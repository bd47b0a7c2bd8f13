package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrLocked = errors.New("lease held by another owner")

// Locker is implemented by stores that several processes can open at once.
// A lease belongs to one owner until it expires; the owner keeps it by
// acquiring again before then.
type Locker interface {
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) error
	Release(ctx context.Context, name, owner string) error
}

var (
	_ Locker = (*SQLiteStore)(nil)
	_ Locker = (*PostgresStore)(nil)
)

// Acquire takes or renews the lease name for owner. It fails with ErrLocked
// while a different owner holds an unexpired lease.
func (s *tableStore) Acquire(ctx context.Context, name, owner string, ttl time.Duration) error {
	if name == "" || owner == "" {
		return fmt.Errorf("acquire: empty lease name or owner")
	}
	now := time.Now()
	holder, ok, err := s.be.acquire(ctx, name, owner, now.UnixNano(), now.Add(ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("acquire %s: %w: %s", name, ErrLocked, holder)
	}
	return nil
}

// Release gives up the lease if owner still holds it.
func (s *tableStore) Release(ctx context.Context, name, owner string) error {
	if err := s.be.release(ctx, name, owner); err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	return nil
}
