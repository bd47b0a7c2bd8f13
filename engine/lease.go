package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rustyeddy/papertrade/docstore"
	"github.com/rustyeddy/papertrade/pkg/id"
)

// DefaultLeaseTTL applies when Options.LeaseTTL is zero.
const DefaultLeaseTTL = 30 * time.Second

const leaseName = "engine"

// ErrStoreInUse means another engine, usually a running serve, owns the
// accounts in the store.
var ErrStoreInUse = errors.New("engine: store in use by another engine")

// lease is the engine's hold on a shared store. Stores that only live in
// this process have nothing to lock.
type lease struct {
	mu    sync.Mutex
	lk    docstore.Locker
	owner string
	stop  chan struct{}
	done  chan struct{}
}

func leaseOwner() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s/%d/%s", host, os.Getpid(), id.New())
}

func (e *Engine) lock(ctx context.Context) error {
	lk, ok := e.journal.Store().(docstore.Locker)
	if !ok {
		return nil
	}
	ttl := e.opts.LeaseTTL
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}

	e.lease.mu.Lock()
	defer e.lease.mu.Unlock()
	if e.lease.stop != nil {
		return nil
	}
	owner := leaseOwner()
	if err := lk.Acquire(ctx, leaseName, owner, ttl); err != nil {
		if errors.Is(err, docstore.ErrLocked) {
			return fmt.Errorf("%w: %w", ErrStoreInUse, err)
		}
		return fmt.Errorf("store lease: %w", err)
	}
	e.lease.lk, e.lease.owner = lk, owner
	e.lease.stop, e.lease.done = make(chan struct{}), make(chan struct{})
	go e.renew(lk, owner, ttl, e.lease.stop, e.lease.done)
	e.log.Debug("store lease taken", "owner", owner, "ttl", ttl)
	return nil
}

// renew keeps the lease alive. Losing it to another owner halts the engine,
// since both would then write the same accounts.
func (e *Engine) renew(lk docstore.Locker, owner string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	every := ttl / 3
	if every <= 0 {
		every = ttl
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), every)
		err := lk.Acquire(ctx, leaseName, owner, ttl)
		cancel()
		if err == nil {
			continue
		}
		if errors.Is(err, docstore.ErrLocked) {
			_ = e.halt(err)
			return
		}
		e.log.Warn("store lease renewal failed", "err", err)
	}
}

func (e *Engine) unlock(ctx context.Context) error {
	e.lease.mu.Lock()
	defer e.lease.mu.Unlock()
	if e.lease.stop == nil {
		return nil
	}
	close(e.lease.stop)
	<-e.lease.done
	e.lease.stop, e.lease.done = nil, nil
	return e.lease.lk.Release(ctx, leaseName, e.lease.owner)
}
