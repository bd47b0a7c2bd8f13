package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyeddy/papertrade/docstore"
	"github.com/rustyeddy/papertrade/exchange"
	"github.com/rustyeddy/papertrade/journal"
	"github.com/rustyeddy/papertrade/logging"
	"github.com/rustyeddy/papertrade/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sqliteAt opens its own handle on path, the way a second process would.
func sqliteAt(t *testing.T, path string) *docstore.SQLiteStore {
	t.Helper()
	s, err := docstore.NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSecondEngineOnStoreIsRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pt.sqlite")

	serve, tok := newEngine(t, testOptions(exchange.ModeSimulation), sqliteAt(t, path), nil)
	o, err := serve.SubmitOrder(ctx, buy(tok, "600000", 1000, 10))
	require.NoError(t, err)

	oneshot := New(testOptions(exchange.ModeSimulation), journal.New(sqliteAt(t, path)), market.NewQuoteStore(), logging.Discard())
	err = oneshot.Start(ctx)
	require.ErrorIs(t, err, ErrStoreInUse)
	assert.ErrorIs(t, err, docstore.ErrLocked)
	assert.Equal(t, 0, oneshot.Exchange().Book().Len(), "nothing recovered")
	require.NoError(t, oneshot.Stop(ctx))

	// the running engine still owns its order
	require.NoError(t, serve.CancelOrder(ctx, tok, o.OrderID))
	require.NoError(t, serve.Stop(ctx))

	require.NoError(t, oneshot.Start(ctx))
	acct, err := oneshot.GetAccount(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, 1000000.0, acct.Available)
	require.NoError(t, oneshot.Stop(ctx))
}

func TestLeaseIsRenewedWhileRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pt.sqlite")
	opts := testOptions(exchange.ModeSimulation)
	opts.LeaseTTL = 60 * time.Millisecond

	e, _ := newEngine(t, opts, sqliteAt(t, path), nil)
	time.Sleep(150 * time.Millisecond)

	other := sqliteAt(t, path)
	assert.ErrorIs(t, other.Acquire(ctx, leaseName, "other", time.Minute), docstore.ErrLocked)
	require.NoError(t, e.Err())

	require.NoError(t, e.Stop(ctx))
	require.NoError(t, other.Acquire(ctx, leaseName, "other", time.Minute))
}

func TestMemoryStoreNeedsNoLease(t *testing.T) {
	store := docstore.NewMemoryStore()
	a, _ := newEngine(t, testOptions(exchange.ModeSimulation), store, nil)
	b, _ := newEngine(t, testOptions(exchange.ModeSimulation), store, nil)
	require.NoError(t, a.Stop(ctx))
	require.NoError(t, b.Stop(ctx))
}
