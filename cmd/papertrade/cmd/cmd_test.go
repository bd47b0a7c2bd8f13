package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyeddy/papertrade/config"
	"github.com/rustyeddy/papertrade/engine"
	"github.com/rustyeddy/papertrade/logging"
	"github.com/rustyeddy/papertrade/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrices(t *testing.T) {
	got, err := parsePrices([]string{"600000.SH=10.52", "000001.SZ=12"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"600000.SH": 10.52, "000001.SZ": 12}, got)

	for _, bad := range []string{"600000.SH", "600000=10", "600000.SH=x", "600000.SH=-1"} {
		_, err := parsePrices([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestLoadConfigFlags(t *testing.T) {
	t.Cleanup(func() { rootDBPath, rootLogLevel, rootConfigPath = "", "", "" })
	path := filepath.Join(t.TempDir(), "pt.sqlite")
	rootDBPath = path
	rootLogLevel = "debug"

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, path, cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestAccountCommandsAgainstSQLite(t *testing.T) {
	t.Cleanup(func() { rootDBPath = "" })
	db := filepath.Join(t.TempDir(), "pt.sqlite")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--db", db, "--log-level", "error", "account", "create", "--capital", "50000"})
	require.NoError(t, rootCmd.Execute())

	ctx := context.Background()
	cfg, err := loadConfig()
	require.NoError(t, err)
	a, err := newApp(cfg)
	require.NoError(t, err)
	require.NoError(t, a.start(ctx))
	defer a.close(ctx)

	accts, err := a.engine.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accts, 1)
	assert.Equal(t, 50000.0, accts[0].Capital)
}

func TestNewQuotesFromBars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte("20240304,600000.SH,10,10.6,9.9,10.5,1000\n"), 0o644))

	cfg := config.Default()
	cfg.Quotes.Provider = "bars"
	cfg.Quotes.Bars = path
	now := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)

	p, err := newQuotes(cfg, market.ChinaAShare(time.UTC), func() time.Time { return now }, logging.Discard())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))
	q, err := p.Quote(ctx, "600000.SH")
	require.NoError(t, err)
	assert.Equal(t, 10.5, q.Close())

	cfg.Quotes.Bars = filepath.Join(t.TempDir(), "missing.csv")
	_, err = newQuotes(cfg, market.ChinaAShare(time.UTC), nil, logging.Discard())
	assert.Error(t, err)
}

func TestCommandsRefusedWhileServing(t *testing.T) {
	t.Cleanup(func() { rootDBPath = "" })
	db := filepath.Join(t.TempDir(), "pt.sqlite")
	rootDBPath = db

	ctx := context.Background()
	cfg, err := loadConfig()
	require.NoError(t, err)
	serving, err := newApp(cfg)
	require.NoError(t, err)
	require.NoError(t, serving.start(ctx))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--db", db, "--log-level", "error", "account", "create", "--capital", "50000"})
	err = rootCmd.Execute()
	require.ErrorIs(t, err, engine.ErrStoreInUse)

	accts, err := serving.engine.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accts)

	require.NoError(t, serving.close(ctx))
	rootCmd.SetArgs([]string{"--db", db, "--log-level", "error", "account", "create", "--capital", "50000"})
	require.NoError(t, rootCmd.Execute())
}
