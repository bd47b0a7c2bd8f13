package docstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func factories() map[string]storeFactory {
	f := map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLite(filepath.Join(t.TempDir(), "docs.db"))
			require.NoError(t, err)
			return s
		},
	}
	if dsn := os.Getenv("PAPERTRADE_TEST_PG_DSN"); dsn != "" {
		f["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgres(PostgresOption{ConnString: dsn})
			require.NoError(t, err)
			return s
		}
	}
	return f
}

// forEachStore runs fn against every backend with a database name unique to
// the test so a shared postgres is safe.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store, db string)) {
	for name, open := range factories() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s, "db_"+t.Name())
		})
	}
}

func TestStoreInsertFind(t *testing.T) {
	ctx := context.Background()
	forEachStore(t, func(t *testing.T, s Store, db string) {
		require.NoError(t, s.InsertOne(ctx, db, "tok", Document{"order_id": "a", "volume": 100, "status": "submitting"}))
		require.NoError(t, s.InsertMany(ctx, db, "tok", []Document{
			{"order_id": "b", "volume": 200, "status": "fully-traded"},
			{"order_id": "c", "volume": 300, "status": "submitting"},
		}))

		docs, err := s.Find(ctx, db, "tok", nil)
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, "a", docs[0]["order_id"], "insertion order")
		assert.Equal(t, "c", docs[2]["order_id"])

		docs, err = s.Find(ctx, db, "tok", Filter{"status": "submitting"})
		require.NoError(t, err)
		assert.Len(t, docs, 2)

		docs, err = s.Find(ctx, db, "tok", Filter{"volume": Filter{"$gte": 200}})
		require.NoError(t, err)
		assert.Len(t, docs, 2)

		doc, err := s.FindOne(ctx, db, "tok", Filter{"order_id": "b"})
		require.NoError(t, err)
		assert.Equal(t, 200.0, doc["volume"])

		_, err = s.FindOne(ctx, db, "tok", Filter{"order_id": "zzz"})
		assert.ErrorIs(t, err, ErrNotFound)

		docs, err = s.Find(ctx, db, "other", nil)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}

func TestStoreReplaceUpdate(t *testing.T) {
	ctx := context.Background()
	forEachStore(t, func(t *testing.T, s Store, db string) {
		f := Filter{"check_date": "20240304"}
		err := s.ReplaceOne(ctx, db, "tok", f, Document{"check_date": "20240304", "assets": 1.0}, false)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.ReplaceOne(ctx, db, "tok", f, Document{"check_date": "20240304", "assets": 1.0}, true))
		require.NoError(t, s.ReplaceOne(ctx, db, "tok", f, Document{"check_date": "20240304", "assets": 2.0}, true))

		docs, err := s.Find(ctx, db, "tok", nil)
		require.NoError(t, err)
		require.Len(t, docs, 1, "upsert replaces by key")
		assert.Equal(t, 2.0, docs[0]["assets"])

		require.NoError(t, s.UpdateOne(ctx, db, "tok", f, Document{"available": 5.5}))
		doc, err := s.FindOne(ctx, db, "tok", f)
		require.NoError(t, err)
		assert.Equal(t, 2.0, doc["assets"])
		assert.Equal(t, 5.5, doc["available"])

		err = s.UpdateOne(ctx, db, "tok", Filter{"check_date": "19990101"}, Document{"x": 1})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreDeleteDropList(t *testing.T) {
	ctx := context.Background()
	forEachStore(t, func(t *testing.T, s Store, db string) {
		for _, coll := range []string{"b", "a"} {
			require.NoError(t, s.InsertMany(ctx, db, coll, []Document{
				{"code": "600000", "exchange": "SH"},
				{"code": "000001", "exchange": "SZ"},
			}))
		}

		names, err := s.ListCollections(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, names)

		n, err := s.DeleteMany(ctx, db, "a", Filter{"exchange": "SZ"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.DeleteMany(ctx, db, "a", Filter{"exchange": "XX"})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		require.NoError(t, s.DropCollection(ctx, db, "b"))
		names, err = s.ListCollections(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, names)

		require.NoError(t, s.DropCollection(ctx, db, "missing"))
	})
}

func TestStoreRejectsUnknownOperator(t *testing.T) {
	ctx := context.Background()
	forEachStore(t, func(t *testing.T, s Store, db string) {
		_, err := s.Find(ctx, db, "tok", Filter{"volume": map[string]any{"$regex": "1"}})
		assert.Error(t, err)
	})
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	type rec struct {
		Code   string  `json:"code"`
		Volume int64   `json:"volume"`
		Price  float64 `json:"price"`
	}
	doc, err := Encode(rec{Code: "600000", Volume: 100, Price: 10.5})
	require.NoError(t, err)
	assert.Equal(t, Document{"code": "600000", "volume": 100.0, "price": 10.5}, doc)

	var out rec
	require.NoError(t, Decode(doc, &out))
	assert.Equal(t, int64(100), out.Volume)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	s, err := Open("memory", "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open("sqlite", filepath.Join(t.TempDir(), "x.db"), "")
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open("mongo", "", "")
	assert.Error(t, err)
}
