package docstore

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps all databases and collections in one SQLite file.
type SQLiteStore struct {
	*tableStore
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// a :memory: database exists per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	s.tableStore = &tableStore{be: sqliteBackend{db: db}}
	return s, nil
}

// DB exposes the handle for diagnostics and tests.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

type sqliteBackend struct {
	db *sql.DB
}

func (b sqliteBackend) rows(ctx context.Context, db, coll string, q query) ([]row, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT seq, body FROM documents WHERE db = ? AND coll = ?`)
	args := []any{db, coll}
	for _, field := range sortedFields(q.eq) {
		sb.WriteString(` AND json_extract(body, '$.` + field + `') = ?`)
		args = append(args, q.eq[field])
	}
	sb.WriteString(` ORDER BY seq ASC`)
	if q.limit > 0 {
		sb.WriteString(` LIMIT ` + strconv.Itoa(q.limit))
	}

	rs, err := b.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []row
	for rs.Next() {
		var (
			seq  int64
			body string
		)
		if err := rs.Scan(&seq, &body); err != nil {
			return nil, err
		}
		r, err := decodeBody(seq, []byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b sqliteBackend) insert(ctx context.Context, db, coll string, bodies [][]byte) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO documents (db, coll, body) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, body := range bodies {
		if _, err := stmt.ExecContext(ctx, db, coll, string(body)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b sqliteBackend) update(ctx context.Context, seq int64, body []byte) error {
	_, err := b.db.ExecContext(ctx, `UPDATE documents SET body = ? WHERE seq = ?`, string(body), seq)
	return err
}

func (b sqliteBackend) remove(ctx context.Context, seqs []int64) error {
	args := make([]any, len(seqs))
	for i, s := range seqs {
		args[i] = s
	}
	q := `DELETE FROM documents WHERE seq IN (?` + strings.Repeat(",?", len(seqs)-1) + `)`
	_, err := b.db.ExecContext(ctx, q, args...)
	return err
}

func (b sqliteBackend) drop(ctx context.Context, db, coll string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM documents WHERE db = ? AND coll = ?`, db, coll)
	return err
}

func (b sqliteBackend) collections(ctx context.Context, db string) ([]string, error) {
	rs, err := b.db.QueryContext(ctx, `SELECT DISTINCT coll FROM documents WHERE db = ? ORDER BY coll`, db)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	out := []string{}
	for rs.Next() {
		var name string
		if err := rs.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rs.Err()
}

const sqliteAcquire = `
	INSERT INTO locks (name, owner, expires) VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires = excluded.expires
	WHERE locks.owner = excluded.owner OR locks.expires < ?`

func (b sqliteBackend) acquire(ctx context.Context, name, owner string, now, expires int64) (string, bool, error) {
	res, err := b.db.ExecContext(ctx, sqliteAcquire, name, owner, expires, now)
	if err != nil {
		return "", false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if n > 0 {
		return owner, true, nil
	}

	var holder string
	err = b.db.QueryRowContext(ctx, `SELECT owner FROM locks WHERE name = ?`, name).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		// released since; the caller tries again later
		err = nil
	}
	return holder, false, err
}

func (b sqliteBackend) release(ctx context.Context, name, owner string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM locks WHERE name = ? AND owner = ?`, name, owner)
	return err
}

func (b sqliteBackend) close() error {
	return b.db.Close()
}
