package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// row is one stored document and its insertion sequence.
type row struct {
	seq  int64
	body Document
}

// query narrows the rows a backend loads. eq holds field equalities the
// database evaluates on the JSON body; limit applies only when eq covers the
// whole filter. Every loaded row is still checked with Filter.Match, so a
// backend may return more rows than asked for but never fewer.
type query struct {
	eq    map[string]any
	limit int
}

func selection(f Filter, limit int) query {
	eq, exact := f.equalities()
	q := query{eq: eq}
	if exact {
		q.limit = limit
	}
	return q
}

// backend is the table access a SQL database has to provide.
type backend interface {
	rows(ctx context.Context, db, coll string, q query) ([]row, error)
	insert(ctx context.Context, db, coll string, bodies [][]byte) error
	update(ctx context.Context, seq int64, body []byte) error
	remove(ctx context.Context, seqs []int64) error
	drop(ctx context.Context, db, coll string) error
	collections(ctx context.Context, db string) ([]string, error)
	// acquire sets the lease to owner until expires unless another owner
	// holds it past now. It reports the holder when it does not.
	acquire(ctx context.Context, name, owner string, now, expires int64) (string, bool, error)
	release(ctx context.Context, name, owner string) error
	close() error
}

// tableStore implements Store over a backend. The mutex makes each
// read-match-write sequence atomic within the process.
type tableStore struct {
	mu sync.Mutex
	be backend
}

func (s *tableStore) FindOne(ctx context.Context, db, coll string, f Filter) (Document, error) {
	docs, err := s.find(ctx, db, coll, f, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

func (s *tableStore) Find(ctx context.Context, db, coll string, f Filter) ([]Document, error) {
	return s.find(ctx, db, coll, f, 0)
}

func (s *tableStore) find(ctx context.Context, db, coll string, f Filter, limit int) ([]Document, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.be.rows(ctx, db, coll, selection(f, limit))
	if err != nil {
		return nil, fmt.Errorf("find %s/%s: %w", db, coll, err)
	}
	var out []Document
	for _, r := range rows {
		if !f.Match(r.body) {
			continue
		}
		out = append(out, r.body)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *tableStore) InsertOne(ctx context.Context, db, coll string, doc Document) error {
	return s.InsertMany(ctx, db, coll, []Document{doc})
}

func (s *tableStore) InsertMany(ctx context.Context, db, coll string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	bodies := make([][]byte, 0, len(docs))
	for _, d := range docs {
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("insert %s/%s: %w", db, coll, err)
		}
		bodies = append(bodies, b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.be.insert(ctx, db, coll, bodies); err != nil {
		return fmt.Errorf("insert %s/%s: %w", db, coll, err)
	}
	return nil
}

func (s *tableStore) ReplaceOne(ctx context.Context, db, coll string, f Filter, doc Document, upsert bool) error {
	if err := f.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("replace %s/%s: %w", db, coll, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok, err := s.first(ctx, db, coll, f)
	if err != nil {
		return fmt.Errorf("replace %s/%s: %w", db, coll, err)
	}
	if ok {
		err = s.be.update(ctx, r.seq, body)
	} else if upsert {
		err = s.be.insert(ctx, db, coll, [][]byte{body})
	} else {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("replace %s/%s: %w", db, coll, err)
	}
	return nil
}

func (s *tableStore) UpdateOne(ctx context.Context, db, coll string, f Filter, set Document) error {
	if err := f.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok, err := s.first(ctx, db, coll, f)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", db, coll, err)
	}
	if !ok {
		return ErrNotFound
	}
	body, err := json.Marshal(merge(r.body, set))
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", db, coll, err)
	}
	if err := s.be.update(ctx, r.seq, body); err != nil {
		return fmt.Errorf("update %s/%s: %w", db, coll, err)
	}
	return nil
}

func (s *tableStore) DeleteMany(ctx context.Context, db, coll string, f Filter) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.be.rows(ctx, db, coll, selection(f, 0))
	if err != nil {
		return 0, fmt.Errorf("delete %s/%s: %w", db, coll, err)
	}
	var seqs []int64
	for _, r := range rows {
		if f.Match(r.body) {
			seqs = append(seqs, r.seq)
		}
	}
	if len(seqs) == 0 {
		return 0, nil
	}
	if err := s.be.remove(ctx, seqs); err != nil {
		return 0, fmt.Errorf("delete %s/%s: %w", db, coll, err)
	}
	return int64(len(seqs)), nil
}

func (s *tableStore) DropCollection(ctx context.Context, db, coll string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.be.drop(ctx, db, coll); err != nil {
		return fmt.Errorf("drop %s/%s: %w", db, coll, err)
	}
	return nil
}

func (s *tableStore) ListCollections(ctx context.Context, db string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.be.collections(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", db, err)
	}
	return out, nil
}

func (s *tableStore) Close() error {
	return s.be.close()
}

func (s *tableStore) first(ctx context.Context, db, coll string, f Filter) (row, bool, error) {
	rows, err := s.be.rows(ctx, db, coll, selection(f, 1))
	if err != nil {
		return row{}, false, err
	}
	for _, r := range rows {
		if f.Match(r.body) {
			return r, true, nil
		}
	}
	return row{}, false, nil
}

func sortedFields(eq map[string]any) []string {
	out := make([]string, 0, len(eq))
	for field := range eq {
		out = append(out, field)
	}
	sort.Strings(out)
	return out
}

func decodeBody(seq int64, body []byte) (row, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return row{}, fmt.Errorf("document %d: %w", seq, err)
	}
	return row{seq: seq, body: doc}, nil
}
