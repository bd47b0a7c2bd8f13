package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps documents in process. Every document is copied on the
// way in and out.
type MemoryStore struct {
	mu  sync.RWMutex
	dbs map[string]map[string][]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{dbs: make(map[string]map[string][]Document)}
}

func (s *MemoryStore) FindOne(ctx context.Context, db, coll string, f Filter) (Document, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.dbs[db][coll] {
		if f.Match(doc) {
			return copyDoc(doc), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Find(ctx context.Context, db, coll string, f Filter) ([]Document, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, doc := range s.dbs[db][coll] {
		if f.Match(doc) {
			out = append(out, copyDoc(doc))
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertOne(ctx context.Context, db, coll string, doc Document) error {
	return s.InsertMany(ctx, db, coll, []Document{doc})
}

func (s *MemoryStore) InsertMany(ctx context.Context, db, coll string, docs []Document) error {
	norm := make([]Document, 0, len(docs))
	for _, d := range docs {
		n, err := normalize(d)
		if err != nil {
			return fmt.Errorf("insert %s/%s: %w", db, coll, err)
		}
		norm = append(norm, n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collLocked(db)
	c[coll] = append(c[coll], norm...)
	return nil
}

func (s *MemoryStore) ReplaceOne(ctx context.Context, db, coll string, f Filter, doc Document, upsert bool) error {
	if err := f.Validate(); err != nil {
		return err
	}
	n, err := normalize(doc)
	if err != nil {
		return fmt.Errorf("replace %s/%s: %w", db, coll, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collLocked(db)
	for i, d := range c[coll] {
		if f.Match(d) {
			c[coll][i] = n
			return nil
		}
	}
	if !upsert {
		return ErrNotFound
	}
	c[coll] = append(c[coll], n)
	return nil
}

func (s *MemoryStore) UpdateOne(ctx context.Context, db, coll string, f Filter, set Document) error {
	if err := f.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collLocked(db)
	for i, d := range c[coll] {
		if f.Match(d) {
			n, err := normalize(merge(d, set))
			if err != nil {
				return fmt.Errorf("update %s/%s: %w", db, coll, err)
			}
			c[coll][i] = n
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) DeleteMany(ctx context.Context, db, coll string, f Filter) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collLocked(db)
	kept := c[coll][:0]
	var n int64
	for _, d := range c[coll] {
		if f.Match(d) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		delete(c, coll)
	} else {
		c[coll] = kept
	}
	return n, nil
}

func (s *MemoryStore) DropCollection(ctx context.Context, db, coll string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dbs[db], coll)
	return nil
}

func (s *MemoryStore) ListCollections(ctx context.Context, db string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.dbs[db]))
	for name, docs := range s.dbs[db] {
		if len(docs) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) collLocked(db string) map[string][]Document {
	c, ok := s.dbs[db]
	if !ok {
		c = make(map[string][]Document)
		s.dbs[db] = c
	}
	return c
}

// copyDoc is shallow below the top level; normalized documents only hold
// JSON values that callers decode rather than mutate.
func copyDoc(d Document) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
