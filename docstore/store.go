// Package docstore is a small document store addressed by (database,
// collection). Documents are JSON objects; filters match on top-level
// fields.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("document not found")

// Document is one stored JSON object.
type Document map[string]any

// Store is the persistence contract the journal is written against.
type Store interface {
	FindOne(ctx context.Context, db, coll string, f Filter) (Document, error)
	// Find returns matching documents in insertion order.
	Find(ctx context.Context, db, coll string, f Filter) ([]Document, error)
	InsertOne(ctx context.Context, db, coll string, doc Document) error
	InsertMany(ctx context.Context, db, coll string, docs []Document) error
	// ReplaceOne swaps the first match for doc. With upsert a missing match
	// inserts doc; without it ErrNotFound is returned.
	ReplaceOne(ctx context.Context, db, coll string, f Filter, doc Document, upsert bool) error
	// UpdateOne sets the fields of set on the first match.
	UpdateOne(ctx context.Context, db, coll string, f Filter, set Document) error
	DeleteMany(ctx context.Context, db, coll string, f Filter) (int64, error)
	DropCollection(ctx context.Context, db, coll string) error
	ListCollections(ctx context.Context, db string) ([]string, error)
	Close() error
}

// Encode turns a tagged struct into a Document.
func Encode(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return doc, nil
}

// Decode fills v from doc.
func Decode(doc Document, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// normalize gives doc the shape it would have after a JSON round trip, so
// every backend compares the same types.
func normalize(doc Document) (Document, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func merge(doc, set Document) Document {
	out := make(Document, len(doc)+len(set))
	for k, v := range doc {
		out[k] = v
	}
	for k, v := range set {
		out[k] = v
	}
	return out
}

// Open returns the store for driver: "memory", "sqlite" (path) or
// "postgres" (dsn).
func Open(driver, path, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLite(path)
	case "postgres":
		return NewPostgres(PostgresOption{ConnString: dsn})
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}
