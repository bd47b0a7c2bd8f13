package docstore

// Schema is the SQLite layout of the document and lease tables.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	db TEXT NOT NULL,
	coll TEXT NOT NULL,
	body TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_db_coll ON documents(db, coll);

CREATE TABLE IF NOT EXISTS locks (
	name TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	expires INTEGER NOT NULL
);
`
