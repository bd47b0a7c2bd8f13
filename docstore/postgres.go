package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// PostgresOption describes the connection. ConnString wins when set.
type PostgresOption struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	ConnString string
	Config     *gorm.Config
}

// docRow is the gorm model of the document table.
type docRow struct {
	Seq  int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	DB   string `gorm:"column:db;not null;index:idx_papertrade_documents_db_coll"`
	Coll string `gorm:"column:coll;not null;index:idx_papertrade_documents_db_coll"`
	Body string `gorm:"column:body;type:jsonb;not null;index:idx_papertrade_documents_body,type:gin"`
}

func (docRow) TableName() string { return "papertrade_documents" }

// lockRow is one store lease.
type lockRow struct {
	Name    string `gorm:"column:name;primaryKey"`
	Owner   string `gorm:"column:owner;not null"`
	Expires int64  `gorm:"column:expires;not null"`
}

func (lockRow) TableName() string { return "papertrade_locks" }

// PostgresStore keeps documents in one jsonb table through gorm.
type PostgresStore struct {
	*tableStore
	db *gorm.DB
}

func NewPostgres(opt PostgresOption) (*PostgresStore, error) {
	dsn, err := opt.dsn()
	if err != nil {
		return nil, err
	}

	config := opt.Config
	if config == nil {
		config = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	}

	db, err := gorm.Open(postgres.Open(dsn), config)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&docRow{}, &lockRow{}); err != nil {
		return nil, fmt.Errorf("migrate documents: %w", err)
	}

	s := &PostgresStore{db: db}
	s.tableStore = &tableStore{be: gormBackend{db: db}}
	return s, nil
}

func (opt PostgresOption) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

type gormBackend struct {
	db *gorm.DB
}

func (b gormBackend) rows(ctx context.Context, db, coll string, q query) ([]row, error) {
	tx := b.db.WithContext(ctx).Where("db = ? AND coll = ?", db, coll)
	if len(q.eq) > 0 {
		js, err := json.Marshal(q.eq)
		if err != nil {
			return nil, err
		}
		tx = tx.Where("body @> CAST(? AS jsonb)", string(js))
	}
	tx = tx.Order("seq ASC")
	if q.limit > 0 {
		tx = tx.Limit(q.limit)
	}

	var recs []docRow
	if err := tx.Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]row, 0, len(recs))
	for _, rec := range recs {
		r, err := decodeBody(rec.Seq, []byte(rec.Body))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (b gormBackend) insert(ctx context.Context, db, coll string, bodies [][]byte) error {
	recs := make([]docRow, 0, len(bodies))
	for _, body := range bodies {
		recs = append(recs, docRow{DB: db, Coll: coll, Body: string(body)})
	}
	return b.db.WithContext(ctx).Create(&recs).Error
}

func (b gormBackend) update(ctx context.Context, seq int64, body []byte) error {
	return b.db.WithContext(ctx).
		Model(&docRow{}).
		Where("seq = ?", seq).
		Update("body", string(body)).Error
}

func (b gormBackend) remove(ctx context.Context, seqs []int64) error {
	return b.db.WithContext(ctx).Where("seq IN ?", seqs).Delete(&docRow{}).Error
}

func (b gormBackend) drop(ctx context.Context, db, coll string) error {
	return b.db.WithContext(ctx).Where("db = ? AND coll = ?", db, coll).Delete(&docRow{}).Error
}

func (b gormBackend) collections(ctx context.Context, db string) ([]string, error) {
	out := []string{}
	err := b.db.WithContext(ctx).
		Model(&docRow{}).
		Where("db = ?", db).
		Distinct().
		Order("coll").
		Pluck("coll", &out).Error
	return out, err
}

const postgresAcquire = `
	INSERT INTO papertrade_locks (name, owner, expires) VALUES (?, ?, ?)
	ON CONFLICT (name) DO UPDATE SET owner = EXCLUDED.owner, expires = EXCLUDED.expires
	WHERE papertrade_locks.owner = EXCLUDED.owner OR papertrade_locks.expires < ?`

func (b gormBackend) acquire(ctx context.Context, name, owner string, now, expires int64) (string, bool, error) {
	tx := b.db.WithContext(ctx).Exec(postgresAcquire, name, owner, expires, now)
	if tx.Error != nil {
		return "", false, tx.Error
	}
	if tx.RowsAffected > 0 {
		return owner, true, nil
	}

	var rec lockRow
	err := b.db.WithContext(ctx).Where("name = ?", name).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = nil
	}
	return rec.Owner, false, err
}

func (b gormBackend) release(ctx context.Context, name, owner string) error {
	return b.db.WithContext(ctx).Where("name = ? AND owner = ?", name, owner).Delete(&lockRow{}).Error
}

func (b gormBackend) close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
