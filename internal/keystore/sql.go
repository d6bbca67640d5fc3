package keystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"
)

type keyModel struct {
	bun.BaseModel `bun:"table:pqc_keys"`

	Name       string    `bun:"name,pk"`
	Scheme     string    `bun:"scheme,notnull"`
	PublicKey  []byte    `bun:"public_key,notnull"`
	PrivateKey []byte    `bun:"private_key,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

type linkModel struct {
	bun.BaseModel `bun:"table:pqc_links"`

	Address string `bun:"address,pk"`
	KeyName string `bun:"key_name,notnull"`
}

// SQL is a Store backed by SQLite through bun.
type SQL struct {
	db *bun.DB
}

// OpenSQL opens the SQLite database at dsn (a file path or a "file:" URI)
// using the pure-Go modernc driver and creates the tables if missing.
func OpenSQL(ctx context.Context, dsn string) (*SQL, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open keystore database: %w", err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	s, err := NewSQL(ctx, bun.NewDB(sqlDB, sqlitedialect.New()))
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an existing bun database and creates the tables if missing.
func NewSQL(ctx context.Context, db *bun.DB) (*SQL, error) {
	for _, model := range []interface{}{(*keyModel)(nil), (*linkModel)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return nil, fmt.Errorf("create keystore tables: %w", err)
		}
	}
	return &SQL{db: db}, nil
}

// Close closes the underlying database.
func (s *SQL) Close() error {
	return s.db.Close()
}

// GetKey implements Store.
func (s *SQL) GetKey(ctx context.Context, name string) (*KeyRecord, error) {
	var m keyModel
	err := s.db.NewSelect().Model(&m).Where("name = ?", name).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("select key %s: %w", name, err)
	}
	return m.record(), nil
}

// PutKey implements Store.
func (s *SQL) PutKey(ctx context.Context, rec *KeyRecord) error {
	if rec == nil || rec.Name == "" {
		return fmt.Errorf("key record requires a name")
	}
	m := &keyModel{
		Name:       rec.Name,
		Scheme:     rec.Scheme,
		PublicKey:  rec.PublicKey,
		PrivateKey: rec.PrivateKey,
		CreatedAt:  rec.CreatedAt.UTC(),
	}
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (name) DO UPDATE").
		Set("scheme = EXCLUDED.scheme").
		Set("public_key = EXCLUDED.public_key").
		Set("private_key = EXCLUDED.private_key").
		Set("created_at = EXCLUDED.created_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store key %s: %w", rec.Name, err)
	}
	return nil
}

// ListKeys implements Store.
func (s *SQL) ListKeys(ctx context.Context) ([]*KeyRecord, error) {
	var models []keyModel
	if err := s.db.NewSelect().Model(&models).Order("name ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	out := make([]*KeyRecord, 0, len(models))
	for i := range models {
		out = append(out, models[i].record())
	}
	return out, nil
}

// GetLink implements Store.
func (s *SQL) GetLink(ctx context.Context, address string) (string, bool, error) {
	var m linkModel
	err := s.db.NewSelect().Model(&m).Where("address = ?", address).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select link %s: %w", address, err)
	}
	return m.KeyName, true, nil
}

// LinkAddress implements Store.
func (s *SQL) LinkAddress(ctx context.Context, address, name string) error {
	_, err := s.db.NewInsert().Model(&linkModel{Address: address, KeyName: name}).
		On("CONFLICT (address) DO UPDATE").
		Set("key_name = EXCLUDED.key_name").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("link %s: %w", address, err)
	}
	return nil
}

func (m *keyModel) record() *KeyRecord {
	return &KeyRecord{
		Name:       m.Name,
		Scheme:     m.Scheme,
		PublicKey:  m.PublicKey,
		PrivateKey: m.PrivateKey,
		CreatedAt:  m.CreatedAt,
	}
}
