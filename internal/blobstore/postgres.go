package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresTableName        = "catalog_documents"
	postgresDocumentKey      = "products"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore keeps the document as one row keyed by docKey. Conditional
// writes compare the stored version inside the UPDATE.
type PostgresStore struct {
	dsn       string
	tableName string
	docKey    string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{
		dsn:       dsn,
		tableName: postgresTableName,
		docKey:    postgresDocumentKey,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresStore) Get(ctx context.Context) (Document, error) {
	if err := s.ensureReady(); err != nil {
		return Document{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	return s.get(ctx, s.db)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) get(ctx context.Context, q queryRower) (Document, error) {
	query := fmt.Sprintf("SELECT content, version, updated_at FROM %s WHERE doc_key = $1", postgresQuoteIdentifier(s.tableName))
	var (
		content   string
		version   string
		updatedAt time.Time
	)
	err := q.QueryRowContext(ctx, query, s.docKey).Scan(&content, &version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, nil
	}
	if err != nil {
		return Document{}, err
	}
	return Document{
		Content:   []byte(content),
		Version:   version,
		Exists:    true,
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

func (s *PostgresStore) Put(ctx context.Context, content []byte, baseVersion string) (Document, error) {
	if err := s.ensureReady(); err != nil {
		return Document{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	version := contentVersion(content)
	table := postgresQuoteIdentifier(s.tableName)
	if baseVersion == "" {
		query := fmt.Sprintf(`
			INSERT INTO %s (doc_key, content, version, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (doc_key)
			DO UPDATE SET content = EXCLUDED.content, version = EXCLUDED.version, updated_at = NOW()`, table)
		if _, err := s.db.ExecContext(ctx, query, s.docKey, string(content), version); err != nil {
			return Document{}, err
		}
		return s.get(ctx, s.db)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET content = $2, version = $3, updated_at = NOW()
		WHERE doc_key = $1 AND version = $4`, table)
	res, err := s.db.ExecContext(ctx, query, s.docKey, string(content), version, baseVersion)
	if err != nil {
		return Document{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Document{}, err
	}
	if affected == 0 {
		current, err := s.get(ctx, s.db)
		if err != nil {
			return Document{}, err
		}
		return Document{}, &ConflictError{Expected: baseVersion, Current: current.Version}
	}
	return s.get(ctx, s.db)
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				doc_key TEXT PRIMARY KEY,
				content TEXT NOT NULL,
				version TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
