// Package pg persists credentials, visits, the access log and porter
// accounts in Postgres. The decision logic never lives here; each
// sub-store implements the same interface as its in-memory sibling.
package pg

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"portaria.org/internal/auth"
	"portaria.org/internal/credential"
	"portaria.org/internal/visit"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store owns the connection pool and hands out one typed sub-store per
// concern. The sub-stores share the pool.
type Store struct {
	db          *sql.DB
	credentials *CredentialStore
	visits      *VisitStore
	porters     *PorterStore
}

// CredentialStore is the Postgres credential.Service.
type CredentialStore struct {
	db *sql.DB
}

// VisitStore is the Postgres visit.Ledger.
type VisitStore struct {
	db *sql.DB
}

// PorterStore is the Postgres auth.PorterStore.
type PorterStore struct {
	db *sql.DB
}

var (
	_ credential.Service = (*CredentialStore)(nil)
	_ visit.Ledger       = (*VisitStore)(nil)
	_ auth.PorterStore   = (*PorterStore)(nil)
)

func newStore(db *sql.DB) *Store {
	return &Store{
		db:          db,
		credentials: &CredentialStore{db: db},
		visits:      &VisitStore{db: db},
		porters:     &PorterStore{db: db},
	}
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return newStore(db), nil
}

// NewWithDB wraps an existing connection, used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return newStore(db) }

func (s *Store) Credentials() *CredentialStore { return s.credentials }
func (s *Store) Visits() *VisitStore           { return s.visits }
func (s *Store) Porters() *PorterStore         { return s.porters }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
