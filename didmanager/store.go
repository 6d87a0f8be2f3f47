// Package didmanager persists one DID Document per identity namespace.
//
// Each namespace keeps a version counter that only moves forward, including
// across deletions. A document is saved under counter+1 in the same
// transaction that advances the counter, so a reader sees either the previous
// document or the new one, never a mix.
package didmanager

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/weticket/go-did-sdk/common/sdkerr"
	"github.com/weticket/go-did-sdk/did"
	"github.com/weticket/go-did-sdk/storage/sqlite"
)

// DefaultNamespace is the document namespace of the ticketing app.
const DefaultNamespace = "weticket_did"

const schema = `
CREATE TABLE IF NOT EXISTS did_versions (
	namespace TEXT PRIMARY KEY,
	counter   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS did_documents (
	namespace  TEXT PRIMARY KEY,
	did        TEXT NOT NULL,
	version    INTEGER NOT NULL,
	document   TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Store is the document store of one namespace.
type Store struct {
	db        *sql.DB
	namespace string
	validator *gojsonschema.Schema
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore opens the store of namespace, creating its tables if needed.
func NewStore(ctx context.Context, db *sql.DB, namespace string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(namespace) == "" {
		return nil, errors.New("document namespace required")
	}
	if err := sqlite.Migrate(ctx, db, schema); err != nil {
		return nil, err
	}

	validator, err := newValidator()
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, namespace: namespace, validator: validator, logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Namespace returns the identity namespace of the store.
func (s *Store) Namespace() string {
	return s.namespace
}

// NextVersion returns the version the next saved document must carry. It does
// not consume the version.
func (s *Store) NextVersion(ctx context.Context) (uint64, error) {
	counter, err := s.counter(ctx, s.db)
	if err != nil {
		return 0, sdkerr.Wrap(sdkerr.PersistenceFailed, "didmanager.NextVersion", err)
	}

	return counter + 1, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) counter(ctx context.Context, q querier) (uint64, error) {
	var counter uint64
	err := q.QueryRowContext(ctx, `SELECT counter FROM did_versions WHERE namespace = ?`, s.namespace).Scan(&counter)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read version counter: %w", err)
	}

	return counter, nil
}

// Save replaces the namespace's document with doc, which must be sealed, bound
// to its own id and version, and carry the next version. On success doc moves
// to the Persisted state. On failure nothing changes.
func (s *Store) Save(ctx context.Context, doc *did.Document) error {
	const op = "didmanager.Save"

	if doc == nil {
		return sdkerr.New(sdkerr.PersistenceFailed, op, "document is nil")
	}
	if st := doc.State(); st != did.StateSealed {
		return sdkerr.New(sdkerr.PersistenceFailed, op, "document must be sealed, state is %s", st)
	}
	if err := doc.CheckBinding(); err != nil {
		return sdkerr.Wrap(sdkerr.PersistenceFailed, op, err)
	}
	version, err := doc.Version()
	if err != nil {
		return sdkerr.Wrap(sdkerr.PersistenceFailed, op, err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return sdkerr.Wrap(sdkerr.PersistenceFailed, op, err)
	}
	if err := validate(s.validator, raw); err != nil {
		return sdkerr.Wrap(sdkerr.PersistenceFailed, op, err)
	}

	err = sqlite.InTx(ctx, s.db, func(tx *sql.Tx) error {
		counter, err := s.counter(ctx, tx)
		if err != nil {
			return err
		}
		if version != counter+1 {
			return fmt.Errorf("document version %d is stale, next version is %d", version, counter+1)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO did_documents (namespace, did, version, document, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(namespace) DO UPDATE SET
				did = excluded.did, version = excluded.version,
				document = excluded.document, updated_at = excluded.updated_at`,
			s.namespace, doc.ID, version, string(raw), s.now().UnixNano()); err != nil {
			return fmt.Errorf("failed to write document: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO did_versions (namespace, counter) VALUES (?, ?)
			ON CONFLICT(namespace) DO UPDATE SET counter = excluded.counter`,
			s.namespace, version); err != nil {
			return fmt.Errorf("failed to advance version counter: %w", err)
		}

		return nil
	})
	if err != nil {
		return sdkerr.Wrap(sdkerr.PersistenceFailed, op, err)
	}

	if err := doc.MarkPersisted(); err != nil {
		return sdkerr.Wrap(sdkerr.PersistenceFailed, op, err)
	}

	s.logger.Info().
		Str("namespace", s.namespace).
		Str("did", doc.ID).
		Uint64("version_id", version).
		Msg("document saved")

	return nil
}

// Load returns the namespace's document in the Persisted state.
func (s *Store) Load(ctx context.Context) (*did.Document, error) {
	const op = "didmanager.Load"

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM did_documents WHERE namespace = ?`, s.namespace).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sdkerr.New(sdkerr.DocumentNotFound, op, "no document in namespace %s", s.namespace)
	}
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.PersistenceFailed, op, err)
	}

	if err := validate(s.validator, []byte(raw)); err != nil {
		return nil, sdkerr.Wrap(sdkerr.PersistenceFailed, op, err)
	}

	var doc did.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, sdkerr.Wrap(sdkerr.PersistenceFailed, op, err)
	}
	if err := doc.MarkPersisted(); err != nil {
		return nil, sdkerr.Wrap(sdkerr.PersistenceFailed, op, err)
	}

	return &doc, nil
}

// IsSaved reports whether the namespace holds a document.
func (s *Store) IsSaved(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM did_documents WHERE namespace = ?`, s.namespace).Scan(&n)
	if err != nil {
		return false, sdkerr.Wrap(sdkerr.PersistenceFailed, "didmanager.IsSaved", err)
	}

	return n > 0, nil
}

// Delete removes the namespace's document. Keys and the version counter are
// left alone.
func (s *Store) Delete(ctx context.Context) error {
	const op = "didmanager.Delete"

	res, err := s.db.ExecContext(ctx, `DELETE FROM did_documents WHERE namespace = ?`, s.namespace)
	if err != nil {
		return sdkerr.Wrap(sdkerr.PersistenceFailed, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return sdkerr.Wrap(sdkerr.PersistenceFailed, op, err)
	}
	if n == 0 {
		return sdkerr.New(sdkerr.DocumentNotFound, op, "no document in namespace %s", s.namespace)
	}

	s.logger.Info().Str("namespace", s.namespace).Msg("document deleted")

	return nil
}
