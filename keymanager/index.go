package keymanager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/weticket/go-did-sdk/common/crypto"
	"github.com/weticket/go-did-sdk/storage/sqlite"
)

var (
	ErrKeyNotFound  = errors.New("key not found")
	ErrDuplicateKey = errors.New("key id already used in this namespace")
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS custody_keys (
	namespace     TEXT NOT NULL,
	key_id        TEXT NOT NULL,
	algorithm     TEXT NOT NULL,
	storage_class TEXT NOT NULL,
	backend       TEXT NOT NULL,
	public_key    BLOB,
	created_at    INTEGER NOT NULL,
	deleted_at    INTEGER,
	PRIMARY KEY (namespace, key_id)
)`

// Index records the keys of one custody namespace. Rows of deleted keys are
// retired rather than removed so their ids are never handed out again. A row
// without a public key is a reservation for a key still being generated.
type Index struct {
	db        *sql.DB
	namespace string
}

// NewIndex opens the key index of namespace, creating its table if needed.
func NewIndex(ctx context.Context, db *sql.DB, namespace string) (*Index, error) {
	if strings.TrimSpace(namespace) == "" {
		return nil, errors.New("keystore namespace required")
	}
	if err := sqlite.Migrate(ctx, db, indexSchema); err != nil {
		return nil, err
	}

	return &Index{db: db, namespace: namespace}, nil
}

// Namespace returns the custody namespace.
func (x *Index) Namespace() string {
	return x.namespace
}

func (x *Index) reserve(ctx context.Context, info KeyInfo) error {
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO custody_keys (namespace, key_id, algorithm, storage_class, backend, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		x.namespace, info.ID, string(info.Algorithm), string(info.StorageClass), info.Backend, info.CreatedAt.UnixNano())
	if sqlite.IsConstraint(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, info.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to reserve key %s: %w", info.ID, err)
	}

	return nil
}

func (x *Index) activate(ctx context.Context, keyID string, pub []byte) error {
	res, err := x.db.ExecContext(ctx, `
		UPDATE custody_keys SET public_key = ?
		WHERE namespace = ? AND key_id = ? AND public_key IS NULL AND deleted_at IS NULL`,
		pub, x.namespace, keyID)
	if err != nil {
		return fmt.Errorf("failed to activate key %s: %w", keyID, err)
	}

	return expectOne(res, keyID)
}

func (x *Index) release(ctx context.Context, keyID string) error {
	_, err := x.db.ExecContext(ctx, `
		DELETE FROM custody_keys WHERE namespace = ? AND key_id = ? AND public_key IS NULL`,
		x.namespace, keyID)
	if err != nil {
		return fmt.Errorf("failed to release key %s: %w", keyID, err)
	}

	return nil
}

func (x *Index) retire(ctx context.Context, keyID string, at time.Time) error {
	res, err := x.db.ExecContext(ctx, `
		UPDATE custody_keys SET deleted_at = ?
		WHERE namespace = ? AND key_id = ? AND deleted_at IS NULL`,
		at.UnixNano(), x.namespace, keyID)
	if err != nil {
		return fmt.Errorf("failed to retire key %s: %w", keyID, err)
	}

	return expectOne(res, keyID)
}

func (x *Index) get(ctx context.Context, keyID string) (KeyInfo, error) {
	row := x.db.QueryRowContext(ctx, `
		SELECT key_id, algorithm, storage_class, backend, public_key, created_at
		FROM custody_keys
		WHERE namespace = ? AND key_id = ? AND public_key IS NOT NULL AND deleted_at IS NULL`,
		x.namespace, keyID)

	info, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return KeyInfo{}, ErrKeyNotFound
	}

	return info, err
}

func (x *Index) list(ctx context.Context) ([]KeyInfo, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT key_id, algorithm, storage_class, backend, public_key, created_at
		FROM custody_keys
		WHERE namespace = ? AND public_key IS NOT NULL AND deleted_at IS NULL
		ORDER BY key_id`,
		x.namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var out []KeyInfo
	for rows.Next() {
		info, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}

	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(s scanner) (KeyInfo, error) {
	var (
		info          KeyInfo
		alg, class    string
		createdAtNano int64
	)
	if err := s.Scan(&info.ID, &alg, &class, &info.Backend, &info.PublicKey, &createdAtNano); err != nil {
		return KeyInfo{}, err
	}
	info.Algorithm = crypto.Algorithm(alg)
	info.StorageClass = StorageClass(class)
	info.CreatedAt = time.Unix(0, createdAtNano).UTC()

	return info, nil
}

func expectOne(res sql.Result, keyID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}

	return nil
}
