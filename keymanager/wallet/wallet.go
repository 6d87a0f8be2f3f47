// Package wallet is the software key store: private scalars encrypted at rest
// in SQLite under a key derived from the wallet secret.
package wallet

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/argon2"

	"github.com/weticket/go-did-sdk/common/crypto"
	"github.com/weticket/go-did-sdk/common/sdkerr"
	"github.com/weticket/go-did-sdk/storage/sqlite"
)

// BackendName is the name the wallet registers under in the key index.
const BackendName = "wallet"

const (
	saltSize        = 16
	kekSize         = 32
	envelopeVersion = 1
)

// checkPlaintext is sealed once per namespace to detect a wrong secret on open.
var checkPlaintext = []byte("weticket-wallet-check")

var ErrWrongSecret = errors.New("wallet secret does not match this namespace")

const schema = `
CREATE TABLE IF NOT EXISTS wallet_meta (
	namespace  TEXT PRIMARY KEY,
	salt       BLOB NOT NULL,
	check_box  BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS wallet_keys (
	namespace  TEXT NOT NULL,
	key_id     TEXT NOT NULL,
	algorithm  TEXT NOT NULL,
	sealed     BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key_id)
)`

// KDFParams are the argon2id parameters of the wallet key.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDFParams follow the argon2id recommendation for interactive use.
var DefaultKDFParams = KDFParams{Time: 1, Memory: 64 * 1024, Threads: 4}

// envelope is the CBOR plaintext sealed for each key.
type envelope struct {
	Version   int    `cbor:"1,keyasint"`
	Algorithm string `cbor:"2,keyasint"`
	Scalar    []byte `cbor:"3,keyasint"`
}

// Wallet implements keymanager.Backend.
type Wallet struct {
	db        *sql.DB
	namespace string
	aead      cipher.AEAD
	logger    zerolog.Logger
}

// Option configures a Wallet.
type Option func(*Wallet)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Wallet) {
		w.logger = l
	}
}

// Open opens the wallet of namespace. The first open of a namespace fixes its
// salt; later opens must present the same secret.
func Open(ctx context.Context, db *sql.DB, namespace string, secret []byte, params KDFParams, opts ...Option) (*Wallet, error) {
	if strings.TrimSpace(namespace) == "" {
		return nil, errors.New("wallet namespace required")
	}
	if len(secret) == 0 {
		return nil, errors.New("wallet secret required")
	}
	if params.Time == 0 || params.Memory == 0 || params.Threads == 0 {
		return nil, fmt.Errorf("invalid KDF parameters %+v", params)
	}
	if err := sqlite.Migrate(ctx, db, schema); err != nil {
		return nil, err
	}

	w := &Wallet{db: db, namespace: namespace, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(w)
	}

	var salt, check []byte
	err := db.QueryRowContext(ctx,
		`SELECT salt, check_box FROM wallet_meta WHERE namespace = ?`, namespace).Scan(&salt, &check)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if w.aead, err = newAEAD(secret, salt, params); err != nil {
			return nil, err
		}
		if check, err = w.seal(checkPlaintext, w.metaAD()); err != nil {
			return nil, err
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO wallet_meta (namespace, salt, check_box, created_at) VALUES (?, ?, ?, ?)`,
			namespace, salt, check, time.Now().UnixNano()); err != nil {
			return nil, fmt.Errorf("failed to initialize wallet: %w", err)
		}
		w.logger.Info().Str("namespace", namespace).Msg("wallet initialized")
	case err != nil:
		return nil, fmt.Errorf("failed to read wallet metadata: %w", err)
	default:
		if w.aead, err = newAEAD(secret, salt, params); err != nil {
			return nil, err
		}
		plain, err := w.open(check, w.metaAD())
		if err != nil || !bytes.Equal(plain, checkPlaintext) {
			return nil, ErrWrongSecret
		}
	}

	return w, nil
}

func newAEAD(secret, salt []byte, params KDFParams) (cipher.AEAD, error) {
	kek := argon2.IDKey(secret, salt, params.Time, params.Memory, params.Threads, kekSize)

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}

// Name implements keymanager.Backend.
func (w *Wallet) Name() string {
	return BackendName
}

// Supports implements keymanager.Backend.
func (w *Wallet) Supports(alg crypto.Algorithm) bool {
	return alg.Valid()
}

// Generate creates and stores a key, returning its compressed public key.
func (w *Wallet) Generate(ctx context.Context, keyID string, alg crypto.Algorithm) ([]byte, error) {
	scalar, pub, err := generate(alg)
	if err != nil {
		return nil, err
	}
	defer clear(scalar)

	plain, err := cbor.Marshal(envelope{Version: envelopeVersion, Algorithm: string(alg), Scalar: scalar})
	if err != nil {
		return nil, fmt.Errorf("failed to encode key: %w", err)
	}
	defer clear(plain)

	box, err := w.seal(plain, w.keyAD(keyID))
	if err != nil {
		return nil, err
	}

	_, err = w.db.ExecContext(ctx,
		`INSERT INTO wallet_keys (namespace, key_id, algorithm, sealed, created_at) VALUES (?, ?, ?, ?, ?)`,
		w.namespace, keyID, string(alg), box, time.Now().UnixNano())
	if sqlite.IsConstraint(err) {
		return nil, fmt.Errorf("wallet already holds key %s", keyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store key %s: %w", keyID, err)
	}

	return pub, nil
}

func generate(alg crypto.Algorithm) (scalar, pub []byte, err error) {
	switch alg {
	case crypto.SECP256K1:
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, err
		}
		defer priv.Zero()

		return priv.Serialize(), priv.PubKey().SerializeCompressed(), nil
	case crypto.SECP256R1:
		priv, err := crypto.GenerateKey(alg)
		if err != nil {
			return nil, nil, err
		}
		scalar = make([]byte, 32)
		priv.D.FillBytes(scalar)
		pub, err = crypto.CompressPublicKey(alg, &priv.PublicKey)

		return scalar, pub, err
	default:
		return nil, nil, fmt.Errorf("%w: %s", crypto.ErrUnsupportedAlgorithm, alg)
	}
}

// Sign decrypts the key and signs digest with it.
func (w *Wallet) Sign(ctx context.Context, keyID string, alg crypto.Algorithm, digest []byte) ([]byte, error) {
	env, err := w.load(ctx, keyID)
	if err != nil {
		return nil, err
	}
	defer clear(env.Scalar)

	if crypto.Algorithm(env.Algorithm) != alg {
		return nil, sdkerr.New(sdkerr.SignFailed, "wallet.Sign", "key %s is %s, not %s", keyID, env.Algorithm, alg)
	}

	priv, err := crypto.PrivateKeyFromScalar(alg, env.Scalar)
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.SignFailed, "wallet.Sign", err)
	}

	return crypto.SignDigest(alg, priv, digest)
}

// Delete removes a key.
func (w *Wallet) Delete(ctx context.Context, keyID string) error {
	res, err := w.db.ExecContext(ctx,
		`DELETE FROM wallet_keys WHERE namespace = ? AND key_id = ?`, w.namespace, keyID)
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", keyID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sdkerr.New(sdkerr.KeyNotFound, "wallet.Delete", "wallet has no key %s", keyID)
	}

	return nil
}

func (w *Wallet) load(ctx context.Context, keyID string) (envelope, error) {
	var box []byte
	err := w.db.QueryRowContext(ctx,
		`SELECT sealed FROM wallet_keys WHERE namespace = ? AND key_id = ?`, w.namespace, keyID).Scan(&box)
	if errors.Is(err, sql.ErrNoRows) {
		return envelope{}, sdkerr.New(sdkerr.KeyNotFound, "wallet.load", "wallet has no key %s", keyID)
	}
	if err != nil {
		return envelope{}, fmt.Errorf("failed to load key %s: %w", keyID, err)
	}

	plain, err := w.open(box, w.keyAD(keyID))
	if err != nil {
		return envelope{}, sdkerr.Wrap(sdkerr.SignFailed, "wallet.load", err)
	}
	defer clear(plain)

	var env envelope
	if err := cbor.Unmarshal(plain, &env); err != nil {
		return envelope{}, sdkerr.Wrap(sdkerr.SignFailed, "wallet.load", fmt.Errorf("failed to decode key: %w", err))
	}
	if env.Version != envelopeVersion {
		return envelope{}, sdkerr.New(sdkerr.SignFailed, "wallet.load", "unsupported key envelope version %d", env.Version)
	}

	return env, nil
}

// seal returns nonce||ciphertext.
func (w *Wallet) seal(plaintext, ad []byte) ([]byte, error) {
	nonce := make([]byte, w.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return w.aead.Seal(nonce, nonce, plaintext, ad), nil
}

func (w *Wallet) open(box, ad []byte) ([]byte, error) {
	n := w.aead.NonceSize()
	if len(box) < n {
		return nil, errors.New("sealed key is truncated")
	}

	plain, err := w.aead.Open(nil, box[:n], box[n:], ad)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}

	return plain, nil
}

func (w *Wallet) metaAD() []byte {
	return []byte(w.namespace)
}

func (w *Wallet) keyAD(keyID string) []byte {
	return []byte(w.namespace + "\x00" + keyID)
}
