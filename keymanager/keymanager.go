// Package keymanager is the key custody boundary of the SDK.
//
// Private keys live in a Backend (software wallet, AWS KMS or a remote
// keystore) and never leave it; the Manager only sees public keys and
// signatures. Keys of the biometric storage class are additionally gated by a
// Confirmer before every signature.
package keymanager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"

	"github.com/weticket/go-did-sdk/common/crypto"
	"github.com/weticket/go-did-sdk/common/sdkerr"
)

// StorageClass selects where a key is kept and how it is unlocked.
type StorageClass string

const (
	StorageWallet    StorageClass = "wallet"
	StorageKeystore  StorageClass = "keystore"
	StorageBiometric StorageClass = "biometric"
)

// Valid reports whether c is a known storage class.
func (c StorageClass) Valid() bool {
	return c == StorageWallet || c == StorageKeystore || c == StorageBiometric
}

// KeyGenRequest describes a key to generate.
type KeyGenRequest struct {
	ID           string
	Algorithm    crypto.Algorithm
	StorageClass StorageClass
}

// KeyInfo is the public record of a custody key.
type KeyInfo struct {
	ID           string
	Algorithm    crypto.Algorithm
	StorageClass StorageClass
	Backend      string
	PublicKey    []byte // compressed SEC1 point
	CreatedAt    time.Time
}

// PublicKeyMultibase returns the base58btc multibase form of the public key.
func (k KeyInfo) PublicKeyMultibase() (string, error) {
	return crypto.EncodeMultibase(crypto.Base58BTC, k.PublicKey)
}

// KeyAttestation describes where and how a key is held.
type KeyAttestation struct {
	KeyID     string `json:"keyId"`
	Algorithm string `json:"algorithm"`
	Storage   string `json:"storage"`
	CreatedAt int64  `json:"createdAt"`
}

// KeyManager is the custody capability used by the rest of the SDK.
type KeyManager interface {
	Generate(ctx context.Context, req KeyGenRequest) (KeyInfo, error)
	Lookup(ctx context.Context, ids ...string) ([]KeyInfo, error)
	List(ctx context.Context) ([]KeyInfo, error)
	Sign(ctx context.Context, keyID string, digest []byte) ([]byte, error)
	Verify(alg crypto.Algorithm, publicKey, digest, signature []byte) (bool, error)
	Delete(ctx context.Context, keyID string) error
	DeleteAll(ctx context.Context) error
	Attest(ctx context.Context, keyID string) (KeyAttestation, error)
}

// Backend holds private keys. Backends report a missing key with an error of
// kind sdkerr.KeyNotFound.
type Backend interface {
	Name() string
	Supports(alg crypto.Algorithm) bool
	// Generate creates the key and returns its compressed public key.
	Generate(ctx context.Context, keyID string, alg crypto.Algorithm) ([]byte, error)
	// Sign returns a 64-byte r||s signature over a 32-byte digest.
	Sign(ctx context.Context, keyID string, alg crypto.Algorithm, digest []byte) ([]byte, error)
	Delete(ctx context.Context, keyID string) error
}

// Manager implements KeyManager over an index and a set of backends.
type Manager struct {
	index     *Index
	classes   map[StorageClass]Backend
	backends  map[string]Backend
	confirmer Confirmer
	locks     *keyLocks
	logger    zerolog.Logger
	now       func() time.Time
}

var _ KeyManager = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithBackend serves a storage class from b.
func WithBackend(class StorageClass, b Backend) Option {
	return func(m *Manager) {
		if b != nil {
			m.classes[class] = b
		}
	}
}

// WithConfirmer sets the biometric confirmer.
func WithConfirmer(c Confirmer) Option {
	return func(m *Manager) {
		m.confirmer = c
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock overrides the clock used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager returns a Manager. The biometric class falls back to the
// keystore backend, then to the wallet backend, when not set explicitly.
func NewManager(index *Index, opts ...Option) (*Manager, error) {
	if index == nil {
		return nil, errors.New("key index required")
	}

	m := &Manager{
		index:    index,
		classes:  make(map[StorageClass]Backend),
		backends: make(map[string]Backend),
		locks:    newKeyLocks(),
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if _, ok := m.classes[StorageBiometric]; !ok {
		if b, ok := m.classes[StorageKeystore]; ok {
			m.classes[StorageBiometric] = b
		} else if b, ok := m.classes[StorageWallet]; ok {
			m.classes[StorageBiometric] = b
		}
	}
	if len(m.classes) == 0 {
		return nil, errors.New("at least one key backend required")
	}

	for _, b := range m.classes {
		if other, ok := m.backends[b.Name()]; ok && other != b {
			return nil, fmt.Errorf("two backends share the name %q", b.Name())
		}
		m.backends[b.Name()] = b
	}

	return m, nil
}

// Generate creates a key. The id is reserved in the index before the backend
// is called, so an id can never shadow an existing or deleted key.
func (m *Manager) Generate(ctx context.Context, req KeyGenRequest) (KeyInfo, error) {
	const op = "keymanager.Generate"

	if strings.TrimSpace(req.ID) == "" || strings.ContainsAny(req.ID, "#?/") {
		return KeyInfo{}, sdkerr.New(sdkerr.KeyGenFailed, op, "invalid key id %q", req.ID)
	}
	if !req.Algorithm.Valid() {
		return KeyInfo{}, sdkerr.Wrap(sdkerr.KeyGenFailed, op, fmt.Errorf("%w: %s", crypto.ErrUnsupportedAlgorithm, req.Algorithm))
	}
	if !req.StorageClass.Valid() {
		return KeyInfo{}, sdkerr.New(sdkerr.KeyGenFailed, op, "unknown storage class %q", req.StorageClass)
	}

	backend, ok := m.classes[req.StorageClass]
	if !ok {
		return KeyInfo{}, sdkerr.New(sdkerr.KeyGenFailed, op, "no backend configured for storage class %s", req.StorageClass)
	}
	if !backend.Supports(req.Algorithm) {
		return KeyInfo{}, sdkerr.New(sdkerr.KeyGenFailed, op, "%s backend does not support %s", backend.Name(), req.Algorithm)
	}

	release, err := m.locks.acquire(ctx, req.ID)
	if err != nil {
		return KeyInfo{}, sdkerr.Wrap(sdkerr.KeyGenFailed, op, err)
	}
	defer release()

	info := KeyInfo{
		ID:           req.ID,
		Algorithm:    req.Algorithm,
		StorageClass: req.StorageClass,
		Backend:      backend.Name(),
		CreatedAt:    m.now().UTC(),
	}
	if err := m.index.reserve(ctx, info); err != nil {
		return KeyInfo{}, sdkerr.Wrap(sdkerr.KeyGenFailed, op, err)
	}

	pub, err := backend.Generate(ctx, req.ID, req.Algorithm)
	if err == nil {
		_, err = crypto.ParsePublicKey(req.Algorithm, pub)
	}
	if err != nil {
		if rerr := m.index.release(ctx, req.ID); rerr != nil {
			m.logger.Error().Err(rerr).Str("key_id", req.ID).Msg("failed to release key reservation")
		}
		return KeyInfo{}, sdkerr.Wrap(sdkerr.KeyGenFailed, op, err)
	}

	info.PublicKey = pub
	if err := m.index.activate(ctx, req.ID, pub); err != nil {
		return KeyInfo{}, sdkerr.Wrap(sdkerr.KeyGenFailed, op, err)
	}

	m.logger.Info().
		Str("key_id", info.ID).
		Str("algorithm", string(info.Algorithm)).
		Str("storage", string(info.StorageClass)).
		Str("backend", info.Backend).
		Msg("key generated")

	return info, nil
}

// Lookup returns the keys with the given ids in order. Any missing id fails
// the whole lookup with KeyNotFound. No ids means every key.
func (m *Manager) Lookup(ctx context.Context, ids ...string) ([]KeyInfo, error) {
	if len(ids) == 0 {
		return m.List(ctx)
	}

	var (
		out     = make([]KeyInfo, 0, len(ids))
		missing []string
	)
	for _, id := range ids {
		info, err := m.index.get(ctx, id)
		if errors.Is(err, ErrKeyNotFound) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, sdkerr.Wrap(sdkerr.PersistenceFailed, "keymanager.Lookup", err)
		}
		out = append(out, info)
	}
	if len(missing) > 0 {
		return nil, sdkerr.New(sdkerr.KeyNotFound, "keymanager.Lookup", "keys not found: %s", strings.Join(missing, ", "))
	}

	return out, nil
}

// List returns every live key ordered by id.
func (m *Manager) List(ctx context.Context) ([]KeyInfo, error) {
	keys, err := m.index.list(ctx)
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.PersistenceFailed, "keymanager.List", err)
	}

	return keys, nil
}

// Sign signs a 32-byte digest. For biometric keys the call blocks on the
// confirmer while holding the key's lock.
func (m *Manager) Sign(ctx context.Context, keyID string, digest []byte) ([]byte, error) {
	const op = "keymanager.Sign"

	if len(digest) != crypto.DigestSize {
		return nil, sdkerr.Wrap(sdkerr.SignFailed, op, crypto.ErrInvalidDigest)
	}

	release, err := m.locks.acquire(ctx, keyID)
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.SignFailed, op, err)
	}
	defer release()

	info, backend, err := m.resolve(ctx, op, keyID)
	if err != nil {
		return nil, err
	}

	if info.StorageClass == StorageBiometric {
		if err := m.confirm(ctx, info); err != nil {
			m.logger.Info().Err(err).Str("key_id", keyID).Msg("biometric confirmation not granted")
			return nil, err
		}
	}

	sig, err := backend.Sign(ctx, keyID, info.Algorithm, digest)
	if err != nil {
		return nil, sdkerr.Ensure(sdkerr.SignFailed, op, err)
	}
	if len(sig) != crypto.SignatureSize {
		return nil, sdkerr.Wrap(sdkerr.SignFailed, op, fmt.Errorf("%w: got %d bytes", crypto.ErrInvalidSignature, len(sig)))
	}

	m.logger.Debug().Str("key_id", keyID).Str("backend", backend.Name()).Msg("digest signed")

	return sig, nil
}

// Verify checks a signature locally.
func (m *Manager) Verify(alg crypto.Algorithm, publicKey, digest, signature []byte) (bool, error) {
	return crypto.Verify(alg, publicKey, digest, signature)
}

// Delete removes a key from its backend and retires its id.
func (m *Manager) Delete(ctx context.Context, keyID string) error {
	const op = "keymanager.Delete"

	release, err := m.locks.acquire(ctx, keyID)
	if err != nil {
		return sdkerr.Wrap(sdkerr.PersistenceFailed, op, err)
	}
	defer release()

	_, backend, err := m.resolve(ctx, op, keyID)
	if err != nil {
		return err
	}

	if err := backend.Delete(ctx, keyID); err != nil && !errors.Is(err, sdkerr.KeyNotFound) {
		return sdkerr.Ensure(sdkerr.PersistenceFailed, op, err)
	}
	if err := m.index.retire(ctx, keyID, m.now().UTC()); err != nil {
		return sdkerr.Wrap(sdkerr.PersistenceFailed, op, err)
	}

	m.logger.Info().Str("key_id", keyID).Str("backend", backend.Name()).Msg("key deleted")

	return nil
}

// DeleteAll deletes every key, backend by backend. It keeps going after a
// failure and returns all failures joined.
func (m *Manager) DeleteAll(ctx context.Context) error {
	keys, err := m.List(ctx)
	if err != nil {
		return err
	}

	groups := make(map[string][]string)
	for _, k := range keys {
		groups[k.Backend] = append(groups[k.Backend], k.ID)
	}

	var errs []error
	names := maps.Keys(groups)
	slices.Sort(names)
	for _, name := range names {
		for _, id := range groups[name] {
			if err := m.Delete(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// Attest describes how a key is held.
func (m *Manager) Attest(ctx context.Context, keyID string) (KeyAttestation, error) {
	info, _, err := m.resolve(ctx, "keymanager.Attest", keyID)
	if err != nil {
		return KeyAttestation{}, err
	}

	return KeyAttestation{
		KeyID:     info.ID,
		Algorithm: string(info.Algorithm),
		Storage:   string(info.StorageClass),
		CreatedAt: info.CreatedAt.UnixMilli(),
	}, nil
}

func (m *Manager) resolve(ctx context.Context, op, keyID string) (KeyInfo, Backend, error) {
	info, err := m.index.get(ctx, keyID)
	if errors.Is(err, ErrKeyNotFound) {
		return KeyInfo{}, nil, sdkerr.Wrap(sdkerr.KeyNotFound, op, fmt.Errorf("%w: %s", err, keyID))
	}
	if err != nil {
		return KeyInfo{}, nil, sdkerr.Wrap(sdkerr.PersistenceFailed, op, err)
	}

	backend, ok := m.backends[info.Backend]
	if !ok {
		return KeyInfo{}, nil, sdkerr.New(sdkerr.KeyNotFound, op, "backend %q of key %s is not configured", info.Backend, keyID)
	}

	return info, backend, nil
}
