// Package identity is the command surface of the SDK. A Service owns one
// identity namespace: at most one DID Document, plus every key ever generated
// for it. Operations on a namespace are serialized.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/weticket/go-did-sdk/common/crypto"
	"github.com/weticket/go-did-sdk/common/model"
	"github.com/weticket/go-did-sdk/common/sdkerr"
	"github.com/weticket/go-did-sdk/did"
	"github.com/weticket/go-did-sdk/didauth"
	"github.com/weticket/go-did-sdk/didmanager"
	"github.com/weticket/go-did-sdk/keymanager"
	"github.com/weticket/go-did-sdk/proof"
)

// Identity is the result of CreateIdentity.
type Identity struct {
	DID            string                    `json:"did"`
	PublicKey      string                    `json:"publicKey"`
	KeyID          string                    `json:"keyId"`
	Document       *did.Document             `json:"document"`
	KeyAttestation keymanager.KeyAttestation `json:"keyAttestation"`
}

// Authentication is the result of Authenticate.
type Authentication struct {
	Document      *did.Document    `json:"document"`
	AuthAssertion *didauth.DIDAuth `json:"authAssertion"`
}

// Service runs identity operations against key custody and a document store.
type Service struct {
	keys     keymanager.KeyManager
	store    *didmanager.Store
	engine   *proof.Engine
	auth     *didauth.Authenticator
	dids     *did.DIDGenerator
	keyIDs   *keymanager.KeyIDGenerator
	storage  keymanager.StorageClass
	alg      crypto.Algorithm
	services []did.Service
	lock     *semaphore.Weighted
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithStorageClass sets the storage class of new identity keys.
func WithStorageClass(c keymanager.StorageClass) Option {
	return func(s *Service) {
		s.storage = c
	}
}

// WithAlgorithm sets the algorithm of new identity keys.
func WithAlgorithm(alg crypto.Algorithm) Option {
	return func(s *Service) {
		s.alg = alg
	}
}

// WithDIDGenerator sets the generator of new DIDs.
func WithDIDGenerator(g *did.DIDGenerator) Option {
	return func(s *Service) {
		s.dids = g
	}
}

// WithKeyIDGenerator sets the generator of new key ids.
func WithKeyIDGenerator(g *keymanager.KeyIDGenerator) Option {
	return func(s *Service) {
		s.keyIDs = g
	}
}

// WithServices adds service entries to every new document.
func WithServices(services ...did.Service) Option {
	return func(s *Service) {
		s.services = append(s.services, services...)
	}
}

// WithClock overrides the timestamp source of documents and proofs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService returns a Service over keys and store.
func NewService(keys keymanager.KeyManager, store *didmanager.Store, opts ...Option) (*Service, error) {
	if keys == nil || store == nil {
		return nil, errors.New("key manager and document store required")
	}

	s := &Service{
		keys:    keys,
		store:   store,
		keyIDs:  keymanager.NewKeyIDGenerator(keymanager.DefaultKeyIDPrefix),
		storage: keymanager.StorageBiometric,
		alg:     crypto.SECP256R1,
		lock:    semaphore.NewWeighted(1),
		now:     time.Now,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.dids == nil {
		g, err := did.NewDIDGenerator(did.DefaultMethod)
		if err != nil {
			return nil, err
		}
		s.dids = g
	}
	if !s.storage.Valid() {
		return nil, fmt.Errorf("unknown storage class %q", s.storage)
	}
	if !s.alg.Valid() {
		return nil, fmt.Errorf("%w: %s", crypto.ErrUnsupportedAlgorithm, s.alg)
	}

	s.engine = proof.NewEngine(keys, proof.WithLogger(s.logger))
	s.auth = didauth.NewAuthenticator(s.engine,
		didauth.WithClock(func() time.Time { return s.now() }),
		didauth.WithLogger(s.logger))

	return s, nil
}

// Namespace returns the document namespace the service manages.
func (s *Service) Namespace() string {
	return s.store.Namespace()
}

func (s *Service) acquire(ctx context.Context) (func(), error) {
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return nil, sdkerr.Wrap(sdkerr.UserCancelled, "identity.acquire", err)
	}

	return func() { s.lock.Release(1) }, nil
}

// AuthTypeFor returns the authType published for keys of class c.
func AuthTypeFor(c keymanager.StorageClass) did.AuthType {
	switch c {
	case keymanager.StorageBiometric:
		return did.AuthTypeBiometric
	case keymanager.StorageWallet:
		return did.AuthTypePasscode
	default:
		return did.AuthTypeFree
	}
}

// CreateIdentity replaces the namespace's identity with a new DID bound to a
// freshly generated key. The previous document is deleted first; its keys stay
// in custody. If anything fails after the key is generated, the key is kept and
// no document is saved.
func (s *Service) CreateIdentity(ctx context.Context) (*Identity, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.store.Delete(ctx)
	switch {
	case err == nil:
		s.logger.Info().Str("namespace", s.Namespace()).Msg("previous document deleted")
	case !errors.Is(err, sdkerr.DocumentNotFound):
		return nil, err
	}

	keyID := s.keyIDs.Next()
	if _, err := s.keys.Generate(ctx, keymanager.KeyGenRequest{
		ID:           keyID,
		Algorithm:    s.alg,
		StorageClass: s.storage,
	}); err != nil {
		return nil, err
	}

	found, err := s.keys.Lookup(ctx, keyID)
	if err != nil {
		return nil, err
	}
	key := found[0]

	id, err := s.dids.GenerateDID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate DID: %w", err)
	}

	doc, err := did.CreateDocument(id, []did.KeyBinding{{
		KeyID:     key.ID,
		Algorithm: key.Algorithm,
		PublicKey: key.PublicKey,
		AuthType:  AuthTypeFor(key.StorageClass),
		Roles:     []did.Role{did.RoleAuthentication, did.RoleAssertionMethod},
	}}, did.WithTimestamp(s.now()), did.WithServices(s.services...))
	if err != nil {
		return nil, err
	}

	if err := s.sealAndSave(ctx, doc, key.ID); err != nil {
		return nil, err
	}

	attestation, err := s.keys.Attest(ctx, key.ID)
	if err != nil {
		return nil, err
	}
	pub, err := key.PublicKeyMultibase()
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("namespace", s.Namespace()).
		Str("did", doc.ID).
		Str("key_id", key.ID).
		Str("version_id", doc.VersionID).
		Msg("identity created")

	return &Identity{
		DID:            doc.ID,
		PublicKey:      pub,
		KeyID:          key.ID,
		Document:       doc,
		KeyAttestation: attestation,
	}, nil
}

// sealAndSave binds doc to the next version, seals it with keyID and saves it.
func (s *Service) sealAndSave(ctx context.Context, doc *did.Document, keyID string) error {
	version, err := s.store.NextVersion(ctx)
	if err != nil {
		return err
	}
	if err := doc.AssignVersion(version); err != nil {
		return err
	}
	if err := s.Seal(ctx, doc, model.PurposeAssertionMethod, keyID); err != nil {
		return err
	}

	return s.store.Save(ctx, doc)
}

// Seal attaches a fresh proof skeleton for keyID to doc and signs it. If
// signing fails, doc is left in the ProofSkeleton state and Seal may be called
// again; each call stamps a new created time.
func (s *Service) Seal(ctx context.Context, doc *did.Document, purpose model.ProofPurpose, keyID string) error {
	if err := doc.AttachProofSkeleton(purpose, keyID, s.now()); err != nil {
		return err
	}

	return s.engine.Produce(ctx, doc)
}

// DeleteIdentity deletes the namespace's document. Keys are not touched.
func (s *Service) DeleteIdentity(ctx context.Context) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	return s.store.Delete(ctx)
}

// Document returns the persisted document.
func (s *Service) Document(ctx context.Context) (*did.Document, error) {
	return s.store.Load(ctx)
}

// Authenticate answers a server nonce with an assertion signed by the stored
// document's first authentication key.
func (s *Service) Authenticate(ctx context.Context, nonce string) (*Authentication, error) {
	if nonce == "" {
		return nil, sdkerr.New(sdkerr.InvalidArgument, "identity.Authenticate", "nonce is empty")
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	auth, err := s.auth.Authenticate(ctx, doc, nonce)
	if err != nil {
		return nil, err
	}

	return &Authentication{Document: doc, AuthAssertion: auth}, nil
}

// SignAttachedProof re-seals the stored document with keyID, which must be an
// assertionMethod of the document, and saves it under the next version.
func (s *Service) SignAttachedProof(ctx context.Context, keyID string) (*did.Document, error) {
	const op = "identity.SignAttachedProof"

	if keyID == "" {
		return nil, sdkerr.New(sdkerr.InvalidArgument, op, "key id is empty")
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	stored, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	keyID = model.KeyIDFromFragment(keyID)
	if !stored.HasRole(keyID, did.RoleAssertionMethod) {
		return nil, sdkerr.New(sdkerr.KeyNotFound, op, "%q is not an assertionMethod of %s", keyID, stored.ID)
	}

	doc := stored.Revise()
	if err := s.sealAndSave(ctx, doc, keyID); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("namespace", s.Namespace()).
		Str("did", doc.ID).
		Str("key_id", keyID).
		Str("version_id", doc.VersionID).
		Msg("document re-sealed")

	return doc, nil
}

// Verify checks the stored document's proof against its own verification
// method. It is a local self-check; the verifying server is authoritative.
func (s *Service) Verify(ctx context.Context) error {
	const op = "identity.Verify"

	doc, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	if err := doc.CheckBinding(); err != nil {
		return sdkerr.Wrap(sdkerr.ProofGenerationFailed, op, err)
	}

	keyID := model.KeyIDFromFragment(doc.Proof.VerificationMethod)
	vm, ok := doc.VerificationMethodByID(keyID)
	if !ok {
		return sdkerr.New(sdkerr.KeyNotFound, op, "verification method %q not found in %s", keyID, doc.ID)
	}
	alg, err := vm.Algorithm()
	if err != nil {
		return sdkerr.Wrap(sdkerr.InvalidArgument, op, err)
	}
	pub, err := vm.PublicKey()
	if err != nil {
		return sdkerr.Wrap(sdkerr.InvalidArgument, op, err)
	}

	if err := proof.Verify(doc, alg, pub); err != nil {
		return sdkerr.Wrap(sdkerr.ProofGenerationFailed, op, err)
	}

	return nil
}

// Keys lists every key in custody.
func (s *Service) Keys(ctx context.Context) ([]keymanager.KeyInfo, error) {
	return s.keys.List(ctx)
}

// DeleteKeys deletes keys from custody. The document is not touched, so a
// document may keep referencing a deleted key.
func (s *Service) DeleteKeys(ctx context.Context, ids ...string) error {
	var errs []error
	for _, id := range ids {
		if err := s.keys.Delete(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// DeleteAllKeys deletes every key in custody.
func (s *Service) DeleteAllKeys(ctx context.Context) error {
	return s.keys.DeleteAll(ctx)
}
