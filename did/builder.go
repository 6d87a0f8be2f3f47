package did

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/weticket/go-did-sdk/common/crypto"
	"github.com/weticket/go-did-sdk/common/model"
	"github.com/weticket/go-did-sdk/common/sdkerr"
)

// FirstVersion is the versionId of a document that has never been persisted.
const FirstVersion uint64 = 1

// ErrImmutable is returned when a persisted document is mutated in place.
var ErrImmutable = errors.New("persisted document is immutable, call Revise first")

// DocumentOption customizes CreateDocument.
type DocumentOption func(*Document)

// WithController sets the document controller. An empty value keeps the default
// of the document's own id.
func WithController(controller string) DocumentOption {
	return func(d *Document) {
		if controller != "" {
			d.Controller = controller
		}
	}
}

// WithServices attaches service entries.
func WithServices(services ...Service) DocumentOption {
	return func(d *Document) {
		d.Service = append(d.Service, services...)
	}
}

// WithTimestamp sets the created and updated timestamps.
func WithTimestamp(t time.Time) DocumentOption {
	return func(d *Document) {
		d.Created = model.FormatCreated(t)
		d.Updated = d.Created
	}
}

// CreateDocument builds a Draft document for did with one verification method
// per key binding. The controller defaults to did.
func CreateDocument(did string, keys []KeyBinding, opts ...DocumentOption) (*Document, error) {
	const op = "did.CreateDocument"

	if _, _, err := SplitDID(did); err != nil {
		return nil, sdkerr.Wrap(sdkerr.InvalidArgument, op, err)
	}
	if len(keys) == 0 {
		return nil, sdkerr.New(sdkerr.InvalidArgument, op, "at least one key is required")
	}

	doc := &Document{
		Context:         []string{ContextV1},
		ID:              did,
		Controller:      did,
		VersionID:       strconv.FormatUint(FirstVersion, 10),
		AssertionMethod: []string{},
		Authentication:  []string{},
	}
	WithTimestamp(time.Now())(doc)

	for _, opt := range opts {
		opt(doc)
	}

	for _, k := range keys {
		vm, err := verificationMethodFor(doc.Controller, k)
		if err != nil {
			return nil, sdkerr.Wrap(sdkerr.InvalidArgument, op, err)
		}
		if _, ok := doc.VerificationMethodByID(vm.ID); ok {
			return nil, sdkerr.New(sdkerr.InvalidArgument, op, "duplicate verification method %q", vm.ID)
		}
		doc.VerificationMethod = append(doc.VerificationMethod, vm)

		for _, role := range k.Roles {
			if err := doc.bind(role, vm.ID); err != nil {
				return nil, sdkerr.Wrap(sdkerr.InvalidArgument, op, err)
			}
		}
	}

	return doc, nil
}

func verificationMethodFor(controller string, k KeyBinding) (VerificationMethod, error) {
	if k.KeyID == "" || strings.ContainsAny(k.KeyID, "#?") {
		return VerificationMethod{}, fmt.Errorf("invalid key id %q", k.KeyID)
	}
	if !k.Algorithm.Valid() {
		return VerificationMethod{}, fmt.Errorf("%w: %s", crypto.ErrUnsupportedAlgorithm, k.Algorithm)
	}
	if _, err := crypto.ParsePublicKey(k.Algorithm, k.PublicKey); err != nil {
		return VerificationMethod{}, fmt.Errorf("key %s: %w", k.KeyID, err)
	}

	pub, err := crypto.EncodeMultibase(crypto.Base58BTC, k.PublicKey)
	if err != nil {
		return VerificationMethod{}, err
	}

	authType := k.AuthType
	if authType == 0 {
		authType = AuthTypeFree
	}

	return VerificationMethod{
		ID:                 k.KeyID,
		Type:               k.Algorithm.VerificationKeyType(),
		Controller:         controller,
		PublicKeyMultibase: pub,
		AuthType:           authType,
	}, nil
}

func (d *Document) roleList(role Role) (*[]string, error) {
	switch role {
	case RoleAuthentication:
		return &d.Authentication, nil
	case RoleAssertionMethod:
		return &d.AssertionMethod, nil
	case RoleKeyAgreement:
		return &d.KeyAgreement, nil
	case RoleCapabilityInvocation:
		return &d.CapabilityInvocation, nil
	case RoleCapabilityDelegation:
		return &d.CapabilityDelegation, nil
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
}

func (d *Document) bind(role Role, id string) error {
	list, err := d.roleList(role)
	if err != nil {
		return err
	}
	if !slices.Contains(*list, id) {
		*list = append(*list, id)
	}

	return nil
}

// State reports where the document is in its lifecycle.
func (d *Document) State() State {
	switch {
	case d.persisted:
		return StatePersisted
	case d.Proof == nil:
		return StateDraft
	case d.Proof.ProofValue == "":
		return StateProofSkeleton
	default:
		return StateSealed
	}
}

// Version returns the numeric versionId.
func (d *Document) Version() (uint64, error) {
	v, err := strconv.ParseUint(d.VersionID, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid versionId %q", d.VersionID)
	}

	return v, nil
}

// VerificationMethodByID finds a verification method by id. Fragment-style ids
// are reduced to their key id first.
func (d *Document) VerificationMethodByID(id string) (VerificationMethod, bool) {
	id = model.KeyIDFromFragment(id)
	for _, vm := range d.VerificationMethod {
		if model.KeyIDFromFragment(vm.ID) == id {
			return vm, true
		}
	}

	return VerificationMethod{}, false
}

// HasRole reports whether the verification method id is bound to role.
func (d *Document) HasRole(id string, role Role) bool {
	list, err := d.roleList(role)
	if err != nil {
		return false
	}

	id = model.KeyIDFromFragment(id)

	return slices.ContainsFunc(*list, func(ref string) bool {
		return model.KeyIDFromFragment(ref) == id
	})
}

// FirstVerificationMethod returns the first verification method bound to role.
func (d *Document) FirstVerificationMethod(role Role) (VerificationMethod, error) {
	list, err := d.roleList(role)
	if err != nil {
		return VerificationMethod{}, sdkerr.Wrap(sdkerr.InvalidArgument, "did.FirstVerificationMethod", err)
	}
	for _, ref := range *list {
		if vm, ok := d.VerificationMethodByID(ref); ok {
			return vm, nil
		}
	}

	return VerificationMethod{}, sdkerr.New(sdkerr.KeyNotFound, "did.FirstVerificationMethod",
		"document %s has no %s verification method", d.ID, role)
}

// AssignVersion sets the versionId. An attached proof is rebound to the new
// version and loses its signature.
func (d *Document) AssignVersion(v uint64) error {
	if d.persisted {
		return sdkerr.Wrap(sdkerr.InvalidArgument, "did.AssignVersion", ErrImmutable)
	}
	if v == 0 {
		return sdkerr.New(sdkerr.InvalidArgument, "did.AssignVersion", "version must be positive")
	}

	d.VersionID = strconv.FormatUint(v, 10)
	if d.Proof != nil {
		keyID := model.KeyIDFromFragment(d.Proof.VerificationMethod)
		d.Proof.VerificationMethod = model.BuildVerificationMethodURL(d.ID, d.VersionID, keyID)
		d.Proof.ProofValue = ""
	}

	return nil
}

// AttachProofSkeleton populates every proof field except proofValue, binding
// the proof to the document's current id and version. Any previous proof is
// replaced.
func (d *Document) AttachProofSkeleton(purpose model.ProofPurpose, keyFragment string, now time.Time) error {
	const op = "did.AttachProofSkeleton"

	if d.persisted {
		return sdkerr.Wrap(sdkerr.InvalidArgument, op, ErrImmutable)
	}
	if !purpose.Valid() {
		return sdkerr.New(sdkerr.InvalidArgument, op, "invalid proof purpose %q", purpose)
	}
	if _, err := d.Version(); err != nil {
		return sdkerr.Wrap(sdkerr.InvalidArgument, op, err)
	}

	keyID := model.KeyIDFromFragment(keyFragment)
	vm, ok := d.VerificationMethodByID(keyID)
	if !ok {
		return sdkerr.New(sdkerr.KeyNotFound, op, "verification method %q not found in %s", keyID, d.ID)
	}
	if !d.HasRole(keyID, Role(purpose)) {
		return sdkerr.New(sdkerr.KeyNotFound, op, "verification method %q is not bound to %s", keyID, purpose)
	}

	alg, err := vm.Algorithm()
	if err != nil {
		return sdkerr.Wrap(sdkerr.InvalidArgument, op, err)
	}

	created := model.FormatCreated(now)
	d.Updated = created
	d.Proof = &model.Proof{
		Type:               model.ProofTypeFor(alg),
		Created:            created,
		VerificationMethod: model.BuildVerificationMethodURL(d.ID, d.VersionID, keyID),
		ProofPurpose:       purpose,
	}

	return nil
}

// AttachedProof returns the proof the document owns, or nil.
func (d *Document) AttachedProof() *model.Proof {
	return d.Proof
}

// CanonicalCheck refuses canonicalization while the proof skeleton is
// incomplete or bound to a different id or version.
func (d *Document) CanonicalCheck() error {
	if d.ID == "" {
		return errors.New("document id is not set")
	}
	if _, err := d.Version(); err != nil {
		return err
	}
	if d.Proof == nil {
		return nil
	}
	if err := d.Proof.CheckSkeleton(); err != nil {
		return err
	}

	return d.CheckBinding()
}

// CheckBinding verifies that proof.verificationMethod names this document's id
// and version.
func (d *Document) CheckBinding() error {
	if d.Proof == nil {
		return errors.New("proof is not attached")
	}

	u, err := model.ParseVerificationMethodURL(d.Proof.VerificationMethod)
	if err != nil {
		return err
	}
	if u.DID != d.ID || u.VersionID != d.VersionID {
		return fmt.Errorf("proof is bound to %s version %s, document is %s version %s",
			u.DID, u.VersionID, d.ID, d.VersionID)
	}

	return nil
}

// MarkPersisted moves a sealed document to the Persisted state.
func (d *Document) MarkPersisted() error {
	if d.State() != StateSealed {
		return fmt.Errorf("only a sealed document can be persisted, state is %s", d.State())
	}
	d.persisted = true

	return nil
}

// Clone returns a deep copy in the same state.
func (d *Document) Clone() *Document {
	c := *d
	c.Context = slices.Clone(d.Context)
	c.VerificationMethod = slices.Clone(d.VerificationMethod)
	c.AssertionMethod = slices.Clone(d.AssertionMethod)
	c.Authentication = slices.Clone(d.Authentication)
	c.KeyAgreement = slices.Clone(d.KeyAgreement)
	c.CapabilityInvocation = slices.Clone(d.CapabilityInvocation)
	c.CapabilityDelegation = slices.Clone(d.CapabilityDelegation)
	if d.Service != nil {
		c.Service = make([]Service, len(d.Service))
		for i, s := range d.Service {
			s.ServiceEndpoint = slices.Clone(s.ServiceEndpoint)
			c.Service[i] = s
		}
	}
	if d.Proof != nil {
		p := *d.Proof
		c.Proof = &p
	}

	return &c
}

// Revise returns a Draft copy of the document for a replacement version.
func (d *Document) Revise() *Document {
	c := d.Clone()
	c.Proof = nil
	c.persisted = false

	return c
}

// Algorithm returns the key algorithm of the verification method.
func (vm VerificationMethod) Algorithm() (crypto.Algorithm, error) {
	for _, alg := range []crypto.Algorithm{crypto.SECP256R1, crypto.SECP256K1} {
		if vm.Type == alg.VerificationKeyType() {
			return alg, nil
		}
	}

	return "", fmt.Errorf("unsupported verification method type %q", vm.Type)
}

// PublicKey decodes the multibase public key.
func (vm VerificationMethod) PublicKey() ([]byte, error) {
	return crypto.DecodeMultibase(vm.PublicKeyMultibase)
}
