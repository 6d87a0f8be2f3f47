package did

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weticket/go-did-sdk/common/crypto"
	"github.com/weticket/go-did-sdk/common/jsoncanonicalizer"
	"github.com/weticket/go-did-sdk/common/model"
	"github.com/weticket/go-did-sdk/common/sdkerr"
)

var fixedNow = time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)

func testKey(t *testing.T, alg crypto.Algorithm, id string, roles ...Role) KeyBinding {
	t.Helper()

	priv, err := crypto.GenerateKey(alg)
	require.NoError(t, err)
	pub, err := crypto.CompressPublicKey(alg, &priv.PublicKey)
	require.NoError(t, err)

	return KeyBinding{KeyID: id, Algorithm: alg, PublicKey: pub, AuthType: AuthTypeBiometric, Roles: roles}
}

func testDocument(t *testing.T) *Document {
	t.Helper()

	doc, err := CreateDocument("did:weticket:7ZqA",
		[]KeyBinding{testKey(t, crypto.SECP256R1, "k1", RoleAuthentication, RoleAssertionMethod)},
		WithTimestamp(fixedNow))
	require.NoError(t, err)

	return doc
}

func TestGenDID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id, err := GenDID(DefaultMethod)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(id, "did:weticket:"))

		method, suffix, err := SplitDID(id)
		require.NoError(t, err)
		assert.Equal(t, DefaultMethod, method)

		raw, err := base58.Decode(suffix)
		require.NoError(t, err)
		assert.Len(t, raw, suffixSize)

		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestGenDIDDeterministicReader(t *testing.T) {
	g, err := NewDIDGenerator("weticket")
	require.NoError(t, err)
	g.rand = bytes.NewReader(make([]byte, suffixSize))

	id, err := g.GenerateDID()
	require.NoError(t, err)
	assert.Equal(t, "did:weticket:"+strings.Repeat("1", suffixSize), id)

	_, err = g.GenerateDID()
	assert.Error(t, err, "reader is exhausted")
}

func TestGenDIDRejectsBadMethod(t *testing.T) {
	for _, m := range []string{"", "We Ticket", "a:b"} {
		_, err := GenDID(m)
		assert.Error(t, err, m)
	}
}

func TestCreateDocumentDefaults(t *testing.T) {
	doc := testDocument(t)

	assert.Equal(t, []string{ContextV1}, doc.Context)
	assert.Equal(t, doc.ID, doc.Controller)
	assert.Equal(t, "1", doc.VersionID)
	assert.Equal(t, "2026-10-17T08:00:00Z", doc.Created)
	assert.Equal(t, []string{"k1"}, doc.Authentication)
	assert.Equal(t, []string{"k1"}, doc.AssertionMethod)
	assert.Equal(t, StateDraft, doc.State())

	require.Len(t, doc.VerificationMethod, 1)
	vm := doc.VerificationMethod[0]
	assert.Equal(t, "Secp256r1VerificationKey2018", vm.Type)
	assert.Equal(t, doc.ID, vm.Controller)
	assert.Equal(t, AuthTypeBiometric, vm.AuthType)
	assert.Equal(t, byte('z'), vm.PublicKeyMultibase[0])

	pub, err := vm.PublicKey()
	require.NoError(t, err)
	assert.Len(t, pub, 33)
}

func TestCreateDocumentOptions(t *testing.T) {
	svc := Service{ID: "#ticketing", Type: "TicketService", ServiceEndpoint: []string{"https://api.weticket.example"}}
	doc, err := CreateDocument("did:weticket:7ZqA",
		[]KeyBinding{testKey(t, crypto.SECP256K1, "k1", RoleAssertionMethod)},
		WithController("did:weticket:owner"),
		WithServices(svc))
	require.NoError(t, err)

	assert.Equal(t, "did:weticket:owner", doc.Controller)
	assert.Equal(t, "did:weticket:owner", doc.VerificationMethod[0].Controller)
	assert.Equal(t, "Secp256k1VerificationKey2018", doc.VerificationMethod[0].Type)
	assert.Equal(t, []Service{svc}, doc.Service)
	assert.Empty(t, doc.Authentication)
}

func TestCreateDocumentErrors(t *testing.T) {
	good := testKey(t, crypto.SECP256R1, "k1", RoleAuthentication)
	badPub := good
	badPub.PublicKey = []byte{0x02, 0x01}
	badID := good
	badID.KeyID = "k#1"
	badRole := good
	badRole.Roles = []Role{"owner"}

	tests := []struct {
		name string
		did  string
		keys []KeyBinding
	}{
		{name: "bad did", did: "weticket:abc", keys: []KeyBinding{good}},
		{name: "no keys", did: "did:weticket:abc"},
		{name: "bad public key", did: "did:weticket:abc", keys: []KeyBinding{badPub}},
		{name: "bad key id", did: "did:weticket:abc", keys: []KeyBinding{badID}},
		{name: "bad role", did: "did:weticket:abc", keys: []KeyBinding{badRole}},
		{name: "duplicate", did: "did:weticket:abc", keys: []KeyBinding{good, good}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateDocument(tt.did, tt.keys)
			require.Error(t, err)
			assert.ErrorIs(t, err, sdkerr.InvalidArgument)
		})
	}
}

func TestAttachProofSkeleton(t *testing.T) {
	doc := testDocument(t)
	require.NoError(t, doc.AssignVersion(3))

	err := doc.AttachProofSkeleton(model.PurposeAssertionMethod, "k1", fixedNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StateProofSkeleton, doc.State())

	p := doc.AttachedProof()
	require.NotNil(t, p)
	assert.Equal(t, model.Secp256r1Signature2018, p.Type)
	assert.Equal(t, "2026-10-17T08:01:00Z", p.Created)
	assert.Equal(t, "did:weticket:7ZqA?versionId=3#k1", p.VerificationMethod)
	assert.Equal(t, model.PurposeAssertionMethod, p.ProofPurpose)
	assert.Empty(t, p.ProofValue)
	assert.Equal(t, p.Created, doc.Updated)
	assert.NoError(t, doc.CanonicalCheck())
}

func TestAttachProofSkeletonAcceptsFragment(t *testing.T) {
	doc := testDocument(t)

	require.NoError(t, doc.AttachProofSkeleton(model.PurposeAuthentication, "did:weticket:7ZqA#k1", fixedNow))
	assert.Equal(t, "did:weticket:7ZqA?versionId=1#k1", doc.Proof.VerificationMethod)
}

func TestAttachProofSkeletonErrors(t *testing.T) {
	doc, err := CreateDocument("did:weticket:7ZqA",
		[]KeyBinding{testKey(t, crypto.SECP256R1, "k1", RoleAuthentication)})
	require.NoError(t, err)

	err = doc.AttachProofSkeleton(model.PurposeAssertionMethod, "k1", fixedNow)
	assert.ErrorIs(t, err, sdkerr.KeyNotFound, "k1 is not an assertion method")

	err = doc.AttachProofSkeleton(model.PurposeAuthentication, "k2", fixedNow)
	assert.ErrorIs(t, err, sdkerr.KeyNotFound)

	err = doc.AttachProofSkeleton("keyAgreement", "k1", fixedNow)
	assert.ErrorIs(t, err, sdkerr.InvalidArgument)

	assert.Equal(t, StateDraft, doc.State())
}

func TestAssignVersionRebindsProof(t *testing.T) {
	doc := testDocument(t)
	require.NoError(t, doc.AttachProofSkeleton(model.PurposeAssertionMethod, "k1", fixedNow))
	doc.Proof.ProofValue = "zSig"
	assert.Equal(t, StateSealed, doc.State())

	require.NoError(t, doc.AssignVersion(7))
	assert.Equal(t, "7", doc.VersionID)
	assert.Equal(t, "did:weticket:7ZqA?versionId=7#k1", doc.Proof.VerificationMethod)
	assert.Empty(t, doc.Proof.ProofValue)
	assert.Equal(t, StateProofSkeleton, doc.State())
	assert.NoError(t, doc.CheckBinding())

	assert.ErrorIs(t, doc.AssignVersion(0), sdkerr.InvalidArgument)
}

func TestCanonicalCheckRejectsStaleBinding(t *testing.T) {
	doc := testDocument(t)
	require.NoError(t, doc.AttachProofSkeleton(model.PurposeAssertionMethod, "k1", fixedNow))
	doc.VersionID = "2"

	_, err := jsoncanonicalizer.Canonicalize(doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, sdkerr.CanonicalizationFailed)

	doc.VersionID = "1"
	doc.Proof.Created = ""
	_, err = jsoncanonicalizer.Canonicalize(doc)
	assert.ErrorIs(t, err, sdkerr.CanonicalizationFailed)
}

func TestPersistedIsImmutable(t *testing.T) {
	doc := testDocument(t)
	assert.Error(t, doc.MarkPersisted(), "draft cannot be persisted")

	require.NoError(t, doc.AttachProofSkeleton(model.PurposeAssertionMethod, "k1", fixedNow))
	doc.Proof.ProofValue = "zSig"
	require.NoError(t, doc.MarkPersisted())
	assert.Equal(t, StatePersisted, doc.State())

	assert.ErrorIs(t, doc.AssignVersion(2), ErrImmutable)
	assert.ErrorIs(t, doc.AttachProofSkeleton(model.PurposeAssertionMethod, "k1", fixedNow), ErrImmutable)

	draft := doc.Revise()
	assert.Equal(t, StateDraft, draft.State())
	assert.Equal(t, StatePersisted, doc.State())
	require.NoError(t, draft.AssignVersion(2))
	assert.Equal(t, "1", doc.VersionID)
}

func TestCloneIsDeep(t *testing.T) {
	doc := testDocument(t)
	doc.Service = []Service{{ID: "#s", Type: "T", ServiceEndpoint: []string{"https://a"}}}
	require.NoError(t, doc.AttachProofSkeleton(model.PurposeAssertionMethod, "k1", fixedNow))

	c := doc.Clone()
	c.Authentication[0] = "changed"
	c.Service[0].ServiceEndpoint[0] = "https://b"
	c.Proof.Created = "changed"

	assert.Equal(t, "k1", doc.Authentication[0])
	assert.Equal(t, "https://a", doc.Service[0].ServiceEndpoint[0])
	assert.Equal(t, "2026-10-17T08:00:00Z", doc.Proof.Created)
}

func TestDocumentWireShape(t *testing.T) {
	doc := testDocument(t)
	require.NoError(t, doc.AttachProofSkeleton(model.PurposeAssertionMethod, "k1", fixedNow))

	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	for _, field := range []string{"@context", "id", "controller", "created", "updated", "versionId",
		"deactivated", "verificationMethod", "assertionMethod", "authentication", "proof"} {
		assert.Contains(t, m, field)
	}
	for _, field := range []string{"keyAgreement", "service", "persisted"} {
		assert.NotContains(t, m, field)
	}
	assert.NotContains(t, m["proof"], "proofValue")
}

func TestFirstVerificationMethod(t *testing.T) {
	doc, err := CreateDocument("did:weticket:7ZqA", []KeyBinding{
		testKey(t, crypto.SECP256R1, "k1", RoleAssertionMethod),
		testKey(t, crypto.SECP256R1, "k2", RoleAuthentication),
		testKey(t, crypto.SECP256K1, "k3", RoleAuthentication),
	})
	require.NoError(t, err)

	vm, err := doc.FirstVerificationMethod(RoleAuthentication)
	require.NoError(t, err)
	assert.Equal(t, "k2", vm.ID)

	_, err = doc.FirstVerificationMethod(RoleKeyAgreement)
	assert.ErrorIs(t, err, sdkerr.KeyNotFound)

	alg, err := doc.VerificationMethod[2].Algorithm()
	require.NoError(t, err)
	assert.Equal(t, crypto.SECP256K1, alg)
}
