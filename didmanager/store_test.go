package didmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weticket/go-did-sdk/common/crypto"
	"github.com/weticket/go-did-sdk/common/model"
	"github.com/weticket/go-did-sdk/common/sdkerr"
	"github.com/weticket/go-did-sdk/did"
	"github.com/weticket/go-did-sdk/storage/sqlite"
)

var fixedNow = time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	db, err := sqlite.Open(ctx, sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(ctx, db, DefaultNamespace)
	require.NoError(t, err)

	return s
}

// sealedDocument builds a document bound to version and stamps a placeholder
// signature; the store does not verify signatures.
func sealedDocument(t *testing.T, id string, version uint64) *did.Document {
	t.Helper()

	priv, err := crypto.GenerateKey(crypto.SECP256R1)
	require.NoError(t, err)
	pub, err := crypto.CompressPublicKey(crypto.SECP256R1, &priv.PublicKey)
	require.NoError(t, err)

	doc, err := did.CreateDocument(id, []did.KeyBinding{{
		KeyID:     "k1",
		Algorithm: crypto.SECP256R1,
		PublicKey: pub,
		AuthType:  did.AuthTypeBiometric,
		Roles:     []did.Role{did.RoleAuthentication, did.RoleAssertionMethod},
	}}, did.WithTimestamp(fixedNow))
	require.NoError(t, err)
	require.NoError(t, doc.AssignVersion(version))
	require.NoError(t, doc.AttachProofSkeleton(model.PurposeAssertionMethod, "k1", fixedNow))
	doc.Proof.ProofValue = "z5sig"

	return doc
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	next, err := s.NextVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)

	doc := sealedDocument(t, "did:weticket:first", next)
	require.NoError(t, s.Save(ctx, doc))
	assert.Equal(t, did.StatePersisted, doc.State())

	saved, err := s.IsSaved(ctx)
	require.NoError(t, err)
	assert.True(t, saved)

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, did.StatePersisted, loaded.State())
	assert.Equal(t, doc.ID, loaded.ID)
	assert.Equal(t, "1", loaded.VersionID)
	assert.Equal(t, doc.Proof, loaded.Proof)
	assert.Equal(t, doc.VerificationMethod, loaded.VerificationMethod)

	next, err = s.NextVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)
}

func TestSaveReplacesWholeDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Save(ctx, sealedDocument(t, "did:weticket:first", 1)))

	second := sealedDocument(t, "did:weticket:second", 2)
	second.Service = []did.Service{{ID: "#s", Type: "TicketService", ServiceEndpoint: []string{"https://a"}}}
	require.NoError(t, s.Save(ctx, second))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "did:weticket:second", loaded.ID)
	assert.Equal(t, "2", loaded.VersionID)
	assert.Equal(t, second.Service, loaded.Service)
}

func TestVersionSurvivesDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Save(ctx, sealedDocument(t, "did:weticket:first", 1)))
	require.NoError(t, s.Delete(ctx))

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, sdkerr.DocumentNotFound)
	assert.ErrorIs(t, s.Delete(ctx), sdkerr.DocumentNotFound)

	saved, err := s.IsSaved(ctx)
	require.NoError(t, err)
	assert.False(t, saved)

	next, err := s.NextVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)
}

func TestSaveRejects(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Save(ctx, sealedDocument(t, "did:weticket:first", 1)))

	stale := sealedDocument(t, "did:weticket:stale", 1)
	unsealed := sealedDocument(t, "did:weticket:unsealed", 2)
	unsealed.Proof.ProofValue = ""
	unbound := sealedDocument(t, "did:weticket:unbound", 2)
	unbound.Proof.VerificationMethod = "did:weticket:other?versionId=2#k1"
	badShape := sealedDocument(t, "did:weticket:shape", 2)
	badShape.VerificationMethod[0].PublicKeyMultibase = "f00"

	tests := []struct {
		name string
		doc  *did.Document
	}{
		{name: "nil"},
		{name: "stale version", doc: stale},
		{name: "unsealed", doc: unsealed},
		{name: "unbound proof", doc: unbound},
		{name: "schema", doc: badShape},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Save(ctx, tt.doc)
			assert.ErrorIs(t, err, sdkerr.PersistenceFailed)
		})
	}

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "did:weticket:first", loaded.ID, "failed saves leave the prior document")

	require.Error(t, s.Save(ctx, loaded), "a persisted document cannot be saved again")
}

func TestLoadRejectsCorruptRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO did_documents (namespace, did, version, document, updated_at) VALUES (?, 'x', 1, '{"id":"x"}', 0)`,
		s.namespace)
	require.NoError(t, err)

	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, sdkerr.PersistenceFailed)
}

func TestNamespacesAreIndependent(t *testing.T) {
	ctx := context.Background()
	a := newTestStore(t)
	b, err := NewStore(ctx, a.db, "other_did")
	require.NoError(t, err)

	require.NoError(t, a.Save(ctx, sealedDocument(t, "did:weticket:a", 1)))

	_, err = b.Load(ctx)
	assert.ErrorIs(t, err, sdkerr.DocumentNotFound)
	next, err := b.NextVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)
}
