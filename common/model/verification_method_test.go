package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerificationMethodURLRoundTrip(t *testing.T) {
	raw := BuildVerificationMethodURL("did:weticket:7Zq", "3", "weticket_key_1760688000000000000")
	assert.Equal(t, "did:weticket:7Zq?versionId=3#weticket_key_1760688000000000000", raw)

	u, err := ParseVerificationMethodURL(raw)
	require.NoError(t, err)
	assert.Equal(t, VerificationMethodURL{
		DID:       "did:weticket:7Zq",
		VersionID: "3",
		KeyID:     "weticket_key_1760688000000000000",
	}, u)
	assert.Equal(t, raw, u.String())
}

func TestParseVerificationMethodURLErrors(t *testing.T) {
	tests := []string{
		"",
		"did:weticket:7Zq",
		"did:weticket:7Zq#k1",
		"did:weticket:7Zq?versionId=#k1",
		"did:weticket:7Zq?versionId=1#",
		"?versionId=1#k1",
	}

	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := ParseVerificationMethodURL(in)
			assert.Error(t, err)
		})
	}
}

func TestKeyIDFromFragment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "k1", want: "k1"},
		{in: "did:weticket:abc#k1", want: "k1"},
		{in: "did:weticket:abc?versionId=2#k1", want: "k1"},
		{in: "did:weticket:abc#outer#k2", want: "k2"},
		{in: "did:weticket:abc#", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyIDFromFragment(tt.in))
		})
	}
}
