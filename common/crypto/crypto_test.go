package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest(t *testing.T) {
	got := Digest([]byte("abc"))
	assert.Len(t, got, DigestSize)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hex.EncodeToString(got))
}

func TestMultibaseRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{0x00},
		{0x00, 0x00, 0x01},
		[]byte("signature bytes"),
		bytes.Repeat([]byte{0xff}, 65),
	}

	for _, enc := range []Encoding{Base58BTC, Base64URL, Base16} {
		for _, in := range inputs {
			s, err := EncodeMultibase(enc, in)
			require.NoError(t, err)

			gotEnc, out, err := DecodeMultibaseWithEncoding(s)
			require.NoError(t, err)
			assert.Equal(t, enc, gotEnc)
			assert.Equal(t, in, out)
		}
	}
}

func TestMultibaseRandomRoundTrip(t *testing.T) {
	for i := 1; i <= 64; i++ {
		in := make([]byte, i)
		_, err := rand.Read(in)
		require.NoError(t, err)

		s, err := EncodeMultibase(Base58BTC, in)
		require.NoError(t, err)
		assert.Equal(t, byte('z'), s[0])

		out, err := DecodeMultibase(s)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestMultibaseErrors(t *testing.T) {
	_, err := EncodeMultibase(Base58BTC, nil)
	assert.Error(t, err)

	_, err = DecodeMultibase("z")
	assert.Error(t, err)

	_, err = DecodeMultibase("z0OIl")
	assert.Error(t, err, "0, O, I and l are not in the bitcoin alphabet")
}

func TestSignVerifyRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{SECP256R1, SECP256K1} {
		t.Run(string(alg), func(t *testing.T) {
			priv, err := GenerateKey(alg)
			require.NoError(t, err)

			pub, err := CompressPublicKey(alg, &priv.PublicKey)
			require.NoError(t, err)
			assert.Len(t, pub, 33)

			for i := 0; i < 16; i++ {
				digest := Digest([]byte{byte(i), 'x'})
				sig, err := SignDigest(alg, priv, digest)
				require.NoError(t, err)
				assert.Len(t, sig, 64)

				ok, err := Verify(alg, pub, digest, sig)
				require.NoError(t, err)
				assert.True(t, ok)

				other := Digest([]byte{byte(i), 'y'})
				ok, err = Verify(alg, pub, other, sig)
				require.NoError(t, err)
				assert.False(t, ok)
			}
		})
	}
}

func TestPrivateKeyFromScalar(t *testing.T) {
	for _, alg := range []Algorithm{SECP256R1, SECP256K1} {
		t.Run(string(alg), func(t *testing.T) {
			priv, err := GenerateKey(alg)
			require.NoError(t, err)

			d := make([]byte, 32)
			priv.D.FillBytes(d)

			restored, err := PrivateKeyFromScalar(alg, d)
			require.NoError(t, err)
			assert.Equal(t, 0, priv.PublicKey.X.Cmp(restored.PublicKey.X))
			assert.Equal(t, 0, priv.PublicKey.Y.Cmp(restored.PublicKey.Y))
		})
	}

	_, err := PrivateKeyFromScalar(SECP256R1, make([]byte, 32))
	assert.Error(t, err)
	_, err = PrivateKeyFromScalar(SECP256R1, []byte{1})
	assert.Error(t, err)
	_, err = PrivateKeyFromScalar("ED25519", make([]byte, 32))
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	for _, alg := range []Algorithm{SECP256R1, SECP256K1} {
		_, err := ParsePublicKey(alg, []byte{0x02, 0x01})
		assert.Error(t, err)
	}
}

func TestVerifyInputValidation(t *testing.T) {
	priv, err := GenerateKey(SECP256R1)
	require.NoError(t, err)
	pub, err := CompressPublicKey(SECP256R1, &priv.PublicKey)
	require.NoError(t, err)

	_, err = Verify(SECP256R1, pub, []byte("short"), make([]byte, 64))
	assert.ErrorIs(t, err, ErrInvalidDigest)

	_, err = Verify(SECP256R1, pub, Digest(nil), make([]byte, 10))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = SignDigest(SECP256R1, priv, []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidDigest)
}

func TestDERToRaw(t *testing.T) {
	priv, err := GenerateKey(SECP256R1)
	require.NoError(t, err)
	pub, err := CompressPublicKey(SECP256R1, &priv.PublicKey)
	require.NoError(t, err)

	digest := Digest([]byte("kms"))
	der, err := ecdsa.SignASN1(rand.Reader, priv, digest)
	require.NoError(t, err)

	raw, err := DERToRaw(SECP256R1, der)
	require.NoError(t, err)
	assert.Len(t, raw, 64)

	ok, err := Verify(SECP256R1, pub, digest, raw)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = DERToRaw(SECP256R1, []byte{0x30, 0x01})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSignDigestDeterministic(t *testing.T) {
	for _, alg := range []Algorithm{SECP256R1, SECP256K1} {
		priv, err := GenerateKey(alg)
		require.NoError(t, err)

		digest := Digest([]byte("same input"))
		a, err := SignDigest(alg, priv, digest)
		require.NoError(t, err)
		b, err := SignDigest(alg, priv, digest)
		require.NoError(t, err)
		assert.Equal(t, a, b, alg)
	}
}

func TestSignDigestP256VerifiesWithStdlib(t *testing.T) {
	priv, err := GenerateKey(SECP256R1)
	require.NoError(t, err)

	for _, msg := range []string{"abc", "", "weticket"} {
		digest := Digest([]byte(msg))
		sig, err := SignDigest(SECP256R1, priv, digest)
		require.NoError(t, err, msg)
		require.Len(t, sig, 64)

		r := new(big.Int).SetBytes(sig[:32])
		s := new(big.Int).SetBytes(sig[32:])
		assert.True(t, ecdsa.Verify(&priv.PublicKey, digest, r, s), msg)
	}
}
