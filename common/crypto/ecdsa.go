// Package crypto holds the pure cryptographic helpers of the SDK: digests,
// multibase encoding, public key compression and signature verification for
// the two supported curves.
package crypto

import (
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// Algorithm is a key algorithm supported by key custody.
type Algorithm string

// Supported algorithms.
const (
	SECP256R1 Algorithm = "SECP256R1"
	SECP256K1 Algorithm = "SECP256K1"
)

// SignatureSize is the length of an r||s signature.
const SignatureSize = 2 * scalarSize

const (
	scalarSize     = 32
	compressedSize = 33
)

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported key algorithm")
	ErrInvalidPublicKey     = errors.New("invalid public key")
	ErrInvalidSignature     = errors.New("invalid signature encoding")
	ErrInvalidDigest        = errors.New("digest must be 32 bytes")
)

// Valid reports whether a is a supported algorithm.
func (a Algorithm) Valid() bool {
	return a == SECP256R1 || a == SECP256K1
}

// VerificationKeyType is the verification method type published for keys of
// this algorithm.
func (a Algorithm) VerificationKeyType() string {
	switch a {
	case SECP256K1:
		return "Secp256k1VerificationKey2018"
	default:
		return "Secp256r1VerificationKey2018"
	}
}

// GenerateKey creates a new private key on the algorithm's curve.
func GenerateKey(alg Algorithm) (*ecdsa.PrivateKey, error) {
	switch alg {
	case SECP256R1:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case SECP256K1:
		return ethcrypto.GenerateKey()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
}

// PrivateKeyFromScalar rebuilds a private key from its 32-byte scalar.
func PrivateKeyFromScalar(alg Algorithm, d []byte) (*ecdsa.PrivateKey, error) {
	switch alg {
	case SECP256R1:
		if len(d) != scalarSize {
			return nil, fmt.Errorf("private scalar must be %d bytes, got %d", scalarSize, len(d))
		}
		curve := elliptic.P256()
		k := new(big.Int).SetBytes(d)
		if k.Sign() == 0 || k.Cmp(curve.Params().N) >= 0 {
			return nil, errors.New("private scalar out of range")
		}
		priv := &ecdsa.PrivateKey{D: k}
		priv.PublicKey.Curve = curve
		priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(d)

		return priv, nil
	case SECP256K1:
		return ethcrypto.ToECDSA(d)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
}

// CompressPublicKey returns the 33-byte SEC1 compressed form of pub.
func CompressPublicKey(alg Algorithm, pub *ecdsa.PublicKey) ([]byte, error) {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil, ErrInvalidPublicKey
	}

	switch alg {
	case SECP256R1:
		return elliptic.MarshalCompressed(elliptic.P256(), pub.X, pub.Y), nil
	case SECP256K1:
		return ethcrypto.CompressPubkey(pub), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
}

// ParsePublicKey parses a compressed or uncompressed SEC1 point.
func ParsePublicKey(alg Algorithm, raw []byte) (*ecdsa.PublicKey, error) {
	switch alg {
	case SECP256R1:
		curve := elliptic.P256()
		var x, y *big.Int
		if len(raw) == compressedSize {
			x, y = elliptic.UnmarshalCompressed(curve, raw)
		} else {
			x, y = elliptic.Unmarshal(curve, raw) //nolint:staticcheck
		}
		if x == nil {
			return nil, ErrInvalidPublicKey
		}

		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	case SECP256K1:
		pub, err := btcec.ParsePubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}

		return ethcrypto.UnmarshalPubkey(pub.SerializeUncompressed())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
}

// SignDigest signs a 32-byte digest and returns the 64-byte r||s signature.
// Nonces are deterministic for both curves, so equal inputs give equal
// signatures. P-256 signatures are normalized to low-S.
func SignDigest(alg Algorithm, priv *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	if len(digest) != DigestSize {
		return nil, ErrInvalidDigest
	}

	switch alg {
	case SECP256R1:
		// a nil rand selects RFC 6979 deterministic nonces
		der, err := priv.Sign(nil, digest, stdcrypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("ecdsa: sign: %w", err)
		}

		return DERToRaw(alg, der)
	case SECP256K1:
		sig, err := ethcrypto.Sign(digest, priv)
		if err != nil {
			return nil, fmt.Errorf("ecdsa: sign: %w", err)
		}

		// drop the recovery byte
		return sig[:SignatureSize], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
}

// Verify checks a 64-byte r||s signature over digest against a SEC1 public key.
func Verify(alg Algorithm, publicKey, digest, signature []byte) (bool, error) {
	if len(digest) != DigestSize {
		return false, ErrInvalidDigest
	}
	if len(signature) == SignatureSize+1 {
		signature = signature[:SignatureSize]
	}
	if len(signature) != SignatureSize {
		return false, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSignature, len(signature), SignatureSize)
	}

	pub, err := ParsePublicKey(alg, publicKey)
	if err != nil {
		return false, err
	}

	switch alg {
	case SECP256R1:
		r := new(big.Int).SetBytes(signature[:scalarSize])
		s := new(big.Int).SetBytes(signature[scalarSize:])

		return ecdsa.Verify(pub, digest, r, s), nil
	default:
		return ethcrypto.VerifySignature(ethcrypto.CompressPubkey(pub), digest, signature), nil
	}
}

// DERToRaw converts an ASN.1 DER ECDSA signature into 64-byte low-S r||s.
func DERToRaw(alg Algorithm, der []byte) ([]byte, error) {
	var (
		r, s  = new(big.Int), new(big.Int)
		inner cryptobyte.String
	)

	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, ErrInvalidSignature
	}

	switch alg {
	case SECP256R1:
		return rawSignature(elliptic.P256(), r, s), nil
	case SECP256K1:
		return rawSignature(btcec.S256(), r, s), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
}

func rawSignature(curve elliptic.Curve, r, s *big.Int) []byte {
	n := curve.Params().N
	halfN := new(big.Int).Rsh(n, 1)
	if s.Cmp(halfN) > 0 {
		s = new(big.Int).Sub(n, s)
	}

	out := make([]byte, SignatureSize)
	r.FillBytes(out[:scalarSize])
	s.FillBytes(out[scalarSize:])

	return out
}
