// Package kmsstore keeps P-256 keys in AWS KMS. A custody key id maps to the
// KMS alias <prefix><keyId>; the private key never leaves KMS.
package kmsstore

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/rs/zerolog"

	"github.com/weticket/go-did-sdk/common/crypto"
	"github.com/weticket/go-did-sdk/common/sdkerr"
)

// BackendName is the name the store registers under in the key index.
const BackendName = "kms"

// DefaultAliasPrefix is prepended to key ids to form KMS aliases.
const DefaultAliasPrefix = "alias/"

const pendingWindowDays = 7

// Client is the subset of the KMS API the store uses.
type Client interface {
	CreateKey(ctx context.Context, in *kms.CreateKeyInput, opts ...func(*kms.Options)) (*kms.CreateKeyOutput, error)
	CreateAlias(ctx context.Context, in *kms.CreateAliasInput, opts ...func(*kms.Options)) (*kms.CreateAliasOutput, error)
	DescribeKey(ctx context.Context, in *kms.DescribeKeyInput, opts ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
	GetPublicKey(ctx context.Context, in *kms.GetPublicKeyInput, opts ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, in *kms.SignInput, opts ...func(*kms.Options)) (*kms.SignOutput, error)
	DeleteAlias(ctx context.Context, in *kms.DeleteAliasInput, opts ...func(*kms.Options)) (*kms.DeleteAliasOutput, error)
	ScheduleKeyDeletion(ctx context.Context, in *kms.ScheduleKeyDeletionInput, opts ...func(*kms.Options)) (*kms.ScheduleKeyDeletionOutput, error)
}

// Store implements keymanager.Backend on AWS KMS.
type Store struct {
	client      Client
	aliasPrefix string
	logger      zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithAliasPrefix overrides DefaultAliasPrefix.
func WithAliasPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.aliasPrefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New returns a Store over client.
func New(client Client, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("KMS client required")
	}

	s := &Store{client: client, aliasPrefix: DefaultAliasPrefix, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if !strings.HasPrefix(s.aliasPrefix, "alias/") {
		return nil, fmt.Errorf("alias prefix %q must start with alias/", s.aliasPrefix)
	}

	return s, nil
}

// NewFromRegion loads the default AWS configuration for region and returns a
// Store over a real KMS client.
func NewFromRegion(ctx context.Context, region string, opts ...Option) (*Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return New(kms.NewFromConfig(awsCfg), opts...)
}

// Name implements keymanager.Backend.
func (s *Store) Name() string {
	return BackendName
}

// Supports implements keymanager.Backend. KMS keys are P-256 only.
func (s *Store) Supports(alg crypto.Algorithm) bool {
	return alg == crypto.SECP256R1
}

func (s *Store) alias(keyID string) string {
	return s.aliasPrefix + keyID
}

// Generate creates a KMS signing key, names it with the key id alias and
// returns its compressed public key.
func (s *Store) Generate(ctx context.Context, keyID string, alg crypto.Algorithm) ([]byte, error) {
	if !s.Supports(alg) {
		return nil, fmt.Errorf("%w: %s", crypto.ErrUnsupportedAlgorithm, alg)
	}

	created, err := s.client.CreateKey(ctx, &kms.CreateKeyInput{
		KeySpec:     types.KeySpecEccNistP256,
		KeyUsage:    types.KeyUsageTypeSignVerify,
		Description: aws.String("DID key " + keyID),
		Tags: []types.Tag{{
			TagKey:   aws.String("weticket:keyId"),
			TagValue: aws.String(keyID),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("KMS create key failed: %w", err)
	}
	if created.KeyMetadata == nil || created.KeyMetadata.KeyId == nil {
		return nil, errors.New("KMS create key returned no key id")
	}
	kmsKeyID := *created.KeyMetadata.KeyId

	if _, err := s.client.CreateAlias(ctx, &kms.CreateAliasInput{
		AliasName:   aws.String(s.alias(keyID)),
		TargetKeyId: aws.String(kmsKeyID),
	}); err != nil {
		s.scheduleDeletion(ctx, kmsKeyID)
		return nil, fmt.Errorf("KMS create alias %s failed: %w", s.alias(keyID), err)
	}

	out, err := s.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(kmsKeyID)})
	if err != nil {
		s.discard(ctx, keyID, kmsKeyID)
		return nil, fmt.Errorf("KMS get public key failed: %w", err)
	}

	parsed, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		s.discard(ctx, keyID, kmsKeyID)
		return nil, fmt.Errorf("KMS returned an unparsable public key: %w", err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		s.discard(ctx, keyID, kmsKeyID)
		return nil, fmt.Errorf("KMS returned a %T public key", parsed)
	}

	s.logger.Debug().Str("key_id", keyID).Str("kms_key_id", kmsKeyID).Msg("KMS key created")

	return crypto.CompressPublicKey(alg, pub)
}

// Sign signs a digest in KMS and converts the DER signature to r||s.
func (s *Store) Sign(ctx context.Context, keyID string, alg crypto.Algorithm, digest []byte) ([]byte, error) {
	out, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.alias(keyID)),
		Message:          digest,
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: types.SigningAlgorithmSpecEcdsaSha256,
	})
	if err != nil {
		return nil, classify("kmsstore.Sign", sdkerr.SignFailed, err)
	}

	return crypto.DERToRaw(alg, out.Signature)
}

// Delete removes the alias and schedules the key for deletion.
func (s *Store) Delete(ctx context.Context, keyID string) error {
	desc, err := s.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(s.alias(keyID))})
	if err != nil {
		return classify("kmsstore.Delete", sdkerr.PersistenceFailed, err)
	}

	if _, err := s.client.DeleteAlias(ctx, &kms.DeleteAliasInput{AliasName: aws.String(s.alias(keyID))}); err != nil {
		return classify("kmsstore.Delete", sdkerr.PersistenceFailed, err)
	}

	if desc.KeyMetadata != nil && desc.KeyMetadata.KeyId != nil {
		s.scheduleDeletion(ctx, *desc.KeyMetadata.KeyId)
	}

	return nil
}

// discard undoes a half-finished Generate.
func (s *Store) discard(ctx context.Context, keyID, kmsKeyID string) {
	if _, err := s.client.DeleteAlias(ctx, &kms.DeleteAliasInput{AliasName: aws.String(s.alias(keyID))}); err != nil {
		s.logger.Warn().Err(err).Str("key_id", keyID).Msg("failed to delete KMS alias")
	}
	s.scheduleDeletion(ctx, kmsKeyID)
}

func (s *Store) scheduleDeletion(ctx context.Context, kmsKeyID string) {
	_, err := s.client.ScheduleKeyDeletion(ctx, &kms.ScheduleKeyDeletionInput{
		KeyId:               aws.String(kmsKeyID),
		PendingWindowInDays: aws.Int32(pendingWindowDays),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("kms_key_id", kmsKeyID).Msg("failed to schedule KMS key deletion")
	}
}

func classify(op string, kind sdkerr.Kind, err error) error {
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return sdkerr.Wrap(sdkerr.KeyNotFound, op, err)
	}

	return sdkerr.Wrap(kind, op, err)
}
