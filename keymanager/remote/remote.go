// Package remote is a keymanager backend that keeps keys in a remote keystore
// service reached over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/weticket/go-did-sdk/common/crypto"
	"github.com/weticket/go-did-sdk/common/sdkerr"
)

// BackendName is the name the keystore registers under in the key index.
const BackendName = "remote"

// DefaultTimeout bounds every request.
const DefaultTimeout = 10 * time.Second

// Keystore is a keymanager backend over the remote keystore API.
type Keystore struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   zerolog.Logger
}

// Option configures a Keystore.
type Option func(*Keystore)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) Option {
	return func(k *Keystore) {
		if c != nil {
			k.client = c
		}
	}
}

// WithTimeout sets the request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(k *Keystore) {
		if d > 0 {
			k.client.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(k *Keystore) {
		k.logger = l
	}
}

// New creates a Keystore for endpoint. apiKey, when set, is sent as x-api-key.
func New(endpoint, apiKey string, opts ...Option) (*Keystore, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("endpoint required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	k := &Keystore{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(k)
	}

	return k, nil
}

// Name implements keymanager.Backend.
func (k *Keystore) Name() string {
	return BackendName
}

// Supports implements keymanager.Backend.
func (k *Keystore) Supports(alg crypto.Algorithm) bool {
	return alg.Valid()
}

// Generate asks the keystore to create a key.
func (k *Keystore) Generate(ctx context.Context, keyID string, alg crypto.Algorithm) ([]byte, error) {
	var out struct {
		PublicKeyHex string `json:"publicKeyHex"`
	}
	err := k.do(ctx, http.MethodPost, "/keys", map[string]any{
		"keyId":     keyID,
		"algorithm": string(alg),
	}, &out)
	if err != nil {
		return nil, err
	}

	pub, err := hex.DecodeString(strings.TrimPrefix(out.PublicKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}

	// normalize an uncompressed point
	parsed, err := crypto.ParsePublicKey(alg, pub)
	if err != nil {
		return nil, err
	}

	return crypto.CompressPublicKey(alg, parsed)
}

// Sign signs a 32-byte digest remotely. A 65-byte recoverable signature is
// trimmed to r||s.
func (k *Keystore) Sign(ctx context.Context, keyID string, alg crypto.Algorithm, digest []byte) ([]byte, error) {
	if len(digest) != crypto.DigestSize {
		return nil, fmt.Errorf("payload must be 32 bytes, got %d", len(digest))
	}

	var out struct {
		SignatureHex string `json:"signature_hex"`
	}
	err := k.do(ctx, http.MethodPost, "/keys/"+url.PathEscape(keyID)+"/sign", map[string]any{
		"payload_hex": hex.EncodeToString(digest),
	}, &out)
	if err != nil {
		return nil, err
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(out.SignatureHex, "0x"))
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.SignFailed, "remote.Sign", err)
	}
	switch len(sig) {
	case crypto.SignatureSize:
		return sig, nil
	case crypto.SignatureSize + 1:
		return sig[:crypto.SignatureSize], nil
	default:
		return nil, sdkerr.New(sdkerr.SignFailed, "remote.Sign", "invalid signature length %d", len(sig))
	}
}

// Delete asks the keystore to destroy a key.
func (k *Keystore) Delete(ctx context.Context, keyID string) error {
	return k.do(ctx, http.MethodDelete, "/keys/"+url.PathEscape(keyID), nil, nil)
}

func (k *Keystore) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, k.endpoint+path, reader)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if k.apiKey != "" {
		req.Header.Set("x-api-key", k.apiKey)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote keystore %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	k.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("remote keystore call")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return sdkerr.New(sdkerr.KeyNotFound, "remote", "remote keystore %s %s: not found", method, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("remote keystore http %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
