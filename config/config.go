// Package config loads the agent configuration from environment variables.
package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
)

var (
	storageClasses = []string{"wallet", "keystore", "biometric"}
	biometricModes = []string{"terminal", "approve", "cancel", "unavailable"}
	logFormats     = []string{"json", "console"}
)

// Config is the agent configuration.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	DID       DID    `envPrefix:"DID_"`
}

// DID holds the SDK settings.
type DID struct {
	Method            string    `env:"METHOD" envDefault:"weticket"`
	DocumentNamespace string    `env:"DOCUMENT_NAMESPACE" envDefault:"weticket_did"`
	WalletNamespace   string    `env:"WALLET_NAMESPACE" envDefault:"weticket_wallet"`
	KeyIDPrefix       string    `env:"KEY_ID_PREFIX" envDefault:"weticket_key"`
	KeyStorage        string    `env:"KEY_STORAGE" envDefault:"biometric"`
	DBPath            string    `env:"DB_PATH" envDefault:"weticket.db"`
	Wallet            Wallet    `envPrefix:"WALLET_"`
	KMS               KMS       `envPrefix:"KMS_"`
	Remote            Remote    `envPrefix:"REMOTE_"`
	Biometric         Biometric `envPrefix:"BIOMETRIC_"`
}

// Wallet holds the software wallet settings. An empty secret disables the
// wallet.
type Wallet struct {
	Secret string `env:"SECRET"`
	KDF    KDF    `envPrefix:"KDF_"`
}

// KDF contains the argon2id parameters of the wallet key.
type KDF struct {
	Time   uint32 `env:"TIME" envDefault:"1"`
	MemKiB uint32 `env:"MEM" envDefault:"65536"`
	Par    uint8  `env:"PAR" envDefault:"4"`
}

// KMS holds the AWS KMS keystore settings.
type KMS struct {
	Enabled     bool   `env:"ENABLED" envDefault:"false"`
	Region      string `env:"REGION" envDefault:"ap-northeast-2"`
	AliasPrefix string `env:"ALIAS_PREFIX" envDefault:"alias/"`
}

// Remote holds the remote keystore settings. An empty endpoint disables it.
type Remote struct {
	Endpoint string        `env:"ENDPOINT"`
	APIKey   string        `env:"API_KEY"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Biometric holds the confirmation prompt settings.
type Biometric struct {
	Mode    string        `env:"MODE" envDefault:"terminal"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"60s"`
}

// NewConfig loads configuration from environment variables.
func NewConfig() (*Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the agent cannot start with.
func (c *Config) Validate() error {
	if !slices.Contains(logFormats, c.LogFormat) {
		return fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat)
	}
	if !slices.Contains(storageClasses, c.DID.KeyStorage) {
		return fmt.Errorf("unknown DID_KEY_STORAGE %q", c.DID.KeyStorage)
	}
	if !slices.Contains(biometricModes, c.DID.Biometric.Mode) {
		return fmt.Errorf("unknown DID_BIOMETRIC_MODE %q", c.DID.Biometric.Mode)
	}
	if c.DID.KMS.Enabled && c.DID.Remote.Endpoint != "" {
		return fmt.Errorf("DID_KMS_ENABLED and DID_REMOTE_ENDPOINT are mutually exclusive")
	}
	if !c.DID.HasWallet() && !c.DID.HasKeystore() {
		return fmt.Errorf("no key store configured: set DID_WALLET_SECRET, DID_KMS_ENABLED or DID_REMOTE_ENDPOINT")
	}
	if c.DID.KeyStorage == "wallet" && !c.DID.HasWallet() {
		return fmt.Errorf("DID_KEY_STORAGE=wallet requires DID_WALLET_SECRET")
	}
	if c.DID.KeyStorage == "keystore" && !c.DID.HasKeystore() {
		return fmt.Errorf("DID_KEY_STORAGE=keystore requires DID_KMS_ENABLED or DID_REMOTE_ENDPOINT")
	}

	return nil
}

// HasWallet reports whether the software wallet is enabled.
func (d DID) HasWallet() bool {
	return d.Wallet.Secret != ""
}

// HasKeystore reports whether a hardware or remote keystore is enabled.
func (d DID) HasKeystore() bool {
	return d.KMS.Enabled || d.Remote.Endpoint != ""
}
