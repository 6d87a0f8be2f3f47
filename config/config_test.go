package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_DefaultValues(t *testing.T) {
	t.Setenv("DID_WALLET_SECRET", "secret")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "weticket", cfg.DID.Method)
	assert.Equal(t, "weticket_did", cfg.DID.DocumentNamespace)
	assert.Equal(t, "weticket_wallet", cfg.DID.WalletNamespace)
	assert.Equal(t, "weticket_key", cfg.DID.KeyIDPrefix)
	assert.Equal(t, "biometric", cfg.DID.KeyStorage)
	assert.Equal(t, "weticket.db", cfg.DID.DBPath)
	assert.Equal(t, KDF{Time: 1, MemKiB: 65536, Par: 4}, cfg.DID.Wallet.KDF)
	assert.False(t, cfg.DID.KMS.Enabled)
	assert.Equal(t, "ap-northeast-2", cfg.DID.KMS.Region)
	assert.Equal(t, "alias/", cfg.DID.KMS.AliasPrefix)
	assert.Empty(t, cfg.DID.Remote.Endpoint)
	assert.Equal(t, 10*time.Second, cfg.DID.Remote.Timeout)
	assert.Equal(t, "terminal", cfg.DID.Biometric.Mode)
	assert.Equal(t, time.Minute, cfg.DID.Biometric.Timeout)
	assert.True(t, cfg.DID.HasWallet())
	assert.False(t, cfg.DID.HasKeystore())
}

func TestNewConfig_EnvironmentOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected func(*testing.T, *Config)
	}{
		{
			name: "logging",
			envVars: map[string]string{
				"DID_WALLET_SECRET": "s",
				"LOG_LEVEL":         "debug",
				"LOG_FORMAT":        "console",
			},
			expected: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, "console", cfg.LogFormat)
			},
		},
		{
			name: "kms keystore",
			envVars: map[string]string{
				"DID_KMS_ENABLED":      "true",
				"DID_KMS_REGION":       "eu-west-1",
				"DID_KMS_ALIAS_PREFIX": "alias/weticket/",
				"DID_KEY_STORAGE":      "keystore",
			},
			expected: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.DID.KMS.Enabled)
				assert.Equal(t, "eu-west-1", cfg.DID.KMS.Region)
				assert.Equal(t, "alias/weticket/", cfg.DID.KMS.AliasPrefix)
				assert.True(t, cfg.DID.HasKeystore())
			},
		},
		{
			name: "remote keystore and biometric",
			envVars: map[string]string{
				"DID_REMOTE_ENDPOINT":   "https://keys.example.com",
				"DID_REMOTE_API_KEY":    "k",
				"DID_REMOTE_TIMEOUT":    "3s",
				"DID_BIOMETRIC_MODE":    "approve",
				"DID_BIOMETRIC_TIMEOUT": "5s",
			},
			expected: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://keys.example.com", cfg.DID.Remote.Endpoint)
				assert.Equal(t, "k", cfg.DID.Remote.APIKey)
				assert.Equal(t, 3*time.Second, cfg.DID.Remote.Timeout)
				assert.Equal(t, "approve", cfg.DID.Biometric.Mode)
				assert.Equal(t, 5*time.Second, cfg.DID.Biometric.Timeout)
			},
		},
		{
			name: "wallet kdf",
			envVars: map[string]string{
				"DID_WALLET_SECRET":   "s",
				"DID_WALLET_KDF_TIME": "3",
				"DID_WALLET_KDF_MEM":  "1024",
				"DID_WALLET_KDF_PAR":  "2",
				"DID_KEY_STORAGE":     "wallet",
				"DID_DB_PATH":         "/tmp/did.db",
			},
			expected: func(t *testing.T, cfg *Config) {
				assert.Equal(t, KDF{Time: 3, MemKiB: 1024, Par: 2}, cfg.DID.Wallet.KDF)
				assert.Equal(t, "wallet", cfg.DID.KeyStorage)
				assert.Equal(t, "/tmp/did.db", cfg.DID.DBPath)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := NewConfig()
			require.NoError(t, err)
			tt.expected(t, cfg)
		})
	}
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
	}{
		{name: "no key store", envVars: map[string]string{}},
		{name: "storage class", envVars: map[string]string{"DID_WALLET_SECRET": "s", "DID_KEY_STORAGE": "cloud"}},
		{name: "biometric mode", envVars: map[string]string{"DID_WALLET_SECRET": "s", "DID_BIOMETRIC_MODE": "face"}},
		{name: "log format", envVars: map[string]string{"DID_WALLET_SECRET": "s", "LOG_FORMAT": "xml"}},
		{name: "wallet class without secret", envVars: map[string]string{"DID_KMS_ENABLED": "true", "DID_KEY_STORAGE": "wallet"}},
		{name: "keystore class without keystore", envVars: map[string]string{"DID_WALLET_SECRET": "s", "DID_KEY_STORAGE": "keystore"}},
		{name: "two keystores", envVars: map[string]string{"DID_KMS_ENABLED": "true", "DID_REMOTE_ENDPOINT": "http://x"}},
		{name: "bad duration", envVars: map[string]string{"DID_WALLET_SECRET": "s", "DID_REMOTE_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			_, err := NewConfig()
			assert.Error(t, err)
		})
	}
}
