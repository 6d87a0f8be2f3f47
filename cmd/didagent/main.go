// Command didagent serves the DID SDK command surface over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/weticket/go-did-sdk/channel"
	"github.com/weticket/go-did-sdk/config"
	"github.com/weticket/go-did-sdk/did"
	"github.com/weticket/go-did-sdk/didmanager"
	"github.com/weticket/go-did-sdk/identity"
	"github.com/weticket/go-did-sdk/keymanager"
	"github.com/weticket/go-did-sdk/keymanager/biometric"
	"github.com/weticket/go-did-sdk/keymanager/kmsstore"
	"github.com/weticket/go-did-sdk/keymanager/remote"
	"github.com/weticket/go-did-sdk/keymanager/wallet"
	"github.com/weticket/go-did-sdk/logger"
	"github.com/weticket/go-did-sdk/storage/sqlite"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("agent stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	db, err := sqlite.Open(ctx, cfg.DID.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	keys, err := newKeyManager(ctx, db, cfg, log)
	if err != nil {
		return err
	}

	store, err := didmanager.NewStore(ctx, db, cfg.DID.DocumentNamespace, didmanager.WithLogger(log))
	if err != nil {
		return err
	}

	dids, err := did.NewDIDGenerator(cfg.DID.Method)
	if err != nil {
		return err
	}

	svc, err := identity.NewService(keys, store,
		identity.WithStorageClass(keymanager.StorageClass(cfg.DID.KeyStorage)),
		identity.WithDIDGenerator(dids),
		identity.WithKeyIDGenerator(keymanager.NewKeyIDGenerator(cfg.DID.KeyIDPrefix)),
		identity.WithLogger(log))
	if err != nil {
		return err
	}

	dispatcher := channel.NewDispatcher(svc, channel.WithLogger(log))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           dispatcher.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("namespace", store.Namespace()).Msg("starting agent")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// newKeyManager opens the configured key stores. The biometric class is
// served by the hardware keystore when one is configured, else by the wallet.
func newKeyManager(ctx context.Context, db *sql.DB, cfg *config.Config, log zerolog.Logger) (*keymanager.Manager, error) {
	opts := []keymanager.Option{keymanager.WithLogger(log)}

	if cfg.DID.HasWallet() {
		kdf := cfg.DID.Wallet.KDF
		w, err := wallet.Open(ctx, db, cfg.DID.WalletNamespace, []byte(cfg.DID.Wallet.Secret),
			wallet.KDFParams{Time: kdf.Time, Memory: kdf.MemKiB, Threads: kdf.Par},
			wallet.WithLogger(log))
		if err != nil {
			return nil, err
		}
		opts = append(opts, keymanager.WithBackend(keymanager.StorageWallet, w))
	}

	switch {
	case cfg.DID.KMS.Enabled:
		ks, err := kmsstore.NewFromRegion(ctx, cfg.DID.KMS.Region,
			kmsstore.WithAliasPrefix(cfg.DID.KMS.AliasPrefix),
			kmsstore.WithLogger(log))
		if err != nil {
			return nil, err
		}
		opts = append(opts, keymanager.WithBackend(keymanager.StorageKeystore, ks))
	case cfg.DID.Remote.Endpoint != "":
		ks, err := remote.New(cfg.DID.Remote.Endpoint, cfg.DID.Remote.APIKey,
			remote.WithTimeout(cfg.DID.Remote.Timeout),
			remote.WithLogger(log))
		if err != nil {
			return nil, err
		}
		opts = append(opts, keymanager.WithBackend(keymanager.StorageKeystore, ks))
	}

	confirmer, err := biometric.New(cfg.DID.Biometric.Mode, os.Stdin, os.Stderr, cfg.DID.Biometric.Timeout)
	if err != nil {
		return nil, err
	}
	opts = append(opts, keymanager.WithConfirmer(confirmer))

	index, err := keymanager.NewIndex(ctx, db, cfg.DID.WalletNamespace)
	if err != nil {
		return nil, err
	}

	return keymanager.NewManager(index, opts...)
}
