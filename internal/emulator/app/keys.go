package app

import (
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/authstate/pkg/cryptox"
	"github.com/aussiebroadwan/authstate/pkg/jwtx"
)

// InitSigner loads the Ed25519 ID-token key from cfg.KeyFile, creating the
// file on first start. Without a key file the key lives in memory only and
// every ID token becomes invalid when the emulator restarts.
func InitSigner(cfg Config, logger *slog.Logger) (jwtx.Signer, error) {
	pemKey, err := cryptox.LoadOrGenerateEd25519Key(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}

	signer, err := jwtx.NewSignerEdDSA(cfg.KeyID, pemKey)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	if err := signer.Validate(); err != nil {
		return nil, fmt.Errorf("validate signing key: %w", err)
	}

	if cfg.KeyFile == "" {
		logger.Warn("using an ephemeral signing key, ID tokens will not survive a restart", "kid", signer.KID())
	} else {
		logger.Info("signing key loaded", "kid", signer.KID(), "path", cfg.KeyFile)
	}
	return signer, nil
}

// InitHasher builds the password hasher, reading or creating the pepper file.
func InitHasher(cfg Config) (*cryptox.Hasher, error) {
	if cfg.PepperFile == "" {
		return cryptox.NewHasher(""), nil
	}
	pepper, err := cryptox.LoadPepper(cfg.PepperFile)
	if err != nil {
		return nil, fmt.Errorf("load pepper: %w", err)
	}
	return cryptox.NewHasher(pepper), nil
}
