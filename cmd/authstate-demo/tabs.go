package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/authstate/internal/emulator/service"
	emulatorsqlite "github.com/aussiebroadwan/authstate/internal/emulator/store/sqlite"
	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/cryptox"
	"github.com/aussiebroadwan/authstate/pkg/jwtx"
	"github.com/aussiebroadwan/authstate/pkg/storage"
	storageredis "github.com/aussiebroadwan/authstate/pkg/storage/redis"
	storagesqlite "github.com/aussiebroadwan/authstate/pkg/storage/sqlite"
)

// openGateway dials the configured emulator, or starts one in-process.
func openGateway(cfg config, logger *slog.Logger) (authsdk.Gateway, func() error, error) {
	if cfg.EmulatorURL != "" {
		logger.Info("using remote emulator", "url", cfg.EmulatorURL)
		return authsdk.NewSDKClient(cfg.EmulatorURL, cfg.APIKey), func() error { return nil }, nil
	}

	st, err := emulatorsqlite.NewStore(":memory:")
	if err != nil {
		return nil, nil, fmt.Errorf("open emulator store: %w", err)
	}
	if err := st.ApplyMigrations(); err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("migrate emulator store: %w", err)
	}

	pemKey, err := cryptox.GenerateEd25519Key()
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	signer, err := jwtx.NewSignerEdDSA("demo-key", pemKey)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	svc, err := service.New(service.Config{
		Store:  st,
		Signer: signer,
		APIKey: cfg.APIKey,
		Logger: logger.With("component", "emulator"),
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	logger.Info("using in-process emulator")
	return svc, st.Close, nil
}

// sharedTier is one local-tier backend per tab, all over the same data.
type sharedTier struct {
	backends []storage.Backend
	closers  []func() error
}

func (s *sharedTier) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func openTier(ctx context.Context, cfg config, tabs int, logger *slog.Logger) (*sharedTier, error) {
	tier := &sharedTier{}

	switch cfg.Storage {
	case storageMemory:
		shared := storage.NewSharedMemory()
		for range tabs {
			tier.backends = append(tier.backends, shared.Tab())
		}

	case storageSQLite:
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.SQLiteFile)
		for range tabs {
			st, err := storagesqlite.NewStore(dsn)
			if err != nil {
				_ = tier.Close()
				return nil, fmt.Errorf("open sqlite storage: %w", err)
			}
			tier.closers = append(tier.closers, st.Close)
			if err := st.ApplyMigrations(); err != nil {
				_ = tier.Close()
				return nil, fmt.Errorf("migrate sqlite storage: %w", err)
			}
			tier.backends = append(tier.backends, st)
		}

	case storageRedis:
		for range tabs {
			st, err := storageredis.Connect(ctx, storageredis.Config{URL: cfg.RedisURL, Logger: logger})
			if err != nil {
				_ = tier.Close()
				return nil, err
			}
			tier.closers = append(tier.closers, st.Close)
			tier.backends = append(tier.backends, st)
		}
	}

	logger.Info("shared local tier ready", "storage", cfg.Storage, "tabs", tabs)
	return tier, nil
}

// tab is one Auth instance, the Go stand-in for a browser tab.
type tab struct {
	name    string
	auth    *authsdk.Auth
	manager *storage.Manager
	logger  *slog.Logger

	// seen receives the uid of every auth state notification, "" when
	// signed out.
	seen chan string
	stop func()
}

func openTab(ctx context.Context, name string, cfg config, gw authsdk.Gateway, local storage.Backend, logger *slog.Logger) (*tab, error) {
	logger = logger.With("tab", name)

	manager := storage.NewManager(ctx, storage.Options{
		Local:        local,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	})

	auth, err := authsdk.New(authsdk.Config{
		APIKey:  cfg.APIKey,
		AppName: cfg.AppName,
		Gateway: gw,
		Storage: manager,
		Logger:  logger,
	})
	if err != nil {
		_ = manager.Close()
		return nil, err
	}
	if err := auth.Ready(ctx); err != nil {
		_ = auth.Delete(ctx)
		_ = manager.Close()
		return nil, fmt.Errorf("%s: wait for ready: %w", name, err)
	}

	t := &tab{
		name:    name,
		auth:    auth,
		manager: manager,
		logger:  logger,
		seen:    make(chan string, 16),
	}
	t.stop = auth.OnAuthStateChanged(func(u *authsdk.User) {
		uid := ""
		if u != nil {
			uid = u.UID()
		}
		logger.Info("auth state changed", "uid", uid)
		select {
		case t.seen <- uid:
		default:
		}
	})
	return t, nil
}

// waitFor blocks until the tab reports uid as its current user.
func (t *tab) waitFor(ctx context.Context, uid string) error {
	for {
		select {
		case got := <-t.seen:
			if got == uid {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("%s: waiting for user %q: %w", t.name, uid, ctx.Err())
		}
	}
}

func (t *tab) Close(ctx context.Context) error {
	t.stop()
	return errors.Join(t.auth.Delete(ctx), t.manager.Close())
}
