// Command authstate-demo opens two Auth instances over one shared local
// storage tier. The first signs in and out; the second follows along through
// storage change detection alone.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/slogx"
)

const BuildVersion = "v0.1.0"

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := slogx.New(slogx.Config{
		Service: "authstate-demo",
		Version: BuildVersion,
		Env:     "dev",
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("demo failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, logger *slog.Logger) (err error) {
	gw, closeGateway, err := openGateway(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeGateway()) }()

	tier, err := openTier(ctx, cfg, 2, logger)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, tier.Close()) }()

	writer, err := openTab(ctx, "writer", cfg, gw, tier.backends[0], logger)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, writer.Close(context.WithoutCancel(ctx))) }()

	observer, err := openTab(ctx, "observer", cfg, gw, tier.backends[1], logger)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, observer.Close(context.WithoutCancel(ctx))) }()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	// Both tabs start from whatever the tier already holds.
	if u := writer.auth.CurrentUser(); u != nil {
		logger.Info("restored session from storage", "uid", u.UID())
		if err := observer.waitFor(ctx, u.UID()); err != nil {
			return err
		}
		if err := signOut(ctx, writer, observer); err != nil {
			return err
		}
	}

	cred, err := writer.auth.CreateUserWithEmailAndPassword(ctx, cfg.Email, cfg.Password)
	if errors.Is(err, authsdk.ErrEmailExists) {
		cred, err = writer.auth.SignInWithEmailAndPassword(ctx, cfg.Email, cfg.Password)
	}
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	uid := cred.User.UID()
	logger.Info("writer signed in", "uid", uid, "operation", cred.OperationType)

	if err := observer.waitFor(ctx, uid); err != nil {
		return err
	}
	logger.Info("observer picked up the session", "uid", observer.auth.CurrentUser().UID())

	return signOut(ctx, writer, observer)
}

func signOut(ctx context.Context, writer, observer *tab) error {
	if err := writer.auth.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	if err := observer.waitFor(ctx, ""); err != nil {
		return err
	}
	writer.logger.Info("observer followed the sign-out")
	return nil
}
