package app

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/mediafi/ipledger/internal/crypto"
	"github.com/mediafi/ipledger/internal/service"
)

// AuditMode replays the Postgres event journal and verifies the ledger
// invariants. It exits non-zero when any violation is found.
func (a *App) AuditMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting audit mode")

	auditor := service.NewAuditor(deps.Journal, a.logger)
	report, err := auditor.Run(ctx)
	if err != nil {
		return err
	}
	for _, v := range report.Violations {
		a.logger.ErrorContext(ctx, "invariant violation", slog.String("detail", v))
	}
	if !report.OK() {
		return fmt.Errorf("app: audit found %d violations across %d events",
			len(report.Violations), report.Events)
	}
	a.logger.InfoContext(ctx, "audit passed",
		slog.Int64("events", report.Events),
		slog.Int("tokens", report.Tokens),
		slog.Int("orders", report.Orders),
	)
	return nil
}

// NodeMode stands up the ledger core with a mirror as its event sink and
// runs until the context is cancelled. Every committed ledger event flows
// into the Postgres journal, the snapshot tables, the Redis price cache,
// and the event bus.
func (a *App) NodeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting node mode")

	mirror := service.NewMirror(service.MirrorStores{
		Journal:       deps.Journal,
		Tokens:        deps.Tokens,
		Orders:        deps.Orders,
		Trades:        deps.Trades,
		Distributions: deps.Distributions,
		Prices:        deps.Prices,
		Bus:           deps.Bus,
	}, 0, a.logger)

	core, err := BuildCore(a.cfg, mirror, a.logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mirror.Run(ctx)
	})

	a.logger.InfoContext(ctx, "ledger node ready",
		slog.Uint64("total_supply", core.Tokens.TotalSupply()),
		slog.Uint64("trading_fee_bps", core.Market.FeeBps()),
	)

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	if n := mirror.Dropped(); n > 0 {
		a.logger.Warn("events dropped during shutdown", slog.Uint64("dropped", n))
	}
	return nil
}

// TailMode subscribes to the live event channel on Redis and logs every
// published event until the context is cancelled.
func (a *App) TailMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting tail mode", slog.String("channel", service.EventChannel))

	msgs, err := deps.Bus.Subscribe(ctx, service.EventChannel)
	if err != nil {
		return fmt.Errorf("app: subscribe %s: %w", service.EventChannel, err)
	}

	var received atomic.Int64
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg, ok := <-msgs:
				if !ok {
					return nil
				}
				received.Add(1)
				a.logger.InfoContext(ctx, "event", slog.String("payload", string(msg)))
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.logger.InfoContext(ctx, "tail stats", slog.Int64("received", received.Load()))
			}
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// KeygenMode generates (or imports) an attestor keypair for the configured
// scheme, writes it password-encrypted to disk, and logs the public key to
// register with the oracle.
func (a *App) KeygenMode(ctx context.Context) error {
	scheme := crypto.Scheme(strings.ToLower(a.cfg.Attestor.Scheme))
	if scheme == "" {
		scheme = crypto.SchemeEd25519
	}
	path := a.cfg.Attestor.EncryptedKeyPath
	if path == "" {
		return fmt.Errorf("app: keygen requires attestor.encrypted_key_path")
	}
	if a.cfg.Attestor.KeyPassword == "" {
		return fmt.Errorf("app: keygen requires attestor.key_password")
	}

	privHex := a.cfg.Attestor.RawPrivateKey
	var pubHex string
	switch scheme {
	case crypto.SchemeEd25519:
		if privHex == "" {
			_, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return fmt.Errorf("app: generate ed25519 key: %w", err)
			}
			privHex = hex.EncodeToString(priv.Seed())
		}
		seed, err := hex.DecodeString(privHex)
		if err != nil || len(seed) != ed25519.SeedSize {
			return fmt.Errorf("app: invalid ed25519 seed")
		}
		priv := ed25519.NewKeyFromSeed(seed)
		pubHex = hex.EncodeToString(priv.Public().(ed25519.PublicKey))

	case crypto.SchemeSecp256k1:
		if privHex == "" {
			key, err := ethcrypto.GenerateKey()
			if err != nil {
				return fmt.Errorf("app: generate secp256k1 key: %w", err)
			}
			privHex = hex.EncodeToString(ethcrypto.FromECDSA(key))
		}
		key, err := ethcrypto.HexToECDSA(privHex)
		if err != nil {
			return fmt.Errorf("app: invalid secp256k1 key: %w", err)
		}
		pubHex = hex.EncodeToString(ethcrypto.CompressPubkey(&key.PublicKey))

	default:
		return fmt.Errorf("app: unknown attestor scheme %q", scheme)
	}

	blob, err := crypto.EncryptKey(privHex, scheme, a.cfg.Attestor.KeyPassword)
	if err != nil {
		return fmt.Errorf("app: encrypt key: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("app: write key file: %w", err)
	}

	a.logger.InfoContext(ctx, "attestor key written",
		slog.String("scheme", string(scheme)),
		slog.String("path", path),
		slog.String("public_key", pubHex),
	)
	return nil
}
