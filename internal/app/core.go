package app

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mediafi/ipledger/internal/config"
	"github.com/mediafi/ipledger/internal/crypto"
	"github.com/mediafi/ipledger/internal/domain"
	"github.com/mediafi/ipledger/internal/market"
	"github.com/mediafi/ipledger/internal/oracle"
	"github.com/mediafi/ipledger/internal/rewards"
	"github.com/mediafi/ipledger/internal/token"
)

// Core bundles the in-process ledger components together with the admin
// capabilities issued at construction. The process holds the capabilities
// for its lifetime; everything that drives the ledger goes through Core.
type Core struct {
	Tokens  *token.Registry
	Market  *market.Marketplace
	Oracle  *oracle.Oracle
	Rewards *rewards.Registry

	TokenAdmin   *token.AdminCap
	MarketAdmin  *market.AdminCap
	OracleAdmin  *oracle.AdminCap
	RewardsAdmin *rewards.AdminCap
}

// BuildCore stands up the ledger from the configuration. Every component
// emits its committed events into sink, so wiring a mirror here gives the
// journal, snapshot stores, and event bus the full write path.
func BuildCore(cfg *config.Config, sink domain.EventSink, logger *slog.Logger) (*Core, error) {
	tokens, tokenAdm := token.NewRegistry(cfg.Ledger.TotalSupply, sink, logger)

	orc, orcAdm := oracle.New(sink, logger)
	if err := orc.SetWeights(orcAdm, cfg.Oracle.EngagementWeight, cfg.Oracle.TradingWeight); err != nil {
		return nil, fmt.Errorf("app: oracle weights: %w", err)
	}

	mkt, mktAdm := market.New(tokens, orc, sink, logger)
	if cfg.Ledger.TradingFeeBps != market.DefaultFeeBps {
		if err := mkt.UpdateTradingFee(mktAdm, cfg.Ledger.TradingFeeBps); err != nil {
			return nil, fmt.Errorf("app: trading fee: %w", err)
		}
	}

	rew, rewAdm := rewards.NewRegistry(tokens, cfg.Rewards.BaseReward, sink, logger)

	if cfg.Attestor.PublicKeyHex != "" {
		scheme := crypto.Scheme(strings.ToLower(cfg.Attestor.Scheme))
		if scheme == "" {
			scheme = crypto.SchemeEd25519
		}
		pub, err := hex.DecodeString(strings.TrimPrefix(cfg.Attestor.PublicKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("app: attestor public key: %w", err)
		}
		if err := orc.RegisterAttestorKey(orcAdm, scheme, pub); err != nil {
			return nil, fmt.Errorf("app: register attestor key: %w", err)
		}
	}

	return &Core{
		Tokens:       tokens,
		Market:       mkt,
		Oracle:       orc,
		Rewards:      rew,
		TokenAdmin:   tokenAdm,
		MarketAdmin:  mktAdm,
		OracleAdmin:  orcAdm,
		RewardsAdmin: rewAdm,
	}, nil
}
