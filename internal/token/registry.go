// Package token implements the IP token registry: fixed-supply tokens with
// a reserve sub-balance earmarked for reward payouts. The registry is the
// single owner of every token's supply counters; other components hold
// token ids and must come through it for reserve mutations.
package token

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mediafi/ipledger/internal/domain"
)

// AdminCap is the unforgeable token-registry admin capability. The only
// instance is issued by NewRegistry; privileged calls are authorized by
// identity of the held pointer plus the unexported nonce. The nonce keeps
// the struct non-zero-sized: all zero-size heap allocations share one
// address, so a zero-size cap would compare equal to a forged one.
type AdminCap struct {
	_     [0]func() // not comparable by value
	nonce uint64
}

var capNonce atomic.Uint64

func newAdminCap() *AdminCap {
	return &AdminCap{nonce: capNonce.Add(1)}
}

// Token is a single IP token with its guarded supply counters. All mutation
// happens under the token's own mutex so concurrent reward payouts and
// admin resizes in one transaction batch cannot let
// reserve+circulating drift from total.
type Token struct {
	info domain.TokenInfo

	mu          sync.Mutex
	total       uint64
	reserve     uint64
	circulating uint64
}

// Info returns the token's immutable identity.
func (t *Token) Info() domain.TokenInfo {
	return t.info
}

// ID returns the token id.
func (t *Token) ID() domain.TokenID {
	return t.info.ID
}

// Supply returns a consistent snapshot of the supply counters.
func (t *Token) Supply() domain.TokenSupply {
	t.mu.Lock()
	defer t.mu.Unlock()
	return domain.TokenSupply{Total: t.total, Reserve: t.reserve, Circulating: t.circulating}
}

// HasReserve reports whether at least amount is still locked in reserve.
func (t *Token) HasReserve(amount uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reserve >= amount
}

// release moves up to amount from reserve into circulation and returns the
// amount actually moved, clamped to the available reserve.
func (t *Token) release(amount uint64) (uint64, domain.TokenSupply) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if amount > t.reserve {
		amount = t.reserve
	}
	t.reserve -= amount
	t.circulating += amount
	return amount, domain.TokenSupply{Total: t.total, Reserve: t.reserve, Circulating: t.circulating}
}

// releaseExact moves exactly amount from reserve into circulation, or fails
// without touching the counters when the reserve cannot cover it.
func (t *Token) releaseExact(amount uint64) (domain.TokenSupply, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if amount > t.reserve {
		return domain.TokenSupply{}, domain.ErrInsufficientReserve
	}
	t.reserve -= amount
	t.circulating += amount
	return domain.TokenSupply{Total: t.total, Reserve: t.reserve, Circulating: t.circulating}, nil
}

// resize sets the reserve to newSize, shifting the delta against
// circulating supply in the same critical section.
func (t *Token) resize(newSize uint64) (domain.TokenSupply, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if newSize > t.total {
		return domain.TokenSupply{}, domain.ErrInsufficientReserve
	}
	t.reserve = newSize
	t.circulating = t.total - newSize
	return domain.TokenSupply{Total: t.total, Reserve: t.reserve, Circulating: t.circulating}, nil
}

// Registry creates and catalogs IP tokens. Lookup is by id or by creation
// index; enumeration is linear, which is fine for the tens-to-thousands of
// tokens a deployment carries.
type Registry struct {
	totalSupply uint64
	admin       *AdminCap

	mu     sync.RWMutex
	tokens map[domain.TokenID]*Token
	order  []domain.TokenID

	sink   domain.EventSink
	logger *slog.Logger
}

// NewRegistry creates a Registry whose tokens all carry the given fixed
// total supply, and issues the one admin capability for it. sink may be nil.
func NewRegistry(totalSupply uint64, sink domain.EventSink, logger *slog.Logger) (*Registry, *AdminCap) {
	if sink == nil {
		sink = domain.NopSink{}
	}
	adm := newAdminCap()
	return &Registry{
		totalSupply: totalSupply,
		admin:       adm,
		tokens:      make(map[domain.TokenID]*Token),
		sink:        sink,
		logger:      logger.With(slog.String("component", "token_registry")),
	}, adm
}

// grants reports whether adm is the capability issued at construction.
func (r *Registry) grants(adm *AdminCap) bool {
	return adm != nil && adm == r.admin && adm.nonce == r.admin.nonce
}

// TotalSupply returns the fixed per-token supply for this deployment.
func (r *Registry) TotalSupply() uint64 {
	return r.totalSupply
}

// CreateToken mints a new fixed-supply token with reserveSize locked in the
// reserve pool and the rest circulating. Requires the registry admin
// capability; reserveSize must leave at least one unit circulating.
func (r *Registry) CreateToken(adm *AdminCap, name, symbol, description, category string, creator common.Address, reserveSize uint64) (domain.TokenID, error) {
	if !r.grants(adm) {
		return "", fmt.Errorf("token: create %q: %w", name, domain.ErrUnauthorized)
	}
	if strings.TrimSpace(name) == "" || strings.TrimSpace(symbol) == "" {
		return "", fmt.Errorf("token: create: empty name or symbol: %w", domain.ErrInvalidToken)
	}
	if reserveSize >= r.totalSupply {
		return "", fmt.Errorf("token: create %q: reserve %d >= total supply %d: %w",
			name, reserveSize, r.totalSupply, domain.ErrInsufficientReserve)
	}

	t := &Token{
		info: domain.TokenInfo{
			ID:          domain.NewTokenID(),
			Name:        name,
			Symbol:      symbol,
			Description: description,
			Category:    category,
			Creator:     creator,
			CreatedAt:   time.Now().UTC(),
		},
		total:       r.totalSupply,
		reserve:     reserveSize,
		circulating: r.totalSupply - reserveSize,
	}

	r.mu.Lock()
	r.tokens[t.info.ID] = t
	r.order = append(r.order, t.info.ID)
	r.mu.Unlock()

	r.logger.Info("token created",
		slog.String("token_id", string(t.info.ID)),
		slog.String("symbol", symbol),
		slog.Uint64("reserve", reserveSize),
	)
	r.sink.Emit(domain.Event{
		Kind:    domain.EventTokenCreated,
		TokenID: t.info.ID,
		At:      t.info.CreatedAt,
		Payload: domain.TokenCreated{Info: t.info, Supply: t.Supply()},
	})
	return t.info.ID, nil
}

// Get returns the token entity for id.
func (r *Registry) Get(id domain.TokenID) (*Token, error) {
	r.mu.RLock()
	t, ok := r.tokens[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("token: get %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

// Exists reports whether a token with the given id is registered.
func (r *Registry) Exists(id domain.TokenID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tokens[id]
	return ok
}

// ByIndex returns the token created at position i.
func (r *Registry) ByIndex(i int) (*Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.order) {
		return nil, fmt.Errorf("token: index %d: %w", i, domain.ErrNotFound)
	}
	return r.tokens[r.order[i]], nil
}

// Count returns the number of registered tokens.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List returns all tokens in creation order.
func (r *Registry) List() []*Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Token, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tokens[id])
	}
	return out
}

// UpdateReserve resizes a token's reserve pool, atomically shifting the
// delta between reserve and circulating supply. Requires the admin
// capability; newSize may not exceed the total supply.
func (r *Registry) UpdateReserve(adm *AdminCap, id domain.TokenID, newSize uint64) error {
	if !r.grants(adm) {
		return fmt.Errorf("token: update reserve %s: %w", id, domain.ErrUnauthorized)
	}
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	supply, err := t.resize(newSize)
	if err != nil {
		return fmt.Errorf("token: update reserve %s to %d: %w", id, newSize, err)
	}

	r.logger.Info("reserve resized",
		slog.String("token_id", string(id)),
		slog.Uint64("reserve", supply.Reserve),
		slog.Uint64("circulating", supply.Circulating),
	)
	r.sink.Emit(domain.Event{
		Kind:    domain.EventReserveAdjusted,
		TokenID: id,
		At:      time.Now().UTC(),
		Payload: domain.ReserveChange{TokenID: id, Amount: newSize, Reserve: supply.Reserve, Circulating: supply.Circulating},
	})
	return nil
}

// ReleaseFromReserve moves up to amount from the token's reserve into
// circulation and returns the amount actually released. Over-requests are
// clamped to the available reserve rather than rejected.
func (r *Registry) ReleaseFromReserve(id domain.TokenID, amount uint64) (uint64, error) {
	t, err := r.Get(id)
	if err != nil {
		return 0, err
	}
	released, supply := t.release(amount)
	r.sink.Emit(domain.Event{
		Kind:    domain.EventReserveReleased,
		TokenID: id,
		At:      time.Now().UTC(),
		Payload: domain.ReserveChange{TokenID: id, Amount: released, Reserve: supply.Reserve, Circulating: supply.Circulating},
	})
	return released, nil
}

// ReleaseExact moves exactly amount from the token's reserve into
// circulation, failing with ErrInsufficientReserve (counters untouched)
// when the reserve cannot cover the full amount. Reward payouts use this
// path so a distribution never partially pays.
func (r *Registry) ReleaseExact(id domain.TokenID, amount uint64) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	supply, err := t.releaseExact(amount)
	if err != nil {
		return fmt.Errorf("token: release %d from %s: %w", amount, id, err)
	}
	r.sink.Emit(domain.Event{
		Kind:    domain.EventReserveReleased,
		TokenID: id,
		At:      time.Now().UTC(),
		Payload: domain.ReserveChange{TokenID: id, Amount: amount, Reserve: supply.Reserve, Circulating: supply.Circulating},
	})
	return nil
}

// HasReserve reports whether the token can cover amount from reserve.
func (r *Registry) HasReserve(id domain.TokenID, amount uint64) (bool, error) {
	t, err := r.Get(id)
	if err != nil {
		return false, err
	}
	return t.HasReserve(amount), nil
}
