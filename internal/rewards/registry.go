// Package rewards tracks per-(token, contributor) engagement history and
// pays contributors from the token's reserve pool under the multiplier
// reward policy. Payouts are fenced per engagement event so the same event
// can never be rewarded twice, while fresh events keep accruing.
package rewards

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/mediafi/ipledger/internal/crypto"
	"github.com/mediafi/ipledger/internal/domain"
)

const (
	// DefaultBaseReward is the unscaled payout per distribution, in token
	// base units.
	DefaultBaseReward uint64 = 100

	// DefaultEarlyThreshold caps how many distinct contributors per token
	// receive the permanent early flag.
	DefaultEarlyThreshold uint64 = 100

	// DefaultViralThreshold is the engagement count that triggers the
	// viral multiplier.
	DefaultViralThreshold uint64 = 1000

	// Multipliers are percentages so they compose exactly in integer
	// math: 200% early, 150% prediction, 300% viral -> x9 combined.
	earlyMultiplierPct      uint64 = 200
	predictionMultiplierPct uint64 = 150
	viralMultiplierPct      uint64 = 300

	// predictionAccuracyBar is the accuracy (bps) above which the
	// prediction multiplier applies.
	predictionAccuracyBar uint64 = 7000

	maxRating uint64 = 10
)

// AdminCap is the unforgeable rewards admin capability issued by
// NewRegistry. The unexported nonce keeps it non-zero-sized so every
// allocation has a distinct address.
type AdminCap struct {
	_     [0]func() // not comparable by value
	nonce uint64
}

var capNonce atomic.Uint64

func newAdminCap() *AdminCap {
	return &AdminCap{nonce: capNonce.Add(1)}
}

// ReservePool releases reward tokens from a token's reserve. The token
// registry implements it; rewards never touches supply counters directly.
type ReservePool interface {
	HasReserve(id domain.TokenID, amount uint64) (bool, error)
	ReleaseExact(id domain.TokenID, amount uint64) error
}

type contribKey struct {
	token domain.TokenID
	addr  common.Address
}

// Registry is the reward-distribution registry.
type Registry struct {
	admin *AdminCap

	mu            sync.RWMutex
	contributors  map[contribKey]*domain.ContributorRecord
	counts        map[domain.TokenID]uint64
	distributions []domain.RewardDistribution
	paidEvents    map[[32]byte]struct{}

	baseReward     uint64
	earlyThreshold uint64
	viralThreshold uint64

	pool   ReservePool
	sink   domain.EventSink
	logger *slog.Logger
}

// NewRegistry creates a rewards Registry drawing from pool and issues its
// admin capability. sink may be nil.
func NewRegistry(pool ReservePool, baseReward uint64, sink domain.EventSink, logger *slog.Logger) (*Registry, *AdminCap) {
	if baseReward == 0 {
		baseReward = DefaultBaseReward
	}
	if sink == nil {
		sink = domain.NopSink{}
	}
	adm := newAdminCap()
	return &Registry{
		admin:          adm,
		contributors:   make(map[contribKey]*domain.ContributorRecord),
		counts:         make(map[domain.TokenID]uint64),
		paidEvents:     make(map[[32]byte]struct{}),
		baseReward:     baseReward,
		earlyThreshold: DefaultEarlyThreshold,
		viralThreshold: DefaultViralThreshold,
		pool:           pool,
		sink:           sink,
		logger:         logger.With(slog.String("component", "rewards_registry")),
	}, adm
}

// grants reports whether adm is the capability issued at construction.
func (r *Registry) grants(adm *AdminCap) bool {
	return adm != nil && adm == r.admin && adm.nonce == r.admin.nonce
}

// RegisterEngagement records one engagement. A contributor's first
// engagement on a token creates their record; the early flag is set iff
// the token had fewer than the early threshold distinct contributors at
// that moment, and never changes afterwards.
func (r *Registry) RegisterEngagement(e domain.Engagement) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("rewards: register: kind %q: %w", e.Kind, domain.ErrInvalidEngagement)
	}
	if e.Rating > maxRating {
		return fmt.Errorf("rewards: register: rating %d: %w", e.Rating, domain.ErrInvalidEngagement)
	}
	if e.Kind == domain.EngagementPrediction && strings.TrimSpace(e.PredictionRef) == "" {
		return fmt.Errorf("rewards: register: prediction without reference: %w", domain.ErrInvalidEngagement)
	}

	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	r.mu.Lock()
	key := contribKey{token: e.TokenID, addr: e.Contributor}
	rec, ok := r.contributors[key]
	if !ok {
		rec = &domain.ContributorRecord{
			TokenID:     e.TokenID,
			Contributor: e.Contributor,
			Early:       r.counts[e.TokenID] < r.earlyThreshold,
			FirstSeenAt: at,
		}
		r.contributors[key] = rec
		r.counts[e.TokenID]++
	}
	// Running average on the x100 scale: (old*n + new*100) / (n+1).
	rec.AverageRating = (rec.AverageRating*rec.Engagements + e.Rating*100) / (rec.Engagements + 1)
	rec.Engagements++
	snapshot := *rec
	r.mu.Unlock()

	r.logger.Debug("engagement recorded",
		slog.String("token_id", string(e.TokenID)),
		slog.String("contributor", e.Contributor.Hex()),
		slog.String("kind", string(e.Kind)),
		slog.Bool("early", snapshot.Early),
	)
	r.sink.Emit(domain.Event{
		Kind:    domain.EventEngagementRecorded,
		TokenID: e.TokenID,
		At:      at,
		Payload: e,
	})
	return nil
}

// CalculateReward returns the payout the contributor would receive now.
// Multipliers compose multiplicatively in fixed order: base, early x2.0,
// prediction accuracy >70% x1.5, viral engagement count x3.0. Unknown
// contributors yield zero.
func (r *Registry) CalculateReward(tokenID domain.TokenID, addr common.Address) uint64 {
	r.mu.RLock()
	rec, ok := r.contributors[contribKey{token: tokenID, addr: addr}]
	if !ok {
		r.mu.RUnlock()
		return 0
	}
	snapshot := *rec
	base := r.baseReward
	viralThreshold := r.viralThreshold
	r.mu.RUnlock()

	amount := base
	if snapshot.Early {
		amount = amount * earlyMultiplierPct / 100
	}
	if snapshot.PredictionAccuracy > predictionAccuracyBar {
		amount = amount * predictionMultiplierPct / 100
	}
	if snapshot.Engagements >= viralThreshold {
		amount = amount * viralMultiplierPct / 100
	}
	return amount
}

// DistributeReward pays the contributor's calculated reward out of the
// token's reserve. The full amount must be coverable or the call aborts
// with ErrInsufficientReserve and no counters move. eventID names the
// engagement event being rewarded; an event id that has already paid
// aborts with ErrInvalidEngagement.
func (r *Registry) DistributeReward(tokenID domain.TokenID, addr common.Address, reason, eventID string) (domain.RewardDistribution, error) {
	if strings.TrimSpace(eventID) == "" {
		return domain.RewardDistribution{}, fmt.Errorf("rewards: distribute: empty event id: %w", domain.ErrInvalidEngagement)
	}
	fence := crypto.EventID([]byte(tokenID), addr.Bytes(), []byte(eventID))

	r.mu.Lock()
	rec, ok := r.contributors[contribKey{token: tokenID, addr: addr}]
	if !ok {
		r.mu.Unlock()
		return domain.RewardDistribution{}, fmt.Errorf("rewards: distribute %s: %w", addr, domain.ErrContributorNotFound)
	}
	if _, paid := r.paidEvents[fence]; paid {
		r.mu.Unlock()
		return domain.RewardDistribution{}, fmt.Errorf("rewards: distribute %s: event %q already rewarded: %w",
			addr, eventID, domain.ErrInvalidEngagement)
	}
	// Claim the fence before paying so a concurrent retry of the same
	// event cannot slip in between the check and the release.
	r.paidEvents[fence] = struct{}{}
	r.mu.Unlock()

	amount := r.CalculateReward(tokenID, addr)

	// ReleaseExact is all-or-nothing inside the token's critical section;
	// an insufficient reserve aborts before any counter moves.
	if err := r.pool.ReleaseExact(tokenID, amount); err != nil {
		r.mu.Lock()
		delete(r.paidEvents, fence)
		r.mu.Unlock()
		return domain.RewardDistribution{}, fmt.Errorf("rewards: distribute %s: %w", addr, err)
	}

	dist := domain.RewardDistribution{
		ID:            uuid.NewString(),
		TokenID:       tokenID,
		Recipient:     addr,
		Amount:        amount,
		Reason:        reason,
		EventID:       eventID,
		DistributedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	rec.TotalRewards += amount
	r.distributions = append(r.distributions, dist)
	r.mu.Unlock()

	r.logger.Info("reward distributed",
		slog.String("token_id", string(tokenID)),
		slog.String("recipient", addr.Hex()),
		slog.Uint64("amount", amount),
		slog.String("reason", reason),
	)
	r.sink.Emit(domain.Event{
		Kind:    domain.EventRewardDistributed,
		TokenID: tokenID,
		At:      dist.DistributedAt,
		Payload: dist,
	})
	return dist, nil
}

// UpdatePredictionAccuracy sets a contributor's prediction accuracy in
// basis points. Requires the rewards admin capability.
func (r *Registry) UpdatePredictionAccuracy(adm *AdminCap, tokenID domain.TokenID, addr common.Address, accuracyBps uint64) error {
	if !r.grants(adm) {
		return fmt.Errorf("rewards: update accuracy: %w", domain.ErrUnauthorized)
	}
	if accuracyBps > 10_000 {
		return fmt.Errorf("rewards: update accuracy %d: %w", accuracyBps, domain.ErrInvalidEngagement)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.contributors[contribKey{token: tokenID, addr: addr}]
	if !ok {
		return fmt.Errorf("rewards: update accuracy %s: %w", addr, domain.ErrContributorNotFound)
	}
	rec.PredictionAccuracy = accuracyBps
	return nil
}

// GetContributor returns the record for (token, contributor).
func (r *Registry) GetContributor(tokenID domain.TokenID, addr common.Address) (domain.ContributorRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.contributors[contribKey{token: tokenID, addr: addr}]
	if !ok {
		return domain.ContributorRecord{}, fmt.Errorf("rewards: contributor %s: %w", addr, domain.ErrContributorNotFound)
	}
	return *rec, nil
}

// GetContributorCount returns the number of distinct contributors for the
// token.
func (r *Registry) GetContributorCount(tokenID domain.TokenID) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[tokenID]
}

// Distributions returns a copy of the payout log for the token, oldest
// first.
func (r *Registry) Distributions(tokenID domain.TokenID) []domain.RewardDistribution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.RewardDistribution
	for _, d := range r.distributions {
		if d.TokenID == tokenID {
			out = append(out, d)
		}
	}
	return out
}
