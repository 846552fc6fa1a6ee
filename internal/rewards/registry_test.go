package rewards

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediafi/ipledger/internal/domain"
)

const testToken domain.TokenID = "tok-1"

var alice = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

type stubPool struct {
	reserve map[domain.TokenID]uint64
}

func newStubPool(amount uint64) *stubPool {
	return &stubPool{reserve: map[domain.TokenID]uint64{testToken: amount}}
}

func (p *stubPool) HasReserve(id domain.TokenID, amount uint64) (bool, error) {
	return p.reserve[id] >= amount, nil
}

func (p *stubPool) ReleaseExact(id domain.TokenID, amount uint64) error {
	if p.reserve[id] < amount {
		return domain.ErrInsufficientReserve
	}
	p.reserve[id] -= amount
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// addr derives a distinct test address from an index.
func addr(i uint64) common.Address {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], i)
	return common.BytesToAddress(b[:])
}

func engagement(contributor common.Address, kind domain.EngagementKind, rating uint64, eventID string) domain.Engagement {
	return domain.Engagement{
		TokenID:     testToken,
		Contributor: contributor,
		Kind:        kind,
		Rating:      rating,
		EventID:     eventID,
	}
}

func TestRegisterEngagementValidation(t *testing.T) {
	reg, _ := NewRegistry(newStubPool(1_000_000), 0, nil, testLogger())

	tests := []struct {
		name string
		e    domain.Engagement
	}{
		{"unknown kind", engagement(alice, "like", 5, "e1")},
		{"rating above scale", engagement(alice, domain.EngagementRating, 11, "e1")},
		{"prediction without reference", engagement(alice, domain.EngagementPrediction, 0, "e1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, reg.RegisterEngagement(tt.e), domain.ErrInvalidEngagement)
		})
	}
	assert.Equal(t, uint64(0), reg.GetContributorCount(testToken))
}

func TestRegisterEngagementRunningAverage(t *testing.T) {
	reg, _ := NewRegistry(newStubPool(1_000_000), 0, nil, testLogger())

	require.NoError(t, reg.RegisterEngagement(engagement(alice, domain.EngagementRating, 8, "e1")))
	require.NoError(t, reg.RegisterEngagement(engagement(alice, domain.EngagementRating, 9, "e2")))

	rec, err := reg.GetContributor(testToken, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Engagements)
	assert.Equal(t, uint64(850), rec.AverageRating, "average of 8 and 9 on the x100 scale")
	assert.True(t, rec.Early)
	assert.Equal(t, uint64(1), reg.GetContributorCount(testToken))
}

// The early flag is granted to the first hundred distinct contributors and
// is permanent; the hundred-and-first misses it.
func TestEarlyContributorThreshold(t *testing.T) {
	reg, _ := NewRegistry(newStubPool(1_000_000), 0, nil, testLogger())

	for i := uint64(0); i < DefaultEarlyThreshold; i++ {
		require.NoError(t, reg.RegisterEngagement(engagement(addr(i+1), domain.EngagementVote, 0, fmt.Sprintf("e%d", i))))
	}

	hundredth, err := reg.GetContributor(testToken, addr(DefaultEarlyThreshold))
	require.NoError(t, err)
	assert.True(t, hundredth.Early)

	late := addr(DefaultEarlyThreshold + 1)
	require.NoError(t, reg.RegisterEngagement(engagement(late, domain.EngagementVote, 0, "late")))
	rec, err := reg.GetContributor(testToken, late)
	require.NoError(t, err)
	assert.False(t, rec.Early)
}

func TestCalculateReward(t *testing.T) {
	reg, adm := NewRegistry(newStubPool(1_000_000), 0, nil, testLogger())

	assert.Equal(t, uint64(0), reg.CalculateReward(testToken, alice), "unknown contributor")

	require.NoError(t, reg.RegisterEngagement(engagement(alice, domain.EngagementRating, 8, "e1")))
	assert.Equal(t, uint64(200), reg.CalculateReward(testToken, alice), "base x2 early")

	require.NoError(t, reg.UpdatePredictionAccuracy(adm, testToken, alice, 8_000))
	assert.Equal(t, uint64(300), reg.CalculateReward(testToken, alice), "x1.5 prediction on top")

	// Drive the engagement count past the viral threshold.
	for i := uint64(1); i < DefaultViralThreshold; i++ {
		require.NoError(t, reg.RegisterEngagement(engagement(alice, domain.EngagementVote, 0, fmt.Sprintf("v%d", i))))
	}
	assert.Equal(t, uint64(900), reg.CalculateReward(testToken, alice), "x3 viral on top, x9 total")
}

func TestCalculateRewardAccuracyBar(t *testing.T) {
	reg, adm := NewRegistry(newStubPool(1_000_000), 0, nil, testLogger())
	require.NoError(t, reg.RegisterEngagement(engagement(alice, domain.EngagementRating, 8, "e1")))

	// Exactly at the bar does not trigger the multiplier; it must be
	// exceeded.
	require.NoError(t, reg.UpdatePredictionAccuracy(adm, testToken, alice, 7_000))
	assert.Equal(t, uint64(200), reg.CalculateReward(testToken, alice))

	require.NoError(t, reg.UpdatePredictionAccuracy(adm, testToken, alice, 7_001))
	assert.Equal(t, uint64(300), reg.CalculateReward(testToken, alice))
}

func TestDistributeReward(t *testing.T) {
	pool := newStubPool(1_000)
	reg, _ := NewRegistry(pool, 0, nil, testLogger())
	require.NoError(t, reg.RegisterEngagement(engagement(alice, domain.EngagementRating, 8, "e1")))

	dist, err := reg.DistributeReward(testToken, alice, "rating reward", "e1")
	require.NoError(t, err)
	assert.Equal(t, uint64(200), dist.Amount)
	assert.Equal(t, alice, dist.Recipient)
	assert.Equal(t, "e1", dist.EventID)
	assert.Equal(t, uint64(800), pool.reserve[testToken])

	rec, err := reg.GetContributor(testToken, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), rec.TotalRewards)

	log := reg.Distributions(testToken)
	require.Len(t, log, 1)
	assert.Equal(t, dist.ID, log[0].ID)
}

func TestDistributeRewardEventFence(t *testing.T) {
	pool := newStubPool(1_000)
	reg, _ := NewRegistry(pool, 0, nil, testLogger())
	require.NoError(t, reg.RegisterEngagement(engagement(alice, domain.EngagementRating, 8, "e1")))

	_, err := reg.DistributeReward(testToken, alice, "rating reward", "e1")
	require.NoError(t, err)

	// The same engagement event can never pay twice.
	_, err = reg.DistributeReward(testToken, alice, "rating reward", "e1")
	assert.ErrorIs(t, err, domain.ErrInvalidEngagement)
	assert.Equal(t, uint64(800), pool.reserve[testToken])

	// A fresh event for the same contributor still pays.
	require.NoError(t, reg.RegisterEngagement(engagement(alice, domain.EngagementVote, 0, "e2")))
	_, err = reg.DistributeReward(testToken, alice, "vote reward", "e2")
	require.NoError(t, err)
	assert.Equal(t, uint64(600), pool.reserve[testToken])
}

func TestDistributeRewardErrors(t *testing.T) {
	reg, _ := NewRegistry(newStubPool(1_000), 0, nil, testLogger())

	_, err := reg.DistributeReward(testToken, alice, "r", "")
	assert.ErrorIs(t, err, domain.ErrInvalidEngagement, "empty event id")

	_, err = reg.DistributeReward(testToken, alice, "r", "e1")
	assert.ErrorIs(t, err, domain.ErrContributorNotFound)
}

func TestDistributeRewardInsufficientReserve(t *testing.T) {
	pool := newStubPool(50) // below the 200 early payout
	reg, _ := NewRegistry(pool, 0, nil, testLogger())
	require.NoError(t, reg.RegisterEngagement(engagement(alice, domain.EngagementRating, 8, "e1")))

	_, err := reg.DistributeReward(testToken, alice, "r", "e1")
	assert.ErrorIs(t, err, domain.ErrInsufficientReserve)

	rec, err := reg.GetContributor(testToken, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec.TotalRewards)
	assert.Empty(t, reg.Distributions(testToken))

	// The failed payout releases its event fence; the same event pays once
	// the reserve is refilled.
	pool.reserve[testToken] = 1_000
	dist, err := reg.DistributeReward(testToken, alice, "r", "e1")
	require.NoError(t, err)
	assert.Equal(t, uint64(200), dist.Amount)
}

func TestUpdatePredictionAccuracy(t *testing.T) {
	reg, adm := NewRegistry(newStubPool(1_000), 0, nil, testLogger())
	require.NoError(t, reg.RegisterEngagement(engagement(alice, domain.EngagementRating, 8, "e1")))

	assert.ErrorIs(t, reg.UpdatePredictionAccuracy(nil, testToken, alice, 5_000), domain.ErrUnauthorized)
	assert.ErrorIs(t, reg.UpdatePredictionAccuracy(&AdminCap{}, testToken, alice, 5_000), domain.ErrUnauthorized)
	assert.ErrorIs(t, reg.UpdatePredictionAccuracy(adm, testToken, alice, 10_001), domain.ErrInvalidEngagement)
	assert.ErrorIs(t, reg.UpdatePredictionAccuracy(adm, testToken, addr(99), 5_000), domain.ErrContributorNotFound)

	require.NoError(t, reg.UpdatePredictionAccuracy(adm, testToken, alice, 5_000))
	rec, err := reg.GetContributor(testToken, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), rec.PredictionAccuracy)
}

func TestBaseRewardOverride(t *testing.T) {
	reg, _ := NewRegistry(newStubPool(10_000), 500, nil, testLogger())
	require.NoError(t, reg.RegisterEngagement(engagement(alice, domain.EngagementRating, 8, "e1")))

	assert.Equal(t, uint64(1_000), reg.CalculateReward(testToken, alice), "500 base x2 early")
}
