package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EngagementKind enumerates the recordable engagement actions.
type EngagementKind string

const (
	EngagementRating     EngagementKind = "rating"
	EngagementPrediction EngagementKind = "prediction"
	EngagementVote       EngagementKind = "vote"
	EngagementReview     EngagementKind = "review"
)

// Valid reports whether the kind is one of the accepted engagement types.
func (k EngagementKind) Valid() bool {
	switch k {
	case EngagementRating, EngagementPrediction, EngagementVote, EngagementReview:
		return true
	}
	return false
}

// Engagement is one recorded user action against a token. Rating is on the
// 0..10 scale. PredictionRef points at the predicted outcome and is required
// for prediction-type entries. EventID is the caller-supplied unique id of
// the underlying engagement event, used to fence duplicate reward payouts.
type Engagement struct {
	TokenID       TokenID
	Contributor   common.Address
	Kind          EngagementKind
	Rating        uint64
	PredictionRef string
	EventID       string
	At            time.Time
}

// ContributorRecord is the per-(token, contributor) engagement history.
// AverageRating is scaled by 100; PredictionAccuracy is basis points.
// Early is fixed at first registration and never changes afterwards.
type ContributorRecord struct {
	TokenID            TokenID
	Contributor        common.Address
	Engagements        uint64
	AverageRating      uint64
	PredictionAccuracy uint64
	TotalRewards       uint64
	Early              bool
	FirstSeenAt        time.Time
}

// RewardDistribution is one immutable payout log entry. Entries are
// append-only and never mutated after being written.
type RewardDistribution struct {
	ID            string
	TokenID       TokenID
	Recipient     common.Address
	Amount        uint64
	Reason        string
	EventID       string
	DistributedAt time.Time
}
