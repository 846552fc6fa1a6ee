package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mediafi/ipledger/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each token's
// latest oracle price is stored at key "ipx:price:{tokenID}" with fields
// "price", "change_bps", and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	c *Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c}
}

func priceKey(tokenID domain.TokenID) string {
	return "ipx:price:" + string(tokenID)
}

// SetPrice stores the latest derived price for a token.
func (pc *PriceCache) SetPrice(ctx context.Context, tokenID domain.TokenID, price uint64, changeBps int64, ts time.Time) error {
	fields := map[string]interface{}{
		"price":      strconv.FormatUint(price, 10),
		"change_bps": strconv.FormatInt(changeBps, 10),
		"ts":         strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.c.Underlying().HSet(ctx, priceKey(tokenID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", tokenID, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for a token. It
// returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, tokenID domain.TokenID) (uint64, time.Time, error) {
	vals, err := pc.c.Underlying().HGetAll(ctx, priceKey(tokenID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", tokenID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, err := strconv.ParseUint(vals["price"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", tokenID, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price ts %s: %w", tokenID, err)
	}
	return price, time.Unix(0, tsNano), nil
}
