package source

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/silvermint/dexquote/internal/orderbook"
)

// Market identifies a traded pair by its base and quote asset symbols.
type Market struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (m Market) String() string {
	return m.Base + "-" + m.Quote
}

// ParseMarket parses a "BASE-QUOTE" pair string.
func ParseMarket(s string) (Market, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Market{}, errors.New("market must be of the form BASE-QUOTE")
	}
	return Market{Base: parts[0], Quote: parts[1]}, nil
}

// Side of a resting order.
const (
	SideBid = "bid"
	SideAsk = "ask"
)

// RawOrder is a single resting order as observed on chain, already scaled
// from integer atoms to asset units.
type RawOrder struct {
	Market Market          `json:"market"`
	Side   string          `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// RawOrderSet is the full set of currently known orders across all tracked
// markets at one fetch. It is owned by the orderbook cache and only exposed
// through derived, serialized forms.
type RawOrderSet struct {
	Orders    []RawOrder `json:"orders"`
	FetchedAt time.Time  `json:"fetched_at"`
}

// MarketOrders splits the set's orders for one market into bid and ask offers.
func (s *RawOrderSet) MarketOrders(m Market) (bids, asks []orderbook.Offer) {
	for _, o := range s.Orders {
		if o.Market != m {
			continue
		}
		offer := orderbook.Offer{Price: o.Price, Volume: o.Volume}
		if o.Side == SideBid {
			bids = append(bids, offer)
		} else {
			asks = append(asks, offer)
		}
	}
	return bids, asks
}

// Markets returns the distinct markets present in the set, in first-seen order.
func (s *RawOrderSet) Markets() []Market {
	seen := make(map[Market]struct{}, 8)
	var out []Market
	for _, o := range s.Orders {
		if _, ok := seen[o.Market]; ok {
			continue
		}
		seen[o.Market] = struct{}{}
		out = append(out, o.Market)
	}
	return out
}

// DataSource is the external collaborator the cache polls for raw order data.
type DataSource interface {
	FetchOrders(ctx context.Context) (*RawOrderSet, error)
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient so the cache applies its last-known-good
// policy instead of treating the failure as fatal.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked transient by Retryable.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
