package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

// Offer is a single resting order: a price and the volume available at that
// price. Offers are immutable once observed in a snapshot.
type Offer struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// Side is an ordered sequence of offers. Bids are ordered by descending
// price, asks by ascending price. The ordering is recomputed from raw data at
// aggregation time, never assumed pre-sorted.
type Side []Offer

// Snapshot is the aggregated, price-sorted view of one market's order book
// at a single refresh cycle. A new refresh produces a new Snapshot rather
// than mutating the old one.
type Snapshot struct {
	Bids    Side      `json:"bids"`
	Asks    Side      `json:"asks"`
	TakenAt time.Time `json:"taken_at"`
}

// BestBid returns the highest-priced bid, or false when the side is empty.
func (s *Snapshot) BestBid() (Offer, bool) {
	if len(s.Bids) == 0 {
		return Offer{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest-priced ask, or false when the side is empty.
func (s *Snapshot) BestAsk() (Offer, bool) {
	if len(s.Asks) == 0 {
		return Offer{}, false
	}
	return s.Asks[0], true
}
