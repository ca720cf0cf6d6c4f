package orderbook

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidOffer marks an offer with a negative price or volume.
var ErrInvalidOffer = errors.New("invalid offer")

// Aggregate turns raw bid and ask offers into a price-sorted snapshot.
//
// Zero-volume offers are dropped. Bids are sorted descending and asks
// ascending by price; offers at equal prices keep their input order. An
// offer with a negative price or volume fails the whole batch with
// ErrInvalidOffer.
func Aggregate(rawBids, rawAsks []Offer) (*Snapshot, error) {
	bids, err := normalizeSide(rawBids, "bid")
	if err != nil {
		return nil, err
	}
	asks, err := normalizeSide(rawAsks, "ask")
	if err != nil {
		return nil, err
	}

	sortBids(bids)
	sortAsks(asks)

	return &Snapshot{Bids: bids, Asks: asks, TakenAt: time.Now().UTC()}, nil
}

// AggregateLenient is the cache-facing variant: malformed offers are dropped
// instead of failing the batch, and the number of dropped offers is returned
// so the caller can log it.
func AggregateLenient(rawBids, rawAsks []Offer) (*Snapshot, int) {
	bids, droppedBids := normalizeSideLenient(rawBids)
	asks, droppedAsks := normalizeSideLenient(rawAsks)

	sortBids(bids)
	sortAsks(asks)

	return &Snapshot{Bids: bids, Asks: asks, TakenAt: time.Now().UTC()}, droppedBids + droppedAsks
}

func normalizeSide(raw []Offer, side string) (Side, error) {
	out := make(Side, 0, len(raw))
	for i, offer := range raw {
		if offer.Price.IsNegative() || offer.Volume.IsNegative() {
			return nil, fmt.Errorf("%w: %s %d price=%s volume=%s",
				ErrInvalidOffer, side, i, offer.Price.String(), offer.Volume.String())
		}
		if offer.Volume.IsZero() {
			continue
		}
		out = append(out, offer)
	}
	return out, nil
}

func normalizeSideLenient(raw []Offer) (Side, int) {
	out := make(Side, 0, len(raw))
	dropped := 0
	for _, offer := range raw {
		if offer.Price.IsNegative() || offer.Volume.IsNegative() {
			dropped++
			continue
		}
		if offer.Volume.IsZero() {
			continue
		}
		out = append(out, offer)
	}
	return out, dropped
}

func sortBids(bids Side) {
	sort.SliceStable(bids, func(i, j int) bool {
		return bids[i].Price.GreaterThan(bids[j].Price)
	})
}

func sortAsks(asks Side) {
	sort.SliceStable(asks, func(i, j int) bool {
		return asks[i].Price.LessThan(asks[j].Price)
	})
}
