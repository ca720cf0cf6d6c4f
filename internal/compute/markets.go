package compute

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/silvermint/dexquote/internal/cache"
	"github.com/silvermint/dexquote/internal/orderbook"
)

// MarketsArgs are the serialized inputs of the markets job.
type MarketsArgs struct {
	Snapshot json.RawMessage `json:"snapshot"`
	Base     string          `json:"base"`
	Quote    string          `json:"quote"`
	Hops     int             `json:"hops"`
}

// MarketsResult is the synthesized transitive order book between two assets,
// derived by chaining through up to Hops intermediate markets.
type MarketsResult struct {
	Base    string         `json:"base"`
	Quote   string         `json:"quote"`
	Hops    int            `json:"hops"`
	Bids    orderbook.Side `json:"bids"`
	Asks    orderbook.Side `json:"asks"`
	TakenAt time.Time      `json:"taken_at"`
}

// book is one directed market: prices are quoted in Quote per unit of Base.
type book struct {
	base, quote string
	bids, asks  orderbook.Side
}

// Markets synthesizes the transitive order book for args.Base/args.Quote
// over the serialized snapshot payload, chaining through at most args.Hops
// intermediate assets.
func Markets(raw json.RawMessage) (interface{}, error) {
	var args MarketsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("failed to decode markets args: %w", err)
	}
	if args.Base == "" || args.Quote == "" || args.Base == args.Quote {
		return nil, fmt.Errorf("invalid market pair %q-%q", args.Base, args.Quote)
	}
	if args.Hops < 0 {
		return nil, fmt.Errorf("hops must not be negative: %d", args.Hops)
	}

	var payload cache.SerializedPayload
	if err := json.Unmarshal(args.Snapshot, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot payload: %w", err)
	}

	graph := buildGraph(payload)

	var bids, asks []orderbook.Offer
	for _, path := range findPaths(graph, args.Base, args.Quote, args.Hops) {
		chained := chainPath(path)
		bids = append(bids, chained.bids...)
		asks = append(asks, chained.asks...)
	}

	merged, err := orderbook.Aggregate(bids, asks)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transitive book: %w", err)
	}

	return &MarketsResult{
		Base:    args.Base,
		Quote:   args.Quote,
		Hops:    args.Hops,
		Bids:    merged.Bids,
		Asks:    merged.Asks,
		TakenAt: payload.TakenAt,
	}, nil
}

// buildGraph indexes each book by base asset, including the inverted
// direction so a BASE-QUOTE book also connects QUOTE to BASE.
func buildGraph(payload cache.SerializedPayload) map[string][]book {
	graph := make(map[string][]book, len(payload.Books)*2)
	for _, b := range payload.Books {
		direct := book{base: b.Base, quote: b.Quote, bids: b.Bids, asks: b.Asks}
		graph[direct.base] = append(graph[direct.base], direct)

		inverse := invert(direct)
		graph[inverse.base] = append(graph[inverse.base], inverse)
	}
	return graph
}

// invert flips a book's direction: a bid for BASE priced in QUOTE is an ask
// for QUOTE priced in BASE, with volume re-expressed in the new base asset.
func invert(b book) book {
	inv := book{base: b.quote, quote: b.base}
	for _, offer := range b.bids {
		if offer.Price.IsZero() {
			continue
		}
		inv.asks = append(inv.asks, orderbook.Offer{
			Price:  decimal.NewFromInt(1).Div(offer.Price),
			Volume: offer.Volume.Mul(offer.Price),
		})
	}
	for _, offer := range b.asks {
		if offer.Price.IsZero() {
			continue
		}
		inv.bids = append(inv.bids, orderbook.Offer{
			Price:  decimal.NewFromInt(1).Div(offer.Price),
			Volume: offer.Volume.Mul(offer.Price),
		})
	}
	return inv
}

// findPaths enumerates acyclic market paths from base to quote with at most
// maxHops intermediate assets.
func findPaths(graph map[string][]book, base, quote string, maxHops int) [][]book {
	var paths [][]book
	visited := map[string]bool{base: true}

	var walk func(from string, path []book)
	walk = func(from string, path []book) {
		for _, b := range graph[from] {
			if b.quote == quote {
				full := make([]book, len(path)+1)
				copy(full, path)
				full[len(path)] = b
				paths = append(paths, full)
				continue
			}
			// an intermediate asset costs one hop
			if len(path) >= maxHops || visited[b.quote] {
				continue
			}
			visited[b.quote] = true
			walk(b.quote, append(path, b))
			visited[b.quote] = false
		}
	}
	walk(base, nil)
	return paths
}

// chainPath folds a path of adjacent books into a single synthetic book
// quoted in the final asset.
func chainPath(path []book) book {
	out := path[0]
	for _, next := range path[1:] {
		out = chainBooks(out, next)
	}
	return out
}

// chainBooks combines an A/B book with a B/C book into an A/C book. Offers
// are consumed greedily from the best level of each side, so the synthetic
// volume at each price level is bounded by the scarcer leg.
func chainBooks(first, second book) book {
	return book{
		base:  first.base,
		quote: second.quote,
		bids:  chainSides(first.bids, second.bids),
		asks:  chainSides(first.asks, second.asks),
	}
}

func chainSides(first, second orderbook.Side) orderbook.Side {
	var out orderbook.Side
	i, j := 0, 0

	var remA, remB decimal.Decimal // remaining volume of the current levels
	if i < len(first) {
		remA = first[i].Volume
	}
	if j < len(second) {
		remB = second[j].Volume
	}

	for i < len(first) && j < len(second) {
		p1 := first[i].Price

		// amount of the base asset tradable at this pairing, limited by the
		// first leg's volume and by how much of the middle asset the second
		// leg can absorb
		take := remA
		if !p1.IsZero() {
			viaSecond := remB.Div(p1)
			if viaSecond.LessThan(take) {
				take = viaSecond
			}
		}

		if take.IsPositive() {
			out = append(out, orderbook.Offer{
				Price:  p1.Mul(second[j].Price),
				Volume: take,
			})
			remA = remA.Sub(take)
			remB = remB.Sub(take.Mul(p1))
		}

		if !remA.IsPositive() {
			i++
			if i < len(first) {
				remA = first[i].Volume
			}
		}
		if !remB.IsPositive() && !p1.IsZero() {
			j++
			if j < len(second) {
				remB = second[j].Volume
			}
		}
	}
	return out
}
