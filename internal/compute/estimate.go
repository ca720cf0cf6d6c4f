package compute

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/silvermint/dexquote/internal/source"
)

// EstimateArgs are the serialized inputs of the estimatedBuyAmount job. The
// estimator works at per-order granularity, so it receives the raw encoded
// orders rather than aggregated price levels.
type EstimateArgs struct {
	Orders         json.RawMessage `json:"orders"`
	Base           string          `json:"base"`
	Quote          string          `json:"quote"`
	QuoteAmount    decimal.Decimal `json:"quote_amount"`
	RoundingBuffer decimal.Decimal `json:"rounding_buffer"`
}

// EstimateResult is the outcome of a buy-amount estimation.
type EstimateResult struct {
	Base       string          `json:"base"`
	Quote      string          `json:"quote"`
	BaseAmount decimal.Decimal `json:"base_amount"`
	QuoteSpent decimal.Decimal `json:"quote_spent"`
	// Exhausted is set when the book ran out of asks before the full quote
	// amount could be spent.
	Exhausted bool `json:"exhausted"`
}

// EstimatedBuyAmount walks the market's asks cheapest-first and accumulates
// base volume until the quote amount is spent. The rounding buffer inflates
// each effective price, so the estimate errs on the conservative side.
func EstimatedBuyAmount(raw json.RawMessage) (interface{}, error) {
	var args EstimateArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("failed to decode estimate args: %w", err)
	}
	if args.Base == "" || args.Quote == "" || args.Base == args.Quote {
		return nil, fmt.Errorf("invalid market pair %q-%q", args.Base, args.Quote)
	}
	if args.QuoteAmount.IsNegative() || args.QuoteAmount.IsZero() {
		return nil, fmt.Errorf("quote amount must be positive: %s", args.QuoteAmount)
	}
	if args.RoundingBuffer.IsNegative() {
		return nil, fmt.Errorf("rounding buffer must not be negative: %s", args.RoundingBuffer)
	}

	var set source.RawOrderSet
	if err := json.Unmarshal(args.Orders, &set); err != nil {
		return nil, fmt.Errorf("failed to decode encoded orders: %w", err)
	}

	market := source.Market{Base: args.Base, Quote: args.Quote}
	asks := make([]source.RawOrder, 0, len(set.Orders))
	for _, o := range set.Orders {
		if o.Market == market && o.Side == source.SideAsk && o.Volume.IsPositive() {
			asks = append(asks, o)
		}
	}
	sort.SliceStable(asks, func(i, j int) bool {
		return asks[i].Price.LessThan(asks[j].Price)
	})

	buffer := decimal.NewFromInt(1).Add(args.RoundingBuffer)
	remaining := args.QuoteAmount
	baseAmount := decimal.Zero
	spent := decimal.Zero

	for _, ask := range asks {
		if !remaining.IsPositive() {
			break
		}
		price := ask.Price.Mul(buffer)
		if price.IsZero() {
			// free liquidity, take it all
			baseAmount = baseAmount.Add(ask.Volume)
			continue
		}

		cost := price.Mul(ask.Volume)
		if cost.LessThanOrEqual(remaining) {
			baseAmount = baseAmount.Add(ask.Volume)
			spent = spent.Add(cost)
			remaining = remaining.Sub(cost)
			continue
		}

		partial := remaining.Div(price)
		baseAmount = baseAmount.Add(partial)
		spent = spent.Add(remaining)
		remaining = decimal.Zero
	}

	return &EstimateResult{
		Base:       args.Base,
		Quote:      args.Quote,
		BaseAmount: baseAmount,
		QuoteSpent: spent,
		Exhausted:  remaining.IsPositive(),
	}, nil
}
