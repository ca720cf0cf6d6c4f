package compute

import (
	"github.com/silvermint/dexquote/internal/pool"
)

// RegisterHandlers binds the compute algorithms to their pool job kinds.
func RegisterHandlers(p *pool.Pool) {
	p.Register(pool.KindMarkets, Markets)
	p.Register(pool.KindEstimatedBuyAmount, EstimatedBuyAmount)
}
