package source

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// getOrders(bytes32) -> (uint8 side, uint256 price, uint256 volume)[]
var getOrdersSelector = crypto.Keccak256([]byte("getOrders(bytes32)"))[:4]

const wordSize = 32

// ChainSource reads resting orders from an on-chain order-store contract.
// One eth_call per tracked market, all within a single fetch cycle.
type ChainSource struct {
	logger   *zap.Logger
	client   *ethclient.Client
	contract common.Address
	markets  []Market
	// atoms-to-units scale: on-chain prices and volumes are integer atoms
	// with this many decimal places.
	atomDecimals int32
}

// NewChainSource dials the RPC endpoint and returns a source tracking the
// given markets. Dial failures surface here, at startup.
func NewChainSource(logger *zap.Logger, rpcURL, contractAddr string, markets []Market, atomDecimals int32) (*ChainSource, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain rpc: %w", err)
	}
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid order-store contract address: %s", contractAddr)
	}
	return &ChainSource{
		logger:       logger.Named("chain-source"),
		client:       client,
		contract:     common.HexToAddress(contractAddr),
		markets:      markets,
		atomDecimals: atomDecimals,
	}, nil
}

// FetchOrders reads the current order set for all tracked markets. Network
// and RPC failures are marked retryable so the cache keeps its previous
// snapshot.
func (s *ChainSource) FetchOrders(ctx context.Context) (*RawOrderSet, error) {
	set := &RawOrderSet{FetchedAt: time.Now().UTC()}

	for _, market := range s.markets {
		raw, err := s.client.CallContract(ctx, ethereum.CallMsg{
			To:   &s.contract,
			Data: marketCallData(market),
		}, nil)
		if err != nil {
			return nil, Retryable(fmt.Errorf("eth_call for %s failed: %w", market, err))
		}

		orders, err := decodeOrders(market, raw, s.atomDecimals)
		if err != nil {
			// A malformed contract response is not transient.
			return nil, fmt.Errorf("decode orders for %s: %w", market, err)
		}
		set.Orders = append(set.Orders, orders...)
	}

	s.logger.Debug("fetched on-chain orders",
		zap.Int("orders", len(set.Orders)),
		zap.Int("markets", len(s.markets)))

	return set, nil
}

func marketCallData(m Market) []byte {
	id := crypto.Keccak256([]byte(m.String()))
	data := make([]byte, 0, 4+wordSize)
	data = append(data, getOrdersSelector...)
	data = append(data, id...)
	return data
}

// decodeOrders unpacks the ABI-encoded dynamic array of
// (uint8, uint256, uint256) tuples returned by getOrders.
func decodeOrders(market Market, raw []byte, atomDecimals int32) ([]RawOrder, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw) < 2*wordSize {
		return nil, fmt.Errorf("response too short: %d bytes", len(raw))
	}

	count := new(big.Int).SetBytes(raw[wordSize : 2*wordSize])
	if !count.IsInt64() {
		return nil, fmt.Errorf("implausible order count %s", count)
	}
	n := int(count.Int64())

	body := raw[2*wordSize:]
	if len(body) < n*3*wordSize {
		return nil, fmt.Errorf("truncated response: want %d orders, got %d bytes", n, len(body))
	}

	orders := make([]RawOrder, 0, n)
	for i := 0; i < n; i++ {
		base := i * 3 * wordSize
		sideWord := new(big.Int).SetBytes(body[base : base+wordSize])
		price := new(big.Int).SetBytes(body[base+wordSize : base+2*wordSize])
		volume := new(big.Int).SetBytes(body[base+2*wordSize : base+3*wordSize])

		side := SideAsk
		if sideWord.Sign() == 0 {
			side = SideBid
		}

		orders = append(orders, RawOrder{
			Market: market,
			Side:   side,
			Price:  decimal.NewFromBigInt(price, -atomDecimals),
			Volume: decimal.NewFromBigInt(volume, -atomDecimals),
		})
	}
	return orders, nil
}
