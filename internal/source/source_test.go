package source

import (
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarket(t *testing.T) {
	m, err := ParseMarket("ETH-DAI")
	require.NoError(t, err)
	assert.Equal(t, Market{Base: "ETH", Quote: "DAI"}, m)
	assert.Equal(t, "ETH-DAI", m.String())

	for _, bad := range []string{"", "ETH", "-DAI", "ETH-"} {
		_, err := ParseMarket(bad)
		assert.Error(t, err, bad)
	}
}

func TestRawOrderSet_MarketOrders(t *testing.T) {
	ethDai := Market{Base: "ETH", Quote: "DAI"}
	batUsd := Market{Base: "BAT", Quote: "USD"}
	set := &RawOrderSet{Orders: []RawOrder{
		{Market: ethDai, Side: SideBid, Price: decimal.NewFromInt(10), Volume: decimal.NewFromInt(1)},
		{Market: ethDai, Side: SideAsk, Price: decimal.NewFromInt(12), Volume: decimal.NewFromInt(2)},
		{Market: batUsd, Side: SideBid, Price: decimal.NewFromInt(3), Volume: decimal.NewFromInt(4)},
	}}

	bids, asks := set.MarketOrders(ethDai)
	require.Len(t, bids, 1)
	require.Len(t, asks, 1)
	assert.True(t, bids[0].Price.Equal(decimal.NewFromInt(10)))
	assert.True(t, asks[0].Price.Equal(decimal.NewFromInt(12)))

	markets := set.Markets()
	assert.Equal(t, []Market{ethDai, batUsd}, markets)
}

func TestRetryable(t *testing.T) {
	base := errors.New("connection refused")
	err := Retryable(base)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, base)

	assert.False(t, IsRetryable(base))
	assert.False(t, IsRetryable(nil))
	assert.Nil(t, Retryable(nil))
}

func encodeWord(v *big.Int) []byte {
	b := make([]byte, wordSize)
	v.FillBytes(b)
	return b
}

func encodeOrdersResponse(rows [][3]int64) []byte {
	out := encodeWord(big.NewInt(wordSize)) // offset
	out = append(out, encodeWord(big.NewInt(int64(len(rows))))...)
	for _, row := range rows {
		out = append(out, encodeWord(big.NewInt(row[0]))...)
		out = append(out, encodeWord(big.NewInt(row[1]))...)
		out = append(out, encodeWord(big.NewInt(row[2]))...)
	}
	return out
}

func TestDecodeOrders(t *testing.T) {
	market := Market{Base: "ETH", Quote: "DAI"}
	raw := encodeOrdersResponse([][3]int64{
		{0, 1050, 3},     // bid
		{1, 1100, 70000}, // ask
	})

	orders, err := decodeOrders(market, raw, 2)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, SideBid, orders[0].Side)
	assert.True(t, orders[0].Price.Equal(decimal.RequireFromString("10.5")))
	assert.True(t, orders[0].Volume.Equal(decimal.RequireFromString("0.03")))

	assert.Equal(t, SideAsk, orders[1].Side)
	assert.True(t, orders[1].Price.Equal(decimal.NewFromInt(11)))
	assert.True(t, orders[1].Volume.Equal(decimal.NewFromInt(700)))
}

func TestDecodeOrders_Malformed(t *testing.T) {
	market := Market{Base: "ETH", Quote: "DAI"}

	orders, err := decodeOrders(market, nil, 2)
	require.NoError(t, err)
	assert.Empty(t, orders)

	_, err = decodeOrders(market, make([]byte, wordSize), 2)
	assert.Error(t, err)

	// claims two rows but carries none
	truncated := encodeWord(big.NewInt(wordSize))
	truncated = append(truncated, encodeWord(big.NewInt(2))...)
	_, err = decodeOrders(market, truncated, 2)
	assert.Error(t, err)
}
