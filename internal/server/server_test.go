package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/silvermint/dexquote/internal/cache"
	"github.com/silvermint/dexquote/internal/compute"
	"github.com/silvermint/dexquote/internal/pool"
	"github.com/silvermint/dexquote/internal/source"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticSource struct {
	orders []source.RawOrder
}

func (s *staticSource) FetchOrders(ctx context.Context) (*source.RawOrderSet, error) {
	return &source.RawOrderSet{Orders: s.orders, FetchedAt: time.Now().UTC()}, nil
}

func testOrders() []source.RawOrder {
	mk := func(base, quote, side string, price, volume string) source.RawOrder {
		return source.RawOrder{
			Market: source.Market{Base: base, Quote: quote},
			Side:   side,
			Price:  decimal.RequireFromString(price),
			Volume: decimal.RequireFromString(volume),
		}
	}
	return []source.RawOrder{
		mk("ETH", "DAI", source.SideBid, "10", "1"),
		mk("ETH", "DAI", source.SideBid, "12", "2"),
		mk("ETH", "DAI", source.SideAsk, "15", "1"),
		mk("ETH", "DAI", source.SideAsk, "14", "3"),
		mk("ETH", "BAT", source.SideAsk, "2", "3"),
		mk("BAT", "DAI", source.SideAsk, "5", "4"),
	}
}

func newTestServer(t *testing.T, refreshed bool) (*Server, *pool.Pool) {
	t.Helper()

	books := cache.New(zap.NewNop(), &staticSource{orders: testOrders()}, time.Minute, nil)
	if refreshed {
		require.NoError(t, books.Refresh(context.Background()))
	}

	p, err := pool.New(zap.NewNop(), pool.Config{MinWorkers: 2, MaxWorkers: 2, MaxQueueSize: 16})
	require.NoError(t, err)
	compute.RegisterHandlers(p)
	p.Start()
	t.Cleanup(p.Stop)

	return New(zap.NewNop(), books, p, 2, decimal.Zero), p
}

func doRequest(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_Markets(t *testing.T) {
	s, _ := newTestServer(t, true)

	rec := doRequest(t, s, "/markets/ETH-DAI?atoms=true&hops=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var result compute.MarketsResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "ETH", result.Base)
	assert.Equal(t, "DAI", result.Quote)
	assert.Equal(t, 1, result.Hops)
	// direct asks plus the ETH-BAT-DAI synthetic ask at 10
	require.NotEmpty(t, result.Asks)
	assert.True(t, result.Asks[0].Price.Equal(decimal.NewFromInt(10)))
}

func TestServer_MarketsHopsClamping(t *testing.T) {
	s, _ := newTestServer(t, true)

	cases := map[string]int{
		"/markets/ETH-DAI?atoms=true&hops=1":   1,
		"/markets/ETH-DAI?atoms=true&hops=0":   0,
		"/markets/ETH-DAI?atoms=true&hops=2":   2, // equal to maxHops, falls back
		"/markets/ETH-DAI?atoms=true&hops=9":   2,
		"/markets/ETH-DAI?atoms=true&hops=-1":  2,
		"/markets/ETH-DAI?atoms=true&hops=abc": 2,
		"/markets/ETH-DAI?atoms=true":          2,
	}
	for path, wantHops := range cases {
		rec := doRequest(t, s, path)
		require.Equal(t, http.StatusOK, rec.Code, path)

		var result compute.MarketsResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result), path)
		assert.Equal(t, wantHops, result.Hops, path)
	}
}

func TestServer_MissingAtomsFlagNotImplemented(t *testing.T) {
	s, _ := newTestServer(t, true)

	for _, path := range []string{
		"/markets/ETH-DAI",
		"/markets/ETH-DAI?atoms=false",
		"/markets/ETH-DAI/estimated-buy-amount/100",
	} {
		rec := doRequest(t, s, path)
		assert.Equal(t, http.StatusNotImplemented, rec.Code, path)
	}
}

func TestServer_BadPair(t *testing.T) {
	s, _ := newTestServer(t, true)

	rec := doRequest(t, s, "/markets/ETHDAI?atoms=true")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_UnknownPairYieldsEmptyBook(t *testing.T) {
	s, _ := newTestServer(t, true)

	rec := doRequest(t, s, "/markets/FOO-BAR?atoms=true")
	require.Equal(t, http.StatusOK, rec.Code)

	var result compute.MarketsResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Empty(t, result.Bids)
	assert.Empty(t, result.Asks)
}

func TestServer_NoSnapshotYet(t *testing.T) {
	s, _ := newTestServer(t, false)

	rec := doRequest(t, s, "/markets/ETH-DAI?atoms=true")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(t, s, "/markets/ETH-DAI/estimated-buy-amount/100?atoms=true")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_EstimatedBuyAmount(t *testing.T) {
	s, _ := newTestServer(t, true)

	rec := doRequest(t, s, "/markets/ETH-DAI/estimated-buy-amount/28?atoms=true")
	require.Equal(t, http.StatusOK, rec.Code)

	var result compute.EstimateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	// 28 DAI buys 2 ETH out of the 3 resting at 14
	assert.True(t, result.BaseAmount.Equal(decimal.NewFromInt(2)), result.BaseAmount.String())
	assert.False(t, result.Exhausted)
}

func TestServer_EstimatedBuyAmountBadAmount(t *testing.T) {
	s, _ := newTestServer(t, true)

	for _, path := range []string{
		"/markets/ETH-DAI/estimated-buy-amount/abc?atoms=true",
		"/markets/ETH-DAI/estimated-buy-amount/-5?atoms=true",
		"/markets/ETH-DAI/estimated-buy-amount/0?atoms=true",
	} {
		rec := doRequest(t, s, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestServer_QueueFullReturns503(t *testing.T) {
	books := cache.New(zap.NewNop(), &staticSource{orders: testOrders()}, time.Minute, nil)
	require.NoError(t, books.Refresh(context.Background()))

	p, err := pool.New(zap.NewNop(), pool.Config{MinWorkers: 1, MaxWorkers: 1, MaxQueueSize: 1})
	require.NoError(t, err)

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	p.Register(pool.KindMarkets, func(args json.RawMessage) (interface{}, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	})
	p.Register(pool.KindEstimatedBuyAmount, compute.EstimatedBuyAmount)
	p.Start()
	defer func() {
		close(release)
		p.Stop()
	}()

	// occupy the single worker, then fill the queue
	_, err = p.Submit(pool.KindMarkets, nil)
	require.NoError(t, err)
	<-started
	_, err = p.Submit(pool.KindMarkets, nil)
	require.NoError(t, err)

	s := New(zap.NewNop(), books, p, 2, decimal.Zero)
	rec := doRequest(t, s, "/markets/ETH-DAI?atoms=true")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t, true)

	rec := doRequest(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClampHops(t *testing.T) {
	assert.Equal(t, 1, clampHops("1", 2))
	assert.Equal(t, 0, clampHops("0", 2))
	assert.Equal(t, 2, clampHops("2", 2))
	assert.Equal(t, 2, clampHops("3", 2))
	assert.Equal(t, 2, clampHops("-1", 2))
	assert.Equal(t, 2, clampHops("", 2))
	assert.Equal(t, 2, clampHops("x", 2))
}
