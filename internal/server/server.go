package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/silvermint/dexquote/internal/cache"
	"github.com/silvermint/dexquote/internal/compute"
	"github.com/silvermint/dexquote/internal/pool"
	"github.com/silvermint/dexquote/internal/source"
	"github.com/silvermint/dexquote/pkg/metrics"
)

// Server translates price-estimation queries into cache reads and pool
// submissions. It never runs the CPU-bound computation itself.
type Server struct {
	logger         *zap.Logger
	books          *cache.Cache
	compute        *pool.Pool
	maxHops        int
	roundingBuffer decimal.Decimal
}

// New creates the HTTP server.
func New(logger *zap.Logger, books *cache.Cache, compute *pool.Pool, maxHops int, roundingBuffer decimal.Decimal) *Server {
	return &Server{
		logger:         logger.Named("http-server"),
		books:          books,
		compute:        compute,
		maxHops:        maxHops,
		roundingBuffer: roundingBuffer,
	}
}

// Router builds the gin engine with logging, recovery and CORS middleware.
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, "2006-01-02T15:04:05Z07:00", true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(cors.Default())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/markets/:pair", s.handleMarkets)
	router.GET("/markets/:pair/estimated-buy-amount/:quoteAmount", s.handleEstimatedBuyAmount)

	return router
}

// Start serves HTTP on addr, blocking until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.Router().Run(addr)
}

func (s *Server) handleMarkets(c *gin.Context) {
	err := metrics.ExecuteWithMetrics(c.Request.Context(), requestInstruments(), func(ctx context.Context) error {
		if !atomsRequested(c) {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "only atom-denominated amounts are implemented; pass atoms=true"})
			return nil
		}

		market, err := source.ParseMarket(c.Param("pair"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return nil
		}

		hops := clampHops(c.Query("hops"), s.maxHops)

		snapshot, err := s.books.SerializeOrderbooks()
		if err != nil {
			s.writeError(c, err)
			return err
		}

		future, err := s.compute.Submit(pool.KindMarkets, compute.MarketsArgs{
			Snapshot: snapshot,
			Base:     market.Base,
			Quote:    market.Quote,
			Hops:     hops,
		})
		if err != nil {
			s.writeError(c, err)
			return err
		}

		result, err := future.Wait(ctx)
		if err != nil {
			s.writeError(c, err)
			return err
		}

		c.JSON(http.StatusOK, result)
		return nil
	}, "markets")

	if err != nil {
		s.logger.Warn("markets request failed", zap.Error(err))
	}
}

func (s *Server) handleEstimatedBuyAmount(c *gin.Context) {
	err := metrics.ExecuteWithMetrics(c.Request.Context(), requestInstruments(), func(ctx context.Context) error {
		if !atomsRequested(c) {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "only atom-denominated amounts are implemented; pass atoms=true"})
			return nil
		}

		market, err := source.ParseMarket(c.Param("pair"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return nil
		}

		quoteAmount, err := decimal.NewFromString(c.Param("quoteAmount"))
		if err != nil || !quoteAmount.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "quote amount must be a positive number"})
			return nil
		}

		encoded, err := s.books.EncodedOrders()
		if err != nil {
			s.writeError(c, err)
			return err
		}

		future, err := s.compute.Submit(pool.KindEstimatedBuyAmount, compute.EstimateArgs{
			Orders:         encoded,
			Base:           market.Base,
			Quote:          market.Quote,
			QuoteAmount:    quoteAmount,
			RoundingBuffer: s.roundingBuffer,
		})
		if err != nil {
			s.writeError(c, err)
			return err
		}

		result, err := future.Wait(ctx)
		if err != nil {
			s.writeError(c, err)
			return err
		}

		c.JSON(http.StatusOK, result)
		return nil
	}, "estimated-buy-amount")

	if err != nil {
		s.logger.Warn("estimated-buy-amount request failed", zap.Error(err))
	}
}

// atomsRequested reports whether the client asked for atom-denominated
// amounts. Anything else is rejected rather than silently defaulted.
func atomsRequested(c *gin.Context) bool {
	return c.Query("atoms") == "true"
}

// clampHops applies the client-supplied hops value only when it is a valid
// non-negative integer strictly less than maxHops; anything else falls back
// to maxHops. A client can therefore never request exactly maxHops
// explicitly, which mirrors the long-standing API behavior.
func clampHops(raw string, maxHops int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n >= maxHops {
		return maxHops
	}
	return n
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, cache.ErrNoSnapshot):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "orderbook data not yet available"})
	case errors.Is(err, cache.ErrMarketNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, pool.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "compute queue is full, retry later"})
	case errors.Is(err, pool.ErrPoolClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service is shutting down"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled before the computation finished"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func requestInstruments() metrics.Instruments {
	return metrics.Instruments{
		Total:           metrics.RequestsTotal,
		Errors:          metrics.RequestErrors,
		Duration:        metrics.RequestDuration,
		LabeledTotal:    metrics.RequestsByRoute,
		LabeledDuration: metrics.RequestDurationByRoute,
	}
}
