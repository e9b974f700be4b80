package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goperp/internal/account"
	"github.com/betbot/goperp/internal/agentkey"
	"github.com/betbot/goperp/perp/markets"
	"github.com/betbot/goperp/perp/stream"
	"github.com/betbot/goperp/pkg/history"
	"github.com/betbot/goperp/pkg/ratelimit"
)

var log = logrus.WithField("component", "api")

// Server exposes read-only JSON views of the trader's runtime state.
type Server struct {
	store   *account.Store
	markets *markets.Store
	stream  *stream.Client
	agents  *agentkey.Manager
	journal *history.Journal
	gate    *ratelimit.RetryAfterGate
	bucket  *ratelimit.TokenBucket

	httpSrv *http.Server
}

type Options struct {
	Store   *account.Store
	Markets *markets.Store
	Stream  *stream.Client
	Agents  *agentkey.Manager
	Journal *history.Journal
	Gate    *ratelimit.RetryAfterGate
}

func New(opts Options) *Server {
	return &Server{
		store:   opts.Store,
		markets: opts.Markets,
		stream:  opts.Stream,
		agents:  opts.Agents,
		journal: opts.Journal,
		gate:    opts.Gate,
		// local clients only; the bucket just stops a runaway poller
		bucket: ratelimit.NewTokenBucket(120, 60),
	}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.Use(func(c *gin.Context) {
		if !s.bucket.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	})
	api.GET("/account", s.handleAccount)
	api.GET("/positions", s.handlePositions)
	api.GET("/orders", s.handleOrders)
	api.GET("/markets", s.handleMarkets)
	api.GET("/fills", s.handleFills)
	api.GET("/status", s.handleStatus)
	return r
}

// Serve blocks until the listener fails or Shutdown is called.
func (s *Server) Serve(addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Router()}
	log.Infof("📡 状态接口监听 %s", addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleAccount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"address": s.store.Address(),
		"account": s.store.Account(),
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Positions())
}

func (s *Server) handleOrders(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Orders())
}

func (s *Server) handleMarkets(c *gin.Context) {
	c.JSON(http.StatusOK, s.markets.Markets())
}

func (s *Server) handleFills(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusOK, []history.Fill{})
		return
	}
	fills, err := s.journal.Recent(c.Request.Context(), s.store.Address(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, fills)
}

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"time":           time.Now().UTC().Format(time.RFC3339),
		"markets_loaded": s.markets.Loaded(),
	}
	if s.stream != nil {
		status["stream"] = s.stream.State().String()
	}
	if s.agents != nil {
		status["agent"] = s.agents.State().String()
	}
	if s.gate != nil {
		status["rate_limited_seconds"] = int(s.gate.Remaining().Seconds())
	}
	c.JSON(http.StatusOK, status)
}
