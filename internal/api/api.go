// Package api exposes the query surface over HTTP. It is a thin layer: all
// reads route straight to the aggregator, the stores and the indicator
// engine.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/0xc0d3d00d/marketcore/internal/aggregator"
	"github.com/0xc0d3d00d/marketcore/internal/domain"
	"github.com/0xc0d3d00d/marketcore/internal/indicator"
	"github.com/0xc0d3d00d/marketcore/internal/storage"
)

type Server struct {
	agg     *aggregator.Aggregator
	candles *storage.Store[*domain.Candle]
	samples *storage.Store[*domain.IndicatorSample]
	engine  *indicator.Engine
}

func NewServer(
	agg *aggregator.Aggregator,
	candles *storage.Store[*domain.Candle],
	samples *storage.Store[*domain.IndicatorSample],
	engine *indicator.Engine,
) *Server {
	return &Server{agg: agg, candles: candles, samples: samples, engine: engine}
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.GET("/candles/:symbol/:timeframe/history", s.candleHistory)
	v1.GET("/candles/:symbol/:timeframe", s.loadCandles)
	v1.GET("/indicators/samples/:symbol/:timeframe", s.loadIndicators)
	v1.GET("/indicators/history", s.indicatorHistory)
	v1.GET("/timeframes/:symbol", s.availableTimeframes)
	v1.GET("/diagnostics", s.diagnostics)
	return router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"indicators_healthy": s.engine.Healthy(),
	})
}

func parseTimeframe(c *gin.Context) (domain.Timeframe, bool) {
	tf, err := domain.ParseTimeframe(c.Param("timeframe"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown timeframe"})
		return 0, false
	}
	return tf, true
}

func parseRange(c *gin.Context) (from, to time.Time, ok bool) {
	from, to = time.Time{}, time.Now().UTC()
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
			return from, to, false
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
			return from, to, false
		}
		to = parsed
	}
	return from, to, true
}

func (s *Server) candleHistory(c *gin.Context) {
	tf, ok := parseTimeframe(c)
	if !ok {
		return
	}
	candles := s.agg.GetCandleHistory(c.Param("symbol"), tf)
	c.JSON(http.StatusOK, gin.H{"candles": toCandleDTOs(candles)})
}

func (s *Server) loadCandles(c *gin.Context) {
	tf, ok := parseTimeframe(c)
	if !ok {
		return
	}
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	candles, err := s.candles.Load(c.Param("symbol"), tf, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": toCandleDTOs(candles)})
}

func (s *Server) loadIndicators(c *gin.Context) {
	tf, ok := parseTimeframe(c)
	if !ok {
		return
	}
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	samples, err := s.samples.Load(c.Param("symbol"), tf, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"samples": toSampleDTOs(samples)})
}

func (s *Server) indicatorHistory(c *gin.Context) {
	var tf domain.Timeframe
	if raw := c.Query("timeframe"); raw != "" {
		parsed, err := domain.ParseTimeframe(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown timeframe"})
			return
		}
		tf = parsed
	}
	samples := s.engine.GetIndicatorHistory(c.Query("name"), c.Query("symbol"), tf)
	c.JSON(http.StatusOK, gin.H{"samples": toSampleDTOs(samples)})
}

func (s *Server) availableTimeframes(c *gin.Context) {
	symbol := c.Param("symbol")
	seen := make(map[domain.Timeframe]struct{})
	for _, tf := range s.agg.GetAvailableTimeframes(symbol) {
		seen[tf] = struct{}{}
	}
	if persisted, err := s.candles.Timeframes(symbol); err == nil {
		for _, tf := range persisted {
			seen[tf] = struct{}{}
		}
	}

	out := []string{}
	for _, tf := range domain.AllTimeframes() {
		if _, ok := seen[tf]; ok {
			out = append(out, tf.String())
		}
	}
	c.JSON(http.StatusOK, gin.H{"timeframes": out})
}

func (s *Server) diagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"aggregator":      s.agg.Diagnostics(),
		"candle_store":    s.candles.Diagnostics(),
		"indicator_store": s.samples.Diagnostics(),
		"indicators":      s.engine.Diagnostics(),
	})
}
