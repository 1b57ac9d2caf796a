// Package feed is the exchange connectivity collaborator: a thin
// gorilla/websocket client that turns Binance combined trade and depth
// streams into ticks and order-book snapshots for the core.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0xc0d3d00d/marketcore/internal/domain"
)

// TickSink consumes trade ticks; the aggregator implements it.
type TickSink interface {
	ProcessTick(symbol string, price, volume float64, timestamp time.Time)
}

// BookSink consumes order-book snapshots; the indicator engine implements it.
type BookSink interface {
	CalculateAllIndicators(symbol string, book *domain.OrderBookSnapshot, candle *domain.Candle)
}

type Config struct {
	Endpoint    string   // e.g. wss://stream.binance.com:9443
	Symbols     []string // e.g. BTCUSDT, ETHUSDT
	DepthLevels int      // partial book depth, 5/10/20
}

type Client struct {
	cfg   Config
	ticks TickSink
	books BookSink
}

func NewClient(cfg Config, ticks TickSink, books BookSink) *Client {
	if cfg.DepthLevels == 0 {
		cfg.DepthLevels = 20
	}
	return &Client{cfg: cfg, ticks: ticks, books: books}
}

func (c *Client) streamURL() string {
	streams := make([]string, 0, len(c.cfg.Symbols)*2)
	for _, symbol := range c.cfg.Symbols {
		lower := strings.ToLower(symbol)
		streams = append(streams,
			lower+"@trade",
			fmt.Sprintf("%s@depth%d@100ms", lower, c.cfg.DepthLevels),
		)
	}
	return c.cfg.Endpoint + "/stream?streams=" + strings.Join(streams, "/")
}

// Run connects and consumes until ctx is cancelled, reconnecting with
// backoff on any read or dial failure.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.consume(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("feed disconnected, reconnecting", "error", err, "backoff", backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *Client) consume(ctx context.Context) error {
	url := c.streamURL()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", url, err)
	}
	defer conn.Close()
	slog.Info("feed connected", "url", url, "symbols", c.cfg.Symbols)

	// The watchdog must not outlive this call, or every reconnect would
	// leak one goroutine pinning its dead connection.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(payload)
	}
}

type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tradeEvent struct {
	Symbol   string `json:"s"`
	Price    string `json:"p"`
	Quantity string `json:"q"`
	TradeMs  int64  `json:"T"` // trade time, unix millis
}

type depthEvent struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

func (c *Client) handleMessage(payload []byte) {
	var msg combinedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		slog.Debug("feed dropping unparseable message", "error", err)
		return
	}

	switch {
	case strings.Contains(msg.Stream, "@trade"):
		c.handleTrade(msg.Data)
	case strings.Contains(msg.Stream, "@depth"):
		c.handleDepth(msg.Stream, msg.Data)
	}
}

func (c *Client) handleTrade(data json.RawMessage) {
	var event tradeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Debug("feed dropping bad trade event", "error", err)
		return
	}
	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil {
		return
	}
	volume, err := strconv.ParseFloat(event.Quantity, 64)
	if err != nil {
		return
	}
	c.ticks.ProcessTick(event.Symbol, price, volume, time.UnixMilli(event.TradeMs).UTC())
}

func (c *Client) handleDepth(stream string, data json.RawMessage) {
	var event depthEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Debug("feed dropping bad depth event", "error", err)
		return
	}

	// Partial depth events carry no symbol; it is encoded in the stream name.
	symbol := strings.ToUpper(strings.SplitN(stream, "@", 2)[0])
	book := &domain.OrderBookSnapshot{
		Symbol:       symbol,
		Timestamp:    time.Now().UTC(),
		LastUpdateID: event.LastUpdateID,
		Bids:         parseLevels(event.Bids),
		Asks:         parseLevels(event.Asks),
	}
	// The snapshot is freshly built per message, so consumers own it outright.
	c.books.CalculateAllIndicators(symbol, book, nil)
}

func parseLevels(raw [][2]string) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			continue
		}
		quantity, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Quantity: quantity})
	}
	return levels
}
