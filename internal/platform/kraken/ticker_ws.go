package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfold/marginbot/internal/domain"
)

// TickerFeed subscribes to the public WebSocket ticker stream and writes last
// trade prices into a price cache. It reconnects with a fixed backoff on
// disconnect. The feed is advisory: consumers fall back to the REST ticker on
// cache misses, so a dropped connection degrades latency, not correctness.
type TickerFeed struct {
	wsURL  string
	pairs  map[string]string // ws pair name -> ledger symbol
	cache  domain.PriceCache
	logger *slog.Logger
}

// NewTickerFeed creates a feed for the given ws-pair-to-symbol mapping.
func NewTickerFeed(wsURL string, pairs map[string]string, cache domain.PriceCache, logger *slog.Logger) *TickerFeed {
	return &TickerFeed{
		wsURL:  wsURL,
		pairs:  pairs,
		cache:  cache,
		logger: logger.With(slog.String("component", "ticker_feed")),
	}
}

// Run connects, subscribes, and pumps ticker messages into the cache until
// ctx is cancelled.
func (f *TickerFeed) Run(ctx context.Context) error {
	if len(f.pairs) == 0 {
		f.logger.Info("no ws pairs configured, ticker feed disabled")
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("ticker ws disconnected, reconnecting", slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *TickerFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	pairs := make([]string, 0, len(f.pairs))
	for p := range f.pairs {
		pairs = append(pairs, p)
	}
	sub := map[string]any{
		"event":        "subscribe",
		"pair":         pairs,
		"subscription": map[string]string{"name": "ticker"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("ticker ws subscribed", slog.Int("pairs", len(pairs)))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.handleMessage(ctx, msg)
	}
}

// handleMessage parses one frame. Data frames are arrays of the form
// [channelID, payload, "ticker", pair]; everything else (heartbeats,
// subscription acks) is ignored.
func (f *TickerFeed) handleMessage(ctx context.Context, msg []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(msg, &frame); err != nil || len(frame) < 4 {
		return
	}

	var channel, pair string
	if json.Unmarshal(frame[2], &channel) != nil || channel != "ticker" {
		return
	}
	if json.Unmarshal(frame[3], &pair) != nil {
		return
	}
	symbol, ok := f.pairs[pair]
	if !ok {
		return
	}

	var payload struct {
		Last []string `json:"c"`
	}
	if json.Unmarshal(frame[1], &payload) != nil || len(payload.Last) == 0 {
		return
	}

	price := parseF(payload.Last[0])
	if price <= 0 {
		return
	}
	if err := f.cache.SetPrice(ctx, symbol, price, time.Now().UTC()); err != nil {
		f.logger.Warn("price cache write failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}
