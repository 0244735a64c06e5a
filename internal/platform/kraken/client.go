// Package kraken implements the domain.Exchange interface against the Kraken
// spot/margin REST API and provides a public WebSocket ticker feed.
package kraken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quantfold/marginbot/internal/crypto"
	"github.com/quantfold/marginbot/internal/domain"
)

// Client is the signed REST client for the exchange. It is stateless apart
// from the signer's nonce counter and performs no retries of its own:
// resubmitting an order blindly risks a duplicate fill, so retry decisions
// belong to callers that understand order semantics.
type Client struct {
	baseURL    string
	signer     *crypto.Signer
	httpClient *http.Client
}

// NewClient creates a REST client rooted at baseURL, signing private
// requests with signer.
func NewClient(baseURL string, signer *crypto.Signer, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		signer:     signer,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Ticker returns the current public quote for symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	params := url.Values{}
	params.Set("pair", symbol)

	raw, err := c.public(ctx, "/0/public/Ticker", params)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("kraken: get ticker %s: %w", symbol, err)
	}

	var result map[string]tickerPayload
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.Ticker{}, fmt.Errorf("kraken: decode ticker: %w", err)
	}

	for _, tp := range result {
		if len(tp.Last) == 0 || len(tp.Bid) == 0 || len(tp.Ask) == 0 {
			break
		}
		return domain.Ticker{
			Symbol: symbol,
			Last:   parseF(tp.Last[0]),
			Bid:    parseF(tp.Bid[0]),
			Ask:    parseF(tp.Ask[0]),
			Time:   time.Now().UTC(),
		}, nil
	}
	return domain.Ticker{}, fmt.Errorf("kraken: ticker %s: empty result: %w", symbol, domain.ErrNotFound)
}

// Balance returns account balances keyed by asset code.
func (c *Client) Balance(ctx context.Context) (map[string]float64, error) {
	raw, err := c.private(ctx, "/0/private/Balance", url.Values{})
	if err != nil {
		return nil, fmt.Errorf("kraken: get balance: %w", err)
	}

	var result map[string]string
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("kraken: decode balance: %w", err)
	}

	out := make(map[string]float64, len(result))
	for asset, amount := range result {
		out[asset] = parseF(amount)
	}
	return out, nil
}

// OpenPositions returns the live margin positions, netted per symbol. The
// venue reports one entry per opening trade, with partial closes reflected in
// vol_closed, so live exposure is the sum of (vol - vol_closed) across
// entries.
func (c *Client) OpenPositions(ctx context.Context) ([]domain.ExchangePosition, error) {
	raw, err := c.private(ctx, "/0/private/OpenPositions", url.Values{})
	if err != nil {
		return nil, fmt.Errorf("kraken: get open positions: %w", err)
	}

	var result map[string]positionPayload
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("kraken: decode open positions: %w", err)
	}

	type acc struct {
		net  float64 // signed volume, buys positive
		cost float64
		vol  float64
	}
	byPair := map[string]*acc{}
	for _, pp := range result {
		a := byPair[pp.Pair]
		if a == nil {
			a = &acc{}
			byPair[pp.Pair] = a
		}
		live := parseF(pp.Vol) - parseF(pp.VolClosed)
		if live <= 0 {
			continue
		}
		if pp.Type == "sell" {
			a.net -= live
		} else {
			a.net += live
		}
		a.cost += parseF(pp.Cost)
		a.vol += parseF(pp.Vol)
	}

	var out []domain.ExchangePosition
	for pair, a := range byPair {
		if a.net == 0 {
			continue
		}
		side := domain.SideLong
		size := a.net
		if a.net < 0 {
			side = domain.SideShort
			size = -a.net
		}
		entry := 0.0
		if a.vol > 0 {
			entry = a.cost / a.vol
		}
		out = append(out, domain.ExchangePosition{
			Symbol:     pair,
			Side:       side,
			Size:       size,
			EntryPrice: entry,
		})
	}
	return out, nil
}

// Submit places an order and returns the venue transaction id. A venue-side
// rejection maps to domain.ErrOrderRejected; nothing was created.
func (c *Client) Submit(ctx context.Context, req domain.OrderRequest) (string, error) {
	params := url.Values{}
	params.Set("pair", req.Symbol)
	params.Set("type", string(req.Direction))
	params.Set("ordertype", string(req.Type))
	params.Set("volume", strconv.FormatFloat(req.Volume, 'f', -1, 64))

	switch req.Type {
	case domain.OrderTypeTrailingStop:
		// Trailing stops take a relative trigger offset in percent.
		params.Set("price", "+"+strconv.FormatFloat(req.TrailingPct, 'f', -1, 64)+"%")
	case domain.OrderTypeMarket:
		// No price for market orders.
	default:
		params.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
	}

	if req.ReduceOnly {
		params.Set("reduce_only", "true")
	}

	raw, err := c.private(ctx, "/0/private/AddOrder", params)
	if err != nil {
		if isVenueError(err) {
			return "", fmt.Errorf("kraken: add order: %w: %w", domain.ErrOrderRejected, err)
		}
		return "", fmt.Errorf("kraken: add order: %w", err)
	}

	var result struct {
		TxID []string `json:"txid"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("kraken: decode add order: %w", err)
	}
	if len(result.TxID) == 0 {
		return "", fmt.Errorf("kraken: add order: no txid in response: %w", domain.ErrOrderRejected)
	}
	return result.TxID[0], nil
}

// OrderStatus looks up one order by id. A recently accepted order may not be
// queryable yet; that case is reported as domain.ErrNotFound so callers can
// poll.
func (c *Client) OrderStatus(ctx context.Context, id string) (domain.OrderState, error) {
	params := url.Values{}
	params.Set("txid", id)

	raw, err := c.private(ctx, "/0/private/QueryOrders", params)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("kraken: query order %s: %w", id, err)
	}

	var result map[string]orderInfo
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.OrderState{}, fmt.Errorf("kraken: decode query order: %w", err)
	}

	info, ok := result[id]
	if !ok {
		return domain.OrderState{}, fmt.Errorf("kraken: order %s: %w", id, domain.ErrNotFound)
	}

	return domain.OrderState{
		ID:             id,
		Status:         mapOrderStatus(info.Status, domain.OrderType(info.Descr.Ordertype)),
		Volume:         parseF(info.Vol),
		VolumeExecuted: parseF(info.VolExec),
		Price:          parseF(info.Price),
	}, nil
}

// Cancel cancels an open order by id.
func (c *Client) Cancel(ctx context.Context, id string) error {
	params := url.Values{}
	params.Set("txid", id)

	if _, err := c.private(ctx, "/0/private/CancelOrder", params); err != nil {
		return fmt.Errorf("kraken: cancel order %s: %w", id, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Request plumbing
// ---------------------------------------------------------------------------

// venueError marks an error reported by the venue inside a well-formed
// response envelope, as opposed to a transport failure.
type venueError struct {
	messages []string
}

func (e *venueError) Error() string {
	return "venue error: " + strings.Join(e.messages, "; ")
}

func isVenueError(err error) bool {
	var ve *venueError
	return errors.As(err, &ve)
}

// public performs an unauthenticated GET request.
func (c *Client) public(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.do(req)
}

// private performs an authenticated POST request. The nonce is injected into
// the form body and the signature covers path, nonce, and body.
func (c *Client) private(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	nonce := c.signer.Nonce()
	params.Set("nonce", strconv.FormatInt(nonce, 10))
	body := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", c.signer.Key())
	req.Header.Set("API-Sign", c.signer.Sign(path, nonce, body))

	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExchangeUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrExchangeUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d: %s", domain.ErrExchangeUnavailable, resp.StatusCode, truncate(respBody))
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %w", domain.ErrExchangeUnavailable, err)
	}
	if len(envelope.Error) > 0 {
		return nil, &venueError{messages: envelope.Error}
	}

	return envelope.Result, nil
}

func truncate(b []byte) string {
	const maxLen = 256
	if len(b) > maxLen {
		b = b[:maxLen]
	}
	return string(b)
}

// Compile-time interface check.
var _ domain.Exchange = (*Client)(nil)
