// Package standx is the exchange gateway: a signed REST client plus a
// websocket depth/fill stream for the StandX perpetuals API.
package standx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"makerd/internal/domain"
)

// Client is the StandX REST API client (boundary layer).
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	logger     *slog.Logger
}

// NewClient creates a StandX API client sharing the given signer.
func NewClient(baseURL string, signer *Signer) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer: signer,
		logger: slog.Default().With("module", "standx_client"),
	}
}

type placeOrderRequest struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"` // buy, sell
	OrderType   string `json:"order_type"`
	Qty         string `json:"qty"`
	Price       string `json:"price"`
	TimeInForce string `json:"time_in_force"`
	PostOnly    bool   `json:"post_only"`
	ReduceOnly  bool   `json:"reduce_only"`
	ClientOrdID string `json:"cl_ord_id"`
}

// PlaceOrder submits a post-only limit order and returns the exchange
// order id. Price and size are tick-rounded before formatting.
func (c *Client) PlaceOrder(ctx context.Context, symbol string, side domain.Side, price, size float64) (string, error) {
	spec, err := domain.SpecFor(symbol)
	if err != nil {
		return "", &domain.ProtocolError{Op: "place_order", Err: err}
	}

	reqBody := placeOrderRequest{
		Symbol:      symbol,
		Side:        string(side),
		OrderType:   "limit",
		Qty:         spec.FormatQty(size),
		Price:       spec.FormatPrice(price),
		TimeInForce: "gtc",
		PostOnly:    true,
		ReduceOnly:  false,
		ClientOrdID: uuid.NewString(),
	}

	var resp struct {
		OrderID string `json:"order_id"`
		ID      string `json:"id"`
	}
	if err := c.doRequest(ctx, "place_order", http.MethodPost, "/api/new_order", reqBody, &resp); err != nil {
		return "", err
	}

	orderID := resp.OrderID
	if orderID == "" {
		orderID = resp.ID
	}
	if orderID == "" {
		return "", &domain.ProtocolError{Op: "place_order", Err: errors.New("no order id in response")}
	}

	c.logger.Info("order placed",
		slog.String("order_id", orderID),
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.String("price", reqBody.Price),
		slog.String("qty", reqBody.Qty))
	return orderID, nil
}

// CancelOrder cancels one order. Returns ErrOrderGone when the exchange
// reports the order no longer exists.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	reqBody := map[string]string{"order_id": orderID}

	err := c.doRequest(ctx, "cancel_order", http.MethodPost, "/api/cancel_order", reqBody, nil)
	var pe *domain.ProtocolError
	if errors.As(err, &pe) && pe.Status == http.StatusNotFound {
		c.logger.Info("order already gone", slog.String("order_id", orderID))
		return domain.ErrOrderGone
	}
	if err != nil {
		return err
	}

	c.logger.Info("order cancelled", slog.String("order_id", orderID))
	return nil
}

// CancelAll bulk-cancels every resting order on the symbol. Used on
// stop/kill, best-effort.
func (c *Client) CancelAll(ctx context.Context, symbol string) error {
	reqBody := map[string]string{"symbol": symbol}
	if err := c.doRequest(ctx, "cancel_all", http.MethodPost, "/api/cancel_all_orders", reqBody, nil); err != nil {
		return err
	}
	c.logger.Info("bulk cancel sent", slog.String("symbol", symbol))
	return nil
}

type openOrderPayload struct {
	OrderID   string `json:"order_id"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Qty       string `json:"qty"`
	CreatedAt int64  `json:"created_at"` // unix millis
}

// ListOpenOrders returns the orders the exchange currently has resting
// for the symbol. This is the reconciliation source of truth.
func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]domain.ActiveOrder, error) {
	var resp struct {
		Orders []openOrderPayload `json:"orders"`
	}
	path := "/api/open_orders?symbol=" + symbol
	if err := c.doRequest(ctx, "list_open_orders", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	orders := make([]domain.ActiveOrder, 0, len(resp.Orders))
	for _, p := range resp.Orders {
		price, _ := strconv.ParseFloat(p.Price, 64)
		qty, _ := strconv.ParseFloat(p.Qty, 64)
		orders = append(orders, domain.ActiveOrder{
			OrderID:  p.OrderID,
			Symbol:   p.Symbol,
			Side:     domain.Side(p.Side),
			Price:    price,
			Size:     qty,
			PlacedAt: time.UnixMilli(p.CreatedAt),
			Status:   domain.OrderStatusOpen,
		})
	}
	return orders, nil
}

// RefreshAuth exchanges the current token for a fresh one. Called
// proactively before expiry; failure is fatal for the tick.
func (c *Client) RefreshAuth(ctx context.Context) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.doRequest(ctx, "refresh_auth", http.MethodPost, "/api/refresh_token", struct{}{}, &resp); err != nil {
		return err
	}
	if resp.Token == "" {
		return &domain.AuthError{Op: "refresh_auth", Err: errors.New("empty token in refresh response")}
	}
	c.signer.SetToken(resp.Token)
	c.logger.Info("auth token refreshed")
	return nil
}

// doRequest signs, sends, and decodes one API call, mapping transport
// and status failures onto the engine's error taxonomy.
func (c *Client) doRequest(ctx context.Context, op, method, path string, body, out any) error {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return &domain.ProtocolError{Op: op, Err: err}
		}
		bodyReader = bytes.NewBuffer(jsonBytes)
		bodyStr = string(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return &domain.ProtocolError{Op: op, Err: err}
	}

	headers, err := c.signer.GenerateHeaders(bodyStr)
	if err != nil {
		return &domain.AuthError{Op: op, Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &domain.AuthError{Op: op, Err: fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(respBody))}
	case resp.StatusCode >= 500:
		return domain.NewNetworkError(op, fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(respBody)))
	case resp.StatusCode >= 400:
		return &domain.ProtocolError{Op: op, Status: resp.StatusCode,
			Err: fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(respBody))}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &domain.ProtocolError{Op: op, Err: fmt.Errorf("parse response: %w", err)}
		}
	}
	return nil
}

func truncate(b []byte) string {
	if len(b) > 200 {
		b = b[:200]
	}
	return string(b)
}
