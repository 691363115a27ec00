package standx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"makerd/internal/domain"
	"makerd/internal/infra"
	"makerd/internal/market"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
	maxRetries       = 10
)

// StreamWorker owns the StandX market-data websocket. It is the single
// writer of the market snapshot store and emits confirmed fills from
// the authenticated order channel.
type StreamWorker struct {
	url    string
	signer *Signer
	store  *market.Store
	fills  chan domain.Fill

	mu        sync.RWMutex
	conn      *websocket.Conn
	symbol    string
	connected bool
	running   bool

	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewStreamWorker creates a worker for the given symbol.
func NewStreamWorker(url, symbol string, signer *Signer, store *market.Store) *StreamWorker {
	return &StreamWorker{
		url:    url,
		signer: signer,
		store:  store,
		symbol: symbol,
		fills:  make(chan domain.Fill, 64),
		logger: slog.Default().With("module", "standx_stream"),
	}
}

// Fills returns the confirmed-fill channel.
func (w *StreamWorker) Fills() <-chan domain.Fill {
	return w.fills
}

// Connect starts the connection loop. Calling it again while the loop
// is running is a no-op, so re-authentication over a live stream never
// spawns a second loop.
func (w *StreamWorker) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *StreamWorker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			delay := infra.CalculateBackoff(retryCount)
			w.logger.Warn("stream connection failed",
				slog.Any("error", err),
				slog.Int("retry", retryCount),
				slog.Duration("next_attempt_in", delay))
			infra.GlobalMetrics.RecordStreamReconnect()
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

func (w *StreamWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	symbol := w.symbol
	w.mu.Unlock()

	if err := w.authenticate(); err != nil {
		w.logger.Warn("stream auth failed, continuing public-only", slog.Any("error", err))
	}
	if err := w.subscribe(symbol); err != nil {
		w.closeConnection()
		return err
	}

	w.logger.Info("stream connected", slog.String("symbol", symbol))
	return nil
}

// authenticate requests the private order/position/balance channels.
// Without credentials the depth stream still works.
func (w *StreamWorker) authenticate() error {
	token, err := w.signer.Token()
	if err != nil {
		return err
	}
	msg := map[string]any{
		"auth": map[string]any{
			"token": token,
			"streams": []map[string]string{
				{"channel": "order"},
				{"channel": "position"},
				{"channel": "balance"},
			},
		},
	}
	b, _ := json.Marshal(msg)
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *StreamWorker) subscribe(symbol string) error {
	msg := map[string]any{
		"subscribe": map[string]string{
			"channel": "depth_book",
			"symbol":  symbol,
		},
	}
	b, _ := json.Marshal(msg)
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *StreamWorker) unsubscribe(symbol string) error {
	msg := map[string]any{
		"unsubscribe": map[string]string{
			"channel": "depth_book",
			"symbol":  symbol,
		},
	}
	b, _ := json.Marshal(msg)
	return w.threadSafeWrite(websocket.TextMessage, b)
}

// SwitchSymbol unsubscribes the old feed, clears the snapshot store and
// subscribes the new symbol on the live connection. On a dead
// connection the reconnect loop picks the new symbol up on its own.
func (w *StreamWorker) SwitchSymbol(newSymbol string) error {
	w.mu.Lock()
	oldSymbol := w.symbol
	w.symbol = newSymbol
	connected := w.connected
	w.mu.Unlock()

	w.store.Reset(newSymbol)

	if !connected {
		return nil
	}
	if err := w.unsubscribe(oldSymbol); err != nil {
		w.logger.Warn("unsubscribe failed", slog.String("symbol", oldSymbol), slog.Any("error", err))
	}
	if err := w.subscribe(newSymbol); err != nil {
		return fmt.Errorf("subscribe %s: %w", newSymbol, err)
	}
	w.logger.Info("stream switched symbol",
		slog.String("from", oldSymbol), slog.String("to", newSymbol))
	return nil
}

func (w *StreamWorker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return domain.NewNetworkError("ws_write", fmt.Errorf("no connection"))
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *StreamWorker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

type streamMessage struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

type depthPayload struct {
	Symbol string      `json:"symbol"`
	Bids   [][2]string `json:"bids"` // [price, size], best first
	Asks   [][2]string `json:"asks"`
}

type orderEventPayload struct {
	OrderID   string `json:"order_id"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Status    string `json:"status"`
	Price     string `json:"price"`
	AvgPrice  string `json:"avg_price"`
	FilledQty string `json:"filled_qty"`
	UpdatedAt int64  `json:"updated_at"`
}

func (w *StreamWorker) handleMessage(raw []byte) {
	var msg streamMessage
	if json.Unmarshal(raw, &msg) != nil {
		return
	}

	switch msg.Channel {
	case "depth_book":
		w.handleDepth(msg.Data)
	case "order":
		w.handleOrderEvent(msg.Data)
	case "auth":
		var resp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(msg.Data, &resp) == nil && resp.Code != 0 && resp.Code != 200 {
			w.logger.Error("stream auth rejected", slog.Int("code", resp.Code), slog.String("msg", resp.Msg))
		}
	default:
		// position/balance/pong and subscribe confirmations
	}
}

func (w *StreamWorker) handleDepth(data json.RawMessage) {
	var depth depthPayload
	if json.Unmarshal(data, &depth) != nil {
		return
	}

	var bestBid, bestAsk float64
	if len(depth.Bids) > 0 {
		bestBid, _ = strconv.ParseFloat(depth.Bids[0][0], 64)
	}
	if len(depth.Asks) > 0 {
		bestAsk, _ = strconv.ParseFloat(depth.Asks[0][0], 64)
	}

	w.store.Update(depth.Symbol, bestBid, bestAsk, time.Now())
}

// handleOrderEvent turns confirmed fill notifications into Fill events.
// filled_qty is the quantity executed by this event; only a terminal
// "filled" status marks the fill final, a partial execution leaves the
// order resting. Cancels are reconciled through ListOpenOrders instead.
func (w *StreamWorker) handleOrderEvent(data json.RawMessage) {
	var ev orderEventPayload
	if json.Unmarshal(data, &ev) != nil {
		return
	}
	if ev.Status != "filled" && ev.Status != "partially_filled" {
		return
	}

	price, _ := strconv.ParseFloat(ev.AvgPrice, 64)
	if price == 0 {
		price, _ = strconv.ParseFloat(ev.Price, 64)
	}
	qty, _ := strconv.ParseFloat(ev.FilledQty, 64)
	if price == 0 || qty == 0 {
		return
	}

	fill := domain.Fill{
		OrderID:  ev.OrderID,
		Symbol:   ev.Symbol,
		Side:     domain.Side(ev.Side),
		Price:    price,
		Size:     qty,
		Final:    ev.Status == "filled",
		FilledAt: time.UnixMilli(ev.UpdatedAt),
	}

	select {
	case w.fills <- fill:
	default:
		w.logger.Warn("fill channel full, dropping", slog.String("order_id", ev.OrderID))
	}
}

func (w *StreamWorker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
}

// Disconnect stops the worker and closes the connection. A later
// Connect starts a fresh loop.
func (w *StreamWorker) Disconnect() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.closeConnection()
	w.wg.Wait()

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}
