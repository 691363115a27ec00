package standx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"makerd/internal/domain"
	"makerd/internal/market"
)

// wsTestServer upgrades incoming connections and exposes the inbound
// frames plus a way to push frames to the worker.
type wsTestServer struct {
	srv      *httptest.Server
	inbound  chan map[string]any
	outbound chan []byte

	mu    sync.Mutex
	conns int
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	ts := &wsTestServer{
		inbound:  make(chan map[string]any, 16),
		outbound: make(chan []byte, 16),
	}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ts.mu.Lock()
		ts.conns++
		ts.mu.Unlock()

		go func() {
			for msg := range ts.outbound {
				if conn.WriteMessage(websocket.TextMessage, msg) != nil {
					return
				}
			}
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if json.Unmarshal(raw, &m) == nil {
				ts.inbound <- m
			}
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *wsTestServer) connCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.conns
}

func (ts *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *wsTestServer) expectFrame(t *testing.T, key string) map[string]any {
	t.Helper()
	select {
	case m := <-ts.inbound:
		require.Contains(t, m, key)
		return m
	case <-time.After(3 * time.Second):
		t.Fatalf("no %s frame received", key)
		return nil
	}
}

func (ts *wsTestServer) push(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	ts.outbound <- b
}

func newTestWorker(t *testing.T, ts *wsTestServer) (*StreamWorker, *market.Store) {
	t.Helper()
	store := market.NewStore("BTC-USD", time.Hour)
	w := NewStreamWorker(ts.url(), "BTC-USD", NewSigner(), store)

	require.NoError(t, w.Connect(context.Background()))
	t.Cleanup(w.Disconnect)
	return w, store
}

func TestStreamSubscribesAndUpdatesBook(t *testing.T) {
	ts := newWSTestServer(t)
	_, store := newTestWorker(t, ts)

	sub := ts.expectFrame(t, "subscribe")
	body := sub["subscribe"].(map[string]any)
	assert.Equal(t, "depth_book", body["channel"])
	assert.Equal(t, "BTC-USD", body["symbol"])

	ts.push(t, map[string]any{
		"channel": "depth_book",
		"data": map[string]any{
			"symbol": "BTC-USD",
			"bids":   [][2]string{{"49999.5", "1.2"}},
			"asks":   [][2]string{{"50000.5", "0.8"}},
		},
	})

	assert.Eventually(t, func() bool {
		snap, stale := store.Read()
		return !stale && snap.BestBid == 49999.5 && snap.BestAsk == 50000.5
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStreamEmitsFills(t *testing.T) {
	ts := newWSTestServer(t)
	w, _ := newTestWorker(t, ts)
	ts.expectFrame(t, "subscribe")

	// A non-fill event produces nothing.
	ts.push(t, map[string]any{
		"channel": "order",
		"data":    map[string]any{"order_id": "o0", "symbol": "BTC-USD", "side": "buy", "status": "cancelled"},
	})
	// A fill comes through with the average execution price.
	ts.push(t, map[string]any{
		"channel": "order",
		"data": map[string]any{
			"order_id": "o1", "symbol": "BTC-USD", "side": "buy",
			"status": "filled", "avg_price": "49999.5", "filled_qty": "0.002",
			"updated_at": 1755600000000,
		},
	})

	select {
	case fill := <-w.Fills():
		assert.Equal(t, "o1", fill.OrderID)
		assert.Equal(t, domain.SideBuy, fill.Side)
		assert.Equal(t, 49999.5, fill.Price)
		assert.Equal(t, 0.002, fill.Size)
		assert.True(t, fill.Final)
	case <-time.After(3 * time.Second):
		t.Fatal("no fill received")
	}

	// Only the fill made it through.
	select {
	case fill := <-w.Fills():
		t.Fatalf("unexpected extra fill: %+v", fill)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStreamPartialFillNotFinal(t *testing.T) {
	ts := newWSTestServer(t)
	w, _ := newTestWorker(t, ts)
	ts.expectFrame(t, "subscribe")

	ts.push(t, map[string]any{
		"channel": "order",
		"data": map[string]any{
			"order_id": "o1", "symbol": "BTC-USD", "side": "buy",
			"status": "partially_filled", "avg_price": "49999.5", "filled_qty": "0.001",
			"updated_at": 1755600000000,
		},
	})
	ts.push(t, map[string]any{
		"channel": "order",
		"data": map[string]any{
			"order_id": "o1", "symbol": "BTC-USD", "side": "buy",
			"status": "filled", "avg_price": "49999.5", "filled_qty": "0.001",
			"updated_at": 1755600001000,
		},
	})

	for i, wantFinal := range []bool{false, true} {
		select {
		case fill := <-w.Fills():
			assert.Equal(t, wantFinal, fill.Final, "fill %d", i)
			assert.Equal(t, 0.001, fill.Size)
		case <-time.After(3 * time.Second):
			t.Fatalf("fill %d never arrived", i)
		}
	}
}

func TestStreamConnectIsIdempotent(t *testing.T) {
	ts := newWSTestServer(t)
	w, _ := newTestWorker(t, ts)
	ts.expectFrame(t, "subscribe")

	// A redundant Connect on a live worker must not dial again.
	require.NoError(t, w.Connect(context.Background()))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, ts.connCount())

	// And no duplicate subscription shows up.
	select {
	case m := <-ts.inbound:
		t.Fatalf("unexpected frame after redundant connect: %v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStreamSwitchSymbolResubscribes(t *testing.T) {
	ts := newWSTestServer(t)
	w, store := newTestWorker(t, ts)
	ts.expectFrame(t, "subscribe")

	// Populate the old book first.
	ts.push(t, map[string]any{
		"channel": "depth_book",
		"data": map[string]any{
			"symbol": "BTC-USD",
			"bids":   [][2]string{{"49999.5", "1"}},
			"asks":   [][2]string{{"50000.5", "1"}},
		},
	})
	assert.Eventually(t, func() bool {
		_, stale := store.Read()
		return !stale
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, w.SwitchSymbol("ETH-USD"))

	unsub := ts.expectFrame(t, "unsubscribe")
	assert.Equal(t, "BTC-USD", unsub["unsubscribe"].(map[string]any)["symbol"])
	sub := ts.expectFrame(t, "subscribe")
	assert.Equal(t, "ETH-USD", sub["subscribe"].(map[string]any)["symbol"])

	// The old book is gone until the new feed delivers.
	assert.Equal(t, "ETH-USD", store.Symbol())
	_, stale := store.Read()
	assert.True(t, stale)

	// Late frames for the old symbol are dropped.
	ts.push(t, map[string]any{
		"channel": "depth_book",
		"data": map[string]any{
			"symbol": "BTC-USD",
			"bids":   [][2]string{{"49999.5", "1"}},
			"asks":   [][2]string{{"50000.5", "1"}},
		},
	})
	time.Sleep(100 * time.Millisecond)
	_, stale = store.Read()
	assert.True(t, stale)
}
