package standx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"makerd/internal/domain"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	signer := NewSigner()
	require.NoError(t, signer.SetCredentials("tok", testSeedHex, "", ""))
	return NewClient(srv.URL, signer)
}

func TestPlaceOrderFormatsTicks(t *testing.T) {
	var got placeOrderRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/new_order", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("x-request-signature"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"order_id": "abc-1"})
	})

	id, err := c.PlaceOrder(context.Background(), "BTC-USD", domain.SideBuy, 49975.37, 0.0021)
	require.NoError(t, err)
	assert.Equal(t, "abc-1", id)

	assert.Equal(t, "BTC-USD", got.Symbol)
	assert.Equal(t, "buy", got.Side)
	assert.Equal(t, "limit", got.OrderType)
	assert.Equal(t, "49975.37", got.Price)
	assert.Equal(t, "0.0021", got.Qty)
	assert.True(t, got.PostOnly)
	assert.NotEmpty(t, got.ClientOrdID)
}

func TestPlaceOrderNoIDInResponse(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	})

	_, err := c.PlaceOrder(context.Background(), "BTC-USD", domain.SideBuy, 49975, 0.002)
	var pe *domain.ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestCancelOrderGone(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	err := c.CancelOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrOrderGone)
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"unauthorized maps to auth", http.StatusUnauthorized, func(t *testing.T, err error) {
			var ae *domain.AuthError
			assert.ErrorAs(t, err, &ae)
			assert.False(t, domain.IsRetriable(err))
		}},
		{"server error maps to network", http.StatusServiceUnavailable, func(t *testing.T, err error) {
			var ne *domain.NetworkError
			assert.ErrorAs(t, err, &ne)
			assert.True(t, domain.IsRetriable(err))
		}},
		{"client error maps to protocol", http.StatusUnprocessableEntity, func(t *testing.T, err error) {
			var pe *domain.ProtocolError
			assert.ErrorAs(t, err, &pe)
			assert.Equal(t, http.StatusUnprocessableEntity, pe.Status)
			assert.False(t, domain.IsRetriable(err))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			err := c.CancelAll(context.Background(), "BTC-USD")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestListOpenOrders(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/open_orders", r.URL.Path)
		assert.Equal(t, "BTC-USD", r.URL.Query().Get("symbol"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"orders": []map[string]any{
				{"order_id": "o1", "symbol": "BTC-USD", "side": "buy", "price": "49975.37", "qty": "0.002", "created_at": 1755600000000},
				{"order_id": "o2", "symbol": "BTC-USD", "side": "sell", "price": "50025.11", "qty": "0.002", "created_at": 1755600000000},
			},
		})
	})

	orders, err := c.ListOpenOrders(context.Background(), "BTC-USD")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, domain.SideBuy, orders[0].Side)
	assert.Equal(t, 49975.37, orders[0].Price)
	assert.Equal(t, 0.002, orders[0].Size)
	assert.Equal(t, domain.OrderStatusOpen, orders[1].Status)
}

func TestRefreshAuthRotatesToken(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/refresh_token", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "fresh"})
	})

	require.NoError(t, c.RefreshAuth(context.Background()))
	tok, err := c.signer.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
}

func TestRefreshAuthEmptyToken(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": ""})
	})

	err := c.RefreshAuth(context.Background())
	var ae *domain.AuthError
	assert.ErrorAs(t, err, &ae)
}

func TestUnauthenticatedRequestFailsFast(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, NewSigner())
	err := c.CancelAll(context.Background(), "BTC-USD")

	var ae *domain.AuthError
	assert.ErrorAs(t, err, &ae)
	assert.False(t, called)
}
