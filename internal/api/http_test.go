package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unnati-rahatwal/Techvanza/internal/payment"
	"github.com/unnati-rahatwal/Techvanza/internal/protocol"
	"github.com/unnati-rahatwal/Techvanza/internal/provenance"
	"github.com/unnati-rahatwal/Techvanza/internal/service"
	"github.com/unnati-rahatwal/Techvanza/internal/storage"
	"github.com/unnati-rahatwal/Techvanza/internal/storage/sqlite"
)

const adminToken = "ops-token"

// stubStore keeps users, listings and orders in memory.
type stubStore struct {
	mu       sync.Mutex
	users    map[string]protocol.User
	listings map[string]protocol.Listing
	orders   []protocol.Order
	pingErr  error
}

func (s *stubStore) Close() {}
func (s *stubStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *stubStore) CreateUser(_ context.Context, u protocol.User) (protocol.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return u, nil
}

func (s *stubStore) GetUser(_ context.Context, id string) (protocol.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *stubStore) ListBuyersWithMobile(context.Context) ([]protocol.User, error) { return nil, nil }

func (s *stubStore) CreateListing(_ context.Context, l protocol.Listing) (protocol.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = l
	return l, nil
}

func (s *stubStore) GetListing(_ context.Context, id string) (protocol.Listing, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	return l, ok, nil
}

func (s *stubStore) ListListings(_ context.Context, _ storage.ListingFilter) ([]protocol.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		out = append(out, l)
	}
	return out, nil
}

func (s *stubStore) SetListingProvenance(context.Context, string, string) error { return nil }

func (s *stubStore) CompletePurchase(_ context.Context, o protocol.Order, soldAt time.Time) (protocol.Listing, protocol.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[o.ListingID]
	if !ok {
		return l, o, storage.ErrListingState
	}
	if l.Status == protocol.ListingSold {
		return l, o, storage.ErrListingSold
	}
	l.Status = protocol.ListingSold
	l.BuyerID = o.BuyerID
	l.SoldAt = &soldAt
	s.listings[l.ID] = l
	s.orders = append(s.orders, o)
	return l, o, nil
}

func (s *stubStore) GetOrderByPaymentID(_ context.Context, paymentID string) (protocol.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.PaymentID == paymentID {
			return o, true, nil
		}
	}
	return protocol.Order{}, false, nil
}

func (s *stubStore) ListOrdersByBuyer(_ context.Context, buyerID string, _ int) ([]protocol.BuyerOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.BuyerOrder, 0)
	for _, o := range s.orders {
		if o.BuyerID == buyerID {
			out = append(out, protocol.BuyerOrder{
				Order:        o,
				ListingTitle: s.listings[o.ListingID].Title,
				SupplierName: s.users[o.SupplierID].Name,
			})
		}
	}
	return out, nil
}

func (s *stubStore) SetOrderProvenance(_ context.Context, orderID, txReference string, simulated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ID == orderID {
			s.orders[i].TxReference = txReference
			s.orders[i].TxSimulated = simulated
		}
	}
	return nil
}

func (s *stubStore) EnqueueNotifications(_ context.Context, items []storage.Notification) (int, error) {
	return len(items), nil
}

type stubGateway struct{}

func (stubGateway) CreateOrder(_ context.Context, amount int64, currency, receipt string) (payment.GatewayOrder, error) {
	return payment.GatewayOrder{ID: "order_X", Amount: amount, Currency: currency, Receipt: receipt}, nil
}

type testServer struct {
	srv   *httptest.Server
	store *stubStore
}

func newTestServer(t *testing.T, cidrs []string) *testServer {
	t.Helper()
	ctx := context.Background()
	events, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	reg := prometheus.NewRegistry()
	orch, err := provenance.NewOrchestrator(provenance.OrchestratorParams{
		Log:     events,
		Metrics: provenance.NewMetrics(reg),
	})
	require.NoError(t, err)

	store := &stubStore{users: map[string]protocol.User{}, listings: map[string]protocol.Listing{}}
	market, err := service.NewMarketplace(service.MarketplaceParams{Store: store, Provenance: orch})
	require.NoError(t, err)
	checkout, err := service.NewCheckout(service.CheckoutParams{
		Store: store, Gateway: stubGateway{}, Provenance: orch, KeyID: "rzp_key", KeySecret: "secret",
	})
	require.NoError(t, err)
	tracking, err := service.NewTracking(service.TrackingParams{
		Store: store, Timelines: provenance.NewReconciler(orch), Provenance: orch, Chain: orch, Events: events,
	})
	require.NoError(t, err)

	h, err := NewHandler(HandlerParams{
		Marketplace: market,
		Checkout:    checkout,
		Tracking:    tracking,
		Store:       store,
		Chain:       orch,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AdminToken:  adminToken,
		AdminCIDRs:  cidrs,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header http.Header) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (ts *testServer) seedListing(t *testing.T) protocol.ListingResponse {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/v1/users", protocol.RegisterUserRequest{
		Name: "Green Recyclers", Email: "s@example.com", Role: protocol.RoleSupplier,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var supplier protocol.User
	require.NoError(t, json.Unmarshal(body, &supplier))

	resp, body = ts.do(t, http.MethodPost, "/v1/listings", protocol.CreateListingRequest{
		SupplierID: supplier.ID, Title: "Baled PET", WasteType: "plastic", Quantity: 10, PricePerKg: 20,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var listing protocol.ListingResponse
	require.NoError(t, json.Unmarshal(body, &listing))
	return listing
}

func TestListingLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)
	listing := ts.seedListing(t)
	require.NotNil(t, listing.Provenance)
	assert.True(t, listing.Provenance.IsSimulated)

	resp, body := ts.do(t, http.MethodGet, "/v1/listings/"+listing.Listing.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got protocol.Listing
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Baled PET", got.Title)

	resp, body = ts.do(t, http.MethodGet, "/v1/listings?limit=5", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list protocol.ListingsResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list.Listings, 1)

	resp, body = ts.do(t, http.MethodGet, "/v1/tracking/"+listing.Listing.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tracking protocol.TrackingResponse
	require.NoError(t, json.Unmarshal(body, &tracking))
	require.Len(t, tracking.History, 1)
	assert.Equal(t, "CREATED", tracking.History[0].State)
	assert.Equal(t, listing.Provenance.TxReference, tracking.History[0].TxReference)
	assert.Equal(t, "Green Recyclers", tracking.Listing.Supplier)

	resp, body = ts.do(t, http.MethodPost, "/v1/payments/orders", protocol.CreatePaymentOrderRequest{ListingID: listing.Listing.ID}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var order protocol.PaymentOrderResponse
	require.NoError(t, json.Unmarshal(body, &order))
	assert.Equal(t, int64(20000), order.Amount)
	assert.Equal(t, "rzp_key", order.KeyID)
}

func TestErrorsUseEnvelope(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.do(t, http.MethodGet, "/v1/tracking/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var env protocol.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	resp, body = ts.do(t, http.MethodPost, "/v1/users", map[string]any{"name": "x", "unexpected": true}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "BAD_REQUEST", env.Error.Code)

	resp, _ = ts.do(t, http.MethodGet, "/v1/listings?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, "/v1/payments/verify", protocol.VerifyPaymentRequest{
		GatewayOrderID: "order_X", PaymentID: "pay_1", Signature: "deadbeef", ListingID: "l", BuyerID: "b",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "PAYMENT_SIGNATURE_INVALID", env.Error.Code)
}

func TestStateUpdateRequiresBearer(t *testing.T) {
	ts := newTestServer(t, nil)
	listing := ts.seedListing(t)
	path := "/v1/tracking/" + listing.Listing.ID + "/state"
	req := protocol.StateUpdateRequest{State: "PROCESSING", ActorID: "ops"}

	resp, _ := ts.do(t, http.MethodPost, path, req, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, path, req, http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, path, req, http.Header{"Authorization": {"Bearer " + adminToken}})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var rec protocol.ProvenanceReceipt
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, "PROCESSING", rec.EventType)

	resp, body = ts.do(t, http.MethodGet, "/v1/provenance/status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status protocol.ProvenanceStatusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, int64(2), status.TotalEvents)
	assert.Equal(t, "closed", status.Breaker)
}

func TestStateUpdateIPAllowList(t *testing.T) {
	ts := newTestServer(t, []string{"10.0.0.0/8"})
	listing := ts.seedListing(t)

	resp, _ := ts.do(t, http.MethodPost, "/v1/tracking/"+listing.Listing.ID+"/state",
		protocol.StateUpdateRequest{State: "SHIPPED"},
		http.Header{"Authorization": {"Bearer " + adminToken}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedListing(t)

	resp, body := ts.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health protocol.HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.False(t, health.ChainConfigured)

	resp, body = ts.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `provenance_writes_total{op="create",path="simulated"} 1`)

	ts.store.mu.Lock()
	ts.store.pingErr = errors.New("down")
	ts.store.mu.Unlock()
	resp, _ = ts.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBuyerOrderHistoryOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)
	listing := ts.seedListing(t)

	resp, body := ts.do(t, http.MethodPost, "/v1/users", protocol.RegisterUserRequest{
		Name: "Asha Plastics", Email: "b@example.com", Role: protocol.RoleBuyer,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var buyer protocol.User
	require.NoError(t, json.Unmarshal(body, &buyer))

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("order_X|pay_1"))
	resp, body = ts.do(t, http.MethodPost, "/v1/payments/verify", protocol.VerifyPaymentRequest{
		GatewayOrderID: "order_X", PaymentID: "pay_1", Signature: hex.EncodeToString(mac.Sum(nil)),
		ListingID: listing.Listing.ID, BuyerID: buyer.ID,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var paid protocol.VerifyPaymentResponse
	require.NoError(t, json.Unmarshal(body, &paid))

	resp, body = ts.do(t, http.MethodGet, "/v1/orders?buyer_id="+buyer.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var history map[string][]map[string]any
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history["orders"], 1)
	row := history["orders"][0]
	assert.Equal(t, paid.Order.ID, row["id"])
	assert.Equal(t, "Baled PET", row["listing_title"])
	assert.Equal(t, "Green Recyclers", row["supplier_name"])
	assert.Equal(t, paid.Provenance.TxReference, row["tx_reference"])
	assert.Equal(t, true, row["tx_simulated"])

	resp, _ = ts.do(t, http.MethodGet, "/v1/orders", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/v1/orders?buyer_id="+buyer.ID+"&limit=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
