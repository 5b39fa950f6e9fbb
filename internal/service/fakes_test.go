package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/unnati-rahatwal/Techvanza/internal/payment"
	"github.com/unnati-rahatwal/Techvanza/internal/protocol"
	"github.com/unnati-rahatwal/Techvanza/internal/provenance"
	"github.com/unnati-rahatwal/Techvanza/internal/storage"
)

type memStore struct {
	mu            sync.Mutex
	users         map[string]protocol.User
	listings      map[string]protocol.Listing
	orders        map[string]protocol.Order
	notifications []storage.Notification
	getListingErr error
	setOrderErr   error
	completeErrs  []error
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]protocol.User{},
		listings: map[string]protocol.Listing{},
		orders:   map[string]protocol.Order{},
	}
}

func (m *memStore) Close()                     {}
func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) CreateUser(_ context.Context, u protocol.User) (protocol.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return protocol.User{}, storage.ErrUserExists
		}
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *memStore) GetUser(_ context.Context, id string) (protocol.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *memStore) ListBuyersWithMobile(context.Context) ([]protocol.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []protocol.User
	for _, u := range m.users {
		if u.Role == protocol.RoleBuyer && u.Mobile != "" {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) CreateListing(_ context.Context, l protocol.Listing) (protocol.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ID] = l
	return l, nil
}

func (m *memStore) GetListing(_ context.Context, id string) (protocol.Listing, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getListingErr != nil {
		return protocol.Listing{}, false, m.getListingErr
	}
	l, ok := m.listings[id]
	return l, ok, nil
}

func (m *memStore) ListListings(_ context.Context, f storage.ListingFilter) ([]protocol.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []protocol.Listing
	for _, l := range m.listings {
		if f.SupplierID != "" && l.SupplierID != f.SupplierID {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) SetListingProvenance(_ context.Context, listingID, txReference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[listingID]
	if !ok {
		return storage.ErrListingState
	}
	l.ProvenanceTxReference = txReference
	m.listings[listingID] = l
	return nil
}

// CompletePurchase applies both writes or neither. completeErrs fail the
// next calls in order before anything is written.
func (m *memStore) CompletePurchase(_ context.Context, o protocol.Order, soldAt time.Time) (protocol.Listing, protocol.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.completeErrs) > 0 {
		err := m.completeErrs[0]
		m.completeErrs = m.completeErrs[1:]
		return protocol.Listing{}, protocol.Order{}, err
	}
	l, ok := m.listings[o.ListingID]
	if !ok {
		return protocol.Listing{}, protocol.Order{}, storage.ErrListingState
	}
	for _, existing := range m.orders {
		if existing.PaymentID == o.PaymentID {
			return l, protocol.Order{}, storage.ErrOrderExists
		}
	}
	if l.Status == protocol.ListingSold {
		if l.BuyerID != o.BuyerID {
			return l, protocol.Order{}, storage.ErrListingSold
		}
		for _, existing := range m.orders {
			if existing.ListingID == l.ID {
				return l, protocol.Order{}, storage.ErrListingSold
			}
		}
	} else {
		l.Status = protocol.ListingSold
		l.BuyerID = o.BuyerID
		l.SoldAt = &soldAt
		m.listings[l.ID] = l
	}
	m.orders[o.ID] = o
	return l, o, nil
}

func (m *memStore) ListOrdersByBuyer(_ context.Context, buyerID string, limit int) ([]protocol.BuyerOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.BuyerOrder, 0)
	for _, o := range m.orders {
		if o.BuyerID != buyerID {
			continue
		}
		b := protocol.BuyerOrder{Order: o}
		if l, ok := m.listings[o.ListingID]; ok {
			b.ListingTitle = l.Title
			b.WasteType = l.WasteType
		}
		if u, ok := m.users[o.SupplierID]; ok {
			b.SupplierName = u.Name
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) GetOrderByPaymentID(_ context.Context, paymentID string) (protocol.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.PaymentID == paymentID {
			return o, true, nil
		}
	}
	return protocol.Order{}, false, nil
}

func (m *memStore) SetOrderProvenance(_ context.Context, orderID, txReference string, simulated bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setOrderErr != nil {
		return m.setOrderErr
	}
	o, ok := m.orders[orderID]
	if !ok {
		return errors.New("order not found")
	}
	o.TxReference = txReference
	o.TxSimulated = simulated
	m.orders[orderID] = o
	return nil
}

func (m *memStore) EnqueueNotifications(_ context.Context, items []storage.Notification) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, items...)
	return len(items), nil
}

type fakeGateway struct {
	err    error
	amount int64
}

func (g *fakeGateway) CreateOrder(_ context.Context, amountMinor int64, currency, receipt string) (payment.GatewayOrder, error) {
	if g.err != nil {
		return payment.GatewayOrder{}, g.err
	}
	g.amount = amountMinor
	return payment.GatewayOrder{ID: "order_T1", Amount: amountMinor, Currency: currency, Receipt: receipt}, nil
}

// failingWriter stands in for an orchestrator whose event log is down.
type failingWriter struct {
	err error
}

func (w failingWriter) RecordCreate(context.Context, provenance.CreateIntent) (provenance.Event, error) {
	return provenance.Event{}, w.err
}

func (w failingWriter) RecordPurchase(context.Context, string, string, map[string]any) (provenance.Event, error) {
	return provenance.Event{}, w.err
}

func (w failingWriter) RecordTransition(context.Context, string, provenance.EventType, string) (provenance.Event, error) {
	return provenance.Event{}, w.err
}
