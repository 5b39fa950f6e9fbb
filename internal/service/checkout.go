package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unnati-rahatwal/Techvanza/internal/logging"
	"github.com/unnati-rahatwal/Techvanza/internal/payment"
	"github.com/unnati-rahatwal/Techvanza/internal/protocol"
	"github.com/unnati-rahatwal/Techvanza/internal/provenance"
	"github.com/unnati-rahatwal/Techvanza/internal/storage"
)

type CheckoutParams struct {
	Store      storage.Store
	Gateway    payment.Gateway
	Provenance ProvenanceWriter
	KeyID      string
	KeySecret  string
	Currency   string
	Logger     *slog.Logger
	Now        func() time.Time
}

type Checkout struct {
	store      storage.Store
	gateway    payment.Gateway
	provenance ProvenanceWriter
	keyID      string
	keySecret  string
	currency   string
	logger     *slog.Logger
	now        func() time.Time
}

func NewCheckout(p CheckoutParams) (*Checkout, error) {
	if p.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if p.Gateway == nil {
		return nil, fmt.Errorf("payment gateway is required")
	}
	if p.Provenance == nil {
		return nil, fmt.Errorf("provenance writer is required")
	}
	if p.KeySecret == "" {
		return nil, fmt.Errorf("payment key secret is required")
	}
	if p.Currency == "" {
		p.Currency = "INR"
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Now == nil {
		p.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Checkout{
		store:      p.Store,
		gateway:    p.Gateway,
		provenance: p.Provenance,
		keyID:      p.KeyID,
		keySecret:  p.KeySecret,
		currency:   p.Currency,
		logger:     p.Logger,
		now:        p.Now,
	}, nil
}

func (c *Checkout) CreatePaymentOrder(ctx context.Context, req protocol.CreatePaymentOrderRequest) (protocol.PaymentOrderResponse, error) {
	listing, err := c.availableListing(ctx, req.ListingID)
	if err != nil {
		return protocol.PaymentOrderResponse{}, err
	}
	qty, err := purchaseQuantity(req.Quantity, listing)
	if err != nil {
		return protocol.PaymentOrderResponse{}, err
	}

	amount := payment.ToMinorUnits(listing.PricePerKg * qty)
	order, err := c.gateway.CreateOrder(ctx, amount, c.currency, uuid.NewString())
	if err != nil {
		return protocol.PaymentOrderResponse{}, NewAppError(http.StatusBadGateway, "PAYMENT_GATEWAY_ERROR", "payment order could not be created", true, err)
	}
	logging.AddField(ctx, "gateway_order_id", order.ID)
	return protocol.PaymentOrderResponse{
		GatewayOrderID: order.ID,
		Amount:         order.Amount,
		Currency:       order.Currency,
		Receipt:        order.Receipt,
		KeyID:          c.keyID,
	}, nil
}

// VerifyPayment confirms a checkout and records the purchase. A repeated call
// for the same payment returns the stored order and only retries a purchase
// event that was never recorded.
func (c *Checkout) VerifyPayment(ctx context.Context, req protocol.VerifyPaymentRequest) (protocol.VerifyPaymentResponse, error) {
	if req.GatewayOrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return protocol.VerifyPaymentResponse{}, BadRequest("razorpay_order_id, razorpay_payment_id and razorpay_signature are required")
	}
	if strings.TrimSpace(req.ListingID) == "" || strings.TrimSpace(req.BuyerID) == "" {
		return protocol.VerifyPaymentResponse{}, BadRequest("listing_id and buyer_id are required")
	}
	if !payment.VerifySignature(req.GatewayOrderID, req.PaymentID, req.Signature, c.keySecret) {
		return protocol.VerifyPaymentResponse{}, NewAppError(http.StatusBadRequest, "PAYMENT_SIGNATURE_INVALID", "payment signature does not match", false, nil)
	}
	logging.AddField(ctx, "payment_id", req.PaymentID)

	existing, ok, err := c.store.GetOrderByPaymentID(ctx, req.PaymentID)
	if err != nil {
		return protocol.VerifyPaymentResponse{}, Internal("load order", err)
	}
	if ok {
		return c.replay(ctx, existing)
	}

	buyer, ok, err := c.store.GetUser(ctx, req.BuyerID)
	if err != nil {
		return protocol.VerifyPaymentResponse{}, Internal("load buyer", err)
	}
	if !ok {
		return protocol.VerifyPaymentResponse{}, NotFound("buyer not found")
	}
	// A listing already sold to this buyer is a paid checkout whose order was
	// never written; it is completed, not rejected.
	listing, err := c.loadListing(ctx, req.ListingID)
	if err != nil {
		return protocol.VerifyPaymentResponse{}, err
	}
	if listing.Status != protocol.ListingAvailable && listing.BuyerID != buyer.ID {
		return protocol.VerifyPaymentResponse{}, Conflict("listing already sold", storage.ErrListingSold)
	}
	qty, err := purchaseQuantity(req.Quantity, listing)
	if err != nil {
		return protocol.VerifyPaymentResponse{}, err
	}

	_, order, err := c.store.CompletePurchase(ctx, protocol.Order{
		ID:             uuid.NewString(),
		BuyerID:        buyer.ID,
		SupplierID:     listing.SupplierID,
		ListingID:      listing.ID,
		Quantity:       qty,
		TotalPrice:     listing.PricePerKg * qty,
		GatewayOrderID: req.GatewayOrderID,
		PaymentID:      req.PaymentID,
		CreatedAt:      c.now(),
	}, c.now())
	switch {
	case errors.Is(err, storage.ErrOrderExists):
		existing, ok, lookupErr := c.store.GetOrderByPaymentID(ctx, req.PaymentID)
		if lookupErr != nil || !ok {
			return protocol.VerifyPaymentResponse{}, Conflict("order already exists for payment", err)
		}
		return c.replay(ctx, existing)
	case errors.Is(err, storage.ErrListingSold):
		return protocol.VerifyPaymentResponse{}, Conflict("listing already sold", err)
	case errors.Is(err, storage.ErrListingState):
		return protocol.VerifyPaymentResponse{}, NotFound("listing not found")
	case err != nil:
		return protocol.VerifyPaymentResponse{}, Internal("complete purchase", err)
	}
	logging.AddField(ctx, "order_id", order.ID)

	order, rec, err := c.recordPurchase(ctx, order)
	if err != nil {
		return protocol.VerifyPaymentResponse{}, err
	}
	return protocol.VerifyPaymentResponse{Order: order, Provenance: rec}, nil
}

func (c *Checkout) replay(ctx context.Context, order protocol.Order) (protocol.VerifyPaymentResponse, error) {
	if order.TxReference == "" {
		var (
			rec protocol.ProvenanceReceipt
			err error
		)
		order, rec, err = c.recordPurchase(ctx, order)
		if err != nil {
			return protocol.VerifyPaymentResponse{}, err
		}
		return protocol.VerifyPaymentResponse{Order: order, Provenance: rec, Replayed: true}, nil
	}
	return protocol.VerifyPaymentResponse{
		Order: order,
		Provenance: protocol.ProvenanceReceipt{
			EventType:   provenance.EventPurchased.String(),
			TxReference: order.TxReference,
			IsSimulated: order.TxSimulated,
		},
		Replayed: true,
	}, nil
}

func (c *Checkout) recordPurchase(ctx context.Context, order protocol.Order) (protocol.Order, protocol.ProvenanceReceipt, error) {
	ev, err := c.provenance.RecordPurchase(ctx, order.ListingID, protocol.ActorHash(order.BuyerID), map[string]any{
		"order_id":   order.ID,
		"payment_id": order.PaymentID,
		"quantity":   order.Quantity,
	})
	if err != nil {
		return protocol.Order{}, protocol.ProvenanceReceipt{}, fromStore("record purchase", err)
	}
	if err := c.store.SetOrderProvenance(ctx, order.ID, ev.TxReference, ev.IsSimulated); err != nil {
		c.logger.Warn("order tx reference not saved",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	} else {
		order.TxReference = ev.TxReference
		order.TxSimulated = ev.IsSimulated
	}
	return order, *receipt(ev), nil
}

// ListOrders returns a buyer's purchase history, newest first.
func (c *Checkout) ListOrders(ctx context.Context, buyerID string, limit int) (protocol.OrdersResponse, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return protocol.OrdersResponse{}, BadRequest("buyer_id is required")
	}
	switch {
	case limit < 0:
		return protocol.OrdersResponse{}, BadRequest("limit must not be negative")
	case limit == 0:
		limit = 50
	case limit > 200:
		limit = 200
	}
	if _, ok, err := c.store.GetUser(ctx, buyerID); err != nil {
		return protocol.OrdersResponse{}, Internal("load buyer", err)
	} else if !ok {
		return protocol.OrdersResponse{}, NotFound("buyer not found")
	}
	orders, err := c.store.ListOrdersByBuyer(ctx, buyerID, limit)
	if err != nil {
		return protocol.OrdersResponse{}, Internal("list orders", err)
	}
	if orders == nil {
		orders = []protocol.BuyerOrder{}
	}
	logging.AddField(ctx, "buyer_id", buyerID)
	return protocol.OrdersResponse{Orders: orders}, nil
}

func (c *Checkout) loadListing(ctx context.Context, id string) (protocol.Listing, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return protocol.Listing{}, BadRequest("listing_id is required")
	}
	listing, ok, err := c.store.GetListing(ctx, id)
	if err != nil {
		return protocol.Listing{}, Internal("load listing", err)
	}
	if !ok {
		return protocol.Listing{}, NotFound("listing not found")
	}
	return listing, nil
}

func (c *Checkout) availableListing(ctx context.Context, id string) (protocol.Listing, error) {
	listing, err := c.loadListing(ctx, id)
	if err != nil {
		return protocol.Listing{}, err
	}
	if listing.Status != protocol.ListingAvailable {
		return protocol.Listing{}, Conflict("listing already sold", storage.ErrListingSold)
	}
	return listing, nil
}

// purchaseQuantity defaults to the whole lot.
func purchaseQuantity(requested float64, listing protocol.Listing) (float64, error) {
	switch {
	case requested == 0:
		return listing.Quantity, nil
	case requested < 0:
		return 0, BadRequest("quantity must be positive")
	case requested > listing.Quantity:
		return 0, BadRequest("quantity exceeds listing quantity")
	}
	return requested, nil
}
