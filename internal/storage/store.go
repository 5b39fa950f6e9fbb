package storage

import (
	"context"
	"errors"
	"time"

	"github.com/unnati-rahatwal/Techvanza/internal/protocol"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrListingSold  = errors.New("listing already sold")
	ErrOrderExists  = errors.New("order already exists for payment")
	ErrListingState = errors.New("listing not found or not available")
)

type ListingFilter struct {
	SupplierID string
	Status     protocol.ListingStatus
	Limit      int
}

// Notification is one message queued for the broadcast relay.
type Notification struct {
	Channel   string
	Recipient string
	Body      string
	ListingID string
}

const (
	ChannelSMS   = "sms"
	ChannelVoice = "voice"
)

type Store interface {
	Close()
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, u protocol.User) (protocol.User, error)
	GetUser(ctx context.Context, id string) (protocol.User, bool, error)
	ListBuyersWithMobile(ctx context.Context) ([]protocol.User, error)

	CreateListing(ctx context.Context, l protocol.Listing) (protocol.Listing, error)
	GetListing(ctx context.Context, id string) (protocol.Listing, bool, error)
	ListListings(ctx context.Context, f ListingFilter) ([]protocol.Listing, error)
	SetListingProvenance(ctx context.Context, listingID, txReference string) error

	// CompletePurchase atomically marks the listing sold and inserts the
	// order. It returns ErrListingSold when another buyer holds the listing
	// and ErrOrderExists when the payment already has an order.
	CompletePurchase(ctx context.Context, o protocol.Order, soldAt time.Time) (protocol.Listing, protocol.Order, error)
	GetOrderByPaymentID(ctx context.Context, paymentID string) (protocol.Order, bool, error)
	ListOrdersByBuyer(ctx context.Context, buyerID string, limit int) ([]protocol.BuyerOrder, error)
	SetOrderProvenance(ctx context.Context, orderID, txReference string, simulated bool) error

	EnqueueNotifications(ctx context.Context, items []Notification) (int, error)
}
