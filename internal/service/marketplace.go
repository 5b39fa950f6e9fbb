package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unnati-rahatwal/Techvanza/internal/logging"
	"github.com/unnati-rahatwal/Techvanza/internal/notify"
	"github.com/unnati-rahatwal/Techvanza/internal/payment"
	"github.com/unnati-rahatwal/Techvanza/internal/protocol"
	"github.com/unnati-rahatwal/Techvanza/internal/provenance"
	"github.com/unnati-rahatwal/Techvanza/internal/storage"
)

// ProvenanceWriter is the part of the fallback orchestrator the marketplace
// and checkout flows write through.
type ProvenanceWriter interface {
	RecordCreate(ctx context.Context, in provenance.CreateIntent) (provenance.Event, error)
	RecordPurchase(ctx context.Context, itemID, buyerHash string, metadata map[string]any) (provenance.Event, error)
	RecordTransition(ctx context.Context, itemID string, state provenance.EventType, actorHash string) (provenance.Event, error)
}

type MarketplaceParams struct {
	Store         storage.Store
	Provenance    ProvenanceWriter
	NotifyEnabled bool
	CountryCode   string
	Logger        *slog.Logger
	Now           func() time.Time
}

type Marketplace struct {
	store         storage.Store
	provenance    ProvenanceWriter
	notifyEnabled bool
	countryCode   string
	logger        *slog.Logger
	now           func() time.Time
}

func NewMarketplace(p MarketplaceParams) (*Marketplace, error) {
	if p.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if p.Provenance == nil {
		return nil, fmt.Errorf("provenance writer is required")
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Now == nil {
		p.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Marketplace{
		store:         p.Store,
		provenance:    p.Provenance,
		notifyEnabled: p.NotifyEnabled,
		countryCode:   p.CountryCode,
		logger:        p.Logger,
		now:           p.Now,
	}, nil
}

func (m *Marketplace) RegisterUser(ctx context.Context, req protocol.RegisterUserRequest) (protocol.User, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" {
		return protocol.User{}, BadRequest("name is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return protocol.User{}, BadRequest("email is invalid")
	}
	if req.Role != protocol.RoleSupplier && req.Role != protocol.RoleBuyer {
		return protocol.User{}, BadRequest("role must be supplier or buyer")
	}

	u, err := m.store.CreateUser(ctx, protocol.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Mobile:    strings.TrimSpace(req.Mobile),
		Role:      req.Role,
		Location:  strings.TrimSpace(req.Location),
		CreatedAt: m.now(),
	})
	if errors.Is(err, storage.ErrUserExists) {
		return protocol.User{}, Conflict("email already registered", err)
	}
	if err != nil {
		return protocol.User{}, Internal("create user", err)
	}
	logging.AddField(ctx, "user_id", u.ID)
	return u, nil
}

// CreateListing stores the listing, then records its CREATED provenance event
// and queues buyer alerts. Neither follow-up can fail the listing.
func (m *Marketplace) CreateListing(ctx context.Context, req protocol.CreateListingRequest) (protocol.ListingResponse, error) {
	if err := validateListing(req); err != nil {
		return protocol.ListingResponse{}, err
	}
	supplier, ok, err := m.store.GetUser(ctx, req.SupplierID)
	if err != nil {
		return protocol.ListingResponse{}, Internal("load supplier", err)
	}
	if !ok {
		return protocol.ListingResponse{}, NotFound("supplier not found")
	}
	if supplier.Role != protocol.RoleSupplier {
		return protocol.ListingResponse{}, Forbidden("only suppliers can create listings")
	}

	listing, err := m.store.CreateListing(ctx, protocol.Listing{
		ID:          uuid.NewString(),
		SupplierID:  supplier.ID,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		WasteType:   strings.TrimSpace(req.WasteType),
		Quantity:    req.Quantity,
		PricePerKg:  req.PricePerKg,
		Location:    strings.TrimSpace(req.Location),
		ImageURL:    strings.TrimSpace(req.ImageURL),
		Status:      protocol.ListingAvailable,
		CreatedAt:   m.now(),
	})
	if err != nil {
		return protocol.ListingResponse{}, Internal("create listing", err)
	}
	logging.AddField(ctx, "listing_id", listing.ID)

	resp := protocol.ListingResponse{Listing: listing}
	ev, err := m.provenance.RecordCreate(ctx, provenance.CreateIntent{
		ItemID:    listing.ID,
		ActorHash: protocol.ActorHash(supplier.ID),
		Price:     payment.ToMinorUnits(listing.PricePerKg),
		Quantity:  int64(math.Round(listing.Quantity)),
		Metadata: map[string]any{
			"title":      listing.Title,
			"waste_type": listing.WasteType,
		},
	})
	if err != nil {
		m.logger.Error("listing provenance not recorded",
			slog.String("listing_id", listing.ID),
			slog.String("error", err.Error()),
		)
	} else {
		resp.Provenance = receipt(ev)
		if err := m.store.SetListingProvenance(ctx, listing.ID, ev.TxReference); err != nil {
			m.logger.Warn("listing tx reference not saved",
				slog.String("listing_id", listing.ID),
				slog.String("error", err.Error()),
			)
		} else {
			resp.Listing.ProvenanceTxReference = ev.TxReference
		}
	}

	if m.notifyEnabled {
		resp.NotificationsQueued = m.broadcast(ctx, listing)
	}
	return resp, nil
}

func (m *Marketplace) broadcast(ctx context.Context, listing protocol.Listing) int {
	buyers, err := m.store.ListBuyersWithMobile(ctx)
	if err != nil {
		m.logger.Warn("listing broadcast skipped",
			slog.String("listing_id", listing.ID),
			slog.String("error", err.Error()),
		)
		return 0
	}
	items := notify.ListingBroadcast(listing, buyers, m.countryCode)
	if len(items) == 0 {
		return 0
	}
	n, err := m.store.EnqueueNotifications(ctx, items)
	if err != nil {
		m.logger.Warn("listing broadcast enqueue failed",
			slog.String("listing_id", listing.ID),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return n
}

func (m *Marketplace) GetListing(ctx context.Context, id string) (protocol.Listing, error) {
	l, ok, err := m.store.GetListing(ctx, strings.TrimSpace(id))
	if err != nil {
		return protocol.Listing{}, Internal("load listing", err)
	}
	if !ok {
		return protocol.Listing{}, NotFound("listing not found")
	}
	return l, nil
}

func (m *Marketplace) ListListings(ctx context.Context, f storage.ListingFilter) (protocol.ListingsResponse, error) {
	switch f.Status {
	case "", protocol.ListingAvailable, protocol.ListingSold:
	default:
		return protocol.ListingsResponse{}, BadRequest("status must be available or sold")
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	listings, err := m.store.ListListings(ctx, f)
	if err != nil {
		return protocol.ListingsResponse{}, Internal("list listings", err)
	}
	if listings == nil {
		listings = []protocol.Listing{}
	}
	return protocol.ListingsResponse{Listings: listings}, nil
}

// Upper bounds keep price * quantity in paise well inside int64.
const (
	MaxPricePerKg = 1_000_000
	MaxQuantityKg = 1_000_000
)

func validateListing(req protocol.CreateListingRequest) error {
	switch {
	case strings.TrimSpace(req.SupplierID) == "":
		return BadRequest("supplier_id is required")
	case strings.TrimSpace(req.Title) == "":
		return BadRequest("title is required")
	case strings.TrimSpace(req.WasteType) == "":
		return BadRequest("waste_type is required")
	case req.Quantity <= 0:
		return BadRequest("quantity must be positive")
	case req.Quantity > MaxQuantityKg:
		return BadRequest(fmt.Sprintf("quantity must not exceed %d kg", MaxQuantityKg))
	case req.PricePerKg <= 0:
		return BadRequest("price_per_kg must be positive")
	case req.PricePerKg > MaxPricePerKg:
		return BadRequest(fmt.Sprintf("price_per_kg must not exceed %d", MaxPricePerKg))
	}
	return nil
}

func receipt(ev provenance.Event) *protocol.ProvenanceReceipt {
	return &protocol.ProvenanceReceipt{
		EventType:   ev.Type.String(),
		TxReference: ev.TxReference,
		IsSimulated: ev.IsSimulated,
	}
}
