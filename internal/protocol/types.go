package protocol

import "time"

type Role string

const (
	RoleSupplier Role = "supplier"
	RoleBuyer    Role = "buyer"
)

type ListingStatus string

const (
	ListingAvailable ListingStatus = "available"
	ListingSold      ListingStatus = "sold"
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Mobile    string    `json:"mobile,omitempty"`
	Role      Role      `json:"role"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Listing quantities are kilograms; prices are rupees per kilogram.
type Listing struct {
	ID                    string        `json:"id"`
	SupplierID            string        `json:"supplier_id"`
	Title                 string        `json:"title"`
	Description           string        `json:"description,omitempty"`
	WasteType             string        `json:"waste_type"`
	Quantity              float64       `json:"quantity"`
	PricePerKg            float64       `json:"price_per_kg"`
	Location              string        `json:"location,omitempty"`
	ImageURL              string        `json:"image_url,omitempty"`
	Status                ListingStatus `json:"status"`
	BuyerID               string        `json:"buyer_id,omitempty"`
	ProvenanceTxReference string        `json:"provenance_tx_reference,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	SoldAt                *time.Time    `json:"sold_at,omitempty"`
}

type Order struct {
	ID             string    `json:"id"`
	BuyerID        string    `json:"buyer_id"`
	SupplierID     string    `json:"supplier_id"`
	ListingID      string    `json:"listing_id"`
	Quantity       float64   `json:"quantity"`
	TotalPrice     float64   `json:"total_price"`
	GatewayOrderID string    `json:"gateway_order_id"`
	PaymentID      string    `json:"payment_id"`
	TxReference    string    `json:"tx_reference,omitempty"`
	TxSimulated    bool      `json:"tx_simulated"`
	CreatedAt      time.Time `json:"created_at"`
}

// BuyerOrder is one row of a buyer's purchase history.
type BuyerOrder struct {
	Order
	ListingTitle string `json:"listing_title"`
	WasteType    string `json:"waste_type"`
	SupplierName string `json:"supplier_name"`
}

type OrdersResponse struct {
	Orders []BuyerOrder `json:"orders"`
}

type RegisterUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Mobile   string `json:"mobile"`
	Role     Role   `json:"role"`
	Location string `json:"location"`
}

type CreateListingRequest struct {
	SupplierID  string  `json:"supplier_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	WasteType   string  `json:"waste_type"`
	Quantity    float64 `json:"quantity"`
	PricePerKg  float64 `json:"price_per_kg"`
	Location    string  `json:"location"`
	ImageURL    string  `json:"image_url"`
}

type ProvenanceReceipt struct {
	EventType   string `json:"event_type"`
	TxReference string `json:"tx_reference"`
	IsSimulated bool   `json:"is_simulated"`
}

type ListingResponse struct {
	Listing             Listing            `json:"listing"`
	Provenance          *ProvenanceReceipt `json:"provenance,omitempty"`
	NotificationsQueued int                `json:"notifications_queued"`
}

type ListingsResponse struct {
	Listings []Listing `json:"listings"`
}

type CreatePaymentOrderRequest struct {
	ListingID string  `json:"listing_id"`
	Quantity  float64 `json:"quantity"`
}

type PaymentOrderResponse struct {
	GatewayOrderID string `json:"gateway_order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	KeyID          string `json:"key_id"`
}

type VerifyPaymentRequest struct {
	GatewayOrderID string  `json:"razorpay_order_id"`
	PaymentID      string  `json:"razorpay_payment_id"`
	Signature      string  `json:"razorpay_signature"`
	ListingID      string  `json:"listing_id"`
	BuyerID        string  `json:"buyer_id"`
	Quantity       float64 `json:"quantity"`
}

type VerifyPaymentResponse struct {
	Order      Order             `json:"order"`
	Provenance ProvenanceReceipt `json:"provenance"`
	Replayed   bool              `json:"replayed"`
}

type ListingSummary struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Quantity float64       `json:"quantity"`
	Status   ListingStatus `json:"status"`
	Supplier string        `json:"supplier,omitempty"`
	Buyer    string        `json:"buyer,omitempty"`
}

type TimelineEntry struct {
	State       string    `json:"state"`
	Timestamp   time.Time `json:"timestamp"`
	TxReference string    `json:"tx_reference"`
	IsSimulated bool      `json:"is_simulated"`
	Synthetic   string    `json:"synthetic,omitempty"`
	Source      string    `json:"source"`
	ActorHash   string    `json:"actor_hash,omitempty"`
}

type TrackingResponse struct {
	Listing   ListingSummary  `json:"listing"`
	History   []TimelineEntry `json:"history"`
	ChainRead bool            `json:"chain_read"`
}

type StateUpdateRequest struct {
	State   string `json:"state"`
	ActorID string `json:"actor_id"`
}

type ProvenanceStatusResponse struct {
	ChainConfigured bool       `json:"chain_configured"`
	Breaker         string     `json:"breaker"`
	TotalEvents     int64      `json:"total_events"`
	SimulatedEvents int64      `json:"simulated_events"`
	ConfirmedEvents int64      `json:"confirmed_events"`
	LatestEventAt   *time.Time `json:"latest_event_at,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type HealthResponse struct {
	Service         string    `json:"service"`
	Version         string    `json:"version"`
	Status          string    `json:"status"`
	ChainConfigured bool      `json:"chain_configured"`
	Time            time.Time `json:"time"`
}
