package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/unnati-rahatwal/Techvanza/internal/logging"
	"github.com/unnati-rahatwal/Techvanza/internal/protocol"
	"github.com/unnati-rahatwal/Techvanza/internal/service"
	"github.com/unnati-rahatwal/Techvanza/internal/storage"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HandlerParams struct {
	Marketplace  *service.Marketplace
	Checkout     *service.Checkout
	Tracking     *service.Tracking
	Store        Pinger
	Chain        service.ChainStatusReader
	Metrics      http.Handler
	AdminToken   string
	AdminCIDRs   []string
	MaxBodyBytes int64
	ServiceName  string
	Version      string
	Logger       *slog.Logger
}

type Handler struct {
	marketplace  *service.Marketplace
	checkout     *service.Checkout
	tracking     *service.Tracking
	store        Pinger
	chain        service.ChainStatusReader
	metrics      http.Handler
	admin        func(http.Handler) http.Handler
	maxBodyBytes int64
	service      string
	version      string
	logger       *slog.Logger
}

func NewHandler(p HandlerParams) (*Handler, error) {
	if p.Marketplace == nil || p.Checkout == nil || p.Tracking == nil {
		return nil, fmt.Errorf("marketplace, checkout and tracking services are required")
	}
	if p.AdminToken == "" {
		return nil, fmt.Errorf("admin token is required")
	}
	allow, err := IPAllowListMiddleware(p.AdminCIDRs)
	if err != nil {
		return nil, fmt.Errorf("admin cidrs: %w", err)
	}
	bearer := BearerAuthMiddleware(p.AdminToken)
	if p.MaxBodyBytes <= 0 {
		p.MaxBodyBytes = 2 << 20
	}
	if p.ServiceName == "" {
		p.ServiceName = "ecotrade-server"
	}
	if p.Version == "" {
		p.Version = "dev"
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Handler{
		marketplace:  p.Marketplace,
		checkout:     p.Checkout,
		tracking:     p.Tracking,
		store:        p.Store,
		chain:        p.Chain,
		metrics:      p.Metrics,
		admin:        func(next http.Handler) http.Handler { return allow(bearer(next)) },
		maxBodyBytes: p.MaxBodyBytes,
		service:      p.ServiceName,
		version:      p.Version,
		logger:       p.Logger,
	}, nil
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	mux.HandleFunc("POST /v1/users", h.handleRegisterUser)
	mux.HandleFunc("POST /v1/listings", h.handleCreateListing)
	mux.HandleFunc("GET /v1/listings", h.handleListListings)
	mux.HandleFunc("GET /v1/listings/{id}", h.handleGetListing)
	mux.HandleFunc("POST /v1/payments/orders", h.handleCreatePaymentOrder)
	mux.HandleFunc("POST /v1/payments/verify", h.handleVerifyPayment)
	mux.HandleFunc("GET /v1/orders", h.handleListOrders)
	mux.HandleFunc("GET /v1/tracking/{id}", h.handleTimeline)
	mux.Handle("POST /v1/tracking/{id}/state", h.admin(http.HandlerFunc(h.handleStateUpdate)))
	mux.HandleFunc("GET /v1/provenance/status", h.handleProvenanceStatus)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	logging.AddField(r.Context(), "op", "health")
	resp := protocol.HealthResponse{
		Service: h.service,
		Version: h.version,
		Status:  "ok",
		Time:    time.Now().UTC(),
	}
	if h.chain != nil {
		resp.ChainConfigured = h.chain.ChainStatus().Configured
	}
	status := http.StatusOK
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			logging.AddField(r.Context(), "error_message", err.Error())
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.marketplace.RegisterUser(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "register_user")
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateListingRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.marketplace.CreateListing(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "create_listing")
	logging.AddField(r.Context(), "notifications_queued", resp.NotificationsQueued)
	if resp.Provenance != nil {
		logging.AddField(r.Context(), "tx_simulated", resp.Provenance.IsSimulated)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleListListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.ListingFilter{
		SupplierID: q.Get("supplier_id"),
		Status:     protocol.ListingStatus(q.Get("status")),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, r, service.BadRequest("limit must be a non-negative integer"))
			return
		}
		f.Limit = n
	}
	resp, err := h.marketplace.ListListings(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "list_listings")
	logging.AddField(r.Context(), "count", len(resp.Listings))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetListing(w http.ResponseWriter, r *http.Request) {
	resp, err := h.marketplace.GetListing(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "get_listing")
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreatePaymentOrder(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreatePaymentOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.checkout.CreatePaymentOrder(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "create_payment_order")
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req protocol.VerifyPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.checkout.VerifyPayment(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "verify_payment")
	logging.AddField(r.Context(), "replayed", resp.Replayed)
	logging.AddField(r.Context(), "tx_simulated", resp.Provenance.IsSimulated)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, r, service.BadRequest("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	resp, err := h.checkout.ListOrders(r.Context(), q.Get("buyer_id"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "list_orders")
	logging.AddField(r.Context(), "count", len(resp.Orders))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	resp, err := h.tracking.Timeline(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "timeline")
	logging.AddField(r.Context(), "entries", len(resp.History))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStateUpdate(w http.ResponseWriter, r *http.Request) {
	var req protocol.StateUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.tracking.RecordTransition(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "state_update")
	logging.AddField(r.Context(), "tx_simulated", resp.IsSimulated)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleProvenanceStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.tracking.Status(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "provenance_status")
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := decodeJSON(r, h.maxBodyBytes, out); err != nil {
		h.writeError(w, r, service.NewAppError(http.StatusBadRequest, "BAD_REQUEST", err.Error(), false, err))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *service.AppError
	if errors.As(err, &appErr) {
		logging.AddField(r.Context(), "error_code", appErr.Code)
		logging.AddField(r.Context(), "error_message", appErr.Message)
		if appErr.Cause != nil && appErr.HTTPStatus >= http.StatusInternalServerError {
			h.logger.Error("request failed",
				slog.String("code", appErr.Code),
				slog.String("error", appErr.Error()),
			)
		}
		writeJSON(w, appErr.HTTPStatus, protocol.ErrorResponse{Error: protocol.ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Retryable: appErr.Retryable,
		}})
		return
	}
	logging.AddField(r.Context(), "error_code", "INTERNAL_ERROR")
	logging.AddField(r.Context(), "error_message", err.Error())
	writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: protocol.ErrorBody{
		Code:      "INTERNAL_ERROR",
		Message:   "internal server error",
		Retryable: true,
	}})
}

func decodeJSON(r *http.Request, maxBodyBytes int64, out any) error {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxBodyBytes)
	dec := json.NewDecoder(limited)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
