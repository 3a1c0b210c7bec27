package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"buytap/internal/models"
	"buytap/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	Orders   *services.OrderService
	AdminKey string
}

func NewHandler(orders *services.OrderService, adminKey string) *Handler {
	return &Handler{Orders: orders, AdminKey: adminKey}
}

type createOrderRequest struct {
	Principal    decimal.Decimal `json:"principal"`
	DurationDays int             `json:"durationDays"`
}

type orderResponse struct {
	OrderID            string `json:"orderId"`
	Status             string `json:"status"`
	SubStatus          string `json:"subStatus,omitempty"`
	Details            string `json:"details,omitempty"`
	Principal          string `json:"principal"`
	TargetPayout       string `json:"targetPayout"`
	RemainingToSend    string `json:"remainingToSend"`
	RemainingToReceive string `json:"remainingToReceive"`
	AppliedBonus       string `json:"appliedBonus,omitempty"`
	DurationDays       int    `json:"durationDays"`
	MaturityAt         string `json:"maturityAt,omitempty"`
	RevokedReason      string `json:"revokedReason,omitempty"`
	CreatedAt          string `json:"createdAt"`
}

type chunkResponse struct {
	ChunkID       int64  `json:"chunkId"`
	BuyerOrderID  string `json:"buyerOrderId"`
	SellerOrderID string `json:"sellerOrderId"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	PairedAt      string `json:"pairedAt"`
	// PaymentDeadline is when the timeout sweep may void an unpaid chunk;
	// the front end renders its countdown from this.
	PaymentDeadline string `json:"paymentDeadline"`
}

func toOrderResponse(o *models.Order) orderResponse {
	resp := orderResponse{
		OrderID:            o.ID,
		Status:             string(o.Status),
		SubStatus:          o.SubStatus,
		Details:            o.Details,
		Principal:          o.Principal.String(),
		TargetPayout:       o.TargetPayout.String(),
		RemainingToSend:    o.RemainingToSend.String(),
		RemainingToReceive: o.RemainingToReceive.String(),
		DurationDays:       o.DurationDays,
		RevokedReason:      o.RevokedReason,
		AppliedBonus:       bonusString(o.AppliedBonus),
		CreatedAt:          o.CreatedAt.Format(time.RFC3339),
	}
	if o.MaturityAt != nil {
		resp.MaturityAt = o.MaturityAt.Format(time.RFC3339)
	}
	return resp
}

func bonusString(d decimal.Decimal) string {
	if d.Sign() <= 0 {
		return ""
	}
	return d.String()
}

func (h *Handler) toChunkResponses(chunks []*models.Chunk, deadline time.Duration) []chunkResponse {
	out := make([]chunkResponse, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, chunkResponse{
			ChunkID:         c.ID,
			BuyerOrderID:    c.BuyerOrderID,
			SellerOrderID:   c.SellerOrderID,
			Amount:          c.Amount.String(),
			Status:          string(c.Status),
			PairedAt:        c.PairedAt.Format(time.RFC3339),
			PaymentDeadline: c.PairedAt.Add(deadline).Format(time.RFC3339),
		})
	}
	return out
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	owner := r.Header.Get("X-User-Id")
	order, err := h.Orders.CreateBuyerOrder(r.Context(), owner, req.Principal, req.DurationDays)
	if err != nil {
		h.writeServiceError(w, err, "create order failed")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.Orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, err, "get order failed")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get("X-User-Id")

	var statuses []models.OrderStatus
	if st := r.URL.Query().Get("status"); st != "" {
		statuses = append(statuses, models.OrderStatus(st))
	}

	orders, err := h.Orders.ListOwnerOrders(r.Context(), owner, statuses...)
	if err != nil {
		h.writeServiceError(w, err, "list orders failed")
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ListBuyerChunks(w http.ResponseWriter, r *http.Request) {
	h.listChunks(w, r, h.Orders.ListBuyerChunks)
}

func (h *Handler) ListSellerChunks(w http.ResponseWriter, r *http.Request) {
	h.listChunks(w, r, h.Orders.ListSellerChunks)
}

func (h *Handler) listChunks(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, orderID string) ([]*models.Chunk, error)) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	chunks, err := list(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, err, "list chunks failed")
		return
	}
	writeJSON(w, http.StatusOK, h.toChunkResponses(chunks, h.Orders.PaymentDeadline))
}

func (h *Handler) MarkChunkPaid(w http.ResponseWriter, r *http.Request) {
	h.confirmChunk(w, r, h.Orders.MarkChunkPaid)
}

func (h *Handler) MarkChunkReceived(w http.ResponseWriter, r *http.Request) {
	h.confirmChunk(w, r, h.Orders.MarkChunkReceived)
}

func (h *Handler) confirmChunk(w http.ResponseWriter, r *http.Request, confirm func(ctx context.Context, chunkID int64, caller string) error) {
	chunkID, err := strconv.ParseInt(chi.URLParam(r, "chunkId"), 10, 64)
	if err != nil || chunkID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid chunk id")
		return
	}

	caller := r.Header.Get("X-User-Id")
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}

	if err := confirm(r.Context(), chunkID, caller); err != nil {
		h.writeServiceError(w, err, "confirm chunk failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type bonusResponse struct {
	BonusID        int64  `json:"bonusId"`
	Amount         string `json:"amount"`
	Status         string `json:"status"`
	SourceOrderID  string `json:"sourceOrderId"`
	SourceOwner    string `json:"sourceOwner,omitempty"`
	AppliedOrderID string `json:"appliedOrderId,omitempty"`
	EarnedAt       string `json:"earnedAt"`
}

func (h *Handler) ListBonuses(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get("X-User-Id")
	bonuses, err := h.Orders.ListBonuses(r.Context(), owner)
	if err != nil {
		h.writeServiceError(w, err, "list bonuses failed")
		return
	}

	out := make([]bonusResponse, 0, len(bonuses))
	for _, b := range bonuses {
		out = append(out, bonusResponse{
			BonusID:        b.ID,
			Amount:         b.Amount.String(),
			Status:         string(b.Status),
			SourceOrderID:  b.SourceOrderID,
			SourceOwner:    b.SourceOwner,
			AppliedOrderID: b.AppliedOrderID,
			EarnedAt:       b.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type setReferrerRequest struct {
	Upline string `json:"upline"`
}

func (h *Handler) SetReferrer(w http.ResponseWriter, r *http.Request) {
	var req setReferrerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	owner := r.Header.Get("X-User-Id")
	if err := h.Orders.SetReferrer(r.Context(), owner, req.Upline); err != nil {
		h.writeServiceError(w, err, "set referrer failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) PoolBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.Orders.PoolBalance(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "pool balance failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

type setPoolRequest struct {
	Balance decimal.Decimal `json:"balance"`
}

func (h *Handler) SetPool(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		writeError(w, http.StatusForbidden, "admin key required")
		return
	}
	var req setPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := h.Orders.SetPoolBalance(r.Context(), req.Balance); err != nil {
		h.writeServiceError(w, err, "set pool failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Reinstate(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		writeError(w, http.StatusForbidden, "admin key required")
		return
	}
	orderID := chi.URLParam(r, "orderId")
	order, err := h.Orders.AdminReinstate(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, err, "reinstate failed")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		writeError(w, http.StatusForbidden, "admin key required")
		return
	}

	var n int
	var err error
	switch chi.URLParam(r, "name") {
	case "maturity":
		n, err = h.Orders.RunMaturitySweep(r.Context())
	case "timeout":
		n, err = h.Orders.RunTimeoutSweep(r.Context())
	case "matching":
		n, err = h.Orders.RunMatchingSweep(r.Context())
	default:
		writeError(w, http.StatusNotFound, "unknown sweep")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": n})
}

func (h *Handler) isAdmin(r *http.Request) bool {
	return h.AdminKey != "" && r.Header.Get("X-Admin-Key") == h.AdminKey
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, services.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "not authorized")
	case errors.Is(err, services.ErrMissingOwner):
		writeError(w, http.StatusUnauthorized, "missing user id")
	case errors.Is(err, services.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid amount")
	case errors.Is(err, services.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, "unknown duration plan")
	case errors.Is(err, services.ErrNotRevoked):
		writeError(w, http.StatusConflict, "order is not revoked")
	case errors.Is(err, services.ErrInvalidReferral):
		writeError(w, http.StatusBadRequest, "invalid referral")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
