package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	cartapp "github.com/shopforge/order-engine/internal/cart/application"
	cartdomain "github.com/shopforge/order-engine/internal/cart/domain"
	catalogdomain "github.com/shopforge/order-engine/internal/catalog/domain"
	"github.com/shopforge/order-engine/internal/order/application"
	"github.com/shopforge/order-engine/internal/order/domain"
	stockdomain "github.com/shopforge/order-engine/internal/stock/domain"
)

// Identity comes from the authentication gateway upstream; this layer
// only reads the headers it sets.
const (
	headerParty = "X-Customer-ID"
	headerRole  = "X-Role"
)

type Handler struct {
	log    *slog.Logger
	carts  *cartapp.Service
	orders *application.Service
	tracer trace.Tracer
}

func NewHandler(log *slog.Logger, carts *cartapp.Service, orders *application.Service) *Handler {
	return &Handler{
		log:    log,
		carts:  carts,
		orders: orders,
		tracer: otel.Tracer("order-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.getCart)
		r.Delete("/", h.clearCart)
		r.Post("/items", h.addItem)
		r.Put("/items/{productID}", h.updateQuantity)
		r.Delete("/items/{productID}", h.removeItem)
		r.Post("/merge", h.mergeCart)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{orderID}", h.getOrder)
		r.Post("/{orderID}/status", h.advanceStatus)
		r.Post("/{orderID}/cancel", h.cancelOrder)
	})
	r.Get("/sellers/me/stats", h.sellerStats)

	return r
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetCart")
	defer span.End()

	cart, err := h.carts.Get(ctx, party(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ClearCart")
	defer span.End()

	if err := h.carts.Clear(ctx, party(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addItemReq struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AddCartItem")
	defer span.End()

	var req addItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	cart, err := h.carts.AddItem(ctx, party(r), req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) updateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateCartItem")
	defer span.End()

	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	cart, err := h.carts.UpdateQuantity(ctx, party(r), chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RemoveCartItem")
	defer span.End()

	cart, err := h.carts.RemoveItem(ctx, party(r), chi.URLParam(r, "productID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

type mergeReq struct {
	Items []addItemReq `json:"items"`
}

func (h *Handler) mergeCart(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "MergeCart")
	defer span.End()

	var req mergeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	guest := make([]cartdomain.Item, 0, len(req.Items))
	for _, it := range req.Items {
		guest = append(guest, cartdomain.Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	cart, err := h.carts.Merge(ctx, party(r), guest)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var in application.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	order, err := h.orders.CreateOrder(ctx, party(r), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"), party(r), role(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListOrders")
	defer span.End()

	q := application.ListQuery{
		PartyID: party(r),
		Role:    role(r),
		SortBy:  application.SortField(r.URL.Query().Get("sortBy")),
		Desc:    r.URL.Query().Get("order") != "asc",
	}
	q.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	q.PageSize, _ = strconv.Atoi(r.URL.Query().Get("pageSize"))
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := domain.OrderStatus(raw)
		q.Status = &st
	}

	page, err := h.orders.ListOrders(ctx, q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type advanceReq struct {
	Status domain.OrderStatus `json:"status"`
	Note   string             `json:"note"`
}

func (h *Handler) advanceStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdvanceOrderStatus")
	defer span.End()

	var req advanceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	order, err := h.orders.Advance(ctx, chi.URLParam(r, "orderID"), party(r), req.Status, req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelOrder")
	defer span.End()

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	if req.Reason == "" {
		req.Reason = "Cancelled by customer"
	}
	order, err := h.orders.Cancel(ctx, chi.URLParam(r, "orderID"), party(r), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) sellerStats(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SellerStats")
	defer span.End()

	if role(r) != application.RoleSeller {
		h.writeError(w, domain.ErrForbidden)
		return
	}
	stats, err := h.orders.SellerStats(ctx, party(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func party(r *http.Request) string { return r.Header.Get(headerParty) }

func role(r *http.Request) application.Role {
	if r.Header.Get(headerRole) == string(application.RoleSeller) {
		return application.RoleSeller
	}
	return application.RoleCustomer
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Available *int   `json:"available,omitempty"`
}

// writeError maps domain errors onto stable codes; storage errors stay
// inside.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var oos *cartdomain.OutOfStockError
	if errors.As(err, &oos) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]errorBody{"error": {
			Code: "out_of_stock", Message: oos.Error(), Available: &oos.Available,
		}})
		return
	}

	var status int
	var code string
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, cartdomain.ErrCartNotFound),
		errors.Is(err, catalogdomain.ErrProductNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, application.ErrEmptyCart),
		errors.Is(err, application.ErrInvalidAmount),
		errors.Is(err, application.ErrInvalidSort),
		errors.Is(err, application.ErrInvalidStatus),
		errors.Is(err, cartdomain.ErrInvalidQuantity),
		errors.Is(err, catalogdomain.ErrProductUnavailable),
		errors.Is(err, stockdomain.ErrInsufficientStock):
		status, code = http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, application.ErrInconsistent):
		status, code = http.StatusInternalServerError, "inconsistent"
	default:
		h.log.Error("unhandled error", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]errorBody{"error": {
			Code: "internal", Message: "internal error",
		}})
		return
	}
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: err.Error()}})
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]errorBody{"error": {Code: "bad_request", Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
