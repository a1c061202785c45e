package httpx

import (
	"context"
	"encoding/json"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/go-chi/chi/v5"
	"net/http"
	"strconv"
	"time"
)

type OrdersHandler struct {
	Service *orders.Service
}

type CreateOrderReq struct {
	UserID         int64              `json:"user_id"`
	Items          []orders.ItemInput `json:"items"`
	IdempotencyKey string             `json:"idempotency_key"`
}

type OrderItemResp struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

type OrderResp struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	Status         orders.Status   `json:"status"`
	TotalAmount    string          `json:"total_amount"`
	IdempotencyKey string          `json:"idempotency_key"`
	CancelledAt    *string         `json:"cancelled_at"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
	Items          []OrderItemResp `json:"items"`
}

type ProductResp struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Stock     int    `json:"stock"`
	CreatedAt string `json:"created_at"`
}

type PageMeta struct {
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
	LastPage    int `json:"last_page"`
}

const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func toOrderResp(o *orders.Order) OrderResp {
	items := make([]OrderItemResp, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResp{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: orders.FormatMoney(it.UnitPrice),
			LineTotal: orders.FormatMoney(it.LineTotal()),
		})
	}
	resp := OrderResp{
		ID:             o.ID,
		UserID:         o.UserID,
		Status:         o.Status,
		TotalAmount:    orders.FormatMoney(o.TotalAmount),
		IdempotencyKey: o.IdempotencyKey,
		CreatedAt:      formatTime(o.CreatedAt),
		UpdatedAt:      formatTime(o.UpdatedAt),
		Items:          items,
	}
	if o.CancelledAt != nil {
		s := formatTime(*o.CancelledAt)
		resp.CancelledAt = &s
	}
	return resp
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/orders", h.listOrders)
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Message: "invalid json", ErrorCode: CodeValidation})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Service.CreateOrder(ctx, orders.CreateOrderInput{
		UserID:         req.UserID,
		Items:          req.Items,
		IdempotencyKey: req.IdempotencyKey,
		TraceID:        TraceID(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if !res.Created {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{"data": toOrderResp(res.Order)})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		writeError(w, r, orders.ErrOrderNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.GetOrder(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": toOrderResp(o)})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		writeError(w, r, orders.ErrOrderNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Service.CancelOrder(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": toOrderResp(o)})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	page, err := h.Service.ListOrders(ctx, q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data := make([]OrderResp, 0, len(page.Orders))
	for _, o := range page.Orders {
		data = append(data, toOrderResp(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": data,
		"meta": PageMeta{
			CurrentPage: page.Page,
			PerPage:     page.PerPage,
			Total:       page.Total,
			LastPage:    page.LastPage(),
		},
	})
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Service.ListProducts(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data := make([]ProductResp, 0, len(ps))
	for _, p := range ps {
		data = append(data, ProductResp{
			ID:        p.ID,
			Name:      p.Name,
			Price:     orders.FormatMoney(p.Price),
			Stock:     p.Stock,
			CreatedAt: formatTime(p.CreatedAt),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// orderID accepts only positive integers; anything else is treated as a missing order.
func orderID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func parseListQuery(r *http.Request) (orders.ListQuery, error) {
	v := r.URL.Query()
	var q orders.ListQuery

	intParam := func(name string) (int64, error) {
		s := v.Get(name)
		if s == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, &orders.ValidationError{Field: name, Message: name + " must be an integer"}
		}
		return n, nil
	}

	uid, err := intParam("user_id")
	if err != nil {
		return q, err
	}
	page, err := intParam("page")
	if err != nil {
		return q, err
	}
	perPage, err := intParam("per_page")
	if err != nil {
		return q, err
	}
	if v.Has("page") && page == 0 {
		return q, &orders.ValidationError{Field: "page", Message: "page must be at least 1"}
	}
	if v.Has("per_page") && perPage == 0 {
		return q, &orders.ValidationError{Field: "per_page", Message: "per_page must be between 1 and 50"}
	}
	q.UserID, q.Page, q.PerPage = uid, int(page), int(perPage)

	if s := v.Get("status"); s != "" {
		st, err := orders.ParseStatus(s)
		if err != nil {
			return q, err
		}
		q.Status = st
	}
	return q, nil
}
