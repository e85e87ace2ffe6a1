package storefront

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-qris/internal/checkout"
	"github.com/noah-isme/toko-qris/internal/common"
	"github.com/noah-isme/toko-qris/internal/gateway"
)

// DeliveryNotice tells a paid buyer the content was also e-mailed.
const DeliveryNotice = "Detail produk juga telah dikirim ke email Anda."

// OrderGateway looks orders up at the payment gateway.
type OrderGateway interface {
	LookupOrder(ctx context.Context, merchantOrderID string) (gateway.Order, bool, error)
	NativeStatus(ctx context.Context, merchantOrderID string) (gateway.NativeStatus, error)
}

// OrderProduct is the product snapshot shown on the order page.
type OrderProduct struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// OrderView is the order status page payload. Content is only present once
// the order is paid.
type OrderView struct {
	MerchantOrderID string         `json:"merchantOrderId"`
	Status          gateway.Status `json:"status"`
	Total           int64          `json:"total"`
	Product         OrderProduct   `json:"product"`
	CustomerEmail   string         `json:"customerEmail"`
	Reference       string         `json:"reference,omitempty"`
	CreatedAt       *time.Time     `json:"createdAt,omitempty"`
	Content         string         `json:"content,omitempty"`
	Notice          string         `json:"notice,omitempty"`
}

// NewOrderView builds the page payload for a gateway order.
func NewOrderView(o gateway.Order) OrderView {
	status := o.Status
	if status == "" {
		status = gateway.StatusPending
	}
	total := int64(o.ProductDetails.Price)
	if total <= 0 {
		total = int64(o.Amount)
	}
	view := OrderView{
		MerchantOrderID: o.MerchantOrderID,
		Status:          status,
		Total:           total,
		Product: OrderProduct{
			Name:        o.ProductDetails.Name,
			Description: o.ProductDetails.Description,
		},
		CustomerEmail: o.Customer.Email,
		Reference:     o.Reference,
		CreatedAt:     o.CreatedAt,
	}
	if status == gateway.StatusPaid {
		view.Content = checkout.Success{Order: o}.Deliverable()
		view.Notice = DeliveryNotice
	}
	return view
}

// Order handles GET /api/v1/orders/{merchantOrderId}.
func (h *Handler) Order(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "merchantOrderId"))
	if id == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "merchant order id is required", nil)
		return
	}
	order, found, err := h.orders.LookupOrder(r.Context(), id)
	if err != nil {
		h.logger.Warn().Err(err).Str("merchant_order_id", id).Msg("order_lookup_failed")
		common.JSONError(w, http.StatusBadGateway, "GATEWAY_UNAVAILABLE", "Gagal memuat data order.", nil)
		return
	}
	if !found {
		common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "Order tidak ditemukan.", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": NewOrderView(order)})
}

// GatewayStatus handles GET /api/v1/orders/{merchantOrderId}/gateway-status.
func (h *Handler) GatewayStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "merchantOrderId"))
	if id == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "merchant order id is required", nil)
		return
	}
	st, err := h.orders.NativeStatus(r.Context(), id)
	if err != nil {
		h.logger.Warn().Err(err).Str("merchant_order_id", id).Msg("gateway_status_failed")
		common.JSONError(w, http.StatusBadGateway, "GATEWAY_UNAVAILABLE", "Gagal memuat status pembayaran.", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"merchantOrderId": id,
		"statusCode":      st.StatusCode,
		"statusMessage":   st.StatusMessage,
		"status":          st.Status(),
		"text":            st.String(),
	}})
}
