package storefront

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-qris/internal/checkout"
	"github.com/noah-isme/toko-qris/internal/gateway"
)

type orderBody struct {
	Data OrderView `json:"data"`
}

func TestOrderNotFoundIsDistinctFromGatewayFailure(t *testing.T) {
	f := newFixture(t, fixtureOptions{orders: stubOrders{orders: map[string]gateway.Order{}}})
	rr := f.do(http.MethodGet, "/api/v1/orders/ORDER-404", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	body := decodeError(t, rr)
	require.Equal(t, "ORDER_NOT_FOUND", body.Error.Code)
	require.Equal(t, "Order tidak ditemukan.", body.Error.Message)

	down := newFixture(t, fixtureOptions{orders: stubOrders{err: errGatewayDown}})
	rr = down.do(http.MethodGet, "/api/v1/orders/ORDER-404", "")
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Equal(t, "GATEWAY_UNAVAILABLE", decodeError(t, rr).Error.Code)
}

func TestOrderContentOnlyWhenPaid(t *testing.T) {
	var pendingOrder, paidOrder, emptyPaid gateway.Order
	require.NoError(t, json.Unmarshal([]byte(`{
		"merchantOrderId":"ORDER-1","amount":"75000","status":"PENDING",
		"productDetails":"{\"id\":1,\"name\":\"Discord Auto Mod Bot\",\"price\":75000,\"content\":\"Link Download\"}",
		"customer":{"name":"Budi","email":"budi@example.com"}
	}`), &pendingOrder))
	require.NoError(t, json.Unmarshal([]byte(`{
		"merchantOrderId":"ORDER-2","amount":75000,"status":"paid",
		"productDetails":{"id":1,"name":"Discord Auto Mod Bot","price":75000,"content":"Link Download"},
		"customer":{"name":"Budi","email":"budi@example.com"}
	}`), &paidOrder))
	require.NoError(t, json.Unmarshal([]byte(`{
		"merchantOrderId":"ORDER-3","amount":15000,"status":"PAID","productDetails":"not json"
	}`), &emptyPaid))

	f := newFixture(t, fixtureOptions{orders: stubOrders{orders: map[string]gateway.Order{
		"ORDER-1": pendingOrder,
		"ORDER-2": paidOrder,
		"ORDER-3": emptyPaid,
	}}})

	var body orderBody
	rr := f.do(http.MethodGet, "/api/v1/orders/ORDER-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, gateway.StatusPending, body.Data.Status)
	require.Equal(t, int64(75000), body.Data.Total)
	require.Equal(t, "Discord Auto Mod Bot", body.Data.Product.Name)
	require.Empty(t, body.Data.Content)
	require.Empty(t, body.Data.Notice)

	body = orderBody{}
	rr = f.do(http.MethodGet, "/api/v1/orders/ORDER-2", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, gateway.StatusPaid, body.Data.Status)
	require.Equal(t, "Link Download", body.Data.Content)
	require.Equal(t, DeliveryNotice, body.Data.Notice)

	body = orderBody{}
	rr = f.do(http.MethodGet, "/api/v1/orders/ORDER-3", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, checkout.FallbackDeliverable, body.Data.Content)
	require.Equal(t, int64(15000), body.Data.Total)
}

func TestGatewayStatusPassthrough(t *testing.T) {
	f := newFixture(t, fixtureOptions{orders: stubOrders{native: map[string]gateway.NativeStatus{
		"ORDER-1": {StatusCode: "00", StatusMessage: "SUCCESS"},
	}}})
	rr := f.do(http.MethodGet, "/api/v1/orders/ORDER-1/gateway-status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data struct {
			Status string `json:"status"`
			Text   string `json:"text"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "PAID", body.Data.Status)
	require.Equal(t, "00 - SUCCESS", body.Data.Text)

	rr = f.do(http.MethodGet, "/api/v1/orders/ORDER-2/gateway-status", "")
	require.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestDeliveryPayloadFallsBackToIntent(t *testing.T) {
	intent := checkout.OrderIntent{
		MerchantOrderID: "ORDER-9",
		Amount:          19500,
		ProductName:     "Template CV",
		Customer:        gateway.Customer{Name: "Sari", Email: "sari@example.com"},
	}
	p := deliveryPayload(intent, gateway.Order{MerchantOrderID: "ORDER-9", Status: gateway.StatusPaid})
	require.Equal(t, "sari@example.com", p.Email)
	require.Equal(t, "Sari", p.Name)
	require.Equal(t, "Template CV", p.ProductName)
	require.Equal(t, int64(19500), p.Amount)
	require.Equal(t, checkout.FallbackDeliverable, p.Content)
}
