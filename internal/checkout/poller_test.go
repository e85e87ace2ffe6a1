package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-qris/internal/gateway"
)

type stubNative struct {
	status gateway.NativeStatus
}

func (s stubNative) NativeStatus(context.Context, string) (gateway.NativeStatus, error) {
	return s.status, nil
}

type stubLookup struct {
	order gateway.Order
	found bool
}

func (s stubLookup) LookupOrder(context.Context, string) (gateway.Order, bool, error) {
	return s.order, s.found, nil
}

func TestNativeQuerierCompletesOrderFromIntent(t *testing.T) {
	intent := OrderIntent{
		MerchantOrderID: "ORDER-1",
		Amount:          75000,
		ProductDetails:  gateway.NewProductDetails(gateway.ProductFields{ID: 1, Content: "Link..."}),
		Customer:        gateway.Customer{Name: "Budi", Email: "budi@example.com"},
	}
	q := NativeQuerier{Gateway: stubNative{status: gateway.NativeStatus{StatusCode: "00", StatusMessage: "SUCCESS"}}}

	got, err := q.Query(context.Background(), intent)
	require.NoError(t, err)
	require.Equal(t, gateway.StatusPaid, got.Status)
	require.Equal(t, "Link...", got.Order.ProductDetails.Content)
	require.Equal(t, gateway.FlexInt(75000), got.Order.Amount)
	require.Equal(t, "status", q.Source())
}

func TestOrderQuerierTreatsNotFoundAsPending(t *testing.T) {
	q := OrderQuerier{Gateway: stubLookup{found: false}}
	got, err := q.Query(context.Background(), OrderIntent{MerchantOrderID: "ORDER-1"})
	require.NoError(t, err)
	require.False(t, got.Found)
	require.False(t, got.Status.Terminal())
}

func TestPollHandleStopIsIdempotent(t *testing.T) {
	q := newFuncQuerier(func(context.Context, OrderIntent, int) (Observation, error) { return pending(), nil })
	fired := make(chan struct{}, 1)
	h := startPoller(pollConfig{interval: testInterval, deadline: testInterval * 4, queryTimeout: testInterval}, q, OrderIntent{MerchantOrderID: "ORDER-1"}, zerolog.Nop(),
		func(Observation) {},
		func() { fired <- struct{}{} },
	)
	h.Stop()
	h.Stop()
	h.Wait()

	var nilHandle *pollHandle
	nilHandle.Stop()

	select {
	case <-fired:
		t.Fatal("deadline fired after stop")
	case <-time.After(testInterval * 8):
	}
}
