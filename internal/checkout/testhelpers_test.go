package checkout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noah-isme/toko-qris/internal/catalog"
	"github.com/noah-isme/toko-qris/internal/gateway"
)

var testProduct = catalog.Product{
	ID:          1,
	Name:        "Discord Auto Mod Bot",
	Description: "Bot moderasi otomatis untuk server Discord Anda.",
	Price:       75000,
	Content:     "Link Download: https://example.com/bot-v1.zip",
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []gateway.CreateRequest
	invoice  gateway.Invoice
	err      error
}

func (f *fakeGateway) CreateQRIS(_ context.Context, in gateway.CreateRequest) (gateway.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, in)
	if f.err != nil {
		return gateway.Invoice{}, f.err
	}
	return f.invoice, nil
}

func (f *fakeGateway) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeGateway) last() gateway.CreateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// funcQuerier delegates to fn and counts queries per merchant order id.
type funcQuerier struct {
	fn    func(ctx context.Context, intent OrderIntent, n int) (Observation, error)
	mu    sync.Mutex
	calls map[string]int
	total atomic.Int64
}

func newFuncQuerier(fn func(ctx context.Context, intent OrderIntent, n int) (Observation, error)) *funcQuerier {
	return &funcQuerier{fn: fn, calls: map[string]int{}}
}

func (q *funcQuerier) Source() string { return "order" }

func (q *funcQuerier) Query(ctx context.Context, intent OrderIntent) (Observation, error) {
	q.mu.Lock()
	q.calls[intent.MerchantOrderID]++
	n := q.calls[intent.MerchantOrderID]
	q.mu.Unlock()
	q.total.Add(1)
	return q.fn(ctx, intent, n)
}

func (q *funcQuerier) count(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls[id]
}

func pending() Observation {
	return Observation{Found: true, Status: gateway.StatusPending}
}

func paid(intent OrderIntent, content string) Observation {
	details := intent.ProductDetails
	details.Content = content
	return Observation{Found: true, Status: gateway.StatusPaid, Order: gateway.Order{
		MerchantOrderID: intent.MerchantOrderID,
		Amount:          gateway.FlexInt(intent.Amount),
		ProductDetails:  details,
		Customer:        intent.Customer,
		Status:          gateway.StatusPaid,
	}}
}

// settledCount waits for in-flight queries to drain and returns the count for id.
func settledCount(q *funcQuerier, id string) int {
	time.Sleep(3 * testInterval)
	return q.count(id)
}
