package storefront

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-qris/internal/catalog"
	"github.com/noah-isme/toko-qris/internal/checkout"
	"github.com/noah-isme/toko-qris/internal/gateway"
	"github.com/noah-isme/toko-qris/internal/notify"
	"github.com/noah-isme/toko-qris/internal/qr"
)

const (
	testInterval = 5 * time.Millisecond
	waitFor      = 2 * time.Second
	tick         = 2 * time.Millisecond
)

type stubCreateGateway struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *stubCreateGateway) CreateQRIS(_ context.Context, in gateway.CreateRequest) (gateway.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return gateway.Invoice{}, g.err
	}
	return gateway.Invoice{QRString: "00020101021226610016ID.CO.QRIS.WWW" + in.MerchantOrderID, Reference: "REF-" + in.MerchantOrderID}, nil
}

func (g *stubCreateGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// paidAfter reports PENDING for the first n queries of an order, then PAID.
type paidAfter struct {
	n     int
	mu    sync.Mutex
	calls map[string]int
}

func (p *paidAfter) Source() string { return "order" }

func (p *paidAfter) Query(_ context.Context, intent checkout.OrderIntent) (checkout.Observation, error) {
	p.mu.Lock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[intent.MerchantOrderID]++
	n := p.calls[intent.MerchantOrderID]
	p.mu.Unlock()
	if p.n < 0 || n <= p.n {
		return checkout.Observation{Found: true, Status: gateway.StatusPending}, nil
	}
	return checkout.Observation{Found: true, Status: gateway.StatusPaid, Order: gateway.Order{
		MerchantOrderID: intent.MerchantOrderID,
		Amount:          gateway.FlexInt(intent.Amount),
		ProductDetails:  intent.ProductDetails,
		Customer:        intent.Customer,
		Status:          gateway.StatusPaid,
	}}, nil
}

type stubOrders struct {
	orders map[string]gateway.Order
	native map[string]gateway.NativeStatus
	err    error
}

func (s stubOrders) LookupOrder(_ context.Context, id string) (gateway.Order, bool, error) {
	if s.err != nil {
		return gateway.Order{}, false, s.err
	}
	o, ok := s.orders[id]
	return o, ok, nil
}

func (s stubOrders) NativeStatus(_ context.Context, id string) (gateway.NativeStatus, error) {
	if s.err != nil {
		return gateway.NativeStatus{}, s.err
	}
	st, ok := s.native[id]
	if !ok {
		return gateway.NativeStatus{}, &gateway.Error{StatusCode: http.StatusNotFound}
	}
	return st, nil
}

type recordingScheduler struct {
	mu       sync.Mutex
	payloads []notify.DeliveryPayload
	err      error
}

func (r *recordingScheduler) EnqueueDelivery(_ context.Context, p notify.DeliveryPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	return r.err
}

func (r *recordingScheduler) sent() []notify.DeliveryPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.DeliveryPayload(nil), r.payloads...)
}

type fixture struct {
	router    http.Handler
	store     *Store
	hub       *Hub
	gw        *stubCreateGateway
	scheduler *recordingScheduler
}

type fixtureOptions struct {
	querier checkout.StatusQuerier
	orders  OrderGateway
	baseURL string
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	if opts.querier == nil {
		opts.querier = &paidAfter{n: -1}
	}
	if opts.orders == nil {
		opts.orders = stubOrders{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := zerolog.Nop()
	gw := &stubCreateGateway{}
	scheduler := &recordingScheduler{}
	creator := checkout.NewCreator(gw, nil, logger)
	hook := DeliveryHook(scheduler, time.Second, logger)

	hub := NewHub(logger)
	go hub.Run(ctx)

	store := NewStore(StoreConfig{
		NewMachine: func() *checkout.Machine {
			return checkout.NewMachine(checkout.Config{
				Creator:         creator,
				Querier:         opts.querier,
				PollInterval:    testInterval,
				PaymentDeadline: time.Minute,
				OnPaid:          hook,
				Logger:          logger,
			})
		},
		IdleTTL: time.Minute,
		Hub:     hub,
		Logger:  logger,
	})
	t.Cleanup(store.CloseAll)

	products, err := catalog.NewService(catalog.DefaultProducts())
	require.NoError(t, err)

	h := NewHandler(HandlerConfig{
		Sessions:      store,
		Catalog:       products,
		Orders:        opts.orders,
		QR:            qr.NewRenderer(0),
		Hub:           hub,
		PublicBaseURL: opts.baseURL,
		Logger:        logger,
	})
	r := chi.NewRouter()
	r.Route("/api/v1", func(v chi.Router) { h.Routes(v) })
	return &fixture{router: r, store: store, hub: hub, gw: gw, scheduler: scheduler}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

var errGatewayDown = errors.New("dial tcp: connection refused")
