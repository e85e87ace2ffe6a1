package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-qris/internal/gateway"
	"github.com/noah-isme/toko-qris/internal/obs"
)

// Observation is the outcome of one status query.
type Observation struct {
	Found  bool
	Status gateway.Status
	Order  gateway.Order
}

// StatusQuerier answers "what is the status of this attempt".
type StatusQuerier interface {
	Query(ctx context.Context, intent OrderIntent) (Observation, error)
	Source() string
}

// OrderLookup is the gateway order endpoint.
type OrderLookup interface {
	LookupOrder(ctx context.Context, merchantOrderID string) (gateway.Order, bool, error)
}

// NativeLookup is the gateway-native status endpoint.
type NativeLookup interface {
	NativeStatus(ctx context.Context, merchantOrderID string) (gateway.NativeStatus, error)
}

// OrderQuerier polls /payments/order.
type OrderQuerier struct {
	Gateway OrderLookup
}

func (OrderQuerier) Source() string { return "order" }

func (q OrderQuerier) Query(ctx context.Context, intent OrderIntent) (Observation, error) {
	order, found, err := q.Gateway.LookupOrder(ctx, intent.MerchantOrderID)
	if err != nil {
		return Observation{}, err
	}
	if !found {
		return Observation{Status: gateway.StatusPending}, nil
	}
	return Observation{Found: true, Status: order.Status, Order: order}, nil
}

// NativeQuerier polls /payments/status. The gateway answers with a code
// only, so the order is rebuilt from the local intent.
type NativeQuerier struct {
	Gateway NativeLookup
}

func (NativeQuerier) Source() string { return "status" }

func (q NativeQuerier) Query(ctx context.Context, intent OrderIntent) (Observation, error) {
	ns, err := q.Gateway.NativeStatus(ctx, intent.MerchantOrderID)
	if err != nil {
		return Observation{}, err
	}
	status := ns.Status()
	return Observation{
		Found:  true,
		Status: status,
		Order: gateway.Order{
			MerchantOrderID: intent.MerchantOrderID,
			Amount:          gateway.FlexInt(intent.Amount),
			ProductDetails:  intent.ProductDetails,
			Customer:        intent.Customer,
			Status:          status,
		},
	}, nil
}

type pollConfig struct {
	interval     time.Duration
	deadline     time.Duration
	queryTimeout time.Duration
}

// pollHandle owns the two timers of one attempt: the query loop and the
// expiry deadline. Stop cancels both and may be called any number of times.
type pollHandle struct {
	cancel   context.CancelFunc
	deadline *time.Timer
	done     chan struct{}
}

// startPoller runs the query loop until Stop. onResult receives every
// successful observation; onDeadline fires once unless Stop ran first.
func startPoller(cfg pollConfig, querier StatusQuerier, intent OrderIntent, logger zerolog.Logger, onResult func(Observation), onDeadline func()) *pollHandle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &pollHandle{cancel: cancel, done: make(chan struct{})}
	h.deadline = time.AfterFunc(cfg.deadline, func() {
		if ctx.Err() != nil {
			return
		}
		onDeadline()
	})

	obs.AddGauge(obs.CheckoutActivePollers, 1)
	go func() {
		defer close(h.done)
		defer obs.AddGauge(obs.CheckoutActivePollers, -1)

		ticker := time.NewTicker(cfg.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if ctx.Err() != nil {
				return
			}
			result, err := queryOnce(ctx, cfg.queryTimeout, querier, intent)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				logger.Warn().Err(err).Str("merchant_order_id", intent.MerchantOrderID).Str("source", querier.Source()).Msg("status_poll_failed")
				continue
			}
			onResult(result)
		}
	}()
	return h
}

func queryOnce(ctx context.Context, timeout time.Duration, querier StatusQuerier, intent OrderIntent) (Observation, error) {
	ctx, span := otel.Tracer("checkout.Poller").Start(ctx, "Poller.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.merchant_order_id", intent.MerchantOrderID),
		attribute.String("poll.source", querier.Source()),
	)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := querier.Query(ctx, intent)
	if obs.CheckoutPollLatency != nil {
		obs.CheckoutPollLatency.WithLabelValues(querier.Source()).Observe(obs.DurationMillis(time.Since(start)))
	}
	label := "error"
	switch {
	case err != nil:
		span.RecordError(err)
	case !result.Found:
		label = "not_found"
	default:
		label = strings.ToLower(string(result.Status))
	}
	obs.IncCounter(obs.CheckoutPollTotal, querier.Source(), label)
	span.SetAttributes(attribute.String("poll.result", label))
	return result, err
}

// Stop cancels the query loop and the deadline. It does not wait for an
// in-flight query; use Wait for that.
func (h *pollHandle) Stop() {
	if h == nil {
		return
	}
	h.cancel()
	h.deadline.Stop()
}

// Wait blocks until the query loop has exited.
func (h *pollHandle) Wait() {
	if h == nil {
		return
	}
	<-h.done
}
