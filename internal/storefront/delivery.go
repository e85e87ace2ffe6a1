package storefront

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-qris/internal/checkout"
	"github.com/noah-isme/toko-qris/internal/gateway"
	"github.com/noah-isme/toko-qris/internal/notify"
)

// DeliveryScheduler queues the deliverable e-mail for a paid order.
type DeliveryScheduler interface {
	EnqueueDelivery(ctx context.Context, p notify.DeliveryPayload) error
}

// DeliveryHook returns a checkout.PaidHook that schedules the deliverable
// e-mail. Enqueue failures are logged; the buyer still sees the content.
func DeliveryHook(scheduler DeliveryScheduler, timeout time.Duration, logger zerolog.Logger) checkout.PaidHook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger = logger.With().Str("component", "storefront.delivery").Logger()
	return func(ctx context.Context, intent checkout.OrderIntent, order gateway.Order) {
		if scheduler == nil {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := scheduler.EnqueueDelivery(ctx, deliveryPayload(intent, order)); err != nil {
			logger.Error().Err(err).Str("merchant_order_id", intent.MerchantOrderID).Msg("delivery_enqueue_failed")
		}
	}
}

func deliveryPayload(intent checkout.OrderIntent, order gateway.Order) notify.DeliveryPayload {
	email := order.Customer.Email
	if email == "" {
		email = intent.Customer.Email
	}
	name := order.Customer.Name
	if name == "" {
		name = intent.Customer.Name
	}
	productName := order.ProductDetails.Name
	if productName == "" {
		productName = intent.ProductName
	}
	amount := int64(order.Amount)
	if amount <= 0 {
		amount = intent.Amount
	}
	return notify.DeliveryPayload{
		MerchantOrderID: intent.MerchantOrderID,
		Email:           email,
		Name:            name,
		ProductName:     productName,
		Amount:          amount,
		Content:         checkout.Success{Order: order}.Deliverable(),
	}
}
