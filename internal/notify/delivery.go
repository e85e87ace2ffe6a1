package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-qris/internal/obs"
)

// TaskDeliveryEmail is the asynq task type for deliverable e-mails.
const TaskDeliveryEmail = "delivery:email"

// DeliveryPayload carries everything the worker needs to e-mail a deliverable.
type DeliveryPayload struct {
	MerchantOrderID string `json:"merchantOrderId"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	ProductName     string `json:"productName"`
	Amount          int64  `json:"amount"`
	Content         string `json:"content"`
}

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer schedules delivery e-mails. The task id is the merchant order id,
// so a second enqueue for the same order is dropped by the queue.
type Enqueuer struct {
	Client    TaskEnqueuer
	Queue     string
	MaxRetry  int
	Retention time.Duration
	Logger    zerolog.Logger
}

// EnqueueDelivery publishes a delivery task. Duplicates are not an error.
func (e Enqueuer) EnqueueDelivery(ctx context.Context, p DeliveryPayload) error {
	if e.Client == nil {
		return nil
	}
	if strings.TrimSpace(p.MerchantOrderID) == "" || strings.TrimSpace(p.Email) == "" {
		return errors.New("notify: delivery requires order id and e-mail")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("notify: encode delivery: %w", err)
	}
	maxRetry := e.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 8
	}
	retention := e.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	opts := []asynq.Option{
		asynq.TaskID(deliveryTaskID(p.MerchantOrderID)),
		asynq.MaxRetry(maxRetry),
		asynq.Retention(retention),
	}
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	_, err = e.Client.EnqueueContext(ctx, asynq.NewTask(TaskDeliveryEmail, body), opts...)
	switch {
	case err == nil:
		obs.IncCounter(obs.DeliveryEmailTotal, "enqueued")
		e.Logger.Info().Str("merchant_order_id", p.MerchantOrderID).Msg("delivery_enqueued")
		return nil
	case errors.Is(err, asynq.ErrTaskIDConflict), errors.Is(err, asynq.ErrDuplicateTask):
		obs.IncCounter(obs.DeliveryEmailTotal, "duplicate")
		return nil
	default:
		obs.IncCounter(obs.DeliveryEmailTotal, "enqueue_error")
		return fmt.Errorf("notify: enqueue delivery: %w", err)
	}
}

func deliveryTaskID(merchantOrderID string) string {
	return "delivery:" + merchantOrderID
}
