package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-qris/internal/common"
	"github.com/noah-isme/toko-qris/internal/lock"
	"github.com/noah-isme/toko-qris/internal/notify"
)

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	r.opts = append(r.opts, opts)
	return &asynq.TaskInfo{ID: "x"}, nil
}

type failingMail struct{ calls int }

func (f *failingMail) Send(string, string, string) error {
	f.calls++
	return errors.New("smtp unavailable")
}

var payload = notify.DeliveryPayload{
	MerchantOrderID: "ORDER-1700000000000-042",
	Email:           "budi@example.com",
	Name:            "Budi",
	ProductName:     "Discord Auto Mod Bot",
	Amount:          75000,
	Content:         "Link Download: https://example.com/bot-v1.zip",
}

func TestEnqueueDeliveryUsesOrderAsTaskID(t *testing.T) {
	rec := &recordingEnqueuer{}
	enq := notify.Enqueuer{Client: rec, MaxRetry: 3, Logger: zerolog.Nop()}

	require.NoError(t, enq.EnqueueDelivery(context.Background(), payload))
	require.Len(t, rec.tasks, 1)
	require.Equal(t, notify.TaskDeliveryEmail, rec.tasks[0].Type())

	var decoded notify.DeliveryPayload
	require.NoError(t, json.Unmarshal(rec.tasks[0].Payload(), &decoded))
	require.Equal(t, payload, decoded)

	var taskID string
	var maxRetry int
	for _, opt := range rec.opts[0] {
		switch opt.Type() {
		case asynq.TaskIDOpt:
			taskID = opt.Value().(string)
		case asynq.MaxRetryOpt:
			maxRetry = opt.Value().(int)
		}
	}
	require.Equal(t, "delivery:"+payload.MerchantOrderID, taskID)
	require.Equal(t, 3, maxRetry)
}

func TestEnqueueDeliveryTreatsConflictAsSuccess(t *testing.T) {
	enq := notify.Enqueuer{Client: &recordingEnqueuer{err: asynq.ErrTaskIDConflict}}
	require.NoError(t, enq.EnqueueDelivery(context.Background(), payload))

	enq = notify.Enqueuer{Client: &recordingEnqueuer{err: errors.New("redis down")}}
	require.Error(t, enq.EnqueueDelivery(context.Background(), payload))
}

func TestEnqueueDeliveryRequiresRecipient(t *testing.T) {
	enq := notify.Enqueuer{Client: &recordingEnqueuer{}}
	p := payload
	p.Email = ""
	require.Error(t, enq.EnqueueDelivery(context.Background(), p))
}

func newDeliveryHandler(t *testing.T, mail common.EmailSender) (notify.DeliveryHandler, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return notify.DeliveryHandler{
		Mail:    mail,
		Enabled: true,
		Ledger:  notify.RedisLedger{Client: client},
		Locker:  lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
		Logger:  zerolog.Nop(),
	}, mr
}

func deliveryTask(t *testing.T, p notify.DeliveryPayload) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return asynq.NewTask(notify.TaskDeliveryEmail, body)
}

func TestDeliveryHandlerSendsOnce(t *testing.T) {
	mail := &common.InMemoryEmail{}
	h, mr := newDeliveryHandler(t, mail)
	ctx := context.Background()

	require.NoError(t, h.ProcessTask(ctx, deliveryTask(t, payload)))
	require.NoError(t, h.ProcessTask(ctx, deliveryTask(t, payload)))

	sent := mail.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "budi@example.com", sent[0].To)
	require.Equal(t, "Pembayaran berhasil", sent[0].Subject)
	require.Contains(t, sent[0].Body, payload.Content)
	require.Contains(t, sent[0].Body, "Rp75.000")
	require.True(t, mr.Exists("delivery:sent:"+payload.MerchantOrderID))
}

func TestDeliveryHandlerFailureIsRetryable(t *testing.T) {
	mail := &failingMail{}
	h, mr := newDeliveryHandler(t, mail)

	err := h.ProcessTask(context.Background(), deliveryTask(t, payload))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
	require.Equal(t, 1, mail.calls)
	require.False(t, mr.Exists("delivery:sent:"+payload.MerchantOrderID))
}

func TestDeliveryHandlerSkipsRetryForBadPayload(t *testing.T) {
	h, _ := newDeliveryHandler(t, &common.InMemoryEmail{})
	err := h.ProcessTask(context.Background(), asynq.NewTask(notify.TaskDeliveryEmail, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestDeliveryBodyFallsBackWithoutContent(t *testing.T) {
	p := payload
	p.Content = ""
	require.Contains(t, notify.DeliveryBody(p), "Silahkan hubungi admin.")
}

func TestFormatRupiahGroupsThousands(t *testing.T) {
	require.Equal(t, "Rp1.500.000", notify.FormatRupiah(1500000))
	require.Equal(t, "Rp75.000", notify.FormatRupiah(75000))
	require.Equal(t, "Rp500", notify.FormatRupiah(500))
	require.Equal(t, "-Rp2.500", notify.FormatRupiah(-2500))
}
