package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/noah-isme/toko-qris/internal/common"
	"github.com/noah-isme/toko-qris/internal/obs"
)

const fallbackContent = "Silahkan hubungi admin."

// Locker serialises work on a key across workers.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// DeliveryHandler e-mails the deliverable for a paid order. It sends at most
// once per order: the ledger is checked and updated under a per-order lock.
type DeliveryHandler struct {
	Mail      common.EmailSender
	Enabled   bool
	Ledger    SentLedger
	Locker    Locker
	LockTTL   time.Duration
	LedgerTTL time.Duration
	Logger    zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h DeliveryHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p DeliveryPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		obs.IncCounter(obs.DeliveryEmailTotal, "invalid")
		return fmt.Errorf("notify: decode delivery: %v: %w", err, asynq.SkipRetry)
	}
	if strings.TrimSpace(p.Email) == "" || strings.TrimSpace(p.MerchantOrderID) == "" {
		obs.IncCounter(obs.DeliveryEmailTotal, "invalid")
		return fmt.Errorf("notify: delivery without recipient: %w", asynq.SkipRetry)
	}
	if !h.Enabled || h.Mail == nil {
		obs.IncCounter(obs.DeliveryEmailTotal, "disabled")
		return nil
	}
	if h.Locker == nil {
		return h.deliver(ctx, p)
	}
	ttl := h.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return h.Locker.WithLock(ctx, "delivery:lock:"+p.MerchantOrderID, ttl, func(ctx context.Context) error {
		return h.deliver(ctx, p)
	})
}

func (h DeliveryHandler) deliver(ctx context.Context, p DeliveryPayload) error {
	logger := h.Logger.With().Str("merchant_order_id", p.MerchantOrderID).Logger()
	if h.Ledger != nil {
		sent, err := h.Ledger.Sent(ctx, p.MerchantOrderID)
		if err != nil {
			return fmt.Errorf("notify: check ledger: %w", err)
		}
		if sent {
			obs.IncCounter(obs.DeliveryEmailTotal, "duplicate")
			logger.Debug().Msg("delivery_already_sent")
			return nil
		}
	}
	if err := h.Mail.Send(p.Email, "Pembayaran berhasil", DeliveryBody(p)); err != nil {
		obs.IncCounter(obs.DeliveryEmailTotal, "error")
		logger.Warn().Err(err).Msg("delivery_send_failed")
		return fmt.Errorf("notify: send delivery: %w", err)
	}
	obs.IncCounter(obs.DeliveryEmailTotal, "sent")
	logger.Info().Msg("delivery_sent")
	if h.Ledger != nil {
		ttl := h.LedgerTTL
		if ttl <= 0 {
			ttl = 30 * 24 * time.Hour
		}
		if err := h.Ledger.MarkSent(ctx, p.MerchantOrderID, ttl); err != nil {
			// the mail is out; retrying would send it twice
			logger.Error().Err(err).Msg("delivery_ledger_write_failed")
		}
	}
	return nil
}

// DeliveryBody renders the e-mail text for a paid order.
func DeliveryBody(p DeliveryPayload) string {
	content := strings.TrimSpace(p.Content)
	if content == "" {
		content = fallbackContent
	}
	var b strings.Builder
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "Pelanggan"
	}
	fmt.Fprintf(&b, "Halo %s,\n\n", name)
	fmt.Fprintf(&b, "Pembayaran untuk pesanan %s telah kami terima.\n", p.MerchantOrderID)
	if p.ProductName != "" {
		fmt.Fprintf(&b, "Produk: %s\n", p.ProductName)
	}
	if p.Amount > 0 {
		fmt.Fprintf(&b, "Total: %s\n", FormatRupiah(p.Amount))
	}
	b.WriteString("\nDetail produk:\n")
	b.WriteString(content)
	b.WriteString("\n")
	return b.String()
}

var idPrinter = message.NewPrinter(language.Indonesian)

// FormatRupiah renders an amount with Indonesian digit grouping, e.g. Rp75.000.
func FormatRupiah(amount int64) string {
	if amount < 0 {
		return "-" + idPrinter.Sprintf("Rp%d", -amount)
	}
	return idPrinter.Sprintf("Rp%d", amount)
}
