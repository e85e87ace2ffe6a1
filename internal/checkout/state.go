package checkout

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/toko-qris/internal/gateway"
)

// Phase names the variant a State belongs to.
type Phase string

const (
	PhaseForm    Phase = "form"
	PhaseQR      Phase = "qr"
	PhaseSuccess Phase = "success"
	PhaseExpired Phase = "expired"
)

// State is one of Form, QR, Success or Expired.
type State interface {
	Phase() Phase
	isState()
}

// Form collects customer details. Error carries the last recoverable failure.
type Form struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
	Error string `json:"error,omitempty"`
}

// QR shows the payment challenge for the active attempt.
type QR struct {
	MerchantOrderID string           `json:"merchantOrderId"`
	QRString        string           `json:"qrString"`
	Reference       string           `json:"reference,omitempty"`
	Amount          int64            `json:"amount"`
	ProductID       int              `json:"productId"`
	ProductName     string           `json:"productName"`
	Customer        gateway.Customer `json:"customer"`
	ExpiresAt       time.Time        `json:"expiresAt"`
}

// Success holds the paid order as reported by the gateway.
type Success struct {
	Order gateway.Order `json:"order"`
}

// FallbackDeliverable is shown when a paid order carries no content.
const FallbackDeliverable = "Silahkan hubungi admin."

// Deliverable returns the content released to the buyer.
func (s Success) Deliverable() string {
	if s.Order.ProductDetails.Content != "" {
		return s.Order.ProductDetails.Content
	}
	return FallbackDeliverable
}

// ExpiryReason records what ended an attempt without payment.
type ExpiryReason string

const (
	ReasonFailed   ExpiryReason = "FAILED"
	ReasonExpired  ExpiryReason = "EXPIRED"
	ReasonDeadline ExpiryReason = "DEADLINE"
)

// Expired ends an attempt that was not paid.
type Expired struct {
	MerchantOrderID string       `json:"merchantOrderId"`
	Reason          ExpiryReason `json:"reason"`
}

func (Form) Phase() Phase    { return PhaseForm }
func (QR) Phase() Phase      { return PhaseQR }
func (Success) Phase() Phase { return PhaseSuccess }
func (Expired) Phase() Phase { return PhaseExpired }

func (Form) isState()    {}
func (QR) isState()      {}
func (Success) isState() {}
func (Expired) isState() {}

// Snapshot is a sequenced view of the machine. Consumers apply a snapshot
// only when its Seq is greater than the last one they applied.
type Snapshot struct {
	Seq   uint64
	State State
	At    time.Time
}

// Phase is a shorthand for Snapshot.State.Phase().
func (s Snapshot) Phase() Phase {
	if s.State == nil {
		return PhaseForm
	}
	return s.State.Phase()
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	payload := struct {
		Seq         uint64    `json:"seq"`
		Phase       Phase     `json:"phase"`
		State       State     `json:"state"`
		Deliverable string    `json:"deliverable,omitempty"`
		At          time.Time `json:"at"`
	}{Seq: s.Seq, Phase: s.Phase(), State: s.State, At: s.At}
	if success, ok := s.State.(Success); ok {
		payload.Deliverable = success.Deliverable()
	}
	return json.Marshal(payload)
}
