package gateway

import (
	"encoding/json"
	"strings"
)

// Status is the canonical payment status understood by the checkout flow.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusFailed  Status = "FAILED"
	StatusExpired Status = "EXPIRED"
)

// Terminal reports whether no further status change is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusPaid, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// UnmarshalJSON normalises whatever the gateway reports into a canonical status.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		*s = StatusPending
		return nil
	}
	*s = NormaliseStatus(raw)
	return nil
}

// NormaliseStatus maps order endpoint statuses to a canonical Status. Only
// PAID, FAILED and EXPIRED are terminal; every other value, including the
// empty string, keeps the order pending. Surrounding space and letter case
// are ignored.
func NormaliseStatus(status string) Status {
	switch Status(strings.ToUpper(strings.TrimSpace(status))) {
	case StatusPaid:
		return StatusPaid
	case StatusFailed:
		return StatusFailed
	case StatusExpired:
		return StatusExpired
	default:
		return StatusPending
	}
}

// StatusFromCode maps the gateway-native status codes.
func StatusFromCode(code string) Status {
	switch strings.TrimSpace(code) {
	case "00":
		return StatusPaid
	case "02":
		return StatusFailed
	default:
		return StatusPending
	}
}
