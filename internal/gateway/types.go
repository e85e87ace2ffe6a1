package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMissingQR is returned when the gateway accepts an order but returns no QR payload.
var ErrMissingQR = errors.New("gateway: response carried no qrString")

// Error describes a non-2xx gateway response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("gateway returned status %d", e.StatusCode)
}

// FlexInt decodes from either a JSON number or a numeric string.
type FlexInt int64

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	text := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
	}
	text = strings.TrimSpace(text)
	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		*n = FlexInt(v)
		return nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("gateway: invalid number %q", text)
	}
	*n = FlexInt(f)
	return nil
}

// Customer identifies the buyer.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// ProductFields is the product snapshot embedded in an order.
type ProductFields struct {
	ID          FlexInt `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       FlexInt `json:"price"`
	Content     string  `json:"content,omitempty"`
}

// ProductDetails holds the order's product snapshot. The gateway echoes it
// either as an embedded object or as a JSON-encoded string; when neither
// decodes, Raw keeps the original value and Decoded is false.
type ProductDetails struct {
	ProductFields
	Decoded bool
	Raw     string
}

// NewProductDetails wraps already-known product fields.
func NewProductDetails(fields ProductFields) ProductDetails {
	return ProductDetails{ProductFields: fields, Decoded: true}
}

// Encode returns the string form sent to the gateway on creation.
func (p ProductDetails) Encode() (string, error) {
	if !p.Decoded {
		return p.Raw, nil
	}
	b, err := json.Marshal(p.ProductFields)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *ProductDetails) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*p = ProductDetails{}
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return nil
	case data[0] == '"':
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return err
		}
		p.Raw = encoded
		var fields ProductFields
		if err := json.Unmarshal([]byte(encoded), &fields); err == nil {
			p.ProductFields = fields
			p.Decoded = true
		}
		return nil
	case data[0] == '{':
		var fields ProductFields
		if err := json.Unmarshal(data, &fields); err != nil {
			p.Raw = string(data)
			return nil
		}
		p.ProductFields = fields
		p.Decoded = true
		return nil
	default:
		p.Raw = string(data)
		return nil
	}
}

func (p ProductDetails) MarshalJSON() ([]byte, error) {
	if !p.Decoded {
		return json.Marshal(p.Raw)
	}
	return json.Marshal(p.ProductFields)
}

// Order is the gateway's record for a merchant order.
type Order struct {
	MerchantOrderID string         `json:"merchantOrderId"`
	Amount          FlexInt        `json:"amount"`
	ProductDetails  ProductDetails `json:"productDetails"`
	Customer        Customer       `json:"customer"`
	Status          Status         `json:"status"`
	Reference       string         `json:"reference,omitempty"`
	CreatedAt       *time.Time     `json:"createdAt,omitempty"`
}

// CreateRequest is the body of POST /payments/qris.
type CreateRequest struct {
	MerchantOrderID string   `json:"merchantOrderId"`
	Amount          int64    `json:"amount"`
	ProductDetails  string   `json:"productDetails"`
	Customer        Customer `json:"customer"`
}

// Invoice is the gateway's answer to a successful creation.
type Invoice struct {
	QRString         string `json:"qrString"`
	Reference        string `json:"reference,omitempty"`
	ExpiresInMinutes int    `json:"expiresInMinutes,omitempty"`
}

// NativeStatus is the gateway-native status record.
type NativeStatus struct {
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

// Status maps the native code to a canonical Status.
func (n NativeStatus) Status() Status {
	return StatusFromCode(n.StatusCode)
}

func (n NativeStatus) String() string {
	return n.StatusCode + " - " + n.StatusMessage
}
