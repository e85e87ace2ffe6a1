package checkout

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-qris/internal/catalog"
	"github.com/noah-isme/toko-qris/internal/common"
	"github.com/noah-isme/toko-qris/internal/gateway"
	"github.com/noah-isme/toko-qris/internal/obs"
)

// Error codes returned by the creator.
const (
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodePaymentCreateFailed = "PAYMENT_CREATE_FAILED"
)

var (
	// ErrValidation marks customer input that cannot be submitted.
	ErrValidation = errors.New("checkout: invalid customer input")
	// ErrCreateFailed marks a gateway creation failure.
	ErrCreateFailed = errors.New("checkout: payment creation failed")
)

// IntentGateway creates QRIS orders.
type IntentGateway interface {
	CreateQRIS(ctx context.Context, in gateway.CreateRequest) (gateway.Invoice, error)
}

// CustomerInput is what the buyer types into the form.
type CustomerInput struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required"`
	Phone string `json:"phone,omitempty"`
}

func (in CustomerInput) normalised() CustomerInput {
	return CustomerInput{
		Name:  strings.TrimSpace(in.Name),
		Email: strings.TrimSpace(in.Email),
		Phone: strings.TrimSpace(in.Phone),
	}
}

// OrderIntent is the immutable local record of one submission attempt.
type OrderIntent struct {
	MerchantOrderID string
	Amount          int64
	ProductID       int
	ProductName     string
	ProductDetails  gateway.ProductDetails
	Customer        gateway.Customer
}

// Challenge is a successfully created payment attempt.
type Challenge struct {
	Intent    OrderIntent
	QRString  string
	Reference string
	ExpiresIn time.Duration
}

// Creator builds and submits order intents.
type Creator struct {
	gateway  IntentGateway
	ids      *IDGenerator
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewCreator constructs a Creator. A nil ids uses a fresh generator.
func NewCreator(gw IntentGateway, ids *IDGenerator, logger zerolog.Logger) *Creator {
	if ids == nil {
		ids = NewIDGenerator()
	}
	return &Creator{
		gateway:  gw,
		ids:      ids,
		validate: validator.New(),
		logger:   logger.With().Str("component", "checkout.creator").Logger(),
	}
}

// Create validates input, snapshots the product and submits exactly one
// creation request. Failures are returned as *common.AppError.
func (c *Creator) Create(ctx context.Context, product catalog.Product, input CustomerInput) (Challenge, error) {
	ctx, span := otel.Tracer("checkout.Creator").Start(ctx, "Creator.Create")
	defer span.End()
	span.SetAttributes(attribute.Int("product.id", product.ID))

	result := "error"
	defer func() { obs.IncCounter(obs.CheckoutIntentTotal, result) }()

	input = input.normalised()
	if err := c.validate.Struct(input); err != nil {
		result = "invalid"
		return Challenge{}, validationError(err)
	}
	if err := c.validate.Var(input.Email, "email"); err != nil {
		c.logger.Warn().Str("email", input.Email).Msg("email_format_suspicious")
	}
	if c.gateway == nil {
		return Challenge{}, common.NewAppError(CodePaymentCreateFailed, "Failed to create payment", http.StatusBadGateway, errors.New("gateway not configured"))
	}

	intent := OrderIntent{
		MerchantOrderID: c.ids.Next(),
		Amount:          product.Price,
		ProductID:       product.ID,
		ProductName:     product.Name,
		ProductDetails: gateway.NewProductDetails(gateway.ProductFields{
			ID:          gateway.FlexInt(product.ID),
			Name:        product.Name,
			Description: product.Description,
			Price:       gateway.FlexInt(product.Price),
			Content:     product.Content,
		}),
		Customer: gateway.Customer{Name: input.Name, Email: input.Email, Phone: input.Phone},
	}
	span.SetAttributes(attribute.String("order.merchant_order_id", intent.MerchantOrderID))
	details, err := intent.ProductDetails.Encode()
	if err != nil {
		return Challenge{}, common.NewAppError(CodePaymentCreateFailed, "Failed to create payment", http.StatusBadGateway, err)
	}

	inv, err := c.gateway.CreateQRIS(ctx, gateway.CreateRequest{
		MerchantOrderID: intent.MerchantOrderID,
		Amount:          intent.Amount,
		ProductDetails:  details,
		Customer:        intent.Customer,
	})
	if err != nil {
		span.RecordError(err)
		if gateway.IsRejection(err) {
			result = "rejected"
		}
		c.logger.Warn().Err(err).Str("merchant_order_id", intent.MerchantOrderID).Msg("payment_create_failed")
		return Challenge{}, createError(err)
	}

	result = "created"
	c.logger.Info().
		Str("merchant_order_id", intent.MerchantOrderID).
		Int64("amount", intent.Amount).
		Int("product_id", intent.ProductID).
		Msg("payment_created")
	return Challenge{
		Intent:    intent,
		QRString:  inv.QRString,
		Reference: inv.Reference,
		ExpiresIn: time.Duration(inv.ExpiresInMinutes) * time.Minute,
	}, nil
}

func validationError(err error) error {
	fields := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return &common.AppError{
		Code:       CodeValidationFailed,
		Message:    "name and email are required",
		HTTPStatus: http.StatusUnprocessableEntity,
		Err:        ErrValidation,
		Details:    map[string]any{"fields": fields},
	}
}

func createError(err error) error {
	message := "Failed to create payment"
	var gwErr *gateway.Error
	switch {
	case errors.Is(err, gateway.ErrMissingQR):
		message = "Failed to generate QR Code. Please try again."
	case errors.As(err, &gwErr) && gwErr.Message != "":
		message = gwErr.Message
	}
	return &common.AppError{
		Code:       CodePaymentCreateFailed,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        errors.Join(ErrCreateFailed, err),
	}
}
