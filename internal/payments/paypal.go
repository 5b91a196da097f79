package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/checkout"
	"github.com/aura-webinar/funnel/internal/models"
)

// ProviderPayPal names PayPal in provider errors.
const ProviderPayPal = "paypal"

// PayPal orders are always charged in EUR.
const payPalCurrency = "EUR"

const statusCompleted = "COMPLETED"

var errCaptureIncomplete = errors.New("paypal capture not completed")

// paypalAPI is the subset of the PayPal client the gateway uses.
type paypalAPI interface {
	CreateOrder(ctx context.Context, intent string, units []paypal.PurchaseUnitRequest, payer *paypal.CreateOrderPayer, app *paypal.ApplicationContext) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID string, req paypal.CaptureOrderRequest) (*paypal.CaptureOrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
}

// PayPalConfig holds PayPal REST credentials.
type PayPalConfig struct {
	ClientID string
	Secret   string
	Sandbox  bool
	Brand    string
}

// PayPalGateway creates and captures PayPal orders.
type PayPalGateway struct {
	api    paypalAPI
	brand  string
	logger *zap.Logger
}

// NewPayPalGateway creates a PayPal gateway.
func NewPayPalGateway(cfg PayPalConfig, logger *zap.Logger) (*PayPalGateway, error) {
	if cfg.ClientID == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("paypal: %w", ErrNotConfigured)
	}
	base := paypal.APIBaseLive
	if cfg.Sandbox {
		base = paypal.APIBaseSandBox
	}
	c, err := paypal.NewClient(cfg.ClientID, cfg.Secret, base)
	if err != nil {
		return nil, fmt.Errorf("paypal client: %w", err)
	}
	return newPayPalGateway(c, cfg.Brand, logger), nil
}

func newPayPalGateway(api paypalAPI, brand string, logger *zap.Logger) *PayPalGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PayPalGateway{api: api, brand: brand, logger: logger}
}

// CreateOrder opens a capture order for the EUR total and returns its id.
func (g *PayPalGateway) CreateOrder(ctx context.Context, amountEUR decimal.Decimal, slugs []string) (string, error) {
	units := []paypal.PurchaseUnitRequest{{
		Amount: &paypal.PurchaseUnitAmount{
			Currency: payPalCurrency,
			Value:    amountEUR.StringFixed(2),
		},
		Description: strings.Join(slugs, ", "),
		CustomID:    checkout.OrderReference(slugs),
	}}
	app := &paypal.ApplicationContext{
		BrandName:          g.brand,
		ShippingPreference: paypal.ShippingPreferenceNoShipping,
		UserAction:         paypal.UserActionPayNow,
	}
	order, err := g.api.CreateOrder(ctx, paypal.OrderIntentCapture, units, nil, app)
	if err != nil {
		return "", paypalError(err)
	}
	g.logger.Info("paypal order created", zap.String("order_id", order.ID), zap.String("amount_eur", amountEUR.StringFixed(2)))
	return order.ID, nil
}

// CaptureOrder captures an approved order.
func (g *PayPalGateway) CaptureOrder(ctx context.Context, orderID string) (*checkout.Capture, error) {
	resp, err := g.api.CaptureOrder(ctx, orderID, paypal.CaptureOrderRequest{})
	if err != nil {
		return nil, paypalError(err)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode capture: %w", err)
	}
	c := &checkout.Capture{OrderID: resp.ID, Raw: raw}
	if resp.Payer != nil {
		c.PayerID = resp.Payer.PayerID
	}
	for _, pu := range resp.PurchaseUnits {
		if pu.Payments == nil {
			continue
		}
		for _, pc := range pu.Payments.Captures {
			if c.PaymentID != "" {
				break
			}
			c.PaymentID, c.CustomID = pc.ID, pc.CustomID
			if pc.Amount != nil {
				amount, err := decimal.NewFromString(pc.Amount.Value)
				if err == nil {
					c.Amount, c.Currency = amount, pc.Amount.Currency
				}
			}
		}
	}
	if resp.Status != statusCompleted || c.PaymentID == "" {
		return nil, &checkout.ProviderError{
			Provider: ProviderPayPal,
			Code:     strings.ToLower(resp.Status),
			Message:  "PayPal did not complete the payment. Please try again or pay by card.",
			Err:      errCaptureIncomplete,
		}
	}
	g.logger.Info("paypal order captured", zap.String("order_id", c.OrderID), zap.String("capture_id", c.PaymentID))
	return c, nil
}

// VerifyPending confirms with PayPal that the order behind p was captured in full for its
// amount and offers. A mismatch or an unknown order wraps models.ErrPaymentMismatch; other
// errors are transient.
func (g *PayPalGateway) VerifyPending(ctx context.Context, p *models.PendingPayment) error {
	order, err := g.api.GetOrder(ctx, p.ProviderOrderID)
	var er *paypal.ErrorResponse
	if errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: order %s not found", models.ErrPaymentMismatch, p.ProviderOrderID)
	}
	if err != nil {
		return fmt.Errorf("get paypal order %s: %w", p.ProviderOrderID, err)
	}
	if order.Status != statusCompleted {
		return fmt.Errorf("%w: order %s is %s", models.ErrPaymentMismatch, order.ID, order.Status)
	}
	want := checkout.OrderReference(p.OfferSlugs)
	for _, pu := range order.PurchaseUnits {
		if pu.Payments == nil {
			continue
		}
		for _, pc := range pu.Payments.Captures {
			if pc.Status != statusCompleted || pc.Amount == nil {
				continue
			}
			customID := pc.CustomID
			if customID == "" {
				customID = pu.CustomID
			}
			amount, err := decimal.NewFromString(pc.Amount.Value)
			if err != nil {
				continue
			}
			if customID == want && amount.Equal(p.Amount) && strings.EqualFold(pc.Amount.Currency, p.Currency) {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: order %s has no completed capture of %s %s for %q",
		models.ErrPaymentMismatch, order.ID, p.Amount.StringFixed(2), p.Currency, want)
}

// paypalError maps a PayPal API error to a provider error without exposing the payload.
func paypalError(err error) error {
	var er *paypal.ErrorResponse
	if !errors.As(err, &er) {
		return err
	}
	code := er.Name
	if len(er.Details) > 0 && er.Details[0].Issue != "" {
		code = er.Details[0].Issue
	}
	return &checkout.ProviderError{
		Provider: ProviderPayPal,
		Code:     strings.ToLower(code),
		Message:  "PayPal declined the payment. Please try again or pay by card.",
		Err:      err,
	}
}
