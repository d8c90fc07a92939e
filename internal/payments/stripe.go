package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/ariefcatur/go-order-fulfillment/internal/logger"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type stripePaymentIntentAPI interface {
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type StripeConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    *logger.Logger
	intents   stripePaymentIntentAPI
}

// StripeGateway captures the PaymentIntent a checkout was authorized with.
type StripeGateway struct {
	intents stripePaymentIntentAPI
	account string
	log     *logger.Logger
}

func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	intents := cfg.intents
	if intents == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &StripeGateway{intents: intents, account: strings.TrimSpace(cfg.AccountID), log: log}, nil
}

// Capture captures amountCents on the checkout's intent. An intent that is
// already succeeded for at least the amount counts as captured, so a retried
// completion does not fail on the second call.
func (g *StripeGateway) Capture(ctx context.Context, c orders.Checkout, amountCents int64) (orders.Payment, error) {
	intentID := strings.TrimSpace(c.PaymentIntentID)
	if intentID == "" {
		return orders.Payment{}, fmt.Errorf("stripe: checkout %s has no payment intent", c.ID)
	}

	get := &stripe.PaymentIntentParams{}
	get.Context = ctx
	if g.account != "" {
		get.SetStripeAccount(g.account)
	}
	intent, err := g.intents.Get(intentID, get)
	if err != nil {
		return orders.Payment{}, fmt.Errorf("stripe: get payment intent: %w", err)
	}
	if cur := string(intent.Currency); cur != "" && !strings.EqualFold(cur, c.Currency) {
		return orders.Payment{}, fmt.Errorf("stripe: intent currency %s does not match %s", intent.Currency, c.Currency)
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		if intent.AmountReceived < amountCents {
			return orders.Payment{}, fmt.Errorf("stripe: intent %s received %d of %d", intent.ID, intent.AmountReceived, amountCents)
		}
		return orders.Payment{ID: intent.ID, CapturedCents: intent.AmountReceived}, nil
	case stripe.PaymentIntentStatusRequiresCapture:
	default:
		return orders.Payment{}, fmt.Errorf("stripe: intent %s not capturable in status %s", intent.ID, intent.Status)
	}
	if intent.AmountCapturable < amountCents {
		return orders.Payment{}, fmt.Errorf("stripe: intent %s authorizes %d of %d", intent.ID, intent.AmountCapturable, amountCents)
	}

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-complete-" + c.ID)
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	params.AmountToCapture = stripe.Int64(amountCents)
	captured, err := g.intents.Capture(intent.ID, params)
	if err != nil {
		return orders.Payment{}, fmt.Errorf("stripe: capture payment intent: %w", err)
	}
	if captured.Status != stripe.PaymentIntentStatusSucceeded {
		return orders.Payment{}, fmt.Errorf("stripe: intent %s ended in status %s", captured.ID, captured.Status)
	}
	g.log.Info("payment captured", "payment_intent", captured.ID, "checkout_id", c.ID, "amount_received", captured.AmountReceived)
	return orders.Payment{ID: captured.ID, CapturedCents: captured.AmountReceived}, nil
}
