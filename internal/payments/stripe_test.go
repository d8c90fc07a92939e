package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type fakeIntents struct {
	intent      *stripe.PaymentIntent
	getErr      error
	captureErr  error
	captured    int
	lastCapture *stripe.PaymentIntentCaptureParams
}

func (f *fakeIntents) Get(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	pi := *f.intent
	pi.ID = id
	return &pi, nil
}

func (f *fakeIntents) Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	f.captured++
	f.lastCapture = params
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return &stripe.PaymentIntent{
		ID:             id,
		Status:         stripe.PaymentIntentStatusSucceeded,
		AmountReceived: *params.AmountToCapture,
	}, nil
}

func newTestGateway(t *testing.T, f *fakeIntents) *StripeGateway {
	t.Helper()
	g, err := NewStripeGateway(StripeConfig{intents: f})
	require.NoError(t, err)
	return g
}

func testCheckout() orders.Checkout {
	return orders.Checkout{ID: "chk_1", Currency: "usd", PaymentIntentID: "pi_1"}
}

func TestNewStripeGatewayRequiresKey(t *testing.T) {
	_, err := NewStripeGateway(StripeConfig{APIKey: "  "})
	require.Error(t, err)
}

func TestStripeCaptureRequiresCapture(t *testing.T) {
	f := &fakeIntents{intent: &stripe.PaymentIntent{
		Status:           stripe.PaymentIntentStatusRequiresCapture,
		Currency:         stripe.CurrencyUSD,
		AmountCapturable: 5000,
	}}
	g := newTestGateway(t, f)

	pay, err := g.Capture(context.Background(), testCheckout(), 4200)
	require.NoError(t, err)
	assert.Equal(t, orders.Payment{ID: "pi_1", CapturedCents: 4200}, pay)
	assert.Equal(t, 1, f.captured)
	require.NotNil(t, f.lastCapture.IdempotencyKey)
	assert.Equal(t, "checkout-complete-chk_1", *f.lastCapture.IdempotencyKey)
}

func TestStripeCaptureAlreadySucceeded(t *testing.T) {
	f := &fakeIntents{intent: &stripe.PaymentIntent{
		Status:         stripe.PaymentIntentStatusSucceeded,
		AmountReceived: 4200,
	}}
	g := newTestGateway(t, f)

	pay, err := g.Capture(context.Background(), testCheckout(), 4200)
	require.NoError(t, err)
	assert.Equal(t, int64(4200), pay.CapturedCents)
	assert.Zero(t, f.captured)
}

func TestStripeCaptureRejects(t *testing.T) {
	cases := []struct {
		name   string
		intent stripe.PaymentIntent
		chk    func(*orders.Checkout)
		getErr error
		capErr error
	}{
		{name: "no intent", chk: func(c *orders.Checkout) { c.PaymentIntentID = "" }},
		{name: "lookup fails", getErr: errors.New("boom")},
		{name: "wrong status", intent: stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresPaymentMethod}},
		{name: "currency mismatch", intent: stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresCapture, Currency: stripe.CurrencyEUR, AmountCapturable: 9999}},
		{name: "under authorized", intent: stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresCapture, AmountCapturable: 100}},
		{name: "under received", intent: stripe.PaymentIntent{Status: stripe.PaymentIntentStatusSucceeded, AmountReceived: 100}},
		{name: "capture fails", intent: stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresCapture, AmountCapturable: 9999}, capErr: errors.New("card_declined")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intent := tc.intent
			g := newTestGateway(t, &fakeIntents{intent: &intent, getErr: tc.getErr, captureErr: tc.capErr})
			c := testCheckout()
			if tc.chk != nil {
				tc.chk(&c)
			}
			_, err := g.Capture(context.Background(), c, 4200)
			require.Error(t, err)
		})
	}
}

func TestStaticGateway(t *testing.T) {
	pay, err := StaticGateway{}.Capture(context.Background(), testCheckout(), 300)
	require.NoError(t, err)
	assert.Equal(t, int64(300), pay.CapturedCents)
	assert.NotEmpty(t, pay.ID)

	_, err = StaticGateway{Decline: true}.Capture(context.Background(), testCheckout(), 300)
	require.ErrorIs(t, err, ErrDeclined)
}
