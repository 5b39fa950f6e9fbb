// Package payment wraps the Razorpay order API and checkout signature check.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"
)

type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
}

type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (GatewayOrder, error)
}

type RazorpayGateway struct {
	client *razorpay.Client
}

func NewRazorpayGateway(keyID, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{client: razorpay.NewClient(keyID, keySecret)}
}

// CreateOrder creates a gateway order. The SDK does not accept a context, so
// ctx is only checked before the call.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (GatewayOrder, error) {
	if err := ctx.Err(); err != nil {
		return GatewayOrder{}, err
	}
	body, err := g.client.Order.Create(map[string]interface{}{
		"amount":          amountMinor,
		"currency":        currency,
		"receipt":         receipt,
		"payment_capture": 1,
	}, nil)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("razorpay create order: %w", err)
	}
	id, _ := body["id"].(string)
	if id == "" {
		return GatewayOrder{}, errors.New("razorpay create order: response has no id")
	}
	return GatewayOrder{
		ID:       id,
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receipt,
	}, nil
}

// VerifySignature checks the checkout signature, an HMAC-SHA256 of
// "order_id|payment_id" keyed with the account secret.
func VerifySignature(orderID, paymentID, signature, secret string) bool {
	if orderID == "" || paymentID == "" || signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// ToMinorUnits converts a rupee amount to paise.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
