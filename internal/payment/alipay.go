// Package payment builds page payment redirects for Alipay and verifies the
// signatures on its callbacks.
package payment

import (
	"fmt"
	"net/url"
	"os"

	"github.com/shopspring/decimal"
	"github.com/smartwalle/alipay/v3"
)

const productCode = "FAST_INSTANT_TRADE_PAY"

// Gateway talks to the Alipay page payment gateway
type Gateway struct {
	client *alipay.Client
}

// NewGateway creates a gateway from PEM encoded keys. The app private key
// signs requests, the provider public key verifies callbacks.
func NewGateway(appID, appPrivateKey, providerPublicKey string, production bool) (*Gateway, error) {
	client, err := alipay.New(appID, appPrivateKey, production)
	if err != nil {
		return nil, fmt.Errorf("failed to create alipay client: %w", err)
	}

	if err := client.LoadAliPayPublicKey(providerPublicKey); err != nil {
		return nil, fmt.Errorf("failed to load provider public key: %w", err)
	}

	return &Gateway{client: client}, nil
}

// LoadGateway reads the keys from disk
func LoadGateway(appID, privateKeyPath, providerKeyPath string, production bool) (*Gateway, error) {
	privPEM, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read app private key: %w", err)
	}

	pubPEM, err := os.ReadFile(providerKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider public key: %w", err)
	}

	return NewGateway(appID, string(privPEM), string(pubPEM), production)
}

// Verify checks a callback signature against the provider public key.
// sign and sign_type are not part of the signed content.
func (g *Gateway) Verify(params map[string]string, signature string) bool {
	if signature == "" {
		return false
	}

	values := make(url.Values, len(params)+1)
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("sign", signature)

	return g.client.VerifySign(values) == nil
}

// BuildPaymentURL returns the signed redirect URL for paying an order
func (g *Gateway) BuildPaymentURL(orderID string, amount decimal.Decimal, subject, returnURL string) (string, error) {
	var p = alipay.TradePagePay{}
	p.OutTradeNo = orderID
	p.TotalAmount = amount.StringFixed(2)
	p.Subject = subject
	p.ProductCode = productCode
	p.ReturnURL = returnURL

	u, err := g.client.TradePagePay(p)
	if err != nil {
		return "", fmt.Errorf("failed to build page pay url: %w", err)
	}
	return u.String(), nil
}
