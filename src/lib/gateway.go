package lib

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Method string

const (
	MethodCredit  Method = "credit"
	MethodATM     Method = "atm"
	MethodWebATM  Method = "webatm"
	MethodLinePay Method = "linepay"
)

const (
	GatewayECPay   = "ecpay"
	GatewayLinePay = "linepay"
)

var (
	ErrUnsupportedMethod  = errors.New("unsupported payment method")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected the request")
	ErrMalformedCallback  = errors.New("malformed gateway callback")
)

var methodAliases = map[string]Method{
	"credit":      MethodCredit,
	"card":        MethodCredit,
	"credit_card": MethodCredit,
	"atm":         MethodATM,
	"webatm":      MethodWebATM,
	"linepay":     MethodLinePay,
	"line_pay":    MethodLinePay,
}

// NormalizeMethod maps a client supplied method string to its canonical selector.
func NormalizeMethod(s string) (Method, error) {
	m, ok := methodAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
	}
	return m, nil
}

// PaymentRequest is built per attempt and never persisted.
type PaymentRequest struct {
	OrderUUID     uuid.UUID
	Attempt       uint
	Amount        int64
	Email         string
	UserID        uint
	Description   string
	ItemName      string
	Method        Method
	ClientBackURL string
}

// RedirectArtifact is what the checkout UI needs to send the payer to the gateway.
type RedirectArtifact struct {
	Gateway       string            `json:"gateway"`
	Method        Method            `json:"method"`
	Action        string            `json:"action,omitempty"`
	Params        map[string]string `json:"params,omitempty"`
	HTML          string            `json:"html,omitempty"`
	RedirectURL   string            `json:"redirect_url,omitempty"`
	TradeNo       string            `json:"trade_no,omitempty"`
	TransactionID string            `json:"transaction_id,omitempty"`
}

type CallbackKind int

const (
	CallbackPayment CallbackKind = iota
	CallbackPaymentInfo
)

type PaymentInfo struct {
	BankCode   string
	PaymentNo  string
	ExpireDate string
}

// GatewayCallback is an inbound notification, parsed but not yet verified.
type GatewayCallback struct {
	Gateway       string
	Kind          CallbackKind
	OrderRef      string
	TradeNo       string
	TransactionID string
	Amount        int64
	Succeeded     bool
	ResultCode    string
	ResultMessage string
	PaymentType   string
	PaidAt        time.Time
	Mac           string
	Params        map[string]string
	Raw           []byte
	Info          *PaymentInfo
}

// OrderUUID resolves the order reference carried by the callback.
func (c *GatewayCallback) OrderUUID() (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.OrderRef))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: order reference %q", ErrMalformedCallback, c.OrderRef)
	}
	return id, nil
}

// GatewayReceipt is the gateway's authoritative confirmation of a charge.
type GatewayReceipt struct {
	TransactionID string
	Amount        int64
	Method        string
	PaidAt        time.Time
	Raw           []byte
}

type Gateway interface {
	Name() string
	Methods() []Method
	BuildRedirectForm(ctx context.Context, req *PaymentRequest) (*RedirectArtifact, error)
	ParseCallback(raw []byte) (*GatewayCallback, error)
}

// CallbackVerifier is implemented by gateways that sign their notifications.
type CallbackVerifier interface {
	VerifyCallback(cb *GatewayCallback) error
}

// PaymentConfirmer is implemented by gateways that need a server side confirm step.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, transactionID string, orderUUID uuid.UUID, amount int64) (*GatewayReceipt, error)
}

// Gateways indexes adapters by method and by name.
type Gateways struct {
	byMethod map[Method]Gateway
	byName   map[string]Gateway
}

func NewGateways(gateways ...Gateway) *Gateways {
	g := &Gateways{
		byMethod: map[Method]Gateway{},
		byName:   map[string]Gateway{},
	}
	for _, gw := range gateways {
		g.byName[gw.Name()] = gw
		for _, m := range gw.Methods() {
			g.byMethod[m] = gw
		}
	}
	return g
}

func (g *Gateways) ForMethod(m Method) (Gateway, error) {
	gw, ok := g.byMethod[m]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, m)
	}
	return gw, nil
}

func (g *Gateways) ByName(name string) (Gateway, bool) {
	gw, ok := g.byName[name]
	return gw, ok
}
