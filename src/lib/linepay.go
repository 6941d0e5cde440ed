package lib

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"lovia/src/config"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	linePayRequestURI  = "/v3/payments/request"
	linePaySuccessCode = "0000"
	maxGatewayResponse = 1 << 20
)

type linePayProduct struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type linePayPackage struct {
	ID       string           `json:"id"`
	Amount   int64            `json:"amount"`
	Name     string           `json:"name"`
	Products []linePayProduct `json:"products"`
}

type linePayRequestBody struct {
	Amount       int64            `json:"amount"`
	Currency     string           `json:"currency"`
	OrderID      string           `json:"orderId"`
	Packages     []linePayPackage `json:"packages"`
	RedirectUrls struct {
		ConfirmURL string `json:"confirmUrl"`
		CancelURL  string `json:"cancelUrl"`
	} `json:"redirectUrls"`
}

type linePayConfirmBody struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// LinePay is the two step wallet gateway: reserve, then confirm on return.
type LinePay struct {
	cfg    config.LinePayConfig
	client *http.Client
	nonce  func() string
}

func NewLinePay(cfg config.LinePayConfig, timeout time.Duration) *LinePay {
	if timeout <= 0 {
		timeout = config.DefaultGatewayTimeout
	}
	return &LinePay{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		nonce:  uuid.NewString,
	}
}

func (l *LinePay) Name() string {
	return GatewayLinePay
}

func (l *LinePay) Methods() []Method {
	return []Method{MethodLinePay}
}

// WalletOrderID is the gateway order id for an attempt. Retries get a suffix
// because the gateway refuses to reserve the same order id twice.
func WalletOrderID(orderUUID uuid.UUID, attempt uint) string {
	if attempt <= 1 {
		return orderUUID.String()
	}
	return fmt.Sprintf("%s-%d", orderUUID.String(), attempt)
}

func walletOrderRef(orderID string) string {
	if len(orderID) > 36 && orderID[36] == '-' {
		return orderID[:36]
	}
	return orderID
}

func (l *LinePay) BuildRedirectForm(ctx context.Context, req *PaymentRequest) (*RedirectArtifact, error) {
	if req.Method != MethodLinePay {
		return nil, fmt.Errorf("%w: %q for %s", ErrUnsupportedMethod, req.Method, l.Name())
	}
	if req.Amount <= 0 || req.OrderUUID == uuid.Nil {
		return nil, ErrMalformedParams
	}
	name := SanitizeItemName(req.ItemName)
	body := linePayRequestBody{
		Amount:   req.Amount,
		Currency: l.cfg.Currency,
		OrderID:  WalletOrderID(req.OrderUUID, req.Attempt),
		Packages: []linePayPackage{{
			ID:       "pkg-" + strings.ReplaceAll(req.OrderUUID.String(), "-", "")[:12],
			Amount:   req.Amount,
			Name:     name,
			Products: []linePayProduct{{Name: name, Quantity: 1, Price: req.Amount}},
		}},
	}
	body.RedirectUrls.ConfirmURL = l.cfg.ConfirmURL
	body.RedirectUrls.CancelURL = l.cfg.CancelURL

	res, err := l.post(ctx, linePayRequestURI, body)
	if err != nil {
		return nil, err
	}
	if code := gjson.GetBytes(res, "returnCode").String(); code != linePaySuccessCode {
		return nil, fmt.Errorf("%w: %s %s", ErrGatewayRejected, code, gjson.GetBytes(res, "returnMessage").String())
	}
	paymentURL := gjson.GetBytes(res, "info.paymentUrl.web").String()
	txID := gjson.GetBytes(res, "info.transactionId").String()
	if paymentURL == "" || txID == "" {
		return nil, fmt.Errorf("%w: reservation returned no payment url", ErrGatewayRejected)
	}
	return &RedirectArtifact{
		Gateway:       l.Name(),
		Method:        req.Method,
		RedirectURL:   paymentURL,
		TransactionID: txID,
	}, nil
}

// ParseCallback reads the query string the payer returns with.
func (l *LinePay) ParseCallback(raw []byte) (*GatewayCallback, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedCallback, err.Error())
	}
	txID := values.Get("transactionId")
	if _, err := strconv.ParseUint(txID, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: transactionId %q", ErrMalformedCallback, txID)
	}
	orderID := values.Get("orderId")
	if orderID == "" {
		return nil, fmt.Errorf("%w: missing orderId", ErrMalformedCallback)
	}
	return &GatewayCallback{
		Gateway:       l.Name(),
		Kind:          CallbackPayment,
		OrderRef:      walletOrderRef(orderID),
		TradeNo:       orderID,
		TransactionID: txID,
		Raw:           raw,
	}, nil
}

// ConfirmPayment captures a reserved payment. Only a 2xx reply with return
// code 0000, the same transaction id, the same order and pay info counts as
// paid.
func (l *LinePay) ConfirmPayment(ctx context.Context, transactionID string, orderUUID uuid.UUID, amount int64) (*GatewayReceipt, error) {
	if _, err := strconv.ParseUint(transactionID, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: transactionId %q", ErrMalformedCallback, transactionID)
	}
	uri := fmt.Sprintf("/v3/payments/%s/confirm", transactionID)
	res, err := l.post(ctx, uri, linePayConfirmBody{Amount: amount, Currency: l.cfg.Currency})
	if err != nil {
		return nil, err
	}
	if code := gjson.GetBytes(res, "returnCode").String(); code != linePaySuccessCode {
		return nil, fmt.Errorf("%w: %s %s", ErrGatewayRejected, code, gjson.GetBytes(res, "returnMessage").String())
	}
	info := gjson.GetBytes(res, "info")
	if got := info.Get("transactionId").String(); got != transactionID {
		return nil, fmt.Errorf("%w: confirmed transaction %q", ErrGatewayRejected, got)
	}
	if got := info.Get("orderId").String(); walletOrderRef(got) != orderUUID.String() {
		return nil, fmt.Errorf("%w: transaction %s belongs to order %q", ErrGatewayRejected, transactionID, got)
	}
	payInfo := info.Get("payInfo")
	if !payInfo.IsArray() || len(payInfo.Array()) == 0 {
		return nil, fmt.Errorf("%w: confirm reply has no pay info", ErrGatewayRejected)
	}
	var paid int64
	for _, p := range payInfo.Array() {
		paid += p.Get("amount").Int()
	}
	method := "LINE Pay"
	if m := payInfo.Get("0.method").String(); m != "" {
		method = "LINE Pay " + m
	}
	return &GatewayReceipt{
		TransactionID: transactionID,
		Amount:        paid,
		Method:        method,
		PaidAt:        time.Now(),
		Raw:           res,
	}, nil
}

func (l *LinePay) post(ctx context.Context, uri string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	nonce := l.nonce()
	signature, err := LinePaySignature(l.cfg.ChannelSecret, uri, string(body), nonce)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.BaseURL+uri, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-LINE-ChannelId", l.cfg.ChannelID)
	req.Header.Set("X-LINE-Authorization-Nonce", nonce)
	req.Header.Set("X-LINE-Authorization", signature)

	resp, err := l.client.Do(req)
	if err != nil {
		log.Printf("[LINEPay] %s failed: %s\n", uri, err.Error())
		return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, err.Error())
	}
	defer resp.Body.Close()
	res, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, err.Error())
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrGatewayRejected, resp.StatusCode)
	}
	if !gjson.ValidBytes(res) {
		return nil, errors.Join(ErrGatewayRejected, errors.New("response is not valid json"))
	}
	return res, nil
}
