package lib

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"lovia/src/config"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ack is the plaintext body the card gateway expects in reply to a notification.
type Ack string

const (
	AckOK             Ack = "1|OK"
	AckCheckMacError  Ack = "0|CHECKMAC_ERROR"
	AckNotFound       Ack = "0|NOT_FOUND"
	AckAmountMismatch Ack = "0|AMOUNT_MISMATCH"
	AckConflict       Ack = "0|CONFLICT"
	AckFail           Ack = "0|FAIL"
	AckServerError    Ack = "0|SERVER_ERROR"
)

const (
	ecpayDateFormat     = "2006/01/02 15:04:05"
	ecpayTradeNoLength  = 20
	ecpayItemNameLength = 100
	ecpayTradeDescLimit = 200
	defaultItemName     = "Lovia Sponsorship"
)

var (
	taipei            = time.FixedZone("Asia/Taipei", 8*60*60)
	itemNameDisallow  = regexp.MustCompile(`[^\p{Han}a-zA-Z0-9 ]+`)
	collapseSpaces    = regexp.MustCompile(`\s+`)
	autoSubmitFormTpl = template.Must(template.New("ecpay").Parse(
		`<form id="ecpay-form" method="post" action="{{.Action}}">` +
			`{{range $k, $v := .Params}}<input type="hidden" name="{{$k}}" value="{{$v}}">{{end}}` +
			`</form><script>document.getElementById("ecpay-form").submit();</script>`))
)

var ecpayChoosePayment = map[Method]string{
	MethodCredit: "Credit",
	MethodATM:    "ATM",
	MethodWebATM: "WebATM",
}

// ECPay is the card/ATM redirect-form gateway.
type ECPay struct {
	cfg config.ECPayConfig
	now func() time.Time
}

func NewECPay(cfg config.ECPayConfig) *ECPay {
	return &ECPay{cfg: cfg, now: time.Now}
}

func (e *ECPay) Name() string {
	return GatewayECPay
}

func (e *ECPay) Methods() []Method {
	return []Method{MethodCredit, MethodATM, MethodWebATM}
}

// TradeNo derives the merchant trade number for one payment attempt. The same
// order and attempt always give the same number, and the first 16 characters
// identify the order.
func TradeNo(orderUUID uuid.UUID, attempt uint) string {
	if attempt == 0 {
		attempt = 1
	}
	prefix := strings.ReplaceAll(orderUUID.String(), "-", "")[:16]
	suffix := strconv.FormatUint(uint64(attempt), 36)
	if len(suffix) < ecpayTradeNoLength-len(prefix) {
		suffix = strings.Repeat("0", ecpayTradeNoLength-len(prefix)-len(suffix)) + suffix
	}
	no := prefix + suffix
	if len(no) > ecpayTradeNoLength {
		no = no[:ecpayTradeNoLength]
	}
	return no
}

// SanitizeItemName keeps CJK, ASCII letters, digits and single spaces.
func SanitizeItemName(s string) string {
	s = itemNameDisallow.ReplaceAllString(s, "")
	s = strings.TrimSpace(collapseSpaces.ReplaceAllString(s, " "))
	if s == "" {
		return defaultItemName
	}
	if r := []rune(s); len(r) > ecpayItemNameLength {
		s = strings.TrimSpace(string(r[:ecpayItemNameLength]))
	}
	return s
}

func (e *ECPay) BuildRedirectForm(ctx context.Context, req *PaymentRequest) (*RedirectArtifact, error) {
	choose, ok := ecpayChoosePayment[req.Method]
	if !ok {
		return nil, fmt.Errorf("%w: %q for %s", ErrUnsupportedMethod, req.Method, e.Name())
	}
	if req.Amount <= 0 || req.OrderUUID == uuid.Nil {
		return nil, ErrMalformedParams
	}
	tradeNo := TradeNo(req.OrderUUID, req.Attempt)
	desc := SanitizeItemName(req.Description)
	if r := []rune(desc); len(r) > ecpayTradeDescLimit {
		desc = string(r[:ecpayTradeDescLimit])
	}
	params := map[string]string{
		"MerchantID":        e.cfg.MerchantID,
		"MerchantTradeNo":   tradeNo,
		"MerchantTradeDate": e.now().In(taipei).Format(ecpayDateFormat),
		"PaymentType":       "aio",
		"TotalAmount":       strconv.FormatInt(req.Amount, 10),
		"TradeDesc":         desc,
		"ItemName":          SanitizeItemName(req.ItemName),
		"ReturnURL":         e.cfg.ReturnURL,
		"ChoosePayment":     choose,
		"EncryptType":       "1",
		"CustomField1":      req.OrderUUID.String(),
		"CustomField2":      tradeNo,
		"CustomField3":      strconv.FormatUint(uint64(req.UserID), 10),
	}
	clientBack := req.ClientBackURL
	if clientBack == "" {
		clientBack = e.cfg.ClientBackURL
	}
	if clientBack != "" {
		params["ClientBackURL"] = clientBack
	}
	if req.Method == MethodATM {
		days := e.cfg.ATMExpireDays
		if days < 1 {
			days = config.DefaultATMExpireDays
		}
		params["ExpireDate"] = strconv.Itoa(days)
		if e.cfg.PaymentInfoURL != "" {
			params["PaymentInfoURL"] = e.cfg.PaymentInfoURL
		}
	}

	mac, err := CheckMacValue(params, e.cfg.HashKey, e.cfg.HashIV)
	if err != nil {
		return nil, err
	}
	params["CheckMacValue"] = mac

	var buf bytes.Buffer
	if err := autoSubmitFormTpl.Execute(&buf, map[string]any{
		"Action": e.cfg.CheckoutURL,
		"Params": params,
	}); err != nil {
		return nil, err
	}

	return &RedirectArtifact{
		Gateway: e.Name(),
		Method:  req.Method,
		Action:  e.cfg.CheckoutURL,
		Params:  params,
		HTML:    buf.String(),
		TradeNo: tradeNo,
	}, nil
}

// ParseCallback reads a form-encoded payment or payment-info notification.
func (e *ECPay) ParseCallback(raw []byte) (*GatewayCallback, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedCallback, err.Error())
	}
	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	if len(params) == 0 {
		return nil, ErrMalformedCallback
	}

	cb := &GatewayCallback{
		Gateway:       e.Name(),
		Kind:          CallbackPayment,
		OrderRef:      params["CustomField1"],
		TradeNo:       params["MerchantTradeNo"],
		TransactionID: params["TradeNo"],
		ResultCode:    params["RtnCode"],
		ResultMessage: params["RtnMsg"],
		PaymentType:   params["PaymentType"],
		Mac:           params[checkMacField],
		Params:        params,
		Raw:           raw,
	}
	if amt := params["TradeAmt"]; amt != "" {
		n, err := strconv.ParseInt(amt, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: TradeAmt %q", ErrMalformedCallback, amt)
		}
		cb.Amount = n
	}
	if paidAt := params["PaymentDate"]; paidAt != "" {
		if t, err := time.ParseInLocation(ecpayDateFormat, paidAt, taipei); err == nil {
			cb.PaidAt = t
		}
	}
	if _, ok := params["vAccount"]; ok {
		cb.Kind = CallbackPaymentInfo
		cb.Info = &PaymentInfo{
			BankCode:   params["BankCode"],
			PaymentNo:  params["vAccount"],
			ExpireDate: params["ExpireDate"],
		}
		cb.Succeeded = cb.ResultCode == "2"
	} else {
		cb.Succeeded = cb.ResultCode == "1"
	}
	return cb, nil
}

func (e *ECPay) VerifyCallback(cb *GatewayCallback) error {
	if !VerifyCheckMacValue(cb.Mac, cb.Params, e.cfg.HashKey, e.cfg.HashIV) {
		return ErrInvalidSignature
	}
	if mid := cb.Params["MerchantID"]; mid != "" && mid != e.cfg.MerchantID {
		return fmt.Errorf("%w: merchant %s", ErrInvalidSignature, mid)
	}
	return nil
}
