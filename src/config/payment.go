package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	KeyECPayMerchantID     = "ECPAY_MERCHANT_ID"
	KeyECPayHashKey        = "ECPAY_HASH_KEY"
	KeyECPayHashIV         = "ECPAY_HASH_IV"
	KeyECPayCheckoutURL    = "ECPAY_CHECKOUT_URL"
	KeyECPayReturnURL      = "ECPAY_RETURN_URL"
	KeyECPayPaymentInfoURL = "ECPAY_PAYMENT_INFO_URL"
	KeyECPayClientBackURL  = "ECPAY_CLIENT_BACK_URL"
	KeyECPayATMExpireDays  = "ECPAY_ATM_EXPIRE_DAYS"
	KeyLinePayChannelID    = "LINEPAY_CHANNEL_ID"
	KeyLinePayChannelKey   = "LINEPAY_CHANNEL_SECRET"
	KeyLinePayBaseURL      = "LINEPAY_BASE_URL"
	KeyLinePayConfirmURL   = "LINEPAY_CONFIRM_URL"
	KeyLinePayCancelURL    = "LINEPAY_CANCEL_URL"
	KeyLinePayCurrency     = "LINEPAY_CURRENCY"
	KeySiteURL             = "SITE_URL"
	KeyGatewayTimeout      = "PAYMENT_GATEWAY_TIMEOUT"
	KeyPendingTimeout      = "PAYMENT_PENDING_TIMEOUT"
	KeySweepInterval       = "PAYMENT_SWEEP_INTERVAL"
	KeyDispatchWait        = "PAYMENT_DISPATCH_WAIT"
)

// PaymentKeys lists every key a CredentialSource may provide.
var PaymentKeys = []string{
	KeyECPayMerchantID, KeyECPayHashKey, KeyECPayHashIV, KeyECPayCheckoutURL, KeyECPayReturnURL,
	KeyECPayPaymentInfoURL, KeyECPayClientBackURL, KeyECPayATMExpireDays,
	KeyLinePayChannelID, KeyLinePayChannelKey, KeyLinePayBaseURL, KeyLinePayConfirmURL,
	KeyLinePayCancelURL, KeyLinePayCurrency,
	KeySiteURL, KeyGatewayTimeout, KeyPendingTimeout, KeySweepInterval, KeyDispatchWait,
}

const (
	DefaultECPayCheckoutURL = "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5"
	DefaultLinePayBaseURL   = "https://sandbox-api-pay.line.me"
	DefaultATMExpireDays    = 3
	DefaultGatewayTimeout   = 10 * time.Second
	DefaultPendingTimeout   = 30 * time.Minute
	DefaultSweepInterval    = 5 * time.Minute
	DefaultDispatchWait     = 3 * time.Second
)

var ErrMissingCredentials = errors.New("missing payment credentials")

type ECPayConfig struct {
	MerchantID     string
	HashKey        string
	HashIV         string
	CheckoutURL    string
	ReturnURL      string
	PaymentInfoURL string
	ClientBackURL  string
	ATMExpireDays  int
}

type LinePayConfig struct {
	ChannelID     string
	ChannelSecret string
	BaseURL       string
	ConfirmURL    string
	CancelURL     string
	Currency      string
}

// PaymentConfig is built once at startup and handed to the gateway adapters.
type PaymentConfig struct {
	ECPay   ECPayConfig
	LinePay LinePayConfig
	SiteURL string

	GatewayTimeout time.Duration
	PendingTimeout time.Duration
	SweepInterval  time.Duration
	DispatchWait   time.Duration
}

// CredentialSource supplies payment settings. Sources are merged in order,
// later sources override earlier ones.
type CredentialSource interface {
	Name() string
	Credentials(ctx context.Context) (map[string]string, error)
}

type EnvSource struct{}

func (EnvSource) Name() string {
	return "env"
}

func (EnvSource) Credentials(ctx context.Context) (map[string]string, error) {
	values := map[string]string{}
	for _, key := range PaymentKeys {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			values[key] = v
		}
	}
	return values, nil
}

// StaticSource is a fixed set of values, mostly useful in tests.
type StaticSource map[string]string

func (StaticSource) Name() string {
	return "static"
}

func (s StaticSource) Credentials(ctx context.Context) (map[string]string, error) {
	return s, nil
}

// LoadPaymentConfig merges all sources, applies defaults and validates the result.
func LoadPaymentConfig(ctx context.Context, sources ...CredentialSource) (*PaymentConfig, error) {
	merged := map[string]string{}
	for _, src := range sources {
		if src == nil {
			continue
		}
		values, err := src.Credentials(ctx)
		if err != nil {
			return nil, fmt.Errorf("load credentials from %s: %w", src.Name(), err)
		}
		for k, v := range values {
			if strings.TrimSpace(v) != "" {
				merged[k] = strings.TrimSpace(v)
			}
		}
		log.Printf("[Config] loaded %d payment settings from %s\n", len(values), src.Name())
	}
	cfg, err := fromValues(merged)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromValues(v map[string]string) (*PaymentConfig, error) {
	cfg := &PaymentConfig{
		ECPay: ECPayConfig{
			MerchantID:     v[KeyECPayMerchantID],
			HashKey:        v[KeyECPayHashKey],
			HashIV:         v[KeyECPayHashIV],
			CheckoutURL:    withDefault(v[KeyECPayCheckoutURL], DefaultECPayCheckoutURL),
			ReturnURL:      v[KeyECPayReturnURL],
			PaymentInfoURL: v[KeyECPayPaymentInfoURL],
			ClientBackURL:  v[KeyECPayClientBackURL],
			ATMExpireDays:  DefaultATMExpireDays,
		},
		LinePay: LinePayConfig{
			ChannelID:     v[KeyLinePayChannelID],
			ChannelSecret: v[KeyLinePayChannelKey],
			BaseURL:       strings.TrimRight(withDefault(v[KeyLinePayBaseURL], DefaultLinePayBaseURL), "/"),
			ConfirmURL:    v[KeyLinePayConfirmURL],
			CancelURL:     v[KeyLinePayCancelURL],
			Currency:      withDefault(v[KeyLinePayCurrency], "TWD"),
		},
		SiteURL:        strings.TrimRight(v[KeySiteURL], "/"),
		GatewayTimeout: DefaultGatewayTimeout,
		PendingTimeout: DefaultPendingTimeout,
		SweepInterval:  DefaultSweepInterval,
		DispatchWait:   DefaultDispatchWait,
	}
	if s := v[KeyECPayATMExpireDays]; s != "" {
		days, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", KeyECPayATMExpireDays, err)
		}
		cfg.ECPay.ATMExpireDays = days
	}
	durations := map[string]*time.Duration{
		KeyGatewayTimeout: &cfg.GatewayTimeout,
		KeyPendingTimeout: &cfg.PendingTimeout,
		KeySweepInterval:  &cfg.SweepInterval,
		KeyDispatchWait:   &cfg.DispatchWait,
	}
	for key, target := range durations {
		s := v[key]
		if s == "" {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		*target = d
	}
	return cfg, nil
}

// Validate reports every missing secret at once. It never includes secret values.
func (c *PaymentConfig) Validate() error {
	required := map[string]string{
		KeyECPayMerchantID:   c.ECPay.MerchantID,
		KeyECPayHashKey:      c.ECPay.HashKey,
		KeyECPayHashIV:       c.ECPay.HashIV,
		KeyECPayReturnURL:    c.ECPay.ReturnURL,
		KeyLinePayChannelID:  c.LinePay.ChannelID,
		KeyLinePayChannelKey: c.LinePay.ChannelSecret,
		KeyLinePayConfirmURL: c.LinePay.ConfirmURL,
		KeyLinePayCancelURL:  c.LinePay.CancelURL,
	}
	var missing []string
	for _, key := range PaymentKeys {
		if v, ok := required[key]; ok && v == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	if c.ECPay.ATMExpireDays < 1 || c.ECPay.ATMExpireDays > 60 {
		return fmt.Errorf("%s must be between 1 and 60", KeyECPayATMExpireDays)
	}
	if c.GatewayTimeout <= 0 || c.PendingTimeout <= 0 || c.SweepInterval <= 0 || c.DispatchWait <= 0 {
		return errors.New("payment durations must be positive")
	}
	return nil
}

func (c PaymentConfig) String() string {
	return fmt.Sprintf(
		"PaymentConfig{ECPay:{MerchantID:%s HashKey:%s HashIV:%s CheckoutURL:%s} LinePay:{ChannelID:%s ChannelSecret:%s BaseURL:%s} SiteURL:%s GatewayTimeout:%s PendingTimeout:%s}",
		c.ECPay.MerchantID, Mask(c.ECPay.HashKey), Mask(c.ECPay.HashIV), c.ECPay.CheckoutURL,
		c.LinePay.ChannelID, Mask(c.LinePay.ChannelSecret), c.LinePay.BaseURL,
		c.SiteURL, c.GatewayTimeout, c.PendingTimeout,
	)
}

func (c PaymentConfig) GoString() string {
	return c.String()
}

// Mask hides all but the last two characters of a secret.
func Mask(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-2:]
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
