package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Timestamps struct {
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at,omitempty"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty,omitnil"`
}

type JSONB map[string]any
type JSONBAny struct {
	Inner any
}

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *JSONB) Scan(value any) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	return nil
}

func (a JSONBAny) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a.Inner)
	return string(valueString), err
}
func (a *JSONBAny) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	var inner any
	if err := json.Unmarshal(b, &inner); err != nil {
		return err
	}
	a.Inner = inner
	return nil
}

type Environment string

const (
	Local      Environment = "local"
	Test       Environment = "test"
	Production Environment = "production"
)

type OrderStatus string

const (
	ORDER_PENDING   OrderStatus = "pending"
	ORDER_PAID      OrderStatus = "paid"
	ORDER_CANCELLED OrderStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == ORDER_PAID || s == ORDER_CANCELLED
}

type InvoiceType string

const (
	INVOICE_DONATE InvoiceType = "donate"
	INVOICE_PAPER  InvoiceType = "paper"
	INVOICE_MOBILE InvoiceType = "mobile"
)

type AlertStatus string

const (
	ALERT_OPEN     AlertStatus = "open"
	ALERT_RESOLVED AlertStatus = "resolved"
)

type ShippingRequestBody struct {
	Name    string `json:"name" binding:"required,max=50"`
	Phone   string `json:"phone" binding:"required,max=20"`
	Address string `json:"address" binding:"required,max=255"`
	Note    string `json:"note,omitempty" binding:"omitempty,max=255"`
}

type InvoiceRequestBody struct {
	Type        InvoiceType `json:"type" binding:"required,oneof=donate paper mobile"`
	CarrierCode string      `json:"carrier_code,omitempty" binding:"omitempty,mobilebarcode"`
	TaxID       string      `json:"tax_id,omitempty" binding:"omitempty,taxid"`
	Title       string      `json:"title,omitempty" binding:"omitempty,max=100"`
}

type CheckoutRequestBody struct {
	ProjectID   uint                 `json:"project_id" binding:"required"`
	PlanID      uint                 `json:"plan_id" binding:"required"`
	Quantity    uint                 `json:"quantity,omitempty" binding:"omitempty,min=1,max=99"`
	DisplayName string               `json:"display_name,omitempty" binding:"omitempty,max=50"`
	Note        string               `json:"note,omitempty" binding:"omitempty,max=500"`
	Shipping    *ShippingRequestBody `json:"shipping,omitempty"`
	Invoice     *InvoiceRequestBody  `json:"invoice,omitempty"`
}

type PaymentRequestBody struct {
	Method string `json:"method" binding:"required"`
}

type OrderURIParams struct {
	OrderID string `uri:"orderId" binding:"required,uuid"`
}

type PaginationQuery struct {
	Page  int `form:"page,default=1" binding:"min=1"`
	Limit int `form:"limit,default=10" binding:"min=1,max=50"`
}

type WalletReturnQuery struct {
	TransactionID string `form:"transactionId" binding:"required,numeric"`
	OrderID       string `form:"orderId" binding:"required"`
}

type APIResponseOrderStatus struct {
	OrderUUID string      `json:"order_uuid"`
	Status    OrderStatus `json:"status"`
	Method    string      `json:"payment_method,omitempty"`
	PaidAt    *time.Time  `json:"paid_at,omitempty"`
}

// APIResponsePaymentResult is what the result page shows after checkout,
// including the transfer account for ATM payments still waiting for money.
type APIResponsePaymentResult struct {
	OrderUUID     string      `json:"order_uuid"`
	Status        OrderStatus `json:"status"`
	Amount        int64       `json:"amount"`
	PaymentMethod string      `json:"payment_method,omitempty"`
	PaidAt        *time.Time  `json:"paid_at,omitempty"`
	DisplayName   string      `json:"display_name,omitempty"`
	Note          string      `json:"note,omitempty"`

	AtmBankCode   string `json:"atm_bank_code,omitempty"`
	AtmPaymentNo  string `json:"atm_payment_no,omitempty"`
	AtmExpireDate string `json:"atm_expire_date,omitempty"`

	Recipient string `json:"recipient,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`

	InvoiceType  InvoiceType `json:"invoice_type,omitempty"`
	CarrierCode  string      `json:"carrier_code,omitempty"`
	TaxID        string      `json:"tax_id,omitempty"`
	InvoiceTitle string      `json:"invoice_title,omitempty"`
	InvoiceNo    string      `json:"invoice_no,omitempty"`
}

type APIResponseOrder struct {
	OrderUUID     string      `json:"order_uuid"`
	ProjectID     uint        `json:"project_id"`
	ProjectTitle  string      `json:"project_title,omitempty"`
	PlanID        uint        `json:"plan_id"`
	PlanName      string      `json:"plan_name,omitempty"`
	Quantity      uint        `json:"quantity"`
	Amount        int64       `json:"amount"`
	Status        OrderStatus `json:"status"`
	PaymentMethod string      `json:"payment_method,omitempty"`
	DisplayName   string      `json:"display_name,omitempty"`
	PaidAt        *time.Time  `json:"paid_at,omitempty"`
	InvoiceNo     string      `json:"invoice_no,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

type CreateSettingRequestBody struct {
	Key   string `json:"key" binding:"required"`
	Value any    `json:"value" binding:"required"`
	Group string `json:"group" binding:"required"`
}
