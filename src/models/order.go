package models

import (
	"lovia/src/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Order is a sponsorship: one pledge and its payment intent.
type Order struct {
	ID                   uint              `gorm:"primarykey" json:"-"`
	OrderUUID            uuid.UUID         `gorm:"type:uuid;uniqueIndex;not null" json:"order_uuid"`
	UserID               uint              `gorm:"index;not null" json:"user_id"`
	ProjectID            uint              `gorm:"index;not null" json:"project_id"`
	PlanID               uint              `gorm:"not null" json:"plan_id"`
	Quantity             uint              `gorm:"default:1" json:"quantity"`
	Amount               int64             `gorm:"not null;check:amount > 0" json:"amount"`
	Status               types.OrderStatus `gorm:"type:varchar(16);index;not null;default:pending" json:"status"`
	PaymentMethod        *string           `json:"payment_method,omitempty"`
	GatewayTransactionID *string           `gorm:"index" json:"-"`
	PaidAt               *time.Time        `json:"paid_at,omitempty"`
	RawGatewayResult     datatypes.JSON    `gorm:"type:jsonb" json:"-"`
	PaymentAttempts      uint              `gorm:"default:0" json:"-"`
	DisplayName          string            `json:"display_name,omitempty"`
	Note                 string            `json:"note,omitempty"`
	AtmBankCode          *string           `json:"atm_bank_code,omitempty"`
	AtmPaymentNo         *string           `json:"atm_payment_no,omitempty"`
	AtmExpireDate        *string           `json:"atm_expire_date,omitempty"`

	types.Timestamps

	Shipping *Shipping `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"shipping,omitempty"`
	Invoice  *Invoice  `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"invoice,omitempty"`
	Project  *Project  `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"project,omitempty"`
	Plan     *Plan     `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	User     *User     `gorm:"foreignKey:UserID" json:"-"`
}

func (o *Order) IsPending() bool {
	return o.Status == types.ORDER_PENDING
}

func (o *Order) IsPaid() bool {
	return o.Status == types.ORDER_PAID
}

// ReceiptWanted reports whether a receipt should be mailed once the order is paid.
func (o *Order) ReceiptWanted() bool {
	return o.Invoice != nil && o.Invoice.Type != types.INVOICE_DONATE
}

type Shipping struct {
	ID      uint   `gorm:"primarykey" json:"-"`
	OrderID uint   `gorm:"uniqueIndex;not null" json:"-"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Note    string `json:"note,omitempty"`

	types.Timestamps
}

type Invoice struct {
	ID          uint              `gorm:"primarykey" json:"-"`
	OrderID     uint              `gorm:"uniqueIndex;not null" json:"-"`
	Type        types.InvoiceType `gorm:"type:varchar(16);not null" json:"type"`
	CarrierCode *string           `json:"carrier_code,omitempty"`
	TaxID       *string           `json:"tax_id,omitempty"`
	Title       string            `json:"title,omitempty"`
	InvoiceNo   *string           `gorm:"uniqueIndex" json:"invoice_no,omitempty"`

	types.Timestamps
}
