package models

import (
	"lovia/src/types"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PaymentAlert holds a gateway notification that needs manual review,
// such as money collected for an order that was already cancelled.
type PaymentAlert struct {
	ID            uuid.UUID         `gorm:"primarykey;type:uuid;default:gen_random_uuid()" json:"id"`
	OrderUUID     uuid.UUID         `gorm:"type:uuid;index" json:"order_uuid"`
	Gateway       string            `json:"gateway"`
	Reason        string            `json:"reason"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Amount        int64             `json:"amount"`
	Payload       datatypes.JSON    `gorm:"type:jsonb" json:"payload,omitempty"`
	Status        types.AlertStatus `gorm:"type:varchar(16);default:open" json:"status"`

	types.Timestamps
}
