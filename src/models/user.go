package models

import (
	"lovia/src/types"
)

type User struct {
	ID    uint   `gorm:"primarykey" json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `gorm:"uniqueIndex" json:"email,omitempty"`
	Role  string `json:"role,omitempty"`

	Orders []Order `gorm:"foreignKey:user_id" json:"orders,omitempty"`

	types.Timestamps
}
