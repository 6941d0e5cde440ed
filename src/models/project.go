package models

import "lovia/src/types"

type Project struct {
	ID      uint   `gorm:"primarykey" json:"id"`
	Title   string `gorm:"not null" json:"title"`
	Summary string `json:"summary,omitempty"`
	Goal    int64  `json:"goal"`
	Amount  int64  `gorm:"not null;default:0" json:"amount"`
	OwnerID uint   `gorm:"index" json:"owner_id"`

	types.Timestamps

	Plans []Plan `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"plans,omitempty"`
}

// Plan is a reward tier of a Project.
type Plan struct {
	ID          uint   `gorm:"primarykey" json:"id"`
	ProjectID   uint   `gorm:"index;not null" json:"project_id"`
	Name        string `gorm:"not null" json:"name"`
	Amount      int64  `gorm:"not null" json:"amount"`
	Description string `json:"description,omitempty"`
	Shippable   bool   `json:"shippable"`

	types.Timestamps
}
