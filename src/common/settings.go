package common

import (
	"context"
	"fmt"
	"lovia/src/models"
	"lovia/src/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const PaymentSettingsGroup = "payment"

// SettingsSource reads gateway credentials persisted in the settings table.
type SettingsSource struct {
	db    *gorm.DB
	group string
}

func NewSettingsSource(db *gorm.DB, group string) *SettingsSource {
	return &SettingsSource{db: db, group: group}
}

func (s *SettingsSource) Name() string {
	return "settings:" + s.group
}

func (s *SettingsSource) Credentials(ctx context.Context) (map[string]string, error) {
	var settings []models.Setting
	if err := s.db.WithContext(ctx).
		Where(&models.Setting{Group: s.group}).
		Find(&settings).
		Error; err != nil {
		return nil, err
	}
	values := make(map[string]string, len(settings))
	for _, st := range settings {
		switch v := st.SettingValue.Inner.(type) {
		case nil:
		case string:
			values[st.SettingKey] = v
		default:
			values[st.SettingKey] = fmt.Sprint(v)
		}
	}
	return values, nil
}

// SaveSetting inserts or replaces one setting. Payment settings are read at
// boot, so a change applies on the next restart.
func SaveSetting(ctx context.Context, db *gorm.DB, body *types.CreateSettingRequestBody) (*models.Setting, error) {
	setting := models.Setting{
		SettingKey:   body.Key,
		SettingValue: types.JSONBAny{Inner: body.Value},
		Group:        body.Group,
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "setting_key"}, {Name: "group"}},
			DoUpdates: clause.AssignmentColumns([]string{"setting_value", "updated_at"}),
		}).
		Create(&setting).
		Error
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

// ListSettings returns the settings of a group with secret values left out.
func ListSettings(ctx context.Context, db *gorm.DB, group string) ([]models.Setting, error) {
	var settings []models.Setting
	q := db.WithContext(ctx).Order("setting_key asc")
	if group != "" {
		q = q.Where(&models.Setting{Group: group})
	}
	if err := q.Find(&settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}
