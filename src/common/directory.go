package common

import (
	"context"
	"errors"
	"lovia/src/models"
	"lovia/src/models/scopes"

	"gorm.io/gorm"
)

// Directory resolves the users, projects and plans an order refers to.
type Directory interface {
	FindUser(ctx context.Context, id uint) (*models.User, error)
	FindProject(ctx context.Context, id uint) (*models.Project, error)
	FindPlan(ctx context.Context, id uint) (*models.Plan, error)
}

// Bookkeeper keeps denormalized project totals.
type Bookkeeper interface {
	IncrementProjectTotal(ctx context.Context, projectID uint, amount int64) error
}

type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) FindUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := d.db.WithContext(ctx).Scopes(scopes.WithID(id)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (d *GormDirectory) FindProject(ctx context.Context, id uint) (*models.Project, error) {
	var project models.Project
	if err := d.db.WithContext(ctx).Scopes(scopes.WithID(id)).First(&project).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &project, nil
}

func (d *GormDirectory) FindPlan(ctx context.Context, id uint) (*models.Plan, error) {
	var plan models.Plan
	if err := d.db.WithContext(ctx).Scopes(scopes.WithID(id)).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// IncrementProjectTotal adds in the database so concurrent settlements never lose an update.
func (d *GormDirectory) IncrementProjectTotal(ctx context.Context, projectID uint, amount int64) error {
	res := d.db.WithContext(ctx).
		Model(&models.Project{}).
		Scopes(scopes.WithID(projectID)).
		UpdateColumn("amount", gorm.Expr("amount + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrProjectNotFound
	}
	return nil
}
