package repo

import (
	"context"

	"autojs-hub/backend/app/models"

	"gorm.io/gorm"
)

type ScriptRepository struct{ db *gorm.DB }

func NewScriptRepository(db *gorm.DB) *ScriptRepository { return &ScriptRepository{db: db} }

func (r *ScriptRepository) Create(ctx context.Context, s *models.Script) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *ScriptRepository) FindByID(ctx context.Context, id uint) (*models.Script, error) {
	var s models.Script
	if err := r.db.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *ScriptRepository) List(ctx context.Context) ([]models.Script, error) {
	var out []models.Script
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
