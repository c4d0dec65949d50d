package repo

import (
	"context"
	"time"

	"autojs-hub/backend/app/models"

	"gorm.io/gorm"
)

// DeviceRepository is the gorm-backed device registry.
type DeviceRepository struct{ db *gorm.DB }

func NewDeviceRepository(db *gorm.DB) *DeviceRepository { return &DeviceRepository{db: db} }

func (r *DeviceRepository) Create(ctx context.Context, d *models.Device) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *DeviceRepository) FindByCode(ctx context.Context, code string) (*models.Device, error) {
	var d models.Device
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&d).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// FindByCodes returns the devices that exist among codes; unknown codes are skipped.
func (r *DeviceRepository) FindByCodes(ctx context.Context, codes []string) ([]models.Device, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	var ds []models.Device
	if err := r.db.WithContext(ctx).Where("code IN ?", codes).Order("id ASC").Find(&ds).Error; err != nil {
		return nil, err
	}
	return ds, nil
}

func (r *DeviceRepository) ListAll(ctx context.Context) ([]models.Device, error) {
	var ds []models.Device
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&ds).Error; err != nil {
		return nil, err
	}
	return ds, nil
}

func (r *DeviceRepository) ListByGroup(ctx context.Context, groupID string) ([]models.Device, error) {
	var ds []models.Device
	if err := r.db.WithContext(ctx).Where("group_id = ?", groupID).Order("id ASC").Find(&ds).Error; err != nil {
		return nil, err
	}
	return ds, nil
}

// Touch records the last contact time and, when reported, the Auto.js version.
func (r *DeviceRepository) Touch(ctx context.Context, code, autoJsVersion string, seenAt time.Time) error {
	updates := map[string]any{"last_seen_at": seenAt}
	if autoJsVersion != "" {
		updates["auto_js_version"] = autoJsVersion
	}
	res := r.db.WithContext(ctx).Model(&models.Device{}).Where("code = ?", code).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *DeviceRepository) SetGroup(ctx context.Context, code, groupID string) error {
	res := r.db.WithContext(ctx).Model(&models.Device{}).Where("code = ?", code).Update("group_id", groupID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}
