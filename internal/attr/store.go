package attr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"club-events-backend/internal/model"
)

// Store reads and writes typed attributes attached to an entity. The
// eligibility evaluator only reads; profile editors write.
type Store interface {
	// Get returns the attribute, or ok=false when it is not set.
	Get(ctx context.Context, entityType string, entityID int64, name string) (v Value, ok bool, err error)
	Set(ctx context.Context, entityType string, entityID int64, name string, v Value) error
	Delete(ctx context.Context, entityType string, entityID int64, name string) error
}

type gormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a GORM-backed attribute store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db, now: time.Now}
}

func (s *gormStore) Get(ctx context.Context, entityType string, entityID int64, name string) (Value, bool, error) {
	var row model.Attribute
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND name = ?", entityType, entityID, name).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Value{}, false, nil
	}
	if err != nil {
		return Value{}, false, fmt.Errorf("failed to load attribute %s.%s: %w", entityType, name, err)
	}

	v, err := Parse(Type(row.Type), row.Value)
	if err != nil {
		return Value{}, false, fmt.Errorf("attribute %s.%s of %d: %w", entityType, name, entityID, err)
	}
	return v, true, nil
}

func (s *gormStore) Set(ctx context.Context, entityType string, entityID int64, name string, v Value) error {
	row := model.Attribute{
		EntityType: entityType,
		EntityID:   entityID,
		Name:       name,
		Type:       string(v.Type),
		Value:      v.Raw(),
		UpdatedAt:  s.now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert attribute %s.%s: %w", entityType, name, err)
	}
	return nil
}

func (s *gormStore) Delete(ctx context.Context, entityType string, entityID int64, name string) error {
	return s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND name = ?", entityType, entityID, name).
		Delete(&model.Attribute{}).Error
}
