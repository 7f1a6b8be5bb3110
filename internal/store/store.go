package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"club-events-backend/internal/errs"
	"club-events-backend/internal/model"
)

// Store defines the interface for all database operations the scheduling
// and registration core needs.
type Store interface {
	DB() *gorm.DB

	GetMember(ctx context.Context, id int64) (*model.Member, error)

	CreateOccurrence(ctx context.Context, occ *model.Occurrence) error
	CreateOccurrences(ctx context.Context, occs []model.Occurrence) error
	GetOccurrence(ctx context.Context, id int64) (*model.Occurrence, error)
	ListOccurrences(ctx context.Context, from, to time.Time) ([]model.Occurrence, error)
	ListGenerated(ctx context.Context, templateID int64) ([]model.Occurrence, error)
	DeleteOccurrences(ctx context.Context, ids []int64) (int64, error)
	// DeleteIdleOccurrences deletes the occurrences among ids that hold no
	// registered or waiting-list rows and returns the ids it deleted.
	DeleteIdleOccurrences(ctx context.Context, ids []int64) ([]int64, error)

	SaveRecurrence(ctx context.Context, spec *model.RecurrenceSpec) error
	DeleteRecurrence(ctx context.Context, occurrenceID int64) error

	GetRegistration(ctx context.Context, id int64) (*model.Registration, error)
	ListRegistrations(ctx context.Context, occurrenceID int64) ([]model.Registration, error)
	ActiveRegistrationCounts(ctx context.Context, occurrenceIDs []int64) (map[int64]int64, error)

	// InOccurrenceTx runs fn in a transaction holding the occurrence row.
	// On postgres the row is locked with SELECT ... FOR UPDATE.
	InOccurrenceTx(ctx context.Context, occurrenceID int64, fn func(tx Tx) error) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func notFound(err error, kind string, id int64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NotFound(kind, id)
	}
	return fmt.Errorf("failed to load %s %d: %w", kind, id, err)
}

func (s *gormStore) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	var m model.Member
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, notFound(err, "member", id)
	}
	return &m, nil
}

// CreateOccurrence inserts the occurrence together with its recurrence
// spec and conditions.
func (s *gormStore) CreateOccurrence(ctx context.Context, occ *model.Occurrence) error {
	if err := s.db.WithContext(ctx).Create(occ).Error; err != nil {
		return fmt.Errorf("failed to create occurrence: %w", err)
	}
	return nil
}

// CreateOccurrences batch inserts generated occurrences and their conditions in one transaction.
func (s *gormStore) CreateOccurrences(ctx context.Context, occs []model.Occurrence) error {
	if len(occs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(&occs, 100).Error; err != nil {
			return fmt.Errorf("batch create occurrences failed: %w", err)
		}
		return nil
	})
}

func (s *gormStore) GetOccurrence(ctx context.Context, id int64) (*model.Occurrence, error) {
	var occ model.Occurrence
	err := s.db.WithContext(ctx).
		Preload("Recurrence").
		Preload("Conditions", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&occ, id).Error
	if err != nil {
		return nil, notFound(err, "occurrence", id)
	}
	return &occ, nil
}

// ListOccurrences returns occurrences starting in [from, to), ordered by start.
// A zero bound is open.
func (s *gormStore) ListOccurrences(ctx context.Context, from, to time.Time) ([]model.Occurrence, error) {
	q := s.db.WithContext(ctx).Model(&model.Occurrence{})
	if !from.IsZero() {
		q = q.Where("start_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("start_at < ?", to)
	}
	var occs []model.Occurrence
	if err := q.Order("start_at, id").Find(&occs).Error; err != nil {
		return nil, fmt.Errorf("failed to list occurrences: %w", err)
	}
	return occs, nil
}

// ListGenerated returns the occurrences generated from templateID, ordered by start.
func (s *gormStore) ListGenerated(ctx context.Context, templateID int64) ([]model.Occurrence, error) {
	var occs []model.Occurrence
	err := s.db.WithContext(ctx).
		Where("parent_event_id = ?", templateID).
		Order("start_at, id").
		Find(&occs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list series %d: %w", templateID, err)
	}
	return occs, nil
}

// DeleteOccurrences removes the occurrences and everything they own. It
// returns the number of occurrences deleted.
func (s *gormStore) DeleteOccurrences(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		removed, err = deleteOwned(tx, ids)
		return err
	})
	return removed, err
}

// DeleteIdleOccurrences checks and deletes in one transaction. On postgres
// the rows are locked first, so a registration holding one of them either
// commits before the check or finds the occurrence gone.
func (s *gormStore) DeleteIdleOccurrences(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var idle []int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			var locked []int64
			if err := tx.Model(&model.Occurrence{}).
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id IN ?", ids).
				Pluck("id", &locked).Error; err != nil {
				return fmt.Errorf("failed to lock occurrences: %w", err)
			}
		}
		active := tx.Model(&model.Registration{}).
			Select("1").
			Where("registrations.occurrence_id = occurrences.id AND registrations.status IN ?",
				[]string{model.StatusRegistered, model.StatusWaitingList})
		if err := tx.Model(&model.Occurrence{}).
			Where("id IN ?", ids).
			Where("NOT EXISTS (?)", active).
			Order("id").
			Pluck("id", &idle).Error; err != nil {
			return fmt.Errorf("failed to find idle occurrences: %w", err)
		}
		if len(idle) == 0 {
			return nil
		}
		_, err := deleteOwned(tx, idle)
		return err
	})
	if err != nil {
		return nil, err
	}
	return idle, nil
}

func deleteOwned(tx *gorm.DB, ids []int64) (int64, error) {
	for _, owned := range []any{&model.Registration{}, &model.EligibilityCondition{}, &model.RecurrenceSpec{}} {
		if err := tx.Where("occurrence_id IN ?", ids).Delete(owned).Error; err != nil {
			return 0, fmt.Errorf("failed to delete %T rows: %w", owned, err)
		}
	}
	res := tx.Where("id IN ?", ids).Delete(&model.Occurrence{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete occurrences: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SaveRecurrence creates or replaces the recurrence spec of an occurrence.
func (s *gormStore) SaveRecurrence(ctx context.Context, spec *model.RecurrenceSpec) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.RecurrenceSpec{}).
			Where("occurrence_id = ?", spec.OccurrenceID).
			Updates(map[string]any{
				"frequency": spec.Frequency,
				"interval":  spec.Interval,
				"weekdays":  spec.Weekdays,
				"end_date":  spec.EndDate,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update recurrence for occurrence %d: %w", spec.OccurrenceID, res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}
		spec.ID = 0
		if err := tx.Create(spec).Error; err != nil {
			return fmt.Errorf("failed to create recurrence for occurrence %d: %w", spec.OccurrenceID, err)
		}
		return nil
	})
}

func (s *gormStore) DeleteRecurrence(ctx context.Context, occurrenceID int64) error {
	return s.db.WithContext(ctx).Where("occurrence_id = ?", occurrenceID).Delete(&model.RecurrenceSpec{}).Error
}

func (s *gormStore) GetRegistration(ctx context.Context, id int64) (*model.Registration, error) {
	var reg model.Registration
	if err := s.db.WithContext(ctx).First(&reg, id).Error; err != nil {
		return nil, notFound(err, "registration", id)
	}
	return &reg, nil
}

// ListRegistrations returns every registration of an occurrence in arrival order.
func (s *gormStore) ListRegistrations(ctx context.Context, occurrenceID int64) ([]model.Registration, error) {
	var regs []model.Registration
	err := s.db.WithContext(ctx).
		Where("occurrence_id = ?", occurrenceID).
		Order("registered_at, id").
		Find(&regs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations for occurrence %d: %w", occurrenceID, err)
	}
	return regs, nil
}

// ActiveRegistrationCounts counts registered and waiting-list rows per occurrence.
func (s *gormStore) ActiveRegistrationCounts(ctx context.Context, occurrenceIDs []int64) (map[int64]int64, error) {
	counts := make(map[int64]int64)
	if len(occurrenceIDs) == 0 {
		return counts, nil
	}

	type countRow struct {
		OccurrenceID int64
		Total        int64
	}
	var rows []countRow
	err := s.db.WithContext(ctx).
		Model(&model.Registration{}).
		Select("occurrence_id, COUNT(*) AS total").
		Where("occurrence_id IN ? AND status IN ?", occurrenceIDs, []string{model.StatusRegistered, model.StatusWaitingList}).
		Group("occurrence_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count registrations: %w", err)
	}
	for _, r := range rows {
		counts[r.OccurrenceID] = r.Total
	}
	return counts, nil
}

func (s *gormStore) InOccurrenceTx(ctx context.Context, occurrenceID int64, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var occ model.Occurrence
		if err := q.First(&occ, occurrenceID).Error; err != nil {
			return notFound(err, "occurrence", occurrenceID)
		}
		return fn(&gormTx{db: tx, occ: &occ})
	})
}
