package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"club-events-backend/internal/errs"
	"club-events-backend/internal/model"
)

// Tx is the set of operations available while an occurrence is held by
// InOccurrenceTx. Every call runs inside the same database transaction.
type Tx interface {
	// Occurrence is the held occurrence; its participant counter follows Reserve and Release.
	Occurrence() *model.Occurrence

	GetRegistration(id int64) (*model.Registration, error)
	// ActiveRegistration returns the member's registered or waiting-list row, or nil.
	ActiveRegistration(memberID int64) (*model.Registration, error)
	// OldestWaiting returns the first waiting-list registration in FIFO order, or nil.
	OldestWaiting() (*model.Registration, error)

	// Reserve adds spots to the participant counter only if the result
	// stays within capacity. It reports whether the spots were taken.
	Reserve(spots int) (bool, error)
	Release(spots int) error

	CreateRegistration(reg *model.Registration) error
	SetStatus(reg *model.Registration, status string) error
}

type gormTx struct {
	db  *gorm.DB
	occ *model.Occurrence
}

func (t *gormTx) Occurrence() *model.Occurrence {
	return t.occ
}

func (t *gormTx) GetRegistration(id int64) (*model.Registration, error) {
	var reg model.Registration
	err := t.db.Where("occurrence_id = ?", t.occ.ID).First(&reg, id).Error
	if err != nil {
		return nil, notFound(err, "registration", id)
	}
	return &reg, nil
}

func (t *gormTx) ActiveRegistration(memberID int64) (*model.Registration, error) {
	var reg model.Registration
	err := t.db.
		Where("occurrence_id = ? AND member_id = ? AND status IN ?", t.occ.ID, memberID,
			[]string{model.StatusRegistered, model.StatusWaitingList}).
		First(&reg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up registration of member %d: %w", memberID, err)
	}
	return &reg, nil
}

func (t *gormTx) OldestWaiting() (*model.Registration, error) {
	var reg model.Registration
	err := t.db.
		Where("occurrence_id = ? AND status = ?", t.occ.ID, model.StatusWaitingList).
		Order("registered_at, id").
		First(&reg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read waiting list of occurrence %d: %w", t.occ.ID, err)
	}
	return &reg, nil
}

// Reserve is a single conditional UPDATE, so the capacity check and the
// increment cannot interleave with another writer.
func (t *gormTx) Reserve(spots int) (bool, error) {
	res := t.db.Model(&model.Occurrence{}).
		Where("id = ?", t.occ.ID).
		Where("max_participants IS NULL OR current_participants + ? <= max_participants", spots).
		Update("current_participants", gorm.Expr("current_participants + ?", spots))
	if res.Error != nil {
		return false, fmt.Errorf("failed to reserve %d spots on occurrence %d: %w", spots, t.occ.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	t.occ.CurrentParticipants += spots
	return true, nil
}

func (t *gormTx) Release(spots int) error {
	res := t.db.Model(&model.Occurrence{}).
		Where("id = ? AND current_participants >= ?", t.occ.ID, spots).
		Update("current_participants", gorm.Expr("current_participants - ?", spots))
	if res.Error != nil {
		return fmt.Errorf("failed to release %d spots on occurrence %d: %w", spots, t.occ.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("occurrence %d holds fewer than %d participants", t.occ.ID, spots)
	}
	t.occ.CurrentParticipants -= spots
	return nil
}

func (t *gormTx) CreateRegistration(reg *model.Registration) error {
	if reg.OccurrenceID != t.occ.ID {
		return errs.Invalid("occurrence_id", "registration belongs to occurrence %d, not %d", reg.OccurrenceID, t.occ.ID)
	}
	if err := t.db.Create(reg).Error; err != nil {
		return fmt.Errorf("failed to create registration: %w", err)
	}
	return nil
}

func (t *gormTx) SetStatus(reg *model.Registration, status string) error {
	if err := t.db.Model(reg).Update("status", status).Error; err != nil {
		return fmt.Errorf("failed to set registration %d to %s: %w", reg.ID, status, err)
	}
	reg.Status = status
	return nil
}
