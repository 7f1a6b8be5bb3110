package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"club-events-backend/config"
	"club-events-backend/internal/db"
	"club-events-backend/internal/errs"
	"club-events-backend/internal/model"
)

// newMockDB creates a postgres-dialect GORM handle backed by sqlmock.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: sqlDB,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

// newTestDB opens a migrated in-memory SQLite database.
func newTestDB(t *testing.T) *gorm.DB {
	gormDB, err := db.Init(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1, LogLevel: "silent"})
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	t.Cleanup(func() { sqlDB.Close() })
	return gormDB
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}

func TestGormTx_ReserveIsConditionalUpdate(t *testing.T) {
	testCases := []struct {
		name         string
		rowsAffected int64
		expectOK     bool
		expectCount  int
	}{
		{name: "Capacity available", rowsAffected: 1, expectOK: true, expectCount: 5},
		{name: "Capacity exhausted", rowsAffected: 0, expectOK: false, expectCount: 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gormDB, mock := newMockDB(t)
			tx := &gormTx{db: gormDB, occ: &model.Occurrence{ID: 7, CurrentParticipants: 3}}

			mock.ExpectBegin()
			mock.ExpectExec(regexp.QuoteMeta(`UPDATE "occurrences" SET "current_participants"=current_participants + $1`) +
				`.*WHERE id = \$\d+ AND .*max_participants IS NULL OR current_participants \+ \$\d+ <= max_participants`).
				WithArgs(Any{}, Any{}, Any{}, Any{}).
				WillReturnResult(sqlmock.NewResult(0, tc.rowsAffected))
			mock.ExpectCommit()

			ok, err := tx.Reserve(2)
			require.NoError(t, err)
			assert.Equal(t, tc.expectOK, ok)
			assert.Equal(t, tc.expectCount, tx.Occurrence().CurrentParticipants)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStore_InOccurrenceTxLocksRowOnPostgres(t *testing.T) {
	gormDB, mock := newMockDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "occurrences" WHERE "occurrences"."id" = \$1 .*FOR UPDATE`).
		WithArgs(11, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "current_participants"}).AddRow(11, 4))
	mock.ExpectCommit()

	var seen int
	err := store.InOccurrenceTx(context.Background(), 11, func(tx Tx) error {
		seen = tx.Occurrence().CurrentParticipants
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_InOccurrenceTxNotFound(t *testing.T) {
	store := NewGormStore(newTestDB(t))
	err := store.InOccurrenceTx(context.Background(), 404, func(tx Tx) error { return nil })
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func seedOccurrence(t *testing.T, s Store, occ model.Occurrence) model.Occurrence {
	t.Helper()
	if occ.Title == "" {
		occ.Title = "Pool session"
	}
	if occ.EndAt.IsZero() {
		occ.EndAt = occ.StartAt.Add(2 * time.Hour)
	}
	require.NoError(t, s.CreateOccurrence(context.Background(), &occ))
	return occ
}

func TestGormStore_OccurrenceLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(newTestDB(t))
	start := time.Date(2025, 1, 6, 19, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 14)

	template := seedOccurrence(t, s, model.Occurrence{
		StartAt:    start,
		Recurrence: &model.RecurrenceSpec{Frequency: model.FrequencyWeekly, Interval: 1, Weekdays: "1", EndDate: &end},
		Conditions: []model.EligibilityCondition{
			{AttributeName: "divingLevel", Operator: model.OpIn, Value: "N2,N3", Active: true},
		},
	})

	loaded, err := s.GetOccurrence(ctx, template.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Recurrence)
	assert.Equal(t, "1", loaded.Recurrence.Weekdays)
	require.Len(t, loaded.Conditions, 1)
	assert.Equal(t, model.EntityUser, loaded.Conditions[0].EntityType)
	assert.Equal(t, model.OccurrenceActive, loaded.Status)

	parent := template.ID
	generated := []model.Occurrence{
		{ParentEventID: &parent, Title: "Pool session", StartAt: start.AddDate(0, 0, 14), EndAt: start.AddDate(0, 0, 14).Add(time.Hour),
			Conditions: []model.EligibilityCondition{{AttributeName: "divingLevel", Operator: model.OpIn, Value: "N2,N3", Active: true}}},
		{ParentEventID: &parent, Title: "Pool session", StartAt: start.AddDate(0, 0, 7), EndAt: start.AddDate(0, 0, 7).Add(time.Hour)},
	}
	require.NoError(t, s.CreateOccurrences(ctx, generated))
	assert.NotZero(t, generated[0].ID)

	series, err := s.ListGenerated(ctx, template.ID)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.True(t, series[0].StartAt.Before(series[1].StartAt), "series is ordered by start")

	all, err := s.ListOccurrences(ctx, start.AddDate(0, 0, 1), time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DB().Create(&model.Registration{OccurrenceID: generated[0].ID, MemberID: 1, Status: model.StatusRegistered, Spots: 1, RegisteredAt: start}).Error)
	require.NoError(t, s.DB().Create(&model.Registration{OccurrenceID: generated[0].ID, MemberID: 2, Status: model.StatusCancelled, Spots: 1, RegisteredAt: start}).Error)

	counts, err := s.ActiveRegistrationCounts(ctx, []int64{generated[0].ID, generated[1].ID})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{generated[0].ID: 1}, counts)

	removed, err := s.DeleteOccurrences(ctx, []int64{template.ID, generated[0].ID, generated[1].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	var leftovers int64
	s.DB().Model(&model.Registration{}).Count(&leftovers)
	assert.Zero(t, leftovers, "registrations are removed with their occurrence")
	s.DB().Model(&model.EligibilityCondition{}).Count(&leftovers)
	assert.Zero(t, leftovers)
	s.DB().Model(&model.RecurrenceSpec{}).Count(&leftovers)
	assert.Zero(t, leftovers)

	_, err = s.GetOccurrence(ctx, template.ID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestGormStore_DeleteIdleOccurrences(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(newTestDB(t))
	start := time.Date(2025, 1, 6, 19, 0, 0, 0, time.UTC)

	registered := seedOccurrence(t, s, model.Occurrence{StartAt: start})
	waiting := seedOccurrence(t, s, model.Occurrence{StartAt: start.AddDate(0, 0, 7)})
	cancelled := seedOccurrence(t, s, model.Occurrence{StartAt: start.AddDate(0, 0, 14),
		Conditions: []model.EligibilityCondition{{AttributeName: "divingLevel", Operator: model.OpEqual, Value: "N2", Active: true}}})
	empty := seedOccurrence(t, s, model.Occurrence{StartAt: start.AddDate(0, 0, 21)})

	for occID, status := range map[int64]string{
		registered.ID: model.StatusRegistered,
		waiting.ID:    model.StatusWaitingList,
		cancelled.ID:  model.StatusCancelled,
	} {
		require.NoError(t, s.DB().Create(&model.Registration{OccurrenceID: occID, MemberID: 1, Status: status, Spots: 1, RegisteredAt: start}).Error)
	}

	deleted, err := s.DeleteIdleOccurrences(ctx, []int64{registered.ID, waiting.ID, cancelled.ID, empty.ID})
	require.NoError(t, err)
	assert.Equal(t, []int64{cancelled.ID, empty.ID}, deleted)

	for _, id := range []int64{registered.ID, waiting.ID} {
		_, err := s.GetOccurrence(ctx, id)
		assert.NoError(t, err, "occurrence %d holds an active registration", id)
	}
	_, err = s.GetOccurrence(ctx, cancelled.ID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	var leftovers int64
	s.DB().Model(&model.EligibilityCondition{}).Count(&leftovers)
	assert.Zero(t, leftovers)
	s.DB().Model(&model.Registration{}).Count(&leftovers)
	assert.Equal(t, int64(2), leftovers)

	deleted, err = s.DeleteIdleOccurrences(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestGormStore_SaveRecurrenceReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(newTestDB(t))
	occ := seedOccurrence(t, s, model.Occurrence{StartAt: time.Date(2025, 1, 6, 19, 0, 0, 0, time.UTC)})

	end := occ.StartAt.AddDate(0, 1, 0)
	require.NoError(t, s.SaveRecurrence(ctx, &model.RecurrenceSpec{OccurrenceID: occ.ID, Frequency: model.FrequencyWeekly, Interval: 1, Weekdays: "1", EndDate: &end}))
	require.NoError(t, s.SaveRecurrence(ctx, &model.RecurrenceSpec{OccurrenceID: occ.ID, Frequency: model.FrequencyWeekly, Interval: 2, Weekdays: "1,3", EndDate: &end}))

	loaded, err := s.GetOccurrence(ctx, occ.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Recurrence)
	assert.Equal(t, 2, loaded.Recurrence.Interval)
	assert.Equal(t, "1,3", loaded.Recurrence.Weekdays)

	require.NoError(t, s.DeleteRecurrence(ctx, occ.ID))
	loaded, err = s.GetOccurrence(ctx, occ.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.Recurrence)
}

func TestGormTx_RegistrationOperations(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(newTestDB(t))
	occ := seedOccurrence(t, s, model.Occurrence{StartAt: time.Now().Add(time.Hour), MaxParticipants: intPtr(3)})
	t0 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	err := s.InOccurrenceTx(ctx, occ.ID, func(tx Tx) error {
		ok, err := tx.Reserve(2)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.Reserve(2)
		require.NoError(t, err)
		assert.False(t, ok, "2 + 2 exceeds capacity 3")

		require.NoError(t, tx.CreateRegistration(&model.Registration{OccurrenceID: occ.ID, MemberID: 1, Status: model.StatusRegistered, Spots: 2, RegisteredAt: t0}))
		require.NoError(t, tx.CreateRegistration(&model.Registration{OccurrenceID: occ.ID, MemberID: 3, Status: model.StatusWaitingList, Spots: 2, RegisteredAt: t0.Add(2 * time.Minute)}))
		require.NoError(t, tx.CreateRegistration(&model.Registration{OccurrenceID: occ.ID, MemberID: 2, Status: model.StatusWaitingList, Spots: 2, RegisteredAt: t0.Add(time.Minute)}))

		active, err := tx.ActiveRegistration(1)
		require.NoError(t, err)
		require.NotNil(t, active)

		none, err := tx.ActiveRegistration(99)
		require.NoError(t, err)
		assert.Nil(t, none)

		head, err := tx.OldestWaiting()
		require.NoError(t, err)
		require.NotNil(t, head)
		assert.Equal(t, int64(2), head.MemberID)

		require.NoError(t, tx.SetStatus(active, model.StatusCancelled))
		require.NoError(t, tx.Release(2))
		assert.Error(t, tx.Release(1), "counter cannot go negative")

		assert.Error(t, tx.CreateRegistration(&model.Registration{OccurrenceID: occ.ID + 1, MemberID: 5}))
		return nil
	})
	require.NoError(t, err)

	loaded, err := s.GetOccurrence(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.CurrentParticipants)

	regs, err := s.ListRegistrations(ctx, occ.ID)
	require.NoError(t, err)
	require.Len(t, regs, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{regs[0].MemberID, regs[1].MemberID, regs[2].MemberID})
	assert.Equal(t, model.StatusCancelled, regs[0].Status)
}

func TestGormStore_GetMember(t *testing.T) {
	s := NewGormStore(newTestDB(t))
	require.NoError(t, s.DB().Create(&model.Member{ID: 5, Email: "ana@example.org", DivingLevel: "N2"}).Error)

	m, err := s.GetMember(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "N2", m.DivingLevel)

	_, err = s.GetMember(context.Background(), 6)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func intPtr(v int) *int { return &v }
