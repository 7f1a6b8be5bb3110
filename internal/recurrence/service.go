package recurrence

import (
	"context"
	"fmt"
	"log"
	"time"

	"club-events-backend/internal/errs"
	"club-events-backend/internal/keylock"
	"club-events-backend/internal/metrics"
	"club-events-backend/internal/model"
	"club-events-backend/internal/store"
)

// Service materializes series into stored occurrences and runs the bulk
// series operations. Operations on one series are serialized.
type Service struct {
	store   store.Store
	limit   int
	locks   *keylock.Set
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewService creates a Service capping each expansion at limit occurrences.
func NewService(s store.Store, limit int) *Service {
	if limit <= 0 {
		limit = DefaultMaxOccurrences
	}
	return &Service{
		store: s,
		limit: limit,
		locks: keylock.New(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the service's notion of now.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithMetrics counts generated occurrences.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// RegenerateResult reports what a regeneration changed.
type RegenerateResult struct {
	Removed  int64              `json:"removed"`
	Retained int                `json:"retained"`
	Created  []model.Occurrence `json:"created"`
}

func (s *Service) loadTemplate(ctx context.Context, templateID int64) (*model.Occurrence, error) {
	template, err := s.store.GetOccurrence(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if template.IsGenerated() {
		return nil, errs.Invalid("occurrence", "occurrence %d belongs to series %d; edit the template instead", template.ID, *template.ParentEventID)
	}
	return template, nil
}

// Materialize creates the stored occurrences of the template's series.
// Slots that already exist in the series are skipped, so calling it again
// with an unchanged spec creates nothing.
func (s *Service) Materialize(ctx context.Context, templateID int64) ([]model.Occurrence, error) {
	unlock := s.locks.Lock(templateID)
	defer unlock()

	template, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.ListGenerated(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return s.materialize(ctx, template, existing, template.StartAt)
}

// materialize creates the slots strictly after `after` whose start is not taken by existing.
func (s *Service) materialize(ctx context.Context, template *model.Occurrence, existing []model.Occurrence, after time.Time) ([]model.Occurrence, error) {
	if template.Recurrence == nil {
		return nil, errs.Invalid("recurrence", "occurrence %d has no recurrence rule", template.ID)
	}

	candidates, err := Generate(*template, *template.Recurrence, s.limit)
	if err != nil {
		return nil, err
	}

	taken := make(map[int64]bool, len(existing))
	for _, occ := range existing {
		taken[occ.StartAt.Unix()] = true
	}

	var created []model.Occurrence
	for _, occ := range candidates {
		if !occ.StartAt.After(after) || taken[occ.StartAt.Unix()] {
			continue
		}
		created = append(created, occ)
	}

	if err := s.store.CreateOccurrences(ctx, created); err != nil {
		return nil, fmt.Errorf("failed to materialize series %d: %w", template.ID, err)
	}
	s.metrics.Generated(len(created))
	log.Printf("Series %d: created %d occurrences (%d already present)", template.ID, len(created), len(existing))
	return created, nil
}

// Regenerate rebuilds the series after its rule changed. Past occurrences
// and future occurrences holding active registrations are retained; every
// other generated occurrence is deleted and the series is materialized
// again from now on, skipping the retained slots.
func (s *Service) Regenerate(ctx context.Context, templateID int64) (RegenerateResult, error) {
	unlock := s.locks.Lock(templateID)
	defer unlock()

	var result RegenerateResult
	template, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		return result, err
	}

	generated, err := s.store.ListGenerated(ctx, templateID)
	if err != nil {
		return result, err
	}
	ids := make([]int64, len(generated))
	for i, occ := range generated {
		ids[i] = occ.ID
	}
	active, err := s.store.ActiveRegistrationCounts(ctx, ids)
	if err != nil {
		return result, err
	}

	now := s.now()
	var doomed []int64
	for _, occ := range generated {
		if occ.StartAt.After(now) && active[occ.ID] == 0 {
			doomed = append(doomed, occ.ID)
		}
	}

	// Registrations may land after the counts were read; the store re-checks.
	deleted, err := s.store.DeleteIdleOccurrences(ctx, doomed)
	if err != nil {
		return result, err
	}
	gone := make(map[int64]bool, len(deleted))
	for _, id := range deleted {
		gone[id] = true
	}
	var retained []model.Occurrence
	for _, occ := range generated {
		if !gone[occ.ID] {
			retained = append(retained, occ)
		}
	}
	result.Removed = int64(len(deleted))
	result.Retained = len(retained)

	if template.Recurrence == nil {
		return result, nil
	}

	after := template.StartAt
	if now.After(after) {
		after = now
	}
	if result.Created, err = s.materialize(ctx, template, retained, after); err != nil {
		return result, err
	}
	return result, nil
}

// SetRecurrence validates and stores a new rule for the template, then
// regenerates the series. A nil spec turns the series off: the rule and
// every occurrence without active registrations in the future go away.
func (s *Service) SetRecurrence(ctx context.Context, templateID int64, spec *model.RecurrenceSpec) (RegenerateResult, error) {
	template, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		return RegenerateResult{}, err
	}

	if spec == nil {
		if err := s.store.DeleteRecurrence(ctx, templateID); err != nil {
			return RegenerateResult{}, err
		}
		return s.Regenerate(ctx, templateID)
	}

	if spec.Frequency == "" {
		spec.Frequency = model.FrequencyWeekly
	}
	if _, err := ParseRule(*spec, template.StartAt); err != nil {
		return RegenerateResult{}, err
	}
	spec.OccurrenceID = templateID
	if err := s.store.SaveRecurrence(ctx, spec); err != nil {
		return RegenerateResult{}, err
	}
	return s.Regenerate(ctx, templateID)
}

// RemoveGenerated deletes every occurrence generated from the template,
// whatever their registrations, and returns how many were removed.
func (s *Service) RemoveGenerated(ctx context.Context, templateID int64) (int64, error) {
	unlock := s.locks.Lock(templateID)
	defer unlock()

	generated, err := s.store.ListGenerated(ctx, templateID)
	if err != nil {
		return 0, err
	}
	ids := make([]int64, len(generated))
	for i, occ := range generated {
		ids[i] = occ.ID
	}
	return s.store.DeleteOccurrences(ctx, ids)
}

// DeleteSeries removes the template and all its generated occurrences.
// Any member of the series identifies it.
func (s *Service) DeleteSeries(ctx context.Context, occurrenceID int64) (int64, error) {
	occ, err := s.store.GetOccurrence(ctx, occurrenceID)
	if err != nil {
		return 0, err
	}
	templateID := occ.SeriesID()

	unlock := s.locks.Lock(templateID)
	defer unlock()

	generated, err := s.store.ListGenerated(ctx, templateID)
	if err != nil {
		return 0, err
	}
	ids := []int64{templateID}
	for _, g := range generated {
		ids = append(ids, g.ID)
	}
	removed, err := s.store.DeleteOccurrences(ctx, ids)
	if err != nil {
		return 0, err
	}
	log.Printf("Series %d deleted: %d occurrences removed", templateID, removed)
	return removed, nil
}

// DeleteFrom removes a generated occurrence and every later one of its
// series. The template's end date is moved back to the removed
// occurrence's start so a later regeneration does not bring them back.
func (s *Service) DeleteFrom(ctx context.Context, occurrenceID int64) (int64, error) {
	occ, err := s.store.GetOccurrence(ctx, occurrenceID)
	if err != nil {
		return 0, err
	}
	if !occ.IsGenerated() {
		return 0, errs.Invalid("occurrence", "occurrence %d is a series template; delete the whole series instead", occ.ID)
	}
	templateID := *occ.ParentEventID

	unlock := s.locks.Lock(templateID)
	defer unlock()

	generated, err := s.store.ListGenerated(ctx, templateID)
	if err != nil {
		return 0, err
	}
	var ids []int64
	for _, g := range generated {
		if g.ID == occ.ID || g.StartAt.After(occ.StartAt) {
			ids = append(ids, g.ID)
		}
	}
	removed, err := s.store.DeleteOccurrences(ctx, ids)
	if err != nil {
		return 0, err
	}

	template, err := s.store.GetOccurrence(ctx, templateID)
	if err != nil {
		return removed, err
	}
	if spec := template.Recurrence; spec != nil && (spec.EndDate == nil || spec.EndDate.After(occ.StartAt)) {
		end := occ.StartAt
		spec.EndDate = &end
		if err := s.store.SaveRecurrence(ctx, spec); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
