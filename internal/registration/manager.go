// Package registration admits members to occurrences within capacity and
// runs the FIFO waiting list.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"club-events-backend/internal/errs"
	"club-events-backend/internal/keylock"
	"club-events-backend/internal/metrics"
	"club-events-backend/internal/model"
	"club-events-backend/internal/store"
)

// Evaluator lists the reasons a member may not register for an occurrence.
type Evaluator interface {
	Evaluate(ctx context.Context, member *model.Member, occ *model.Occurrence) ([]string, error)
}

// Manager is the per-occurrence registration state machine. Writes to one
// occurrence are serialized in-process by a lock on its id and, across
// processes, by the store's row lock and conditional capacity update.
type Manager struct {
	store              store.Store
	eligibility        Evaluator
	locks              *keylock.Set
	waitingListEnabled bool
	now                func() time.Time
	metrics            *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithoutWaitingList makes full occurrences reject registrations instead of queueing them.
func WithoutWaitingList() Option {
	return func(m *Manager) { m.waitingListEnabled = false }
}

// WithClock replaces the clock used for registration timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics records registration outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// NewManager creates a Manager.
func NewManager(s store.Store, eligibility Evaluator, opts ...Option) *Manager {
	m := &Manager{
		store:              s,
		eligibility:        eligibility,
		locks:              keylock.New(),
		waitingListEnabled: true,
		now:                func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Request is a registration attempt.
type Request struct {
	MemberID     int64
	OccurrenceID int64
	Spots        int
	Comment      string
}

// Register admits the member if there is room for the requested spots,
// queues the request on the waiting list otherwise, or fails with
// ErrCapacityExceeded when the occurrence has no waiting list.
func (m *Manager) Register(ctx context.Context, req Request) (*model.Registration, error) {
	if req.Spots < 1 {
		return nil, errs.Invalid("spots", "must be at least 1, got %d", req.Spots)
	}

	member, err := m.store.GetMember(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	occ, err := m.store.GetOccurrence(ctx, req.OccurrenceID)
	if err != nil {
		return nil, err
	}
	if occ.Status == model.OccurrenceCancelled {
		return nil, errs.Invalid("occurrence", "occurrence %d is cancelled", occ.ID)
	}

	violations, err := m.eligibility.Evaluate(ctx, member, occ)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		m.metrics.Rejected(metrics.ReasonNotEligible)
		return nil, &errs.EligibilityError{Reasons: violations}
	}

	unlock := m.locks.Lock(occ.ID)
	defer unlock()

	var reg *model.Registration
	err = m.store.InOccurrenceTx(ctx, occ.ID, func(tx store.Tx) error {
		existing, err := tx.ActiveRegistration(member.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return errs.ErrAlreadyRegistered
		}

		status := model.StatusRegistered
		reserved, err := tx.Reserve(req.Spots)
		if err != nil {
			return err
		}
		if !reserved {
			if !m.waitingListEnabled || tx.Occurrence().WaitingListDisabled {
				return errs.ErrCapacityExceeded
			}
			status = model.StatusWaitingList
		}

		reg = &model.Registration{
			OccurrenceID: occ.ID,
			MemberID:     member.ID,
			Status:       status,
			Spots:        req.Spots,
			RegisteredAt: m.now(),
			Comment:      req.Comment,
		}
		return tx.CreateRegistration(reg)
	})
	switch {
	case errors.Is(err, errs.ErrAlreadyRegistered):
		m.metrics.Rejected(metrics.ReasonAlreadyRegistered)
	case errors.Is(err, errs.ErrCapacityExceeded):
		m.metrics.Rejected(metrics.ReasonCapacityExceeded)
	}
	if err != nil {
		return nil, err
	}
	m.metrics.Registered(reg.Status)
	return reg, nil
}

// Cancel marks the registration cancelled. Spots it held are released and
// the waiting list is promoted for as long as its head fits; the promoted
// registrations are returned so the caller can notify their members.
func (m *Manager) Cancel(ctx context.Context, registrationID int64) ([]model.Registration, error) {
	current, err := m.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(current.OccurrenceID)
	defer unlock()

	var promoted []model.Registration
	err = m.store.InOccurrenceTx(ctx, current.OccurrenceID, func(tx store.Tx) error {
		reg, err := tx.GetRegistration(registrationID)
		if err != nil {
			return err
		}
		if reg.Status == model.StatusCancelled {
			return errs.Invalid("registration", "registration %d is already cancelled", reg.ID)
		}

		wasRegistered := reg.Status == model.StatusRegistered
		if err := tx.SetStatus(reg, model.StatusCancelled); err != nil {
			return err
		}
		if wasRegistered {
			if err := tx.Release(reg.Spots); err != nil {
				return err
			}
		}

		promoted, err = promoteAll(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.metrics.Cancelled()
	m.metrics.Promoted(len(promoted))
	return promoted, nil
}

// Promote moves the head of the waiting list to registered if its spots
// fit. It returns nil when the list is empty or the head does not fit;
// later, smaller entries on the list never overtake the head. A new
// Register call is not queued behind it and takes free spots directly.
func (m *Manager) Promote(ctx context.Context, occurrenceID int64) (*model.Registration, error) {
	unlock := m.locks.Lock(occurrenceID)
	defer unlock()

	var promoted *model.Registration
	err := m.store.InOccurrenceTx(ctx, occurrenceID, func(tx store.Tx) error {
		var err error
		promoted, err = promoteHead(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if promoted != nil {
		m.metrics.Promoted(1)
	}
	return promoted, nil
}

// promoteAll promotes heads of the waiting list until one does not fit.
func promoteAll(tx store.Tx) ([]model.Registration, error) {
	var promoted []model.Registration
	for {
		reg, err := promoteHead(tx)
		if err != nil {
			return nil, err
		}
		if reg == nil {
			return promoted, nil
		}
		promoted = append(promoted, *reg)
	}
}

func promoteHead(tx store.Tx) (*model.Registration, error) {
	head, err := tx.OldestWaiting()
	if err != nil || head == nil {
		return nil, err
	}

	reserved, err := tx.Reserve(head.Spots)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, nil
	}
	if err := tx.SetStatus(head, model.StatusRegistered); err != nil {
		return nil, err
	}
	log.Printf("Promoted registration %d (member %d) on occurrence %d", head.ID, head.MemberID, head.OccurrenceID)
	return head, nil
}

// List returns the occurrence's registrations in arrival order.
func (m *Manager) List(ctx context.Context, occurrenceID int64) ([]model.Registration, error) {
	if _, err := m.store.GetOccurrence(ctx, occurrenceID); err != nil {
		return nil, err
	}
	return m.store.ListRegistrations(ctx, occurrenceID)
}

// IsConflict reports whether err is a registration outcome the member can
// act on rather than a failure.
func IsConflict(err error) bool {
	return errors.Is(err, errs.ErrAlreadyRegistered) || errors.Is(err, errs.ErrCapacityExceeded)
}

// Summary describes an occurrence's capacity state.
type Summary struct {
	Capacity   *int `json:"capacity"`
	Registered int  `json:"registered"`
	Waiting    int  `json:"waiting"`
	Free       *int `json:"free"`
}

// Summarize counts registered and waiting spots for an occurrence.
func (m *Manager) Summarize(ctx context.Context, occurrenceID int64) (Summary, error) {
	occ, err := m.store.GetOccurrence(ctx, occurrenceID)
	if err != nil {
		return Summary{}, err
	}
	regs, err := m.store.ListRegistrations(ctx, occurrenceID)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize occurrence %d: %w", occurrenceID, err)
	}

	s := Summary{Capacity: occ.MaxParticipants, Registered: occ.CurrentParticipants}
	for _, r := range regs {
		if r.Status == model.StatusWaitingList {
			s.Waiting += r.Spots
		}
	}
	if occ.MaxParticipants != nil {
		free := *occ.MaxParticipants - occ.CurrentParticipants
		s.Free = &free
	}
	return s, nil
}
