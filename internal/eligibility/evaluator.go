// Package eligibility decides whether a member may register for an occurrence.
package eligibility

import (
	"context"
	"fmt"
	"time"

	"club-events-backend/internal/attr"
	"club-events-backend/internal/errs"
	"club-events-backend/internal/model"
)

// Evaluator checks an occurrence's fixed constraints and its dynamic
// conditions against a member.
type Evaluator struct {
	attrs                   attr.Store
	levels                  map[string]int
	certificateValidityDays int
	now                     func() time.Time
}

// NewEvaluator creates an Evaluator. levels is the diving level scale,
// lowest first; certificateValidityDays applies when an occurrence does
// not set its own validity window.
func NewEvaluator(attrs attr.Store, levels []string, certificateValidityDays int) *Evaluator {
	rank := make(map[string]int, len(levels))
	for i, l := range levels {
		rank[l] = i
	}
	return &Evaluator{
		attrs:                   attrs,
		levels:                  rank,
		certificateValidityDays: certificateValidityDays,
		now:                     time.Now,
	}
}

// WithClock replaces the evaluator's notion of now.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Evaluate returns every reason member may not register for occ; an empty
// list means eligible. All checks run, nothing short-circuits. A malformed
// condition yields a ValidationError.
func (e *Evaluator) Evaluate(ctx context.Context, member *model.Member, occ *model.Occurrence) ([]string, error) {
	now := e.now()
	var violations []string

	if occ.MinLevel != nil && *occ.MinLevel != "" {
		required, ok := e.levels[*occ.MinLevel]
		if !ok {
			return nil, errs.Invalid("min_level", "unknown level %q", *occ.MinLevel)
		}
		held, ok := e.levels[member.DivingLevel]
		if !ok || held < required {
			violations = append(violations, fmt.Sprintf("Minimum level %s is required", *occ.MinLevel))
		}
	}

	if occ.MinAge != nil || occ.MaxAge != nil {
		if member.BirthDate == nil {
			violations = append(violations, "A birth date is required to check the age limit")
		} else {
			age := ageAt(*member.BirthDate, now)
			if occ.MinAge != nil && age < *occ.MinAge {
				violations = append(violations, fmt.Sprintf("Minimum age is %d", *occ.MinAge))
			}
			if occ.MaxAge != nil && age > *occ.MaxAge {
				violations = append(violations, fmt.Sprintf("Maximum age is %d", *occ.MaxAge))
			}
		}
	}

	if occ.RequiresMedicalCertificate && !e.certificateValid(member, occ) {
		violations = append(violations, "A valid medical certificate is required")
	}

	if occ.RequiresSwimmingTest && !member.SwimmingTestPassed {
		violations = append(violations, "A swimming test is required")
	}

	subject := MemberSubject(member, now)
	for _, cond := range occ.Conditions {
		if !cond.Active {
			continue
		}
		ok, err := e.EvaluateCondition(ctx, cond, subject)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", cond.ID, err)
		}
		if !ok {
			violations = append(violations, conditionMessage(cond))
		}
	}

	return violations, nil
}

// certificateValid reports whether the certificate is still valid on the
// day the occurrence starts.
func (e *Evaluator) certificateValid(member *model.Member, occ *model.Occurrence) bool {
	if member.MedicalCertificateDate == nil {
		return false
	}
	days := e.certificateValidityDays
	if occ.MedicalCertificateValidityDays != nil {
		days = *occ.MedicalCertificateValidityDays
	}
	cert := *member.MedicalCertificateDate
	loc := cert.Location()
	cy, cm, cd := cert.Date()
	expires := time.Date(cy, cm, cd+days, 0, 0, 0, 0, loc)
	sy, sm, sd := occ.StartAt.In(loc).Date()
	return !expires.Before(time.Date(sy, sm, sd, 0, 0, 0, 0, loc))
}

// EvaluateCondition resolves the condition's attribute on subject and
// applies its operator. An unset attribute fails the condition.
func (e *Evaluator) EvaluateCondition(ctx context.Context, cond model.EligibilityCondition, subject Subject) (bool, error) {
	entityType := cond.EntityType
	if entityType == "" {
		entityType = model.EntityUser
	}
	if entityType != subject.EntityType {
		return false, errs.Invalid("entity_type", "condition targets %q, subject is %q", entityType, subject.EntityType)
	}
	if err := checkOperand(cond.Operator, cond.Value); err != nil {
		return false, err
	}

	value, ok := subject.Fields[cond.AttributeName]
	if !ok {
		var err error
		value, ok, err = e.attrs.Get(ctx, subject.EntityType, subject.EntityID, cond.AttributeName)
		if err != nil {
			return false, err
		}
	}
	if !ok {
		return false, nil
	}
	return apply(cond.Operator, value, cond.Value)
}

func conditionMessage(cond model.EligibilityCondition) string {
	if cond.ErrorMessage != "" {
		return cond.ErrorMessage
	}
	return fmt.Sprintf("Requirement not met: %s %s %s", cond.AttributeName, cond.Operator, cond.Value)
}
