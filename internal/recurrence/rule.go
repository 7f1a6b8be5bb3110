// Package recurrence expands recurring occurrences into concrete dated
// occurrences and manages the generated series.
package recurrence

import (
	"time"

	"club-events-backend/internal/errs"
	"club-events-backend/internal/model"
	"club-events-backend/internal/parse"
)

// DefaultMaxOccurrences caps a single expansion regardless of the end date.
const DefaultMaxOccurrences = 500

// Rule is a validated, parsed RecurrenceSpec.
type Rule struct {
	Interval int
	// Weekdays is sorted ascending; empty means the template's weekday.
	Weekdays []time.Weekday
	// EndDate is an exclusive bound.
	EndDate time.Time
}

// Slot is one dated instance of the series.
type Slot struct {
	Start time.Time
	End   time.Time
}

// ParseRule validates spec against the template start and parses it.
func ParseRule(spec model.RecurrenceSpec, start time.Time) (Rule, error) {
	if spec.Frequency != "" && spec.Frequency != model.FrequencyWeekly {
		return Rule{}, errs.Invalid("frequency", "unsupported frequency %q", spec.Frequency)
	}
	if spec.Interval < 1 {
		return Rule{}, errs.Invalid("interval", "must be a positive integer, got %d", spec.Interval)
	}
	if spec.EndDate == nil || spec.EndDate.IsZero() {
		return Rule{}, errs.Invalid("end_date", "is required")
	}
	if !spec.EndDate.After(start) {
		return Rule{}, errs.Invalid("end_date", "must be after the start date %s", start.Format(parse.DateLayout))
	}
	days, err := parse.Weekdays(spec.Weekdays)
	if err != nil {
		return Rule{}, errs.Invalid("weekdays", "%v", err)
	}
	return Rule{Interval: spec.Interval, Weekdays: days, EndDate: *spec.EndDate}, nil
}

// Expand lists the series anchored at the template's [start, end) in
// chronological order, the anchor slot included. Weeks run Sunday to
// Saturday; every interval-th week starting with the anchor's week yields
// one slot per selected weekday that falls on or after start and before
// the end date. Wall-clock time and duration are kept. At most limit
// slots are returned.
func Expand(start, end time.Time, rule Rule, limit int) []Slot {
	if limit <= 0 {
		limit = DefaultMaxOccurrences
	}
	days := rule.Weekdays
	if len(days) == 0 {
		days = []time.Weekday{start.Weekday()}
	}
	interval := rule.Interval
	if interval < 1 {
		interval = 1
	}

	duration := end.Sub(start)
	loc := start.Location()
	y, m, d := start.Date()
	hour, minute, sec := start.Clock()
	weekStart := time.Date(y, m, d-int(start.Weekday()), 0, 0, 0, 0, loc)

	// A step longer than the whole series only ever yields the first week.
	step := interval
	if weeks := int(rule.EndDate.Sub(weekStart)/(7*24*time.Hour)) + 1; step > weeks {
		step = weeks
	}

	var slots []Slot
	for ; weekStart.Before(rule.EndDate); weekStart = weekStart.AddDate(0, 0, 7*step) {
		wy, wm, wd := weekStart.Date()
		for _, weekday := range days {
			candidate := time.Date(wy, wm, wd+int(weekday), hour, minute, sec, start.Nanosecond(), loc)
			if candidate.Before(start) {
				continue
			}
			if !candidate.Before(rule.EndDate) {
				return slots
			}
			slots = append(slots, Slot{Start: candidate, End: candidate.Add(duration)})
			if len(slots) >= limit {
				return slots
			}
		}
	}
	return slots
}

// Generate builds the occurrences of template's series that fall strictly
// after the template itself. Capacity, eligibility fields and active
// conditions are copied; the copies are not linked to later template edits.
func Generate(template model.Occurrence, spec model.RecurrenceSpec, limit int) ([]model.Occurrence, error) {
	rule, err := ParseRule(spec, template.StartAt)
	if err != nil {
		return nil, err
	}

	var out []model.Occurrence
	for _, slot := range Expand(template.StartAt, template.EndAt, rule, limit) {
		if !slot.Start.After(template.StartAt) {
			continue
		}
		out = append(out, copyOccurrence(template, slot))
	}
	return out, nil
}

func copyOccurrence(template model.Occurrence, slot Slot) model.Occurrence {
	parent := template.ID
	occ := model.Occurrence{
		ParentEventID:                  &parent,
		Title:                          template.Title,
		Description:                    template.Description,
		Location:                       template.Location,
		StartAt:                        slot.Start,
		EndAt:                          slot.End,
		MaxParticipants:                copyPtr(template.MaxParticipants),
		WaitingListDisabled:            template.WaitingListDisabled,
		MinLevel:                       copyPtr(template.MinLevel),
		MinAge:                         copyPtr(template.MinAge),
		MaxAge:                         copyPtr(template.MaxAge),
		RequiresMedicalCertificate:     template.RequiresMedicalCertificate,
		MedicalCertificateValidityDays: copyPtr(template.MedicalCertificateValidityDays),
		RequiresSwimmingTest:           template.RequiresSwimmingTest,
		Status:                         model.OccurrenceActive,
	}
	for _, c := range template.Conditions {
		if !c.Active {
			continue
		}
		occ.Conditions = append(occ.Conditions, model.EligibilityCondition{
			EntityType:    c.EntityType,
			AttributeName: c.AttributeName,
			Operator:      c.Operator,
			Value:         c.Value,
			ErrorMessage:  c.ErrorMessage,
			Active:        true,
		})
	}
	return occ
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
