package eligibility

import (
	"time"

	"club-events-backend/internal/attr"
	"club-events-backend/internal/model"
)

// Static member fields conditions can reference without touching the attribute store.
const (
	FieldDivingLevel            = "divingLevel"
	FieldAge                    = "age"
	FieldBirthDate              = "birthDate"
	FieldMedicalCertificateDate = "medicalCertificateDate"
	FieldSwimmingTest           = "swimmingTest"
	FieldEmail                  = "email"
	FieldDisplayName            = "displayName"
)

// Subject is the entity a condition is evaluated against: its static
// fields, with the attribute store as fallback for everything else.
type Subject struct {
	EntityType string
	EntityID   int64
	Fields     map[string]attr.Value
}

// MemberSubject exposes a member's profile fields as typed values. Age is
// computed as of now.
func MemberSubject(m *model.Member, now time.Time) Subject {
	fields := map[string]attr.Value{
		FieldSwimmingTest: attr.Bool(m.SwimmingTestPassed),
		FieldEmail:        attr.String(m.Email),
		FieldDisplayName:  attr.String(m.DisplayName),
	}
	if m.DivingLevel != "" {
		fields[FieldDivingLevel] = attr.String(m.DivingLevel)
	}
	if m.BirthDate != nil {
		fields[FieldBirthDate] = attr.Date(*m.BirthDate)
		fields[FieldAge] = attr.Number(float64(ageAt(*m.BirthDate, now)))
	}
	if m.MedicalCertificateDate != nil {
		fields[FieldMedicalCertificateDate] = attr.Date(*m.MedicalCertificateDate)
	}
	return Subject{EntityType: model.EntityUser, EntityID: m.ID, Fields: fields}
}

// ageAt returns completed years between birth and now.
func ageAt(birth, now time.Time) int {
	years := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		years--
	}
	return years
}
