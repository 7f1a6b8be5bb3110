package api

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"club-events-backend/internal/eligibility"
	"club-events-backend/internal/errs"
	"club-events-backend/internal/model"
	"club-events-backend/internal/mw"
	"club-events-backend/internal/parse"
	"club-events-backend/internal/recurrence"
)

// OccurrenceResponse is an occurrence with its live registration count.
type OccurrenceResponse struct {
	model.Occurrence
	ActiveRegistrations int64 `json:"activeRegistrations"`
}

// ListOccurrences handles GET /api/occurrences?from=&to=. Both bounds are
// optional; to is exclusive.
func (h *Handler) ListOccurrences(c *gin.Context) {
	var from, to time.Time
	var err error
	if raw := c.Query("from"); raw != "" {
		if from, err = parse.Date(raw, time.UTC); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from: " + err.Error()})
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = parse.Date(raw, time.UTC); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to: " + err.Error()})
			return
		}
	}

	occs, err := h.store.ListOccurrences(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, err)
		return
	}

	ids := make([]int64, len(occs))
	for i, occ := range occs {
		ids[i] = occ.ID
	}
	counts, err := h.store.ActiveRegistrationCounts(c.Request.Context(), ids)
	if err != nil {
		writeError(c, err)
		return
	}

	responses := make([]OccurrenceResponse, 0, len(occs))
	for _, occ := range occs {
		responses = append(responses, OccurrenceResponse{Occurrence: occ, ActiveRegistrations: counts[occ.ID]})
	}
	c.JSON(http.StatusOK, responses)
}

// GetOccurrence handles GET /api/occurrences/:id.
func (h *Handler) GetOccurrence(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	occ, err := h.store.GetOccurrence(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	summary, err := h.registrations.Summarize(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"occurrence": occ, "capacity": summary})
}

type recurrenceRequest struct {
	Frequency string `json:"frequency"`
	Interval  *int   `json:"interval"`
	// Weekdays accepts numbers 0..6 (0 = Sunday) or day names, comma separated.
	Weekdays string `json:"weekdays"`
	EndDate  string `json:"endDate"`
}

// spec converts the request into a RecurrenceSpec; dates are read in the
// template's time zone.
func (r recurrenceRequest) spec(loc *time.Location) (*model.RecurrenceSpec, error) {
	spec := &model.RecurrenceSpec{Frequency: r.Frequency, Interval: 1}
	if r.Interval != nil {
		spec.Interval = *r.Interval
	}
	days, err := parse.Weekdays(r.Weekdays)
	if err != nil {
		return nil, errs.Invalid("weekdays", "%v", err)
	}
	spec.Weekdays = parse.FormatWeekdays(days)
	if strings.TrimSpace(r.EndDate) == "" {
		return nil, errs.Invalid("endDate", "is required")
	}
	end, err := parse.Date(r.EndDate, loc)
	if err != nil {
		return nil, errs.Invalid("endDate", "%v", err)
	}
	spec.EndDate = &end
	return spec, nil
}

type conditionRequest struct {
	EntityType    string `json:"entityType"`
	AttributeName string `json:"attributeName"`
	Operator      string `json:"operator"`
	Value         string `json:"value"`
	ErrorMessage  string `json:"errorMessage"`
	Active        *bool  `json:"active"`
}

type createOccurrenceRequest struct {
	Title                          string             `json:"title" binding:"required"`
	Description                    string             `json:"description"`
	Location                       string             `json:"location"`
	StartAt                        time.Time          `json:"startAt"`
	EndAt                          time.Time          `json:"endAt"`
	MaxParticipants                *int               `json:"maxParticipants"`
	WaitingListDisabled            bool               `json:"waitingListDisabled"`
	MinLevel                       *string            `json:"minLevel"`
	MinAge                         *int               `json:"minAge"`
	MaxAge                         *int               `json:"maxAge"`
	RequiresMedicalCertificate     bool               `json:"requiresMedicalCertificate"`
	MedicalCertificateValidityDays *int               `json:"medicalCertificateValidityDays"`
	RequiresSwimmingTest           bool               `json:"requiresSwimmingTest"`
	Recurrence                     *recurrenceRequest `json:"recurrence"`
	Conditions                     []conditionRequest `json:"conditions"`
}

func (r createOccurrenceRequest) occurrence() (*model.Occurrence, error) {
	if r.StartAt.IsZero() || r.EndAt.IsZero() {
		return nil, errs.Invalid("startAt", "start and end are required")
	}
	if !r.EndAt.After(r.StartAt) {
		return nil, errs.Invalid("endAt", "must be after startAt")
	}
	if r.MaxParticipants != nil && *r.MaxParticipants < 1 {
		return nil, errs.Invalid("maxParticipants", "must be at least 1")
	}
	if r.MinAge != nil && r.MaxAge != nil && *r.MinAge > *r.MaxAge {
		return nil, errs.Invalid("minAge", "is above maxAge")
	}

	occ := &model.Occurrence{
		Title:                          r.Title,
		Description:                    r.Description,
		Location:                       r.Location,
		StartAt:                        r.StartAt,
		EndAt:                          r.EndAt,
		MaxParticipants:                r.MaxParticipants,
		WaitingListDisabled:            r.WaitingListDisabled,
		MinLevel:                       r.MinLevel,
		MinAge:                         r.MinAge,
		MaxAge:                         r.MaxAge,
		RequiresMedicalCertificate:     r.RequiresMedicalCertificate,
		MedicalCertificateValidityDays: r.MedicalCertificateValidityDays,
		RequiresSwimmingTest:           r.RequiresSwimmingTest,
	}

	for _, cr := range r.Conditions {
		cond := model.EligibilityCondition{
			EntityType:    cr.EntityType,
			AttributeName: cr.AttributeName,
			Operator:      cr.Operator,
			Value:         cr.Value,
			ErrorMessage:  cr.ErrorMessage,
			Active:        cr.Active == nil || *cr.Active,
		}
		if cond.EntityType == "" {
			cond.EntityType = model.EntityUser
		}
		if err := eligibility.ValidateCondition(cond); err != nil {
			return nil, err
		}
		occ.Conditions = append(occ.Conditions, cond)
	}

	if r.Recurrence != nil {
		spec, err := r.Recurrence.spec(r.StartAt.Location())
		if err != nil {
			return nil, err
		}
		if spec.Frequency == "" {
			spec.Frequency = model.FrequencyWeekly
		}
		if _, err := recurrence.ParseRule(*spec, r.StartAt); err != nil {
			return nil, err
		}
		occ.Recurrence = spec
	}
	return occ, nil
}

// CreateOccurrence handles POST /api/occurrences. A recurrence turns the
// new occurrence into a series template and materializes the series.
func (h *Handler) CreateOccurrence(c *gin.Context) {
	var req createOccurrenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	occ, err := req.occurrence()
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.store.CreateOccurrence(ctx, occ); err != nil {
		writeError(c, err)
		return
	}

	var generated []model.Occurrence
	if occ.Recurrence != nil {
		if generated, err = h.series.Materialize(ctx, occ.ID); err != nil {
			if _, rerr := h.series.DeleteSeries(context.WithoutCancel(ctx), occ.ID); rerr != nil {
				log.Printf("[%s] Error rolling back occurrence %d: %v", mw.GetRequestID(c), occ.ID, rerr)
			}
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusCreated, gin.H{"occurrence": occ, "generated": len(generated)})
}

// PutRecurrence handles PUT /api/occurrences/:id/recurrence: store the
// new rule and regenerate the series.
func (h *Handler) PutRecurrence(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req recurrenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	template, err := h.store.GetOccurrence(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	spec, err := req.spec(template.StartAt.Location())
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := h.series.SetRecurrence(c.Request.Context(), id, spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeleteRecurrence handles DELETE /api/occurrences/:id/recurrence: the
// occurrence stops repeating.
func (h *Handler) DeleteRecurrence(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := h.series.SetRecurrence(c.Request.Context(), id, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeleteSeries handles DELETE /api/occurrences/:id/series.
func (h *Handler) DeleteSeries(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	removed, err := h.series.DeleteSeries(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// DeleteOnward handles DELETE /api/occurrences/:id/onward.
func (h *Handler) DeleteOnward(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	removed, err := h.series.DeleteFrom(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
