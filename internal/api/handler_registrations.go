package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"club-events-backend/internal/errs"
	"club-events-backend/internal/model"
	"club-events-backend/internal/parse"
	"club-events-backend/internal/registration"
)

type registerRequest struct {
	MemberID int64       `json:"memberId" binding:"required"`
	Spots    json.Number `json:"spots"`
	Comment  string      `json:"comment"`
}

// Register handles POST /api/occurrences/:id/registrations. The response
// status field tells whether the member got a spot or joined the waiting list.
func (h *Handler) Register(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	spots, err := parse.Spots(req.Spots.String())
	if err != nil {
		writeError(c, errs.Invalid("spots", "%v", err))
		return
	}

	reg, err := h.registrations.Register(c.Request.Context(), registration.Request{
		MemberID:     req.MemberID,
		OccurrenceID: id,
		Spots:        spots,
		Comment:      req.Comment,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reg)
}

// ListRegistrations handles GET /api/occurrences/:id/registrations, in arrival order.
func (h *Handler) ListRegistrations(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	regs, err := h.registrations.List(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, regs)
}

// CancelRegistration handles DELETE /api/registrations/:id. Members moved
// off the waiting list are notified.
func (h *Handler) CancelRegistration(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	promoted, err := h.registrations.Cancel(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	h.notifyPromoted(promoted...)
	if promoted == nil {
		promoted = []model.Registration{}
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": id, "promoted": promoted})
}

// Promote handles POST /api/occurrences/:id/promote. It promotes at most
// the head of the waiting list.
func (h *Handler) Promote(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	reg, err := h.registrations.Promote(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if reg != nil {
		h.notifyPromoted(*reg)
	}
	c.JSON(http.StatusOK, gin.H{"promoted": reg})
}

// CheckEligibility handles GET /api/occurrences/:id/eligibility?member_id=.
func (h *Handler) CheckEligibility(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	memberID, err := strconv.ParseInt(c.Query("member_id"), 10, 64)
	if err != nil || memberID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "member_id is required"})
		return
	}

	ctx := c.Request.Context()
	member, err := h.store.GetMember(ctx, memberID)
	if err != nil {
		writeError(c, err)
		return
	}
	occ, err := h.store.GetOccurrence(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	reasons, err := h.eligibility.Evaluate(ctx, member, occ)
	if err != nil {
		writeError(c, err)
		return
	}
	if reasons == nil {
		reasons = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"eligible": len(reasons) == 0, "reasons": reasons})
}
