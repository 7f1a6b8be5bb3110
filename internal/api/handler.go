package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"club-events-backend/internal/errs"
	"club-events-backend/internal/model"
	"club-events-backend/internal/mw"
	"club-events-backend/internal/recurrence"
	"club-events-backend/internal/registration"
	"club-events-backend/internal/store"
)

// Notifier queues push notifications for promoted registrations.
type Notifier interface {
	Dispatch(registrationID int64)
}

// Services are the domain collaborators the handlers call into.
type Services struct {
	Series        *recurrence.Service
	Registrations *registration.Manager
	Eligibility   registration.Evaluator
	Notifier      Notifier
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store         store.Store
	series        *recurrence.Service
	registrations *registration.Manager
	eligibility   registration.Evaluator
	notifier      Notifier
	webpush       *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, services Services, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:         s,
		series:        services.Series,
		registrations: services.Registrations,
		eligibility:   services.Eligibility,
		notifier:      services.Notifier,
		webpush:       webpushOptions,
	}
}

func (h *Handler) notifyPromoted(regs ...model.Registration) {
	if h.notifier == nil {
		return
	}
	for _, reg := range regs {
		h.notifier.Dispatch(reg.ID)
	}
}

// pathID reads a positive integer path parameter, answering 400 otherwise.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// writeError maps domain errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	var notEligible *errs.EligibilityError
	switch {
	case errors.As(err, &notEligible):
		c.JSON(http.StatusForbidden, gin.H{"error": "not eligible", "reasons": notEligible.Reasons})
	case errs.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrAlreadyRegistered):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "already_registered"})
	case errors.Is(err, errs.ErrCapacityExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "capacity_exceeded"})
	default:
		log.Printf("[%s] Error handling %s %s: %v", mw.GetRequestID(c), c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
