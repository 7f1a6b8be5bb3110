package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"club-events-backend/config"
	"club-events-backend/internal/feature"
	"club-events-backend/internal/metrics"
	"club-events-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
// A non-nil gatherer is served at /metrics.
func NewRouter(h *Handler, cfg config.ServerConfig, toggles *feature.Toggles, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.Default()
	r.Use(mw.RequestID())
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(gatherer)))
	}

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, mw.ClientKey(cfg.RequestIPHeader))

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		events := api.Group("", feature.Require(toggles, feature.Events), mw.Invalidate(cacheStore))
		events.GET("/occurrences", caching, h.ListOccurrences)
		events.POST("/occurrences", h.CreateOccurrence)
		events.GET("/occurrences/:id", h.GetOccurrence)
		events.PUT("/occurrences/:id/recurrence", h.PutRecurrence)
		events.DELETE("/occurrences/:id/recurrence", h.DeleteRecurrence)
		events.DELETE("/occurrences/:id/series", h.DeleteSeries)
		events.DELETE("/occurrences/:id/onward", h.DeleteOnward)
		events.GET("/occurrences/:id/eligibility", h.CheckEligibility)
		events.GET("/occurrences/:id/registrations", h.ListRegistrations)
		events.POST("/occurrences/:id/registrations", h.Register)
		events.POST("/occurrences/:id/promote", h.Promote)
		events.DELETE("/registrations/:id", h.CancelRegistration)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
		api.GET("/modules", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"enabled": toggles.Snapshot()})
		})
	}

	return r
}

// DefaultCacheTTL applies when the server config carries none.
const DefaultCacheTTL = 30 * time.Second
