package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"club-events-backend/config"
	"club-events-backend/internal/attr"
	"club-events-backend/internal/db"
	"club-events-backend/internal/eligibility"
	"club-events-backend/internal/feature"
	"club-events-backend/internal/model"
	"club-events-backend/internal/recurrence"
	"club-events-backend/internal/registration"
	"club-events-backend/internal/store"
)

type recordingNotifier struct {
	mu  sync.Mutex
	ids []int64
}

func (n *recordingNotifier) Dispatch(registrationID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, registrationID)
}

func (n *recordingNotifier) dispatched() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int64(nil), n.ids...)
}

type testServer struct {
	router   *gin.Engine
	store    store.Store
	toggles  *feature.Toggles
	notifier *recordingNotifier
}

func newTestServer(t *testing.T, webpushOptions *webpush.Options) *testServer {
	t.Helper()
	return newTestServerWithStore(t, webpushOptions, func(s store.Store) store.Store { return s })
}

func newTestServerWithStore(t *testing.T, webpushOptions *webpush.Options, wrap func(store.Store) store.Store) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gormDB, err := db.Init(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1, LogLevel: "silent"})
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	t.Cleanup(func() { sqlDB.Close() })

	s := wrap(store.NewGormStore(gormDB))
	evaluator := eligibility.NewEvaluator(attr.NewGormStore(gormDB), config.DefaultDivingLevels, 365)
	notifier := &recordingNotifier{}
	toggles := feature.NewToggles(map[string]bool{feature.Events: true})

	h := NewHandler(s, Services{
		Series:        recurrence.NewService(s, 0),
		Registrations: registration.NewManager(s, evaluator),
		Eligibility:   evaluator,
		Notifier:      notifier,
	}, webpushOptions)
	router := NewRouter(h, config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000}, toggles, prometheus.NewRegistry())

	return &testServer{router: router, store: s, toggles: toggles, notifier: notifier}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) member(t *testing.T, email, level string) int64 {
	t.Helper()
	m := &model.Member{Email: email, DivingLevel: level}
	require.NoError(t, ts.store.DB().Create(m).Error)
	return m.ID
}

func (ts *testServer) createOccurrence(t *testing.T, body map[string]any) int64 {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/occurrences", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Occurrence model.Occurrence `json:"occurrence"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Occurrence.ID
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func session(capacity int) map[string]any {
	return map[string]any{
		"title":           "Pool session",
		"startAt":         "2030-01-07T18:00:00Z",
		"endAt":           "2030-01-07T20:00:00Z",
		"maxParticipants": capacity,
	}
}

func TestCreateRecurringOccurrence(t *testing.T) {
	ts := newTestServer(t, nil)

	body := session(8)
	body["recurrence"] = map[string]any{"weekdays": "mon,wed", "endDate": "2030-01-21"}
	w := ts.do(t, http.MethodPost, "/api/occurrences", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[struct {
		Generated int `json:"generated"`
	}](t, w)
	assert.Equal(t, 3, created.Generated)

	w = ts.do(t, http.MethodGet, "/api/occurrences?from=2030-01-01&to=2030-02-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]OccurrenceResponse](t, w)
	require.Len(t, list, 4)
	assert.Equal(t, time.Date(2030, 1, 9, 18, 0, 0, 0, time.UTC), list[1].StartAt.UTC())
	assert.Equal(t, list[0].ID, *list[3].ParentEventID)

	w = ts.do(t, http.MethodGet, "/api/occurrences?from=2030-01-10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]OccurrenceResponse](t, w), 2)
}

// brokenSeriesStore fails every batch insert of generated occurrences.
type brokenSeriesStore struct {
	store.Store
}

func (brokenSeriesStore) CreateOccurrences(context.Context, []model.Occurrence) error {
	return errors.New("disk full")
}

func TestCreateRecurringOccurrenceRollsBackOnFailure(t *testing.T) {
	ts := newTestServerWithStore(t, nil, func(s store.Store) store.Store { return brokenSeriesStore{Store: s} })

	body := session(8)
	body["recurrence"] = map[string]any{"weekdays": "mon,wed", "endDate": "2030-01-21"}
	w := ts.do(t, http.MethodPost, "/api/occurrences", body)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var count int64
	require.NoError(t, ts.store.DB().Model(&model.Occurrence{}).Count(&count).Error)
	assert.Zero(t, count, "no template is left behind")
	require.NoError(t, ts.store.DB().Model(&model.RecurrenceSpec{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateOccurrenceValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	testCases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{name: "end before start", mutate: func(b map[string]any) { b["endAt"] = "2030-01-07T17:00:00Z" }},
		{name: "zero capacity", mutate: func(b map[string]any) { b["maxParticipants"] = 0 }},
		{name: "recurrence without end", mutate: func(b map[string]any) { b["recurrence"] = map[string]any{"weekdays": "1"} }},
		{name: "recurrence bad interval", mutate: func(b map[string]any) {
			b["recurrence"] = map[string]any{"interval": 0, "endDate": "2030-02-01"}
		}},
		{name: "recurrence bad weekday", mutate: func(b map[string]any) {
			b["recurrence"] = map[string]any{"weekdays": "funday", "endDate": "2030-02-01"}
		}},
		{name: "non-numeric ordering condition", mutate: func(b map[string]any) {
			b["conditions"] = []map[string]any{{"attributeName": "dives", "operator": ">=", "value": "many"}}
		}},
		{name: "missing title", mutate: func(b map[string]any) { delete(b, "title") }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			body := session(4)
			tc.mutate(body)
			w := ts.do(t, http.MethodPost, "/api/occurrences", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestRegistrationFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	occID := ts.createOccurrence(t, session(1))
	alice := ts.member(t, "alice@club.test", "N2")
	bob := ts.member(t, "bob@club.test", "N2")
	path := fmt.Sprintf("/api/occurrences/%d/registrations", occID)

	w := ts.do(t, http.MethodPost, path, map[string]any{"memberId": alice})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[model.Registration](t, w)
	assert.Equal(t, model.StatusRegistered, first.Status)
	assert.Equal(t, 1, first.Spots)

	w = ts.do(t, http.MethodPost, path, map[string]any{"memberId": alice})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already_registered")

	w = ts.do(t, http.MethodPost, path, map[string]any{"memberId": bob, "spots": 1, "comment": "bringing my own gear"})
	require.Equal(t, http.StatusCreated, w.Code)
	second := decode[model.Registration](t, w)
	assert.Equal(t, model.StatusWaitingList, second.Status)

	w = ts.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	regs := decode[[]model.Registration](t, w)
	require.Len(t, regs, 2)
	assert.Equal(t, first.ID, regs[0].ID)

	w = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/registrations/%d", first.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	cancelled := decode[struct {
		Promoted []model.Registration `json:"promoted"`
	}](t, w)
	require.Len(t, cancelled.Promoted, 1)
	assert.Equal(t, second.ID, cancelled.Promoted[0].ID)
	assert.Equal(t, []int64{second.ID}, ts.notifier.dispatched())

	w = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/registrations/%d", first.ID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/occurrences/%d", occID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[struct {
		Capacity registration.Summary `json:"capacity"`
	}](t, w)
	assert.Equal(t, 1, detail.Capacity.Registered)
	assert.Equal(t, 0, *detail.Capacity.Free)
}

func TestRegisterCapacityExceeded(t *testing.T) {
	ts := newTestServer(t, nil)
	body := session(1)
	body["waitingListDisabled"] = true
	occID := ts.createOccurrence(t, body)
	path := fmt.Sprintf("/api/occurrences/%d/registrations", occID)

	w := ts.do(t, http.MethodPost, path, map[string]any{"memberId": ts.member(t, "a@club.test", "N1"), "spots": 2})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "capacity_exceeded")

	w = ts.do(t, http.MethodPost, path, map[string]any{"memberId": ts.member(t, "b@club.test", "N1"), "spots": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPromoteEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	occID := ts.createOccurrence(t, session(2))

	w := ts.do(t, http.MethodPost, fmt.Sprintf("/api/occurrences/%d/promote", occID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"promoted":null}`, w.Body.String())
	assert.Empty(t, ts.notifier.dispatched())

	w = ts.do(t, http.MethodPost, "/api/occurrences/999/promote", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEligibilityEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	body := session(4)
	body["minLevel"] = "N3"
	body["conditions"] = []map[string]any{
		{"attributeName": "dives", "operator": ">=", "value": "20", "errorMessage": "At least 20 logged dives are required"},
	}
	occID := ts.createOccurrence(t, body)
	novice := ts.member(t, "novice@club.test", "N1")

	w := ts.do(t, http.MethodGet, fmt.Sprintf("/api/occurrences/%d/eligibility?member_id=%d", occID, novice), nil)
	require.Equal(t, http.StatusOK, w.Code)
	check := decode[struct {
		Eligible bool     `json:"eligible"`
		Reasons  []string `json:"reasons"`
	}](t, w)
	assert.False(t, check.Eligible)
	assert.Equal(t, []string{"Minimum level N3 is required", "At least 20 logged dives are required"}, check.Reasons)

	w = ts.do(t, http.MethodPost, fmt.Sprintf("/api/occurrences/%d/registrations", occID), map[string]any{"memberId": novice})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Minimum level N3 is required")

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/occurrences/%d/eligibility", occID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSeriesEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	body := session(8)
	body["recurrence"] = map[string]any{"weekdays": "1", "endDate": "2030-02-04"}
	templateID := ts.createOccurrence(t, body)

	series, err := ts.store.ListGenerated(t.Context(), templateID)
	require.NoError(t, err)
	require.Len(t, series, 3)

	w := ts.do(t, http.MethodDelete, fmt.Sprintf("/api/occurrences/%d/onward", templateID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/occurrences/%d/onward", series[1].ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":2}`, w.Body.String())

	w = ts.do(t, http.MethodPut, fmt.Sprintf("/api/occurrences/%d/recurrence", templateID),
		map[string]any{"weekdays": "1,3", "endDate": "2030-01-21"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/occurrences/%d/series", templateID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/occurrences/%d", templateID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestModuleToggle(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.toggles.Set(feature.Events, false)

	w := ts.do(t, http.MethodGet, "/api/occurrences", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/modules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"enabled":[]}`, w.Body.String())
}

func TestSubscriptions(t *testing.T) {
	ts := newTestServer(t, nil)
	memberID := ts.member(t, "push@club.test", "N1")

	w := ts.do(t, http.MethodPut, "/api/subscriptions", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())

	sub := map[string]any{"endpoint": "https://push.test/abc", "p256dh": "key", "auth": "secret", "member_id": memberID}
	w = ts.do(t, http.MethodPut, "/api/subscriptions", sub)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPut, "/api/subscriptions", sub)
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodGet, "/api/subscriptions?endpoint=https://push.test/abc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"member_id":%d}`, memberID), w.Body.String())

	w = ts.do(t, http.MethodDelete, "/api/subscriptions", map[string]any{"endpoint": "https://push.test/abc"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/subscriptions?endpoint=https://push.test/abc", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	sub["member_id"] = 999
	w = ts.do(t, http.MethodPut, "/api/subscriptions", sub)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVAPIDPublicKey(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/api/vapid_public_key", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ts = newTestServer(t, &webpush.Options{VAPIDPublicKey: "public"})
	w = ts.do(t, http.MethodGet, "/api/vapid_public_key", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"public"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
