package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", domain.ErrInvalidInput), http.StatusBadRequest},
		{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrVersionConflict, http.StatusConflict},
		{domain.ErrCycleInFlight, http.StatusConflict},
		{domain.ErrCycleStuck, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestWriteDomainErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	writeDomainError(rec, req, quiet(), "failed to list", errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.Contains(t, rec.Body.String(), "failed to list")
}

type stubTrigger struct {
	calls chan struct{}
}

func (s *stubTrigger) TriggerNow(context.Context) (domain.SettlementReport, error) {
	s.calls <- struct{}{}
	return domain.SettlementReport{}, nil
}

type stubStatus struct{ since time.Time }

func (s stubStatus) RunningSince() time.Time { return s.since }

type stubRuns struct {
	limit int
	runs  []domain.SettlementReport
}

func (s *stubRuns) Record(context.Context, domain.SettlementReport) error { return nil }

func (s *stubRuns) ListRecent(_ context.Context, limit int) ([]domain.SettlementReport, error) {
	s.limit = limit
	return s.runs, nil
}

func TestTriggerConflictWhileRunning(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trig := &stubTrigger{calls: make(chan struct{}, 1)}
	h := NewSettlementHandler(trig, stubStatus{since: since}, &stubRuns{}, quiet())

	rec := httptest.NewRecorder()
	h.Trigger(rec, httptest.NewRequest(http.MethodPost, "/api/settlement/trigger", nil))

	require.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2026-03-01T12:00:00Z", body["running_since"])
	assert.Empty(t, trig.calls)
}

func TestTriggerRunsInBackground(t *testing.T) {
	trig := &stubTrigger{calls: make(chan struct{}, 1)}
	h := NewSettlementHandler(trig, stubStatus{}, &stubRuns{}, quiet())

	rec := httptest.NewRecorder()
	h.Trigger(rec, httptest.NewRequest(http.MethodPost, "/api/settlement/trigger", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-trig.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle was not triggered")
	}
}

func TestTriggerUnavailableWithoutScheduler(t *testing.T) {
	h := NewSettlementHandler(nil, nil, &stubRuns{}, quiet())
	rec := httptest.NewRecorder()
	h.Trigger(rec, httptest.NewRequest(http.MethodPost, "/api/settlement/trigger", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListRunsLimit(t *testing.T) {
	runs := &stubRuns{}
	h := NewSettlementHandler(nil, nil, runs, quiet())

	rec := httptest.NewRecorder()
	h.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/api/settlement/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, runs.limit)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/api/settlement/runs?limit=5000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 200, runs.limit)
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	body := `{"amount": 1, "risk_level": "` + strings.Repeat("x", 2<<20) + `"}`
	rec := httptest.NewRecorder()
	NewProjectionHandler(0, quiet()).Project(rec, httptest.NewRequest(http.MethodPost, "/api/projections", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
