package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduler-post-bot/internal/metrics"
)

type fixedLen int

func (f fixedLen) Len() int { return int(f) }

type fixedDialogues int

func (f fixedDialogues) ActiveDialogues() int { return int(f) }

type fakeJournal struct{ err error }

func (f fakeJournal) Ping(context.Context) error { return f.err }

func serve(t *testing.T, deps Deps, path string) *httptest.ResponseRecorder {
	t.Helper()
	logger, _ := test.NewNullLogger()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	NewRouter(deps, logger).ServeHTTP(rec, req)
	return rec
}

func TestKeepAlive(t *testing.T) {
	rec := serve(t, Deps{}, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bot is running!", rec.Body.String())
}

func TestHealthz(t *testing.T) {
	rec := serve(t, Deps{Scheduled: fixedLen(3), Dialogues: fixedDialogues(1), Journal: fakeJournal{}}, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["journal"])
	assert.EqualValues(t, 3, body["scheduled_pending"])
	assert.EqualValues(t, 1, body["dialogues_active"])
}

func TestHealthz_JournalDown(t *testing.T) {
	rec := serve(t, Deps{Journal: fakeJournal{err: errors.New("database is locked")}}, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObserveDelivery("custom", "delivered")

	rec := serve(t, Deps{Gatherer: reg}, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `schedulerpost_deliveries_total{content_type="custom",outcome="delivered"} 1`)
}
