package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/machine-logger/internal/logbook"
	"github.com/smartdevs17/machine-logger/internal/metrics"
	"github.com/smartdevs17/machine-logger/internal/models"
	"github.com/smartdevs17/machine-logger/internal/remote"
	"github.com/smartdevs17/machine-logger/pkg/utils"
)

// memoryStore is an in-memory remote.Store
type memoryStore struct {
	mu        sync.Mutex
	entries   []models.LogEntry
	listErr   error
	appendErr error
	pingErr   error
}

func (m *memoryStore) List(ctx context.Context) ([]models.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]models.LogEntry(nil), m.entries...), nil
}

func (m *memoryStore) Append(ctx context.Context, entry models.LogEntry) (*remote.Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return nil, m.appendErr
	}
	m.entries = append(m.entries, entry)
	return &remote.Ack{Verified: true}, nil
}

func (m *memoryStore) Ping(ctx context.Context) error { return m.pingErr }

func sampleEntries() []models.LogEntry {
	return []models.LogEntry{
		{SystemTimestamp: "1 Jan 2026, 08.00", MachineID: "M1", OperatorName: "Budi", CleaningDate: "2026-01-01"},
		{SystemTimestamp: "15 Feb 2026, 09.30", MachineID: "M1", OperatorName: "Andi", CleaningDate: "2026-02-15"},
		{SystemTimestamp: "1 Mar 2026, 10.00", MachineID: "M2", OperatorName: "Sari", CleaningDate: "2026-03-01"},
	}
}

func newTestServer(t *testing.T, store *memoryStore, cfg *ServerConfig) (*HTTPServer, *metrics.Manager) {
	t.Helper()

	if cfg == nil {
		cfg = &ServerConfig{EnableHealth: true, EnableMetrics: true}
	}
	manager := metrics.NewManager()
	service := logbook.NewService(logbook.Options{
		Remote:  store,
		Metrics: manager.GetPrometheusMetrics(),
	})

	srv, err := NewHTTPServer(cfg, service, store, nil, nil, manager)
	require.NoError(t, err)
	t.Cleanup(func() {
		if srv.submitLimiter != nil {
			srv.submitLimiter.Stop()
		}
	})
	return srv, manager
}

func doRequest(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "invalid JSON body: %s", rec.Body.String())
	}
	return rec, body
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func formRequest(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestNewHTTPServer_RequiresService(t *testing.T) {
	_, err := NewHTTPServer(&ServerConfig{}, nil, nil, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeConfiguration))
}

func TestListLogs(t *testing.T) {
	srv, _ := newTestServer(t, &memoryStore{entries: sampleEntries()}, nil)

	rec, body := doRequest(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/logs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.0, body["count"])
	assert.Equal(t, false, body["from_cache"])

	entries := body["entries"].([]interface{})
	require.Len(t, entries, 3)
	first := entries[0].(map[string]interface{})
	assert.Equal(t, "M2", first["machineId"])
	assert.Equal(t, "01/03/2026", first["cleaningDate"])
	assert.Equal(t, "31/03/2026", first["nextTargetDate"])

	second := entries[1].(map[string]interface{})
	assert.Equal(t, true, second["operatorLate"])
}

func TestListLogs_MachineFilter(t *testing.T) {
	srv, _ := newTestServer(t, &memoryStore{entries: sampleEntries()}, nil)

	rec, body := doRequest(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/logs?machine=m1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["count"])
	assert.Equal(t, "m1", body["machine"])
}

func TestListLogs_Unavailable(t *testing.T) {
	store := &memoryStore{listErr: utils.NewAppError(utils.ErrCodeRemote, "Remote request failed")}
	srv, _ := newTestServer(t, store, nil)

	rec, body := doRequest(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/logs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(utils.ErrCodeRemote), body["code"])

	notice := body["notice"].(map[string]interface{})
	assert.Equal(t, "error", notice["type"])
	assert.Equal(t, logbook.MsgLoadFailed, notice["text"])
}

func TestSubmitLog_JSON(t *testing.T) {
	store := &memoryStore{}
	srv, _ := newTestServer(t, store, nil)

	rec, body := doRequest(t, srv.Handler(),
		jsonRequest(http.MethodPost, "/api/v1/logs", `{"machine":"m7","operator":"Dewi","date":"2026-03-09"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	entry := body["entry"].(map[string]interface{})
	assert.Equal(t, "M7", entry["nomorMesin"])
	assert.Equal(t, "Dewi", entry["namaOperator"])
	assert.Equal(t, "2026-03-09", entry["tanggalCleaning"])

	notice := body["notice"].(map[string]interface{})
	assert.Equal(t, "data for machine M7 sent", notice["text"])

	require.Len(t, store.entries, 1)
	assert.Equal(t, "M7", store.entries[0].MachineID)
}

func TestSubmitLog_FormWithSheetColumnNames(t *testing.T) {
	store := &memoryStore{}
	srv, _ := newTestServer(t, store, nil)

	rec, _ := doRequest(t, srv.Handler(), formRequest("/api/v1/logs", url.Values{
		"nomorMesin":      {"M3"},
		"namaOperator":    {"Eko"},
		"tanggalCleaning": {"2026-03-02"},
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, store.entries, 1)
	assert.Equal(t, "Eko", store.entries[0].OperatorName)
	assert.Equal(t, "2026-03-02", store.entries[0].CleaningDate)
}

func TestSubmitLog_BadRequests(t *testing.T) {
	tests := map[string]*http.Request{
		"malformed json":   jsonRequest(http.MethodPost, "/api/v1/logs", `{"machine":`),
		"missing operator": jsonRequest(http.MethodPost, "/api/v1/logs", `{"machine":"M1"}`),
		"bad date":         formRequest("/api/v1/logs", url.Values{"machine": {"M1"}, "operator": {"Budi"}, "date": {"01/03/2026"}}),
	}

	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			store := &memoryStore{}
			srv, _ := newTestServer(t, store, nil)

			rec, body := doRequest(t, srv.Handler(), req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(utils.ErrCodeValidation), body["code"])
			assert.Empty(t, store.entries)
		})
	}
}

func TestSubmitLog_RemoteFailure(t *testing.T) {
	store := &memoryStore{appendErr: utils.NewAppError(utils.ErrCodeRemote, "Remote request failed")}
	srv, _ := newTestServer(t, store, nil)

	rec, body := doRequest(t, srv.Handler(),
		jsonRequest(http.MethodPost, "/api/v1/logs", `{"machine":"M1","operator":"Budi"}`))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	notice := body["notice"].(map[string]interface{})
	assert.Equal(t, logbook.MsgSendFailed, notice["text"])
}

func TestRefreshAndMachines(t *testing.T) {
	store := &memoryStore{entries: sampleEntries()}
	srv, _ := newTestServer(t, store, nil)
	h := srv.Handler()

	rec, body := doRequest(t, h, httptest.NewRequest(http.MethodPost, "/api/v1/logs/refresh", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.0, body["count"])
	assert.Equal(t, false, body["from_cache"])

	rec, body = doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/v1/machines", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["count"])

	machines := body["machines"].([]interface{})
	m1 := machines[0].(map[string]interface{})
	assert.Equal(t, "M1", m1["machineId"])
	assert.Equal(t, "Andi", m1["lastOperator"])
	assert.Equal(t, 2.0, m1["entries"])
}

func TestRefresh_Failure(t *testing.T) {
	store := &memoryStore{listErr: utils.NewAppError(utils.ErrCodeRemote, "Remote request failed")}
	srv, _ := newTestServer(t, store, nil)

	rec, _ := doRequest(t, srv.Handler(), httptest.NewRequest(http.MethodPost, "/api/v1/logs/refresh", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestNoticeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &memoryStore{}, nil)
	h := srv.Handler()

	rec, body := doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/v1/notice", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body["notice"])

	rec, _ = doRequest(t, h, jsonRequest(http.MethodPost, "/api/v1/logs", `{"machine":"M1","operator":"Budi"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	_, body = doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/v1/notice", nil))
	notice := body["notice"].(map[string]interface{})
	assert.Equal(t, "success", notice["type"])
}

func TestHealthEndpoints(t *testing.T) {
	store := &memoryStore{}
	srv, _ := newTestServer(t, store, nil)
	h := srv.Handler()

	rec, body := doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.0.0", body["version"])

	rec, body = doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/v1/health/detailed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	store.pingErr = utils.NewAppError(utils.ErrCodeRemote, "Remote request failed")
	_, body = doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/v1/health/detailed", nil))
	assert.Equal(t, "degraded", body["status"])
	components := body["components"].(map[string]interface{})
	assert.Equal(t, false, components["remote"].(map[string]interface{})["healthy"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &memoryStore{entries: sampleEntries()}, nil)
	h := srv.Handler()

	rec, _ := doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/v1/logs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	out, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(out), `machine_logger_http_requests_total{method="GET",path="/api/v1/logs",status="200"} 1`)
	assert.Contains(t, string(out), "machine_logger_entries_loaded 3")

	rec, body := doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "uptime_seconds")
}

func TestMetricsDisabled(t *testing.T) {
	srv, _ := newTestServer(t, &memoryStore{}, &ServerConfig{EnableHealth: true})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, &memoryStore{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/logs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestSubmitRateLimit(t *testing.T) {
	store := &memoryStore{}
	srv, _ := newTestServer(t, store, &ServerConfig{SubmitRate: 0.001, SubmitBurst: 1, TrustProxy: true})
	h := srv.Handler()

	submit := func(ip string) int {
		req := jsonRequest(http.MethodPost, "/api/v1/logs", `{"machine":"M1","operator":"Budi"}`)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusCreated, submit("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, submit("10.0.0.1"))
	assert.Equal(t, http.StatusCreated, submit("10.0.0.2"))
	assert.Len(t, store.entries, 2)

	// reads are not limited
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/logs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitRateLimit_IgnoresForwardedForByDefault(t *testing.T) {
	store := &memoryStore{}
	srv, _ := newTestServer(t, store, &ServerConfig{SubmitRate: 0.001, SubmitBurst: 1})
	h := srv.Handler()

	codes := make([]int, 0, 3)
	for _, forwarded := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		req := jsonRequest(http.MethodPost, "/api/v1/logs", `{"machine":"M1","operator":"Budi"}`)
		req.RemoteAddr = "192.0.2.4:5123"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusCreated, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
	assert.Len(t, store.entries, 1)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.4:5123"
	assert.Equal(t, "192.0.2.4", clientIP(req, false))
	assert.Equal(t, "192.0.2.4", clientIP(req, true))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "192.0.2.4", clientIP(req, false))
	assert.Equal(t, "203.0.113.9", clientIP(req, true))
}

func TestRateLimiter_RemoveOldClients(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Millisecond, false)
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	time.Sleep(5 * time.Millisecond)
	rl.removeOldClients()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.clients)
}
