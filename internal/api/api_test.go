package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/metal-toolbox/pms/internal/aggregate"
	"github.com/metal-toolbox/pms/internal/fixtures"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/metal-toolbox/pms/internal/registry"
	"github.com/metal-toolbox/pms/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 12, 10, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	logger := logrus.New()
	reg := registry.New(store.NewMemStore(), logger)
	stats := aggregate.New(reg, logger, aggregate.WithClock(func() time.Time { return testNow }))

	return New(reg, stats, logger, opts...)
}

func uploadRequest(t *testing.T, path, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}

	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)

		_, err = fw.Write(data)
		require.NoError(t, err)
	}

	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	return rec
}

func get(t *testing.T, s *Server, path string, v any) int {
	t.Helper()

	rec := serve(s, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	if v != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
	}

	return rec.Code
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	resp := detailResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())

	return resp.Detail
}

func scenarioWithEvents() []byte {
	return fixtures.MustArchive(
		fixtures.Member{Name: "assets/a1.csv", Body: fixtures.AssetsCSV(fixtures.AssetRow{Tag: "A1", Name: "EWS1", Status: "Operational"})},
		fixtures.Member{Name: "maintenance/a2.csv", Body: fixtures.MaintenanceCSV(fixtures.MaintenanceRow{Tag: "A2", CheckDate: "2025-12-09", CheckType: "disk", Result: "Pass"})},
		fixtures.Member{Name: "assets/a2.json", Body: fixtures.AssetJSON(fixtures.AssetRow{Tag: "A2", Name: "OPS1", Status: "운영", IPAddress: "10.0.0.2"})},
		fixtures.Member{Name: "assets/a3.csv", Body: fixtures.AssetsCSV(fixtures.AssetRow{Tag: "A3", Name: "HIS1", Status: "Maintenance", Location: "Unit 1"})},
		fixtures.Member{Name: "events/a1.csv", Body: fixtures.EventsCSV(
			fixtures.EventRow{Tag: "A1", EventID: 41, Level: 1, Timestamp: "2025-12-10T09:00:00Z", Message: "Kernel-Power"},
			fixtures.EventRow{Tag: "A1", EventID: 7000, Level: 2, Timestamp: "2025-12-10T09:05:00Z"},
		)},
		fixtures.Member{Name: "docs/manual.pdf", Body: []byte("%PDF-1.4 not a record")},
	)
}

func TestUploadAndQuery(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, uploadRequest(t, "/api/upload/", "batch.zip", scenarioWithEvents(), map[string]string{"worker": "park"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	upload := UploadResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &upload))

	assert.Equal(t, "Upload processed successfully", upload.Message)
	assert.NotEmpty(t, upload.BatchID)
	assert.Equal(t, model.Stats{TotalFiles: 6, Processed: 5, Errors: 1}, upload.Stats)
	assert.Len(t, upload.Entries, 6)

	assets := []AssetResponse{}
	assert.Equal(t, http.StatusOK, get(t, s, "/api/assets/", &assets))
	require.Len(t, assets, 3)
	assert.Equal(t, "A1", assets[0].ID)

	assert.Equal(t, http.StatusOK, get(t, s, "/api/assets/?search=10.0.0", &assets))
	require.Len(t, assets, 1)
	assert.Equal(t, "A2", assets[0].ID)

	assert.Equal(t, http.StatusOK, get(t, s, "/api/assets/?search=unit%201", &assets))
	require.Len(t, assets, 1)
	assert.Equal(t, "A3", assets[0].ID)

	asset := AssetResponse{}
	assert.Equal(t, http.StatusOK, get(t, s, "/api/assets/A2", &asset))
	assert.Equal(t, "A2", asset.ID)
	assert.Equal(t, "OPS1", asset.Name)
	assert.Equal(t, model.AssetStatusOperational, asset.Status)

	logs := []model.MaintenanceRecord{}
	assert.Equal(t, http.StatusOK, get(t, s, "/api/maintenance/logs?asset_id=A2", &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "park", logs[0].Worker)
	assert.Equal(t, model.ResultPass, logs[0].ResultStatus)

	assert.Equal(t, http.StatusOK, get(t, s, "/api/maintenance/logs?asset_id=A2&start_date=2025-12-09&end_date=2025-12-09", &logs))
	assert.Len(t, logs, 1)

	assert.Equal(t, http.StatusOK, get(t, s, "/api/maintenance/logs?asset_id=A2&start_date=2025-12-10", &logs))
	assert.Empty(t, logs)

	events := []model.EventLogRecord{}
	assert.Equal(t, http.StatusOK, get(t, s, "/api/events?asset_id=A1", &events))
	assert.Len(t, events, 2)

	assert.Equal(t, http.StatusOK, get(t, s, "/api/events?asset_id=A1&max_level=1", &events))
	require.Len(t, events, 1)
	assert.Equal(t, 41, events[0].EventID)

	summary := model.EventSummary{}
	assert.Equal(t, http.StatusOK, get(t, s, "/api/events/summary?asset_id=A1", &summary))
	assert.Equal(t, 2, summary.Total)

	stats := aggregate.Stats{}
	assert.Equal(t, http.StatusOK, get(t, s, "/api/dashboard/stats", &stats))
	assert.Equal(t, aggregate.Stats{
		TotalAssets:       3,
		OperationalAssets: 2,
		RecentLogs:        2,
		WarningAssets:     []model.AssetSummary{{ID: "A1", Name: "EWS1"}},
	}, stats)
}

func TestUploadRejected(t *testing.T) {
	s := newTestServer(t, WithMaxUploadBytes(1<<20))

	cases := []struct {
		name   string
		req    *http.Request
		status int
		detail string
	}{
		{
			"not a zip file name",
			uploadRequest(t, "/api/upload/", "batch.tar", fixtures.ScenarioArchive(), nil),
			http.StatusBadRequest,
			"Only ZIP files are allowed",
		},
		{
			"file field missing",
			uploadRequest(t, "/api/upload/", "", nil, map[string]string{"worker": "kim"}),
			http.StatusBadRequest,
			"A file field is required",
		},
		{
			"corrupt archive",
			uploadRequest(t, "/api/upload/", "batch.zip", []byte("PK not an archive"), nil),
			http.StatusBadRequest,
			"archive corrupt",
		},
		{
			"body over the limit",
			uploadRequest(t, "/api/upload/", "batch.zip", bytes.Repeat([]byte("x"), 2<<20), nil),
			http.StatusRequestEntityTooLarge,
			"File size exceeds maximum limit",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(s, tc.req)

			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, detail(t, rec), tc.detail)
		})
	}

	assets := []AssetResponse{}
	assert.Equal(t, http.StatusOK, get(t, s, "/api/assets/", &assets))
	assert.Empty(t, assets)
}

func TestUploadBusy(t *testing.T) {
	s := newTestServer(t)

	s.uploadMu.Lock()

	rec := serve(s, uploadRequest(t, "/api/upload/", "batch.zip", fixtures.ScenarioArchive(), nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotEmpty(t, detail(t, rec))

	s.uploadMu.Unlock()

	rec = serve(s, uploadRequest(t, "/api/upload/", "batch.zip", fixtures.ScenarioArchive(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotFoundAndBadRequests(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		path   string
		status int
	}{
		{"/api/assets/A9", http.StatusNotFound},
		{"/api/maintenance/logs", http.StatusBadRequest},
		{"/api/maintenance/logs?asset_id=A9", http.StatusNotFound},
		{"/api/events/summary?asset_id=A9", http.StatusNotFound},
		{"/api/nope", http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			rec := serve(s, httptest.NewRequest(http.MethodGet, tc.path, http.NoBody))

			assert.Equal(t, tc.status, rec.Code)
			assert.NotEmpty(t, detail(t, rec))
		})
	}

	rec := serve(s, uploadRequest(t, "/api/upload/", "batch.zip", fixtures.ScenarioArchive(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	for _, path := range []string{
		"/api/maintenance/logs?asset_id=A2&start_date=12/09/2025",
		"/api/events?asset_id=A2&max_level=high",
	} {
		rec := serve(s, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestPrefix(t *testing.T) {
	s := newTestServer(t, WithPrefix("/v1/"))

	stats := aggregate.Stats{}
	assert.Equal(t, http.StatusOK, get(t, s, "/v1/dashboard/stats", &stats))
	assert.Equal(t, 0, stats.TotalAssets)
	assert.Empty(t, stats.WarningAssets)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/dashboard/stats", nil))
}

func TestHealthVersionMetrics(t *testing.T) {
	s := newTestServer(t)

	health := map[string]string{}
	assert.Equal(t, http.StatusOK, get(t, s, "/health", &health))
	assert.Equal(t, "healthy", health["status"])

	v := map[string]any{}
	assert.Equal(t, http.StatusOK, get(t, s, "/version", &v))
	assert.Contains(t, v, "go_version")

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
