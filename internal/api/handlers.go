package api

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/metal-toolbox/pms/internal/batch"
	"github.com/metal-toolbox/pms/internal/metrics"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/metal-toolbox/pms/internal/store"
	"github.com/metal-toolbox/pms/internal/version"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

type detailResponse struct {
	Detail string `json:"detail"`
}

// UploadResponse is the body of a processed upload.
type UploadResponse struct {
	Message string              `json:"message"`
	BatchID uuid.UUID           `json:"batch_id"`
	Stats   model.Stats         `json:"stats"`
	Entries []model.EntryResult `json:"entries"`
}

// AssetResponse is an asset with its tag exposed as the identity.
type AssetResponse struct {
	ID string `json:"id"`
	model.Asset
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, detailResponse{Detail: detail})
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	writeDetail(w, http.StatusInternalServerError, "Internal Server Error")
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if _, err := s.registry.Repository().Revision(r.Context()); err != nil {
		s.logger.WithError(err).Warn("health check store query failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.Current())
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if !s.uploadMu.TryLock() {
		metrics.UploadBytes.With(map[string]string{"response": "busy"}).Add(float64(max(r.ContentLength, 0)))
		writeDetail(w, http.StatusConflict, "An upload is already being processed")

		return
	}
	defer s.uploadMu.Unlock()

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "File size exceeds maximum limit")
			return
		}

		writeDetail(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())

		return
	}

	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "A file field is required")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".zip") {
		writeDetail(w, http.StatusBadRequest, "Only ZIP files are allowed")
		return
	}

	opts := append([]batch.Option{}, s.batchOpts...)
	if worker := strings.TrimSpace(r.FormValue("worker")); worker != "" {
		opts = append(opts, batch.WithWorker(worker))
	}

	coordinator := batch.New(s.registry, s.logger, opts...)

	le := s.logger.WithFields(logrus.Fields{
		"batchID":  coordinator.BatchID().String(),
		"filename": header.Filename,
		"size":     header.Size,
	})

	le.Info("upload received")

	report, err := coordinator.Run(r.Context(), file, header.Size)
	if err != nil {
		metrics.UploadBytes.With(map[string]string{"response": "rejected"}).Add(float64(header.Size))
		le.WithError(err).Warn("upload rejected")
		writeDetail(w, http.StatusBadRequest, err.Error())

		return
	}

	metrics.UploadBytes.With(map[string]string{"response": "processed"}).Add(float64(header.Size))

	writeJSON(w, http.StatusOK, UploadResponse{
		Message: "Upload processed successfully",
		BatchID: report.BatchID,
		Stats:   report.Stats,
		Entries: report.Entries,
	})
}

func (s *Server) assets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.registry.Assets(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	resp := make([]AssetResponse, 0, len(assets))
	for _, a := range assets {
		resp = append(resp, AssetResponse{ID: a.Tag, Asset: *a})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) asset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.registry.Asset(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrAssetNotFound) {
			writeDetail(w, http.StatusNotFound, "Asset not found")
			return
		}

		s.serverError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, AssetResponse{ID: asset.Tag, Asset: *asset})
}

// requireAsset returns the asset_id query parameter, writing the response when it is missing or unknown.
func (s *Server) requireAsset(w http.ResponseWriter, r *http.Request) (string, bool) {
	tag := strings.TrimSpace(r.URL.Query().Get("asset_id"))
	if tag == "" {
		writeDetail(w, http.StatusBadRequest, "asset_id is required")
		return "", false
	}

	exists, err := s.registry.Exists(r.Context(), tag)
	if err != nil {
		s.serverError(w, r, err)
		return "", false
	}

	if !exists {
		writeDetail(w, http.StatusNotFound, "Asset not found")
		return "", false
	}

	return tag, true
}

func parseDate(value string, endOfDay bool) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, err
	}

	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}

	return t, nil
}

func (s *Server) maintenanceLogs(w http.ResponseWriter, r *http.Request) {
	tag, ok := s.requireAsset(w, r)
	if !ok {
		return
	}

	from, err := parseDate(r.URL.Query().Get("start_date"), false)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "start_date must be a YYYY-MM-DD date")
		return
	}

	to, err := parseDate(r.URL.Query().Get("end_date"), true)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "end_date must be a YYYY-MM-DD date")
		return
	}

	records, err := s.registry.History.ByAsset(r.Context(), tag, from, to)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	if records == nil {
		records = []*model.MaintenanceRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	tag, ok := s.requireAsset(w, r)
	if !ok {
		return
	}

	filter := store.EventFilter{}

	if v := r.URL.Query().Get("max_level"); v != "" {
		level, err := strconv.Atoi(v)
		if err != nil || level < 1 {
			writeDetail(w, http.StatusBadRequest, "max_level must be a positive integer")
			return
		}

		filter.MaxLevel = level
	}

	events, err := s.registry.Events.ByAsset(r.Context(), tag, filter)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	if events == nil {
		events = []*model.EventLogRecord{}
	}

	writeJSON(w, http.StatusOK, events)
}

func (s *Server) eventSummary(w http.ResponseWriter, r *http.Request) {
	tag, ok := s.requireAsset(w, r)
	if !ok {
		return
	}

	summary, err := s.registry.Events.Summary(r.Context(), tag)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) dashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Stats(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
