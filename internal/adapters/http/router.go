package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/equity-lens/internal/config"
	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/core/ports"
	"github.com/kirillkom/equity-lens/internal/observability/metrics"
)

const (
	serviceName       = "api"
	backpressureWait  = 250 * time.Millisecond
	multipartOverhead = 1 << 20
	maxJSONBodyBytes  = 1 << 20
	defaultHeartbeat  = 15 * time.Second
)

// Services bundles the inbound ports the API serves.
type Services struct {
	Projects   ports.ProjectService
	Files      ports.FileReader
	Uploads    ports.FileUploader
	Insights   ports.InsightCurator
	EquityRisk ports.EquityRiskAnalyzer
	Events     ports.EventSubscriber
}

type Router struct {
	cfg       config.Config
	services  Services
	metrics   *metrics.HTTPServerMetrics
	logger    *slog.Logger
	heartbeat time.Duration
}

func NewRouter(cfg config.Config, services Services, httpMetrics *metrics.HTTPServerMetrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:       cfg,
		services:  services,
		metrics:   httpMetrics,
		logger:    logger,
		heartbeat: defaultHeartbeat,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	mux.HandleFunc("POST /v1/projects", rt.createProject)
	mux.HandleFunc("GET /v1/projects", rt.listProjects)
	mux.HandleFunc("GET /v1/projects/{projectID}", rt.getProject)
	mux.HandleFunc("POST /v1/projects/{projectID}/files", rt.uploadFile)
	mux.HandleFunc("GET /v1/projects/{projectID}/files", rt.listFiles)
	mux.HandleFunc("GET /v1/projects/{projectID}/files/{fileID}", rt.getFile)
	mux.HandleFunc("GET /v1/projects/{projectID}/insights", rt.listInsights)
	mux.HandleFunc("POST /v1/projects/{projectID}/insights/{insightID}/review", rt.reviewInsight)
	mux.HandleFunc("GET /v1/projects/{projectID}/equity-risk/context", rt.equityRiskContext)
	mux.HandleFunc("POST /v1/projects/{projectID}/equity-risk", rt.analyzeEquityRisk)
	mux.HandleFunc("GET /v1/projects/{projectID}/events", rt.streamEvents)

	var handler http.Handler = mux
	if validator, err := newRequestValidator(); err != nil {
		rt.logger.Error("openapi_validator_disabled", "error", err)
	} else {
		handler = validator.middleware(handler)
	}
	handler = authMiddleware(handler)
	handler = backpressureMiddlewareWithHook(handler, rt.cfg.APIMaxInFlight, backpressureWait, rt.rejectHook("backpressure"))
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.rejectHook("rate_limit"))
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) rejectHook(reason string) func() {
	if rt.metrics == nil {
		return nil
	}
	return func() { rt.metrics.RecordRejected(serviceName, reason) }
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createProjectRequest struct {
	Name string `json:"name"`
}

func (rt *Router) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	project, err := rt.services.Projects.CreateProject(r.Context(), userIDFromContext(r.Context()), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (rt *Router) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := rt.services.Projects.ListProjects(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (rt *Router) getProject(w http.ResponseWriter, r *http.Request) {
	project, ok := rt.ownedProject(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// ownedProject loads the path project and hides projects of other owners.
func (rt *Router) ownedProject(w http.ResponseWriter, r *http.Request) (*domain.Project, bool) {
	projectID := r.PathValue("projectID")
	project, err := rt.services.Projects.GetProject(r.Context(), projectID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if project.OwnerID != userIDFromContext(r.Context()) {
		writeError(w, r, domain.WrapError(domain.ErrProjectNotFound, "get project", fmt.Errorf("id=%s", projectID)))
		return nil, false
	}
	return project, true
}

func (rt *Router) uploadFile(w http.ResponseWriter, r *http.Request) {
	project, ok := rt.ownedProject(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes()+multipartOverhead)
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "upload file", errors.New("multipart body is required")))
		return
	}
	for {
		part, err := reader.NextPart()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, r, err)
				return
			}
			writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "upload file", errors.New("multipart field 'file' is required")))
			return
		}
		if part.FormName() != "file" || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		file, err := rt.services.Uploads.Upload(r.Context(), ports.UploadRequest{
			ProjectID: project.ID,
			OwnerID:   userIDFromContext(r.Context()),
			Filename:  part.FileName(),
			MimeType:  partContentType(part.Header.Get("Content-Type")),
			Body:      newCappedReader(part, rt.maxUploadBytes()),
		})
		_ = part.Close()
		if err != nil {
			writeError(w, r, err)
			return
		}
		if rt.metrics != nil {
			rt.metrics.RecordUpload(serviceName, string(file.Kind))
		}
		writeJSON(w, http.StatusAccepted, file)
		return
	}
}

func (rt *Router) maxUploadBytes() int64 {
	if rt.cfg.MaxUploadBytes > 0 {
		return rt.cfg.MaxUploadBytes
	}
	return 25 << 20
}

// cappedReader fails with *http.MaxBytesError once more than the cap is read.
type cappedReader struct {
	r         io.Reader
	remaining int64
	limit     int64
}

func newCappedReader(r io.Reader, limit int64) *cappedReader {
	return &cappedReader{r: r, remaining: limit, limit: limit}
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, &http.MaxBytesError{Limit: c.limit}
	}
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, &http.MaxBytesError{Limit: c.limit}
	}
	return n, err
}

func partContentType(raw string) string {
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return raw
	}
	return mediaType
}

func (rt *Router) listFiles(w http.ResponseWriter, r *http.Request) {
	project, ok := rt.ownedProject(w, r)
	if !ok {
		return
	}
	filter := domain.FileFilter{}
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind, err := domain.ParseFileKind(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.Kind = kind
	}
	files, err := rt.services.Files.ListFiles(r.Context(), project.ID, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (rt *Router) getFile(w http.ResponseWriter, r *http.Request) {
	project, ok := rt.ownedProject(w, r)
	if !ok {
		return
	}
	file, err := rt.services.Files.GetFile(r.Context(), project.ID, r.PathValue("fileID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (rt *Router) listInsights(w http.ResponseWriter, r *http.Request) {
	project, ok := rt.ownedProject(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	filter := domain.InsightFilter{FileID: strings.TrimSpace(query.Get("file_id"))}
	if raw := query.Get("status"); raw != "" {
		status, err := domain.ParseReviewStatus(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.Status = status
	}
	insights, err := rt.services.Insights.ListInsights(r.Context(), project.ID, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": insights})
}

type reviewRequest struct {
	Status string `json:"status"`
}

func (rt *Router) reviewInsight(w http.ResponseWriter, r *http.Request) {
	project, ok := rt.ownedProject(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status, err := domain.ParseReviewStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	insight, err := rt.services.Insights.SetReviewStatus(r.Context(), ports.ReviewRequest{
		ProjectID:  project.ID,
		InsightID:  r.PathValue("insightID"),
		Status:     status,
		ReviewerID: userIDFromContext(r.Context()),
	})
	if rt.metrics != nil {
		rt.metrics.RecordReview(serviceName, reviewOutcome(status, err))
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, insight)
}

func reviewOutcome(status domain.ReviewStatus, err error) string {
	switch {
	case err == nil:
		return string(status)
	case domain.IsKind(err, domain.ErrInvalidTransition):
		return "conflict"
	default:
		return "error"
	}
}

func (rt *Router) equityRiskContext(w http.ResponseWriter, r *http.Request) {
	project, ok := rt.ownedProject(w, r)
	if !ok {
		return
	}
	assembled, err := rt.services.EquityRisk.AssembleContext(r.Context(), project.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assembled)
}

type equityRiskRequest struct {
	PolicyText string `json:"policy_text"`
}

func (rt *Router) analyzeEquityRisk(w http.ResponseWriter, r *http.Request) {
	project, ok := rt.ownedProject(w, r)
	if !ok {
		return
	}
	var req equityRiskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	start := time.Now()
	report, err := rt.services.EquityRisk.Analyze(r.Context(), project.ID, req.PolicyText)
	if rt.metrics != nil {
		status, insights, layers := "success", 0, 0
		if err != nil {
			status = "error"
			if domain.IsKind(err, domain.ErrAnalysisUnavailable) {
				status = "unavailable"
			}
		} else {
			insights, layers = report.InsightsUsed, report.LayersUsed
		}
		rt.metrics.RecordAnalysis(serviceName, status, time.Since(start), insights, layers)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode request", fmt.Errorf("invalid json: %w", err)))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, errorResponse{
		Error:     publicMessage(status, err),
		RequestID: requestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
