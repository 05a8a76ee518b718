// Package api is the HTTP surface in front of the orchestration core. It
// owns auth gating, request parsing, and response shaping; all conversion
// semantics live below it.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/Lllllllleong/conversionflow/internal/artifact"
	"github.com/Lllllllleong/conversionflow/internal/auth"
	"github.com/Lllllllleong/conversionflow/internal/jobstore"
	"github.com/Lllllllleong/conversionflow/internal/models"
	"github.com/Lllllllleong/conversionflow/internal/notify"
	"github.com/Lllllllleong/conversionflow/internal/orchestrator"
	"github.com/Lllllllleong/conversionflow/internal/progress"
	"github.com/gorilla/websocket"
)

const maxUploadBytes = 100 << 20

type Server struct {
	orch     *orchestrator.Orchestrator
	repo     jobstore.Repository
	store    artifact.Store
	hub      *notify.Hub
	upgrader websocket.Upgrader
}

func NewServer(orch *orchestrator.Orchestrator, repo jobstore.Repository, store artifact.Store, hub *notify.Hub) *Server {
	return &Server{
		orch:  orch,
		repo:  repo,
		store: store,
		hub:   hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Routes mounts all handlers behind the auth middleware.
func (s *Server) Routes(verifier auth.TokenVerifier) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/convert", s.handleConvert)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /api/jobs/{id}/download", s.handleDownload)
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	return auth.Middleware(verifier, mux)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	ownerID, err := auth.FromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid multipart request"))
		return
	}

	kind := models.OperationKind(r.FormValue("operation"))
	params, err := parseParameters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var files []orchestrator.InputFile
	for _, header := range r.MultipartForm.File["files"] {
		f, err := header.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("unreadable upload: "+header.Filename))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("unreadable upload: "+header.Filename))
			return
		}
		files = append(files, orchestrator.InputFile{Name: header.Filename, Data: data})
	}

	result, err := s.orch.Submit(r.Context(), ownerID, kind, files, params)
	if err != nil {
		writeError(w, submitStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.submitResponse(result))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	ownerID, err := auth.FromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	jobs, err := s.repo.ListByOwner(r.Context(), ownerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("failed to list jobs"))
		return
	}
	views := make([]models.JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, jobView(job, time.Now()))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, jobView(job, time.Now()))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	if job.Status != models.StatusCompleted || job.OutputPath == "" {
		writeError(w, http.StatusConflict, errors.New("job has no output yet"))
		return
	}
	data, err := s.store.Get(r.Context(), job.OutputPath)
	if err != nil {
		writeError(w, http.StatusNotFound, errors.New("output artifact not found"))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment")
	_, _ = w.Write(data)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ownerID, err := auth.FromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed for owner %s: %v", ownerID, err)
		return
	}
	s.hub.Register(ownerID, conn)
	// Drain the read side so pings and closes are processed; the hub owns
	// all writes.
	go func() {
		defer s.hub.Unregister(ownerID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ownedJob loads the path's job and enforces that it belongs to the caller.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request) (models.ConversionJob, bool) {
	ownerID, err := auth.FromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return models.ConversionJob{}, false
	}
	job, err := s.repo.Get(r.Context(), r.PathValue("id"))
	if err != nil || job.OwnerID != ownerID {
		// A foreign job id is indistinguishable from a missing one.
		writeError(w, http.StatusNotFound, errors.New("job not found"))
		return models.ConversionJob{}, false
	}
	return job, true
}

func (s *Server) submitResponse(result *orchestrator.SubmitResult) models.SubmitResponse {
	resp := models.SubmitResponse{
		Succeeded:    result.Succeeded,
		Failed:       result.Failed,
		FirstFailure: result.FirstFailure,
	}
	for _, handle := range result.Jobs {
		view := models.JobView{ID: handle.JobID, Status: handle.Status, OutputPath: handle.OutputPath, Percent: 100}
		if handle.Err != nil {
			view.ErrorMessage = handle.Err.Error()
		}
		resp.Jobs = append(resp.Jobs, view)
	}
	return resp
}

func parseParameters(r *http.Request) (models.Parameters, error) {
	var params models.Parameters
	if v := r.FormValue("compressionLevel"); v != "" {
		level, err := strconv.Atoi(v)
		if err != nil {
			return params, &models.InvalidParametersError{Field: "compressionLevel", Reason: "must be an integer"}
		}
		params.CompressionLevel = level
	}
	params.SplitMode = r.FormValue("splitMode")
	params.SplitValue = r.FormValue("splitValue")
	return params, nil
}

func jobView(job models.ConversionJob, now time.Time) models.JobView {
	percent, label := progress.Estimate(job.Status, job.CreatedAt, now)
	view := models.JobView{
		ID:            job.ID,
		OperationKind: job.OperationKind,
		Status:        job.Status,
		OutputPath:    job.OutputPath,
		ErrorMessage:  job.ErrorMessage,
		Cost:          job.Cost,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
		Percent:       percent,
		ProgressLabel: label,
	}
	if job.CompletedAt != nil {
		view.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return view
}

func submitStatus(err error) int {
	var invalid *models.InvalidParametersError
	var allFailed *models.AllFailedError
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrUnsupportedOperation), errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &allFailed):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrCancelled):
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, models.ErrorResponse{Error: err.Error()})
}
