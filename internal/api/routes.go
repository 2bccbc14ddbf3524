package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/migrator-io/migrator/internal/api/middleware"
	"github.com/migrator-io/migrator/internal/export"
	"github.com/migrator-io/migrator/internal/storage"
	"github.com/migrator-io/migrator/internal/task"
)

const (
	serviceName = "migrator"

	healthCheckTimeout = 2 * time.Second
)

type (
	// HealthStatus is the health probe response body.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"service_name"`
	}

	// ExportAccepted is the 202 response to an export submission.
	ExportAccepted struct {
		TaskID    string `json:"task_id"`
		DatasetID string `json:"dataset_id"`
	}

	// ExportStatus is the poll response for an export task.
	ExportStatus struct {
		TaskID string         `json:"task_id"`
		Status string         `json:"status"`
		Result *export.Result `json:"result,omitempty"`
		Error  string         `json:"error,omitempty"`
	}

	// ExceptionRecord is the wire form of an exception.
	ExceptionRecord struct {
		ID        int64          `json:"id"`
		DatasetID string         `json:"dataset_id"`
		Model     string         `json:"model"`
		RowPtr    string         `json:"row_ptr"`
		ErrorCode string         `json:"error_code"`
		Hint      string         `json:"hint"`
		Offending map[string]any `json:"offending"`
		CreatedAt time.Time      `json:"created_at"`
	}

	// ExceptionList is the exception query response.
	ExceptionList struct {
		DatasetID  string            `json:"dataset_id"`
		Model      string            `json:"model,omitempty"`
		Count      int               `json:"count"`
		Exceptions []ExceptionRecord `json:"exceptions"`
	}
)

// setupRoutes registers all HTTP routes. Health probes and metrics bypass
// authentication and rate limiting.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	public := map[string]http.Handler{
		"/ping":    http.HandlerFunc(s.handlePing),
		"/ready":   http.HandlerFunc(s.handleReady),
		"/health":  http.HandlerFunc(s.handleHealth),
		"/metrics": s.metrics.Handler(),
	}

	for path, handler := range public {
		mux.Handle("GET "+path, handler)
		middleware.RegisterPublicEndpoint(path)
	}

	mux.HandleFunc("POST /api/v1/datasets/{id}/export", s.handleSubmitExport)
	mux.HandleFunc("GET /api/v1/exports/{taskID}", s.handleExportStatus)
	mux.HandleFunc("GET /api/v1/datasets/{id}/exceptions", s.handleListExceptions)

	mux.HandleFunc("/", s.handleNotFound)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("exceptions store is not reachable"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, HealthStatus{Status: "ready", ServiceName: serviceName})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, HealthStatus{Status: "ok", ServiceName: serviceName})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("no such endpoint"))
}

// handleSubmitExport queues an export run on the task runner and returns
// 202 with the task ID. The HTTP request does not wait for the export.
func (s *Server) handleSubmitExport(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")
	if datasetID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("dataset id is required"))

		return
	}

	s.metrics.ExportsStarted.Inc()

	taskID, err := s.runner.Submit(func(ctx context.Context) (any, error) {
		result, err := s.exports.Export(ctx, datasetID)
		if err != nil {
			s.metrics.ExportsFailed.Inc()

			return nil, err
		}

		s.metrics.ExportsCompleted.Inc()
		s.metrics.RowsEmitted.Add(float64(result.TotalEmitted))

		for code, n := range result.ExceptionsByCode {
			s.metrics.Exceptions.WithLabelValues(code).Add(float64(n))
		}

		return result, nil
	}, "")
	if err != nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("task runner is not accepting work"))

		return
	}

	s.logger.Info("export submitted",
		slog.String("dataset_id", datasetID),
		slog.String("task_id", taskID),
	)

	s.writeJSON(w, r, http.StatusAccepted, ExportAccepted{TaskID: taskID, DatasetID: datasetID})
}

func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskID")

	status, err := s.runner.Status(taskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("unknown export task"))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError(err.Error()))

		return
	}

	response := ExportStatus{TaskID: taskID, Status: string(status)}

	switch status {
	case task.StatusCompleted:
		value, err := s.runner.Result(taskID, 0)
		if err == nil {
			if result, ok := value.(*export.Result); ok {
				response.Result = result
			}
		}
	case task.StatusFailed:
		if _, err := s.runner.Result(taskID, 0); err != nil {
			response.Error = err.Error()
		}
	case task.StatusPending, task.StatusRunning:
		// Nothing more to report until the task settles.
	}

	s.writeJSON(w, r, http.StatusOK, response)
}

func (s *Server) handleListExceptions(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")
	model := r.URL.Query().Get("model")

	records, err := s.store.List(r.Context(), datasetID, model)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to query exceptions"))

		return
	}

	response := ExceptionList{
		DatasetID:  datasetID,
		Model:      model,
		Count:      len(records),
		Exceptions: make([]ExceptionRecord, 0, len(records)),
	}

	for _, rec := range records {
		response.Exceptions = append(response.Exceptions, exceptionToWire(rec))
	}

	s.writeJSON(w, r, http.StatusOK, response)
}

func exceptionToWire(rec *storage.Record) ExceptionRecord {
	return ExceptionRecord{
		ID:        rec.ID,
		DatasetID: rec.DatasetID,
		Model:     rec.Model,
		RowPtr:    rec.RowPtr,
		ErrorCode: rec.ErrorCode,
		Hint:      rec.Hint,
		Offending: rec.Offending,
		CreatedAt: rec.CreatedAt,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
}
