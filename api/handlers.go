package api

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"portsweep/scanner"
)

// Server bundles dependencies for HTTP handlers.
type Server struct {
	store TaskStore
}

// NewServer creates a new API server instance.
func NewServer(store TaskStore) *Server {
	return &Server{store: store}
}

// RegisterRoutes attaches handlers to the provided Gin router group. The
// create handlers run in front of scan submission only.
func (s *Server) RegisterRoutes(routes gin.IRoutes, create ...gin.HandlerFunc) {
	routes.POST("/scans", append(create, s.createScanHandler)...)
	routes.GET("/scans/:id", s.getScanHandler)
	routes.DELETE("/scans/:id", s.cancelScanHandler)
}

var uuidV4Pattern = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[1-5][a-fA-F0-9]{3}-[abAB89][a-fA-F0-9]{3}-[a-fA-F0-9]{12}$`)

// @Summary      Create a new port sweep
// @Description  Queue a TCP connect sweep of one host. The handler validates input, persists the task, and enqueues it for background workers before returning a UUID.
// @Description  Poll GET /scans/{id} to follow progress (pending → running → completed/failed/canceled).
// @Tags         Scans
// @Accept       json
// @Produce      json
// @Param        scanRequest  body      CreateScanRequest     true  "Scan request parameters"
// @Success      202          {object}  ScanAcceptedResponse  "Scan accepted"
// @Failure      400          {object}  ErrorResponse         "Malformed JSON body or failed validation"
// @Failure      401          {object}  ErrorResponse         "Missing or incorrect API key"
// @Failure      429          {object}  ErrorResponse         "Scan submission quota exceeded"
// @Failure      500          {object}  ErrorResponse         "Internal error while persisting or queueing the task"
// @Security     ApiKeyAuth
// @Router       /scans [post]
func (s *Server) createScanHandler(c *gin.Context) {
	var req CreateScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request payload: %v", err)})
		return
	}

	task, err := newTask(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := s.store.CreateTask(ctx, task); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to persist task"})
		return
	}

	if err := s.store.PushToQueue(ctx, task.ID); err != nil {
		task.Status = TaskFailed
		task.Error = "failed to queue task"
		now := time.Now().UTC()
		task.CompletedAt = &now
		_ = s.store.UpdateTask(ctx, task)

		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to queue task"})
		return
	}

	c.JSON(http.StatusAccepted, ScanAcceptedResponse{ID: task.ID, Status: task.Status})
}

func newTask(req CreateScanRequest) (*ScanTask, error) {
	host := strings.TrimSpace(req.Host)
	if host == "" {
		return nil, errors.New("host is required")
	}

	ports := scanner.FullRange
	if strings.TrimSpace(req.Ports) != "" {
		var err error
		if ports, err = scanner.ParsePortRange(req.Ports); err != nil {
			return nil, err
		}
	}

	timeoutMs := req.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = int(scanner.DefaultConnectTimeout / time.Millisecond)
	}
	workers := req.Workers
	if workers == 0 {
		workers = scanner.DefaultWorkers
	}

	taskID, err := generateUUID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate task id: %w", err)
	}

	return &ScanTask{
		ID:           taskID,
		Status:       TaskPending,
		Host:         host,
		Ports:        ports.String(),
		TimeoutMs:    timeoutMs,
		Workers:      workers,
		ReportErrors: req.ReportErrors,
		Progress:     Progress{Total: ports.Len()},
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// @Summary      Get sweep status and results
// @Description  Retrieve a live snapshot of a sweep. Results list every non-closed port found so far in ascending order; summary counts every status.
// @Tags         Scans
// @Produce      json
// @Param        id   path      string         true  "Scan Task ID (UUID v4)"
// @Success      200  {object}  ScanTask       "Current task snapshot"
// @Failure      400  {object}  ErrorResponse  "Malformed task identifier"
// @Failure      401  {object}  ErrorResponse  "Missing or incorrect API key"
// @Failure      404  {object}  ErrorResponse  "Task with the provided ID does not exist"
// @Failure      500  {object}  ErrorResponse  "Internal error when loading the task"
// @Security     ApiKeyAuth
// @Router       /scans/{id} [get]
func (s *Server) getScanHandler(c *gin.Context) {
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, task)
}

// @Summary      Cancel a sweep
// @Description  Ask the worker owning the sweep to stop. Outcomes gathered so far are kept and the task ends as canceled.
// @Tags         Scans
// @Produce      json
// @Param        id   path      string                true  "Scan Task ID (UUID v4)"
// @Success      202  {object}  ScanAcceptedResponse  "Cancellation requested"
// @Failure      400  {object}  ErrorResponse         "Malformed task identifier"
// @Failure      404  {object}  ErrorResponse         "Task with the provided ID does not exist"
// @Failure      409  {object}  ErrorResponse         "Task already finished"
// @Security     ApiKeyAuth
// @Router       /scans/{id} [delete]
func (s *Server) cancelScanHandler(c *gin.Context) {
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	if task.Terminal() {
		c.JSON(http.StatusConflict, ErrorResponse{Error: fmt.Sprintf("task already %s", task.Status)})
		return
	}
	if err := s.store.RequestCancel(c.Request.Context(), task.ID); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to cancel task"})
		return
	}
	c.JSON(http.StatusAccepted, ScanAcceptedResponse{ID: task.ID, Status: "canceling"})
}

func (s *Server) loadTask(c *gin.Context) (*ScanTask, bool) {
	id := c.Param("id")
	if !uuidV4Pattern.MatchString(id) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid task id format"})
		return nil, false
	}
	task, err := s.store.GetTask(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load task"})
		return nil, false
	}
	return task, true
}
