package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/account-backup-manager/internal/engine"
	"github.com/yourusername/account-backup-manager/internal/joblog"
	"github.com/yourusername/account-backup-manager/internal/websocket"
)

// BackupHandler handles backup job HTTP requests
type BackupHandler struct {
	orchestrator *engine.BackupOrchestrator
	runner       *engine.Runner
	cancels      engine.Canceller
	hub          *websocket.Hub
	jobLogDir    string
}

// NewBackupHandler creates a new backup handler
func NewBackupHandler(orchestrator *engine.BackupOrchestrator, runner *engine.Runner, cancels engine.Canceller, hub *websocket.Hub, jobLogDir string) *BackupHandler {
	return &BackupHandler{
		orchestrator: orchestrator,
		runner:       runner,
		cancels:      cancels,
		hub:          hub,
		jobLogDir:    jobLogDir,
	}
}

// CreateBackup enqueues a backup job
// POST /api/v1/backups
func (h *BackupHandler) CreateBackup(c *gin.Context) {
	var req struct {
		Accounts      []string `json:"accounts" binding:"required,min=1"`
		DestinationID string   `json:"destination_id" binding:"required"`
		ScheduleID    string   `json:"schedule_id"`
		Retention     int      `json:"retention"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID := uuid.New().String()
	request := &engine.BackupRequest{
		Accounts:      req.Accounts,
		DestinationID: req.DestinationID,
		User:          requestUser(c),
		JobID:         jobID,
		ScheduleID:    req.ScheduleID,
		Retention:     req.Retention,
		Requestor:     c.ClientIP(),
	}

	done := make(chan struct{})
	var result *engine.BackupJobResult

	err := h.runner.Enqueue(jobID, func(ctx context.Context) {
		defer close(done)
		result = h.orchestrator.Run(ctx, request)
	})
	if errors.Is(err, engine.ErrQueueFull) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job queue is full, try again later"})
		return
	}
	if err != nil {
		log.Printf("[API] Failed to enqueue backup job: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue job"})
		return
	}

	go tailJobLog(h.hub, h.jobLogDir, jobID, done, func() interface{} { return result })

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":   jobID,
		"accounts": req.Accounts,
	})
}

// CancelBackup flags a running backup job for cancellation. The flag
// is honored at the next account boundary; a running archive is never
// killed mid-flight.
// POST /api/v1/backups/:jobId/cancel
func (h *BackupHandler) CancelBackup(c *gin.Context) {
	jobID := c.Param("jobId")

	if err := h.cancels.Request(jobID); err != nil {
		log.Printf("[API] Failed to record cancellation for %s: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record cancellation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "cancellation_requested": true})
}

// GetJobLog returns all lines currently in a job's log
// GET /api/v1/jobs/:jobId/log
func (h *BackupHandler) GetJobLog(c *gin.Context) {
	jobID := c.Param("jobId")

	lines, err := joblog.Read(h.jobLogDir, jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job log not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "lines": lines})
}

// GetQueueStatus reports the running job and queued job ids
// GET /api/v1/jobs/queue
func (h *BackupHandler) GetQueueStatus(c *gin.Context) {
	current, pending := h.runner.Status()
	c.JSON(http.StatusOK, gin.H{"running": current, "pending": pending})
}
