package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/account-backup-manager/internal/engine"
	"github.com/yourusername/account-backup-manager/internal/websocket"
)

// RestoreHandler handles restore job HTTP requests
type RestoreHandler struct {
	orchestrator *engine.RestoreOrchestrator
	runner       *engine.Runner
	hub          *websocket.Hub
	jobLogDir    string
}

// NewRestoreHandler creates a new restore handler
func NewRestoreHandler(orchestrator *engine.RestoreOrchestrator, runner *engine.Runner, hub *websocket.Hub, jobLogDir string) *RestoreHandler {
	return &RestoreHandler{
		orchestrator: orchestrator,
		runner:       runner,
		hub:          hub,
		jobLogDir:    jobLogDir,
	}
}

type restoreModulesRequest struct {
	Homedir    *bool `json:"homedir"`
	Mysql      *bool `json:"mysql"`
	Mail       *bool `json:"mail"`
	SSL        *bool `json:"ssl"`
	Cron       *bool `json:"cron"`
	DNS        *bool `json:"dns"`
	Subdomains *bool `json:"subdomains"`
}

// toModules applies the request on top of all-enabled defaults
func (r *restoreModulesRequest) toModules() engine.RestoreModules {
	modules := engine.AllRestoreModules()
	apply := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&modules.Homedir, r.Homedir)
	apply(&modules.Mysql, r.Mysql)
	apply(&modules.Mail, r.Mail)
	apply(&modules.SSL, r.SSL)
	apply(&modules.Cron, r.Cron)
	apply(&modules.DNS, r.DNS)
	apply(&modules.Subdomains, r.Subdomains)
	return modules
}

// CreateRestore enqueues a restore job
// POST /api/v1/restores
func (h *RestoreHandler) CreateRestore(c *gin.Context) {
	var req struct {
		ArchiveRef    string                `json:"archive_ref" binding:"required"`
		DestinationID string                `json:"destination_id" binding:"required"`
		Modules       restoreModulesRequest `json:"modules"`
		Force         bool                  `json:"force"`
		NewUser       string                `json:"new_user"`
		TargetIP      string                `json:"target_ip"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	restoreID := uuid.New().String()
	request := &engine.RestoreRequest{
		ArchiveRef:    req.ArchiveRef,
		DestinationID: req.DestinationID,
		Modules:       req.Modules.toModules(),
		Force:         req.Force,
		NewUser:       req.NewUser,
		TargetIP:      req.TargetIP,
		User:          requestUser(c),
		RestoreID:     restoreID,
		Requestor:     c.ClientIP(),
	}

	done := make(chan struct{})
	var result *engine.RestoreJobResult

	err := h.runner.Enqueue(restoreID, func(ctx context.Context) {
		defer close(done)
		result = h.orchestrator.Run(ctx, request)
	})
	if errors.Is(err, engine.ErrQueueFull) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job queue is full, try again later"})
		return
	}
	if err != nil {
		log.Printf("[API] Failed to enqueue restore job: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue job"})
		return
	}

	go tailJobLog(h.hub, h.jobLogDir, restoreID, done, func() interface{} { return result })

	c.JSON(http.StatusAccepted, gin.H{"restore_id": restoreID})
}
