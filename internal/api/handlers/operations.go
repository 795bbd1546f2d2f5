package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/yourusername/account-backup-manager/internal/manifest"
	"github.com/yourusername/account-backup-manager/internal/oplog"
	"github.com/yourusername/account-backup-manager/internal/websocket"
)

// OperationsHandler serves the audit trail, archive listings, and the
// live job-log websocket.
type OperationsHandler struct {
	oplog    oplog.Logger
	manifest *manifest.Store
	pruner   *manifest.Pruner
	hub      *websocket.Hub
}

// NewOperationsHandler creates a new operations handler
func NewOperationsHandler(opLogger oplog.Logger, store *manifest.Store, pruner *manifest.Pruner, hub *websocket.Hub) *OperationsHandler {
	return &OperationsHandler{oplog: opLogger, manifest: store, pruner: pruner, hub: hub}
}

// ListOperations returns a page of the operation audit trail. Root sees
// every user's operations; other users see only their own.
// GET /api/v1/operations
func (h *OperationsHandler) ListOperations(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
	filter := c.Query("filter")

	events, total, err := h.oplog.GetLogs(requestUser(c), isRoot(c), page, limit, filter)
	if err != nil {
		log.Printf("[API] Failed to query operation log: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query operations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"operations": events,
		"total":      total,
		"page":       page,
		"limit":      limit,
	})
}

// ListArchives returns the manifest entries for one account, newest
// first.
// GET /api/v1/accounts/:account/archives
func (h *OperationsHandler) ListArchives(c *gin.Context) {
	account := c.Param("account")
	scheduleID := c.DefaultQuery("schedule_id", manifest.ManualScheduleID)

	entries, err := h.manifest.ListForAccount(scheduleID, account)
	if err != nil {
		log.Printf("[API] Failed to list archives for %s: %v", account, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list archives"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": account, "archives": entries})
}

// PruneArchives runs a retention sweep immediately
// POST /api/v1/retention/prune
func (h *OperationsHandler) PruneArchives(c *gin.Context) {
	if err := h.pruner.PruneAll(); err != nil {
		log.Printf("[API] Retention sweep failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"pruned": true})
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS policy is enforced by the HTTP middleware in front
		return true
	},
}

// HandleJobLogWebSocket streams a job's log lines to the client as the
// job runs.
// GET /api/v1/ws/jobs/:jobId
func (h *OperationsHandler) HandleJobLogWebSocket(c *gin.Context) {
	jobID := c.Param("jobId")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[API] WebSocket upgrade failed: %v", err)
		return
	}

	client := &websocket.Client{
		ID:    uuid.New().String(),
		User:  requestUser(c),
		Conn:  conn,
		JobID: jobID,
		Send:  make(chan *websocket.Message, 256),
		Hub:   h.hub,
	}

	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}
