package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/account-backup-manager/internal/joblog"
	"github.com/yourusername/account-backup-manager/internal/websocket"
)

// requestUser resolves the acting user for a request. The panel in
// front of this service terminates authentication and forwards the
// account name; absent the header, operations run as root.
func requestUser(c *gin.Context) string {
	if user := c.GetHeader("X-Remote-User"); user != "" {
		return user
	}
	return "root"
}

func isRoot(c *gin.Context) bool {
	return requestUser(c) == "root"
}

// tailJobLog polls a job's log file and pushes newly appended lines to
// the job's websocket viewers until done is closed, then sends a final
// status frame.
func tailJobLog(hub *websocket.Hub, jobLogDir, jobID string, done <-chan struct{}, finalStatus func() interface{}) {
	sent := 0
	flush := func() {
		lines, err := joblog.Read(jobLogDir, jobID)
		if err != nil {
			return
		}
		for ; sent < len(lines); sent++ {
			hub.BroadcastLogLine(jobID, lines[sent])
		}
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			flush()
		case <-done:
			flush()
			hub.BroadcastJobStatus(jobID, finalStatus())
			return
		}
	}
}
